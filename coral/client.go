// Package coral connects agents to Coral coordination servers over the
// Model Context Protocol. A Client exposes the servers' tools as agent tools
// and serves coral:// resource reads for prompt refreshes.
//
// Information Hiding:
// - MCP transport and session lifecycle hidden
// - Routing of resource URLs to server sessions hidden
// - Tool pagination hidden

package coral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/richinex/anemoi/internal/dsa"
	"github.com/richinex/anemoi/resource"
	"github.com/richinex/anemoi/tools"
)

// DefaultTimeout bounds connection setup and individual requests.
const DefaultTimeout = 300 * time.Second

// clientVersion is reported to servers during the MCP handshake.
const clientVersion = "0.1.0"

// Session is the part of an MCP client session the Client uses.
// *mcpsdk.ClientSession satisfies it.
type Session interface {
	ListTools(ctx context.Context, params *mcpsdk.ListToolsParams) (*mcpsdk.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
	ReadResource(ctx context.Context, params *mcpsdk.ReadResourceParams) (*mcpsdk.ReadResourceResult, error)
	Close() error
}

// Options configures a connection.
type Options struct {
	// AgentID identifies the agent to the Coral server.
	AgentID string
	// AgentDescription is advertised to the other agents.
	AgentDescription string
	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
	// HTTPClient overrides the SSE HTTP client.
	HTTPClient *http.Client
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

// ConnectionURL adds the agentId and agentDescription query parameters that
// Coral uses to register an agent.
func ConnectionURL(base, agentID, description string) (string, error) {
	if base == "" {
		return "", errors.New("coral: connection URL is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("coral: invalid connection URL: %w", err)
	}
	q := u.Query()
	if agentID != "" {
		q.Set("agentId", agentID)
	}
	if description != "" {
		q.Set("agentDescription", description)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type server struct {
	key     string
	session Session
	timeout time.Duration
}

// Client multiplexes one or more MCP server sessions.
// Safe for concurrent use.
type Client struct {
	mu      sync.RWMutex
	servers *dsa.Trie[*server]
	logger  *slog.Logger
}

// NewClient creates a client with no sessions.
func NewClient() *Client {
	return &Client{
		servers: dsa.NewTrie[*server](),
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// Connect opens an SSE session to a Coral server. The agent is registered
// under opts.AgentID through the connection URL's query parameters.
func Connect(ctx context.Context, baseURL string, opts Options) (*Client, error) {
	c := NewClient()
	if err := c.ConnectSSE(ctx, baseURL, opts); err != nil {
		return nil, err
	}
	return c, nil
}

// ConnectSSE adds an SSE session to the client.
func (c *Client) ConnectSSE(ctx context.Context, baseURL string, opts Options) error {
	endpoint, err := ConnectionURL(baseURL, opts.AgentID, opts.AgentDescription)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: clientName(opts.AgentID), Version: clientVersion}, nil)
	transport := mcpsdk.NewSSEClientTransport(endpoint, &mcpsdk.SSEClientTransportOptions{HTTPClient: opts.HTTPClient})
	session, err := client.Connect(ctx, transport)
	if err != nil {
		return fmt.Errorf("coral: connect to %s: %w", baseURL, err)
	}

	c.Attach(endpoint, session, opts.timeout())
	c.logger.InfoContext(ctx, "connected to coral server", "url", baseURL, "agent_id", opts.AgentID)
	return nil
}

// ConnectCommand adds a session to an MCP server started as a subprocess.
// Its resources are reachable as "<scheme>://<name>/...".
func (c *Client) ConnectCommand(ctx context.Context, name string, command string, args []string, env map[string]string) error {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: clientName(name), Version: clientVersion}, nil)
	session, err := client.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		return fmt.Errorf("coral: start MCP server %s: %w", name, err)
	}

	c.Attach("stdio://"+name, session, DefaultTimeout)
	c.logger.InfoContext(ctx, "connected to MCP server", "server", name, "command", command)
	return nil
}

// Attach registers an established session under key. Resource URLs whose
// provider is a prefix of key's host are routed to it. Attaching an existing
// key replaces (and closes) the previous session.
func (c *Client) Attach(key string, session Session, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c.mu.Lock()
	prev, ok := c.servers.Search(key)
	c.servers.Insert(key, &server{key: key, session: session, timeout: timeout})
	c.mu.Unlock()

	if ok && prev.session != session {
		_ = prev.session.Close() // replaced
	}
}

// Len returns the number of attached sessions.
func (c *Client) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.servers.Size()
}

// Fetch reads a resource URL of the form scheme://provider/path from the
// server whose URL starts with http://provider. It implements
// resource.Fetcher.
func (c *Client) Fetch(ctx context.Context, raw string) (string, error) {
	u, err := resource.ParseURL(raw)
	if err != nil {
		return "", err
	}

	srv, ok := c.route(u.Provider)
	if !ok {
		return "", fmt.Errorf("%w: server '%s'", resource.ErrNotFound, u.Provider)
	}

	ctx, cancel := context.WithTimeout(ctx, srv.timeout)
	defer cancel()

	result, err := srv.session.ReadResource(ctx, &mcpsdk.ReadResourceParams{URI: u.String()})
	if err != nil {
		return "", fmt.Errorf("%w: %w", resource.ErrTransport, err)
	}
	if result == nil || len(result.Contents) == 0 || result.Contents[0] == nil || result.Contents[0].Text == "" {
		return "", resource.ErrEmpty
	}
	return result.Contents[0].Text, nil
}

// route finds the session for a resource provider. A provider matches a
// server URL when the URL starts with http://provider followed by a port,
// path, query or nothing; stdio servers match by name.
func (c *Client) route(provider string) (*server, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, scheme := range []string{"http://", "https://", "stdio://"} {
		prefix := scheme + provider
		if srv, ok := c.servers.Search(prefix); ok {
			return srv, true
		}
		for _, sep := range []string{"/", ":", "?"} {
			if _, srv, ok := c.servers.FirstWithPrefix(prefix + sep); ok {
				return srv, true
			}
		}
	}
	return nil, false
}

// Tools lists the tools of every attached session as agent tools. Tool
// names must be unique across sessions.
func (c *Client) Tools(ctx context.Context) ([]tools.Tool, error) {
	c.mu.RLock()
	var servers []*server
	c.servers.ForEach(func(_ string, srv *server) { servers = append(servers, srv) })
	c.mu.RUnlock()

	var out []tools.Tool
	seen := make(map[string]string)
	for _, srv := range servers {
		discovered, err := listTools(ctx, srv)
		if err != nil {
			return nil, err
		}
		for _, t := range discovered {
			name := t.Metadata().Name
			if other, dup := seen[name]; dup {
				return nil, fmt.Errorf("coral: tool '%s' offered by both %s and %s", name, other, srv.key)
			}
			seen[name] = srv.key
			out = append(out, t)
		}
	}
	return out, nil
}

func listTools(ctx context.Context, srv *server) ([]tools.Tool, error) {
	var out []tools.Tool
	params := &mcpsdk.ListToolsParams{}
	for {
		listCtx, cancel := context.WithTimeout(ctx, srv.timeout)
		page, err := srv.session.ListTools(listCtx, params)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("coral: list tools from %s: %w", srv.key, err)
		}
		for _, info := range page.Tools {
			out = append(out, newRemoteTool(srv, info))
		}
		if page.NextCursor == "" {
			return out, nil
		}
		params = &mcpsdk.ListToolsParams{Cursor: page.NextCursor}
	}
}

// Close closes every session.
func (c *Client) Close() error {
	c.mu.Lock()
	var servers []*server
	c.servers.ForEach(func(_ string, srv *server) { servers = append(servers, srv) })
	c.servers = dsa.NewTrie[*server]()
	c.mu.Unlock()

	var errs []error
	for _, srv := range servers {
		if err := srv.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", srv.key, err))
		}
	}
	return errors.Join(errs...)
}

func clientName(agentID string) string {
	if agentID == "" {
		return "anemoi"
	}
	return "anemoi-" + agentID
}

// Verify Client implements resource.Fetcher
var _ resource.Fetcher = (*Client)(nil)
