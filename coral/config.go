// Additional MCP servers configuration file support.
//
// Uses the Anthropic-style format. Servers with a url are reached over SSE;
// the rest are started as subprocesses:
//
//	{
//	  "mcpServers": {
//	    "search": {
//	      "command": "npx",
//	      "args": ["-y", "@modelcontextprotocol/server-brave-search"],
//	      "env": {"BRAVE_API_KEY": "..."}
//	    },
//	    "notes": {"url": "http://localhost:7000/sse"}
//	  }
//	}
package coral

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Config represents the MCP configuration file format.
type Config struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// ServerConfig represents a single MCP server configuration.
type ServerConfig struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
}

// LoadConfig loads MCP configuration from a JSON file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read MCP config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse MCP config file: %w", err)
	}
	for name, server := range config.MCPServers {
		if server.Command == "" && server.URL == "" {
			return nil, fmt.Errorf("MCP server '%s' needs a command or a url", name)
		}
	}

	return &config, nil
}

// Names returns the configured server names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.MCPServers))
	for name := range c.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConnectAll adds a session for every configured server. Already opened
// sessions stay attached when a later one fails.
func (c *Client) ConnectAll(ctx context.Context, cfg *Config, opts Options) error {
	if cfg == nil {
		return nil
	}
	for _, name := range cfg.Names() {
		server := cfg.MCPServers[name]
		var err error
		if server.URL != "" {
			err = c.ConnectSSE(ctx, server.URL, opts)
		} else {
			err = c.ConnectCommand(ctx, name, server.Command, server.Args, server.Env)
		}
		if err != nil {
			return fmt.Errorf("MCP server '%s': %w", name, err)
		}
	}
	return nil
}
