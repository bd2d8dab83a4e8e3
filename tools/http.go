// Web fetch tool for the web-browsing role.
//
// Information Hiding:
// - HTTP client implementation details hidden
// - Markup stripping and truncation hidden
// - Domain allowlist enforcement hidden

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// DefaultMaxFetchBytes bounds the text returned by fetch_url.
const DefaultMaxFetchBytes = 20000

var (
	scriptPattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	markupPattern = regexp.MustCompile(`(?s)<[^>]+>`)
	spacePattern  = regexp.MustCompile(`[ \t]*\n[\s]*`)
)

// FetchURLTool retrieves a web page and returns its readable text.
type FetchURLTool struct {
	BaseTool
	client         *http.Client
	timeoutSecs    uint64
	maxBytes       int
	allowedDomains []string
}

// NewFetchURLTool creates a new fetch tool with the given timeout.
func NewFetchURLTool(timeoutSecs uint64) *FetchURLTool {
	return &FetchURLTool{
		client: &http.Client{
			Timeout: time.Duration(timeoutSecs) * time.Second,
		},
		timeoutSecs: timeoutSecs,
		maxBytes:    DefaultMaxFetchBytes,
	}
}

// WithAllowedDomains sets the allowed domains for requests.
func (t *FetchURLTool) WithAllowedDomains(domains []string) *FetchURLTool {
	t.allowedDomains = domains
	return t
}

// WithMaxBytes bounds the returned text.
func (t *FetchURLTool) WithMaxBytes(n int) *FetchURLTool {
	if n > 0 {
		t.maxBytes = n
	}
	return t
}

// Metadata returns the tool metadata.
func (t *FetchURLTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "fetch_url",
		Description: "Fetch a web page over HTTP GET and return its text content with markup removed",
		Parameters: []ToolParameter{
			{Name: "url", ParamType: "string", Description: "The http or https URL to fetch", Required: true},
			{Name: "raw", ParamType: "boolean", Description: "Return the body without stripping markup", Required: false},
		},
	}
}

type fetchArgs struct {
	URL string `json:"url"`
	Raw bool   `json:"raw"`
}

// Validate validates the arguments.
func (t *FetchURLTool) Validate(args json.RawMessage) error {
	var a fetchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if a.URL == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	return nil
}

// Execute fetches the page.
func (t *FetchURLTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a fetchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}

	u, err := url.Parse(a.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return FailureResultf("validation failed: '%s' is not an http(s) URL", a.URL), nil
	}
	if !t.isDomainAllowed(u) {
		return FailureResultf("access to domain in '%s' is not allowed", a.URL), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to create request: %w", err)), nil
	}
	req.Header.Set("User-Agent", "anemoi-web-agent/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return FailureResultf("request timed out after %d seconds", t.timeoutSecs), nil
		}
		return FailureResult(fmt.Errorf("request failed: %w", err)), nil
	}
	defer resp.Body.Close()

	// Read a little beyond the limit so truncation can be reported.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxBytes)*4))
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read response body: %w", err)), nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return FailureResultf("HTTP error: %s", resp.Status), nil
	}

	text := string(body)
	if !a.Raw && strings.Contains(resp.Header.Get("Content-Type"), "html") {
		text = htmlToText(text)
	}
	if len(text) > t.maxBytes {
		text = text[:t.maxBytes] + "\n[truncated]"
	}

	return SuccessResult(text), nil
}

// htmlToText drops scripts, styles and tags and collapses blank lines.
func htmlToText(html string) string {
	text := scriptPattern.ReplaceAllString(html, "")
	text = markupPattern.ReplaceAllString(text, " ")
	text = spacePattern.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}

// isDomainAllowed checks if the URL's domain is in the allowlist.
func (t *FetchURLTool) isDomainAllowed(u *url.URL) bool {
	if len(t.allowedDomains) == 0 {
		return true
	}

	host := u.Hostname()
	for _, domain := range t.allowedDomains {
		// Exact match or subdomain match
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// Verify FetchURLTool implements Tool
var _ Tool = (*FetchURLTool)(nil)
