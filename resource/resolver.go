// Package resource materializes <resource>URL</resource> references inside
// prompt templates.
//
// Information Hiding:
// - Tag syntax and URL grammar hidden
// - Per-refresh de-duplication of fetches hidden
// - Failure-to-marker conversion hidden
package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Error kinds a Fetcher reports. Implementations wrap them with %w.
var (
	ErrInvalidURL = errors.New("invalid resource URL")
	ErrNotFound   = errors.New("resource provider not found")
	ErrEmpty      = errors.New("empty resource")
	ErrTransport  = errors.New("resource transport failure")
)

// Fetcher retrieves the text body of a resource URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) (string, error)

// Fetch calls f(ctx, url).
func (f FetcherFunc) Fetch(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

var (
	tagPattern = regexp.MustCompile(`<resource>([A-Za-z][A-Za-z0-9+.\-]*://[^<]+)</resource>`)
	urlPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9+.\-]*)://([^/]+)/(.+)$`)
)

// URL is a parsed scheme://provider/path reference.
type URL struct {
	Scheme   string
	Provider string
	Path     string
}

// String reassembles the reference.
func (u URL) String() string {
	return u.Scheme + "://" + u.Provider + "/" + u.Path
}

// ParseURL splits a scheme://provider/path reference.
func ParseURL(raw string) (URL, error) {
	m := urlPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return URL{}, fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	return URL{Scheme: m[1], Provider: m[2], Path: m[3]}, nil
}

// Extract returns the distinct resource URLs referenced in template, in order
// of first appearance.
func Extract(template string) []string {
	matches := tagPattern.FindAllStringSubmatch(template, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		urls = append(urls, m[1])
	}
	return urls
}

// Resolver replaces resource tags with fetched content.
type Resolver struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewResolver creates a resolver. A nil fetcher is allowed; every reference
// then resolves to an error marker.
func NewResolver(fetcher Fetcher) *Resolver {
	return &Resolver{fetcher: fetcher, logger: slog.Default()}
}

// WithLogger sets the logger used for fetch failures.
func (r *Resolver) WithLogger(logger *slog.Logger) *Resolver {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Resolve returns template with every <resource>URL</resource> replaced by a
// <resource_content> block. Each distinct URL is fetched at most once per
// call. Failures are rendered inline and never returned.
func (r *Resolver) Resolve(ctx context.Context, template string) string {
	urls := Extract(template)
	if len(urls) == 0 {
		return template
	}

	bodies := make(map[string]string, len(urls))
	for _, url := range urls {
		bodies[url] = r.fetch(ctx, url)
	}

	return tagPattern.ReplaceAllStringFunc(template, func(tag string) string {
		url := tagPattern.FindStringSubmatch(tag)[1]
		return fmt.Sprintf("<resource_content url=\"%s\">\n%s\n</resource_content>", url, bodies[url])
	})
}

func (r *Resolver) fetch(ctx context.Context, url string) string {
	if _, err := ParseURL(url); err != nil {
		return r.marker(ctx, url, err)
	}
	if r.fetcher == nil {
		return r.marker(ctx, url, errors.New("no resource fetcher configured"))
	}
	body, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		return r.marker(ctx, url, err)
	}
	if body == "" {
		return r.marker(ctx, url, ErrEmpty)
	}
	return body
}

func (r *Resolver) marker(ctx context.Context, url string, err error) string {
	r.logger.WarnContext(ctx, "resource fetch failed", "url", url, "error", err)
	return Marker(url, err)
}

// Marker renders the inline placeholder used in place of a failed fetch.
func Marker(url string, err error) string {
	return fmt.Sprintf("[Error fetching %s: %v]", url, err)
}
