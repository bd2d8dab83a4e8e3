// Document discovery and search tools for the document-processing role.
//
// Information Hiding:
// - Directory walking and pattern matching hidden
// - ripgrep invocation and exit code handling hidden
// - Result limits hidden

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultSearchResults is the number of files or lines returned when the
	// model gives no limit.
	DefaultSearchResults = 100
	// MaxSearchResults caps any requested limit.
	MaxSearchResults = 1000
)

// FindFilesTool lists documents matching a glob pattern without reading them.
type FindFilesTool struct {
	BaseTool
	maxResults int
}

// NewFindFilesTool creates the tool. maxResults <= 0 means MaxSearchResults.
func NewFindFilesTool(maxResults int) *FindFilesTool {
	if maxResults <= 0 || maxResults > MaxSearchResults {
		maxResults = MaxSearchResults
	}
	return &FindFilesTool{maxResults: maxResults}
}

// Metadata returns the tool metadata.
func (t *FindFilesTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "find_files",
		Description: "List files matching a glob pattern such as '**/*.pdf' or 'reports/*.csv'. Hidden directories are skipped. Use read_document to load a match.",
		Parameters: []ToolParameter{
			{Name: "pattern", ParamType: "string", Description: "Glob pattern, ** matches any depth", Required: true},
			{Name: "path", ParamType: "string", Description: "Directory to search from (default: current directory)", Required: false},
			{Name: "max_results", ParamType: "integer", Description: fmt.Sprintf("Maximum files to return (default: %d)", DefaultSearchResults), Required: false},
		},
	}
}

type findFilesArgs struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path"`
	MaxResults int    `json:"max_results"`
}

// Validate validates the tool arguments.
func (t *FindFilesTool) Validate(args json.RawMessage) error {
	var a findFilesArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(a.Pattern) == "" {
		return fmt.Errorf("pattern is required")
	}
	if _, err := filepath.Match(strings.ReplaceAll(a.Pattern, "**", "*"), ""); err != nil {
		return fmt.Errorf("invalid glob pattern: %w", err)
	}
	return nil
}

// Execute walks the base directory and collects matching files.
func (t *FindFilesTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a findFilesArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}
	base := a.Path
	if base == "" {
		base = "."
	}
	limit := clampLimit(a.MaxResults, t.maxResults)

	info, err := os.Stat(base)
	if err != nil {
		return FailureResultf("path not found: %s", base), nil
	}
	if !info.IsDir() {
		return FailureResultf("path is not a directory: %s", base), nil
	}

	pattern := filepath.ToSlash(strings.TrimPrefix(a.Pattern, "./"))
	var matches []string
	walkErr := filepath.WalkDir(base, func(path string, entry fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			if path != base && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}
		if MatchGlob(pattern, filepath.ToSlash(rel)) {
			matches = append(matches, rel)
			if len(matches) >= limit {
				return filepath.SkipAll
			}
		}
		return nil
	})
	if walkErr != nil {
		return FailureResult(fmt.Errorf("search interrupted: %w", walkErr)), nil
	}

	sort.Strings(matches)
	if len(matches) == 0 {
		return SuccessResult(fmt.Sprintf("No files match '%s' in %s", a.Pattern, base)), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d files matching '%s':\n", len(matches), a.Pattern)
	for _, m := range matches {
		b.WriteString(m)
		b.WriteByte('\n')
	}
	if len(matches) >= limit {
		fmt.Fprintf(&b, "(limited to %d results)\n", limit)
	}
	return SuccessResult(b.String()), nil
}

// MatchGlob reports whether a slash-separated relative path matches pattern.
// A "**" segment matches zero or more directories.
func MatchGlob(pattern, path string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(path, "/"))
}

func matchSegments(pat, parts []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			rest := pat[1:]
			for i := 0; i <= len(parts); i++ {
				if matchSegments(rest, parts[i:]) {
					return true
				}
			}
			return false
		}
		if len(parts) == 0 {
			return false
		}
		ok, err := filepath.Match(pat[0], parts[0])
		if err != nil || !ok {
			return false
		}
		pat, parts = pat[1:], parts[1:]
	}
	return len(parts) == 0
}

// SearchDocumentsTool searches document text with ripgrep.
type SearchDocumentsTool struct {
	BaseTool
	timeoutSecs uint64
	maxResults  int
	binary      string
}

// NewSearchDocumentsTool creates the tool with the given timeout.
func NewSearchDocumentsTool(timeoutSecs uint64) *SearchDocumentsTool {
	return &SearchDocumentsTool{
		timeoutSecs: timeoutSecs,
		maxResults:  DefaultSearchResults,
		binary:      "rg",
	}
}

// WithBinary overrides the ripgrep executable.
func (t *SearchDocumentsTool) WithBinary(path string) *SearchDocumentsTool {
	t.binary = path
	return t
}

// Metadata returns the tool metadata.
func (t *SearchDocumentsTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "search_documents",
		Description: "Search text documents for a regular expression and return matching lines with file names and line numbers",
		Parameters: []ToolParameter{
			{Name: "pattern", ParamType: "string", Description: "Regular expression, or a literal when fixed_strings is set", Required: true},
			{Name: "path", ParamType: "string", Description: "File or directory to search (default: current directory)", Required: false},
			{Name: "glob", ParamType: "string", Description: "Only search files matching this glob, e.g. '*.md'", Required: false},
			{Name: "ignore_case", ParamType: "boolean", Description: "Case insensitive search", Required: false},
			{Name: "fixed_strings", ParamType: "boolean", Description: "Treat the pattern as a literal string", Required: false},
			{Name: "context", ParamType: "integer", Description: "Lines of context around each match", Required: false},
			{Name: "max_results", ParamType: "integer", Description: "Maximum matching lines per file", Required: false},
		},
	}
}

type searchDocumentsArgs struct {
	Pattern      string `json:"pattern"`
	Path         string `json:"path"`
	Glob         string `json:"glob"`
	IgnoreCase   bool   `json:"ignore_case"`
	FixedStrings bool   `json:"fixed_strings"`
	Context      int    `json:"context"`
	MaxResults   int    `json:"max_results"`
}

// Validate validates the tool arguments.
func (t *SearchDocumentsTool) Validate(args json.RawMessage) error {
	var a searchDocumentsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(a.Pattern) == "" {
		return fmt.Errorf("pattern cannot be empty")
	}
	if a.Context < 0 {
		return fmt.Errorf("context cannot be negative")
	}
	return nil
}

// command builds the ripgrep argument list.
func (t *SearchDocumentsTool) command(a searchDocumentsArgs) []string {
	argv := []string{"--no-messages", "--color=never", "--line-number", "--with-filename"}
	argv = append(argv, "--max-count", strconv.Itoa(clampLimit(a.MaxResults, t.maxResults)))
	if a.IgnoreCase {
		argv = append(argv, "-i")
	}
	if a.FixedStrings {
		argv = append(argv, "-F")
	}
	if a.Context > 0 {
		argv = append(argv, "-C", strconv.Itoa(a.Context))
	}
	if g := strings.TrimSpace(a.Glob); g != "" {
		argv = append(argv, "-g", g)
	}
	path := a.Path
	if path == "" {
		path = "."
	}
	return append(argv, "--", a.Pattern, path)
}

// Execute runs ripgrep. No matches is a successful, explicit result.
func (t *SearchDocumentsTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a searchDocumentsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(t.timeoutSecs)*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, t.binary, t.command(a)...).CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return FailureResultf("search timed out after %d seconds", t.timeoutSecs), nil
	}

	text := string(output)
	if len(text) > maxCodeOutput {
		text = text[:maxCodeOutput] + "\n[output truncated]"
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.ExitCode() == 1 {
				return SuccessResult(fmt.Sprintf("No matches for '%s'", a.Pattern)), nil
			}
			return FailureResultf("search exited with code %d\noutput: %s", exitErr.ExitCode(), text), nil
		}
		return FailureResult(fmt.Errorf("failed to run search: %w", err)), nil
	}
	return SuccessResult(text), nil
}

func clampLimit(requested, max int) int {
	if requested <= 0 {
		requested = DefaultSearchResults
	}
	if requested > max {
		requested = max
	}
	return requested
}

// Verify search tools implement Tool
var (
	_ Tool = (*FindFilesTool)(nil)
	_ Tool = (*SearchDocumentsTool)(nil)
)
