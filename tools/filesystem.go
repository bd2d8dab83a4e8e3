// Document reading tool for the document-processing role.
//
// Information Hiding:
// - File I/O implementation details hidden
// - Path validation and security checks hidden
// - Line windowing hidden

package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// DefaultDocumentLines is the number of lines returned when no limit is given.
const DefaultDocumentLines = 400

// ReadDocumentTool reads a window of lines from a text document.
type ReadDocumentTool struct {
	BaseTool
	allowedPaths []string
	maxSizeBytes int64
}

// NewReadDocumentTool creates a new document tool.
func NewReadDocumentTool(maxSizeBytes int64) *ReadDocumentTool {
	return &ReadDocumentTool{
		maxSizeBytes: maxSizeBytes,
	}
}

// WithAllowedPaths sets the allowed path prefixes.
func (t *ReadDocumentTool) WithAllowedPaths(paths []string) *ReadDocumentTool {
	t.allowedPaths = paths
	return t
}

// Metadata returns the tool metadata.
func (t *ReadDocumentTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "read_document",
		Description: "Read a text document (txt, md, csv, json, xml, html) from disk, optionally a range of lines",
		Parameters: []ToolParameter{
			{Name: "path", ParamType: "string", Description: "Path to the document", Required: true},
			{Name: "offset", ParamType: "integer", Description: "First line to return (1-based)", Required: false},
			{Name: "limit", ParamType: "integer", Description: "Maximum number of lines to return", Required: false},
		},
	}
}

type readDocumentArgs struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

// Validate validates the arguments.
func (t *ReadDocumentTool) Validate(args json.RawMessage) error {
	var a readDocumentArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if a.Offset < 0 || a.Limit < 0 {
		return fmt.Errorf("offset and limit must not be negative")
	}
	return nil
}

// Execute reads the requested lines.
func (t *ReadDocumentTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a readDocumentArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}

	if !pathAllowed(a.Path, t.allowedPaths) {
		return FailureResultf("access to path '%s' is not allowed", a.Path), nil
	}

	info, err := os.Stat(a.Path)
	if os.IsNotExist(err) {
		return FailureResultf("file not found: %s", a.Path), nil
	}
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read file metadata: %w", err)), nil
	}
	if info.IsDir() {
		return FailureResultf("validation failed: '%s' is a directory", a.Path), nil
	}
	if info.Size() > t.maxSizeBytes {
		return FailureResultf("file too large: %d bytes (max: %d bytes)", info.Size(), t.maxSizeBytes), nil
	}

	f, err := os.Open(a.Path)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to open file: %w", err)), nil
	}
	defer f.Close()

	offset := a.Offset
	if offset == 0 {
		offset = 1
	}
	limit := a.Limit
	if limit == 0 {
		limit = DefaultDocumentLines
	}

	var out strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), int(t.maxSizeBytes)+1)
	line, returned := 0, 0
	for scanner.Scan() {
		line++
		if line < offset {
			continue
		}
		if returned == limit {
			fmt.Fprintf(&out, "[more lines follow; continue with offset %d]\n", line)
			break
		}
		fmt.Fprintf(&out, "%6d\t%s\n", line, scanner.Text())
		returned++
	}
	if err := scanner.Err(); err != nil {
		return FailureResult(fmt.Errorf("failed to read file: %w", err)), nil
	}
	if returned == 0 {
		return FailureResultf("document is empty or offset %d is past its %d lines", offset, line), nil
	}

	return SuccessResult(out.String()), nil
}

// Verify ReadDocumentTool implements Tool
var _ Tool = (*ReadDocumentTool)(nil)
