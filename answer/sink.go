// HTTP answer sink.
//
// Information Hiding:
// - Request encoding and status handling hidden
// - HTTP client configuration hidden

package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultServerURL is where answers are posted when no URL is configured.
const DefaultServerURL = "http://localhost:12081/answers"

// Submission is the JSON body posted to the answer server.
type Submission struct {
	Answer              string `json:"answer"`
	QuestionID          string `json:"questionId"`
	Justification       string `json:"justification"`
	CertaintyPercentage *int   `json:"certaintyPercentage,omitempty"`
	SessionID           string `json:"sessionId"`
}

// Sink delivers a submission.
type Sink interface {
	Submit(ctx context.Context, s Submission) error
}

// HTTPSink posts submissions as JSON.
type HTTPSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink creates a sink posting to url. A nil client gets a 30 second
// timeout.
func NewHTTPSink(url string, client *http.Client) *HTTPSink {
	if url == "" {
		url = DefaultServerURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSink{url: url, client: client}
}

// URL returns the endpoint submissions are posted to.
func (s *HTTPSink) URL() string {
	return s.url
}

// Submit posts the submission and fails on any non-2xx status.
func (s *HTTPSink) Submit(ctx context.Context, sub Submission) error {
	body, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post answer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("answer server returned %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}
	return nil
}

// Verify HTTPSink implements Sink
var _ Sink = (*HTTPSink)(nil)
