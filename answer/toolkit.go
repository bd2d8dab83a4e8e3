// Package answer lets an agent assemble evidence and justification and then
// submit a final answer (or give up) to the task's answer server.
//
// Information Hiding:
// - Accumulated evidence and justification state hidden
// - Submission formatting hidden
// - Ordering rules between the tools enforced internally

package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/richinex/anemoi/tools"
)

// DefaultQuestionID is sent when no task ID is configured.
const DefaultQuestionID = "No task id specified!"

var (
	// ErrNoEvidence is returned when a justification arrives before any evidence.
	ErrNoEvidence = errors.New("at least one piece of evidence is required: call submit_evidence first")
	// ErrNoJustification is returned when an answer arrives before any justification.
	ErrNoJustification = errors.New("at least one justification is required: call submit_justification first")
)

// Config identifies the task and where answers go.
type Config struct {
	ServerURL  string
	TaskID     string
	SessionID  string
	HTTPClient *http.Client
}

// Evidence is one supporting item for an answer.
type Evidence struct {
	Type    string
	Content string
	Source  string
}

// Toolkit accumulates evidence and justification parts across tool calls.
// Safe for concurrent use.
type Toolkit struct {
	mu             sync.Mutex
	sink           Sink
	taskID         string
	sessionID      string
	evidence       []Evidence
	justifications []string
	logger         *slog.Logger
}

// NewToolkit creates a toolkit posting to cfg.ServerURL.
func NewToolkit(cfg Config) *Toolkit {
	taskID := cfg.TaskID
	if taskID == "" {
		taskID = DefaultQuestionID
	}
	return &Toolkit{
		sink:      NewHTTPSink(cfg.ServerURL, cfg.HTTPClient),
		taskID:    taskID,
		sessionID: cfg.SessionID,
		logger:    slog.Default(),
	}
}

// WithSink replaces the delivery sink.
func (t *Toolkit) WithSink(sink Sink) *Toolkit {
	t.sink = sink
	return t
}

// WithLogger sets the logger.
func (t *Toolkit) WithLogger(logger *slog.Logger) *Toolkit {
	if logger != nil {
		t.logger = logger
	}
	return t
}

// SubmitEvidence stores one evidence item and reports the running count.
func (t *Toolkit) SubmitEvidence(evidenceType, content, source string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evidence = append(t.evidence, Evidence{Type: evidenceType, Content: content, Source: source})
	n := len(t.evidence)
	t.logger.Info("evidence stored", "index", n, "type", evidenceType)
	return fmt.Sprintf("Evidence #%d (%s) submitted successfully. Total evidence pieces: %d", n, evidenceType, n)
}

// SubmitJustification stores one justification part. Evidence must exist.
func (t *Toolkit) SubmitJustification(justification string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.evidence) == 0 {
		return "", ErrNoEvidence
	}
	t.justifications = append(t.justifications, justification)
	n := len(t.justifications)
	t.logger.Info("justification stored", "part", n)
	return fmt.Sprintf("Justification part #%d submitted successfully. Total justification parts: %d", n, n), nil
}

// SendAnswer posts the answer with the combined justification and evidence.
// State is cleared only when the post succeeds.
func (t *Toolkit) SendAnswer(ctx context.Context, answer string, certainty int) error {
	return t.submit(ctx, answer, &certainty)
}

// GiveUp posts a give-up answer carrying the reason.
func (t *Toolkit) GiveUp(ctx context.Context, reason string) error {
	return t.submit(ctx, "give up: "+reason, nil)
}

func (t *Toolkit) submit(ctx context.Context, answer string, certainty *int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.justifications) == 0 {
		return ErrNoJustification
	}

	sub := Submission{
		Answer:              answer,
		QuestionID:          t.taskID,
		Justification:       t.fullJustification(),
		CertaintyPercentage: certainty,
		SessionID:           t.sessionID,
	}
	if err := t.sink.Submit(ctx, sub); err != nil {
		t.logger.Error("failed to send answer", "error", err)
		return err
	}

	t.logger.Info("answer sent", "answer", answer)
	t.evidence = nil
	t.justifications = nil
	return nil
}

// Justification renders the submission text for the current state.
func (t *Toolkit) Justification() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fullJustification()
}

func (t *Toolkit) fullJustification() string {
	return combineJustifications(t.justifications) + formatEvidence(t.evidence)
}

// combineJustifications returns a single part verbatim and numbers
// multiple parts.
func combineJustifications(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	var b strings.Builder
	b.WriteString("=== JUSTIFICATION ===\n")
	for i, p := range parts {
		fmt.Fprintf(&b, "\nPart %d:\n%s\n", i+1, p)
	}
	return b.String()
}

func formatEvidence(evidence []Evidence) string {
	if len(evidence) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n=== EVIDENCE AND SOURCES ===\n")
	for i, e := range evidence {
		fmt.Fprintf(&b, "\n[%d] %s", i+1, strings.ToUpper(e.Type))
		if e.Source != "" {
			fmt.Fprintf(&b, " (Source: %s)", e.Source)
		}
		fmt.Fprintf(&b, ":\n%s\n", e.Content)
	}
	return b.String()
}

type evidenceArgs struct {
	EvidenceType string `json:"evidence_type" jsonschema:"description=Type of evidence such as quote or calculation or source or excerpt or data or reference"`
	Content      string `json:"content" jsonschema:"description=The evidence itself: quote text or calculation steps or data values"`
	Source       string `json:"source,omitempty" jsonschema:"description=Optional attribution such as an agent name or a website"`
}

type justificationArgs struct {
	Justification string `json:"justification" jsonschema:"description=Step by step explanation of how the team arrived at the answer with a certainty percentage for each step and sourced quotes"`
}

type sendArgs struct {
	Answer              string `json:"answer" jsonschema:"description=The final answer"`
	CertaintyPercentage int    `json:"certainty_percentage" jsonschema:"description=Overall certainty of the answer from 0 to 100,minimum=0,maximum=100"`
}

type giveUpArgs struct {
	Reason string `json:"reason" jsonschema:"description=Why the task cannot be answered"`
}

// Tools returns submit_evidence, submit_justification, send_answer and
// give_up bound to this toolkit.
func (t *Toolkit) Tools() []tools.Tool {
	return []tools.Tool{
		tools.NewFunctionTool("submit_evidence",
			"Submit one piece of evidence (quote, source, calculation, data) supporting the answer. Call once per piece.",
			func(ctx context.Context, a evidenceArgs) (string, error) {
				return t.SubmitEvidence(a.EvidenceType, a.Content, a.Source), nil
			}),
		tools.NewFunctionTool("submit_justification",
			"Submit one part of the justification for the answer. Parts are combined when the answer is sent. Requires evidence first.",
			func(ctx context.Context, a justificationArgs) (string, error) {
				return t.SubmitJustification(a.Justification)
			}),
		tools.NewFunctionTool("send_answer",
			"Send the final answer with all submitted evidence and justification. Requires a justification first.",
			func(ctx context.Context, a sendArgs) (string, error) {
				if err := t.SendAnswer(ctx, a.Answer, a.CertaintyPercentage); err != nil {
					return "", err
				}
				return "Answer sent successfully.", nil
			}),
		tools.NewFunctionTool("give_up",
			"Tell the answer server the team is giving up, with all submitted evidence and justification. Requires a justification first.",
			func(ctx context.Context, a giveUpArgs) (string, error) {
				if err := t.GiveUp(ctx, a.Reason); err != nil {
					return "", err
				}
				return "Give up message sent successfully.", nil
			}),
	}
}
