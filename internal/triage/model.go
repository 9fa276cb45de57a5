package triage

import (
	"strings"
	"time"

	"github.com/linnemanlabs/sift/internal/kb"
)

// Status tracks where a triage request is in its lifecycle.
type Status string

const (
	// StatusQueued means waiting for a processing slot
	StatusQueued Status = "queued"

	// StatusProcessing means admitted and being classified
	StatusProcessing Status = "processing"

	// StatusCompleted means finished with a Response
	StatusCompleted Status = "completed"

	// StatusFailed means finished with an error
	StatusFailed Status = "failed"
)

// IssueStatus says whether a ticket matches a known issue.
type IssueStatus string

const (
	IssueKnown IssueStatus = "known_issue"
	IssueNew   IssueStatus = "new_issue"
)

// ParseIssueStatus normalizes s, ignoring case, surrounding whitespace and
// the choice of '_', '-' or ' ' as separator.
func ParseIssueStatus(s string) (IssueStatus, bool) {
	norm := strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch IssueStatus(norm) {
	case IssueKnown:
		return IssueKnown, true
	case IssueNew:
		return IssueNew, true
	}
	return "", false
}

// Verdict is the validated classification returned by the LLM.
type Verdict struct {
	Summary           string      `json:"summary"`
	Category          kb.Category `json:"category"`
	Severity          kb.Severity `json:"severity"`
	Status            IssueStatus `json:"status"`
	SuggestedNextStep string      `json:"suggested_next_step"`

	// Model is the model that produced the verdict, when the provider
	// reports it.
	Model string `json:"-"`
}

// Response is the outcome of a successful triage. It is immutable once
// built.
type Response struct {
	RequestID         string            `json:"request_id"`
	Summary           string            `json:"summary"`
	Category          kb.Category       `json:"category"`
	Severity          kb.Severity       `json:"severity"`
	Status            IssueStatus       `json:"status"`
	MatchedIssues     []kb.MatchedIssue `json:"matched_issues"`
	SuggestedNextStep string            `json:"suggested_next_step"`
	ProcessingTimeMS  int64             `json:"processing_time_ms"`
	Timestamp         time.Time         `json:"timestamp"`
	Model             string            `json:"model,omitempty"`
}

// Record is the archived state of one triage request.
type Record struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	Position    int       `json:"position,omitempty"`
	Response    *Response `json:"response,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}
