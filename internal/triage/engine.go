package triage

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/sift/internal/kb"
)

// Searcher finds knowledge-base entries related to a ticket.
type Searcher interface {
	Search(query string) []kb.MatchedIssue
}

// Classifier turns a ticket plus its matches into a Verdict.
type Classifier interface {
	Call(ctx context.Context, description string, matches []kb.MatchedIssue) (*Verdict, error)
}

// AttemptEvent describes one provider call.
type AttemptEvent struct {
	Attempt      int
	Model        string
	InputTokens  int
	OutputTokens int
	Duration     float64
	Err          error
}

// CompleteEvent describes a finished triage.
type CompleteEvent struct {
	Status   Status
	Category kb.Category
	Severity kb.Severity
	Matches  int
	Duration float64
}

// Hooks receives instrumentation callbacks. Nil fields are skipped.
type Hooks struct {
	OnSearch     func(matches int, duration float64)
	OnLLMAttempt func(e *AttemptEvent)
	OnComplete   func(e *CompleteEvent)
}

// Engine triages a single ticket: knowledge-base lookup, then LLM
// classification. It does not touch the queue.
type Engine struct {
	searcher   Searcher
	classifier Classifier
	logger     log.Logger
	hooks      Hooks
	now        func() time.Time
}

// NewEngine creates a new triage engine with the given dependencies.
func NewEngine(searcher Searcher, classifier Classifier, logger log.Logger, hooks Hooks) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		searcher:   searcher,
		classifier: classifier,
		logger:     logger,
		hooks:      hooks,
		now:        time.Now,
	}
}

// Triage classifies description and assembles the Response for
// requestID. Only classifier failures are returned.
func (e *Engine) Triage(ctx context.Context, description, requestID string) (*Response, error) {
	start := e.now()
	ctx, span := tracer.Start(ctx, "triage.run")
	defer span.End()
	span.SetAttributes(attribute.String("triage.request_id", requestID))

	L := e.logger.With("request_id", requestID)

	matches := e.search(ctx, description)

	verdict, err := e.classifier.Call(ctx, description, matches)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification failed")
		L.Error(ctx, err, "triage failed", "matches", len(matches))
		e.complete(&CompleteEvent{Status: StatusFailed, Matches: len(matches), Duration: e.now().Sub(start).Seconds()})
		return nil, err
	}

	end := e.now()
	resp := &Response{
		RequestID:         requestID,
		Summary:           verdict.Summary,
		Category:          verdict.Category,
		Severity:          verdict.Severity,
		Status:            verdict.Status,
		MatchedIssues:     matches,
		SuggestedNextStep: verdict.SuggestedNextStep,
		ProcessingTimeMS:  end.Sub(start).Milliseconds(),
		Timestamp:         end.UTC(),
		Model:             verdict.Model,
	}

	span.SetAttributes(
		attribute.String("triage.category", string(resp.Category)),
		attribute.String("triage.severity", string(resp.Severity)),
		attribute.String("triage.status", string(resp.Status)),
	)
	L.Info(ctx, "triage complete",
		"category", resp.Category,
		"severity", resp.Severity,
		"status", resp.Status,
		"matches", len(matches),
		"processing_time_ms", resp.ProcessingTimeMS,
	)
	e.complete(&CompleteEvent{
		Status:   StatusCompleted,
		Category: resp.Category,
		Severity: resp.Severity,
		Matches:  len(matches),
		Duration: end.Sub(start).Seconds(),
	})
	return resp, nil
}

func (e *Engine) search(ctx context.Context, description string) []kb.MatchedIssue {
	_, span := tracer.Start(ctx, "kb.search")
	defer span.End()

	start := e.now()
	matches := e.searcher.Search(description)
	if matches == nil {
		matches = []kb.MatchedIssue{}
	}
	span.SetAttributes(attribute.Int("kb.matches", len(matches)))
	if e.hooks.OnSearch != nil {
		e.hooks.OnSearch(len(matches), e.now().Sub(start).Seconds())
	}
	return matches
}

func (e *Engine) complete(ev *CompleteEvent) {
	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(ev)
	}
}
