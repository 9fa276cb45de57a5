package triage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/sift/internal/kb"
)

const (
	DefaultAttempts       = 3
	DefaultBaseDelay      = time.Second
	DefaultAttemptTimeout = 30 * time.Second
	ResponseTokens        = 1024
)

var tracer = otel.Tracer("github.com/linnemanlabs/sift/internal/triage")

// ClientOptions tunes LLMClient. Zero values select the defaults.
type ClientOptions struct {
	// Attempts is the total number of provider calls, including the first.
	Attempts int
	// BaseDelay is the wait after the first failure; it doubles after
	// each subsequent failure.
	BaseDelay time.Duration
	// AttemptTimeout bounds a single provider call.
	AttemptTimeout time.Duration
}

// LLMClient asks a Provider to classify a ticket, retrying failed or
// malformed replies with exponential backoff.
type LLMClient struct {
	provider Provider
	opts     ClientOptions
	logger   log.Logger
	hooks    Hooks
}

// NewLLMClient creates a client around provider.
func NewLLMClient(provider Provider, opts ClientOptions, logger log.Logger, hooks Hooks) *LLMClient {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &LLMClient{
		provider: provider,
		opts:     opts,
		logger:   logger,
		hooks:    hooks,
	}
}

// Call classifies description given its knowledge-base matches. Every
// failure (transport error, timeout, empty or invalid reply) consumes one
// attempt. When all attempts fail the error names the attempt count and
// wraps the last failure. Backoff waits end early if ctx is canceled.
func (c *LLMClient) Call(ctx context.Context, description string, matches []kb.MatchedIssue) (*Verdict, error) {
	prompt := buildPrompt(description, matches)
	backoff := retry.WithMaxRetries(uint64(c.opts.Attempts-1), retry.NewExponential(c.opts.BaseDelay))

	var (
		attempt int
		lastErr error
		verdict *Verdict
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		v, err := c.attempt(ctx, prompt, attempt)
		if err != nil {
			lastErr = err
			c.logger.Warn(ctx, "llm attempt failed",
				"attempt", attempt,
				"max_attempts", c.opts.Attempts,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		verdict = v
		return nil
	})
	if err == nil {
		return verdict, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("llm call canceled after %d attempts: %w", attempt, ctx.Err())
	}
	return nil, fmt.Errorf("llm call failed after %d attempts: %w", attempt, lastErr)
}

func (c *LLMClient) attempt(ctx context.Context, prompt string, attempt int) (*Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.AttemptTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "llm.call")
	defer span.End()
	span.SetAttributes(attribute.Int("llm.attempt", attempt))

	start := time.Now()
	resp, err := c.provider.Send(ctx, &LLMRequest{
		MaxTokens: ResponseTokens,
		Messages:  []Message{{Role: "user", Content: prompt}},
	})
	duration := time.Since(start).Seconds()

	if err != nil {
		err = fmt.Errorf("provider: %w", err)
		c.observeAttempt(attempt, nil, duration, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("llm.model", resp.Model),
		attribute.Int("llm.tokens.input", resp.Usage.InputTokens),
		attribute.Int("llm.tokens.output", resp.Usage.OutputTokens),
	)

	var v *Verdict
	if strings.TrimSpace(resp.Text) == "" {
		err = ErrEmptyResponse
	} else {
		v, err = parseVerdict(resp.Text)
	}
	c.observeAttempt(attempt, resp, duration, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid reply")
		return nil, err
	}
	v.Model = resp.Model
	return v, nil
}

func (c *LLMClient) observeAttempt(attempt int, resp *LLMResponse, duration float64, err error) {
	if c.hooks.OnLLMAttempt == nil {
		return
	}
	e := &AttemptEvent{Attempt: attempt, Duration: duration, Err: err}
	if resp != nil {
		e.Model = resp.Model
		e.InputTokens = resp.Usage.InputTokens
		e.OutputTokens = resp.Usage.OutputTokens
	}
	c.hooks.OnLLMAttempt(e)
}
