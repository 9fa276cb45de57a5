package cfg

import (
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/linnemanlabs/sift/internal/queue"
)

// LLM providers accepted by -llm-provider.
const (
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
)

// Config adds sift-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	// LLM
	LLMProvider              string
	ClaudeAPIKey             string
	ClaudeModel              string
	GeminiAPIKey             string
	GeminiModel              string
	RetryAttempts            int
	RetryDelayMS             int
	LLMAttemptTimeoutSeconds int

	// knowledge base
	KBPath         string
	KBCacheSize    int
	MatchThreshold float64
	TopK           int

	// queue
	MaxConcurrent        int
	QueueRetention       int
	QueueStatusLimit     int
	QueueCleanupSchedule string

	// API boundary
	APIToken             string
	MinDescriptionLength int
	MaxDescriptionLength int
	RateLimitPerMinute   int
	TrustForwardHeader   bool

	DatabaseURL     string
	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")

	fs.StringVar(&c.LLMProvider, "llm-provider", ProviderClaude, "LLM provider used for triage (claude|gemini)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.GeminiAPIKey, "gemini-api-key", "", "API key for the Gemini provider")
	fs.StringVar(&c.GeminiModel, "gemini-model", "gemini-2.0-flash", "Gemini model to use")
	fs.IntVar(&c.RetryAttempts, "retry-attempts", 3, "LLM attempts per triage, including the first (1..10)")
	fs.IntVar(&c.RetryDelayMS, "retry-delay-ms", 1000, "base LLM retry delay in milliseconds, doubled per retry (1..60000)")
	fs.IntVar(&c.LLMAttemptTimeoutSeconds, "llm-attempt-timeout-seconds", 30, "timeout for a single LLM attempt (1..600)")

	fs.StringVar(&c.KBPath, "kb-path", "", "knowledge base file (.yaml, .yml, .json, .jsonc); empty = built-in")
	fs.IntVar(&c.KBCacheSize, "kb-cache-size", 256, "cached knowledge base search results (0 disables)")
	fs.Float64Var(&c.MatchThreshold, "match-threshold", 0.15, "minimum knowledge base match confidence (0..1)")
	fs.IntVar(&c.TopK, "top-k", 3, "maximum knowledge base matches per ticket (1..50)")

	fs.IntVar(&c.MaxConcurrent, "max-concurrent", 1, "triage requests processed at once (1..64)")
	fs.IntVar(&c.QueueRetention, "queue-retention", 100, "requests kept by queue cleanup")
	fs.IntVar(&c.QueueStatusLimit, "queue-status-limit", 50, "recent requests listed in queue status")
	fs.StringVar(&c.QueueCleanupSchedule, "queue-cleanup-schedule", queue.DefaultCleanupSchedule, "cron schedule for queue cleanup")

	fs.StringVar(&c.APIToken, "api-token", "", "comma-separated bearer tokens for the API (empty = no auth)")
	fs.IntVar(&c.MinDescriptionLength, "min-description-length", 10, "minimum ticket description length in characters")
	fs.IntVar(&c.MaxDescriptionLength, "max-description-length", 5000, "maximum ticket description length in characters")
	fs.IntVar(&c.RateLimitPerMinute, "rate-limit-per-minute", 20, "triage submissions per client per minute (0 disables)")
	fs.BoolVar(&c.TrustForwardHeader, "trust-forward-header", false, "use X-Forwarded-For / X-Real-IP as the rate limit client key")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
}

// APITokens splits APIToken into the accepted bearer tokens.
func (c *Config) APITokens() []string {
	var out []string
	for _, t := range strings.Split(c.APIToken, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	errs = append(errs, c.validateLLM()...)
	errs = append(errs, c.validateKB()...)
	errs = append(errs, c.validateQueue()...)
	errs = append(errs, c.validateAPI()...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (c *Config) validateLLM() []error {
	var errs []error
	switch c.LLMProvider {
	case ProviderClaude:
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required"))
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required"))
		}
		if c.GeminiModel == "" {
			errs = append(errs, errors.New("GEMINI_MODEL is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid LLM_PROVIDER %q (must be %s or %s)", c.LLMProvider, ProviderClaude, ProviderGemini))
	}

	if c.RetryAttempts < 1 || c.RetryAttempts > 10 {
		errs = append(errs, fmt.Errorf("invalid RETRY_ATTEMPTS %d (must be 1..10)", c.RetryAttempts))
	}
	if c.RetryDelayMS < 1 || c.RetryDelayMS > 60000 {
		errs = append(errs, fmt.Errorf("invalid RETRY_DELAY_MS %d (must be 1..60000)", c.RetryDelayMS))
	}
	if c.LLMAttemptTimeoutSeconds < 1 || c.LLMAttemptTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid LLM_ATTEMPT_TIMEOUT_SECONDS %d (must be 1..600)", c.LLMAttemptTimeoutSeconds))
	}
	return errs
}

func (c *Config) validateKB() []error {
	var errs []error
	if c.KBPath != "" {
		switch strings.ToLower(filepath.Ext(c.KBPath)) {
		case ".yaml", ".yml", ".json", ".jsonc":
		default:
			errs = append(errs, fmt.Errorf("invalid KB_PATH %q (must end in .yaml, .yml, .json or .jsonc)", c.KBPath))
		}
	}
	if c.KBCacheSize < 0 {
		errs = append(errs, fmt.Errorf("invalid KB_CACHE_SIZE %d (must be >= 0)", c.KBCacheSize))
	}
	if c.MatchThreshold < 0 || c.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("invalid MATCH_THRESHOLD %g (must be 0..1)", c.MatchThreshold))
	}
	if c.TopK < 1 || c.TopK > 50 {
		errs = append(errs, fmt.Errorf("invalid TOP_K %d (must be 1..50)", c.TopK))
	}
	return errs
}

func (c *Config) validateQueue() []error {
	var errs []error
	if c.MaxConcurrent < 1 || c.MaxConcurrent > 64 {
		errs = append(errs, fmt.Errorf("invalid MAX_CONCURRENT %d (must be 1..64)", c.MaxConcurrent))
	}
	if c.QueueRetention < 1 {
		errs = append(errs, fmt.Errorf("invalid QUEUE_RETENTION %d (must be >= 1)", c.QueueRetention))
	}
	if c.QueueStatusLimit < 1 {
		errs = append(errs, fmt.Errorf("invalid QUEUE_STATUS_LIMIT %d (must be >= 1)", c.QueueStatusLimit))
	}
	if err := queue.ValidateSchedule(c.QueueCleanupSchedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid QUEUE_CLEANUP_SCHEDULE: %w", err))
	}
	return errs
}

func (c *Config) validateAPI() []error {
	var errs []error
	if c.MinDescriptionLength < 1 {
		errs = append(errs, fmt.Errorf("invalid MIN_DESCRIPTION_LENGTH %d (must be >= 1)", c.MinDescriptionLength))
	}
	if c.MaxDescriptionLength < c.MinDescriptionLength {
		errs = append(errs, fmt.Errorf("MAX_DESCRIPTION_LENGTH %d must not be less than MIN_DESCRIPTION_LENGTH %d", c.MaxDescriptionLength, c.MinDescriptionLength))
	}
	if c.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE %d (must be >= 0)", c.RateLimitPerMinute))
	}
	return errs
}
