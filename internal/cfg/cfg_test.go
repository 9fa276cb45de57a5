package cfg

import (
	"flag"
	"math"
	"slices"
	"strings"
	"testing"
)

// validBase returns a Config with every field set to its default and the
// provider key filled in.
func validBase() Config {
	var c Config
	fs := flag.NewFlagSet("base", flag.ContinueOnError)
	c.RegisterFlags(fs)
	_ = fs.Parse(nil)
	c.ClaudeAPIKey = "sk-test-key"
	return c
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.LLMProvider != ProviderClaude {
		t.Errorf("LLMProvider = %q, want %q", c.LLMProvider, ProviderClaude)
	}
	if c.ClaudeModel != "claude-sonnet-4-20250514" {
		t.Errorf("ClaudeModel = %q, want %q", c.ClaudeModel, "claude-sonnet-4-20250514")
	}
	if c.MatchThreshold != 0.15 {
		t.Errorf("MatchThreshold = %v, want 0.15", c.MatchThreshold)
	}
	if c.TopK != 3 {
		t.Errorf("TopK = %d, want 3", c.TopK)
	}
	if c.MaxConcurrent != 1 {
		t.Errorf("MaxConcurrent = %d, want 1", c.MaxConcurrent)
	}
	if c.RetryAttempts != 3 || c.RetryDelayMS != 1000 {
		t.Errorf("retry = %d/%dms, want 3/1000ms", c.RetryAttempts, c.RetryDelayMS)
	}
	if c.MinDescriptionLength != 10 || c.MaxDescriptionLength != 5000 {
		t.Errorf("description bounds = %d..%d, want 10..5000", c.MinDescriptionLength, c.MaxDescriptionLength)
	}
	if c.RateLimitPerMinute != 20 {
		t.Errorf("RateLimitPerMinute = %d, want 20", c.RateLimitPerMinute)
	}
	if c.QueueRetention != 100 || c.QueueStatusLimit != 50 {
		t.Errorf("queue retention/status = %d/%d, want 100/50", c.QueueRetention, c.QueueStatusLimit)
	}
	if c.QueueCleanupSchedule != "@every 5m" {
		t.Errorf("QueueCleanupSchedule = %q, want @every 5m", c.QueueCleanupSchedule)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-llm-provider", "gemini",
		"-gemini-api-key", "g-key",
		"-match-threshold", "0.3",
		"-top-k", "5",
		"-max-concurrent", "4",
		"-queue-cleanup-schedule", "*/10 * * * *",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.LLMProvider != ProviderGemini || c.GeminiAPIKey != "g-key" {
		t.Errorf("provider = %q key %q, want gemini g-key", c.LLMProvider, c.GeminiAPIKey)
	}
	if c.MatchThreshold != 0.3 || c.TopK != 5 || c.MaxConcurrent != 4 {
		t.Errorf("tunables = %v/%d/%d, want 0.3/5/4", c.MatchThreshold, c.TopK, c.MaxConcurrent)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestAPITokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"one", []string{"one"}},
		{" old , new ,", []string{"old", "new"}},
	}
	for _, tt := range tests {
		c := Config{APIToken: tt.in}
		if got := c.APITokens(); !slices.Equal(got, tt.want) {
			t.Errorf("APITokens(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name: "minimum valid values",
			mutate: func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 1, 2, 1
				c.RetryAttempts, c.RetryDelayMS, c.TopK, c.MaxConcurrent = 1, 1, 1, 1
				c.MatchThreshold, c.KBCacheSize, c.RateLimitPerMinute = 0, 0, 0
				c.MinDescriptionLength, c.MaxDescriptionLength = 1, 1
			},
		},
		{
			name: "maximum valid values",
			mutate: func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 299, 300, 65535
				c.RetryAttempts, c.RetryDelayMS, c.TopK, c.MaxConcurrent = 10, 60000, 50, 64
				c.MatchThreshold = 1
			},
		},
		{
			name:      "drain zero",
			mutate:    func(c *Config) { c.DrainSeconds = 0 },
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "budget above max",
			mutate:    func(c *Config) { c.ShutdownBudgetSeconds = 301 },
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget equals drain",
			mutate:    func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 60, 60 },
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:      "port above max",
			mutate:    func(c *Config) { c.APIPort = 65536 },
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "unknown provider",
			mutate:    func(c *Config) { c.LLMProvider = "openai" },
			wantErr:   true,
			errSubstr: []string{"LLM_PROVIDER"},
		},
		{
			name:      "empty claude api key",
			mutate:    func(c *Config) { c.ClaudeAPIKey = "" },
			wantErr:   true,
			errSubstr: []string{"CLAUDE_API_KEY"},
		},
		{
			name:      "empty claude model",
			mutate:    func(c *Config) { c.ClaudeModel = "" },
			wantErr:   true,
			errSubstr: []string{"CLAUDE_MODEL"},
		},
		{
			name:      "gemini without key",
			mutate:    func(c *Config) { c.LLMProvider = ProviderGemini },
			wantErr:   true,
			errSubstr: []string{"GEMINI_API_KEY"},
		},
		{
			name: "gemini ignores claude key",
			mutate: func(c *Config) {
				c.LLMProvider, c.GeminiAPIKey, c.ClaudeAPIKey = ProviderGemini, "g", ""
			},
		},
		{
			name:      "retry attempts zero",
			mutate:    func(c *Config) { c.RetryAttempts = 0 },
			wantErr:   true,
			errSubstr: []string{"RETRY_ATTEMPTS"},
		},
		{
			name:      "zero retry delay",
			mutate:    func(c *Config) { c.RetryDelayMS = 0 },
			wantErr:   true,
			errSubstr: []string{"RETRY_DELAY_MS"},
		},
		{
			name:      "attempt timeout zero",
			mutate:    func(c *Config) { c.LLMAttemptTimeoutSeconds = 0 },
			wantErr:   true,
			errSubstr: []string{"LLM_ATTEMPT_TIMEOUT_SECONDS"},
		},
		{
			name:      "threshold above one",
			mutate:    func(c *Config) { c.MatchThreshold = 1.5 },
			wantErr:   true,
			errSubstr: []string{"MATCH_THRESHOLD"},
		},
		{
			name:      "top-k zero",
			mutate:    func(c *Config) { c.TopK = 0 },
			wantErr:   true,
			errSubstr: []string{"TOP_K"},
		},
		{
			name:      "unsupported kb extension",
			mutate:    func(c *Config) { c.KBPath = "/etc/sift/kb.toml" },
			wantErr:   true,
			errSubstr: []string{"KB_PATH"},
		},
		{
			name:   "jsonc kb path",
			mutate: func(c *Config) { c.KBPath = "/etc/sift/kb.JSONC" },
		},
		{
			name:      "negative cache size",
			mutate:    func(c *Config) { c.KBCacheSize = -1 },
			wantErr:   true,
			errSubstr: []string{"KB_CACHE_SIZE"},
		},
		{
			name:      "max concurrent zero",
			mutate:    func(c *Config) { c.MaxConcurrent = 0 },
			wantErr:   true,
			errSubstr: []string{"MAX_CONCURRENT"},
		},
		{
			name:      "bad cleanup schedule",
			mutate:    func(c *Config) { c.QueueCleanupSchedule = "every five minutes" },
			wantErr:   true,
			errSubstr: []string{"QUEUE_CLEANUP_SCHEDULE"},
		},
		{
			name:      "retention zero",
			mutate:    func(c *Config) { c.QueueRetention = 0 },
			wantErr:   true,
			errSubstr: []string{"QUEUE_RETENTION"},
		},
		{
			name:      "max description below min",
			mutate:    func(c *Config) { c.MinDescriptionLength, c.MaxDescriptionLength = 10, 9 },
			wantErr:   true,
			errSubstr: []string{"MAX_DESCRIPTION_LENGTH"},
		},
		{
			name:      "negative rate limit",
			mutate:    func(c *Config) { c.RateLimitPerMinute = -1 },
			wantErr:   true,
			errSubstr: []string{"RATE_LIMIT_PER_MINUTE"},
		},
		{
			name: "errors accumulate",
			mutate: func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 0, 0, 0
				c.ClaudeAPIKey, c.TopK = "", 0
			},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "CLAUDE_API_KEY", "TOP_K"},
		},
		{
			name: "extreme negative values",
			mutate: func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = math.MinInt32, math.MinInt32, math.MinInt32
			},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validBase()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	seeds := []struct {
		drain, budget, port, attempts, topK int
		key                                 string
	}{
		{60, 90, 8080, 3, 3, "sk-test"},
		{1, 2, 1, 1, 1, "k"},
		{299, 300, 65535, 10, 50, "k"},
		{0, 0, 0, 0, 0, ""},
		{300, 300, 65535, 3, 3, "k"},
		{150, 100, 8080, 3, 3, "k"},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.attempts, s.topK, s.key)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, attempts, topK int, key string) {
		c := validBase()
		c.DrainSeconds = drain
		c.ShutdownBudgetSeconds = budget
		c.APIPort = port
		c.RetryAttempts = attempts
		c.TopK = topK
		c.ClaudeAPIKey = key
		err := c.Validate()

		allValid := drain >= 1 && drain <= 300 &&
			budget >= 1 && budget <= 300 &&
			port >= 1 && port <= 65535 &&
			budget > drain &&
			attempts >= 1 && attempts <= 10 &&
			topK >= 1 && topK <= 50 &&
			key != ""

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
