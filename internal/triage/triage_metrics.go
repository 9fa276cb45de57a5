package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	TriagesTotal     *prometheus.CounterVec
	TriageDuration   *prometheus.HistogramVec
	VerdictsTotal    *prometheus.CounterVec
	KBMatches        prometheus.Histogram
	KBSearchDuration prometheus.Histogram
	LLMAttemptsTotal *prometheus.CounterVec
	LLMTokensIn      prometheus.Counter
	LLMTokensOut     prometheus.Counter
	LLMDuration      prometheus.Histogram
	SubmitsTotal     *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_triages_total",
			Help: "Total triage runs by final status.",
		}, []string{"status"}),
		TriageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sift_triage_duration_seconds",
			Help:    "Duration of triage runs in seconds, retries included.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s .. ~128s
		}, []string{"status"}),
		VerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_verdicts_total",
			Help: "Successful triages by category and severity.",
		}, []string{"category", "severity"}),
		KBMatches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_kb_matches",
			Help:    "Knowledge-base matches returned per search.",
			Buckets: prometheus.LinearBuckets(0, 1, 6), // 0 .. 5
		}),
		KBSearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_kb_search_duration_seconds",
			Help:    "Duration of knowledge-base searches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8), // 10us .. ~160ms
		}),
		LLMAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_llm_attempts_total",
			Help: "Total LLM provider attempts by outcome.",
		}, []string{"outcome"}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sift_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sift_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 0.25s .. 64s
		}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_submits_total",
			Help: "Total ticket submissions by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.TriagesTotal,
		m.TriageDuration,
		m.VerdictsTotal,
		m.KBMatches,
		m.KBSearchDuration,
		m.LLMAttemptsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.SubmitsTotal,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnSearch: func(matches int, duration float64) {
			m.KBMatches.Observe(float64(matches))
			m.KBSearchDuration.Observe(duration)
		},
		OnLLMAttempt: func(e *AttemptEvent) {
			outcome := "success"
			if e.Err != nil {
				outcome = "error"
			}
			m.LLMAttemptsTotal.WithLabelValues(outcome).Inc()
			m.LLMTokensIn.Add(float64(e.InputTokens))
			m.LLMTokensOut.Add(float64(e.OutputTokens))
			m.LLMDuration.Observe(e.Duration)
		},
		OnComplete: func(e *CompleteEvent) {
			m.TriagesTotal.WithLabelValues(string(e.Status)).Inc()
			m.TriageDuration.WithLabelValues(string(e.Status)).Observe(e.Duration)
			if e.Status == StatusCompleted {
				m.VerdictsTotal.WithLabelValues(string(e.Category), string(e.Severity)).Inc()
			}
		},
	}
}
