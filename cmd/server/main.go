// Sift triages support tickets using a knowledge base search and an LLM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/sift/internal/authmw"
	sc "github.com/linnemanlabs/sift/internal/cfg"
	"github.com/linnemanlabs/sift/internal/kb"
	"github.com/linnemanlabs/sift/internal/llm/claude"
	"github.com/linnemanlabs/sift/internal/llm/gemini"
	"github.com/linnemanlabs/sift/internal/notify/slack"
	"github.com/linnemanlabs/sift/internal/postgres"
	"github.com/linnemanlabs/sift/internal/queue"
	"github.com/linnemanlabs/sift/internal/triage"
	"github.com/linnemanlabs/sift/internal/triage/memstore"
	"github.com/linnemanlabs/sift/internal/triage/pgstore"
	"github.com/linnemanlabs/sift/internal/triageapi"
)

const appName = "sift"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// app name and component feed version info, logs, metrics and traces
	v.AppName = appName
	v.Component = component

	// build/version info stamped at link time
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    sc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	// register flags for each package into its own config struct
	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// cmdline first; env vars fill in whatever was not set explicitly
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// env vars with prefix SIFT_ fill whatever flags were not set on the
	// cmdline, e.g. SIFT_CLAUDE_API_KEY for -claude-api-key
	cfg.FillFromEnv(flag.CommandLine, "SIFT_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	// logger early so everything after this can log structured
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	// flushes buffered logs if the backend ever buffers
	defer func() { _ = lg.Sync() }()

	// component field pre-filled for everything logged from main
	L := lg.With("component", vi.Component)

	// packages that only get a ctx pick the logger up from here
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"llm_provider", appCfg.LLMProvider,
		"max_concurrent", appCfg.MaxConcurrent,
		"retry_attempts", appCfg.RetryAttempts,
		"retry_delay_ms", appCfg.RetryDelayMS,
		"match_threshold", appCfg.MatchThreshold,
		"top_k", appCfg.TopK,
		"rate_limit_per_minute", appCfg.RateLimitPerMinute,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	// profiling first so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	// returns a stop function that flushes pending profiles
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	// tracing setup, the exporter stays off unless tracing is enabled
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	// a failed otel init is logged, the service runs untraced
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// link spans to pyroscope profiles
	if profErr == nil && profCfg.EnablePyroscope {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	// shared prometheus registry, every subsystem registers its metrics here
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Knowledge base: file from -kb-path or the embedded corpus. A bad
	// entry fails startup, the index itself never errors at search time.
	var entries []kb.Entry
	if appCfg.KBPath != "" {
		entries, err = kb.LoadFile(appCfg.KBPath)
	} else {
		entries, err = kb.Default()
	}
	if err != nil {
		return fmt.Errorf("knowledge base: %w", err)
	}
	index := kb.NewIndex(entries, kb.Options{MatchThreshold: appCfg.MatchThreshold, TopK: appCfg.TopK})
	// search is pure, so identical tickets can be served from an LRU
	var searcher triage.Searcher = index
	if appCfg.KBCacheSize > 0 {
		cached, err := kb.NewCachedSearcher(index, appCfg.KBCacheSize)
		if err != nil {
			return fmt.Errorf("knowledge base cache: %w", err)
		}
		searcher = cached
	}
	L.Info(ctx, "loaded knowledge base", "entries", index.Len(), "path", appCfg.KBPath, "cache_size", appCfg.KBCacheSize)

	// LLM provider. Providers make one attempt per call, retries and
	// backoff live in triage.LLMClient.
	var (
		provider triage.Provider
		model    string
	)
	switch appCfg.LLMProvider {
	case sc.ProviderGemini:
		gc, err := gemini.New(ctx, gemini.Options{APIKey: appCfg.GeminiAPIKey, Model: appCfg.GeminiModel})
		if err != nil {
			return fmt.Errorf("gemini provider: %w", err)
		}
		provider, model = gc, gc.Model()
	default:
		cc := claude.New(appCfg.ClaudeAPIKey, appCfg.ClaudeModel)
		provider, model = cc, cc.Model()
	}
	L.Info(ctx, "initialized LLM provider", "provider", appCfg.LLMProvider, "model", model)

	// triage metrics on the shared registry, fed through engine hooks
	triageMetrics := triage.NewMetrics(m.Registry())
	hooks := triageMetrics.Hooks()

	llmClient := triage.NewLLMClient(provider, triage.ClientOptions{
		Attempts:       appCfg.RetryAttempts,
		BaseDelay:      time.Duration(appCfg.RetryDelayMS) * time.Millisecond,
		AttemptTimeout: time.Duration(appCfg.LLMAttemptTimeoutSeconds) * time.Second,
	}, L, hooks)
	// engine is search + classify only, it knows nothing about the queue
	engine := triage.NewEngine(searcher, llmClient, L, hooks)

	// Request queue bounds concurrent LLM work. The janitor trims old
	// finished requests on a cron schedule.
	q := queue.New[triage.Response](queue.Options{
		MaxConcurrent: appCfg.MaxConcurrent,
		Retention:     appCfg.QueueRetention,
		StatusLimit:   appCfg.QueueStatusLimit,
	})
	queue.RegisterMetrics(m.Registry(), q, q.MaxConcurrent())
	stopJanitor, err := queue.StartJanitor(ctx, appCfg.QueueCleanupSchedule, q, L)
	if err != nil {
		return err
	}
	defer stopJanitor()

	// Result archive, finished records outlive queue retention. Postgres
	// when configured, otherwise a bounded in-memory LRU.
	var store triage.Store
	if appCfg.DatabaseURL != "" {
		// per-query DB duration histogram, fed by the pool's query tracer
		dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sift_db_query_duration_seconds",
			Help:    "Duration of individual database queries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "outcome"})
		m.Registry().MustRegister(dbQueryDuration)

		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL, L, postgres.QueryObserverFunc(
			func(_ context.Context, operation, outcome string, dur time.Duration) {
				dbQueryDuration.WithLabelValues(operation, outcome).Observe(dur.Seconds())
			},
		))
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		pgStore, err := pgstore.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		store = pgStore
		L.Info(ctx, "using postgres store")
	} else {
		store = memstore.New(memstore.DefaultCapacity)
		L.Info(ctx, "using in-memory store (no database-url configured)")
	}

	// Slack notifications for finished triages, off without a webhook
	var notifier triage.Notifier
	if appCfg.SlackWebhookURL != "" {
		notifier = slack.New(appCfg.SlackWebhookURL)
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	// service owns the request lifecycle: enqueue, wait, triage, archive, notify
	triageSvc := triage.NewService(q, store, engine, L, triageMetrics, notifier)

	// shutdown gate fails readiness during shutdown so the load balancer
	// stops routing to us before the process exits
	var shutdownGate health.ShutdownGate

	// readiness is just the shutdown gate for now
	readiness := health.All(
		shutdownGate.Probe(),
	)

	// liveness is true as long as we can answer at all
	liveness := health.Fixed(true, "")

	// ops listener serves metrics, health checks and optional pprof
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// the ops port is meant for internal monitoring only. opshttp rejects
	// public client ips and requests carrying x-forwarded headers, so a
	// misconfigured firewall or load balancer does not expose it
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		if err := opsHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	// main api router and its chi middleware
	r := chi.NewRouter()

	// all responses are JSON
	r.Use(middleware.Compress(5, "application/json"))

	// tag logger and recording span with the chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// one access log line per request
	r.Use(httpmw.AccessLog())

	// 413 above 64KB, a 5000 character ticket fits many times over
	r.Use(httpmw.MaxBody(1024 * 64))

	// health endpoints on the main listener too, for the load balancer
	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	// api routes behind optional bearer auth, /api/v1/health stays public
	// so uptime checks need no token
	tokens := appCfg.APITokens()
	r.Group(func(r chi.Router) {
		r.Use(authmw.Bearer(authmw.Options{
			Tokens: tokens,
			Public: []string{"/api/v1/health"},
		}))
		triageapi.New(L, triageSvc, index, triageapi.Options{
			MinDescriptionLength: appCfg.MinDescriptionLength,
			MaxDescriptionLength: appCfg.MaxDescriptionLength,
			RateLimitPerMinute:   appCfg.RateLimitPerMinute,
			TrustForwardHeader:   appCfg.TrustForwardHeader,
			Version:              vi.Version,
			LLMConfigured:        true,
		}).RegisterRoutes(r)
	})
	if len(tokens) == 0 {
		L.Warn(ctx, "api authentication disabled (no api-token configured)")
	}

	// wrapper stack for the main listener, order matters. The outermost
	// wrapper sees the raw request first and the response last, the
	// innermost sees the request last with the full context built by the
	// outer ones.
	var h http.Handler = r

	// request-scoped logger, inner so it carries trace_id and route
	h = httpmw.WithLogger(L)(h)

	// X-Trace-Id / X-Span-Id on responses with a recording trace
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	// server spans and trace context propagation
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// health probes are noise
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute renames the span to the route pattern later
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		// incoming trace context is linked, not parented
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	// prometheus http metrics
	h = m.Middleware(h)

	// resolve the client ip once, honoring only trusted proxy hops, so
	// everything downstream agrees on it
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	// request id outer so every log line and span downstream has it
	h = httpmw.RequestID("X-Request-Id")(h)

	// recover panics from anything below and answer 500
	h = httpmw.Recover(L, nil)(h)

	// security headers outermost so every response carries them
	h = httpmw.SecurityHeaders(h)

	// api server timeouts and limits from config
	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	// start the api listener with the full middleware stack
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		return err
	}
	defer func() {
		if err := apiHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop api http listener")
		}
	}()

	// tell systemd we are up when running as Type=notify
	if err := notifySystemd(); err != nil {
		// worst case systemd kills the process after its start timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer drains us
	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// give in-flight triages time to finish and the load balancer time
	// to notice we are unready. A second signal skips the wait.
	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// stop components with a per-component slice of the total budget.
	// stopProf and stopJanitor are synchronous and excluded from it.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"api http server", apiHTTPStop},
		{"ops http server", opsHTTPStop},
	}
	if shutdownOtelx != nil {
		stopFns = append(stopFns, stopFn{"otel", shutdownOtelx})
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	counts := q.Counts()
	L.Info(context.Background(), "shutdown complete", "queued", counts.Queued, "processing", counts.Processing)
	return nil
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when started with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // addr comes from systemd; net has no context dial for unixgram
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
