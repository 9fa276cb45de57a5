package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/linnemanlabs/go-core/log"
)

// slowQueryThreshold is the duration above which successful queries are
// logged.
const slowQueryThreshold = 250 * time.Millisecond

// QueryObserver receives per-query metrics (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, operation, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, operation, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, operation, outcome string, dur time.Duration) {
	f(ctx, operation, outcome, dur)
}

type queryStateKey struct{}

type queryState struct {
	sql   string
	start time.Time
}

// loggingTracer wraps another pgx.QueryTracer (otelpgx) and adds metrics
// plus a structured log line for failed or slow queries.
type loggingTracer struct {
	inner    pgx.QueryTracer
	logger   log.Logger
	observer QueryObserver
	slow     time.Duration
}

// wrapQueryTracer wraps inner with logging and metrics. inner and
// observer may be nil.
func wrapQueryTracer(inner pgx.QueryTracer, logger log.Logger, observer QueryObserver) *loggingTracer {
	if logger == nil {
		logger = log.Nop()
	}
	return &loggingTracer{
		inner:    inner,
		logger:   logger,
		observer: observer,
		slow:     slowQueryThreshold,
	}
}

func (t *loggingTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	// Let the inner tracer create its span first.
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}
	return context.WithValue(ctx, queryStateKey{}, &queryState{sql: data.SQL, start: time.Now()})
}

func (t *loggingTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	// Always call inner tracer first so spans are finished correctly.
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	st, _ := ctx.Value(queryStateKey{}).(*queryState)
	if st == nil {
		return
	}
	dur := time.Since(st.start)
	op := operationName(st.sql, data.CommandTag)

	outcome := "ok"
	if data.Err != nil {
		outcome = "error"
	}
	if t.observer != nil {
		t.observer.ObserveQuery(ctx, op, outcome, dur)
	}

	if data.Err == nil && dur < t.slow {
		return
	}

	fields := []any{
		"db.operation.name", op,
		"db.statement", compactSQL(st.sql),
		"db.duration", dur.Seconds(),
	}
	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		fields = append(fields, "pg.command_tag", tag, "db.rows", data.CommandTag.RowsAffected())
	}

	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields,
				"db.error_code", pgErr.Code,
				"db.error_constraint", pgErr.ConstraintName,
			)
		}
		t.logger.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	t.logger.Warn(ctx, "slow db query", fields...)
}

// operationName derives the SQL verb from the command tag, falling back
// to the first keyword of the statement.
func operationName(sql string, tag pgconn.CommandTag) string {
	if parts := strings.Fields(tag.String()); len(parts) > 0 {
		return strings.ToUpper(parts[0])
	}
	if parts := strings.Fields(sql); len(parts) > 0 {
		return strings.ToUpper(parts[0])
	}
	return "UNKNOWN"
}

// compactSQL collapses whitespace so multi-line statements log on one
// line.
func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}
