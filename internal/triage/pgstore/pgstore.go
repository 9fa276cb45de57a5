// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/sift/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sift/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists triage records in PostgreSQL. The pool is owned by the
// caller.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Get retrieves a triage record by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Record, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	const query = `SELECT id, description, status, error, response, created_at, completed_at
		FROM triage_records WHERE id = $1`
	r, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// Put inserts or updates a triage record.
func (s *Store) Put(ctx context.Context, r *triage.Record) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	if err := s.upsert(ctx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, r *triage.Record) error {
	var (
		responseJSON []byte
		category     *string
		severity     *string
		issueStatus  *string
		completedAt  *time.Time
	)
	if r.Response != nil {
		b, err := json.Marshal(r.Response)
		if err != nil {
			return fmt.Errorf("marshal response: %w", err)
		}
		responseJSON = b
		c, sv, st := string(r.Response.Category), string(r.Response.Severity), string(r.Response.Status)
		category, severity, issueStatus = &c, &sv, &st
	}
	if !r.CompletedAt.IsZero() {
		completedAt = &r.CompletedAt
	}

	const query = `INSERT INTO triage_records (
		id, description, status, error, category, severity, issue_status, response, created_at, completed_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (id) DO UPDATE SET
		status       = EXCLUDED.status,
		error        = EXCLUDED.error,
		category     = EXCLUDED.category,
		severity     = EXCLUDED.severity,
		issue_status = EXCLUDED.issue_status,
		response     = EXCLUDED.response,
		completed_at = EXCLUDED.completed_at`

	_, err := s.pool.Exec(ctx, query,
		r.ID, r.Description, string(r.Status), r.Error,
		category, severity, issueStatus, responseJSON, r.CreatedAt, completedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert triage record: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (*triage.Record, error) {
	var (
		r            triage.Record
		status       string
		responseJSON []byte
		completedAt  *time.Time
	)
	err := row.Scan(&r.ID, &r.Description, &status, &r.Error, &responseJSON, &r.CreatedAt, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan triage record: %w", err)
	}
	r.Status = triage.Status(status)
	if completedAt != nil {
		r.CompletedAt = *completedAt
	}
	if responseJSON != nil {
		var resp triage.Response
		if err := json.Unmarshal(responseJSON, &resp); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
		r.Response = &resp
	}
	return &r, nil
}
