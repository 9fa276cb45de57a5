package triage

import "context"

// Store is the persistence interface for finished triage records.
type Store interface {
	Get(ctx context.Context, id string) (*Record, bool, error)
	Put(ctx context.Context, rec *Record) error
}

// Notifier publishes finished triage records.
type Notifier interface {
	Send(ctx context.Context, rec *Record) error
}
