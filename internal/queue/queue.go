package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is the lifecycle state of a queued request.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	DefaultMaxConcurrent = 1
	DefaultRetention     = 100
	DefaultStatusLimit   = 50
)

var (
	// ErrNotFound is returned by Wait for an id the queue has never seen
	// or has already evicted.
	ErrNotFound = errors.New("queue: request not found")
	// ErrEvicted is returned by Wait when the request was removed by
	// Cleanup before it was admitted.
	ErrEvicted = errors.New("queue: request evicted before admission")
	// ErrNotAdmitted is returned by Wait when the request reached a
	// terminal state while still queued.
	ErrNotAdmitted = errors.New("queue: request finished before admission")
)

// Request is a point-in-time copy of a queued request.
type Request[R any] struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	Status      Status    `json:"status"`
	Position    int       `json:"position,omitempty"`
	Result      *R        `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Counts is the number of tracked requests in each state.
type Counts struct {
	Total      int `json:"total_requests"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Snapshot is the queue overview served to clients: counts over every
// tracked request plus the most recent requests, newest first.
type Snapshot[R any] struct {
	Counts
	Requests []Request[R] `json:"requests"`
}

// Options configures a Queue. Zero values select the defaults.
type Options struct {
	MaxConcurrent int
	Retention     int
	StatusLimit   int

	// Now and NewID are test seams.
	Now   func() time.Time
	NewID func(t time.Time) string
}

type record[R any] struct {
	id          string
	description string
	enqueuedAt  time.Time
	seq         uint64
	status      Status
	position    int
	result      *R
	errMsg      string

	// admitted is closed once the request leaves StatusQueued.
	admitted chan struct{}
}

// Queue is an admission-controlled request tracker. It is safe for
// concurrent use.
type Queue[R any] struct {
	opts Options

	mu      sync.Mutex
	records []*record[R] // arrival order
	byID    map[string]*record[R]
	// inflight holds ids that currently own a processing slot. A slot is
	// released exactly once, even if the record was evicted meanwhile.
	inflight map[string]struct{}
	seq      uint64
}

// New returns an empty queue.
func New[R any](opts Options) *Queue[R] {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.StatusLimit <= 0 {
		opts.StatusLimit = DefaultStatusLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func(t time.Time) string {
			return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
		}
	}
	return &Queue[R]{
		opts:     opts,
		byID:     make(map[string]*record[R]),
		inflight: make(map[string]struct{}),
	}
}

// MaxConcurrent reports the processing slot count.
func (q *Queue[R]) MaxConcurrent() int { return q.opts.MaxConcurrent }

// Enqueue records a new request and returns its id. The request is
// admitted immediately if a slot is free.
func (q *Queue[R]) Enqueue(description string) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.Now()
	q.seq++
	rec := &record[R]{
		id:          q.opts.NewID(now),
		description: description,
		enqueuedAt:  now,
		seq:         q.seq,
		status:      StatusQueued,
		admitted:    make(chan struct{}),
	}
	q.records = append(q.records, rec)
	q.byID[rec.id] = rec
	q.renumberLocked()
	q.dispatchLocked()
	return rec.id
}

// Wait blocks until the request is admitted for processing. It returns
// nil once the caller owns a slot and must later call Complete or Fail.
func (q *Queue[R]) Wait(ctx context.Context, id string) error {
	q.mu.Lock()
	rec, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return ErrNotFound
	}
	admitted := rec.admitted
	q.mu.Unlock()

	select {
	case <-admitted:
	case <-ctx.Done():
		return ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[id]; ok {
		return nil
	}
	if _, ok := q.byID[id]; !ok {
		return ErrEvicted
	}
	return ErrNotAdmitted
}

// Complete stores result and marks the request completed. It reports
// false, changing nothing, for unknown, still queued or already terminal
// requests. A slot held by id is released either way.
func (q *Queue[R]) Complete(id string, result R) bool {
	return q.finish(id, StatusCompleted, &result, "")
}

// Fail marks the request failed with msg. It may be called on a request
// that is still queued, which removes it from the waiting line.
func (q *Queue[R]) Fail(id, msg string) bool {
	return q.finish(id, StatusFailed, nil, msg)
}

func (q *Queue[R]) finish(id string, status Status, result *R, msg string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.byID[id]
	// completion requires admission; queued requests hold no slot
	if ok && status == StatusCompleted && rec.status == StatusQueued {
		return false
	}

	_, held := q.inflight[id]
	delete(q.inflight, id)

	if !ok || rec.status.Terminal() {
		if held {
			q.dispatchLocked()
		}
		return false
	}

	wasQueued := rec.status == StatusQueued
	rec.status = status
	rec.result = result
	rec.errMsg = msg
	rec.position = 0
	if wasQueued {
		close(rec.admitted)
		q.renumberLocked()
	}
	q.dispatchLocked()
	return true
}

// Get returns a copy of the request with the given id.
func (q *Queue[R]) Get(id string) (Request[R], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.byID[id]
	if !ok {
		return Request[R]{}, false
	}
	return rec.view(), true
}

// Counts returns the number of tracked requests per state.
func (q *Queue[R]) Counts() Counts {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.countsLocked()
}

// Status returns the counts plus up to StatusLimit requests, newest
// first.
func (q *Queue[R]) Status() Snapshot[R] {
	q.mu.Lock()
	defer q.mu.Unlock()

	recent := q.newestFirstLocked()
	if len(recent) > q.opts.StatusLimit {
		recent = recent[:q.opts.StatusLimit]
	}
	snap := Snapshot[R]{
		Counts:   q.countsLocked(),
		Requests: make([]Request[R], 0, len(recent)),
	}
	for _, rec := range recent {
		snap.Requests = append(snap.Requests, rec.view())
	}
	return snap
}

// Cleanup keeps the Retention most recent requests regardless of state
// and drops the rest. Waiters of dropped queued requests are released
// with ErrEvicted. It returns the number of requests dropped.
func (q *Queue[R]) Cleanup() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.records) <= q.opts.Retention {
		return 0
	}
	keep := make(map[*record[R]]struct{}, q.opts.Retention)
	for _, rec := range q.newestFirstLocked()[:q.opts.Retention] {
		keep[rec] = struct{}{}
	}

	kept := make([]*record[R], 0, q.opts.Retention)
	var evicted int
	for _, rec := range q.records {
		if _, ok := keep[rec]; ok {
			kept = append(kept, rec)
			continue
		}
		evicted++
		delete(q.byID, rec.id)
		if rec.status == StatusQueued {
			rec.status = StatusFailed
			close(rec.admitted)
		}
	}
	q.records = kept
	q.renumberLocked()
	q.dispatchLocked()
	return evicted
}

// dispatchLocked admits the earliest queued requests while slots are free.
func (q *Queue[R]) dispatchLocked() {
	var admitted bool
	for len(q.inflight) < q.opts.MaxConcurrent {
		next := q.nextQueuedLocked()
		if next == nil {
			break
		}
		next.status = StatusProcessing
		next.position = 0
		q.inflight[next.id] = struct{}{}
		close(next.admitted)
		admitted = true
	}
	if admitted {
		q.renumberLocked()
	}
}

func (q *Queue[R]) nextQueuedLocked() *record[R] {
	for _, rec := range q.records {
		if rec.status == StatusQueued {
			return rec
		}
	}
	return nil
}

// renumberLocked assigns positions 1..N to queued requests in arrival
// order.
func (q *Queue[R]) renumberLocked() {
	pos := 0
	for _, rec := range q.records {
		if rec.status == StatusQueued {
			pos++
			rec.position = pos
		}
	}
}

func (q *Queue[R]) newestFirstLocked() []*record[R] {
	out := append([]*record[R](nil), q.records...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].enqueuedAt.Equal(out[j].enqueuedAt) {
			return out[i].enqueuedAt.After(out[j].enqueuedAt)
		}
		return out[i].seq > out[j].seq
	})
	return out
}

func (q *Queue[R]) countsLocked() Counts {
	c := Counts{Total: len(q.records)}
	for _, rec := range q.records {
		switch rec.status {
		case StatusQueued:
			c.Queued++
		case StatusProcessing:
			c.Processing++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		}
	}
	return c
}

func (r *record[R]) view() Request[R] {
	v := Request[R]{
		ID:          r.id,
		Description: r.description,
		Timestamp:   r.enqueuedAt,
		Status:      r.status,
		Error:       r.errMsg,
	}
	if r.status == StatusQueued {
		v.Position = r.position
	}
	if r.result != nil {
		res := *r.result
		v.Result = &res
	}
	return v
}
