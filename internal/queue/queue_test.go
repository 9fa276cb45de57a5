package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

type result struct {
	Summary string
}

// stepClock advances one second per call so arrival order is visible in
// timestamps.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestQueue(t *testing.T, opts Options) *Queue[result] {
	t.Helper()
	clock := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	var n atomic.Int64
	opts.Now = clock.Now
	opts.NewID = func(time.Time) string { return fmt.Sprintf("req-%d", n.Add(1)) }
	return New[result](opts)
}

func mustGet(t *testing.T, q *Queue[result], id string) Request[result] {
	t.Helper()
	r, ok := q.Get(id)
	if !ok {
		t.Fatalf("request %s not found", id)
	}
	return r
}

func TestEnqueue_AdmitsFirstAndNumbersTheRest(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Options{MaxConcurrent: 1})
	a := q.Enqueue("first")
	b := q.Enqueue("second")
	c := q.Enqueue("third")

	if got := mustGet(t, q, a); got.Status != StatusProcessing || got.Position != 0 {
		t.Errorf("a = %s/%d, want processing/0", got.Status, got.Position)
	}
	if got := mustGet(t, q, b); got.Status != StatusQueued || got.Position != 1 {
		t.Errorf("b = %s/%d, want queued/1", got.Status, got.Position)
	}
	if got := mustGet(t, q, c); got.Status != StatusQueued || got.Position != 2 {
		t.Errorf("c = %s/%d, want queued/2", got.Status, got.Position)
	}

	counts := q.Counts()
	if counts.Total != 3 || counts.Queued != 2 || counts.Processing != 1 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestComplete_AdmitsNextAndRenumbers(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Options{MaxConcurrent: 1})
	a := q.Enqueue("first")
	b := q.Enqueue("second")
	c := q.Enqueue("third")

	if !q.Complete(a, result{Summary: "done"}) {
		t.Fatal("Complete returned false")
	}

	got := mustGet(t, q, a)
	if got.Status != StatusCompleted {
		t.Errorf("a status = %s, want completed", got.Status)
	}
	if got.Result == nil || got.Result.Summary != "done" {
		t.Errorf("a result = %+v", got.Result)
	}
	if got := mustGet(t, q, b); got.Status != StatusProcessing {
		t.Errorf("b status = %s, want processing", got.Status)
	}
	if got := mustGet(t, q, c); got.Position != 1 {
		t.Errorf("c position = %d, want 1", got.Position)
	}
}

func TestComplete_IsIdempotent(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Options{MaxConcurrent: 1})
	a := q.Enqueue("first")

	if !q.Complete(a, result{Summary: "one"}) {
		t.Fatal("first Complete returned false")
	}
	if q.Complete(a, result{Summary: "two"}) {
		t.Error("second Complete returned true")
	}
	if q.Fail(a, "late failure") {
		t.Error("Fail after Complete returned true")
	}
	got := mustGet(t, q, a)
	if got.Status != StatusCompleted || got.Result.Summary != "one" || got.Error != "" {
		t.Errorf("terminal request changed: %+v", got)
	}
	if q.Complete("nope", result{}) {
		t.Error("Complete on unknown id returned true")
	}
}

func TestComplete_RejectsQueuedRequest(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Options{MaxConcurrent: 1})
	a := q.Enqueue("first")
	b := q.Enqueue("second")

	if q.Complete(b, result{Summary: "skipped the line"}) {
		t.Fatal("Complete on a queued request returned true")
	}
	if got := mustGet(t, q, b); got.Status != StatusQueued || got.Position != 1 || got.Result != nil {
		t.Errorf("b = %+v, want queued at position 1 without result", got)
	}
	if got := mustGet(t, q, a); got.Status != StatusProcessing {
		t.Errorf("a = %s, want processing", got.Status)
	}

	// b completes normally once admitted
	if !q.Complete(a, result{Summary: "one"}) {
		t.Fatal("Complete(a) returned false")
	}
	if got := mustGet(t, q, b); got.Status != StatusProcessing {
		t.Fatalf("b = %s after a completed, want processing", got.Status)
	}
	if !q.Complete(b, result{Summary: "two"}) {
		t.Error("Complete(b) after admission returned false")
	}
	if c := q.Counts(); c.Completed != 2 || c.Processing != 0 || c.Queued != 0 {
		t.Errorf("counts = %+v", c)
	}
}

func TestWait_BlocksUntilAdmitted(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Options{MaxConcurrent: 1})
	a := q.Enqueue("first")
	b := q.Enqueue("second")

	if err := q.Wait(context.Background(), a); err != nil {
		t.Fatalf("Wait(a) = %v, want nil", err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Wait(context.Background(), b) }()

	select {
	case err := <-done:
		t.Fatalf("Wait(b) returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	q.Fail(a, "boom")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait(b) = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait(b) not released after slot freed")
	}
	if got := mustGet(t, q, a); got.Status != StatusFailed || got.Error != "boom" {
		t.Errorf("a = %+v", got)
	}
}

func TestWait_ContextCanceled(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Options{MaxConcurrent: 1})
	q.Enqueue("first")
	b := q.Enqueue("second")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Wait(ctx, b); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}
	if got := mustGet(t, q, b); got.Status != StatusQueued {
		t.Errorf("status = %s, want still queued", got.Status)
	}
}

func TestWait_Unknown(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Options{})
	if err := q.Wait(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Wait = %v, want ErrNotFound", err)
	}
}

func TestFail_QueuedRequestLeavesLine(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Options{MaxConcurrent: 1})
	a := q.Enqueue("first")
	b := q.Enqueue("second")
	c := q.Enqueue("third")

	if !q.Fail(b, "client gone") {
		t.Fatal("Fail returned false")
	}
	if err := q.Wait(context.Background(), b); !errors.Is(err, ErrNotAdmitted) {
		t.Errorf("Wait(b) = %v, want ErrNotAdmitted", err)
	}
	if got := mustGet(t, q, c); got.Position != 1 {
		t.Errorf("c position = %d, want 1", got.Position)
	}

	q.Complete(a, result{})
	if got := mustGet(t, q, c); got.Status != StatusProcessing {
		t.Errorf("c status = %s, want processing", got.Status)
	}
	if got := q.Counts(); got.Processing != 1 {
		t.Errorf("processing = %d, want 1", got.Processing)
	}
}

func TestStatus_NewestFirstWithLimit(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Options{MaxConcurrent: 1, StatusLimit: 3})
	var ids []string
	for i := range 5 {
		ids = append(ids, q.Enqueue(fmt.Sprintf("ticket %d", i)))
	}

	snap := q.Status()
	if snap.Total != 5 || snap.Queued != 4 || snap.Processing != 1 {
		t.Errorf("counts = %+v", snap.Counts)
	}
	if len(snap.Requests) != 3 {
		t.Fatalf("requests = %d, want 3", len(snap.Requests))
	}
	for i, want := range []string{ids[4], ids[3], ids[2]} {
		if snap.Requests[i].ID != want {
			t.Errorf("requests[%d] = %s, want %s", i, snap.Requests[i].ID, want)
		}
	}
}

func TestCleanup_KeepsNewest(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Options{MaxConcurrent: 1, Retention: 2})
	a := q.Enqueue("a")
	q.Complete(a, result{})
	b := q.Enqueue("b")
	q.Complete(b, result{})
	c := q.Enqueue("c")
	d := q.Enqueue("d")

	if n := q.Cleanup(); n != 2 {
		t.Fatalf("Cleanup evicted %d, want 2", n)
	}
	if _, ok := q.Get(a); ok {
		t.Error("a should be evicted")
	}
	if _, ok := q.Get(b); ok {
		t.Error("b should be evicted")
	}
	mustGet(t, q, c)
	if got := mustGet(t, q, d); got.Position != 1 {
		t.Errorf("d position = %d, want 1", got.Position)
	}
	if n := q.Cleanup(); n != 0 {
		t.Errorf("second Cleanup evicted %d, want 0", n)
	}
}

func TestCleanup_EvictedWaiterReleased(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Options{MaxConcurrent: 1, Retention: 1})
	q.Enqueue("a")
	b := q.Enqueue("b")
	q.Enqueue("c")

	done := make(chan error, 1)
	go func() { done <- q.Wait(context.Background(), b) }()
	time.Sleep(10 * time.Millisecond)

	q.Cleanup()

	select {
	case err := <-done:
		if !errors.Is(err, ErrEvicted) && !errors.Is(err, ErrNotFound) {
			t.Errorf("Wait(b) = %v, want ErrEvicted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released by eviction")
	}
}

func TestCleanup_EvictedProcessingStillReleasesSlot(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Options{MaxConcurrent: 1, Retention: 1})
	a := q.Enqueue("a")
	b := q.Enqueue("b")

	q.Cleanup()
	if _, ok := q.Get(a); ok {
		t.Fatal("a should be evicted")
	}
	if got := mustGet(t, q, b); got.Status != StatusQueued {
		t.Fatalf("b = %s, want queued while a holds the slot", got.Status)
	}

	if q.Complete(a, result{}) {
		t.Error("Complete on evicted id returned true")
	}
	if got := mustGet(t, q, b); got.Status != StatusProcessing {
		t.Errorf("b = %s, want processing after slot release", got.Status)
	}
	if q.Fail(a, "again") {
		t.Error("second release returned true")
	}
	if got := q.Counts(); got.Processing != 1 {
		t.Errorf("processing = %d, want 1", got.Processing)
	}
}

func TestQueue_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	const slots = 2
	q := New[result](Options{MaxConcurrent: slots, Retention: 1000})

	var active, peak atomic.Int64
	g, ctx := errgroup.WithContext(context.Background())
	for i := range 20 {
		g.Go(func() error {
			id := q.Enqueue(fmt.Sprintf("ticket %d", i))
			if err := q.Wait(ctx, id); err != nil {
				return err
			}
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			q.Complete(id, result{Summary: "ok"})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("worker: %v", err)
	}
	if p := peak.Load(); p > slots {
		t.Errorf("peak concurrency = %d, want <= %d", p, slots)
	}
	if got := q.Counts(); got.Completed != 20 || got.Processing != 0 || got.Queued != 0 {
		t.Errorf("counts = %+v", got)
	}
}

func TestNew_DefaultIDsAreUnique(t *testing.T) {
	t.Parallel()

	q := New[result](Options{Retention: 1000})
	seen := make(map[string]struct{})
	for range 200 {
		id := q.Enqueue("x")
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
}
