package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sift/internal/queue"
)

// Queue is the admission-control surface the Service drives.
type Queue interface {
	Enqueue(description string) string
	Wait(ctx context.Context, id string) error
	Complete(id string, result Response) bool
	Fail(id, msg string) bool
	Get(id string) (queue.Request[Response], bool)
	Status() queue.Snapshot[Response]
}

// Service is the business boundary for triage operations.
type Service struct {
	queue    Queue
	store    Store
	engine   *Engine
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier
	now      func() time.Time
}

// NewService creates a new triage service. metrics and notifier may be nil.
func NewService(q Queue, store Store, engine *Engine, logger log.Logger, metrics *Metrics, notifier Notifier) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		queue:    q,
		store:    store,
		engine:   engine,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
		now:      time.Now,
	}
}

// Submit enqueues description, waits for a processing slot and triages
// it. The request id is returned whenever the request was enqueued, also
// on failure. Whatever the outcome, the queue entry ends terminal and the
// record is archived.
func (s *Service) Submit(ctx context.Context, description string) (*Response, string, error) {
	created := s.now()
	id := s.queue.Enqueue(description)
	L := s.logger.With("request_id", id)
	L.Info(ctx, "triage request queued")

	// archiving and notification outlive the caller's request
	bg := context.WithoutCancel(ctx)

	if err := s.queue.Wait(ctx, id); err != nil {
		err = fmt.Errorf("wait for processing slot: %w", err)
		s.queue.Fail(id, err.Error())
		L.Warn(ctx, "triage request not admitted", "error", err)
		s.countSubmit("not_admitted")
		s.finish(bg, L, &Record{
			ID:          id,
			Description: description,
			Status:      StatusFailed,
			Error:       err.Error(),
			CreatedAt:   created,
			CompletedAt: s.now(),
		}, false)
		return nil, id, err
	}

	resp, err := s.engine.Triage(ctx, description, id)
	if err != nil {
		s.queue.Fail(id, err.Error())
		s.countSubmit("failed")
		s.finish(bg, L, &Record{
			ID:          id,
			Description: description,
			Status:      StatusFailed,
			Error:       err.Error(),
			CreatedAt:   created,
			CompletedAt: s.now(),
		}, true)
		return nil, id, err
	}

	s.queue.Complete(id, *resp)
	s.countSubmit("completed")
	s.finish(bg, L, &Record{
		ID:          id,
		Description: description,
		Status:      StatusCompleted,
		Response:    resp,
		CreatedAt:   created,
		CompletedAt: s.now(),
	}, true)
	return resp, id, nil
}

// Get returns the record for id. Requests still in the queue are reported
// with their live status and position; finished ones come from the store.
func (s *Service) Get(ctx context.Context, id string) (*Record, bool, error) {
	live, inQueue := s.queue.Get(id)
	if inQueue && !live.Status.Terminal() {
		return recordFromQueue(live), true, nil
	}

	rec, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return rec, true, nil
	}
	if inQueue {
		return recordFromQueue(live), true, nil
	}
	return nil, false, nil
}

// QueueStatus returns the queue overview.
func (s *Service) QueueStatus() queue.Snapshot[Response] {
	return s.queue.Status()
}

func (s *Service) finish(ctx context.Context, L log.Logger, rec *Record, notify bool) {
	if err := s.store.Put(ctx, rec); err != nil {
		L.Error(ctx, err, "failed to archive triage record")
	}
	if !notify || s.notifier == nil {
		return
	}
	go func() {
		if err := s.notifier.Send(ctx, rec); err != nil {
			L.Error(ctx, err, "failed to send triage notification")
		}
	}()
}

func (s *Service) countSubmit(result string) {
	if s.metrics != nil {
		s.metrics.SubmitsTotal.WithLabelValues(result).Inc()
	}
}

func recordFromQueue(r queue.Request[Response]) *Record {
	rec := &Record{
		ID:          r.ID,
		Description: r.Description,
		Status:      Status(r.Status),
		Position:    r.Position,
		Error:       r.Error,
		CreatedAt:   r.Timestamp,
		Response:    r.Result,
	}
	return rec
}
