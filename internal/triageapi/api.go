// Package triageapi is the HTTP boundary of the triage service: input
// validation, rate limiting and the JSON routes under /api/v1.
package triageapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/sift/internal/kb"
	"github.com/linnemanlabs/sift/internal/queue"
	"github.com/linnemanlabs/sift/internal/triage"
)

// ServiceName is reported by the health route.
const ServiceName = "sift"

// TriageService defines the business operations triageapi needs.
type TriageService interface {
	Submit(ctx context.Context, description string) (*triage.Response, string, error)
	Get(ctx context.Context, id string) (*triage.Record, bool, error)
	QueueStatus() queue.Snapshot[triage.Response]
}

// KnowledgeBase lists the loaded knowledge base entries.
type KnowledgeBase interface {
	Entries() []kb.Entry
}

// Options configures the API. Zero values select the defaults.
type Options struct {
	MinDescriptionLength int
	MaxDescriptionLength int
	// RateLimitPerMinute caps triage submissions per client; 0 disables.
	RateLimitPerMinute int
	TrustForwardHeader bool

	Version       string
	LLMConfigured bool

	Now func() time.Time
}

const (
	defaultMinDescription = 10
	defaultMaxDescription = 5000
)

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      TriageService
	kb       KnowledgeBase
	opts     Options
	validate *validator.Validate
	limit    func(http.Handler) http.Handler
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService, base KnowledgeBase, opts Options) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	if base == nil {
		panic(xerrors.New("knowledge base is required"))
	}
	if opts.MinDescriptionLength <= 0 {
		opts.MinDescriptionLength = defaultMinDescription
	}
	if opts.MaxDescriptionLength <= 0 {
		opts.MaxDescriptionLength = defaultMaxDescription
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &API{
		logger:   logger,
		svc:      svc,
		kb:       base,
		opts:     opts,
		validate: validator.New(),
		limit:    rateLimit(opts.RateLimitPerMinute, opts.TrustForwardHeader),
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.With(a.limit).Post("/triage", a.handleTriage)
		r.Get("/triage/{id}", a.handleGetTriage)
		r.Get("/queue", a.handleQueue)
		r.Get("/kb", a.handleKB)
		r.Get("/health", a.handleHealth)
	})
}

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type triageRequest struct {
	Description any `json:"description"`
}

func (a *API) handleTriage(w http.ResponseWriter, r *http.Request) {
	var req triageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "Request too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload"})
		return
	}

	desc, err := a.description(req.Description)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Validation failed", Message: err.Error()})
		return
	}

	resp, id, err := a.svc.Submit(r.Context(), desc)
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sift.triage.id", id))
	if err != nil {
		a.logger.Error(r.Context(), err, "triage failed", "request_id", id)
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error:     "Triage processing failed",
			Message:   err.Error(),
			RequestID: id,
		})
		return
	}

	span.SetAttributes(
		attribute.String("sift.triage.category", string(resp.Category)),
		attribute.String("sift.triage.severity", string(resp.Severity)),
	)
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetTriage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sift.triage.id", id))

	rec, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get triage record", "id", id)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return
	}

	span.SetAttributes(attribute.String("sift.triage.status", string(rec.Status)))
	writeJSON(w, http.StatusOK, rec)
}

type queueResponse struct {
	queue.Snapshot[triage.Response]
	Timestamp time.Time `json:"timestamp"`
}

func (a *API) handleQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, queueResponse{
		Snapshot:  a.svc.QueueStatus(),
		Timestamp: a.opts.Now().UTC(),
	})
}

type kbResponse struct {
	Total     int        `json:"total"`
	Entries   []kb.Entry `json:"entries"`
	Timestamp time.Time  `json:"timestamp"`
}

func (a *API) handleKB(w http.ResponseWriter, _ *http.Request) {
	entries := a.kb.Entries()
	if entries == nil {
		entries = []kb.Entry{}
	}
	writeJSON(w, http.StatusOK, kbResponse{
		Total:     len(entries),
		Entries:   entries,
		Timestamp: a.opts.Now().UTC(),
	})
}

type healthResponse struct {
	Status        string    `json:"status"`
	Service       string    `json:"service"`
	Version       string    `json:"version"`
	Timestamp     time.Time `json:"timestamp"`
	LLMConfigured bool      `json:"llm_configured"`
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "healthy",
		Service:       ServiceName,
		Version:       a.opts.Version,
		Timestamp:     a.opts.Now().UTC(),
		LLMConfigured: a.opts.LLMConfigured,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing useful to do with a write error here
	_ = json.NewEncoder(w).Encode(v)
}
