package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"cratemind/internal/classifier"
	"cratemind/internal/dedup"
	"cratemind/internal/logging"
	"cratemind/internal/services"
	"cratemind/internal/signals"
	"cratemind/internal/store"
)

const maxBodyBytes = 1 << 20

// Backend is the write and review surface behind the HTTP API.
type Backend interface {
	Ingest(ctx context.Context, req dedup.IngestRequest) (dedup.IngestResult, error)
	Submit(ctx context.Context, req signals.SubmitRequest) (classifier.Submission, error)
	CastVote(ctx context.Context, v classifier.Vote) (classifier.Submission, error)
	Result(ctx context.Context, itemID string) (store.Result, error)
	ReviewQueue(ctx context.Context) ([]store.Result, error)
}

// Options configures NewRouter.
type Options struct {
	Lookup  *LookupService
	Backend Backend
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Token   string
	Logger  *slog.Logger
}

type server struct {
	lookup  *LookupService
	backend Backend
	logger  *slog.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(opts Options) http.Handler {
	s := &server{
		lookup:  opts.Lookup,
		backend: opts.Backend,
		logger:  logging.NewComponentLogger(opts.Logger, "api-server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/classifications", s.handleLookupByPath)
		r.Get("/classifications/{hash}", s.handleLookupByHash)
		r.Post("/classifications:batch", s.handleBatch)
		r.Get("/items/{id}/classification", s.handleClassification)
		r.Get("/review", s.handleReview)

		r.Group(func(r chi.Router) {
			r.Use(requireToken(opts.Token))
			r.Post("/items", s.handleIngest)
			r.Post("/signals", s.handleSignal)
			r.Post("/votes", s.handleVote)
		})
	})
	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func (s *server) handleLookupByHash(w http.ResponseWriter, r *http.Request) {
	answer, err := s.lookup.ByHash(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *server) handleLookupByPath(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "lookup", "path query parameter is required", nil))
		return
	}
	answer, err := s.lookup.ByPath(r.Context(), path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	answers, err := s.lookup.Batch(r.Context(), req.Queries)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BatchResponse{Answers: answers})
}

func (s *server) handleClassification(w http.ResponseWriter, r *http.Request) {
	result, err := s.backend.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.judgedResult(result))
}

// judgedResult is the item detail response. The signal breakdown stays for
// review; the primary category is withheld below the confidence floor.
func (s *server) judgedResult(result store.Result) Classification {
	out := FromResult(result)
	answer := s.lookup.Judge(result)
	out.Resolved = answer.Resolved
	out.Reason = answer.Reason
	if answer.Reason == ReasonInsufficientConfidence {
		out.PrimaryCategory = ""
		out.Subcategory = ""
	}
	return out
}

func (s *server) handleReview(w http.ResponseWriter, r *http.Request) {
	results, err := s.backend.ReviewQueue(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReviewResponse{Items: FromResults(results)})
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	discovered, err := parseTime(req.DiscoveredAt)
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "ingest", "discoveredAt must be RFC3339", err))
		return
	}
	res, err := s.backend.Ingest(r.Context(), dedup.IngestRequest{
		ContentHash:  req.ContentHash,
		Path:         req.Path,
		SizeBytes:    req.SizeBytes,
		DiscoveredAt: discovered,
		Artist:       req.Artist,
		Label:        req.Label,
		Title:        req.Title,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.IsNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, IngestResponse{
		ItemID:          res.ItemID,
		IsNew:           res.IsNew,
		GroupID:         res.GroupID,
		CanonicalItemID: res.CanonicalItemID,
	})
}

func (s *server) handleSignal(w http.ResponseWriter, r *http.Request) {
	var req SignalRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.backend.Submit(r.Context(), signals.SubmitRequest{
		ItemID:      req.ItemID,
		SourceType:  store.SourceType(strings.TrimSpace(req.SourceType)),
		SourceID:    req.SourceID,
		Category:    req.Category,
		Subcategory: req.Subcategory,
		Strength:    store.PatternStrength(strings.TrimSpace(req.Strength)),
		SampleSize:  req.SampleSize,
	})
	s.writeSubmission(w, r, sub, err)
}

func (s *server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req VoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.backend.CastVote(r.Context(), classifier.Vote{
		Contributor: req.Contributor,
		ItemID:      req.ItemID,
		Category:    req.Category,
		Subcategory: req.Subcategory,
	})
	s.writeSubmission(w, r, sub, err)
}

// writeSubmission reports a stored signal even when the follow-up resolve
// failed; the signal is durable and the next resolve will include it.
func (s *server) writeSubmission(w http.ResponseWriter, r *http.Request, sub classifier.Submission, err error) {
	if err != nil && sub.Signal.ID == "" {
		s.writeError(w, r, err)
		return
	}
	if err != nil {
		s.writeError(w, r, fmt.Errorf("signal %s stored, resolve failed: %w", sub.Signal.ID, err))
		return
	}
	status := http.StatusOK
	if sub.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, SubmissionResponse{
		SignalID:       sub.Signal.ID,
		Created:        sub.Created,
		Classification: FromResult(sub.Result),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return services.Wrap(services.ErrValidation, "api", "decode", "malformed request body", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return services.Wrap(services.ErrValidation, "api", "decode", "request body must hold a single JSON object", nil)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrUnavailable), errors.Is(err, services.ErrTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger := logging.WithContext(r.Context(), s.logger)
		logging.ErrorWithContext(logger, "api request failed", "api_request_failed",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err),
		)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, ErrorResponse{
		Error:     err.Error(),
		Kind:      services.Kind(err),
		Retriable: services.IsRetriable(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
