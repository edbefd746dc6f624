package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mtd-vat-service/internal/bundles"
	"mtd-vat-service/internal/config"
	"mtd-vat-service/internal/coordinator"
	"mtd-vat-service/internal/models"
	"mtd-vat-service/internal/queue"
	"mtd-vat-service/internal/ratelimit"
	"mtd-vat-service/internal/telemetry"
	"mtd-vat-service/internal/vat"
)

// Server wires the HTTP endpoint surface over the coordinator.
type Server struct {
	cfg     config.Config
	coord   *coordinator.Coordinator
	bundles *bundles.Service
	queue   *queue.RedisQueue
	limiter *ratelimit.UserBucket
	log     *zap.Logger
}

// New constructs the API server. limiter and queue may be nil in tests.
func New(cfg config.Config, coord *coordinator.Coordinator, bsvc *bundles.Service, q *queue.RedisQueue, limiter *ratelimit.UserBucket, log *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		coord:   coord,
		bundles: bsvc,
		queue:   q,
		limiter: limiter,
		log:     log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/bundles/{bundleId}", s.handleGrantBundle)
	r.Delete("/bundles/{bundleId}", s.handleDeleteBundle)
	r.Get("/bundles", s.handleListBundles)
	r.Post("/vat/returns", s.handleSubmitReturn)
	r.Get("/vat/obligations", s.handleObligations)
	r.Get("/dlq", s.handleDLQ)
	return r
}

// authorize resolves the principal and applies the per-user rate limit on
// mutating requests. Returns an empty key after writing the response when
// the request must not proceed.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, mutating bool) (string, bool) {
	subject := subjectFromRequest(r)
	if subject == "" {
		http.Error(w, `{"status":"unauthorized"}`, http.StatusUnauthorized)
		return "", false
	}
	userKey := DeriveUserKey(subject)
	if mutating && s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), userKey)
		if err != nil {
			http.Error(w, `{"status":"rate_limit_error"}`, http.StatusInternalServerError)
			return "", false
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, `{"status":"rate_limited"}`, http.StatusTooManyRequests)
			return "", false
		}
	}
	return userKey, true
}

// coordinate funnels one request through the coordinator and writes the
// translated response.
func (s *Server) coordinate(w http.ResponseWriter, r *http.Request, rc models.RequestContext, operation string, args any) {
	raw, err := json.Marshal(args)
	if err != nil {
		WriteError(w, s.log, rc, err)
		return
	}
	res, err := s.coord.Handle(r.Context(), coordinator.Request{
		Context:      rc,
		Operation:    operation,
		Args:         json.RawMessage(raw),
		WaitTime:     waitTimeFromRequest(r),
		FirstAttempt: firstAttemptFromRequest(r),
	})
	if err != nil {
		WriteError(w, s.log, rc, err)
		return
	}
	WriteResult(w, s.log, rc, res)
}

func (s *Server) handleGrantBundle(w http.ResponseWriter, r *http.Request) {
	userKey, ok := s.authorize(w, r, true)
	if !ok {
		return
	}
	args := bundles.GrantArgs{BundleID: chi.URLParam(r, "bundleId")}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"status":"invalid_request"}`, http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			http.Error(w, `{"status":"invalid_request"}`, http.StatusBadRequest)
			return
		}
		args.BundleID = chi.URLParam(r, "bundleId")
	}
	s.coordinate(w, r, requestContext(r, userKey), "bundle:grant", args)
}

func (s *Server) handleDeleteBundle(w http.ResponseWriter, r *http.Request) {
	userKey, ok := s.authorize(w, r, true)
	if !ok {
		return
	}
	args := bundles.GrantArgs{BundleID: chi.URLParam(r, "bundleId")}
	s.coordinate(w, r, requestContext(r, userKey), "bundle:delete", args)
}

func (s *Server) handleListBundles(w http.ResponseWriter, r *http.Request) {
	userKey, ok := s.authorize(w, r, false)
	if !ok {
		return
	}
	grants, err := s.bundles.List(r.Context(), userKey)
	if err != nil {
		http.Error(w, `{"status":"internal_error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bundles": grants})
}

func (s *Server) handleSubmitReturn(w http.ResponseWriter, r *http.Request) {
	userKey, ok := s.authorize(w, r, true)
	if !ok {
		return
	}
	var args vat.SubmitArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		http.Error(w, `{"status":"invalid_request"}`, http.StatusBadRequest)
		return
	}
	// Malformed submissions are rejected here, before anything reaches the
	// store or the queue.
	if args.VRN == "" || args.Return.PeriodKey == "" {
		http.Error(w, `{"status":"invalid_request","message":"vrn and periodKey are required"}`, http.StatusBadRequest)
		return
	}
	if !args.Return.Finalised {
		http.Error(w, `{"status":"invalid_request","message":"return must be finalised"}`, http.StatusBadRequest)
		return
	}
	s.coordinate(w, r, requestContext(r, userKey), "vat:submit", args)
}

func (s *Server) handleObligations(w http.ResponseWriter, r *http.Request) {
	userKey, ok := s.authorize(w, r, false)
	if !ok {
		return
	}
	q := r.URL.Query()
	args := vat.ObligationsArgs{
		VRN:    q.Get("vrn"),
		From:   q.Get("from"),
		To:     q.Get("to"),
		Status: q.Get("status"),
	}
	if args.VRN == "" {
		http.Error(w, `{"status":"invalid_request","message":"vrn is required"}`, http.StatusBadRequest)
		return
	}
	s.coordinate(w, r, requestContext(r, userKey), "vat:obligations", args)
}

// handleDLQ returns dead-lettered payload summaries for operators.
func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}})
		return
	}
	items, err := s.queue.DLQPeek(r.Context(), 100)
	if err != nil {
		http.Error(w, `{"status":"internal_error"}`, http.StatusInternalServerError)
		return
	}
	summaries := make([]map[string]any, 0, len(items))
	for _, p := range items {
		summaries = append(summaries, map[string]any{
			"userKey":   p.UserKey,
			"requestId": p.RequestID,
			"operation": p.Operation,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": summaries})
}
