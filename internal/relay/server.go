package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/nhle/swipe/internal/credential"
	"github.com/nhle/swipe/internal/logging"
	"github.com/nhle/swipe/internal/model"
	"github.com/nhle/swipe/internal/source"
)

// Clearer applies a remote mutation to a batch of ids and reconciles the
// slot afterwards.
type Clearer interface {
	Apply(
		ctx context.Context,
		op model.Operation,
		ids []string,
		cred credential.Credential,
		workspaceID string,
	) (*model.BatchResult, error)
}

// PushRequest is the body of PUT /api/sync.
type PushRequest struct {
	Notifications []model.NotificationBundle `json:"notifications" validate:"dive"`
	Credential    string                     `json:"credential"`
	WorkspaceID   string                     `json:"workspaceId" validate:"required"`
	Producer      string                     `json:"producer"`
}

// PushResponse acknowledges a push.
type PushResponse struct {
	Accepted bool `json:"accepted"`
	Count    int  `json:"count"`
}

// ClearRequest is the body of POST /api/sync/clear.
type ClearRequest struct {
	IDs       []string        `json:"ids" validate:"required,min=1,dive,required"`
	Operation model.Operation `json:"operation" validate:"omitempty,oneof=clear mark-read"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	AgeSeconds *int64 `json:"ageSeconds,omitempty"`
}

// Error codes.
const (
	codeNotFound     = "not_found"
	codeBadRequest   = "bad_request"
	codeNoCredential = "no_credential"
	codeExpired      = "credential_expired"
	codeInternal     = "internal"
)

// Server is the relay HTTP API.
type Server struct {
	store          Store
	clearer        Clearer
	hub            *Hub
	validate       *validator.Validate
	logger         zerolog.Logger
	now            Clock
	maxBodyBytes   int64
	originPatterns []string
	router         chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithClock replaces the server clock used to stamp pushes.
func WithClock(now Clock) Option {
	return func(s *Server) { s.now = now }
}

// WithMaxBodyBytes limits request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithOriginPatterns allows cross-origin websocket watchers.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// defaultMaxBodyBytes is used when no limit is configured.
const defaultMaxBodyBytes = 4 << 20

// NewServer creates a relay server around store. clearer may be nil, in
// which case clear requests fail with 503.
func NewServer(store Store, clearer Clearer, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		store:        store,
		clearer:      clearer,
		hub:          NewHub(),
		validate:     validator.New(),
		logger:       logger.With().Str("component", "relay").Logger(),
		now:          time.Now,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api/sync", func(r chi.Router) {
		r.Put("/", s.handlePush)
		r.Post("/push", s.handlePush)
		r.Get("/", s.handlePull)
		r.Delete("/", s.handleDelete)
		r.Post("/clear", s.handleClear)
		r.Get("/watch", s.handleWatch)
	})

	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("relay listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down relay: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req PushRequest
	if !s.decode(w, r, &req) {
		return
	}

	rec := model.RelayRecord{
		Notifications: req.Notifications,
		Credential:    req.Credential,
		WorkspaceID:   req.WorkspaceID,
		Producer:      req.Producer,
		CreatedAt:     s.now(),
	}
	if err := s.store.Put(r.Context(), rec); err != nil {
		s.logger.Error().Err(err).Msg("failed to store snapshot")
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to store snapshot")
		return
	}

	count := len(req.Notifications)
	s.logger.Info().
		Int("count", count).
		Str("workspace_id", req.WorkspaceID).
		Str("producer", req.Producer).
		Msg("snapshot replaced")
	s.hub.Publish(Event{Type: EventReplaced, Count: count, At: rec.CreatedAt})

	writeJSON(w, http.StatusOK, PushResponse{Accepted: true, Count: count})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context())
	if errors.Is(err, ErrNotFound) {
		resp := ErrorResponse{
			Error:   codeNotFound,
			Message: "no sync data available; open the web app so the producer can push",
		}
		if age, ok, ageErr := s.store.Age(r.Context()); ageErr == nil && ok {
			secs := int64(age / time.Second)
			resp.AgeSeconds = &secs
			resp.Message = "sync data expired; waiting for a fresh push"
		}
		writeJSON(w, http.StatusNotFound, resp)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read snapshot")
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to read snapshot")
		return
	}

	writeJSON(w, http.StatusOK, rec.Snapshot())
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("failed to delete snapshot")
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to delete snapshot")
		return
	}
	s.hub.Publish(Event{Type: EventDeleted, At: s.now()})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req ClearRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Operation == "" {
		req.Operation = model.OperationClear
	}
	if s.clearer == nil {
		writeError(w, http.StatusServiceUnavailable, codeInternal, "clearing is not enabled on this relay")
		return
	}

	// A missing or expired slot simply has no credential; the clearer
	// reports that.
	rec, err := s.store.Get(r.Context())
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Error().Err(err).Msg("failed to read snapshot")
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to read snapshot")
		return
	}

	result, err := s.clearer.Apply(r.Context(), req.Operation, req.IDs,
		credential.Credential(rec.Credential), rec.WorkspaceID)
	switch {
	case errors.Is(err, source.ErrNoCredential):
		writeError(w, http.StatusPreconditionFailed, codeNoCredential,
			"no credential available; open the web app so the producer can push")
		return
	case errors.Is(err, source.ErrCredentialExpired):
		writeError(w, http.StatusUnauthorized, codeExpired, "session expired; sign in to the web app again")
		return
	case err != nil:
		s.logger.Error().Err(err).Str("operation", string(req.Operation)).Msg("clear failed")
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	s.logger.Info().
		Str("operation", string(req.Operation)).
		Int("requested", len(req.IDs)).
		Int("failed", result.Failed()).
		Int("remaining", result.RemainingCount).
		Msg("batch applied")
	s.hub.Publish(Event{Type: EventReconciled, Count: result.RemainingCount, At: s.now()})

	writeJSON(w, http.StatusOK, result)
}

// decode reads a size-limited JSON body into v and validates it. It
// writes the error response itself and reports whether to continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codeBadRequest, "request body too large")
			return false
		}
		s.logger.Warn().Err(err).Msg("failed to decode request body")
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return false
	}

	if err := s.validate.Struct(v); err != nil {
		s.logger.Warn().Err(err).Msg("failed to validate request body")
		writeError(w, http.StatusBadRequest, codeBadRequest, "validation error: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
