package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mediaflow/internal/api"
	"mediaflow/internal/config"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/metrics"
	"mediaflow/internal/services"
)

const maxRequestBody = 1 << 20

// statusSource is the part of the daemon the API renders.
type statusSource interface {
	Status(ctx context.Context) api.DaemonStatus
}

type apiServer struct {
	bind   string
	logger *slog.Logger
	status statusSource
	jobs   *api.JobService

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, status statusSource, svc *api.JobService, m *metrics.Metrics, logger *slog.Logger) *apiServer {
	if cfg == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil
	}
	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		status: status,
		jobs:   svc,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.API.Token, m),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(token))
		r.Get("/status", s.handleStatus)
		r.Get("/lock", s.handleLock)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleSubmit)
			r.Get("/", s.handleList)
			r.Get("/{id}", s.handleDescribe)
			r.Post("/{id}/cancel", s.handleCancel)
			r.Post("/{id}/stages/{stage}/retry", s.handleRetry)
			r.Post("/{id}/stages/{stage}/sync", s.handleSync)
		})
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

// Addr returns the listening address, or "" when the API is disabled.
func (s *apiServer) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status.Status(r.Context()))
}

func (s *apiServer) handleLock(w http.ResponseWriter, r *http.Request) {
	status := s.status.Status(r.Context())
	if status.Lock == nil {
		s.writeError(w, r, http.StatusNotFound, "no exclusive resource lock configured")
		return
	}
	s.writeJSON(w, http.StatusOK, status.Lock)
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var input jobs.Input
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	resp, err := s.jobs.Submit(r.Context(), input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, resp)
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	views, err := s.jobs.List(r.Context(), r.URL.Query()["status"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: views})
}

func (s *apiServer) handleDescribe(w http.ResponseWriter, r *http.Request) {
	view, err := s.jobs.Describe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	view, err := s.jobs.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	view, err := s.jobs.Retry(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "stage"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *apiServer) handleSync(w http.ResponseWriter, r *http.Request) {
	resp, err := s.jobs.Sync(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "stage"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	code := http.StatusOK
	if resp.Error != "" {
		code = http.StatusBadGateway
	}
	s.writeJSON(w, code, resp)
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := api.StatusCode(err)
	if code >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_request_failed",
			logging.Error(err),
			logging.String("path", r.URL.Path),
			logging.String(logging.FieldErrorHint, "check the job database"),
		)
	}
	s.writeError(w, r, code, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	resp := api.ErrorResponse{Error: message}
	if id, ok := services.RequestIDFromContext(r.Context()); ok {
		resp.RequestID = id
	}
	s.writeJSON(w, status, resp)
}
