package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"holo/internal/api"
	"holo/internal/config"
	"holo/internal/logging"
	"holo/internal/pipeline"
	"holo/internal/pipeline/remote"
	"holo/internal/services"
)

// multipart parts held in memory before spilling to temp files.
const multipartMemory = 8 << 20

// jobWatcher delivers job ids whose state changed.
type jobWatcher interface {
	Subscribe() (<-chan string, func())
}

type apiDeps struct {
	jobs     *api.JobService
	watcher  jobWatcher
	sidecar  *pipeline.Registry
	gatherer prometheus.Gatherer
}

type apiServer struct {
	bind        string
	maxUpload   int64
	logger      *slog.Logger
	daemon      *Daemon
	jobs        *api.JobService
	watcher     jobWatcher
	createLimit *createLimiter
	upgrader    *websocket.Upgrader
	handler     http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, deps apiDeps, logger *slog.Logger) *apiServer {
	origins := newOriginPolicy(cfg.API.CORSOrigins)
	s := &apiServer{
		bind:        strings.TrimSpace(cfg.API.Bind),
		maxUpload:   int64(cfg.API.MaxUploadMB) << 20,
		logger:      logging.NewComponentLogger(logger, "api"),
		daemon:      d,
		jobs:        deps.jobs,
		watcher:     deps.watcher,
		createLimit: newCreateLimiter(cfg.API.CreateRatePerMinute),
		upgrader:    newUpgrader(origins),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(corsMiddleware(origins))

	r.Get("/healthz", s.handleHealthz)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(cfg.API.Token))
		s.mountJobRoutes(r)
		r.Route("/v1", s.mountJobRoutes)
		r.Get("/status", s.handleStatus)
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.gatherer, promhttp.HandlerOpts{}))
		if deps.sidecar != nil {
			r.Method(http.MethodPost, remote.RunPath, remote.NewHandler(deps.sidecar, logger))
		}
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, api.ErrorResponse{Error: "method not allowed"})
	})
	s.handler = r
	return s
}

func (s *apiServer) mountJobRoutes(r chi.Router) {
	r.Post("/jobs", s.createLimit.wrap(s.handleCreateJob))
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/jobs/{id}/result", s.handleResult)
	r.Get("/jobs/{id}/artifacts", s.handleArtifacts)
	r.Get("/jobs/{id}/artifacts/*", s.handleArtifact)
	r.Get("/jobs/{id}/watch", s.handleWatch)
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error",
				logging.Error(err),
				logging.Event("api_server_failed"),
				logging.Hint("check the bind address and restart holod"),
			)
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
	}
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}

func (s *apiServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeJSON(w, http.StatusRequestEntityTooLarge, api.ErrorResponse{Error: "upload exceeds size limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "expected multipart/form-data body"})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := formFile(r, "image", "file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "image file is required"})
		return
	}
	defer file.Close()

	spec, err := formSpec(r, "bakeSpec", "spec")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "could not read bake spec"})
		return
	}

	resp, err := s.jobs.CreateJob(r.Context(), api.CreateJobRequest{
		Image:    file,
		Filename: header.Filename,
		Spec:     spec,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	logging.WithContext(r.Context(), s.logger).Info("job created",
		logging.JobID(resp.JobID),
		logging.Event("job_created"),
	)
	writeJSON(w, http.StatusCreated, resp)
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	views, err := s.jobs.ListJobs(r.Context(), query.Get("status"), query.Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	view, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *apiServer) handleResult(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.jobs.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.streamArtifact(w, r, artifact)
}

func (s *apiServer) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	list, err := s.jobs.Artifacts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *apiServer) handleArtifact(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.jobs.Artifact(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "*"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.streamArtifact(w, r, artifact)
}

func (s *apiServer) streamArtifact(w http.ResponseWriter, r *http.Request, artifact api.Artifact) {
	defer artifact.Body.Close()
	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, artifact.Body); err != nil {
		logging.WithContext(r.Context(), s.logger).Debug("artifact stream interrupted",
			logging.String("key", artifact.Key),
			logging.Error(err),
		)
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := api.StatusCode(err)
	if status >= http.StatusInternalServerError {
		details := services.Details(err)
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_request_failed",
			logging.String("path", r.URL.Path),
			logging.Hint(details.Hint),
			logging.Error(err),
		)
	}
	writeJSON(w, status, api.ErrorResponse{Error: api.PublicMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(payload)
}

func formFile(r *http.Request, names ...string) (multipart.File, *multipart.FileHeader, error) {
	var lastErr error = http.ErrMissingFile
	for _, name := range names {
		file, header, err := r.FormFile(name)
		if err == nil {
			return file, header, nil
		}
		lastErr = err
	}
	return nil, nil, lastErr
}

// formSpec accepts the spec as a text field or as an uploaded file.
func formSpec(r *http.Request, names ...string) ([]byte, error) {
	for _, name := range names {
		if value := r.FormValue(name); strings.TrimSpace(value) != "" {
			return []byte(value), nil
		}
		file, _, err := r.FormFile(name)
		if err != nil {
			continue
		}
		data, err := io.ReadAll(file)
		_ = file.Close()
		if err != nil {
			return nil, err
		}
		return data, nil
	}
	return nil, nil
}
