// Package relay exposes conversion jobs over HTTP for browser-hosted UIs.
//
// Routes:
//
//	GET    /healthz
//	POST   /jobs                {inputPath, quality} as application/json
//	GET    /jobs/{id}
//	DELETE /jobs/{id}           cancel
//	POST   /jobs/{id}/discard
//	GET    /jobs/{id}/events    websocket stream of progress events
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"reels-studio/internal/convert"
	"reels-studio/internal/domain"
	"reels-studio/internal/logging"
)

const (
	writeWait       = 10 * time.Second
	shutdownTimeout = 10 * time.Second
	maxRequestBytes = 1 << 16
)

// Conversions is the job API the relay serves.
type Conversions interface {
	Start(ctx context.Context, inputPath string, preset domain.QualityPreset) (string, error)
	Snapshot(id string) (domain.ConversionJob, error)
	Cancel(id string) error
	Discard(id string) error
	Subscribe(id string) (<-chan domain.ProgressEvent, func())
	DiscardFinishedBefore(cutoff time.Time) int
}

// Options configures a Server.
type Options struct {
	Logger *slog.Logger
	// DefaultQuality applies when a request omits quality.
	DefaultQuality domain.QualityPreset
	// Retention is how long finished jobs stay queryable; zero keeps them
	// until discarded.
	Retention time.Duration
	// AllowedOrigins lists browser origins besides the relay's own that may
	// call the API.
	AllowedOrigins []string
}

// Server translates HTTP requests into controller calls.
type Server struct {
	conv           Conversions
	logger         *slog.Logger
	defaultQuality domain.QualityPreset
	retention      time.Duration
	checkOrigin    func(*http.Request) bool
	upgrader       websocket.Upgrader
}

// StartRequest is the POST /jobs body.
type StartRequest struct {
	InputPath string `json:"inputPath"`
	Quality   string `json:"quality,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	JobID string `json:"jobId,omitempty"`
}

// New constructs a relay server over conv.
func New(conv Conversions, opts Options) *Server {
	quality := opts.DefaultQuality
	if quality == "" {
		quality = domain.QualityMedium
	}
	checkOrigin := originChecker(opts.AllowedOrigins)
	return &Server{
		conv:           conv,
		logger:         logging.NewComponentLogger(opts.Logger, "relay"),
		defaultQuality: quality,
		retention:      opts.Retention,
		checkOrigin:    checkOrigin,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin,
		},
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Route("/jobs", func(r chi.Router) {
		r.Use(s.rejectForeignOrigins)
		r.With(middleware.AllowContentType("application/json")).Post("/", s.handleStart)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleStatus)
			r.Delete("/", s.handleCancel)
			r.Post("/discard", s.handleDiscard)
			r.Get("/events", s.handleEvents)
		})
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.retention > 0 {
		sweepCtx, stopSweep := context.WithCancel(ctx)
		defer stopSweep()
		go s.sweepFinished(sweepCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", logging.String("addr", addr))
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown relay: %w", err)
	}
	return nil
}

// sweepFinished discards expired jobs until ctx is done.
func (s *Server) sweepFinished(ctx context.Context) {
	ticker := time.NewTicker(min(s.retention, time.Minute))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.discardExpired(now)
		}
	}
}

func (s *Server) discardExpired(now time.Time) int {
	dropped := s.conv.DiscardFinishedBefore(now.Add(-s.retention))
	if dropped > 0 {
		s.logger.Debug("discarded finished jobs", logging.Int("count", dropped))
	}
	return dropped
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.InputPath) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "inputPath is required"})
		return
	}

	preset := s.defaultQuality
	if strings.TrimSpace(req.Quality) != "" {
		parsed, err := domain.ParseQualityPreset(req.Quality)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		preset = parsed
	}

	id, err := s.conv.Start(r.Context(), req.InputPath, preset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	job, err := s.conv.Snapshot(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+id)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.conv.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.conv.Cancel(id); err != nil {
		s.writeError(w, err)
		return
	}
	job, err := s.conv.Snapshot(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if err := s.conv.Discard(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps controller errors to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := ErrorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var convErr *convert.ConversionError
	if errors.As(err, &convErr) {
		body.Kind = string(convErr.Kind)
		body.JobID = convErr.JobID
	}

	switch {
	case errors.Is(err, convert.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, convert.ErrJobNotTerminal):
		status = http.StatusConflict
	case errors.Is(err, convert.ErrShuttingDown):
		status = http.StatusServiceUnavailable
	case body.Kind == string(convert.KindAlreadyInProgress):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("relay request failed", logging.Error(err))
	}
	writeJSON(w, status, body)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("elapsed", time.Since(started)),
			logging.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// rejectForeignOrigins refuses browser requests from pages the relay does not
// serve or trust. Requests without an Origin header are not from a browser page.
func (s *Server) rejectForeignOrigins(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.checkOrigin(r) {
			writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "origin not allowed"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// originChecker accepts requests without an Origin, same-origin requests and
// the listed origins.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		set[strings.TrimRight(strings.TrimSpace(origin), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set[origin] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
