package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"secsync/internal/config"
	"secsync/internal/domain"
	"secsync/internal/export"
	"secsync/internal/metrics"
	"secsync/internal/models"
	"secsync/internal/worker"

	"github.com/rs/zerolog"
)

const (
	healthPath   = "/healthz"
	maxBodyBytes = 1 << 20
)

// QueueService is the part of the sync queue the HTTP API drives.
type QueueService interface {
	Enqueue(ctx context.Context, req worker.Request) (*models.SyncItem, error)
	Get(ctx context.Context, id string) (*models.SyncItem, error)
	List(ctx context.Context) ([]models.SyncItem, error)
	Discard(ctx context.Context, id string) (bool, error)
	FlushAll(ctx context.Context) (worker.FlushReport, error)
}

// ConnectivitySwitch reports and overrides the online state.
type ConnectivitySwitch interface {
	domain.ConnectivitySink
	Online() bool
}

// HTTPServer is the local intake API used by the admin app while the
// secretariat backend may be unreachable.
type HTTPServer struct {
	cfg    config.APIConfig
	queue  QueueService
	conn   ConnectivitySwitch
	server *http.Server
	auth   *HTTPAuth
	log    zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, queue QueueService, conn ConnectivitySwitch, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{cfg: cfg, queue: queue, conn: conn, log: zerolog.Nop()}
	if logger != nil {
		srv.log = logger.With().Str("component", "http").Logger()
	}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+healthPath, srv.handleHealth)
	mux.HandleFunc("POST /api/v1/queue", srv.handleEnqueue)
	mux.HandleFunc("GET /api/v1/queue", srv.handleList)
	mux.HandleFunc("POST /api/v1/queue/flush", srv.handleFlush)
	mux.HandleFunc("GET /api/v1/queue/export", srv.handleExport)
	mux.HandleFunc("GET /api/v1/queue/{id}", srv.handleGet)
	mux.HandleFunc("DELETE /api/v1/queue/{id}", srv.handleDiscard)
	mux.HandleFunc("GET /api/v1/connectivity", srv.handleConnectivity)
	mux.HandleFunc("POST /api/v1/connectivity", srv.handleSetConnectivity)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	return srv
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve runs the server on an existing listener.
func (s *HTTPServer) Serve(lis net.Listener) error {
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "online": s.conn.Online()})
}

func (s *HTTPServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req worker.Request
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	item, err := s.queue.Enqueue(r.Context(), req)
	if err != nil {
		s.writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, item)
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := s.queue.List(r.Context())
	if err != nil {
		s.writeQueueError(w, err)
		return
	}
	if items == nil {
		items = []models.SyncItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	item, err := s.queue.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleDiscard(w http.ResponseWriter, r *http.Request) {
	removed, err := s.queue.Discard(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeQueueError(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleFlush(w http.ResponseWriter, r *http.Request) {
	report, err := s.queue.FlushAll(r.Context())
	if err != nil {
		s.writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	items, err := s.queue.List(r.Context())
	if err != nil {
		s.writeQueueError(w, err)
		return
	}

	filename := fmt.Sprintf("queue_%s.xlsx", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := export.WriteQueueXLSX(w, items); err != nil {
		s.log.Error().Err(err).Msg("queue export failed")
	}
}

func (s *HTTPServer) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"online": s.conn.Online()})
}

func (s *HTTPServer) handleSetConnectivity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online *bool `json:"online"`
	}
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil || body.Online == nil {
		writeError(w, http.StatusBadRequest, "online is required")
		return
	}

	s.conn.SetOnline(r.Context(), *body.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": s.conn.Online()})
}

func (s *HTTPServer) writeQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidItem):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "item not found")
	case errors.Is(err, worker.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error().Err(err).Msg("queue operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
