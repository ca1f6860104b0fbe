package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cp818/scribe/internal/audio"
	"github.com/cp818/scribe/internal/config"
	"github.com/cp818/scribe/internal/metrics"
	"github.com/cp818/scribe/internal/session"
)

// Server provides the HTTP API for session control, transcript and
// note retrieval, the live event feed, and monitoring.
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	manager  *session.Manager
	server   *http.Server
	startRFC string
}

// NewServer creates a new HTTP API server.
func NewServer(cfg *config.Config, manager *session.Manager, logger *slog.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		config:   cfg,
		logger:   logger,
		metrics:  m,
		manager:  manager,
		startRFC: time.Now().UTC().Format(time.RFC3339),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.withMetrics("/sessions", s.handleStartSession))
	mux.HandleFunc("GET /sessions", s.withMetrics("/sessions", s.handleListSessions))
	mux.HandleFunc("GET /sessions/{id}", s.withMetrics("/sessions/{id}", s.handleGetSession))
	mux.HandleFunc("POST /sessions/{id}/stop", s.withMetrics("/sessions/{id}/stop", s.handleStopSession))
	mux.HandleFunc("GET /sessions/{id}/transcript", s.withMetrics("/sessions/{id}/transcript", s.handleGetTranscript))
	mux.HandleFunc("GET /sessions/{id}/note", s.withMetrics("/sessions/{id}/note", s.handleGetNote))
	mux.HandleFunc("GET /sessions/{id}/events", s.handleSessionEvents)
	mux.HandleFunc("GET /health", s.withMetrics("/health", s.handleHealth))
	mux.HandleFunc("GET /config", s.withMetrics("/config", s.handleConfig))
	mux.HandleFunc("GET /stats", s.withMetrics("/stats", s.handleStats))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /{$}", s.withMetrics("/", s.handleRoot))

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // event feed and long stops manage their own deadlines
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins serving HTTP requests. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", slog.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// responseWriter captures the status code for metrics.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// withMetrics wraps a handler with request metrics and logging. The
// path label is the route pattern, not the raw URL, to bound metric
// cardinality.
func (s *Server) withMetrics(pattern string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(rw, r)

		duration := time.Since(start)
		s.metrics.RecordHTTPRequest(r.Method, pattern, fmt.Sprintf("%d", rw.statusCode), duration.Seconds())

		s.logger.Debug("HTTP request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.statusCode),
			slog.Duration("duration", duration))
	}
}

// handleStartSession starts a new recording session. The request body
// is optional JSON with patient and clinician metadata. An unavailable
// audio input maps to 503.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req session.StartRequest
	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				s.writeError(w, http.StatusBadRequest, "invalid JSON request body")
				return
			}
		}
	}

	sess, err := s.manager.StartSession(r.Context(), req)
	if err != nil {
		if errors.Is(err, audio.ErrAudioResource) {
			s.logger.Error("audio input unavailable", slog.String("error", err.Error()))
			s.writeError(w, http.StatusServiceUnavailable, "audio input unavailable")
			return
		}
		s.logger.Error("failed to start session", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sess.ID,
		"state":      sess.State(),
		"start_time": sess.StartTime,
	})
}

// handleListSessions returns statistics for all registered sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.manager.GetAllSessions()

	stats := make([]session.Stats, 0, len(sessions))
	for _, sess := range sessions {
		stats = append(stats, sess.GetStats())
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"sessions": stats,
		"count":    len(stats),
	})
}

// handleGetSession returns one session's statistics.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.manager.GetSession(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	s.writeJSON(w, http.StatusOK, sess.GetStats())
}

// handleStopSession stops a session and returns the final note. The
// response waits for the full stop sequence, including the forced
// final regeneration.
func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.manager.GetSession(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	finalNote, err := sess.Stop(r.Context())
	if err != nil {
		s.logger.Error("failed to stop session",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "failed to stop session")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"state":      sess.State(),
		"transcript": sess.Transcript(),
		"note":       finalNote,
	})
}

// handleGetTranscript returns the accumulated transcript.
func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.manager.GetSession(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"text":       sess.Transcript(),
		"segments":   sess.Segments(),
	})
}

// handleGetNote returns the latest committed note.
func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.manager.GetSession(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	n := sess.CurrentNote()
	if n == nil {
		s.writeError(w, http.StatusNotFound, "no note committed yet")
		return
	}

	s.writeJSON(w, http.StatusOK, n)
}

// handleHealth returns service health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"start_time": s.startRFC,
		"sessions":   len(s.manager.GetAllSessions()),
	})
}

// handleConfig returns the active configuration with secrets redacted.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"http": map[string]any{
			"address": s.config.HTTP.Address,
			"port":    s.config.HTTP.Port,
		},
		"capture": map[string]any{
			"sample_rate":    s.config.Capture.SampleRate,
			"channels":       s.config.Capture.Channels,
			"bit_depth":      s.config.Capture.BitDepth,
			"chunk_duration": s.config.Capture.ChunkDuration,
			"device":         s.config.Capture.Device,
		},
		"transcription": map[string]any{
			"endpoint": s.config.Transcription.Endpoint,
			"timeout":  s.config.Transcription.Timeout,
			"language": s.config.Transcription.Language,
			"model":    s.config.Transcription.Model,
		},
		"generation": map[string]any{
			"endpoint":      s.config.Generation.Endpoint,
			"model":         s.config.Generation.Model,
			"token_timeout": s.config.Generation.TokenTimeout,
		},
		"scheduler": map[string]any{
			"debounce_interval": s.config.Scheduler.DebounceInterval,
			"max_out_of_order":  s.config.Scheduler.MaxOutOfOrder,
			"session_timeout":   s.config.Scheduler.SessionTimeout,
		},
	})
}

// handleStats returns aggregate service statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sessions := s.manager.GetAllSessions()

	active := 0
	stats := make([]session.Stats, 0, len(sessions))
	for _, sess := range sessions {
		st := sess.GetStats()
		if st.State != session.StateStopped {
			active++
		}
		stats = append(stats, st)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"start_time":      s.startRFC,
		"sessions_total":  len(sessions),
		"sessions_active": active,
		"sessions":        stats,
	})
}

// handleRoot returns API documentation.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": "scribe",
		"endpoints": map[string]string{
			"POST /sessions":                "Start a recording session (optional patient/clinician metadata)",
			"GET /sessions":                 "List sessions",
			"GET /sessions/{id}":            "Session statistics",
			"POST /sessions/{id}/stop":      "Stop a session and return the final note",
			"GET /sessions/{id}/transcript": "Accumulated transcript",
			"GET /sessions/{id}/note":       "Latest committed note",
			"GET /sessions/{id}/events":     "Live event feed (WebSocket)",
			"GET /health":                   "Health check",
			"GET /config":                   "Active configuration (secrets redacted)",
			"GET /stats":                    "Aggregate statistics",
			"GET /metrics":                  "Prometheus metrics",
		},
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
