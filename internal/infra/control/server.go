package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"voiceproc/internal/application"
	"voiceproc/internal/domain"
)

const maxBodyBytes = 4096

// Target is the pipeline the server drives. It is swapped whenever the
// process rebuilds its pipeline.
type Target interface {
	Dispatch(ev domain.Event) error
	EnableVoiceProcessing(ctx context.Context) error
	DisableVoiceProcessing(ctx context.Context) error
	Status() application.Status
}

// Server exposes event injection, voice-processing control, status and
// metrics over HTTP.
type Server struct {
	addr        string
	authToken   string
	logger      *slog.Logger
	mux         *http.ServeMux
	rateLimiter *RateLimiter

	mu      sync.Mutex
	server  *http.Server
	running bool

	targetMu sync.RWMutex
	target   Target
}

// NewServer builds the control server. A nil metrics handler leaves
// /metrics unregistered. trustProxy makes the rate limiter key clients on
// forwarding headers.
func NewServer(addr, authToken string, trustProxy bool, metrics http.Handler, logger *slog.Logger) *Server {
	s := &Server{
		addr:        addr,
		authToken:   authToken,
		logger:      logger.With("component", "control"),
		mux:         http.NewServeMux(),
		rateLimiter: NewRateLimiter(30, time.Minute, trustProxy), // 30 requests per minute per IP
	}

	s.mux.HandleFunc("POST /events/interruption", s.guard(s.handleInterruption))
	s.mux.HandleFunc("POST /events/route-change", s.guard(s.handleRouteChange))
	s.mux.HandleFunc("POST /events/configuration-change", s.guard(s.handleConfigurationChange))
	s.mux.HandleFunc("POST /events/media-services-reset", s.guard(s.handleMediaServicesReset))
	s.mux.HandleFunc("POST /voice-processing", s.guard(s.handleVoiceProcessing))
	// No rate limiting on read-only endpoints
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if metrics != nil {
		s.mux.Handle("GET /metrics", metrics)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) SetTarget(t Target) {
	s.targetMu.Lock()
	defer s.targetMu.Unlock()
	s.target = t
}

func (s *Server) currentTarget() Target {
	s.targetMu.RLock()
	defer s.targetMu.RUnlock()
	return s.target
}

func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Info("control server starting", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control server error", "error", err)
		}
	}()

	s.running = true
	return nil
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
		if err := s.server.Close(); err != nil {
			return fmt.Errorf("closing server: %w", err)
		}
	}

	s.running = false
	return nil
}

// guard applies rate limiting and token auth to mutating endpoints.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return s.rateLimiter.Middleware(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			token := r.Header.Get("X-Auth-Token")
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token != s.authToken {
				s.logger.Warn("unauthorized control request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	})
}

type interruptionRequest struct {
	Type string `json:"type"`
	// Raw carries an arbitrary interruption type value, including unknown ones.
	Raw *uint `json:"raw,omitempty"`
}

func (s *Server) handleInterruption(w http.ResponseWriter, r *http.Request) {
	var req interruptionRequest
	if !s.decode(w, r, &req) {
		return
	}

	var t domain.InterruptionType
	switch {
	case req.Raw != nil:
		t = domain.InterruptionType(*req.Raw)
	case req.Type == "began":
		t = domain.InterruptionBegan
	case req.Type == "ended":
		t = domain.InterruptionEnded
	default:
		http.Error(w, `type must be "began" or "ended"`, http.StatusBadRequest)
		return
	}

	s.dispatch(w, domain.Interruption{Type: t})
}

type routeChangeRequest struct {
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

func (s *Server) handleRouteChange(w http.ResponseWriter, r *http.Request) {
	var req routeChangeRequest
	if !s.decode(w, r, &req) {
		return
	}

	s.dispatch(w, domain.RouteChanged{
		Reason:      domain.ParseRouteChangeReason(req.Reason),
		Description: req.Description,
	})
}

type configurationChangeRequest struct {
	// Source defaults to the running graph.
	Source string `json:"source"`
}

func (s *Server) handleConfigurationChange(w http.ResponseWriter, r *http.Request) {
	var req configurationChangeRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.Source == "" {
		if t := s.currentTarget(); t != nil {
			req.Source = t.Status().GraphID
		}
	}

	s.dispatch(w, domain.ConfigurationChanged{Source: req.Source})
}

func (s *Server) handleMediaServicesReset(w http.ResponseWriter, _ *http.Request) {
	s.dispatch(w, domain.MediaServicesReset{})
}

type voiceProcessingRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleVoiceProcessing(w http.ResponseWriter, r *http.Request) {
	var req voiceProcessingRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		http.Error(w, "enabled is required", http.StatusBadRequest)
		return
	}

	t := s.currentTarget()
	if t == nil {
		http.Error(w, "pipeline not ready", http.StatusServiceUnavailable)
		return
	}

	var err error
	if *req.Enabled {
		err = t.EnableVoiceProcessing(r.Context())
	} else {
		err = t.DisableVoiceProcessing(r.Context())
	}
	if err != nil {
		s.logger.Error("switching voice processing", "enabled", *req.Enabled, "error", err)
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, t.Status())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	t := s.currentTarget()
	if t == nil {
		http.Error(w, "pipeline not ready", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, t.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	statusCode := http.StatusOK
	state := domain.StateIdle

	if t := s.currentTarget(); t != nil {
		state = t.Status().State
	}
	if state != domain.StateRunning {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	s.writeJSON(w, statusCode, map[string]any{"status": status, "state": state})
}

func (s *Server) dispatch(w http.ResponseWriter, ev domain.Event) {
	t := s.currentTarget()
	if t == nil {
		http.Error(w, "pipeline not ready", http.StatusServiceUnavailable)
		return
	}

	if err := t.Dispatch(ev); err != nil {
		s.writeError(w, err)
		return
	}

	s.logger.Info("event injected", "event", ev.Name())
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "event": ev.Name()})
}

// decode reads an optional JSON body. An empty body leaves v untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return false
	}
	if len(data) == 0 {
		return true
	}
	if err := json.Unmarshal(data, v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, application.ErrEventQueueFull):
		http.Error(w, "queue full, try again", http.StatusServiceUnavailable)
	case errors.Is(err, application.ErrCoordinatorStopped):
		http.Error(w, "pipeline restarting", http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response", "error", err)
	}
}
