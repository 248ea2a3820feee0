package paird

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"pkt.systems/pslog"

	"pkt.systems/paird/internal/lifecycle"
	"pkt.systems/paird/internal/loggingutil"
)

// Server exposes the pairing service over HTTP.
// Example:
//
//	cfg := paird.Config{Store: "mem://", Archives: []string{"disk:///var/lib/paird-archive"}}
//	srv, err := paird.NewServer(cfg, paird.WithDialer(&devclient.Dialer{}))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Start()
type Server struct {
	cfg    Config
	logger pslog.Logger
	svc    *Service

	httpSrv    *http.Server
	metricsSrv *http.Server

	readyOnce sync.Once
	readyCh   chan struct{}

	mu       sync.Mutex
	shutdown bool
	listener net.Listener
}

// NewServer constructs a paird server according to cfg. The same
// options accepted by NewService apply; WithDialer is mandatory.
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	cfg.applyDefaults()
	svc, err := NewService(cfg, opts...)
	if err != nil {
		return nil, err
	}
	logger := loggingutil.EnsureLogger(svc.logger)

	srv := &Server{
		cfg:     cfg,
		logger:  loggingutil.WithSubsystem(logger, "server"),
		svc:     svc,
		readyCh: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/pair", srv.handlePair)
	mux.HandleFunc("POST /v1/restore", srv.handleRestore)
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	srv.httpSrv = &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
		BaseContext: func(net.Listener) context.Context {
			return context.Background()
		},
	}

	if strings.TrimSpace(cfg.MetricsListen) != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", svc.MetricsHandler())
		srv.metricsSrv = &http.Server{Addr: cfg.MetricsListen, Handler: metricsMux}
	}
	return srv, nil
}

// Handler returns the API handler so paird can be mounted inside an
// existing mux when embedding the server into another program.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Service returns the underlying pairing service.
func (s *Server) Service() *Service {
	return s.svc
}

// Addr reports the bound API address once Start has begun listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// WaitReady blocks until the API listener is bound or ctx is done.
func (s *Server) WaitReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start begins serving requests and blocks until the server stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen (%s): %w", s.cfg.Listen, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.signalReady()
	s.logger.Info("listening", "address", ln.Addr().String())

	if s.metricsSrv != nil {
		go func() {
			s.logger.Info("metrics listening", "address", s.metricsSrv.Addr)
			if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics serve failed", "error", err)
			}
		}()
	}

	serveErr := s.httpSrv.Serve(ln)
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

// Shutdown gracefully stops the server, waits for an in-flight pairing
// flow to wind down, and closes the archive stores. The returned error
// is nil for clean shutdowns.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if s.metricsSrv != nil {
		if err := s.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics shutdown: %w", err)
		}
	}
	if ln != nil {
		_ = ln.Close()
	}
	return s.svc.Close()
}

// Close gracefully shuts the server down using a background context.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
	})
}

type pairRequest struct {
	Phone string `json:"phone"`
}

type pairResponse struct {
	Code string `json:"code"`
}

type restoreRequest struct {
	SessionID string `json:"session_id"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	code, err := s.svc.Pair(r.Context(), req.Phone)
	if err != nil {
		s.logger.Warn("pair request failed", "error", err)
		writeJSON(w, pairStatusCode(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, pairResponse{Code: code})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "session_id is required"})
		return
	}
	if err := s.svc.Restore(r.Context(), req.SessionID); err != nil {
		s.logger.Warn("restore request failed", "error", err)
		writeJSON(w, pairStatusCode(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "restoring"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

// pairStatusCode maps flow errors onto HTTP statuses: caller mistakes
// are 4xx, upstream protocol failures 502, everything else 500.
func pairStatusCode(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrInvalidPhoneNumber):
		return http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrPairingCode):
		return http.StatusBadGateway
	case errors.Is(err, lifecycle.ErrRetriesExhausted):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
