package paird

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"pkt.systems/paird/internal/archive"
	"pkt.systems/paird/internal/credstore"
	"pkt.systems/paird/internal/lifecycle"
	"pkt.systems/paird/internal/loggingutil"
	"pkt.systems/paird/internal/pairguard"
	"pkt.systems/paird/internal/protocol"
	"pkt.systems/paird/internal/storage"
)

// Service is the pairing facade: it serializes flows through a guard,
// opens a fresh working store per attempt, and runs the connection
// lifecycle manager in the background while the caller waits for the
// single pairing response.
type Service struct {
	cfg    Config
	logger pslog.Logger

	guard  *pairguard.Guard
	dialer protocol.Dialer

	pipeline        *archive.Pipeline
	destinations    []archive.Destination
	archiveAdapters []storage.Adapter
	restoreRoot     storage.Adapter

	confirmTarget string
	mediaPayload  []byte

	telemetry *telemetry

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// NewService validates cfg, opens the configured archive destinations,
// and returns a ready service. The dialer must be supplied via
// WithDialer; everything else has defaults.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:       cfg,
		guard:     pairguard.New(),
		telemetry: newTelemetry(),
		runCtx:    runCtx,
		runCancel: runCancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = loggingutil.EnsureLogger(s.logger)

	for _, dsn := range cfg.Archives {
		dsn = strings.TrimSpace(dsn)
		if dsn == "" {
			continue
		}
		adapter, err := openAdapter(cfg, dsn, "archive")
		if err != nil {
			s.closeAdapters()
			runCancel()
			return nil, fmt.Errorf("open archive store %q: %w", dsn, err)
		}
		s.destinations = append(s.destinations, archive.AdapterDestination(dsn, adapter))
		s.archiveAdapters = append(s.archiveAdapters, adapter)
		if s.restoreRoot == nil {
			s.restoreRoot = adapter
		}
	}
	if len(s.destinations) == 0 {
		runCancel()
		return nil, fmt.Errorf("at least one archive destination is required")
	}
	if s.dialer == nil {
		s.closeAdapters()
		runCancel()
		return nil, fmt.Errorf("a protocol dialer is required (use WithDialer)")
	}

	pipeline, err := archive.New(archive.Config{
		SessionPrefix: cfg.SessionPrefix,
		Destinations:  s.destinations,
		Logger:        s.logger,
	})
	if err != nil {
		s.closeAdapters()
		runCancel()
		return nil, err
	}
	s.pipeline = pipeline
	return s, nil
}

// Pair starts a pairing flow for phone and returns the formatted
// pairing code. It blocks while another flow holds the guard; the flow
// itself keeps running in the background after the code is returned,
// through linking, archival, and cleanup.
func (s *Service) Pair(ctx context.Context, phone string) (string, error) {
	code, err := s.runFlow(ctx, phone, false, "")
	s.telemetry.observePair(err)
	return code, err
}

// Restore resumes a previously archived session identified by
// sessionID. The restored flow skips pairing-code issuance and, once
// linked, re-archives under a fresh identifier.
func (s *Service) Restore(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		err := fmt.Errorf("session id is required")
		s.telemetry.observeRestore(err)
		return err
	}
	_, err := s.runFlow(ctx, "", true, sessionID)
	s.telemetry.observeRestore(err)
	return err
}

func (s *Service) runFlow(ctx context.Context, phone string, restore bool, sessionID string) (string, error) {
	release, err := s.guard.Acquire(ctx)
	if err != nil {
		return "", err
	}
	s.telemetry.activeFlows.Inc()

	var adapter storage.Adapter
	if restore {
		adapter = storage.WithPrefix(s.restoreRoot, sessionID)
	} else {
		// Each pairing attempt gets its own working store; the token
		// scopes shared backends like sqlite.
		adapter, err = openAdapter(s.cfg, s.cfg.Store, uuid.Must(uuid.NewV7()).String())
		if err != nil {
			s.telemetry.activeFlows.Dec()
			release()
			return "", fmt.Errorf("open working store: %w", err)
		}
	}

	creds := credstore.New(adapter, s.logger)
	cleanup := func() {
		if err := adapter.Close(); err != nil {
			s.logger.Warn("service.adapter_close_failed", "error", err)
		}
		s.telemetry.activeFlows.Dec()
		release()
	}
	mgr, err := lifecycle.New(lifecycle.Config{
		Dialer:               s.dialer,
		Adapter:              adapter,
		Credentials:          creds,
		Pipeline:             s.pipeline,
		Logger:               s.logger,
		SettleDelay:          s.cfg.SettleDelay,
		ReconnectBaseDelay:   s.cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:    s.cfg.ReconnectMaxDelay,
		ReconnectMaxAttempts: s.cfg.ReconnectMaxAttempts,
		ConfirmTarget:        s.confirmTarget,
		MediaPayload:         s.mediaPayload,
		Restore:              restore,
		OnReconnect:          s.telemetry.reconnects.Inc,
		OnArchiveError:       func(error) { s.telemetry.archiveFailures.Inc() },
	}, cleanup)
	if err != nil {
		cleanup()
		return "", err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		mgr.Run(s.runCtx, phone)
	}()

	select {
	case out := <-mgr.Outcome():
		return out.Code, out.Err
	case <-ctx.Done():
		// The flow keeps running; the caller just stops waiting.
		return "", ctx.Err()
	}
}

// Close cancels any in-flight flow, waits for it to wind down, and
// closes the archive adapters.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.runCancel()
		s.wg.Wait()
		s.closeErr = s.closeAdapters()
	})
	return s.closeErr
}

func (s *Service) closeAdapters() error {
	var firstErr error
	for _, adapter := range s.archiveAdapters {
		if err := adapter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.archiveAdapters = nil
	return firstErr
}
