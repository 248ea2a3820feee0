// Package lifecycle drives one pairing attempt: it owns the protocol
// session, issues the pairing code, persists credential mutations,
// archives the finalized session, and applies reconnect policy on
// transient disconnects. Callers serialize managers through a pairguard
// so only one runs per process.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"pkt.systems/paird/internal/archive"
	"pkt.systems/paird/internal/credstore"
	"pkt.systems/paird/internal/loggingutil"
	"pkt.systems/paird/internal/protocol"
	"pkt.systems/paird/internal/storage"
)

// Pairing failures surfaced to the original caller.
var (
	// ErrPairingCode wraps protocol-client rejections of the pairing
	// code request; never retried.
	ErrPairingCode = errors.New("lifecycle: pairing code request failed")
	// ErrFlowEnded reports that the attempt finished before a response
	// was produced (e.g. the context died during initialization).
	ErrFlowEnded = errors.New("lifecycle: pairing flow ended before a response was issued")
	// ErrRetriesExhausted reports that reconnect attempts hit the
	// configured ceiling.
	ErrRetriesExhausted = errors.New("lifecycle: reconnect attempts exhausted")
	// ErrInvalidPhoneNumber reports that normalization left no digits.
	ErrInvalidPhoneNumber = errors.New("lifecycle: phone number contains no digits")
)

// eventBufferSize bounds the lifecycle event channel fed by protocol
// callbacks. Overflowing events are dropped with a warning rather than
// blocking the client's callback goroutine.
const eventBufferSize = 16

// Config assembles the collaborators for one manager.
type Config struct {
	Dialer      protocol.Dialer
	Adapter     storage.Adapter
	Credentials *credstore.Store
	Pipeline    *archive.Pipeline
	Logger      pslog.Logger

	// SettleDelay is waited before pairing-code issuance and again
	// before upload, letting trailing credential-update events from the
	// protocol client arrive and persist.
	SettleDelay time.Duration

	// Reconnect policy: capped exponential backoff, bounded attempts.
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int

	// ConfirmTarget receives the confirmation message; empty defaults
	// to the normalized pairing number.
	ConfirmTarget string
	// MediaPayload, when set, is sent as a supplementary message after
	// the confirmation.
	MediaPayload []byte

	// Restore skips pairing-code issuance and proceeds straight from
	// initialization with previously archived credentials.
	Restore bool

	// OnReconnect fires each time a reconnect is scheduled.
	OnReconnect func()
	// OnArchiveError fires when the upload pipeline reports a failure,
	// partial or total.
	OnArchiveError func(error)
}

// Outcome is the single response produced per pairing request.
type Outcome struct {
	Code string
	Err  error
}

// Manager runs the Idle → Initializing → AwaitingPairing → Linking →
// Linked → Closed state machine for one pairing attempt.
type Manager struct {
	cfg    Config
	logger pslog.Logger

	state  stateVar
	events chan protocol.Event

	respondOnce sync.Once
	outcome     chan Outcome

	cleanupOnce sync.Once
	cleanup     func()
}

// New constructs a manager. cleanup runs exactly once when the flow
// ends, regardless of which branch ended it; callers release the guard
// and close the working adapter there.
func New(cfg Config, cleanup func()) (*Manager, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("lifecycle: dialer is required")
	}
	if cfg.Adapter == nil || cfg.Credentials == nil {
		return nil, fmt.Errorf("lifecycle: storage adapter and credential store are required")
	}
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("lifecycle: archive pipeline is required")
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = 500 * time.Millisecond
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = 30 * time.Second
	}
	if cfg.ReconnectMaxAttempts <= 0 {
		cfg.ReconnectMaxAttempts = 10
	}
	// UUIDv7 so attempt ids in logs sort by start time.
	attemptID := uuid.Must(uuid.NewV7()).String()
	return &Manager{
		cfg:     cfg,
		logger:  loggingutil.WithSubsystem(cfg.Logger, "lifecycle").With("attempt_id", attemptID),
		events:  make(chan protocol.Event, eventBufferSize),
		outcome: make(chan Outcome, 1),
		cleanup: cleanup,
	}, nil
}

// State reports the manager's current position in the flow.
func (m *Manager) State() State { return m.state.get() }

// Outcome delivers the at-most-once response for the original caller.
func (m *Manager) Outcome() <-chan Outcome { return m.outcome }

// respond writes the caller's response exactly once. Later calls are
// no-ops, so an error path that already answered cannot be overwritten
// by a success (or vice versa).
func (m *Manager) respond(code string, err error) {
	m.respondOnce.Do(func() {
		m.outcome <- Outcome{Code: code, Err: err}
	})
}

func (m *Manager) runCleanup() {
	m.cleanupOnce.Do(func() {
		if m.cleanup != nil {
			m.cleanup()
		}
	})
}

func (m *Manager) setState(next State) {
	prev := m.state.get()
	m.state.set(next)
	m.logger.Debug("lifecycle.transition", "from", prev.String(), "to", next.String())
}

// Run drives the full flow. It blocks until the flow reaches Closed, so
// callers normally run it on its own goroutine and wait on Outcome for
// the pairing response. Whatever happens, cleanup executes exactly once
// and the caller receives exactly one response.
func (m *Manager) Run(ctx context.Context, phone string) {
	defer m.runCleanup()
	defer m.respond("", ErrFlowEnded)
	defer m.setState(StateClosed)

	reconnects := 0
	for {
		again, err := m.runAttempt(ctx, phone)
		if err != nil {
			m.logger.Warn("lifecycle.attempt_failed", "error", err, "reconnects", reconnects)
		}
		if !again {
			return
		}
		reconnects++
		if reconnects > m.cfg.ReconnectMaxAttempts {
			m.logger.Error("lifecycle.reconnect_exhausted", "attempts", reconnects-1)
			m.respond("", ErrRetriesExhausted)
			return
		}
		m.setState(StateReconnecting)
		if m.cfg.OnReconnect != nil {
			m.cfg.OnReconnect()
		}
		delay := m.backoff(reconnects)
		m.logger.Info("lifecycle.reconnecting", "attempt", reconnects, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// backoff returns the capped exponential delay for the nth reconnect.
func (m *Manager) backoff(attempt int) time.Duration {
	delay := m.cfg.ReconnectBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.cfg.ReconnectMaxDelay {
			return m.cfg.ReconnectMaxDelay
		}
	}
	if delay > m.cfg.ReconnectMaxDelay {
		delay = m.cfg.ReconnectMaxDelay
	}
	return delay
}

// runAttempt performs one Initializing → ... pass. again=true requests a
// reconnect after a transient disconnect.
func (m *Manager) runAttempt(ctx context.Context, phone string) (again bool, err error) {
	m.setState(StateInitializing)
	m.drainStaleEvents()

	bundle, err := m.cfg.Credentials.Load(ctx)
	if err != nil {
		m.respond("", err)
		return false, err
	}

	session, err := m.cfg.Dialer.Dial(ctx, bundle, bundle)
	if err != nil {
		err = fmt.Errorf("lifecycle: create session: %w", err)
		m.respond("", err)
		return false, err
	}
	ended := false
	endSession := func() {
		if ended {
			return
		}
		ended = true
		if err := session.End(); err != nil {
			m.logger.Warn("lifecycle.session_end_failed", "error", err)
		}
	}
	defer endSession()

	session.OnCredentialUpdate(func(update credstore.Update) {
		if err := m.cfg.Credentials.Save(ctx, bundle, update); err != nil {
			m.logger.Error("lifecycle.credential_save_failed", "error", err)
		}
	})
	session.OnLifecycleEvent(func(ev protocol.Event) {
		select {
		case m.events <- ev:
		default:
			m.logger.Warn("lifecycle.event_dropped", "kind", int(ev.Kind), "reason", ev.Reason.String())
		}
	})

	target := m.cfg.ConfirmTarget
	if !bundle.Registered() && !m.cfg.Restore {
		m.setState(StateAwaitingPairing)
		if err := m.settle(ctx); err != nil {
			return false, err
		}
		normalized := NormalizePhoneNumber(phone)
		if normalized == "" {
			m.respond("", ErrInvalidPhoneNumber)
			return false, ErrInvalidPhoneNumber
		}
		if target == "" {
			target = normalized
		}
		code, err := session.RequestPairingCode(ctx, normalized)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrPairingCode, err)
			m.respond("", err)
			return false, err
		}
		m.logger.Info("lifecycle.pairing_code_issued", "number", normalized)
		m.respond(FormatPairingCode(code), nil)
	} else {
		// Registered credentials (restore path): no code to issue, the
		// caller just learns the flow is underway.
		m.respond("", nil)
	}

	m.setState(StateLinking)
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case ev := <-m.events:
			switch ev.Kind {
			case protocol.EventLinked:
				m.setState(StateLinked)
				m.finalize(ctx, session, target)
				endSession()
				return false, nil
			case protocol.EventDisconnected:
				if ev.Reason.Terminal() {
					m.logger.Info("lifecycle.terminal_disconnect", "reason", ev.Reason.String())
					endSession()
					return false, nil
				}
				m.logger.Warn("lifecycle.transient_disconnect", "reason", ev.Reason.String())
				endSession()
				return true, nil
			}
		}
	}
}

// drainStaleEvents discards events queued by a previous attempt's
// session. Its callback stays registered after End, so a late duplicate
// (say a second Disconnected) could otherwise be consumed by the next
// attempt and burn a reconnect.
func (m *Manager) drainStaleEvents() {
	for {
		select {
		case ev := <-m.events:
			m.logger.Debug("lifecycle.stale_event_dropped",
				"kind", int(ev.Kind), "reason", ev.Reason.String())
		default:
			return
		}
	}
}

// finalize archives the session material and sends the confirmation.
// The HTTP response is long gone by now, so failures here surface only
// through logs; the confirmation message stays best-effort.
func (m *Manager) finalize(ctx context.Context, session protocol.Session, target string) {
	if err := m.settle(ctx); err != nil {
		m.logger.Warn("lifecycle.finalize_interrupted", "error", err)
		return
	}
	sessionID, err := m.cfg.Pipeline.Archive(ctx, m.cfg.Adapter)
	if err != nil {
		if m.cfg.OnArchiveError != nil {
			m.cfg.OnArchiveError(err)
		}
		var uploadErr *archive.UploadError
		if errors.As(err, &uploadErr) {
			m.logger.Warn("lifecycle.archive_partial",
				"session_id", sessionID,
				"failed", len(uploadErr.Failed),
				"error", err)
		} else {
			m.logger.Error("lifecycle.archive_failed", "error", err)
			return
		}
	}
	if sessionID != "" && target != "" {
		confirmation := fmt.Sprintf("Linked successfully. Your session id is %s. Keep it to restore this session later.", sessionID)
		if err := session.SendMessage(ctx, target, []byte(confirmation)); err != nil {
			m.logger.Warn("lifecycle.confirmation_failed", "session_id", sessionID, "error", err)
		}
		if len(m.cfg.MediaPayload) > 0 {
			if err := session.SendMessage(ctx, target, m.cfg.MediaPayload); err != nil {
				m.logger.Warn("lifecycle.media_message_failed", "session_id", sessionID, "error", err)
			}
		}
	}
	if err := m.cfg.Credentials.Wipe(ctx); err != nil {
		m.logger.Warn("lifecycle.wipe_failed", "error", err)
	}
	m.logger.Info("lifecycle.linked", "session_id", sessionID)
}

// settle waits the configured drain delay so trailing credential writes
// land before the bundle is considered final.
func (m *Manager) settle(ctx context.Context) error {
	if m.cfg.SettleDelay <= 0 {
		return nil
	}
	select {
	case <-time.After(m.cfg.SettleDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
