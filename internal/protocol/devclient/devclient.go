// Package devclient simulates the messaging-protocol client so the
// service can run end-to-end without network access to the real
// protocol: sessions hand out deterministic-looking pairing codes, rotate
// key material, and link themselves after a short delay. Production
// deployments inject a real client through the library API instead.
package devclient

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/paird/internal/credstore"
	"pkt.systems/paird/internal/loggingutil"
	"pkt.systems/paird/internal/protocol"
)

// Dialer creates simulated sessions.
type Dialer struct {
	// LinkDelay is how long after the pairing code request the session
	// pretends the user completed linking.
	LinkDelay time.Duration
	Logger    pslog.Logger
}

// Dial returns a simulated session bound to bundle.
func (d *Dialer) Dial(_ context.Context, bundle *credstore.Bundle, keys protocol.KeyStore) (protocol.Session, error) {
	linkDelay := d.LinkDelay
	if linkDelay <= 0 {
		linkDelay = 3 * time.Second
	}
	s := &session{
		bundle:    bundle,
		keys:      keys,
		linkDelay: linkDelay,
		logger:    loggingutil.WithSubsystem(d.Logger, "protocol.dev"),
		done:      make(chan struct{}),
	}
	// Registered credentials mean a restore: the link completes on its
	// own without a pairing code.
	if bundle.Registered() {
		go s.completeLink()
	}
	return s, nil
}

type session struct {
	bundle    *credstore.Bundle
	keys      protocol.KeyStore
	linkDelay time.Duration
	logger    pslog.Logger

	mu           sync.Mutex
	onCredential func(credstore.Update)
	onLifecycle  func(protocol.Event)
	pending      []protocol.Event
	ended        bool
	done         chan struct{}
}

// RequestPairingCode fabricates an 8-character code and schedules the
// simulated link.
func (s *session) RequestPairingCode(_ context.Context, number string) (string, error) {
	if strings.TrimSpace(number) == "" {
		return "", fmt.Errorf("devclient: empty phone number")
	}
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("devclient: generate code: %w", err)
	}
	code := strings.ToUpper(hex.EncodeToString(buf))
	go s.completeLink()
	s.logger.Info("devclient.pairing_code", "number", number, "code", code)
	return code, nil
}

// completeLink rotates a key, flips the registration flag, and emits the
// linked event after the configured delay, mimicking the real client's
// trailing credential updates.
func (s *session) completeLink() {
	select {
	case <-time.After(s.linkDelay):
	case <-s.done:
		return
	}
	material := make([]byte, 32)
	_, _ = rand.Read(material)
	s.keys.SetKey("1", material)
	s.emitCredential(credstore.Update{KeyIDs: []string{"1"}})

	s.bundle.SetRegistered(true)
	s.emitCredential(credstore.Update{Creds: true})

	s.emitLifecycle(protocol.Event{Kind: protocol.EventLinked})
}

func (s *session) emitCredential(update credstore.Update) {
	s.mu.Lock()
	fn := s.onCredential
	s.mu.Unlock()
	if fn != nil {
		fn(update)
	}
}

func (s *session) emitLifecycle(ev protocol.Event) {
	s.mu.Lock()
	if s.onLifecycle == nil {
		s.pending = append(s.pending, ev)
		s.mu.Unlock()
		return
	}
	fn := s.onLifecycle
	s.mu.Unlock()
	fn(ev)
}

func (s *session) SendMessage(_ context.Context, target string, payload []byte) error {
	s.logger.Info("devclient.message", "target", target, "bytes", len(payload))
	return nil
}

func (s *session) OnCredentialUpdate(fn func(credstore.Update)) {
	s.mu.Lock()
	s.onCredential = fn
	s.mu.Unlock()
}

// OnLifecycleEvent registers fn and flushes events that fired before
// registration.
func (s *session) OnLifecycleEvent(fn func(protocol.Event)) {
	s.mu.Lock()
	s.onLifecycle = fn
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, ev := range pending {
		fn(ev)
	}
}

func (s *session) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	s.ended = true
	close(s.done)
	return nil
}
