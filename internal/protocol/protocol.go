// Package protocol declares the opaque messaging-client capability the
// pairing service consumes. The cryptographic handshake, wire framing,
// and message delivery all live behind this boundary.
package protocol

import (
	"context"

	"pkt.systems/paird/internal/credstore"
)

// DisconnectReason classifies why a session ended.
type DisconnectReason int

const (
	ReasonUnknown DisconnectReason = iota
	ReasonLoggedOut
	ReasonUnauthorized
	ReasonConnectionLost
	ReasonConnectionClosed
	ReasonRestartRequired
)

// Terminal reports whether a disconnect should end the pairing flow
// rather than trigger a reconnect.
func (r DisconnectReason) Terminal() bool {
	switch r {
	case ReasonLoggedOut, ReasonUnauthorized:
		return true
	default:
		return false
	}
}

func (r DisconnectReason) String() string {
	switch r {
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonUnauthorized:
		return "unauthorized"
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonConnectionClosed:
		return "connection_closed"
	case ReasonRestartRequired:
		return "restart_required"
	default:
		return "unknown"
	}
}

// EventKind discriminates lifecycle events.
type EventKind int

const (
	// EventLinked reports the external link succeeded.
	EventLinked EventKind = iota
	// EventDisconnected reports the session ended; Reason says why.
	EventDisconnected
)

// Event is a lifecycle notification from the protocol client.
type Event struct {
	Kind   EventKind
	Reason DisconnectReason
}

// KeyStore is the key-material surface handed to the protocol client at
// session creation; credstore.Bundle implements it.
type KeyStore interface {
	Key(id string) ([]byte, bool)
	SetKey(id string, data []byte)
}

// Session is one live protocol-client connection. Exactly one session
// exists per process at a time; that invariant is enforced by the
// caller, not here.
type Session interface {
	// RequestPairingCode asks the remote service for a one-time pairing
	// code bound to the normalized phone number.
	RequestPairingCode(ctx context.Context, number string) (string, error)
	// SendMessage delivers payload to target over the linked session.
	SendMessage(ctx context.Context, target string, payload []byte) error
	// OnCredentialUpdate registers the callback invoked whenever the
	// client mutates credential or key material.
	OnCredentialUpdate(fn func(credstore.Update))
	// OnLifecycleEvent registers the callback invoked on link and
	// disconnect transitions.
	OnLifecycleEvent(fn func(Event))
	// End tears the session down.
	End() error
}

// Dialer creates sessions from loaded credential material.
type Dialer interface {
	Dial(ctx context.Context, bundle *credstore.Bundle, keys KeyStore) (Session, error)
}
