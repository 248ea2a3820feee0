package paird

import (
	"pkt.systems/pslog"

	"pkt.systems/paird/internal/archive"
	"pkt.systems/paird/internal/protocol"
	"pkt.systems/paird/internal/storage"
)

// Option customizes a Service at construction time.
type Option func(*Service)

// WithLogger sets the service logger. Without it the service logs
// nothing.
func WithLogger(logger pslog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithDialer injects the protocol client used to open sessions.
func WithDialer(dialer protocol.Dialer) Option {
	return func(s *Service) {
		s.dialer = dialer
	}
}

// WithArchiveAdapter registers an already-open archive destination in
// addition to (or instead of) the configured archive DSNs. The first
// archive adapter registered, by option or by DSN, also serves as the
// restore root that Restore reads previously archived sessions from.
func WithArchiveAdapter(name string, adapter storage.Adapter) Option {
	return func(s *Service) {
		s.destinations = append(s.destinations, archive.AdapterDestination(name, adapter))
		s.archiveAdapters = append(s.archiveAdapters, adapter)
		if s.restoreRoot == nil {
			s.restoreRoot = adapter
		}
	}
}

// WithConfirmTarget overrides the recipient of the post-link
// confirmation message. Defaults to the pairing number itself.
func WithConfirmTarget(target string) Option {
	return func(s *Service) {
		s.confirmTarget = target
	}
}

// WithMediaPayload attaches a supplementary payload sent after the
// confirmation message once linking completes.
func WithMediaPayload(payload []byte) Option {
	return func(s *Service) {
		s.mediaPayload = payload
	}
}
