// Package archive exports a finalized session's blobs to one or more
// durable destinations under a freshly minted session identifier.
package archive

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/xid"
	"pkt.systems/pslog"

	"pkt.systems/paird/internal/loggingutil"
	"pkt.systems/paird/internal/storage"
)

// Destination accepts archived blobs by path.
type Destination interface {
	// Name identifies the destination in logs and failure reports.
	Name() string
	// Put stores data under path.
	Put(ctx context.Context, path string, data []byte) error
}

type adapterDestination struct {
	name    string
	adapter storage.Adapter
}

func (d adapterDestination) Name() string { return d.name }

func (d adapterDestination) Put(ctx context.Context, path string, data []byte) error {
	return d.adapter.Write(ctx, path, data)
}

// AdapterDestination exposes any storage adapter as an archive
// destination.
func AdapterDestination(name string, adapter storage.Adapter) Destination {
	return adapterDestination{name: name, adapter: adapter}
}

// UploadError aggregates per-key archive failures. The session id is
// still minted, so callers can report it alongside the warning.
type UploadError struct {
	SessionID string
	// Failed lists "destination:key" pairs that were not stored.
	Failed []string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("archive: session %s: %d uploads failed (%s)",
		e.SessionID, len(e.Failed), strings.Join(e.Failed, ", "))
}

// Config controls the upload pipeline.
type Config struct {
	// SessionPrefix is prepended to every minted identifier.
	SessionPrefix string
	// Destinations receive the archived blobs. At least one is required.
	Destinations []Destination
	Logger       pslog.Logger
}

// Pipeline copies everything a storage adapter holds into the configured
// destinations.
type Pipeline struct {
	prefix string
	dests  []Destination
	logger pslog.Logger
}

// New constructs a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if len(cfg.Destinations) == 0 {
		return nil, fmt.Errorf("archive: at least one destination is required")
	}
	return &Pipeline{
		prefix: cfg.SessionPrefix,
		dests:  cfg.Destinations,
		logger: loggingutil.WithSubsystem(cfg.Logger, "archive"),
	}, nil
}

// MintSessionID returns a fresh session identifier. xid tokens embed a
// timestamp plus random machine/process entropy, so collisions are
// vanishingly unlikely.
func (p *Pipeline) MintSessionID() string {
	return p.prefix + xid.New().String()
}

// Archive enumerates every key in adapter and writes each blob to every
// destination under "<sessionID>/<key>". Failures are independent per
// key: one failed upload is reported but never blocks the remaining
// keys. A failing write is retried once before it counts as failed. The
// returned session id is valid as soon as at least one destination
// accepted every key that did not fail outright; when any upload failed
// the id is returned together with an *UploadError naming the failures.
func (p *Pipeline) Archive(ctx context.Context, adapter storage.Adapter) (string, error) {
	sessionID := p.MintSessionID()
	keys, err := adapter.List(ctx)
	if err != nil {
		return "", fmt.Errorf("archive: list session blobs: %w", err)
	}
	sort.Strings(keys)

	var failed []string
	for _, key := range keys {
		data, err := adapter.Read(ctx, key)
		if err != nil {
			p.logger.Warn("archive.read_failed", "session_id", sessionID, "key", key, "error", err)
			for _, dest := range p.dests {
				failed = append(failed, dest.Name()+":"+key)
			}
			continue
		}
		path := sessionID + "/" + key
		for _, dest := range p.dests {
			if err := p.put(ctx, dest, path, data); err != nil {
				p.logger.Warn("archive.upload_failed",
					"session_id", sessionID,
					"destination", dest.Name(),
					"key", key,
					"error", err)
				failed = append(failed, dest.Name()+":"+key)
			}
		}
	}

	p.logger.Info("archive.complete",
		"session_id", sessionID,
		"keys", len(keys),
		"destinations", len(p.dests),
		"failures", len(failed))
	if len(failed) > 0 {
		return sessionID, &UploadError{SessionID: sessionID, Failed: failed}
	}
	return sessionID, nil
}

// put retries a single failing upload once.
func (p *Pipeline) put(ctx context.Context, dest Destination, path string, data []byte) error {
	err := dest.Put(ctx, path, data)
	if err == nil {
		return nil
	}
	p.logger.Debug("archive.put.retry", "destination", dest.Name(), "path", path, "error", err)
	return dest.Put(ctx, path, data)
}
