package paird

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"

	"pkt.systems/paird/internal/protocol/devclient"
	"pkt.systems/paird/internal/storage/memory"
)

var pairingCodePattern = regexp.MustCompile(`^[0-9A-F]{4}-[0-9A-F]{4}$`)

func newTestService(t *testing.T, dest *memory.Store, linkDelay time.Duration) *Service {
	t.Helper()
	svc, err := NewService(Config{
		SettleDelay:        time.Millisecond,
		ReconnectBaseDelay: time.Millisecond,
		ReconnectMaxDelay:  5 * time.Millisecond,
	},
		WithDialer(&devclient.Dialer{LinkDelay: linkDelay}),
		WithArchiveAdapter("test", dest),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func waitForArchive(t *testing.T, dest *memory.Store, want int) []string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		keys, err := dest.List(context.Background())
		if err != nil {
			t.Fatalf("list destination: %v", err)
		}
		if len(keys) >= want {
			return keys
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("archive never reached %d blobs", want)
	return nil
}

func TestServicePairEndToEnd(t *testing.T) {
	dest := memory.New()
	svc := newTestService(t, dest, 20*time.Millisecond)

	code, err := svc.Pair(context.Background(), "+1 (555) 123-4567")
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	if !pairingCodePattern.MatchString(code) {
		t.Fatalf("unexpected code format %q", code)
	}

	// The dev client rotates a key and registers after the link delay;
	// both blobs must land in the archive under one session id.
	keys := waitForArchive(t, dest, 2)
	sessionID := strings.SplitN(keys[0], "/", 2)[0]
	for _, key := range keys {
		if !strings.HasPrefix(key, sessionID+"/") {
			t.Fatalf("blobs archived under different ids: %v", keys)
		}
	}
	found := map[string]bool{}
	for _, key := range keys {
		found[strings.TrimPrefix(key, sessionID+"/")] = true
	}
	if !found["creds.json"] || !found["key-1.json"] {
		t.Fatalf("expected creds.json and key-1.json, got %v", keys)
	}
}

func TestServicePairSerializesFlows(t *testing.T) {
	dest := memory.New()
	svc := newTestService(t, dest, 300*time.Millisecond)

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = svc.Pair(context.Background(), "15551234567")
	}()
	<-started
	// Give the first flow time to take the guard.
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := svc.Pair(ctx, "15559876543"); err == nil {
		t.Fatalf("second concurrent pair must block on the guard and time out")
	}
}

func TestServicePairRejectsInvalidPhone(t *testing.T) {
	dest := memory.New()
	svc := newTestService(t, dest, 20*time.Millisecond)
	if _, err := svc.Pair(context.Background(), "not a number"); err == nil {
		t.Fatalf("expected error for digitless phone number")
	}
}

func TestServiceRestoreReArchivesUnderFreshID(t *testing.T) {
	dest := memory.New()
	ctx := context.Background()
	creds, _ := json.Marshal(map[string]any{"registered": true})
	if err := dest.Write(ctx, "sess-old/creds.json", creds); err != nil {
		t.Fatalf("seed archived session: %v", err)
	}

	svc := newTestService(t, dest, 20*time.Millisecond)
	if err := svc.Restore(ctx, "sess-old"); err != nil {
		t.Fatalf("restore: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		keys, err := dest.List(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, key := range keys {
			if !strings.HasPrefix(key, "sess-old/") && strings.HasSuffix(key, "/creds.json") {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("restored session never re-archived under a fresh id")
}

func TestServiceRestoreRequiresSessionID(t *testing.T) {
	dest := memory.New()
	svc := newTestService(t, dest, 20*time.Millisecond)
	if err := svc.Restore(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for blank session id")
	}
}

func TestNewServiceRequiresDialerAndArchive(t *testing.T) {
	if _, err := NewService(Config{}, WithArchiveAdapter("test", memory.New())); err == nil {
		t.Fatalf("expected error without dialer")
	}
	if _, err := NewService(Config{}, WithDialer(&devclient.Dialer{})); err == nil {
		t.Fatalf("expected error without archive destination")
	}
}
