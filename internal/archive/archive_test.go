package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"pkt.systems/paird/internal/storage"
	"pkt.systems/paird/internal/storage/memory"
)

func TestArchiveCopiesEveryKeyToEveryDestination(t *testing.T) {
	working := memory.New()
	ctx := context.Background()
	if err := working.Write(ctx, "creds.json", []byte("c")); err != nil {
		t.Fatalf("seed creds: %v", err)
	}
	if err := working.Write(ctx, "key-1.json", []byte("k")); err != nil {
		t.Fatalf("seed key: %v", err)
	}

	destA := memory.New()
	destB := memory.New()
	pipeline, err := New(Config{Destinations: []Destination{
		AdapterDestination("a", destA),
		AdapterDestination("b", destB),
	}})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	sessionID, err := pipeline.Archive(ctx, working)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if sessionID == "" {
		t.Fatalf("expected minted session id")
	}

	for _, dest := range []storage.Adapter{destA, destB} {
		for key, want := range map[string]string{"creds.json": "c", "key-1.json": "k"} {
			got, err := dest.Read(ctx, sessionID+"/"+key)
			if err != nil {
				t.Fatalf("read %s/%s: %v", sessionID, key, err)
			}
			if string(got) != want {
				t.Fatalf("expected %q under %s/%s, got %q", want, sessionID, key, got)
			}
		}
	}
}

func TestArchiveMintsFreshIDPerCall(t *testing.T) {
	working := memory.New()
	ctx := context.Background()
	if err := working.Write(ctx, "creds.json", []byte("c")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	pipeline, err := New(Config{Destinations: []Destination{AdapterDestination("a", memory.New())}})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	first, err := pipeline.Archive(ctx, working)
	if err != nil {
		t.Fatalf("first archive: %v", err)
	}
	second, err := pipeline.Archive(ctx, working)
	if err != nil {
		t.Fatalf("second archive: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct session ids, got %q twice", first)
	}
}

func TestArchiveSessionPrefix(t *testing.T) {
	pipeline, err := New(Config{
		SessionPrefix: "tenant1-",
		Destinations:  []Destination{AdapterDestination("a", memory.New())},
	})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	if id := pipeline.MintSessionID(); !strings.HasPrefix(id, "tenant1-") {
		t.Fatalf("expected prefixed id, got %q", id)
	}
}

func TestArchivePartialFailureReportsAndContinues(t *testing.T) {
	working := memory.New()
	ctx := context.Background()
	for _, key := range []string{"creds.json", "key-1.json"} {
		if err := working.Write(ctx, key, []byte("x")); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}

	good := memory.New()
	bad := &failingDest{name: "bad", failKey: "creds.json"}
	pipeline, err := New(Config{Destinations: []Destination{
		AdapterDestination("good", good),
		bad,
	}})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	sessionID, err := pipeline.Archive(ctx, working)
	if err == nil {
		t.Fatalf("expected upload error")
	}
	var uploadErr *UploadError
	if !errors.As(err, &uploadErr) {
		t.Fatalf("expected *UploadError, got %T", err)
	}
	if uploadErr.SessionID != sessionID || sessionID == "" {
		t.Fatalf("upload error must carry the minted id: %q vs %q", uploadErr.SessionID, sessionID)
	}
	if len(uploadErr.Failed) != 1 || !strings.Contains(uploadErr.Failed[0], "bad:") {
		t.Fatalf("unexpected failure set %v", uploadErr.Failed)
	}
	// Retried once before giving up.
	if bad.attempts["creds.json"] != 2 {
		t.Fatalf("expected one retry, got %d attempts", bad.attempts["creds.json"])
	}
	// The healthy destination still received everything.
	for _, key := range []string{"creds.json", "key-1.json"} {
		if _, err := good.Read(ctx, sessionID+"/"+key); err != nil {
			t.Fatalf("good destination missing %s: %v", key, err)
		}
	}
}

func TestArchiveRequiresDestination(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for zero destinations")
	}
}

type failingDest struct {
	name     string
	failKey  string
	attempts map[string]int
}

func (d *failingDest) Name() string { return d.name }

func (d *failingDest) Put(_ context.Context, path string, _ []byte) error {
	if d.attempts == nil {
		d.attempts = make(map[string]int)
	}
	if strings.HasSuffix(path, "/"+d.failKey) {
		d.attempts[d.failKey]++
		return fmt.Errorf("simulated outage")
	}
	return nil
}
