package paird

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pkt.systems/paird/internal/protocol/devclient"
	"pkt.systems/paird/internal/storage/memory"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := NewServer(Config{
		SettleDelay:        time.Millisecond,
		ReconnectBaseDelay: time.Millisecond,
		ReconnectMaxDelay:  5 * time.Millisecond,
	},
		WithDialer(&devclient.Dialer{LinkDelay: 20 * time.Millisecond}),
		WithArchiveAdapter("test", memory.New()),
	)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return srv, ts
}

func TestServerPairEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	body, _ := json.Marshal(pairRequest{Phone: "+1 (555) 123-4567"})
	resp, err := http.Post(ts.URL+"/v1/pair", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post pair: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out pairResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !pairingCodePattern.MatchString(out.Code) {
		t.Fatalf("unexpected code %q", out.Code)
	}
}

func TestServerPairRejectsBadBody(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/pair", "application/json", bytes.NewReader([]byte("{")))
	if err != nil {
		t.Fatalf("post pair: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestServerPairInvalidPhoneIs400(t *testing.T) {
	_, ts := newTestServer(t)

	body, _ := json.Marshal(pairRequest{Phone: "letters only"})
	resp, err := http.Post(ts.URL+"/v1/pair", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post pair: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestServerRestoreRequiresSessionID(t *testing.T) {
	_, ts := newTestServer(t)

	body, _ := json.Marshal(restoreRequest{})
	resp, err := http.Post(ts.URL+"/v1/restore", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post restore: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestServerHealthz(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestServerStartAndShutdown(t *testing.T) {
	srv, err := NewServer(Config{
		Listen:             "127.0.0.1:0",
		SettleDelay:        time.Millisecond,
		ReconnectBaseDelay: time.Millisecond,
		ReconnectMaxDelay:  5 * time.Millisecond,
	},
		WithDialer(&devclient.Dialer{LinkDelay: 20 * time.Millisecond}),
		WithArchiveAdapter("test", memory.New()),
	)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.WaitReady(ctx); err != nil {
		t.Fatalf("wait ready: %v", err)
	}
	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz over tcp: %v", err)
	}
	resp.Body.Close()

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("start never returned after shutdown")
	}
}
