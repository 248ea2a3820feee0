package paird

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pkt.systems/paird/internal/protocol/devclient"
	"pkt.systems/paird/internal/storage/memory"
)

func TestMetricsCountPairOutcomes(t *testing.T) {
	dest := memory.New()
	svc := newTestService(t, dest, 10*time.Millisecond)

	if _, err := svc.Pair(context.Background(), "15551234567"); err != nil {
		t.Fatalf("pair: %v", err)
	}
	waitForArchive(t, dest, 2)
	if _, err := svc.Pair(context.Background(), "no digits"); err == nil {
		t.Fatalf("expected failed pair")
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	svc.MetricsHandler().ServeHTTP(rec, req)
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, `paird_pair_requests_total{outcome="ok"} 1`) {
		t.Fatalf("missing ok counter in metrics:\n%s", text)
	}
	if !strings.Contains(text, `paird_pair_requests_total{outcome="error"} 1`) {
		t.Fatalf("missing error counter in metrics:\n%s", text)
	}
}

func TestMetricsRegistriesAreIndependent(t *testing.T) {
	a := newTestService(t, memory.New(), 10*time.Millisecond)
	b, err := NewService(Config{},
		WithDialer(&devclient.Dialer{}),
		WithArchiveAdapter("test", memory.New()),
	)
	if err != nil {
		t.Fatalf("second service must not collide on collectors: %v", err)
	}
	defer b.Close()
	_ = a
}
