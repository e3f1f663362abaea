package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type captured struct {
	mu       sync.Mutex
	payloads []map[string]any
	auth     []string
}

func captureServer(t *testing.T) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]any
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		c.mu.Lock()
		c.payloads = append(c.payloads, p)
		c.auth = append(c.auth, r.Header.Get("Authorization"))
		c.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestWebhookSinkDelivers(t *testing.T) {
	srv, c := captureServer(t)
	sink := NewWebhookSink(srv.URL, WithBearerToken("tok"))

	err := sink.Emit(context.Background(), Event{
		Severity:   SeverityWarn,
		Type:       "expiry_fired",
		Timestamp:  time.Now(),
		InstanceID: "host-1",
		Fields:     map[string]any{"late_ms": 120},
	})
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.payloads) != 1 {
		t.Fatalf("payloads = %d, want 1", len(c.payloads))
	}
	p := c.payloads[0]
	if p["type"] != "expiry_fired" || p["severity"] != "warn" {
		t.Errorf("payload = %v", p)
	}
	if p["headerlock_instance"] != "host-1" {
		t.Errorf("instance = %v", p["headerlock_instance"])
	}
	if c.auth[0] != "Bearer tok" {
		t.Errorf("auth header = %q", c.auth[0])
	}
}

func TestWebhookSinkSeverityFilter(t *testing.T) {
	srv, c := captureServer(t)
	sink := NewWebhookSink(srv.URL, WithMinSeverity(SeverityWarn))

	_ = sink.Emit(context.Background(), Event{Severity: SeverityInfo, Type: "save_applied"})
	_ = sink.Emit(context.Background(), Event{Severity: SeverityWarn, Type: "save_rejected"})
	_ = sink.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.payloads) != 1 || c.payloads[0]["type"] != "save_rejected" {
		t.Errorf("payloads = %v, want only save_rejected", c.payloads)
	}
}

func TestWebhookSinkQueueFull(t *testing.T) {
	// A server that never responds keeps the worker busy; queue size 1
	// fills on the next event.
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	sink := NewWebhookSink(srv.URL, WithQueueSize(1))
	defer func() { _ = sink.Close() }()

	// First event occupies the worker, second sits in the queue; the
	// third has nowhere to go.
	var sawFull bool
	for i := 0; i < 10; i++ {
		if err := sink.Emit(context.Background(), Event{Severity: SeverityInfo, Type: "save_applied"}); err == ErrQueueFull {
			sawFull = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !sawFull {
		t.Error("queue never reported full")
	}
}

func TestWebhookSinkEmitAfterClose(t *testing.T) {
	srv, _ := captureServer(t)
	sink := NewWebhookSink(srv.URL)
	_ = sink.Close()

	if err := sink.Emit(context.Background(), Event{Severity: SeverityInfo, Type: "save_applied"}); err == nil {
		t.Error("Emit() after Close() should fail")
	}
	// Close is idempotent.
	if err := sink.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}
