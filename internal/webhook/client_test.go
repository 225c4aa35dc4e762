package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSendAddsVerifiableSignature(t *testing.T) {
	var (
		gotHeader http.Header
		gotBody   []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(Config{
		SigningSecret:  "test-secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    1,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	})

	err := client.Send(context.Background(), srv.URL, EventJobCompleted, map[string]any{"job_id": "job-1"})
	if err != nil {
		t.Fatalf("send returned error: %v", err)
	}

	if gotHeader.Get(HeaderEvent) != EventJobCompleted {
		t.Fatalf("expected event header %s, got %q", EventJobCompleted, gotHeader.Get(HeaderEvent))
	}
	if err := Verify("test-secret", gotHeader, gotBody, time.Minute, time.Now()); err != nil {
		t.Fatalf("expected signature to verify: %v", err)
	}
	if err := Verify("other-secret", gotHeader, gotBody, time.Minute, time.Now()); err == nil {
		t.Fatal("expected verification with the wrong secret to fail")
	}
	if err := Verify("test-secret", gotHeader, gotBody, time.Minute, time.Now().Add(time.Hour)); err == nil {
		t.Fatal("expected stale timestamp to fail")
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
	if err := client.Send(context.Background(), srv.URL, EventJobFailed, map[string]any{}); err != nil {
		t.Fatalf("expected delivery on third attempt, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	client := NewClient(Config{MaxAttempts: 4, InitialBackoff: time.Millisecond})
	if err := client.Send(context.Background(), srv.URL, EventJobFailed, map[string]any{}); err == nil {
		t.Fatal("expected error for 410 response")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestSendSkipsEmptyEndpoint(t *testing.T) {
	if err := NewClient(Config{}).Send(context.Background(), "  ", EventJobCompleted, nil); err != nil {
		t.Fatalf("expected nil for empty endpoint, got %v", err)
	}
}
