package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"crabstack.local/projects/crab-voice/internal/events"
)

func TestHandlePostsEventWithHeaders(t *testing.T) {
	type received struct {
		method      string
		contentType string
		eventType   string
		eventID     string
		event       events.Event
	}
	got := make(chan received, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		rec := received{
			method:      r.Method,
			contentType: r.Header.Get("Content-Type"),
			eventType:   r.Header.Get(HeaderEventType),
			eventID:     r.Header.Get(HeaderEventID),
		}
		if err := json.NewDecoder(r.Body).Decode(&rec.event); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		got <- rec
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	var logs bytes.Buffer
	event := newTestEvent(events.TypeCallStarted)
	subscriber := New("hooks.example", server.URL+"/events", log.New(&logs, "", 0))
	if err := subscriber.Handle(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := <-got
	if rec.method != http.MethodPost {
		t.Fatalf("expected POST, got %s", rec.method)
	}
	if rec.contentType != "application/json" {
		t.Fatalf("expected json content type, got %s", rec.contentType)
	}
	if rec.eventType != string(events.TypeCallStarted) || rec.eventID != event.ID {
		t.Fatalf("unexpected event headers type=%q id=%q", rec.eventType, rec.eventID)
	}
	if rec.event.ChatID != 42 || rec.event.Item == nil || rec.event.Item.ID != "abc" {
		t.Fatalf("unexpected body: %+v", rec.event)
	}
	if !strings.Contains(logs.String(), "webhook delivered subscriber=hooks.example") {
		t.Fatalf("expected delivery log, got %q", logs.String())
	}
}

func TestHandleRejectionCarriesStatusAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream failed\n"))
	}))
	defer server.Close()

	err := New("hooks", server.URL, nil).Handle(context.Background(), newTestEvent(events.TypeCallFailed))
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "status=502") || !strings.Contains(err.Error(), `body="upstream failed"`) {
		t.Fatalf("expected status and body in error, got %v", err)
	}
}

func TestHandleRejectionWithoutBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	err := New("hooks", server.URL, nil).Handle(context.Background(), newTestEvent(events.TypeCallFailed))
	if err == nil || !strings.HasSuffix(err.Error(), "status=403") {
		t.Fatalf("expected bare status in error, got %v", err)
	}
}

func TestWithEventTypesFilters(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	subscriber := New("hooks", server.URL, nil, WithEventTypes(events.TypeCallFailed, events.TypeCallStopped))

	if err := subscriber.Handle(context.Background(), newTestEvent(events.TypeCallStarted)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Fatalf("expected no webhook call, got %d", n)
	}
	for _, eventType := range []events.Type{events.TypeCallFailed, events.TypeCallStopped} {
		if err := subscriber.Handle(context.Background(), newTestEvent(eventType)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected two webhook calls, got %d", n)
	}
}

func TestHandleTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(250 * time.Millisecond)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := &http.Client{Timeout: 50 * time.Millisecond}
	err := New("hooks", server.URL, log.New(io.Discard, "", 0), WithHTTPClient(client)).
		Handle(context.Background(), newTestEvent(events.TypeCallStarted))
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "timeout") && !strings.Contains(msg, "deadline exceeded") {
		t.Fatalf("expected timeout/deadline error, got %v", err)
	}
}

func TestDefaultName(t *testing.T) {
	if got := New("  ", "http://x", nil).Name(); got != "webhook" {
		t.Fatalf("expected default name, got %q", got)
	}
}

func newTestEvent(eventType events.Type) events.Event {
	return events.Event{
		ID:         "evt_1",
		Type:       eventType,
		ChatID:     42,
		Assistant:  "assistant-1",
		OccurredAt: time.Unix(1_700_000_000, 0).UTC(),
		Item:       &events.Item{ID: "abc", Title: "Song"},
	}
}
