// Package webhook forwards call lifecycle events to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"crabstack.local/projects/crab-voice/internal/events"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBodyBytes  = 4 << 10

	HeaderEventType = "X-Crab-Voice-Event"
	HeaderEventID   = "X-Crab-Voice-Event-Id"
)

type Option func(*Subscriber)

// Subscriber posts each event as JSON. Only 2xx counts as delivered; the
// dispatcher retries anything else.
type Subscriber struct {
	name   string
	url    string
	client *http.Client
	logger *log.Logger
	only   map[events.Type]struct{}
}

func New(name string, url string, logger *log.Logger, opts ...Option) *Subscriber {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "webhook"
	}
	sub := &Subscriber{
		name:   name,
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: defaultHTTPTimeout},
		logger: logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sub)
		}
	}
	return sub
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Subscriber) {
		if client != nil {
			s.client = client
		}
	}
}

// WithEventTypes limits delivery to the listed types. No types means all.
func WithEventTypes(types ...events.Type) Option {
	return func(s *Subscriber) {
		if len(types) == 0 {
			s.only = nil
			return
		}
		s.only = make(map[events.Type]struct{}, len(types))
		for _, t := range types {
			s.only[t] = struct{}{}
		}
	}
}

func (s *Subscriber) Name() string {
	return s.name
}

func (s *Subscriber) wants(t events.Type) bool {
	if s.only == nil {
		return true
	}
	_, ok := s.only[t]
	return ok
}

func (s *Subscriber) Handle(ctx context.Context, event events.Event) error {
	if !s.wants(event.Type) {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventType, string(event.Type))
	req.Header.Set(HeaderEventID, event.ID)

	started := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
		s.logger.Printf("webhook delivered subscriber=%s event_id=%s type=%s chat_id=%d status=%d took=%s",
			s.name, event.ID, event.Type, event.ChatID, resp.StatusCode, time.Since(started).Round(time.Millisecond))
		return nil
	}
	return fmt.Errorf("webhook %s rejected event_id=%s: %s", s.name, event.ID, describeRejection(resp))
}

func describeRejection(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes+1))
	if err != nil {
		return fmt.Sprintf("status=%d (body unreadable: %v)", resp.StatusCode, err)
	}
	suffix := ""
	if len(raw) > maxErrorBodyBytes {
		raw = raw[:maxErrorBodyBytes]
		suffix = "..."
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return fmt.Sprintf("status=%d", resp.StatusCode)
	}
	return fmt.Sprintf("status=%d body=%q%s", resp.StatusCode, text, suffix)
}
