// Package events describes call lifecycle notifications fanned out to
// subscribers.
package events

import (
	"time"

	"crabstack.local/projects/crab-voice/internal/ids"
)

type Type string

const (
	TypeCallStarted Type = "call.started"
	TypeCallStopped Type = "call.stopped"
	TypeCallFailed  Type = "call.failed"
	TypeCallPaused  Type = "call.paused"
	TypeCallResumed Type = "call.resumed"
)

type Item struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	SourceURL   string `json:"source_url,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}

type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	ChatID     int64     `json:"chat_id"`
	Assistant  string    `json:"assistant,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Item       *Item     `json:"item,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func New(eventType Type, chatID int64) Event {
	return Event{
		ID:         ids.New(),
		Type:       eventType,
		ChatID:     chatID,
		OccurredAt: time.Now().UTC(),
	}
}
