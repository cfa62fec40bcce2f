// Package state records which chats have a call in progress, whether it is
// paused, and which assistant serves it.
package state

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoAssistant = errors.New("no assistant assigned")
	ErrNotActive   = errors.New("chat has no active call")
	ErrClosed      = errors.New("store is closed")
)

type CallRecord struct {
	ChatID    int64
	Active    bool
	Paused    bool
	Assistant string
	UpdatedAt time.Time
}

type Store interface {
	GetAssistant(context.Context, int64) (string, error)
	SetAssistant(context.Context, int64, string) error
	// SetPlaying records the paused flag. Pausing an inactive chat fails with
	// ErrNotActive.
	SetPlaying(ctx context.Context, chatID int64, paused bool) error
	AddActiveCall(context.Context, int64) error
	RemoveActiveCall(context.Context, int64) error
	HasActiveCall(context.Context, int64) (bool, error)
	GetCall(context.Context, int64) (CallRecord, bool, error)
	ActiveCalls(context.Context) ([]int64, error)
	Close() error
}
