// Package voice defines the contract between the call orchestrator and the
// transport sessions that actually join voice chats.
package voice

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoActiveGroupCall means the target chat has no open voice chat.
	ErrNoActiveGroupCall = errors.New("no active group call")
	// ErrConnectionNotFound means the transport lost or never had a link for the chat.
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrServerError is a server-side failure reported by the voice platform.
	ErrServerError = errors.New("voice server error")
)

type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// StreamDescriptor is what a handle needs to start streaming into a call.
type StreamDescriptor struct {
	Path      string
	AudioOnly bool
	Quality   Quality
	Seek      time.Duration
}

// Handle is one pooled transport session bound to a single identity.
type Handle interface {
	Identity() string
	Start(ctx context.Context) error
	JoinCall(ctx context.Context, chatID int64, stream StreamDescriptor) error
	LeaveCall(ctx context.Context, chatID int64) error
	PauseStream(ctx context.Context, chatID int64) (bool, error)
	ResumeStream(ctx context.Context, chatID int64) (bool, error)
	// Ping reports the last measured round trip in milliseconds. ok is false
	// until a measurement exists.
	Ping() (ms float64, ok bool)
}

// StreamEnded is delivered when a handle finishes streaming into a chat.
type StreamEnded struct {
	ChatID int64
	Reason string
}

// Chat returns the chat the notification belongs to. Chat ids are never zero,
// so a zero id means the notification could not be attributed.
func (e StreamEnded) Chat() (int64, bool) {
	return e.ChatID, e.ChatID != 0
}

// StreamEndNotifier is implemented by handles that can report stream ends.
// Handles without it simply do not support automatic advance.
type StreamEndNotifier interface {
	OnStreamEnd(fn func(StreamEnded)) error
}
