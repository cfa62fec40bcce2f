package calls

import (
	"errors"

	"crabstack.local/projects/crab-voice/internal/state"
	"crabstack.local/projects/crab-voice/internal/voice"
)

var (
	ErrNoAssistant       = errors.New("no assistant available for chat")
	ErrNoSourceFile      = errors.New("item has no local media file")
	ErrNoActiveVoiceChat = errors.New("chat has no open voice chat")
	ErrTransportFailure  = errors.New("voice transport failed after retries")
	ErrUnknownFailure    = errors.New("unclassified failure starting stream")
	ErrNotActive         = state.ErrNotActive
)

// Failure kinds used for metrics and lifecycle events.
const (
	failureNoAssistant = "no_assistant"
	failureNoSource    = "no_source_file"
	failureNoCall      = "no_call"
	failureTransport   = "transport"
	failureUnknown     = "unknown"
)

func isTransient(err error) bool {
	return errors.Is(err, voice.ErrConnectionNotFound) || errors.Is(err, voice.ErrServerError)
}
