package bridge

import (
	"errors"
	"fmt"
	"strings"

	"crabstack.local/projects/crab-voice/internal/voice"
)

const (
	opJoin   = "join"
	opLeave  = "leave"
	opPause  = "pause"
	opResume = "resume"

	eventStreamEnd = "stream_end"

	codeNoActiveGroupCall = "no_active_group_call"
	codeConnectionLost    = "connection_not_found"
	codeServerError       = "server_error"
)

type request struct {
	ID     string         `json:"id"`
	Op     string         `json:"op"`
	ChatID int64          `json:"chat_id"`
	Stream *streamPayload `json:"stream,omitempty"`
}

type streamPayload struct {
	Path        string  `json:"path"`
	AudioOnly   bool    `json:"audio_only"`
	Quality     string  `json:"quality"`
	SeekSeconds float64 `json:"seek_seconds,omitempty"`
}

// inbound is either a response (ID set) or an event (Event set).
type inbound struct {
	ID     string     `json:"id,omitempty"`
	OK     bool       `json:"ok"`
	Result *bool      `json:"result,omitempty"`
	Error  *wireError `json:"error,omitempty"`
	Event  string     `json:"event,omitempty"`
	ChatID int64      `json:"chat_id,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (m inbound) flag() bool {
	if m.Result == nil {
		return m.OK
	}
	return *m.Result
}

func (m inbound) err() error {
	if m.OK {
		return nil
	}
	if m.Error == nil {
		return errors.New("voice node rejected request without error details")
	}

	message := strings.TrimSpace(m.Error.Message)
	if message == "" {
		message = m.Error.Code
	}
	switch m.Error.Code {
	case codeNoActiveGroupCall:
		return fmt.Errorf("%w: %s", voice.ErrNoActiveGroupCall, message)
	case codeConnectionLost:
		return fmt.Errorf("%w: %s", voice.ErrConnectionNotFound, message)
	case codeServerError:
		return fmt.Errorf("%w: %s", voice.ErrServerError, message)
	default:
		return fmt.Errorf("voice node error code=%s: %s", m.Error.Code, message)
	}
}
