// Package messaging posts and edits the per-chat status message that shows
// what is playing.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const controlPrefix = "voice"

const (
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionSkip   = "skip"
	ActionStop   = "stop"
)

var ErrInvalidControlID = errors.New("invalid control id")

type MessageRef struct {
	ChatID    int64
	MessageID string
}

func (r MessageRef) IsZero() bool {
	return strings.TrimSpace(r.MessageID) == ""
}

// Control is one playback button attached to a now-playing message.
type Control struct {
	Label    string
	Action   string
	CustomID string
}

type Messenger interface {
	SendStatus(ctx context.Context, chatID int64, text string) (MessageRef, error)
	EditToMedia(ctx context.Context, ref MessageRef, thumbnail, caption string, controls []Control) error
	EditText(ctx context.Context, ref MessageRef, text string) error
	DeleteMessages(ctx context.Context, chatID int64, refs []MessageRef) error
}

// Controls builds the playback buttons for chatID. label maps an action to
// its display text; a nil label uses the action name.
func Controls(chatID int64, label func(action string) string) []Control {
	actions := []string{ActionPause, ActionResume, ActionSkip, ActionStop}
	out := make([]Control, 0, len(actions))
	for _, action := range actions {
		text := action
		if label != nil {
			if l := strings.TrimSpace(label(action)); l != "" {
				text = l
			}
		}
		out = append(out, Control{
			Label:    text,
			Action:   action,
			CustomID: ControlID(action, chatID),
		})
	}
	return out
}

func ControlID(action string, chatID int64) string {
	return controlPrefix + ":" + action + ":" + strconv.FormatInt(chatID, 10)
}

// ParseControlID reverses ControlID.
func ParseControlID(customID string) (action string, chatID int64, err error) {
	parts := strings.Split(strings.TrimSpace(customID), ":")
	if len(parts) != 3 || parts[0] != controlPrefix {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidControlID, customID)
	}
	switch parts[1] {
	case ActionPause, ActionResume, ActionSkip, ActionStop:
	default:
		return "", 0, fmt.Errorf("%w: unknown action %q", ErrInvalidControlID, parts[1])
	}
	chatID, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil || chatID == 0 {
		return "", 0, fmt.Errorf("%w: bad chat id %q", ErrInvalidControlID, parts[2])
	}
	return parts[1], chatID, nil
}
