package subscribers

import (
	"context"

	"crabstack.local/projects/crab-voice/internal/events"
)

type Subscriber interface {
	Name() string
	Handle(context.Context, events.Event) error
}
