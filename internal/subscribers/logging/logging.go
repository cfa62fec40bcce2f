package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"crabstack.local/projects/crab-voice/internal/events"
)

type Subscriber struct {
	logger *log.Logger
}

func New(logger *log.Logger) *Subscriber {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Subscriber{logger: logger}
}

func (s *Subscriber) Name() string {
	return "logging"
}

func (s *Subscriber) Handle(_ context.Context, event events.Event) error {
	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	s.logger.Printf("subscriber=logging event=%s", encoded)
	return nil
}
