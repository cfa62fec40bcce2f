package dispatch

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"crabstack.local/projects/crab-voice/internal/events"
	"crabstack.local/projects/crab-voice/internal/subscribers"
)

type Dispatcher struct {
	logger       *log.Logger
	subscribers  []subscribers.Subscriber
	retryCount   int
	retryBackoff time.Duration

	wg sync.WaitGroup
}

func New(logger *log.Logger, subs []subscribers.Subscriber) *Dispatcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{
		logger:       logger,
		subscribers:  subs,
		retryCount:   3,
		retryBackoff: 150 * time.Millisecond,
	}
}

// Dispatch fans event out to every subscriber without blocking the caller.
// Delivery outlives the caller's context cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, event events.Event) {
	ctx = context.WithoutCancel(ctx)
	for _, sub := range d.subscribers {
		s := sub
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.dispatchOne(ctx, s, event)
		}()
	}
}

// Wait blocks until in-flight deliveries finish or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, sub subscribers.Subscriber, event events.Event) {
	for attempt := 1; attempt <= d.retryCount; attempt++ {
		err := sub.Handle(ctx, event)
		if err == nil {
			return
		}

		d.logger.Printf("subscriber=%s event_id=%s event_type=%s attempt=%d err=%v", sub.Name(), event.ID, event.Type, attempt, err)
		if attempt == d.retryCount {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.retryBackoff):
		}
	}
}
