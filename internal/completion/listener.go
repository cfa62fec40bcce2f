// Package completion turns stream-end notifications from pooled handles into
// queue advances.
package completion

import (
	"context"
	"errors"
	"io"
	"log"

	"crabstack.local/projects/crab-voice/internal/voice"
)

const (
	ResultAdvanced   = "advanced"
	ResultFailed     = "failed"
	ResultDropped    = "dropped"
	ResultUnresolved = "unresolved"
)

type Advancer interface {
	Advance(ctx context.Context, chatID int64) error
}

type Recorder interface {
	StreamEnd(result string)
}

type Option func(*Listener)

func WithMetrics(recorder Recorder) Option {
	return func(l *Listener) {
		if recorder != nil {
			l.metrics = recorder
		}
	}
}

type Listener struct {
	advancer  Advancer
	logger    *log.Logger
	metrics   Recorder
	scheduler *Scheduler
}

func NewListener(advancer Advancer, logger *log.Logger, queueSize int, opts ...Option) *Listener {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	l := &Listener{
		advancer: advancer,
		logger:   logger,
		metrics:  nopRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.scheduler = NewScheduler(logger, queueSize, l.advance)
	return l
}

// Bind registers the listener on every handle that can report stream ends
// and returns how many were bound. Handles without the capability keep
// working; they just never auto-advance.
func (l *Listener) Bind(handles []voice.Handle) int {
	bound := 0
	for _, handle := range handles {
		notifier, ok := handle.(voice.StreamEndNotifier)
		if !ok {
			l.logger.Printf("auto advance unavailable assistant=%s reason=no stream end notifications", handle.Identity())
			continue
		}
		if err := notifier.OnStreamEnd(l.OnStreamEnd); err != nil {
			l.logger.Printf("auto advance bind failed assistant=%s err=%v", handle.Identity(), err)
			continue
		}
		bound++
	}
	return bound
}

// OnStreamEnd is the callback handed to each handle. It never blocks.
func (l *Listener) OnStreamEnd(update voice.StreamEnded) {
	chatID, ok := update.Chat()
	if !ok {
		l.metrics.StreamEnd(ResultUnresolved)
		l.logger.Printf("stream end without chat id discarded reason=%q", update.Reason)
		return
	}
	if err := l.scheduler.Enqueue(update); err != nil {
		l.metrics.StreamEnd(ResultDropped)
		l.logger.Printf("stream end dropped chat_id=%d err=%v", chatID, err)
	}
}

func (l *Listener) advance(ctx context.Context, update voice.StreamEnded) {
	if err := l.advancer.Advance(ctx, update.ChatID); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		l.metrics.StreamEnd(ResultFailed)
		l.logger.Printf("advance failed chat_id=%d err=%v", update.ChatID, err)
		return
	}
	l.metrics.StreamEnd(ResultAdvanced)
}

func (l *Listener) Close(ctx context.Context) error {
	return l.scheduler.Close(ctx)
}

type nopRecorder struct{}

func (nopRecorder) StreamEnd(string) {}
