package completion

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"

	"crabstack.local/projects/crab-voice/internal/voice"
)

var (
	ErrChatQueueFull   = errors.New("chat notification queue full")
	ErrSchedulerClosed = errors.New("scheduler closed")
)

type NotificationHandler func(context.Context, voice.StreamEnded)

// Scheduler runs one worker per chat so notifications for a chat are handled
// in order while different chats proceed independently. A worker exits when
// its queue drains and is recreated on the next notification.
type Scheduler struct {
	logger    *log.Logger
	handler   NotificationHandler
	queueSize int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	workers map[int64]*worker
}

type worker struct {
	ch chan voice.StreamEnded
}

func NewScheduler(logger *log.Logger, queueSize int, handler NotificationHandler) *Scheduler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:    logger,
		handler:   handler,
		queueSize: queueSize,
		ctx:       ctx,
		cancel:    cancel,
		workers:   make(map[int64]*worker),
	}
}

// Enqueue never blocks. A full chat queue drops the notification.
func (s *Scheduler) Enqueue(update voice.StreamEnded) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}

	w := s.workerForLocked(update.ChatID)
	select {
	case w.ch <- update:
		return nil
	default:
		s.logger.Printf("chat notification queue full chat_id=%d", update.ChatID)
		return ErrChatQueueFull
	}
}

func (s *Scheduler) workerForLocked(chatID int64) *worker {
	if w, ok := s.workers[chatID]; ok {
		return w
	}

	w := &worker{ch: make(chan voice.StreamEnded, s.queueSize)}
	s.workers[chatID] = w

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for update := range w.ch {
			s.handle(update)
			if s.retireIfIdle(chatID, w) {
				return
			}
		}
	}()

	return w
}

// retireIfIdle drops the worker once its queue is empty so chats that went
// quiet do not keep a goroutine. Enqueue sends under s.mu, so nothing can
// land in w.ch between the length check and the delete.
func (s *Scheduler) retireIfIdle(chatID int64, w *worker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(w.ch) > 0 {
		return false
	}
	if s.workers[chatID] == w {
		delete(s.workers, chatID)
	}
	return true
}

func (s *Scheduler) workerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

func (s *Scheduler) handle(update voice.StreamEnded) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("notification handler panic chat_id=%d panic=%v", update.ChatID, r)
		}
	}()
	s.handler(s.ctx, update)
}

// Close stops accepting notifications, cancels in-flight handlers and waits
// for the workers to exit or ctx to end.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, w := range s.workers {
		close(w.ch)
	}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
