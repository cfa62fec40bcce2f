// Package pool owns the assistant transport sessions for the lifetime of the
// process.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strings"
	"sync"

	"crabstack.local/projects/crab-voice/internal/voice"
)

var (
	ErrNoHandles         = errors.New("session pool has no handles")
	ErrAlreadyStarted    = errors.New("session pool already started")
	ErrDuplicateIdentity = errors.New("duplicate handle identity")
)

// Pool is append-only until Start. After Start the handle list is never
// mutated, so reads do not lock.
type Pool struct {
	logger *log.Logger

	mu      sync.Mutex
	started bool

	handles    []voice.Handle
	byIdentity map[string]voice.Handle
}

func New(logger *log.Logger) *Pool {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Pool{
		logger:     logger,
		byIdentity: make(map[string]voice.Handle),
	}
}

func (p *Pool) Add(handle voice.Handle) error {
	if handle == nil {
		return fmt.Errorf("handle is required")
	}
	identity := strings.TrimSpace(handle.Identity())
	if identity == "" {
		return fmt.Errorf("handle identity is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}
	if _, exists := p.byIdentity[identity]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateIdentity, identity)
	}
	p.handles = append(p.handles, handle)
	p.byIdentity[identity] = handle
	return nil
}

// Start starts every handle. An empty pool is an error the caller should
// treat as fatal.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}
	if len(p.handles) == 0 {
		return ErrNoHandles
	}

	for i, handle := range p.handles {
		if err := handle.Start(ctx); err != nil {
			startErr := fmt.Errorf("start handle %s: %w", handle.Identity(), err)
			return errors.Join(startErr, p.closeStarted(p.handles[:i]))
		}
		p.logger.Printf("session handle started identity=%s", handle.Identity())
	}
	p.started = true
	p.logger.Printf("session pool started handles=%d", len(p.handles))
	return nil
}

// closeStarted disconnects handles that came up before a later one failed.
// The pool stays unstarted, so nothing else will ever close them.
func (p *Pool) closeStarted(started []voice.Handle) error {
	var errs []error
	for _, handle := range started {
		closer, ok := handle.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			p.logger.Printf("session handle close failed identity=%s err=%v", handle.Identity(), err)
			errs = append(errs, fmt.Errorf("close handle %s: %w", handle.Identity(), err))
			continue
		}
		p.logger.Printf("session handle closed after failed start identity=%s", handle.Identity())
	}
	return errors.Join(errs...)
}

func (p *Pool) Handles() []voice.Handle {
	out := make([]voice.Handle, len(p.handles))
	copy(out, p.handles)
	return out
}

func (p *Pool) Handle(identity string) (voice.Handle, bool) {
	handle, ok := p.byIdentity[strings.TrimSpace(identity)]
	return handle, ok
}

func (p *Pool) Len() int {
	return len(p.handles)
}

// Pick returns the handle a chat without an assignment should use.
func (p *Pool) Pick(chatID int64) (voice.Handle, bool) {
	if len(p.handles) == 0 {
		return nil, false
	}
	idx := chatID % int64(len(p.handles))
	if idx < 0 {
		idx = -idx
	}
	return p.handles[idx], true
}

// AveragePing is the mean latency in milliseconds over handles that have a
// finite measurement, rounded to two decimals. Unmeasured handles are left
// out of both the sum and the count.
func (p *Pool) AveragePing() float64 {
	var (
		sum   float64
		count int
	)
	for _, handle := range p.handles {
		ms, ok := handle.Ping()
		if !ok || math.IsNaN(ms) || math.IsInf(ms, 0) {
			continue
		}
		sum += ms
		count++
	}
	if count == 0 {
		return 0
	}
	return math.Round(sum/float64(count)*100) / 100
}
