package pool

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"crabstack.local/projects/crab-voice/internal/voice"
)

type fakeHandle struct {
	identity string
	latency  float64
	measured bool
	startErr error

	mu     sync.Mutex
	starts int
}

// closableHandle is a fakeHandle with a live connection to tear down.
type closableHandle struct {
	*fakeHandle
	closeErr error
	closes   int
}

func (c *closableHandle) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return c.closeErr
}

func (c *closableHandle) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (f *fakeHandle) Identity() string { return f.identity }

func (f *fakeHandle) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeHandle) JoinCall(context.Context, int64, voice.StreamDescriptor) error { return nil }
func (f *fakeHandle) LeaveCall(context.Context, int64) error                        { return nil }
func (f *fakeHandle) PauseStream(context.Context, int64) (bool, error)              { return true, nil }
func (f *fakeHandle) ResumeStream(context.Context, int64) (bool, error)             { return true, nil }

func (f *fakeHandle) Ping() (float64, bool) { return f.latency, f.measured }

func (f *fakeHandle) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func TestStartEmptyPoolFails(t *testing.T) {
	p := New(nil)
	if err := p.Start(context.Background()); !errors.Is(err, ErrNoHandles) {
		t.Fatalf("expected ErrNoHandles, got %v", err)
	}
}

func TestStartStartsEveryHandleAndFreezes(t *testing.T) {
	a := &fakeHandle{identity: "a"}
	b := &fakeHandle{identity: "b"}
	p := New(nil)
	for _, h := range []*fakeHandle{a, b} {
		if err := p.Add(h); err != nil {
			t.Fatalf("add %s: %v", h.identity, err)
		}
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if a.Starts() != 1 || b.Starts() != 1 {
		t.Fatalf("expected each handle started once, got a=%d b=%d", a.Starts(), b.Starts())
	}
	if err := p.Add(&fakeHandle{identity: "c"}); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if p.Len() != 2 {
		t.Fatalf("expected 2 handles, got %d", p.Len())
	}
}

func TestStartPropagatesHandleFailure(t *testing.T) {
	p := New(nil)
	_ = p.Add(&fakeHandle{identity: "a", startErr: errors.New("dial refused")})
	if err := p.Start(context.Background()); err == nil {
		t.Fatalf("expected start error")
	}
}

func TestStartFailureClosesStartedHandles(t *testing.T) {
	dialErr := errors.New("dial refused")
	closeErr := errors.New("socket already gone")
	a := &closableHandle{fakeHandle: &fakeHandle{identity: "a"}}
	b := &closableHandle{fakeHandle: &fakeHandle{identity: "b"}, closeErr: closeErr}
	plain := &fakeHandle{identity: "plain"}
	failing := &closableHandle{fakeHandle: &fakeHandle{identity: "failing", startErr: dialErr}}
	after := &closableHandle{fakeHandle: &fakeHandle{identity: "after"}}

	p := New(nil)
	for _, h := range []voice.Handle{a, b, plain, failing, after} {
		if err := p.Add(h); err != nil {
			t.Fatalf("add %s: %v", h.Identity(), err)
		}
	}

	err := p.Start(context.Background())
	if !errors.Is(err, dialErr) {
		t.Fatalf("expected start error to wrap dial failure, got %v", err)
	}
	if !errors.Is(err, closeErr) {
		t.Fatalf("expected start error to carry close failure, got %v", err)
	}
	if a.Closes() != 1 || b.Closes() != 1 {
		t.Fatalf("expected started handles closed once, got a=%d b=%d", a.Closes(), b.Closes())
	}
	if failing.Closes() != 0 {
		t.Fatalf("expected failing handle left alone, got %d closes", failing.Closes())
	}
	if after.Starts() != 0 || after.Closes() != 0 {
		t.Fatalf("expected later handle untouched, got starts=%d closes=%d", after.Starts(), after.Closes())
	}

	// The pool never reached started, so it can still take handles.
	if err := p.Add(&fakeHandle{identity: "late"}); err != nil {
		t.Fatalf("expected pool to stay unstarted, got %v", err)
	}
}

func TestAddRejectsDuplicateIdentity(t *testing.T) {
	p := New(nil)
	_ = p.Add(&fakeHandle{identity: "a"})
	if err := p.Add(&fakeHandle{identity: "a"}); !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity, got %v", err)
	}
}

func TestAveragePingExcludesUnmeasured(t *testing.T) {
	p := New(nil)
	_ = p.Add(&fakeHandle{identity: "a", latency: 100, measured: true})
	_ = p.Add(&fakeHandle{identity: "b", latency: 200, measured: true})
	_ = p.Add(&fakeHandle{identity: "c"})

	if got := p.AveragePing(); got != 150.0 {
		t.Fatalf("expected 150.0, got %v", got)
	}
}

func TestAveragePingEmptyOrUnmeasured(t *testing.T) {
	if got := New(nil).AveragePing(); got != 0 {
		t.Fatalf("expected 0 for empty pool, got %v", got)
	}

	p := New(nil)
	_ = p.Add(&fakeHandle{identity: "a"})
	_ = p.Add(&fakeHandle{identity: "b", latency: math.NaN(), measured: true})
	if got := p.AveragePing(); got != 0 {
		t.Fatalf("expected 0 when nothing measured, got %v", got)
	}
}

func TestAveragePingRoundsToTwoDecimals(t *testing.T) {
	p := New(nil)
	_ = p.Add(&fakeHandle{identity: "a", latency: 10, measured: true})
	_ = p.Add(&fakeHandle{identity: "b", latency: 10, measured: true})
	_ = p.Add(&fakeHandle{identity: "c", latency: 11, measured: true})

	if got := p.AveragePing(); got != 10.33 {
		t.Fatalf("expected 10.33, got %v", got)
	}
}

func TestPickIsStable(t *testing.T) {
	p := New(nil)
	_ = p.Add(&fakeHandle{identity: "a"})
	_ = p.Add(&fakeHandle{identity: "b"})

	first, ok := p.Pick(-1001234567891)
	if !ok {
		t.Fatalf("expected a handle")
	}
	second, _ := p.Pick(-1001234567891)
	if first.Identity() != second.Identity() {
		t.Fatalf("expected stable pick, got %s then %s", first.Identity(), second.Identity())
	}

	if _, ok := New(nil).Pick(1); ok {
		t.Fatalf("expected no pick from empty pool")
	}
}

func TestHandleLookup(t *testing.T) {
	p := New(nil)
	_ = p.Add(&fakeHandle{identity: "a"})
	if _, ok := p.Handle(" a "); !ok {
		t.Fatalf("expected lookup hit")
	}
	if _, ok := p.Handle("missing"); ok {
		t.Fatalf("expected lookup miss")
	}
}
