package calls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"crabstack.local/projects/crab-voice/internal/events"
	"crabstack.local/projects/crab-voice/internal/locale"
	"crabstack.local/projects/crab-voice/internal/messaging"
	"crabstack.local/projects/crab-voice/internal/pool"
	"crabstack.local/projects/crab-voice/internal/queue"
	"crabstack.local/projects/crab-voice/internal/state"
	"crabstack.local/projects/crab-voice/internal/voice"
)

type joinCall struct {
	chatID int64
	stream voice.StreamDescriptor
}

type fakeHandle struct {
	identity string

	mu       sync.Mutex
	joinErrs []error
	joins    []joinCall
	leaves   []int64
	pauses   []int64
	resumes  []int64
	pauseErr error
	started  bool
}

func newFakeHandle(identity string, joinErrs ...error) *fakeHandle {
	return &fakeHandle{identity: identity, joinErrs: joinErrs}
}

func (h *fakeHandle) Identity() string { return h.identity }

func (h *fakeHandle) Start(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = true
	return nil
}

func (h *fakeHandle) JoinCall(_ context.Context, chatID int64, stream voice.StreamDescriptor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joins = append(h.joins, joinCall{chatID: chatID, stream: stream})
	if len(h.joinErrs) == 0 {
		return nil
	}
	err := h.joinErrs[0]
	h.joinErrs = h.joinErrs[1:]
	return err
}

func (h *fakeHandle) LeaveCall(_ context.Context, chatID int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaves = append(h.leaves, chatID)
	return voice.ErrNoActiveGroupCall
}

func (h *fakeHandle) PauseStream(_ context.Context, chatID int64) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pauses = append(h.pauses, chatID)
	if h.pauseErr != nil {
		return false, h.pauseErr
	}
	return true, nil
}

func (h *fakeHandle) ResumeStream(_ context.Context, chatID int64) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resumes = append(h.resumes, chatID)
	return true, nil
}

func (h *fakeHandle) Ping() (float64, bool) { return 0, false }

func (h *fakeHandle) Joins() []joinCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]joinCall, len(h.joins))
	copy(out, h.joins)
	return out
}

func (h *fakeHandle) Leaves() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int64, len(h.leaves))
	copy(out, h.leaves)
	return out
}

// notifyingHandle adds the stream-end capability to fakeHandle.
type notifyingHandle struct {
	*fakeHandle

	cbMu      sync.Mutex
	callbacks []func(voice.StreamEnded)
}

func newNotifyingHandle(identity string) *notifyingHandle {
	return &notifyingHandle{fakeHandle: newFakeHandle(identity)}
}

func (h *notifyingHandle) OnStreamEnd(fn func(voice.StreamEnded)) error {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.callbacks = append(h.callbacks, fn)
	return nil
}

func (h *notifyingHandle) Fire(update voice.StreamEnded) {
	h.cbMu.Lock()
	callbacks := append(([]func(voice.StreamEnded))(nil), h.callbacks...)
	h.cbMu.Unlock()
	for _, fn := range callbacks {
		fn(update)
	}
}

type mediaEdit struct {
	ref       messaging.MessageRef
	thumbnail string
	caption   string
	controls  []messaging.Control
}

type fakeMessenger struct {
	mu         sync.Mutex
	next       int
	sends      []string
	mediaEdits []mediaEdit
	textEdits  []string
	deletes    []messaging.MessageRef
	sendErr    error
	deleteErr  error
}

func (m *fakeMessenger) SendStatus(_ context.Context, chatID int64, text string) (messaging.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return messaging.MessageRef{}, m.sendErr
	}
	m.next++
	m.sends = append(m.sends, text)
	return messaging.MessageRef{ChatID: chatID, MessageID: fmt.Sprintf("m%d", m.next)}, nil
}

func (m *fakeMessenger) EditToMedia(_ context.Context, ref messaging.MessageRef, thumbnail, caption string, controls []messaging.Control) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mediaEdits = append(m.mediaEdits, mediaEdit{ref: ref, thumbnail: thumbnail, caption: caption, controls: controls})
	return nil
}

func (m *fakeMessenger) EditText(_ context.Context, _ messaging.MessageRef, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.textEdits = append(m.textEdits, text)
	return nil
}

func (m *fakeMessenger) DeleteMessages(_ context.Context, _ int64, refs []messaging.MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, refs...)
	return m.deleteErr
}

func (m *fakeMessenger) Sends() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sends...)
}

func (m *fakeMessenger) TextEdits() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.textEdits...)
}

func (m *fakeMessenger) MediaEdits() []mediaEdit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mediaEdit(nil), m.mediaEdits...)
}

func (m *fakeMessenger) Deletes() []messaging.MessageRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]messaging.MessageRef(nil), m.deletes...)
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeFetcher) Download(_ context.Context, itemID string, _ bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, itemID)
	if f.err != nil {
		return "", f.err
	}
	return "/cache/" + itemID + ".webm", nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (e *fakeEmitter) Dispatch(_ context.Context, event events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *fakeEmitter) Count(eventType events.Type) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, event := range e.events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

type harness struct {
	o         *Orchestrator
	pool      *pool.Pool
	store     *state.MemoryStore
	queue     *queue.MemoryQueue
	messenger *fakeMessenger
	fetcher   *fakeFetcher
	emitter   *fakeEmitter
	texts     locale.Texts

	mu     sync.Mutex
	sleeps []time.Duration
}

func newHarness(t *testing.T, handles ...voice.Handle) *harness {
	t.Helper()

	p := pool.New(nil)
	for _, handle := range handles {
		if err := p.Add(handle); err != nil {
			t.Fatalf("add handle: %v", err)
		}
	}
	catalog, err := locale.NewCatalog("en", nil)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}

	h := &harness{
		pool:      p,
		store:     state.NewMemoryStore(),
		queue:     queue.NewMemoryQueue(),
		messenger: &fakeMessenger{},
		fetcher:   &fakeFetcher{},
		emitter:   &fakeEmitter{},
		texts:     catalog.Get(context.Background(), 0),
	}
	o, err := New(Config{DefaultThumbnail: "https://img.example/default.png", SupportChat: "@crabsupport"}, Deps{
		Pool:      p,
		Store:     h.store,
		Queue:     h.queue,
		Messenger: h.messenger,
		Fetcher:   h.fetcher,
		Locale:    catalog,
		Events:    h.emitter,
		Logger:    log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	o.sleep = func(ctx context.Context, d time.Duration) error {
		h.mu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.mu.Unlock()
		return ctx.Err()
	}
	h.o = o
	return h
}

func (h *harness) Sleeps() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

func (h *harness) assign(t *testing.T, chatID int64, identity string) {
	t.Helper()
	if err := h.store.SetAssistant(context.Background(), chatID, identity); err != nil {
		t.Fatalf("set assistant: %v", err)
	}
}

func (h *harness) activate(t *testing.T, chatID int64) {
	t.Helper()
	if err := h.store.AddActiveCall(context.Background(), chatID); err != nil {
		t.Fatalf("add active call: %v", err)
	}
}

func (h *harness) active(t *testing.T, chatID int64) bool {
	t.Helper()
	active, err := h.store.HasActiveCall(context.Background(), chatID)
	if err != nil {
		t.Fatalf("has active call: %v", err)
	}
	return active
}

var errBoom = errors.New("boom")
