// Package calls drives the per-chat stream lifecycle: joining a voice chat
// with bounded retry, pausing and resuming, advancing through the queue and
// stopping.
package calls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"crabstack.local/projects/crab-voice/internal/events"
	"crabstack.local/projects/crab-voice/internal/locale"
	"crabstack.local/projects/crab-voice/internal/media"
	"crabstack.local/projects/crab-voice/internal/messaging"
	"crabstack.local/projects/crab-voice/internal/metrics"
	"crabstack.local/projects/crab-voice/internal/queue"
	"crabstack.local/projects/crab-voice/internal/state"
	"crabstack.local/projects/crab-voice/internal/voice"
)

// Pool is the part of the session pool the orchestrator needs.
type Pool interface {
	Start(ctx context.Context) error
	Handles() []voice.Handle
	Handle(identity string) (voice.Handle, bool)
	Pick(chatID int64) (voice.Handle, bool)
	AveragePing() float64
}

type Emitter interface {
	Dispatch(ctx context.Context, event events.Event)
}

type Recorder interface {
	JoinAttempt(outcome string)
	PlayFailure(kind string)
	CallStarted()
	CallStopped()
}

type Config struct {
	// DefaultThumbnail is shown when an item has no cover art.
	DefaultThumbnail string
	// SupportChat is quoted in the missing-file notice.
	SupportChat string
}

type Deps struct {
	Pool      Pool
	Store     state.Store
	Queue     queue.Queue
	Messenger messaging.Messenger
	Fetcher   media.Fetcher
	Locale    locale.Provider
	Events    Emitter
	Metrics   Recorder
	Logger    *log.Logger
}

type Orchestrator struct {
	cfg       Config
	pool      Pool
	store     state.Store
	queue     queue.Queue
	messenger messaging.Messenger
	fetcher   media.Fetcher
	locale    locale.Provider
	events    Emitter
	metrics   Recorder
	logger    *log.Logger

	locks *chatLocks
	sleep sleepFunc
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Pool == nil:
		return nil, fmt.Errorf("session pool is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("state store is required")
	case deps.Queue == nil:
		return nil, fmt.Errorf("queue is required")
	case deps.Messenger == nil:
		return nil, fmt.Errorf("messenger is required")
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("media fetcher is required")
	case deps.Locale == nil:
		return nil, fmt.Errorf("locale provider is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	var emitter Emitter = nopEmitter{}
	if deps.Events != nil {
		emitter = deps.Events
	}
	var recorder Recorder = nopRecorder{}
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}

	return &Orchestrator{
		cfg:       cfg,
		pool:      deps.Pool,
		store:     deps.Store,
		queue:     deps.Queue,
		messenger: deps.Messenger,
		fetcher:   deps.Fetcher,
		locale:    deps.Locale,
		events:    emitter,
		metrics:   recorder,
		logger:    logger,
		locks:     newChatLocks(),
		sleep:     sleepContext,
	}, nil
}

// Play streams item into chatID using the chat's assigned assistant and
// turns status into the now-playing message.
func (o *Orchestrator) Play(ctx context.Context, chatID int64, status messaging.MessageRef, item *queue.Item, seek time.Duration) error {
	unlock := o.locks.lock(chatID)
	defer unlock()
	return o.play(ctx, chatID, status, item, seek)
}

func (o *Orchestrator) play(ctx context.Context, chatID int64, status messaging.MessageRef, item *queue.Item, seek time.Duration) error {
	handle, identity, err := o.assistant(ctx, chatID)
	if err != nil {
		o.metrics.PlayFailure(failureNoAssistant)
		o.logger.Printf("play skipped chat_id=%d err=%v", chatID, err)
		return err
	}

	texts := o.locale.Get(ctx, chatID)
	if item == nil || strings.TrimSpace(item.LocalPath) == "" {
		o.metrics.PlayFailure(failureNoSource)
		o.editText(ctx, status, texts.Format(locale.KeyErrorNoFile, o.cfg.SupportChat))
		o.emitFailure(ctx, chatID, identity, item, ErrNoSourceFile)
		return ErrNoSourceFile
	}

	stream := voice.StreamDescriptor{
		Path:      item.LocalPath,
		AudioOnly: true,
		Quality:   voice.QualityHigh,
		Seek:      seek,
	}

	for attempt := 1; ; attempt++ {
		joinErr := handle.JoinCall(ctx, chatID, stream)
		if joinErr == nil {
			o.metrics.JoinAttempt(metrics.OutcomeSuccess)
			o.started(ctx, chatID, identity, status, item, texts)
			return nil
		}

		switch {
		case errors.Is(joinErr, voice.ErrNoActiveGroupCall):
			o.metrics.JoinAttempt(metrics.OutcomeNoCall)
			o.logger.Printf("join rejected chat_id=%d assistant=%s err=%v", chatID, identity, joinErr)
			return o.fail(ctx, chatID, identity, status, item, texts.Format(locale.KeyErrorNoCall), failureNoCall, fmt.Errorf("%w: %w", ErrNoActiveVoiceChat, joinErr))

		case isTransient(joinErr):
			o.metrics.JoinAttempt(metrics.OutcomeTransient)
			o.logger.Printf("join failed chat_id=%d assistant=%s attempt=%d/%d err=%v", chatID, identity, attempt, maxJoinAttempts, joinErr)
			if attempt >= maxJoinAttempts {
				return o.fail(ctx, chatID, identity, status, item, texts.Format(locale.KeyErrorTGServer), failureTransport, fmt.Errorf("%w: %w", ErrTransportFailure, joinErr))
			}
			delay := backoffDelay(attempt)
			if err := o.sleep(ctx, delay); err != nil {
				o.logger.Printf("join retry abandoned chat_id=%d attempt=%d err=%v", chatID, attempt, err)
				return o.fail(ctx, chatID, identity, status, item, texts.Format(locale.KeyErrorTGServer), failureTransport, fmt.Errorf("%w: %w", ErrTransportFailure, joinErr))
			}

		default:
			o.metrics.JoinAttempt(metrics.OutcomeUnknown)
			o.logger.Printf("join failed with unclassified error chat_id=%d assistant=%s err=%v", chatID, identity, joinErr)
			return o.fail(ctx, chatID, identity, status, item, texts.Format(locale.KeyErrorTGServer), failureUnknown, fmt.Errorf("%w: %w", ErrUnknownFailure, joinErr))
		}
	}
}

// started records a confirmed join.
func (o *Orchestrator) started(ctx context.Context, chatID int64, identity string, status messaging.MessageRef, item *queue.Item, texts locale.Texts) {
	wasActive, err := o.store.HasActiveCall(ctx, chatID)
	if err != nil {
		o.logger.Printf("active call lookup failed chat_id=%d err=%v", chatID, err)
	}

	item.NowPlaying = true
	if err := o.store.AddActiveCall(ctx, chatID); err != nil {
		o.logger.Printf("record active call failed chat_id=%d err=%v", chatID, err)
	}
	if !wasActive {
		o.metrics.CallStarted()
	}

	thumbnail := strings.TrimSpace(item.Thumbnail)
	if thumbnail == "" {
		thumbnail = o.cfg.DefaultThumbnail
	}
	caption := texts.Format(locale.KeyPlayMedia, item.SourceURL, item.Title, item.DurationLabel(), item.RequestedBy)
	controls := messaging.Controls(chatID, texts.ControlLabel)
	if !status.IsZero() {
		if err := o.messenger.EditToMedia(ctx, status, thumbnail, caption, controls); err != nil {
			o.logger.Printf("now playing edit failed chat_id=%d message_id=%s err=%v", chatID, status.MessageID, err)
		}
	}
	item.StatusMessageID = status.MessageID

	o.logger.Printf("stream started chat_id=%d assistant=%s item_id=%s", chatID, identity, item.ID)
	o.emit(ctx, events.TypeCallStarted, chatID, identity, item, nil)
}

// fail stops the chat and surfaces notice on the status message. The caller's
// context may already be done, so cleanup runs detached from cancellation.
func (o *Orchestrator) fail(ctx context.Context, chatID int64, identity string, status messaging.MessageRef, item *queue.Item, notice string, kind string, err error) error {
	ctx = context.WithoutCancel(ctx)
	o.metrics.PlayFailure(kind)
	o.stop(ctx, chatID)
	o.editText(ctx, status, notice)
	o.emitFailure(ctx, chatID, identity, item, err)
	return err
}

// Advance moves chatID to its next queued item, or stops the call when the
// queue is empty. Chats without an active call are left alone.
func (o *Orchestrator) Advance(ctx context.Context, chatID int64) error {
	unlock := o.locks.lock(chatID)
	defer unlock()
	return o.advance(ctx, chatID)
}

func (o *Orchestrator) advance(ctx context.Context, chatID int64) error {
	active, err := o.store.HasActiveCall(ctx, chatID)
	if err != nil {
		return fmt.Errorf("check active call: %w", err)
	}
	if !active {
		return nil
	}

	if current := o.queue.PeekCurrent(chatID); current != nil {
		if current.StatusMessageID != "" {
			ref := messaging.MessageRef{ChatID: chatID, MessageID: current.StatusMessageID}
			if err := o.messenger.DeleteMessages(ctx, chatID, []messaging.MessageRef{ref}); err != nil {
				o.cleanupFailed(chatID, "delete_status", err)
			}
		}
		current.StatusMessageID = ""
		current.NowPlaying = false
	}

	next := o.queue.PopNext(chatID)
	if next == nil {
		o.stop(ctx, chatID)
		return nil
	}
	return o.startNext(ctx, chatID, next)
}

// startNext posts the loading notice, resolves the media file and plays.
func (o *Orchestrator) startNext(ctx context.Context, chatID int64, item *queue.Item) error {
	texts := o.locale.Get(ctx, chatID)
	status, err := o.messenger.SendStatus(ctx, chatID, texts.Format(locale.KeyPlayNext))
	if err != nil {
		o.logger.Printf("loading notice failed chat_id=%d err=%v", chatID, err)
		status = messaging.MessageRef{ChatID: chatID}
	}

	if strings.TrimSpace(item.LocalPath) == "" {
		path, err := o.fetcher.Download(ctx, item.ID, item.Video)
		if err != nil {
			o.logger.Printf("media fetch failed chat_id=%d item_id=%s err=%v", chatID, item.ID, err)
			identity, _ := o.store.GetAssistant(ctx, chatID)
			return o.fail(ctx, chatID, identity, status, item, texts.Format(locale.KeyErrorNoFile, o.cfg.SupportChat), failureNoSource, fmt.Errorf("%w: %w", ErrNoSourceFile, err))
		}
		item.LocalPath = path
	}

	item.StatusMessageID = status.MessageID
	return o.play(ctx, chatID, status, item, 0)
}

// Skip advances an active chat on request. Unlike Advance it reports
// ErrNotActive for idle chats.
func (o *Orchestrator) Skip(ctx context.Context, chatID int64) error {
	unlock := o.locks.lock(chatID)
	defer unlock()

	active, err := o.store.HasActiveCall(ctx, chatID)
	if err != nil {
		return fmt.Errorf("check active call: %w", err)
	}
	if !active {
		return ErrNotActive
	}
	return o.advance(ctx, chatID)
}

func (o *Orchestrator) Pause(ctx context.Context, chatID int64) (bool, error) {
	return o.setPaused(ctx, chatID, true)
}

func (o *Orchestrator) Resume(ctx context.Context, chatID int64) (bool, error) {
	return o.setPaused(ctx, chatID, false)
}

func (o *Orchestrator) setPaused(ctx context.Context, chatID int64, paused bool) (bool, error) {
	unlock := o.locks.lock(chatID)
	defer unlock()

	active, err := o.store.HasActiveCall(ctx, chatID)
	if err != nil {
		return false, fmt.Errorf("check active call: %w", err)
	}
	if !active {
		return false, ErrNotActive
	}
	handle, identity, err := o.assistant(ctx, chatID)
	if err != nil {
		return false, err
	}

	if err := o.store.SetPlaying(ctx, chatID, paused); err != nil {
		return false, fmt.Errorf("record paused=%t: %w", paused, err)
	}

	op, eventType := handle.PauseStream, events.TypeCallPaused
	if !paused {
		op, eventType = handle.ResumeStream, events.TypeCallResumed
	}
	ok, err := op(ctx, chatID)
	if err != nil {
		if rollbackErr := o.store.SetPlaying(ctx, chatID, !paused); rollbackErr != nil {
			o.logger.Printf("paused flag rollback failed chat_id=%d err=%v", chatID, rollbackErr)
		}
		return false, fmt.Errorf("set paused=%t: %w", paused, err)
	}

	o.emit(ctx, eventType, chatID, identity, nil, nil)
	return ok, nil
}

// Stop leaves the voice chat, drops the queue and clears the call record.
// Every step is best effort; Stop is safe to call on an idle chat.
func (o *Orchestrator) Stop(ctx context.Context, chatID int64) {
	unlock := o.locks.lock(chatID)
	defer unlock()
	o.stop(ctx, chatID)
}

func (o *Orchestrator) stop(ctx context.Context, chatID int64) {
	ctx = context.WithoutCancel(ctx)

	wasActive, err := o.store.HasActiveCall(ctx, chatID)
	if err != nil {
		o.cleanupFailed(chatID, "lookup", err)
	}

	identity, err := o.store.GetAssistant(ctx, chatID)
	switch {
	case err == nil:
		if handle, ok := o.pool.Handle(identity); ok {
			if err := handle.LeaveCall(ctx, chatID); err != nil {
				o.cleanupFailed(chatID, "leave", err)
			}
		}
	case !errors.Is(err, state.ErrNoAssistant):
		o.cleanupFailed(chatID, "leave", err)
	}

	o.queue.Clear(chatID)

	if err := o.store.RemoveActiveCall(ctx, chatID); err != nil {
		o.cleanupFailed(chatID, "remove", err)
	}

	if wasActive {
		o.metrics.CallStopped()
		o.logger.Printf("call stopped chat_id=%d assistant=%s", chatID, identity)
		o.emit(ctx, events.TypeCallStopped, chatID, identity, nil, nil)
	}
}

type EnqueueResult struct {
	// Position is the 1-based place among pending items, 0 when the item
	// started right away.
	Position  int    `json:"position"`
	Started   bool   `json:"started"`
	Assistant string `json:"assistant"`
}

// Enqueue adds item to the chat queue, assigning an assistant first if the
// chat has none. An idle chat starts playing immediately.
func (o *Orchestrator) Enqueue(ctx context.Context, chatID int64, item *queue.Item) (EnqueueResult, error) {
	if item == nil {
		return EnqueueResult{}, fmt.Errorf("item is required")
	}

	unlock := o.locks.lock(chatID)
	defer unlock()

	identity, err := o.ensureAssistant(ctx, chatID)
	if err != nil {
		return EnqueueResult{}, err
	}
	active, err := o.store.HasActiveCall(ctx, chatID)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("check active call: %w", err)
	}

	position := o.queue.Add(chatID, item)
	if active {
		return EnqueueResult{Position: position, Assistant: identity}, nil
	}

	next := o.queue.PopNext(chatID)
	if next == nil {
		return EnqueueResult{Position: position, Assistant: identity}, nil
	}
	if err := o.startNext(ctx, chatID, next); err != nil {
		return EnqueueResult{Assistant: identity}, err
	}
	return EnqueueResult{Started: true, Assistant: identity}, nil
}

type Status struct {
	ChatID     int64       `json:"chat_id"`
	Active     bool        `json:"active"`
	Paused     bool        `json:"paused"`
	Assistant  string      `json:"assistant,omitempty"`
	NowPlaying *queue.Item `json:"now_playing,omitempty"`
	Pending    int         `json:"pending"`
}

// Status is a read-only snapshot. It waits for the chat lock because the
// current item is mutated in place while a chat transitions.
func (o *Orchestrator) Status(ctx context.Context, chatID int64) (Status, error) {
	unlock := o.locks.lock(chatID)
	defer unlock()

	rec, _, err := o.store.GetCall(ctx, chatID)
	if err != nil {
		return Status{}, fmt.Errorf("get call: %w", err)
	}
	out := Status{
		ChatID:    chatID,
		Active:    rec.Active,
		Paused:    rec.Paused,
		Assistant: rec.Assistant,
		Pending:   len(o.queue.Pending(chatID)),
	}
	if current := o.queue.PeekCurrent(chatID); current != nil && current.NowPlaying {
		snapshot := *current
		out.NowPlaying = &snapshot
	}
	return out, nil
}

func (o *Orchestrator) AveragePing() float64 {
	return o.pool.AveragePing()
}

func (o *Orchestrator) assistant(ctx context.Context, chatID int64) (voice.Handle, string, error) {
	identity, err := o.store.GetAssistant(ctx, chatID)
	if err != nil {
		if errors.Is(err, state.ErrNoAssistant) {
			return nil, "", ErrNoAssistant
		}
		return nil, "", fmt.Errorf("%w: %w", ErrNoAssistant, err)
	}
	handle, ok := o.pool.Handle(identity)
	if !ok {
		return nil, identity, fmt.Errorf("%w: assistant %q is not in the pool", ErrNoAssistant, identity)
	}
	return handle, identity, nil
}

// ensureAssistant returns the chat's assistant, assigning one from the pool
// when none is stored or the stored one is gone.
func (o *Orchestrator) ensureAssistant(ctx context.Context, chatID int64) (string, error) {
	_, identity, err := o.assistant(ctx, chatID)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, ErrNoAssistant) {
		return "", err
	}

	handle, ok := o.pool.Pick(chatID)
	if !ok {
		return "", ErrNoAssistant
	}
	identity = handle.Identity()
	if err := o.store.SetAssistant(ctx, chatID, identity); err != nil {
		return "", fmt.Errorf("assign assistant: %w", err)
	}
	o.logger.Printf("assistant assigned chat_id=%d assistant=%s", chatID, identity)
	return identity, nil
}

func (o *Orchestrator) editText(ctx context.Context, ref messaging.MessageRef, text string) {
	if ref.IsZero() {
		return
	}
	if err := o.messenger.EditText(ctx, ref, text); err != nil {
		o.logger.Printf("status edit failed chat_id=%d message_id=%s err=%v", ref.ChatID, ref.MessageID, err)
	}
}

func (o *Orchestrator) cleanupFailed(chatID int64, step string, err error) {
	o.logger.Printf("cleanup failed chat_id=%d step=%s err=%v", chatID, step, err)
}

func (o *Orchestrator) emitFailure(ctx context.Context, chatID int64, identity string, item *queue.Item, err error) {
	o.emit(ctx, events.TypeCallFailed, chatID, identity, item, err)
}

func (o *Orchestrator) emit(ctx context.Context, eventType events.Type, chatID int64, identity string, item *queue.Item, err error) {
	event := events.New(eventType, chatID)
	event.Assistant = identity
	if item != nil {
		event.Item = &events.Item{
			ID:          item.ID,
			Title:       item.Title,
			SourceURL:   item.SourceURL,
			RequestedBy: item.RequestedBy,
		}
	}
	if err != nil {
		event.Error = err.Error()
	}
	o.events.Dispatch(ctx, event)
}

type nopEmitter struct{}

func (nopEmitter) Dispatch(context.Context, events.Event) {}

type nopRecorder struct{}

func (nopRecorder) JoinAttempt(string) {}
func (nopRecorder) PlayFailure(string) {}
func (nopRecorder) CallStarted()       {}
func (nopRecorder) CallStopped()       {}
