package listener

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"crabstack.local/projects/crab-voice/internal/calls"
	"crabstack.local/projects/crab-voice/internal/messaging"
)

type fakeController struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeController) record(action string, chatID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s:%d", action, chatID))
}

func (f *fakeController) Pause(_ context.Context, chatID int64) (bool, error) {
	f.record("pause", chatID)
	return true, f.err
}

func (f *fakeController) Resume(_ context.Context, chatID int64) (bool, error) {
	f.record("resume", chatID)
	return true, f.err
}

func (f *fakeController) Skip(_ context.Context, chatID int64) error {
	f.record("skip", chatID)
	return f.err
}

func (f *fakeController) Stop(_ context.Context, chatID int64) {
	f.record("stop", chatID)
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeResponder struct {
	mu        sync.Mutex
	responses []discordgo.InteractionResponseType
	err       error
}

func (f *fakeResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp.Type)
	return f.err
}

func (f *fakeResponder) Responses() []discordgo.InteractionResponseType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]discordgo.InteractionResponseType(nil), f.responses...)
}

func buttonPress(channelID, customID string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionMessageComponent,
		ChannelID: channelID,
		Data:      discordgo.MessageComponentInteractionData{CustomID: customID},
	}}
}

func TestButtonPressRunsAction(t *testing.T) {
	for _, action := range []string{messaging.ActionPause, messaging.ActionResume, messaging.ActionSkip, messaging.ActionStop} {
		controller := &fakeController{}
		responder := &fakeResponder{}
		l := NewListener(controller, nil)

		l.handle(responder, buttonPress("42", messaging.ControlID(action, 42)))

		got := controller.Calls()
		if len(got) != 1 || got[0] != action+":42" {
			t.Fatalf("%s: unexpected controller calls %v", action, got)
		}
		responses := responder.Responses()
		if len(responses) != 1 || responses[0] != discordgo.InteractionResponseDeferredMessageUpdate {
			t.Fatalf("%s: expected deferred update ack, got %v", action, responses)
		}
	}
}

func TestForeignButtonsIgnored(t *testing.T) {
	controller := &fakeController{}
	responder := &fakeResponder{}
	l := NewListener(controller, nil)

	l.handle(responder, buttonPress("42", "poll:yes"))
	l.handle(responder, buttonPress("42", "voice:rewind:42"))

	if len(controller.Calls()) != 0 {
		t.Fatalf("expected no controller calls, got %v", controller.Calls())
	}
	if len(responder.Responses()) != 0 {
		t.Fatalf("expected no acks, got %v", responder.Responses())
	}
}

func TestChannelMismatchIgnored(t *testing.T) {
	controller := &fakeController{}
	var logs bytes.Buffer
	l := NewListener(controller, log.New(&logs, "", 0))

	l.handle(&fakeResponder{}, buttonPress("99", messaging.ControlID(messaging.ActionStop, 42)))

	if len(controller.Calls()) != 0 {
		t.Fatalf("expected no controller calls, got %v", controller.Calls())
	}
	if !strings.Contains(logs.String(), "channel_mismatch") {
		t.Fatalf("expected channel mismatch log, got %q", logs.String())
	}
}

func TestNonComponentInteractionIgnored(t *testing.T) {
	controller := &fakeController{}
	l := NewListener(controller, nil)

	l.handle(&fakeResponder{}, &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
	}})
	l.handle(&fakeResponder{}, nil)

	if len(controller.Calls()) != 0 {
		t.Fatalf("expected no controller calls, got %v", controller.Calls())
	}
}

func TestAckFailureStillRunsAction(t *testing.T) {
	controller := &fakeController{}
	l := NewListener(controller, nil)

	l.handle(&fakeResponder{err: errors.New("unknown interaction")}, buttonPress("7", messaging.ControlID(messaging.ActionSkip, 7)))

	if got := controller.Calls(); len(got) != 1 || got[0] != "skip:7" {
		t.Fatalf("unexpected controller calls %v", got)
	}
}

func TestIdleChatLogsNotActive(t *testing.T) {
	var logs bytes.Buffer
	l := NewListener(&fakeController{err: calls.ErrNotActive}, log.New(&logs, "", 0))

	l.handle(&fakeResponder{}, buttonPress("7", messaging.ControlID(messaging.ActionPause, 7)))

	if !strings.Contains(logs.String(), "reason=not_active") {
		t.Fatalf("expected not_active log, got %q", logs.String())
	}
}

func TestStartRequiresSession(t *testing.T) {
	l := NewListener(&fakeController{}, nil)
	if err := l.Start(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil session")
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("stop without start: %v", err)
	}
}
