// Package listener turns presses on the now-playing control buttons into
// orchestrator calls.
package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"crabstack.local/projects/crab-voice/internal/calls"
	"crabstack.local/projects/crab-voice/internal/messaging"
)

const actionTimeout = 2 * time.Minute

type Controller interface {
	Pause(ctx context.Context, chatID int64) (bool, error)
	Resume(ctx context.Context, chatID int64) (bool, error)
	Skip(ctx context.Context, chatID int64) error
	Stop(ctx context.Context, chatID int64)
}

type responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

type Listener struct {
	controller Controller
	logger     *log.Logger

	mu      sync.Mutex
	session *discordgo.Session
}

func NewListener(controller Controller, logger *log.Logger) *Listener {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Listener{
		controller: controller,
		logger:     logger,
	}
}

// Start registers the interaction handler on session and opens the gateway
// connection. The session is shared with the messenger.
func (l *Listener) Start(ctx context.Context, session *discordgo.Session) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if session == nil {
		return fmt.Errorf("discord session is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session != nil {
		return fmt.Errorf("listener already started")
	}

	session.Identify.Intents = discordgo.IntentsGuilds
	session.AddHandler(l.handleInteraction)
	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	l.session = session
	l.logger.Printf("control listener started")
	return nil
}

func (l *Listener) Stop() error {
	l.mu.Lock()
	s := l.session
	l.session = nil
	l.mu.Unlock()

	if s == nil {
		return nil
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	l.logger.Printf("control listener stopped")
	return nil
}

func (l *Listener) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	l.handle(s, i)
}

func (l *Listener) handle(r responder, i *discordgo.InteractionCreate) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}

	customID := i.MessageComponentData().CustomID
	action, chatID, err := messaging.ParseControlID(customID)
	if err != nil {
		// Buttons owned by other bots or features.
		return
	}
	if channel := strings.TrimSpace(i.ChannelID); channel != "" && channel != strconv.FormatInt(chatID, 10) {
		l.logger.Printf("control ignored chat_id=%d channel_id=%s reason=channel_mismatch", chatID, channel)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	if err := r.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}, discordgo.WithContext(ctx)); err != nil {
		l.logger.Printf("control ack failed chat_id=%d action=%s err=%v", chatID, action, err)
	}

	if err := l.apply(ctx, action, chatID); err != nil {
		if errors.Is(err, calls.ErrNotActive) {
			l.logger.Printf("control ignored chat_id=%d action=%s reason=not_active", chatID, action)
			return
		}
		l.logger.Printf("control failed chat_id=%d action=%s err=%v", chatID, action, err)
		return
	}
	l.logger.Printf("control applied chat_id=%d action=%s", chatID, action)
}

func (l *Listener) apply(ctx context.Context, action string, chatID int64) error {
	switch action {
	case messaging.ActionPause:
		_, err := l.controller.Pause(ctx, chatID)
		return err
	case messaging.ActionResume:
		_, err := l.controller.Resume(ctx, chatID)
		return err
	case messaging.ActionSkip:
		return l.controller.Skip(ctx, chatID)
	case messaging.ActionStop:
		l.controller.Stop(ctx, chatID)
		return nil
	default:
		return fmt.Errorf("unsupported action %q", action)
	}
}
