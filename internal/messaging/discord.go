package messaging

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// discordAPI is the subset of *discordgo.Session the messenger uses.
type discordAPI interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessagesBulkDelete(channelID string, messages []string, options ...discordgo.RequestOption) error
}

// Discord maps chat ids to channel snowflakes.
type Discord struct {
	api discordAPI
}

func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{api: session}
}

func NewDiscordSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New(NormalizeBotToken(token))
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return session, nil
}

func (d *Discord) SendStatus(ctx context.Context, chatID int64, text string) (MessageRef, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return MessageRef{}, fmt.Errorf("status text is required")
	}
	msg, err := d.api.ChannelMessageSend(channelID(chatID), text, discordgo.WithContext(ctx))
	if err != nil {
		return MessageRef{}, fmt.Errorf("send status: %w", err)
	}
	return MessageRef{ChatID: chatID, MessageID: msg.ID}, nil
}

func (d *Discord) EditToMedia(ctx context.Context, ref MessageRef, thumbnail, caption string, controls []Control) error {
	if ref.IsZero() {
		return fmt.Errorf("message id is required")
	}
	edit := discordgo.NewMessageEdit(channelID(ref.ChatID), ref.MessageID).
		SetContent("").
		SetEmbed(&discordgo.MessageEmbed{
			Description: caption,
			Image:       &discordgo.MessageEmbedImage{URL: thumbnail},
		})
	components := buttonRows(controls)
	edit.Components = &components

	if _, err := d.api.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit status to media: %w", err)
	}
	return nil
}

func (d *Discord) EditText(ctx context.Context, ref MessageRef, text string) error {
	if ref.IsZero() {
		return fmt.Errorf("message id is required")
	}
	edit := discordgo.NewMessageEdit(channelID(ref.ChatID), ref.MessageID).
		SetContent(text).
		SetEmbeds([]*discordgo.MessageEmbed{})
	components := []discordgo.MessageComponent{}
	edit.Components = &components

	if _, err := d.api.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit status text: %w", err)
	}
	return nil
}

func (d *Discord) DeleteMessages(ctx context.Context, chatID int64, refs []MessageRef) error {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.IsZero() {
			continue
		}
		ids = append(ids, ref.MessageID)
	}
	switch len(ids) {
	case 0:
		return nil
	case 1:
		if err := d.api.ChannelMessageDelete(channelID(chatID), ids[0], discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		return nil
	default:
		if err := d.api.ChannelMessagesBulkDelete(channelID(chatID), ids, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("bulk delete messages: %w", err)
		}
		return nil
	}
}

func buttonRows(controls []Control) []discordgo.MessageComponent {
	if len(controls) == 0 {
		return []discordgo.MessageComponent{}
	}
	buttons := make([]discordgo.MessageComponent, 0, len(controls))
	for _, control := range controls {
		style := discordgo.SecondaryButton
		if control.Action == ActionStop {
			style = discordgo.DangerButton
		}
		buttons = append(buttons, discordgo.Button{
			Label:    control.Label,
			Style:    style,
			CustomID: control.CustomID,
		})
	}
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
}

func channelID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

func NormalizeBotToken(token string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(strings.ToLower(token), "bot ") {
		return token
	}
	return "Bot " + token
}
