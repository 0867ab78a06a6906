package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/mtlprog/deepflow/internal/domain"
)

// MessageSender is the part of *discordgo.Session used to post messages.
type MessageSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts notifications to one Discord channel.
type Discord struct {
	sender    MessageSender
	channelID string
}

// NewDiscordSession opens a bot session for token.
func NewDiscordSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return session, nil
}

// NewDiscord creates a Discord dispatcher posting to channelID.
func NewDiscord(sender MessageSender, channelID string) *Discord {
	return &Discord{sender: sender, channelID: channelID}
}

// Name implements Dispatcher.
func (d *Discord) Name() string { return "discord" }

// Dispatch implements Dispatcher.
func (d *Discord) Dispatch(ctx context.Context, n domain.Notification) error {
	_, err := d.sender.ChannelMessageSend(d.channelID, FormatDiscord(n), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	return nil
}

// FormatDiscord renders n as a Discord message, capped at Discord's limit.
func FormatDiscord(n domain.Notification) string {
	prefix := "ℹ️"
	switch n.Level {
	case domain.NotificationCritical:
		prefix = "🚨"
	case domain.NotificationWarning:
		prefix = "⚠️"
	}

	msg := fmt.Sprintf("%s **%s**", prefix, n.Title)
	if n.Body != "" {
		msg += "\n" + n.Body
	}
	return domain.Truncate(msg, 2000)
}
