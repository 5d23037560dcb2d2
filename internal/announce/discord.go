package announce

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordAnnouncer posts decision outcomes to a Discord channel.
type DiscordAnnouncer struct {
	session *discordgo.Session
	channel string
	logger  *zap.Logger
}

// NewDiscordAnnouncer opens a Discord session with the given bot token.
func NewDiscordAnnouncer(token, channel string, logger *zap.Logger) (*DiscordAnnouncer, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &DiscordAnnouncer{session: session, channel: channel, logger: logger}, nil
}

func (a *DiscordAnnouncer) Platform() string { return "discord" }

// Announce posts the event as a plain-text message.
func (a *DiscordAnnouncer) Announce(ctx context.Context, ev Event) error {
	_, err := a.session.ChannelMessageSend(a.channel, format(ev),
		discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	a.logger.Debug("decision announced on discord",
		zap.String("channel", a.channel),
		zap.String("outcome", ev.Outcome))
	return nil
}

// Close shuts down the Discord session.
func (a *DiscordAnnouncer) Close() error {
	return a.session.Close()
}
