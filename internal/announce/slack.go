package announce

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackAnnouncer posts decision outcomes to a Slack channel.
type SlackAnnouncer struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlackAnnouncer creates an announcer using a Bot User OAuth Token
// (xoxb-...) and a target channel id.
func NewSlackAnnouncer(botToken, channel string, logger *zap.Logger) *SlackAnnouncer {
	return &SlackAnnouncer{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

func (a *SlackAnnouncer) Platform() string { return "slack" }

// Announce posts the event as a plain-text message.
func (a *SlackAnnouncer) Announce(ctx context.Context, ev Event) error {
	_, _, err := a.client.PostMessageContext(ctx, a.channel,
		slack.MsgOptionText(format(ev), false),
	)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	a.logger.Debug("decision announced on slack",
		zap.String("channel", a.channel),
		zap.String("outcome", ev.Outcome))
	return nil
}
