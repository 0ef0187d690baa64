package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/patientpulse/patientpulse/internal/models"
)

// slackPoster is the minimal Slack API surface used by the notifier.
type slackPoster interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackOpts holds configuration for the Slack notifier.
type SlackOpts struct {
	Token   string
	Channel string
}

// SlackOption defines a configuration option for the Slack notifier.
type SlackOption func(*SlackOpts)

// WithSlackToken sets the bot token.
func WithSlackToken(token string) SlackOption {
	return func(o *SlackOpts) { o.Token = token }
}

// WithSlackChannel sets the channel that receives alerts.
func WithSlackChannel(channel string) SlackOption {
	return func(o *SlackOpts) { o.Channel = channel }
}

// SlackNotifier posts critical alerts and trend reports to a Slack channel.
type SlackNotifier struct {
	client  slackPoster
	channel string
}

// NewSlackNotifier creates a Slack notifier based on provided options.
func NewSlackNotifier(opts ...SlackOption) (*SlackNotifier, error) {
	var cfg SlackOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("slack bot token must be provided")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("slack channel must be provided")
	}
	slog.Debug("NewSlackNotifier: client created", "channel", cfg.Channel)
	return &SlackNotifier{client: slack.New(cfg.Token), channel: cfg.Channel}, nil
}

func (n *SlackNotifier) DispatchCritical(ctx context.Context, event models.CriticalEvent) error {
	header := slack.NewTextBlockObject("mrkdwn",
		fmt.Sprintf(":rotating_light: *Critical patient feedback*: %s", event.ConcernLabel), false, false)
	detail := slack.NewTextBlockObject("mrkdwn",
		fmt.Sprintf("*Patient:* %s\n*Matched term:* %s\n*Detected:* %s",
			event.PatientID, event.MatchedTerm, event.Timestamp.Format("2006-01-02 15:04:05")), false, false)

	_, _, err := n.client.PostMessage(n.channel,
		slack.MsgOptionBlocks(
			slack.NewSectionBlock(header, nil, nil),
			slack.NewSectionBlock(detail, nil, nil),
		),
		slack.MsgOptionText(fmt.Sprintf("Critical feedback from patient %s: %s", event.PatientID, event.ConcernLabel), false),
	)
	if err != nil {
		slog.Error("SlackNotifier.DispatchCritical failed", "error", err, "patientID", event.PatientID)
		return fmt.Errorf("failed to post critical alert: %w", err)
	}
	slog.Debug("SlackNotifier.DispatchCritical posted", "patientID", event.PatientID, "concern", event.ConcernLabel)
	return nil
}

func (n *SlackNotifier) DispatchTrend(ctx context.Context, summary models.TrendSummary) error {
	header := slack.NewTextBlockObject("mrkdwn", ":bar_chart: *Daily feedback trends*", false, false)
	body := slack.NewTextBlockObject("mrkdwn",
		fmt.Sprintf("*Records:* %d\n*Average rating:* %.2f\n*Top category:* %s",
			summary.TotalRecords, summary.AverageRating, summary.TopCategory), false, false)

	_, _, err := n.client.PostMessage(n.channel,
		slack.MsgOptionBlocks(
			slack.NewSectionBlock(header, nil, nil),
			slack.NewSectionBlock(body, nil, nil),
		),
		slack.MsgOptionText("Daily feedback trend summary", false),
	)
	if err != nil {
		slog.Error("SlackNotifier.DispatchTrend failed", "error", err)
		return fmt.Errorf("failed to post trend summary: %w", err)
	}
	return nil
}
