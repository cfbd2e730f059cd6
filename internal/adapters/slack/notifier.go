package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/manthysbr/templaterelay/internal/core/domain"
	"github.com/slack-go/slack"
)

// Notifier posts plain text messages to Slack channels.
type Notifier struct {
	logger *slog.Logger
	client *slack.Client
}

// NewNotifier builds a notifier for token. apiURL overrides the Slack Web
// API base and is mostly useful in tests.
func NewNotifier(logger *slog.Logger, token, apiURL string) *Notifier {
	var opts []slack.Option
	if apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimRight(apiURL, "/")+"/"))
	}
	return &Notifier{
		logger: logger,
		client: slack.New(token, opts...),
	}
}

// Notify implements ports.Notifier. Slack API errors such as an unknown
// channel are permanent; rate limiting and transport failures are not.
func (n *Notifier) Notify(ctx context.Context, destination, text string) error {
	_, ts, err := n.client.PostMessageContext(ctx, destination, slack.MsgOptionText(text, false))
	if err != nil {
		var limited *slack.RateLimitedError
		if errors.As(err, &limited) {
			return fmt.Errorf("slack rate limited, retry after %s: %w", limited.RetryAfter, err)
		}
		var apiErr slack.SlackErrorResponse
		if errors.As(err, &apiErr) {
			return fmt.Errorf("%w: slack post to %s: %w", domain.ErrPermanent, destination, err)
		}
		return fmt.Errorf("slack post to %s: %w", destination, err)
	}
	n.logger.DebugContext(ctx, "slack message sent", "channel", destination, "ts", ts)
	return nil
}

// LogNotifier writes messages to the log instead of a chat platform. Used
// when no bot token is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, destination, text string) error {
	n.logger.InfoContext(ctx, "notification", "destination", destination, "text", text)
	return nil
}
