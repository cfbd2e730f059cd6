package slack

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/manthysbr/templaterelay/internal/core/services"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// ErrBadSignature is returned when a request fails signing secret checks.
var ErrBadSignature = errors.New("invalid slack signature")

// Event is a decoded Events API payload.
type Event struct {
	// Challenge is set for url_verification handshakes.
	Challenge string
	// Message is set for user messages and app mentions.
	Message *services.ChatMessage
}

// VerifyRequest checks the X-Slack-Signature headers against body. An empty
// secret disables verification.
func VerifyRequest(header http.Header, body []byte, secret string) error {
	if secret == "" {
		return nil
	}
	sv, err := slack.NewSecretsVerifier(header, secret)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if _, err := sv.Write(body); err != nil {
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if err := sv.Ensure(); err != nil {
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	return nil
}

// ParseEvent decodes an Events API body. Events other than messages and
// mentions, and messages posted by bots, yield an empty Event.
func ParseEvent(body []byte) (Event, error) {
	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return Event{}, fmt.Errorf("parse slack event: %w", err)
	}

	switch ev.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			return Event{}, fmt.Errorf("parse url verification: %w", err)
		}
		return Event{Challenge: challenge.Challenge}, nil
	case slackevents.CallbackEvent:
		switch inner := ev.InnerEvent.Data.(type) {
		case *slackevents.AppMentionEvent:
			return Event{Message: &services.ChatMessage{Text: inner.Text, UserID: inner.User, Channel: inner.Channel}}, nil
		case *slackevents.MessageEvent:
			if inner.BotID != "" || inner.SubType != "" {
				return Event{}, nil
			}
			return Event{Message: &services.ChatMessage{Text: inner.Text, UserID: inner.User, Channel: inner.Channel}}, nil
		}
	}
	return Event{}, nil
}
