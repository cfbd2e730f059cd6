package kernel

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/manthysbr/templaterelay/internal/adapters/slack"
)

// commandTimeout bounds a chat command processed after the ack.
const commandTimeout = 30 * time.Second

// handleSlackEvents receives Slack Events API callbacks. Commands found in
// messages run after the request is acknowledged.
// POST /v1/slack/events
func (s *Server) handleSlackEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := slack.VerifyRequest(r.Header, body, s.opts.SlackSigningSecret); err != nil {
		s.logger.WarnContext(r.Context(), "slack request rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	event, err := slack.ParseEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if event.Challenge != "" {
		writeJSON(w, http.StatusOK, map[string]string{"challenge": event.Challenge})
		return
	}

	// Slack redelivers events it considers unacknowledged
	if r.Header.Get("X-Slack-Retry-Num") != "" {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	if event.Message != nil && s.commands != nil {
		msg := *event.Message
		ctx := context.WithoutCancel(r.Context())
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			ctx, cancel := context.WithTimeout(ctx, commandTimeout)
			defer cancel()
			if _, err := s.commands.Handle(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.WarnContext(ctx, "chat command failed", "user_id", msg.UserID, "error", err)
			}
		}()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
