package slack

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/manthysbr/templaterelay/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fakeSlackAPI(t *testing.T, reply string) (*httptest.Server, *url.Values) {
	t.Helper()
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, &form
}

func TestNotifier_PostsMessage(t *testing.T) {
	srv, form := fakeSlackAPI(t, `{"ok":true,"channel":"C1","ts":"1700000000.000100"}`)

	n := NewNotifier(testLogger(), "xoxb-test", srv.URL)
	require.NoError(t, n.Notify(context.Background(), "C1", "hello"))
	assert.Equal(t, "C1", form.Get("channel"))
	assert.Equal(t, "hello", form.Get("text"))
}

func TestNotifier_APIErrorIsPermanent(t *testing.T) {
	srv, _ := fakeSlackAPI(t, `{"ok":false,"error":"channel_not_found"}`)

	err := NewNotifier(testLogger(), "xoxb-test", srv.URL).Notify(context.Background(), "C404", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPermanent)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestNotifier_TransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	err := NewNotifier(testLogger(), "xoxb-test", srv.URL).Notify(context.Background(), "C1", "hello")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrPermanent)
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, NewLogNotifier(testLogger()).Notify(context.Background(), "C1", "hello"))
}

func signedHeader(secret string, body []byte, at time.Time) http.Header {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":"))
	mac.Write(body)

	h := http.Header{}
	h.Set("X-Slack-Request-Timestamp", ts)
	h.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return h
}

func TestVerifyRequest(t *testing.T) {
	body := []byte(`{"type":"url_verification","challenge":"abc"}`)

	assert.NoError(t, VerifyRequest(signedHeader("s3cret", body, time.Now()), body, "s3cret"))
	assert.ErrorIs(t, VerifyRequest(signedHeader("other", body, time.Now()), body, "s3cret"), ErrBadSignature)
	assert.ErrorIs(t, VerifyRequest(signedHeader("s3cret", body, time.Now().Add(-time.Hour)), body, "s3cret"), ErrBadSignature)
	assert.ErrorIs(t, VerifyRequest(http.Header{}, body, "s3cret"), ErrBadSignature)
	assert.NoError(t, VerifyRequest(http.Header{}, body, ""), "empty secret skips verification")
}

func TestParseEvent_Challenge(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"token":"t","type":"url_verification","challenge":"abc123"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc123", ev.Challenge)
	assert.Nil(t, ev.Message)
}

func callback(inner string) []byte {
	return []byte(`{"token":"t","team_id":"T1","api_app_id":"A1","type":"event_callback","event_id":"Ev1","event_time":1700000000,"event":` + inner + `}`)
}

func TestParseEvent_Messages(t *testing.T) {
	tests := []struct {
		name  string
		inner string
		want  bool
	}{
		{"mention", `{"type":"app_mention","user":"U1","text":"@blog status","channel":"C1","ts":"1.0"}`, true},
		{"message", `{"type":"message","user":"U1","text":"@blog status","channel":"C1","ts":"1.0"}`, true},
		{"bot message", `{"type":"message","bot_id":"B1","text":"@blog status","channel":"C1","ts":"1.0"}`, false},
		{"edited message", `{"type":"message","subtype":"message_changed","channel":"C1","ts":"1.0"}`, false},
		{"reaction", `{"type":"reaction_added","user":"U1","reaction":"thumbsup","item":{"type":"message","channel":"C1","ts":"1.0"}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvent(callback(tt.inner))
			require.NoError(t, err)
			if !tt.want {
				assert.Nil(t, ev.Message)
				return
			}
			require.NotNil(t, ev.Message)
			assert.Equal(t, "U1", ev.Message.UserID)
			assert.Equal(t, "C1", ev.Message.Channel)
			assert.Equal(t, "@blog status", ev.Message.Text)
		})
	}
}

func TestParseEvent_Malformed(t *testing.T) {
	_, err := ParseEvent([]byte(`not json`))
	assert.Error(t, err)
}
