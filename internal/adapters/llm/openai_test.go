package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/manthysbr/templaterelay/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(url string, rps float64) *OpenAIProvider {
	return NewOpenAIProvider(domain.LLMProviderConfig{
		BaseURL:      url + "/",
		APIKey:       "sk-test",
		DefaultModel: "test-model",
		MaxTokens:    50,
		RPS:          rps,
	})
}

func TestOpenAIProvider_Complete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Best main image: Rocket \n"}}]}`))
	}))
	defer srv.Close()

	answer, err := newTestProvider(srv.URL, 0).Complete(context.Background(), "pick one")
	require.NoError(t, err)
	assert.Equal(t, "Best main image: Rocket", answer)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "pick one", got.Messages[0].Content)
}

func TestOpenAIProvider_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusTooManyRequests, false},
		{http.StatusBadGateway, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"nope"}`, tt.status)
			}))
			defer srv.Close()

			_, err := newTestProvider(srv.URL, 0).Complete(context.Background(), "x")
			require.Error(t, err)
			assert.Equal(t, tt.permanent, errors.Is(err, domain.ErrPermanent))
		})
	}
}

func TestOpenAIProvider_MissingKeyIsPermanent(t *testing.T) {
	p := NewOpenAIProvider(domain.LLMProviderConfig{})
	_, err := p.Complete(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrPermanent)
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestProvider(srv.URL, 0).Complete(context.Background(), "x")
	assert.EqualError(t, err, "no choices in response")
}

func TestOpenAIProvider_Pacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL, 20)
	start := time.Now()
	for range 3 {
		_, err := p.Complete(context.Background(), "x")
		require.NoError(t, err)
	}
	// burst of one, then 50ms between requests
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestOpenAIProvider_PacingHonorsContext(t *testing.T) {
	p := newTestProvider("http://127.0.0.1:0", 0.001)
	p.limiter.Allow() // drain the burst

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Complete(ctx, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
}
