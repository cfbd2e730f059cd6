package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/manthysbr/templaterelay/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSpec = domain.TemplateSpec{Title: "Launch Post", MainImage: "Rocket", Background: "Blue", Option: 2}

func TestCanvasRenderer_ProducesPNG(t *testing.T) {
	r := NewCanvasRenderer(320, 180)
	data, err := r.Render(context.Background(), testSpec)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 180, img.Bounds().Dy())
}

func TestCanvasRenderer_OptionsDiffer(t *testing.T) {
	r := NewCanvasRenderer(320, 180)
	a, err := r.Render(context.Background(), testSpec)
	require.NoError(t, err)

	other := testSpec
	other.MainImage = "Laptop"
	b, err := r.Render(context.Background(), other)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCanvasRenderer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCanvasRenderer(0, 0).Render(ctx, testSpec)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenAIImageProvider_Render(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString([]byte("png-bytes"))}},
		})
	}))
	defer srv.Close()

	p := NewOpenAIImageProvider(domain.ImageProviderConfig{RemoteURL: srv.URL, APIKey: "sk-test"})
	data, err := p.Render(context.Background(), testSpec)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
	assert.Equal(t, "gpt-image-1", body["model"])
	assert.Equal(t, TemplatePrompt(testSpec), body["prompt"])
}

func TestOpenAIImageProvider_RejectedRequestIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "content policy", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewOpenAIImageProvider(domain.ImageProviderConfig{RemoteURL: srv.URL, APIKey: "sk-test"})
	_, err := p.Render(context.Background(), testSpec)
	assert.ErrorIs(t, err, domain.ErrPermanent)
}

func TestOpenAIImageProvider_EmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	p := NewOpenAIImageProvider(domain.ImageProviderConfig{RemoteURL: srv.URL, APIKey: "sk-test"})
	_, err := p.Render(context.Background(), testSpec)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrPermanent)
}

func TestTemplatePrompt(t *testing.T) {
	prompt := TemplatePrompt(testSpec)
	assert.Contains(t, prompt, `"Launch Post"`)
	assert.Contains(t, prompt, "Main illustration: Rocket.")
	assert.Contains(t, prompt, "Background style: Blue.")
}
