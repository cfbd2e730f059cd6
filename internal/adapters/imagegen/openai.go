package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/manthysbr/templaterelay/internal/adapters/llm"
	"github.com/manthysbr/templaterelay/internal/core/domain"
)

// OpenAIImageProvider renders templates via an OpenAI-compatible image API.
// Expected endpoint: POST {baseURL}/images/generations
// Expected response: {"data":[{"b64_json":"..."}]}
type OpenAIImageProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	size    string
}

func NewOpenAIImageProvider(cfg domain.ImageProviderConfig) *OpenAIImageProvider {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-image-1"
	}
	return &OpenAIImageProvider{
		client:  &http.Client{Timeout: 120 * time.Second},
		baseURL: strings.TrimRight(cfg.RemoteURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.DefaultModel,
		size:    "1536x1024",
	}
}

// TemplatePrompt describes spec to the image model.
func TemplatePrompt(spec domain.TemplateSpec) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Blog header template, landscape. Headline text: %q.", spec.Title)
	if spec.MainImage != "" {
		fmt.Fprintf(&sb, " Main illustration: %s.", spec.MainImage)
	}
	if spec.Background != "" {
		fmt.Fprintf(&sb, " Background style: %s.", spec.Background)
	}
	sb.WriteString(" Clean, modern, high contrast.")
	return sb.String()
}

func (p *OpenAIImageProvider) Render(ctx context.Context, spec domain.TemplateSpec) ([]byte, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: image api key is not configured", domain.ErrPermanent)
	}

	payload, err := json.Marshal(map[string]any{
		"model":  p.model,
		"prompt": TemplatePrompt(spec),
		"size":   p.size,
		"n":      1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call image API: %w", err)
	}
	defer resp.Body.Close()

	if err := llm.CheckStatus(resp); err != nil {
		return nil, fmt.Errorf("image API: %w", err)
	}

	var result struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode image API response: %w", err)
	}
	if len(result.Data) == 0 || result.Data[0].B64JSON == "" {
		return nil, errors.New("image API returned no image data")
	}

	data, err := base64.StdEncoding.DecodeString(result.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image data: %w", err)
	}
	return data, nil
}
