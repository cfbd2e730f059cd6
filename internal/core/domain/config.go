package domain

// ProviderConfig holds configuration for the AI collaborators
type ProviderConfig struct {
	LLM   LLMProviderConfig   `json:"llm" yaml:"llm"`
	Image ImageProviderConfig `json:"image" yaml:"image"`
}

// LLMProviderConfig configures the text-completion provider
type LLMProviderConfig struct {
	BaseURL      string  `json:"base_url" yaml:"base_url"`           // "https://api.openai.com/v1"
	APIKey       string  `json:"api_key" yaml:"api_key"`             // usually from OPENAI_API_KEY
	DefaultModel string  `json:"default_model" yaml:"default_model"` // "gpt-4o"
	MaxTokens    int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature  float64 `json:"temperature" yaml:"temperature"`
	RPS          float64 `json:"rps" yaml:"rps"` // client side pacing, 0 disables
}

// ImageProviderConfig configures the template renderer
type ImageProviderConfig struct {
	Mode         string `json:"mode" yaml:"mode"`                   // "local" or "remote"
	RemoteURL    string `json:"remote_url" yaml:"remote_url"`       // "https://api.openai.com/v1"
	APIKey       string `json:"api_key" yaml:"api_key"`
	DefaultModel string `json:"default_model" yaml:"default_model"` // "gpt-image-1"
	Width        int    `json:"width" yaml:"width"`
	Height       int    `json:"height" yaml:"height"`
}

// DefaultProviderConfig returns safe defaults
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		LLM: LLMProviderConfig{
			BaseURL:      "https://api.openai.com/v1",
			DefaultModel: "gpt-4o",
			MaxTokens:    50,
			Temperature:  0.7,
			RPS:          1,
		},
		Image: ImageProviderConfig{
			Mode:         "local",
			DefaultModel: "gpt-image-1",
			Width:        1200,
			Height:       630,
		},
	}
}
