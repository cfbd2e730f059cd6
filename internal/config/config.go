package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/manthysbr/templaterelay/internal/core/domain"
)

// Config is the full application configuration shared by the serve and
// worker commands.
type Config struct {
	Log       LogConfig             `yaml:"log"`
	Kernel    KernelConfig          `yaml:"kernel"`
	Worker    WorkerConfig          `yaml:"worker"`
	Retry     RetryConfig           `yaml:"retry"`
	Slack     SlackConfig           `yaml:"slack"`
	Providers domain.ProviderConfig `yaml:"providers"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

type KernelConfig struct {
	Addr                string        `yaml:"addr"`
	PublicURL           string        `yaml:"public_url"` // base for image download links
	LockTimeout         time.Duration `yaml:"lock_timeout"`
	AvailabilityTimeout time.Duration `yaml:"availability_timeout"`
	Freshness           time.Duration `yaml:"freshness"`
	Retention           time.Duration `yaml:"retention"`
	TerminalRetention   time.Duration `yaml:"terminal_retention"`
	Admins              []string      `yaml:"admins"`
	ImageCapacity       int           `yaml:"image_capacity"`
	MaxImageBytes       int           `yaml:"max_image_bytes"`
	ValidateRequests    bool          `yaml:"validate_requests"`
}

type WorkerConfig struct {
	KernelURL         string        `yaml:"kernel_url"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	Retention         time.Duration `yaml:"retention"`
	Catalog           []string      `yaml:"catalog"`
	Backgrounds       []string      `yaml:"backgrounds"`
	ChunkSize         int           `yaml:"chunk_size"`
	MaxTemplates      int           `yaml:"max_templates"`
	Shuffle           bool          `yaml:"shuffle"`
	TieBreaker        string        `yaml:"tie_breaker"` // usage or none
}

type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxJitter       time.Duration `yaml:"max_jitter"`
}

type SlackConfig struct {
	BotToken      string `yaml:"bot_token"`
	SigningSecret string `yaml:"signing_secret"`
	APIURL        string `yaml:"api_url"`
}

// Default returns a configuration usable for local development.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Kernel: KernelConfig{
			Addr:                ":8080",
			PublicURL:           "http://localhost:8080",
			LockTimeout:         5 * time.Minute,
			AvailabilityTimeout: 10 * time.Second,
			Freshness:           3 * time.Minute,
			Retention:           10 * time.Minute,
			TerminalRetention:   time.Minute,
			ImageCapacity:       256,
			MaxImageBytes:       8 << 20,
			ValidateRequests:    true,
		},
		Worker: WorkerConfig{
			KernelURL:         "http://localhost:8080",
			PollInterval:      5 * time.Second,
			HeartbeatInterval: 5 * time.Second,
			Retention:         10 * time.Minute,
			ChunkSize:         25,
			MaxTemplates:      5,
			Shuffle:           true,
			TieBreaker:        "usage",
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Second,
			MaxInterval:     8 * time.Second,
			MaxJitter:       time.Second,
		},
		Providers: domain.DefaultProviderConfig(),
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("RELAY_LOG_LEVEL", &c.Log.Level)
	set("RELAY_KERNEL_ADDR", &c.Kernel.Addr)
	set("RELAY_PUBLIC_URL", &c.Kernel.PublicURL)
	set("RELAY_KERNEL_URL", &c.Worker.KernelURL)
	set("OPENAI_API_KEY", &c.Providers.LLM.APIKey)
	set("OPENAI_BASE_URL", &c.Providers.LLM.BaseURL)
	set("SLACK_BOT_TOKEN", &c.Slack.BotToken)
	set("SLACK_SIGNING_SECRET", &c.Slack.SigningSecret)

	if v, ok := lookup("RELAY_ADMINS"); ok && strings.TrimSpace(v) != "" {
		c.Kernel.Admins = nil
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				c.Kernel.Admins = append(c.Kernel.Admins, id)
			}
		}
	}
	// the image API shares the completion key unless set separately
	if c.Providers.Image.APIKey == "" {
		c.Providers.Image.APIKey = c.Providers.LLM.APIKey
	}
	if c.Providers.Image.RemoteURL == "" && c.Providers.Image.Mode == "remote" {
		c.Providers.Image.RemoteURL = c.Providers.LLM.BaseURL
	}
}

// Validate checks values that would otherwise fail at runtime.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if c.Kernel.Addr == "" {
		errs = append(errs, errors.New("kernel.addr is required"))
	}
	if c.Kernel.LockTimeout < 0 || c.Kernel.AvailabilityTimeout < 0 || c.Kernel.Freshness < 0 {
		errs = append(errs, errors.New("kernel timeouts must not be negative"))
	}
	if c.Worker.PollInterval < 0 || c.Worker.HeartbeatInterval < 0 {
		errs = append(errs, errors.New("worker intervals must not be negative"))
	}
	switch c.Worker.TieBreaker {
	case "", "usage", "none":
	default:
		errs = append(errs, fmt.Errorf("worker.tie_breaker %q is not one of usage, none", c.Worker.TieBreaker))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("retry.max_attempts must not be negative"))
	}
	switch c.Providers.Image.Mode {
	case "", "local":
	case "remote":
		if c.Providers.Image.RemoteURL == "" {
			errs = append(errs, errors.New("providers.image.remote_url is required when mode=remote"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported image provider mode: %s", c.Providers.Image.Mode))
	}
	return errors.Join(errs...)
}

// Masked returns a copy safe for logging.
func (c *Config) Masked() Config {
	cp := *c
	cp.Providers.LLM.APIKey = MaskSecret(c.Providers.LLM.APIKey)
	cp.Providers.Image.APIKey = MaskSecret(c.Providers.Image.APIKey)
	cp.Slack.BotToken = MaskSecret(c.Slack.BotToken)
	cp.Slack.SigningSecret = MaskSecret(c.Slack.SigningSecret)
	return cp
}

// MaskSecret returns a masked version for display (e.g., "sk-...xxxx").
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
