package providers

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/manthysbr/templaterelay/internal/adapters/imagegen"
	"github.com/manthysbr/templaterelay/internal/adapters/llm"
	"github.com/manthysbr/templaterelay/internal/adapters/slack"
	"github.com/manthysbr/templaterelay/internal/config"
	"github.com/manthysbr/templaterelay/internal/core/ports"
)

// Build creates the completion and rendering collaborators from app
// configuration. It hides local/remote provider selection from callers.
func Build(cfg *config.Config) (ports.CompletionProvider, ports.ImageRenderer, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	completion := llm.NewOpenAIProvider(cfg.Providers.LLM)

	renderer, err := buildRenderer(cfg)
	if err != nil {
		return nil, nil, err
	}
	return completion, renderer, nil
}

func buildRenderer(cfg *config.Config) (ports.ImageRenderer, error) {
	image := cfg.Providers.Image
	switch strings.ToLower(strings.TrimSpace(image.Mode)) {
	case "", "local":
		return imagegen.NewCanvasRenderer(image.Width, image.Height), nil
	case "remote":
		if strings.TrimSpace(image.RemoteURL) == "" {
			return nil, fmt.Errorf("image remote_url is required when mode=remote")
		}
		return imagegen.NewOpenAIImageProvider(image), nil
	default:
		return nil, fmt.Errorf("unsupported image provider mode: %s", image.Mode)
	}
}

// Notifier returns a Slack notifier, or a log-only one when no bot token
// is configured.
func Notifier(logger *slog.Logger, cfg *config.Config) ports.Notifier {
	if strings.TrimSpace(cfg.Slack.BotToken) == "" {
		logger.Warn("slack bot token not set, notifications go to the log")
		return slack.NewLogNotifier(logger)
	}
	return slack.NewNotifier(logger, cfg.Slack.BotToken, cfg.Slack.APIURL)
}
