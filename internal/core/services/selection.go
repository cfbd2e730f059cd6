package services

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"github.com/manthysbr/templaterelay/internal/core/ports"
)

// TieBreaker orders de-duplicated picks before they are truncated.
type TieBreaker interface {
	Order(picks []string, usage func(string) int) []string
}

// UsageTieBreaker puts the least used candidates first. Equal usage keeps
// the completion order.
type UsageTieBreaker struct{}

func (UsageTieBreaker) Order(picks []string, usage func(string) int) []string {
	out := slices.Clone(picks)
	slices.SortStableFunc(out, func(a, b string) int {
		return usage(a) - usage(b)
	})
	return out
}

// PassThroughTieBreaker keeps the completion order.
type PassThroughTieBreaker struct{}

func (PassThroughTieBreaker) Order(picks []string, _ func(string) int) []string {
	return slices.Clone(picks)
}

// SelectorConfig tunes candidate selection.
type SelectorConfig struct {
	Catalog      []string // candidate main images
	Backgrounds  []string
	ChunkSize    int
	MaxTemplates int
	Shuffle      bool
}

// Selector asks the completion service to pick the best candidate from each
// chunk of the catalog and keeps per-candidate usage counts.
type Selector struct {
	logger     *slog.Logger
	completion ports.CompletionProvider
	retry      RetryPolicy
	cfg        SelectorConfig
	tie        TieBreaker
	rnd        *rand.Rand

	mu    sync.Mutex
	usage map[string]int
}

func NewSelector(logger *slog.Logger, completion ports.CompletionProvider, retry RetryPolicy, cfg SelectorConfig, tie TieBreaker) *Selector {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 25
	}
	if cfg.MaxTemplates <= 0 {
		cfg.MaxTemplates = 5
	}
	if tie == nil {
		tie = UsageTieBreaker{}
	}
	return &Selector{
		logger:     logger,
		completion: completion,
		retry:      retry,
		cfg:        cfg,
		tie:        tie,
		rnd:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		usage:      make(map[string]int),
	}
}

// Pick returns up to MaxTemplates distinct candidates for title.
func (s *Selector) Pick(ctx context.Context, title string) ([]string, error) {
	if len(s.cfg.Catalog) == 0 {
		return nil, Permanent(fmt.Errorf("candidate catalog is empty"))
	}

	catalog := slices.Clone(s.cfg.Catalog)
	if s.cfg.Shuffle {
		s.mu.Lock()
		s.rnd.Shuffle(len(catalog), func(i, j int) { catalog[i], catalog[j] = catalog[j], catalog[i] })
		s.mu.Unlock()
	}

	var picks []string
	seen := make(map[string]bool)
	for i, chunk := range chunk(catalog, s.cfg.ChunkSize) {
		var answer string
		err := s.retry.Do(ctx, s.logger, "completion", func(ctx context.Context) error {
			var err error
			answer, err = s.completion.Complete(ctx, BuildPrompt(chunk, title))
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("select candidate from chunk %d: %w", i+1, err)
		}

		winner, ok := MatchCandidate(answer, chunk)
		if !ok {
			s.logger.WarnContext(ctx, "completion answer not in chunk", "chunk", i+1, "answer", answer)
			continue
		}
		if !seen[winner] {
			seen[winner] = true
			picks = append(picks, winner)
		}
	}

	picks = s.tie.Order(picks, s.Usage)
	if len(picks) > s.cfg.MaxTemplates {
		picks = picks[:s.cfg.MaxTemplates]
	}

	// top up with catalog entries the completion did not pick
	for _, name := range catalog {
		if len(picks) >= s.cfg.MaxTemplates {
			break
		}
		if !seen[name] {
			seen[name] = true
			picks = append(picks, name)
		}
	}
	return picks, nil
}

// Background chooses a background for a template.
func (s *Selector) Background() string {
	if len(s.cfg.Backgrounds) == 0 {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Backgrounds[s.rnd.IntN(len(s.cfg.Backgrounds))]
}

// RecordUsage counts one rendered template for name.
func (s *Selector) RecordUsage(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[name]++
	if s.usage[name] >= 3 {
		s.logger.Debug("candidate used frequently", "name", name, "count", s.usage[name])
	}
}

// Usage returns how many templates used name.
func (s *Selector) Usage(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[name]
}

// BuildPrompt asks for the single most relevant candidate for title.
func BuildPrompt(candidates []string, title string) string {
	var sb strings.Builder
	sb.WriteString("You are a world-class visual designer for blog templates.\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Prioritize image names that contain any of the title terms, even partially.\n")
	sb.WriteString("- Pick the most relevant and specific match.\n")
	sb.WriteString("- Never fabricate a name; choose only from the provided list.\n\n")
	sb.WriteString("Available main images:\n")
	for _, c := range candidates {
		sb.WriteString("- ")
		sb.WriteString(c)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "\nBlog Title: %q\n\n", title)
	sb.WriteString("Respond with only the exact name of the most relevant main image from the list above.")
	return sb.String()
}

// MatchCandidate maps a completion answer onto one of candidates.
func MatchCandidate(answer string, candidates []string) (string, bool) {
	line, _, _ := strings.Cut(strings.TrimSpace(answer), "\n")
	line = strings.TrimSpace(line)
	if len(line) >= len("best main image:") && strings.EqualFold(line[:len("best main image:")], "best main image:") {
		line = strings.TrimSpace(line[len("best main image:"):])
	}
	line = strings.Trim(line, "\"'`")
	if line == "" {
		return "", false
	}

	for _, c := range candidates {
		if c == line {
			return c, true
		}
	}
	for _, c := range candidates {
		if strings.EqualFold(c, line) {
			return c, true
		}
	}
	return "", false
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		out = append(out, items[i:end])
	}
	return out
}
