package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/manthysbr/templaterelay/internal/core/domain"
	"github.com/manthysbr/templaterelay/internal/core/ports"
)

// ChatMessage is an inbound chat message addressed to the bot.
type ChatMessage struct {
	Text    string
	UserID  string
	Channel string
}

// CommandKind identifies a parsed chat command.
type CommandKind string

const (
	CommandNone   CommandKind = ""
	CommandCreate CommandKind = "create"
	CommandSelect CommandKind = "select"
	CommandStatus CommandKind = "status"
	CommandReset  CommandKind = "reset"
)

// Command is a parsed chat command.
type Command struct {
	Kind   CommandKind
	Title  string
	Option int
}

var (
	createPattern = regexp.MustCompile(`@blog create ['"]([^'"]+)['"]`)
	selectPattern = regexp.MustCompile(`@blog select (\d+) ['"]([^'"]+)['"]`)
)

// ParseCommand extracts a command from message text. Text that carries no
// well formed command yields CommandNone.
func ParseCommand(text string) Command {
	switch {
	case strings.Contains(text, "@blog create"):
		m := createPattern.FindStringSubmatch(text)
		if m == nil {
			return Command{}
		}
		return Command{Kind: CommandCreate, Title: m[1]}
	case strings.Contains(text, "@blog select"):
		m := selectPattern.FindStringSubmatch(text)
		if m == nil {
			return Command{}
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return Command{}
		}
		return Command{Kind: CommandSelect, Option: n, Title: m[2]}
	case strings.Contains(text, "@figma reset"):
		return Command{Kind: CommandReset}
	case strings.Contains(text, "@blog status"):
		return Command{Kind: CommandStatus}
	}
	return Command{}
}

// CommandRouter turns chat commands into coordinator calls and answers
// through the notifier.
type CommandRouter struct {
	logger      *slog.Logger
	coordinator *Coordinator
	notifier    ports.Notifier
	admins      []string
}

func NewCommandRouter(logger *slog.Logger, coordinator *Coordinator, notifier ports.Notifier, admins []string) *CommandRouter {
	return &CommandRouter{
		logger:      logger,
		coordinator: coordinator,
		notifier:    notifier,
		admins:      admins,
	}
}

// Handle processes one message. The returned command is CommandNone when
// the message was ignored.
func (r *CommandRouter) Handle(ctx context.Context, msg ChatMessage) (Command, error) {
	cmd := ParseCommand(msg.Text)
	logger := r.logger.With("command", cmd.Kind, "user_id", msg.UserID, "channel", msg.Channel)

	var reply string
	switch cmd.Kind {
	case CommandNone:
		return cmd, nil
	case CommandCreate, CommandSelect:
		sub := domain.Submission{Title: cmd.Title, SubmitterID: msg.UserID, Destination: msg.Channel}
		if cmd.Kind == CommandSelect {
			ref := cmd.Option
			sub.SelectionRef = &ref
		}
		_, err := r.coordinator.SubmitJob(ctx, sub)
		reply = submitReply(cmd, err)
		if err != nil {
			logger.InfoContext(ctx, "submission rejected", "error", err)
		}
	case CommandStatus:
		reply = StatusReply(r.coordinator.QueryAvailability(ctx))
	case CommandReset:
		if !slices.Contains(r.admins, msg.UserID) {
			logger.WarnContext(ctx, "non-admin user attempted reset")
			reply = "🚫 You are not authorized to use the reset command."
			break
		}
		r.coordinator.Reset(ctx)
		logger.InfoContext(ctx, "admin reset")
		reply = "🔄 System reset successful!\n\n✅ All requests cleared\n✅ Lock released\n✅ System ready for new requests"
	}

	if err := r.notifier.Notify(ctx, msg.Channel, reply); err != nil {
		return cmd, fmt.Errorf("reply to %s: %w", msg.Channel, err)
	}
	return cmd, nil
}

func submitReply(cmd Command, err error) string {
	var busy *domain.BusyError
	switch {
	case err == nil && cmd.Kind == CommandSelect:
		return fmt.Sprintf("🎨 Rendering option %d for %q...", cmd.Option, cmd.Title)
	case err == nil:
		return fmt.Sprintf("🎨 Processing your request for %q...\n\n⏳ This may take a minute while I generate multiple template variations for you.", cmd.Title)
	case errors.As(err, &busy):
		return fmt.Sprintf("🚫 %s\n\nPlease wait a moment and try again.", busy.Error())
	case errors.Is(err, domain.ErrWorkerUnavailable):
		return "🚫 The design plugin is not currently open!\n\n📱 Open the plugin, keep it open and try your command again."
	case errors.Is(err, domain.ErrInvalidSubmission):
		return fmt.Sprintf("🚫 %v", err)
	default:
		return "❌ Could not queue your request. Please try again later."
	}
}

// StatusReply describes worker availability.
func StatusReply(a domain.Availability) string {
	if !a.Available || a.LastHeartbeatAge == nil {
		return "🚫 The design plugin is not currently active!\n\n💡 The plugin needs to be open to process requests."
	}
	age := a.LastHeartbeatAge.Truncate(time.Second)
	minutes := int(age / time.Minute)
	seconds := int((age % time.Minute) / time.Second)
	return fmt.Sprintf("✅ The design plugin is currently active!\n\n📱 Last heartbeat: %dm %ds ago\n\n🎨 You can use @blog create \"Your Title\" to generate templates!", minutes, seconds)
}
