package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tbourn/doxyme-slack-calling/internal/domain"
	"github.com/tbourn/doxyme-slack-calling/internal/notify"
	"github.com/tbourn/doxyme-slack-calling/internal/observability"
	"github.com/tbourn/doxyme-slack-calling/internal/roomurl"
)

// MappingStore is the part of the mapping store used by CommandService.
type MappingStore interface {
	Get(ctx context.Context, userID string) (*domain.RoomMapping, error)
	Set(ctx context.Context, userID, roomURL string) (*domain.RoomMapping, error)
}

// Inviter sends invites on behalf of a caller.
type Inviter interface {
	CallerName(ctx context.Context, userID string) string
	InviteAll(ctx context.Context, recipients []string, callerName, roomURL string) notify.Report
}

// Default command names.
const (
	DefaultSetupCommand  = "/doxy-setup"
	DefaultInviteCommand = "/doxyme"
)

// User-facing texts that do not depend on configuration.
const (
	msgSetupFailed  = "Something went wrong saving your URL. Please try again."
	msgLookupFailed = "Something went wrong looking up your Doxy.me room. Please try again."
	msgNoInvites    = "No invites sent."
)

// Slack response_type values for slash command replies.
const (
	ResponseEphemeral = "ephemeral"
	ResponseInChannel = "in_channel"
)

// mentionRe matches Slack's escaped user mentions: <@U123> or <@U123|name>.
var mentionRe = regexp.MustCompile(`<@(U[A-Z0-9]+)(?:\|[^>]*)?>`)

// CommandService implements the setup and invite slash commands.
type CommandService struct {
	Store   MappingStore
	Inviter Inviter

	// Domain is the host every linked room must live on.
	Domain string
	// SetupCommand and InviteCommand are the registered command names,
	// including the leading slash.
	SetupCommand  string
	InviteCommand string
}

// NewCommandService returns a service with the default domain and command
// names.
func NewCommandService(store MappingStore, inviter Inviter) *CommandService {
	return &CommandService{
		Store:         store,
		Inviter:       inviter,
		Domain:        roomurl.DefaultDomain,
		SetupCommand:  DefaultSetupCommand,
		InviteCommand: DefaultInviteCommand,
	}
}

// Handles reports whether command is one this service answers.
func (s *CommandService) Handles(command string) bool {
	return command == s.SetupCommand || command == s.InviteCommand
}

// Run dispatches a parsed slash command. Unknown commands yield nil.
func (s *CommandService) Run(ctx context.Context, cmd slack.SlashCommand) *slack.WebhookMessage {
	ctx, span := observability.Tracer().Start(ctx, "slack.command")
	defer span.End()
	span.SetAttributes(
		attribute.String("slack.command", cmd.Command),
		attribute.String("slack.team_id", cmd.TeamID),
	)

	var msg *slack.WebhookMessage
	switch cmd.Command {
	case s.SetupCommand:
		msg = s.Setup(ctx, cmd.UserID, cmd.Text)
	case s.InviteCommand:
		msg = s.Invite(ctx, cmd.UserID, cmd.Text)
	default:
		span.SetStatus(codes.Error, "unknown command")
		return nil
	}
	return msg
}

// Setup links the caller's room.
func (s *CommandService) Setup(ctx context.Context, userID, text string) *slack.WebhookMessage {
	rec, err := s.link(ctx, userID, text)
	switch {
	case errors.Is(err, ErrInvalidRoomURL):
		observability.Commands.WithLabelValues(s.SetupCommand, "invalid").Inc()
		return ephemeral(fmt.Sprintf("Please provide a valid Doxy.me room URL.\nUsage: `%s %s`", s.SetupCommand, s.example()))
	case err != nil:
		observability.StoreWrites.WithLabelValues("error").Inc()
		observability.Commands.WithLabelValues(s.SetupCommand, "error").Inc()
		log.Ctx(ctx).Error().Err(err).Str("user_id", userID).Msg("failed to store user mapping")
		return ephemeral(msgSetupFailed)
	}

	observability.StoreWrites.WithLabelValues("ok").Inc()
	observability.Commands.WithLabelValues(s.SetupCommand, "ok").Inc()
	log.Ctx(ctx).Info().Str("user_id", userID).Str("room_url", rec.RoomURL).Msg("room linked")
	return ephemeral(fmt.Sprintf("✅ Your Doxy.me room has been linked: %s\nUse `%s @someone` to invite people to your room.",
		rec.RoomURL, s.InviteCommand))
}

// Invite shares the caller's room, either in the channel (no mentions) or by
// DM to every mentioned user.
func (s *CommandService) Invite(ctx context.Context, callerID, text string) *slack.WebhookMessage {
	roomURL, err := s.room(ctx, callerID)
	switch {
	case errors.Is(err, ErrRoomNotConfigured):
		observability.Commands.WithLabelValues(s.InviteCommand, "not_configured").Inc()
		return ephemeral(fmt.Sprintf("You haven't set up your Doxy.me room yet.\nRun `%s %s` first.", s.SetupCommand, s.example()))
	case err != nil:
		observability.Commands.WithLabelValues(s.InviteCommand, "error").Inc()
		log.Ctx(ctx).Error().Err(err).Str("user_id", callerID).Msg("failed to load user mapping")
		return ephemeral(msgLookupFailed)
	}

	mentions := ParseMentions(text)
	if len(mentions) == 0 {
		observability.Commands.WithLabelValues(s.InviteCommand, "channel").Inc()
		headline := fmt.Sprintf("📹 *<@%s> is starting a Doxy.me call*", callerID)
		return &slack.WebhookMessage{
			ResponseType: ResponseInChannel,
			Text:         fmt.Sprintf("<@%s> is starting a Doxy.me call: %s", callerID, roomURL),
			Blocks:       &slack.Blocks{BlockSet: notify.JoinBlocks(headline, roomURL)},
		}
	}

	name := s.Inviter.CallerName(ctx, callerID)
	rep := s.Inviter.InviteAll(ctx, mentions, name, roomURL)
	outcome := "ok"
	if len(rep.Failed) > 0 {
		outcome = "partial"
		if len(rep.Sent) == 0 {
			outcome = "failed"
		}
	}
	observability.Commands.WithLabelValues(s.InviteCommand, outcome).Inc()
	log.Ctx(ctx).Info().
		Str("user_id", callerID).
		Strs("sent", rep.Sent).
		Strs("failed", rep.Failed).
		Msg("invites delivered")
	return ephemeral(inviteSummary(rep))
}

func (s *CommandService) link(ctx context.Context, userID, text string) (*domain.RoomMapping, error) {
	u, ok := roomurl.Normalize(text, s.Domain)
	if !ok {
		return nil, ErrInvalidRoomURL
	}
	return s.Store.Set(ctx, userID, u)
}

func (s *CommandService) room(ctx context.Context, userID string) (string, error) {
	rec, err := s.Store.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if rec == nil || rec.RoomURL == "" {
		return "", ErrRoomNotConfigured
	}
	return rec.RoomURL, nil
}

func (s *CommandService) example() string {
	return "https://" + s.Domain + "/yourroom"
}

// ParseMentions returns the user ids mentioned in text, first occurrence
// order, without duplicates.
func ParseMentions(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		if id := m[1]; !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func inviteSummary(rep notify.Report) string {
	var lines []string
	if len(rep.Sent) > 0 {
		lines = append(lines, "✅ Doxy.me call invite sent to "+mentionList(rep.Sent))
	}
	if len(rep.Failed) > 0 {
		lines = append(lines, "⚠️ Couldn't DM: "+mentionList(rep.Failed)+" (they may need to add the Doxy.me app first)")
	}
	if len(lines) == 0 {
		return msgNoInvites
	}
	return strings.Join(lines, "\n")
}

func mentionList(ids []string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = "<@" + id + ">"
	}
	return strings.Join(parts, ", ")
}

func ephemeral(text string) *slack.WebhookMessage {
	return &slack.WebhookMessage{ResponseType: ResponseEphemeral, Text: text}
}
