package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/tbourn/doxyme-slack-calling/internal/events"
	"github.com/tbourn/doxyme-slack-calling/internal/http/middleware"
	"github.com/tbourn/doxyme-slack-calling/internal/observability"
	"github.com/tbourn/doxyme-slack-calling/internal/services"
	"github.com/tbourn/doxyme-slack-calling/internal/slackauth"
)

// Placeholder and catch-all replies for slash commands.
const (
	WorkingText = "⏳ Working..."
	FailureText = "Something went wrong. Please try again."
)

// CommandRunner answers slash commands.
type CommandRunner interface {
	// Handles reports whether command is answered by Run.
	Handles(command string) bool
	// Run produces the final reply; nil means nothing to deliver.
	Run(ctx context.Context, cmd slack.SlashCommand) *slack.WebhookMessage
}

// EventHandler processes verified event_callback deliveries.
type EventHandler interface {
	Handle(ctx context.Context, env events.Envelope) (events.CallEvent, error)
}

// Responder delivers a deferred reply to a response_url.
type Responder interface {
	Respond(ctx context.Context, responseURL string, msg *slack.WebhookMessage) error
}

// Tasks runs work after the response has been written.
type Tasks interface {
	Go(ctx context.Context, name string, fn func(ctx context.Context))
}

// SlackHandler serves the single Slack endpoint.
//
// Request flow:
//   - GET: liveness, no authentication.
//   - JSON url_verification: the challenge is echoed before any signature
//     check.
//   - Other JSON: signature required; 200 {"ok":true}. Verified
//     event_callback payloads are handed to Events out-of-band.
//   - Anything else is treated as a form body: signature required, then
//     parsed as a slash command from the same bytes. Known commands are
//     acknowledged with an ephemeral placeholder and answered later through
//     response_url; other commands get 200 {"ok":true}.
type SlackHandler struct {
	AppName   string
	Verifier  *slackauth.Verifier
	Commands  CommandRunner
	Events    EventHandler
	Responder Responder
	Tasks     Tasks
}

// Liveness reports the process is up.
func (h *SlackHandler) Liveness(c *gin.Context) {
	ok(c, gin.H{"ok": true, "app": h.AppName})
}

// Receive handles a POST from Slack.
func (h *SlackHandler) Receive(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable request body")
		return
	}

	if events.IsJSON(c.GetHeader("Content-Type")) {
		if challenge, isHandshake := events.Challenge(raw); isHandshake {
			ok(c, gin.H{"challenge": challenge})
			return
		}
		if !h.authorized(c, raw) {
			return
		}
		ok(c, gin.H{"ok": true})
		h.dispatchEvent(c, raw)
		return
	}

	if !h.authorized(c, raw) {
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	cmd, err := slack.SlashCommandParse(c.Request)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "malformed form body")
		return
	}
	if h.Commands == nil || !h.Commands.Handles(cmd.Command) {
		ok(c, gin.H{"ok": true})
		return
	}

	ok(c, gin.H{"response_type": services.ResponseEphemeral, "text": WorkingText})
	h.deferCommand(c, cmd)
}

// authorized verifies the signature over raw and writes the 401 on failure.
func (h *SlackHandler) authorized(c *gin.Context, raw []byte) bool {
	err := h.Verifier.Check(raw, c.GetHeader(slackauth.HeaderTimestamp), c.GetHeader(slackauth.HeaderSignature))
	if err == nil {
		return true
	}
	observability.SignatureRejections.WithLabelValues(rejectReason(err)).Inc()
	middleware.LoggerFrom(c).Warn().Err(err).Msg("slack signature rejected")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": invalidSignatureBody})
	return false
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, slackauth.ErrMissingHeaders):
		return "missing_headers"
	case errors.Is(err, slackauth.ErrInvalidTimestamp):
		return "invalid_timestamp"
	case errors.Is(err, slackauth.ErrStaleTimestamp):
		return "stale_timestamp"
	default:
		return "mismatch"
	}
}

// detached returns a context that survives the request but keeps its values
// (logger, trace span), with extra logger fields.
func detached(c *gin.Context, with func(zerolog.Context) zerolog.Context) context.Context {
	l := with(middleware.LoggerFrom(c).With()).Logger()
	return l.WithContext(context.WithoutCancel(c.Request.Context()))
}

func (h *SlackHandler) deferCommand(c *gin.Context, cmd slack.SlashCommand) {
	ctx := detached(c, func(lc zerolog.Context) zerolog.Context {
		return lc.Str("command", cmd.Command).Str("user_id", cmd.UserID).Str("team_id", cmd.TeamID)
	})
	h.Tasks.Go(ctx, "slash_command", func(ctx context.Context) {
		msg := h.runCommand(ctx, cmd)
		if msg == nil {
			return
		}
		if err := h.Responder.Respond(ctx, cmd.ResponseURL, msg); err != nil {
			observability.DeferredDeliveryFailures.Inc()
			zerolog.Ctx(ctx).Error().Err(err).Msg("deferred response delivery failed")
		}
	})
}

// runCommand turns a panic inside the command into FailureText so the user
// still gets a reply.
func (h *SlackHandler) runCommand(ctx context.Context, cmd slack.SlashCommand) (msg *slack.WebhookMessage) {
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("slash command panicked")
			msg = &slack.WebhookMessage{ResponseType: services.ResponseEphemeral, Text: FailureText}
		}
	}()
	return h.Commands.Run(ctx, cmd)
}

func (h *SlackHandler) dispatchEvent(c *gin.Context, raw []byte) {
	if h.Events == nil {
		return
	}
	env, err := events.ParseEnvelope(raw)
	if err != nil || !env.IsCallback() {
		return
	}
	ctx := detached(c, func(lc zerolog.Context) zerolog.Context {
		return lc.Str("event_id", env.EventID)
	})
	h.Tasks.Go(ctx, "event_callback", func(ctx context.Context) {
		if _, err := h.Events.Handle(ctx, env); err != nil && !errors.Is(err, services.ErrDuplicateEvent) {
			zerolog.Ctx(ctx).Error().Err(err).Msg("event handling failed")
		}
	})
}
