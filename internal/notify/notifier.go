// Package notify is the boundary to the Slack Web API: it resolves caller
// names, fans invites out as direct messages, and delivers deferred slash
// command results to their one-time response_url.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/tbourn/doxyme-slack-calling/internal/observability"
	"github.com/tbourn/doxyme-slack-calling/internal/sysutil"
)

// FallbackCallerName is used when the caller's profile cannot be read.
const FallbackCallerName = "Someone"

// API is the subset of *slack.Client used by Notifier.
type API interface {
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// NewClient builds a Slack Web API client. An empty apiURL keeps the
// library default.
func NewClient(botToken, apiURL string, httpClient *http.Client) *slack.Client {
	opts := []slack.Option{}
	if httpClient != nil {
		opts = append(opts, slack.OptionHTTPClient(httpClient))
	}
	if apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return slack.New(botToken, opts...)
}

// Report is the per-recipient outcome of an invite fan-out. Every recipient
// ends up in exactly one of Sent or Failed, in input order.
type Report struct {
	Sent   []string
	Failed []string
	Errors map[string]error
}

// Notifier sends invites through the Slack Web API.
type Notifier struct {
	api         API
	maxAttempts int
	sleep       func(context.Context, time.Duration) error
}

// Option customizes a Notifier.
type Option func(*Notifier)

// WithMaxAttempts bounds attempts per API call when Slack rate limits.
func WithMaxAttempts(n int) Option {
	return func(n2 *Notifier) {
		if n > 0 {
			n2.maxAttempts = n
		}
	}
}

// New returns a Notifier over api.
func New(api API, opts ...Option) *Notifier {
	n := &Notifier{api: api, maxAttempts: 3, sleep: sleepCtx}
	for _, o := range opts {
		o(n)
	}
	return n
}

// CallerName returns the display name of userID, falling back to the real
// name and then to FallbackCallerName.
func (n *Notifier) CallerName(ctx context.Context, userID string) string {
	var user *slack.User
	err := n.retry(ctx, func() error {
		var err error
		user, err = n.api.GetUserInfoContext(ctx, userID)
		return err
	})
	if err != nil || user == nil {
		log.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("unable to fetch caller info")
		return FallbackCallerName
	}
	return sysutil.FirstNonEmpty(user.Profile.DisplayName, user.Profile.RealName, FallbackCallerName)
}

// InviteAll DMs every recipient a join button for roomURL. Recipients are
// attempted one after another; a failure is recorded and the loop moves on.
func (n *Notifier) InviteAll(ctx context.Context, recipients []string, callerName, roomURL string) Report {
	rep := Report{Errors: map[string]error{}}
	for _, uid := range recipients {
		if err := n.invite(ctx, uid, callerName, roomURL); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("recipient", uid).Msg("failed to DM user")
			observability.Invites.WithLabelValues("failed").Inc()
			rep.Failed = append(rep.Failed, uid)
			rep.Errors[uid] = err
			continue
		}
		observability.Invites.WithLabelValues("sent").Inc()
		rep.Sent = append(rep.Sent, uid)
	}
	return rep
}

func (n *Notifier) invite(ctx context.Context, userID, callerName, roomURL string) error {
	var ch *slack.Channel
	err := n.retry(ctx, func() error {
		var err error
		ch, _, _, err = n.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{Users: []string{userID}})
		return err
	})
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	if ch == nil || ch.ID == "" {
		return errors.New("open conversation: no channel returned")
	}

	headline := fmt.Sprintf("📹 *%s* is inviting you to a Doxy.me call", callerName)
	fallback := fmt.Sprintf("%s is inviting you to a Doxy.me call: %s", callerName, roomURL)
	err = n.retry(ctx, func() error {
		_, _, err := n.api.PostMessageContext(ctx, ch.ID,
			slack.MsgOptionBlocks(JoinBlocks(headline, roomURL)...),
			slack.MsgOptionText(fallback, false),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}

// retry re-runs fn while Slack answers with a rate limit, waiting the
// advertised Retry-After between attempts. Other errors return immediately.
func (n *Notifier) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		err = fn()
		var rl *slack.RateLimitedError
		if err == nil || !errors.As(err, &rl) || attempt == n.maxAttempts {
			return err
		}
		if serr := n.sleep(ctx, rl.RetryAfter); serr != nil {
			return err
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
