package notify

import (
	"context"
	"errors"
	"net/http"

	"github.com/slack-go/slack"
)

// ErrNoResponseURL is returned when a command carried no response_url.
var ErrNoResponseURL = errors.New("notify: no response_url")

// Responder posts deferred results to a slash command's response_url. The
// URL is single use and expires on Slack's side, so failures are reported to
// the caller and never retried here.
type Responder struct {
	HTTP *http.Client
}

// NewResponder returns a Responder using client, or http.DefaultClient.
func NewResponder(client *http.Client) *Responder {
	if client == nil {
		client = http.DefaultClient
	}
	return &Responder{HTTP: client}
}

// Respond delivers msg to responseURL.
func (r *Responder) Respond(ctx context.Context, responseURL string, msg *slack.WebhookMessage) error {
	if responseURL == "" {
		return ErrNoResponseURL
	}
	return slack.PostWebhookCustomHTTPContext(ctx, responseURL, r.HTTP, msg)
}
