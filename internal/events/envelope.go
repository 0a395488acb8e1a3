// Package events decodes Slack Events API payloads. It recognizes the
// url_verification handshake and normalizes call lifecycle events, which
// Slack has delivered under several shapes over time, into a small closed set
// of semantic variants.
package events

import (
	"encoding/json"
	"strings"

	"github.com/slack-go/slack/slackevents"
)

// Envelope is the outer Events API payload.
type Envelope struct {
	Type      string          `json:"type"`
	Token     string          `json:"token,omitempty"`
	Challenge string          `json:"challenge,omitempty"`
	TeamID    string          `json:"team_id,omitempty"`
	APIAppID  string          `json:"api_app_id,omitempty"`
	EventID   string          `json:"event_id,omitempty"`
	EventTime int64           `json:"event_time,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

// ParseEnvelope decodes raw as an Events API envelope.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(raw, &env)
	return env, err
}

// Challenge returns the handshake token when raw is a url_verification
// payload. Malformed JSON is simply not a handshake.
func Challenge(raw []byte) (string, bool) {
	env, err := ParseEnvelope(raw)
	if err != nil || env.Type != slackevents.URLVerification {
		return "", false
	}
	return env.Challenge, true
}

// IsCallback reports whether the envelope wraps an inner event.
func (e Envelope) IsCallback() bool {
	return e.Type == slackevents.CallbackEvent && len(e.Event) > 0
}

// IsJSON reports whether a Content-Type header denotes a JSON body.
func IsJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/json")
}
