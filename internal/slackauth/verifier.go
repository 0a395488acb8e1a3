// Package slackauth authenticates inbound Slack requests using the v0 signing
// scheme: an HMAC-SHA256 over "v0:{timestamp}:{raw body}" keyed by the app's
// signing secret, carried in the X-Slack-Signature header together with the
// X-Slack-Request-Timestamp header.
package slackauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Header names carrying the request signature material.
const (
	HeaderTimestamp = "X-Slack-Request-Timestamp"
	HeaderSignature = "X-Slack-Signature"
)

// DefaultWindow is the maximum tolerated distance between the request
// timestamp and the local clock, in either direction.
const DefaultWindow = 5 * time.Minute

const version = "v0"

// Rejection reasons returned by Check. Callers that only need a yes/no answer
// should use Verify.
var (
	ErrMissingHeaders    = errors.New("slackauth: missing timestamp or signature")
	ErrInvalidTimestamp  = errors.New("slackauth: timestamp is not a unix time")
	ErrStaleTimestamp    = errors.New("slackauth: timestamp outside replay window")
	ErrSignatureMismatch = errors.New("slackauth: signature mismatch")
)

// Verifier checks request signatures against a shared signing secret.
// The zero Window means DefaultWindow. Now defaults to time.Now.
type Verifier struct {
	Secret string
	Window time.Duration
	Now    func() time.Time
}

// NewVerifier returns a Verifier with the given secret and replay window.
func NewVerifier(secret string, window time.Duration) *Verifier {
	return &Verifier{Secret: secret, Window: window}
}

// Verify reports whether the request is authentic and fresh.
func (v *Verifier) Verify(body []byte, timestamp, signature string) bool {
	return v.Check(body, timestamp, signature) == nil
}

// Check returns nil when signature is the v0 signature of body at timestamp
// and timestamp lies within the replay window. The window is inclusive: a
// timestamp exactly Window away is accepted.
//
// body must be the raw request bytes exactly as received.
func (v *Verifier) Check(body []byte, timestamp, signature string) error {
	timestamp = strings.TrimSpace(timestamp)
	signature = strings.TrimSpace(signature)
	if timestamp == "" || signature == "" {
		return ErrMissingHeaders
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}

	window := v.Window
	if window <= 0 {
		window = DefaultWindow
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	// Bounds are computed around the clock so no arithmetic touches ts.
	n, w := now().Unix(), int64(window/time.Second)
	if ts < n-w || ts > n+w {
		return ErrStaleTimestamp
	}

	expected := Sign(v.Secret, timestamp, body)
	// hmac.Equal is constant time for equal lengths and false otherwise.
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign returns the X-Slack-Signature value for body sent at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(version + ":" + timestamp + ":"))
	mac.Write(body)
	return version + "=" + hex.EncodeToString(mac.Sum(nil))
}
