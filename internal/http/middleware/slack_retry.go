package middleware

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/doxyme-slack-calling/internal/slackauth"
)

// Slack marks re-deliveries of an Events API payload with these headers.
const (
	HeaderSlackRetryNum    = "X-Slack-Retry-Num"
	HeaderSlackRetryReason = "X-Slack-Retry-Reason"
)

const (
	ctxKeyRetryNum    = "slack.retry_num"
	ctxKeyRetryReason = "slack.retry_reason"
	ctxKeyRateBypass  = "rate.bypass"
)

// RequestVerifier authenticates a raw Slack request body.
type RequestVerifier interface {
	Verify(body []byte, timestamp, signature string) bool
}

// SlackRetry annotates requests that Slack marks as retries. The attempt
// number and reason are stored for handlers (RetryNum) and added to the
// request-scoped logger. Malformed values are ignored.
//
// A retry bypasses the rate limiter only when its signature verifies against
// v; the retry headers alone are not trusted. The body is buffered for the
// check and restored for the handler.
func SlackRetry(v RequestVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderSlackRetryNum))
		if raw == "" {
			c.Next()
			return
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.Next()
			return
		}
		reason := c.GetHeader(HeaderSlackRetryReason)
		c.Set(ctxKeyRetryNum, n)
		c.Set(ctxKeyRetryReason, reason)
		if signedBySlack(c, v) {
			c.Set(ctxKeyRateBypass, true)
		}

		l := LoggerFrom(c).With().Int("slack_retry_num", n).Str("slack_retry_reason", reason).Logger()
		c.Set(loggerKey, &l)
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
		c.Next()
	}
}

func signedBySlack(c *gin.Context, v RequestVerifier) bool {
	ts := c.GetHeader(slackauth.HeaderTimestamp)
	sig := c.GetHeader(slackauth.HeaderSignature)
	if v == nil || ts == "" || sig == "" || c.Request.Body == nil {
		return false
	}
	body, err := io.ReadAll(c.Request.Body)
	var rest io.Reader = bytes.NewReader(body)
	if err != nil {
		// The handler sees the same read error (e.g. *http.MaxBytesError).
		rest = io.MultiReader(rest, errReader{err})
	}
	c.Request.Body = io.NopCloser(rest)
	return err == nil && v.Verify(body, ts, sig)
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// RetryNum returns Slack's retry attempt number for the request.
func RetryNum(c *gin.Context) (int, bool) {
	v, ok := c.Get(ctxKeyRetryNum)
	if !ok {
		return 0, false
	}
	n, _ := v.(int)
	return n, n > 0
}

// RetryReason returns Slack's stated retry reason, e.g. "http_timeout".
func RetryReason(c *gin.Context) string {
	v, _ := c.Get(ctxKeyRetryReason)
	return asString(v)
}
