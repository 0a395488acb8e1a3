package handlers

// Error codes carried in ErrorResponse.Code.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeTooLarge         = "payload_too_large"
	ErrCodeInternal         = "internal_error"
)

// invalidSignatureBody is Slack-facing and fixed; it never carries detail
// about which check failed.
const invalidSignatureBody = "Invalid signature"
