// HTTP-layer error codes shared by all endpoints. Codes are lowercase
// snake_case and stable: clients branch on them programmatically, the
// message field being for humans. Handlers pick the most specific code and
// pass it to fail() with the matching HTTP status.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeUpstreamTimeout = "upstream_timeout"     // worker unreachable in time (504)
	ErrCodeUpstreamError   = "upstream_unavailable" // worker reachable but failing (502)
	ErrCodeUnhealthy       = "unhealthy"            // health probe failure (503)
)
