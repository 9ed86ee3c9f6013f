package handlers

// Error codes carried in ErrorResponse.Code. Clients branch on these, so
// values never change once released.
//
// Model and transcript failures are not errors at this layer; they travel
// in ResultResponse with success=false.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeBodyTooLarge     = "body_too_large"
	ErrCodeListFailed       = "list_failed"
	ErrCodeInternal         = "internal_error"
	ErrCodeUnavailable      = "unavailable"

	// Written by middleware before a handler runs.
	ErrCodeUnauthorized      = "unauthorized"
	ErrCodeRateLimited       = "rate_limited"
	ErrCodeBadIdempotencyKey = "bad_idempotency_key"
)
