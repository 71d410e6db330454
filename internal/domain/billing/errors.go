package billing

import "errors"

var (
	ErrUnknownProvider   = errors.New("unknown webhook provider")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrInvalidPayload    = errors.New("invalid webhook payload")
	ErrEventNotFound     = errors.New("webhook event not found")
	ErrUnresolvedAccount = errors.New("order has no resolvable account")
	ErrInvalidCredits    = errors.New("product metadata has no valid credits")
	ErrNotConfigured     = errors.New("billing provider is not configured")
	ErrInternal          = errors.New("internal error")
	ErrInFlight          = errors.New("webhook delivery is being processed")

	// ErrUnprocessable marks deliveries that will fail the same way on every retry.
	ErrUnprocessable = errors.New("unprocessable webhook event")
)
