package middleware

import (
	"context"
	"net/http"

	"github.com/nextday/nextday-api/internal/pkg/logger"
	"github.com/nextday/nextday-api/internal/pkg/response"
)

// SubscriptionChecker answers whether an account currently has an active subscription.
type SubscriptionChecker interface {
	HasActiveSubscription(ctx context.Context, accountID string) (bool, error)
}

// RequireSubscription gates premium routes. Callers without an active subscription
// get 402 SUBSCRIPTION_REQUIRED with the pricing page in details.redirect.
// A failed lookup counts as no subscription.
func RequireSubscription(checker SubscriptionChecker, pricingURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID := GetAccountID(r.Context())
			if accountID == "" {
				response.Unauthorized(w, "Authentication required")
				return
			}

			active, err := checker.HasActiveSubscription(r.Context(), accountID)
			if err != nil {
				logger.FromContext(r.Context()).Warn().Err(err).
					Str("account_id", accountID).
					Msg("Subscription lookup failed")
			}
			if !active {
				response.PaymentRequired(w, "An active subscription is required", pricingURL)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
