package middleware

import (
	"context"
	"net/http"

	"github.com/nextday/nextday-api/internal/pkg/jwt"
	"github.com/nextday/nextday-api/internal/pkg/logger"
)

// AccountEnsurer mirrors an authenticated identity into the accounts table.
type AccountEnsurer interface {
	Ensure(ctx context.Context, id jwt.Identity) error
}

// EnsureAccount makes sure an account row exists for the caller before the
// handler runs. Failures are logged and the request proceeds; reads of a missing
// account report a zero balance and debits fail as insufficient.
func EnsureAccount(ensurer AccountEnsurer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, ok := GetIdentity(r.Context()); ok && id.AccountID != "" {
				if err := ensurer.Ensure(r.Context(), id); err != nil {
					logger.FromContext(r.Context()).Warn().Err(err).
						Str("account_id", id.AccountID).
						Msg("Failed to ensure account")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
