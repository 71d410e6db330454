package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextday/nextday-api/internal/pkg/jwt"
)

func TestAuthMiddlewareAllowsValidSessionToken(t *testing.T) {
	jwtSvc := jwt.NewService("secret", "", time.Minute)
	token, err := jwtSvc.GenerateSessionToken(jwt.Identity{AccountID: "acc_1", Role: "user"})
	require.NoError(t, err)

	var seen string
	protected := Auth(jwtSvc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetAccountID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	protected.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "acc_1", seen)
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	protected := Auth(jwt.NewService("secret", "", time.Minute))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	w := httptest.NewRecorder()
	protected.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionMiddlewarePassesAnonymousThrough(t *testing.T) {
	called := false
	h := Session(jwt.NewService("secret", "", time.Minute))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Empty(t, GetAccountID(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, called)
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), RoleKey, "user")))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), RoleKey, "admin")))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

type stubChecker struct {
	active bool
	err    error
}

func (s stubChecker) HasActiveSubscription(ctx context.Context, accountID string) (bool, error) {
	return s.active, s.err
}

func TestRequireSubscriptionRedirectsToPricing(t *testing.T) {
	h := RequireSubscription(stubChecker{err: errors.New("provider down")}, "https://app.test/pricing")(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { t.Fatal("handler must not run") }))

	req := httptest.NewRequest(http.MethodGet, "/api/premium-features", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req.WithContext(WithAccountID(req.Context(), "acc_1")))

	require.Equal(t, http.StatusPaymentRequired, w.Code)
	var body struct {
		Error struct {
			Code    string            `json:"code"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "SUBSCRIPTION_REQUIRED", body.Error.Code)
	assert.Equal(t, "https://app.test/pricing", body.Error.Details["redirect"])
}

func TestRequireSubscriptionAllowsActive(t *testing.T) {
	h := RequireSubscription(stubChecker{active: true}, "/pricing")(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/api/premium-features", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req.WithContext(WithAccountID(req.Context(), "acc_1")))

	assert.Equal(t, http.StatusOK, w.Code)
}

type recordingEnsurer struct{ ids []string }

func (r *recordingEnsurer) Ensure(ctx context.Context, id jwt.Identity) error {
	r.ids = append(r.ids, id.AccountID)
	return nil
}

func TestEnsureAccountMirrorsIdentity(t *testing.T) {
	ens := &recordingEnsurer{}
	h := EnsureAccount(ens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	h.ServeHTTP(httptest.NewRecorder(), req.WithContext(WithAccountID(req.Context(), "acc_9")))

	assert.Equal(t, []string{"acc_9"}, ens.ids)
}
