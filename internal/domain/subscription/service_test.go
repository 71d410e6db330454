package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextday/nextday-api/internal/middleware"
	"github.com/nextday/nextday-api/internal/pkg/jwt"
	"github.com/nextday/nextday-api/internal/pkg/polar"
)

type fakeSource struct {
	mu     sync.Mutex
	states map[string]*polar.CustomerState
	err    error
	calls  int
}

func (f *fakeSource) GetCustomerStateByExternalID(ctx context.Context, id string) (*polar.CustomerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	st, ok := f.states[id]
	if !ok {
		return nil, polar.ErrNotFound
	}
	return st, nil
}

func activeState(cancelAtPeriodEnd bool) *polar.CustomerState {
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return &polar.CustomerState{
		ID:         "cus_1",
		ExternalID: "acc_1",
		ActiveSubscriptions: []polar.Subscription{{
			ID:                 "sub_1",
			Status:             "active",
			Amount:             999,
			Currency:           "usd",
			RecurringInterval:  "month",
			CurrentPeriodStart: &start,
			CurrentPeriodEnd:   &end,
			CancelAtPeriodEnd:  cancelAtPeriodEnd,
			StartedAt:          &start,
		}},
	}
}

func TestFromCustomerState(t *testing.T) {
	assert.Equal(t, None(), FromCustomerState(nil))
	assert.Equal(t, None(), FromCustomerState(&polar.CustomerState{}))

	p := FromCustomerState(activeState(false))
	assert.True(t, p.HasActiveSubscription)
	assert.Equal(t, StatusActive, p.Status)
	assert.Equal(t, int64(999), p.Amount)
	assert.Equal(t, "month", p.RecurringInterval)

	p = FromCustomerState(activeState(true))
	assert.True(t, p.HasActiveSubscription)
	assert.Equal(t, StatusCanceled, p.Status)
}

func TestReaderCachesProjection(t *testing.T) {
	src := &fakeSource{states: map[string]*polar.CustomerState{"acc_1": activeState(false)}}
	r := NewReader(src, NewLocalCache(time.Minute))

	for i := 0; i < 3; i++ {
		p, err := r.Get(context.Background(), "acc_1")
		require.NoError(t, err)
		assert.True(t, p.HasActiveSubscription)
	}
	assert.Equal(t, 1, src.calls)

	require.NoError(t, r.Invalidate(context.Background(), "acc_1"))
	_, err := r.Get(context.Background(), "acc_1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestReaderUnknownCustomerIsNone(t *testing.T) {
	src := &fakeSource{states: map[string]*polar.CustomerState{}}
	r := NewReader(src, NewLocalCache(time.Minute))

	p, err := r.Get(context.Background(), "acc_new")
	require.NoError(t, err)
	assert.Equal(t, None(), p)

	active, err := r.HasActiveSubscription(context.Background(), "acc_new")
	require.NoError(t, err)
	assert.False(t, active)
	assert.Equal(t, 1, src.calls)
}

func TestReaderProviderFailureNotCached(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	r := NewReader(src, NewLocalCache(time.Minute))

	p, err := r.Get(context.Background(), "acc_1")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, StatusNone, p.Status)

	src.err = nil
	src.states = map[string]*polar.CustomerState{"acc_1": activeState(false)}
	p, err = r.Get(context.Background(), "acc_1")
	require.NoError(t, err)
	assert.True(t, p.HasActiveSubscription)
}

func TestReaderWithoutCache(t *testing.T) {
	src := &fakeSource{states: map[string]*polar.CustomerState{"acc_1": activeState(false)}}
	r := NewReader(src, nil)

	_, _ = r.Get(context.Background(), "acc_1")
	_, _ = r.Get(context.Background(), "acc_1")
	assert.Equal(t, 2, src.calls)
	assert.NoError(t, r.Invalidate(context.Background(), "acc_1"))
}

func newSubscriptionRouter(t *testing.T, src StateSource) (http.Handler, string) {
	t.Helper()
	jwtSvc := jwt.NewService("subscription-secret", "", time.Hour)
	token, err := jwtSvc.GenerateSessionToken(jwt.Identity{AccountID: "acc_1"})
	require.NoError(t, err)

	h := NewHandler(NewReader(src, NewLocalCache(time.Minute)), "http://app.test/pricing")
	h.now = func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) }

	r := chi.NewRouter()
	r.Mount("/api/subscription", h.Routes(middleware.Auth(jwtSvc)))
	r.Mount("/api/premium-features", h.PremiumRoutes(middleware.Auth(jwtSvc)))
	return r, token
}

func TestGetSubscriptionHandler(t *testing.T) {
	router, token := newSubscriptionRouter(t, &fakeSource{states: map[string]*polar.CustomerState{"acc_1": activeState(false)}})

	req := httptest.NewRequest(http.MethodGet, "/api/subscription", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data Projection `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.Data.HasActiveSubscription)
	assert.Equal(t, StatusActive, body.Data.Status)

	req = httptest.NewRequest(http.MethodGet, "/api/subscription", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetSubscriptionProviderDownReadsAsNone(t *testing.T) {
	router, token := newSubscriptionRouter(t, &fakeSource{err: errors.New("boom")})

	req := httptest.NewRequest(http.MethodGet, "/api/subscription", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"none"`)
}

func TestPremiumFeaturesGated(t *testing.T) {
	router, token := newSubscriptionRouter(t, &fakeSource{states: map[string]*polar.CustomerState{}})

	req := httptest.NewRequest(http.MethodGet, "/api/premium-features", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "SUBSCRIPTION_REQUIRED")
	assert.Contains(t, rec.Body.String(), "http://app.test/pricing")
}

func TestPremiumFeaturesForSubscriber(t *testing.T) {
	router, token := newSubscriptionRouter(t, &fakeSource{states: map[string]*polar.CustomerState{"acc_1": activeState(false)}})

	req := httptest.NewRequest(http.MethodGet, "/api/premium-features", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data PremiumResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "$9.99", body.Data.FormattedAmount)
	assert.Equal(t, 14, body.Data.DaysRemaining)
	assert.NotEmpty(t, body.Data.Features)
}
