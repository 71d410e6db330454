package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextday/nextday-api/internal/middleware"
	"github.com/nextday/nextday-api/internal/pkg/jwt"
	"github.com/nextday/nextday-api/internal/pkg/polar"
)

type routerFixture struct {
	*fixture
	router http.Handler
	jwt    *jwt.Service
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	return newGuardedRouterFixture(t, nil)
}

func newGuardedRouterFixture(t *testing.T, guard Guard) *routerFixture {
	t.Helper()
	f := newFixture(guard)
	jwtSvc := jwt.NewService("billing-secret", "", time.Hour)
	h := NewHandler(f.svc, "http://app.test/confirmation")

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Mount("/webhook", h.WebhookRoutes())
		r.Mount("/admin/webhook-events", h.AdminRoutes(middleware.Auth(jwtSvc)))
		h.RegisterRoutes(r, middleware.Session(jwtSvc), middleware.Auth(jwtSvc))
	})
	return &routerFixture{fixture: f, router: r, jwt: jwtSvc}
}

func (f *routerFixture) token(t *testing.T, id jwt.Identity) string {
	t.Helper()
	token, err := f.jwt.GenerateSessionToken(id)
	require.NoError(t, err)
	return token
}

func (f *routerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func webhookRequest(provider, id string, body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/"+provider, strings.NewReader(string(body)))
	for k, v := range signed(id, body) {
		req.Header[k] = v
	}
	return req
}

func TestWebhookHandler(t *testing.T) {
	f := newRouterFixture(t)
	body := orderBody("ord_1", "prod_200", "acc_1")

	rec := f.do(webhookRequest("polar", "msg_1", body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true,"outcome":"processed"}`, rec.Body.String())
	assert.Equal(t, int64(210), f.ledger.balance("acc_1"))

	rec = f.do(webhookRequest("polar", "msg_1", body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true,"outcome":"duplicate"}`, rec.Body.String())

	rec = f.do(webhookRequest("stripe", "msg_1", body))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := webhookRequest("polar", "msg_2", body)
	req.Header.Set(polar.HeaderWebhookSignature, "v1,bm9wZQ==")
	rec = f.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid signature"}`, rec.Body.String())
}

func TestWebhookHandlerAcknowledgesUnprocessable(t *testing.T) {
	f := newRouterFixture(t)
	body := orderBody("ord_1", "prod_bad", "acc_1")

	rec := f.do(webhookRequest("polar", "msg_1", body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true,"outcome":"failed"}`, rec.Body.String())
}

func TestWebhookHandlerInfrastructureError(t *testing.T) {
	f := newRouterFixture(t)
	f.events.failOn = ErrInternal
	body := orderBody("ord_1", "prod_200", "acc_1")

	rec := f.do(webhookRequest("polar", "msg_1", body))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhookHandlerDeliveryInProgress(t *testing.T) {
	guard := &memGuard{seen: map[string]bool{"polar:msg_1": true}}
	f := newGuardedRouterFixture(t, guard)
	body := orderBody("ord_1", "prod_200", "acc_1")

	rec := f.do(webhookRequest("polar", "msg_1", body))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"Delivery in progress"}`, rec.Body.String())
	assert.Equal(t, int64(10), f.ledger.balance("acc_1"))

	require.NoError(t, guard.Delete(context.Background(), "polar:msg_1"))
	rec = f.do(webhookRequest("polar", "msg_1", body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true,"outcome":"processed"}`, rec.Body.String())
	assert.Equal(t, int64(210), f.ledger.balance("acc_1"))
}

func TestAdminWebhookEvents(t *testing.T) {
	f := newRouterFixture(t)
	body := orderBody("ord_1", "prod_200", "acc_late")
	require.Equal(t, http.StatusOK, f.do(webhookRequest("polar", "msg_1", body)).Code)

	userToken := f.token(t, jwt.Identity{AccountID: "acc_1"})
	adminToken := f.token(t, jwt.Identity{AccountID: "acc_admin", Role: "admin"})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/webhook-events?status=failed", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	assert.Equal(t, http.StatusForbidden, f.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/webhook-events?status=bogus", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/webhook-events?status=failed", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Data []WebhookEvent `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "msg_1", list.Data[0].EventID)

	f.ledger.mu.Lock()
	f.ledger.balances["acc_late"] = 5
	f.ledger.mu.Unlock()

	req = httptest.NewRequest(http.MethodPost, "/api/admin/webhook-events/"+list.Data[0].ID.String()+"/replay", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"processed"`)
	assert.Equal(t, int64(205), f.ledger.balance("acc_late"))

	req = httptest.NewRequest(http.MethodPost, "/api/admin/webhook-events/not-a-uuid/replay", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
}

func TestCheckoutRedirect(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/checkout", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/checkout?products=prod_200", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, jwt.Identity{AccountID: "acc_1", Email: "a@nextday.test"}))
	rec = f.do(req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://polar.test/checkout/co_1", rec.Header().Get("Location"))
	assert.Equal(t, []string{"prod_200"}, f.provider.checkout.Products)
	assert.Equal(t, "acc_1", f.provider.checkout.ExternalCustomerID)
	assert.Equal(t, "a@nextday.test", f.provider.checkout.CustomerEmail)
	assert.Equal(t, "http://app.test/confirmation", f.provider.checkout.SuccessURL)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/checkout?products=prod_200", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Empty(t, f.provider.checkout.ExternalCustomerID)
}

func TestPortalRedirect(t *testing.T) {
	f := newRouterFixture(t)

	assert.Equal(t, http.StatusUnauthorized, f.do(httptest.NewRequest(http.MethodGet, "/api/portal", nil)).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/portal", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, jwt.Identity{AccountID: "acc_1"}))
	rec := f.do(req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://polar.test/portal/acc_1", rec.Header().Get("Location"))

	req = httptest.NewRequest(http.MethodGet, "/api/portal", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, jwt.Identity{AccountID: "acc_unknown"}))
	assert.Equal(t, http.StatusNotFound, f.do(req).Code)
}

func TestProductsHandler(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/products", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data Catalog `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body.Data.Credits, 3)
	assert.Empty(t, body.Data.Monthly)
}
