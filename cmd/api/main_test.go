package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextday/nextday-api/internal/config"
	"github.com/nextday/nextday-api/internal/domain/account"
	"github.com/nextday/nextday-api/internal/domain/billing"
	"github.com/nextday/nextday-api/internal/domain/gate"
	"github.com/nextday/nextday-api/internal/domain/imagegen"
	"github.com/nextday/nextday-api/internal/domain/ledger"
	"github.com/nextday/nextday-api/internal/domain/subscription"
	"github.com/nextday/nextday-api/internal/domain/todo"
	"github.com/nextday/nextday-api/internal/pkg/jwt"
	"github.com/nextday/nextday-api/internal/pkg/metrics"
)

// newTestApp wires every handler without storage; only paths that stop
// before touching a store are exercised.
func newTestApp() http.Handler {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	ledgerService := ledger.NewService(nil, nil, m, time.Minute)
	gateService := gate.New(ledgerService)
	reader := subscription.NewReader(nil, nil)

	a := &app{
		cfg:          &config.Config{AllowedOrigins: []string{"http://localhost:3000"}, FrontendURL: "http://localhost:3000"},
		jwt:          jwt.NewService("router-secret", "", time.Hour),
		metrics:      m,
		gatherer:     registry,
		account:      account.NewHandler(account.NewService(nil, nil)),
		ledger:       ledger.NewHandler(ledgerService, gateService, false, nil, nil),
		gate:         gate.NewHandler(gateService),
		todo:         todo.NewHandler(todo.NewService(nil, gateService, ledgerService)),
		subscription: subscription.NewHandler(reader, "http://localhost:3000/pricing"),
		billing:      billing.NewHandler(billing.NewService(nil, nil, nil, nil, nil, m, billing.Config{}), "http://localhost:3000/confirmation"),
		imagegen:     imagegen.NewHandler(imagegen.NewService(gateService, nil, nil, m)),
	}
	return a.router()
}

func TestHealth(t *testing.T) {
	router := newTestApp()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestApp()

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestAnonymousCallersRejected(t *testing.T) {
	router := newTestApp()

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/api/balance", "", http.StatusUnauthorized},
		{http.MethodPost, "/api/balance", `{"userId":"acc_1","amount":5}`, http.StatusUnauthorized},
		{http.MethodGet, "/api/ledger/entries", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/account", "", http.StatusUnauthorized},
		{http.MethodPut, "/api/account/image", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/gate/quote?action=create_todo", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/todo-lists", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/subscription", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/premium-features", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/admin/webhook-events", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/portal", "", http.StatusUnauthorized},
		{http.MethodPost, "/api/img-gen", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestWebhookUnknownProvider(t *testing.T) {
	router := newTestApp()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	router := newTestApp()

	req := httptest.NewRequest(http.MethodOptions, "/api/balance", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
