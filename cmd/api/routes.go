package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nextday/nextday-api/internal/config"
	"github.com/nextday/nextday-api/internal/domain/account"
	"github.com/nextday/nextday-api/internal/domain/billing"
	"github.com/nextday/nextday-api/internal/domain/gate"
	"github.com/nextday/nextday-api/internal/domain/imagegen"
	"github.com/nextday/nextday-api/internal/domain/ledger"
	"github.com/nextday/nextday-api/internal/domain/subscription"
	"github.com/nextday/nextday-api/internal/domain/todo"
	"github.com/nextday/nextday-api/internal/middleware"
	"github.com/nextday/nextday-api/internal/pkg/jwt"
	"github.com/nextday/nextday-api/internal/pkg/metrics"
	pkgresponse "github.com/nextday/nextday-api/internal/pkg/response"
)

const version = "1.0.0"

// app holds the handlers the router mounts
type app struct {
	cfg      *config.Config
	jwt      *jwt.Service
	accounts middleware.AccountEnsurer
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	account      *account.Handler
	ledger       *ledger.Handler
	gate         *gate.Handler
	todo         *todo.Handler
	subscription *subscription.Handler
	billing      *billing.Handler
	imagegen     *imagegen.Handler
}

// withAccount runs mw and then mirrors the caller into the accounts table
func (a *app) withAccount(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if a.accounts == nil {
		return mw
	}
	ensure := middleware.EnsureAccount(a.accounts)
	return func(next http.Handler) http.Handler {
		return mw(ensure(next))
	}
}

func (a *app) router() http.Handler {
	session := a.withAccount(middleware.Session(a.jwt))
	auth := a.withAccount(middleware.Auth(a.jwt))

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(a.metrics))
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(a.cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if a.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		// balance, ledger history and the websocket stream
		a.ledger.RegisterRoutes(r, session, auth)
		r.Mount("/account", a.account.Routes(auth))

		r.Mount("/gate", a.gate.Routes(auth))
		r.Mount("/todo-lists", a.todo.ListRoutes(auth))
		r.Mount("/todos", a.todo.TodoRoutes(auth))

		r.Mount("/subscription", a.subscription.Routes(auth))
		r.Mount("/premium-features", a.subscription.PremiumRoutes(auth))

		r.Mount("/webhook", a.billing.WebhookRoutes())
		r.Mount("/admin/webhook-events", a.billing.AdminRoutes(auth))
		a.billing.RegisterRoutes(r, session, auth)

		r.Mount("/img-gen", a.imagegen.Routes(session))
	})

	return r
}
