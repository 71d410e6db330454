package subscription

import (
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nextday/nextday-api/internal/middleware"
	"github.com/nextday/nextday-api/internal/pkg/polar"
	"github.com/nextday/nextday-api/internal/pkg/response"
)

type Handler struct {
	reader     *Reader
	pricingURL string
	now        func() time.Time
}

func NewHandler(reader *Reader, pricingURL string) *Handler {
	return &Handler{reader: reader, pricingURL: pricingURL, now: time.Now}
}

// Routes mounts GET /api/subscription
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.Get)
	return r
}

// PremiumRoutes mounts the subscriber-only pages
func (h *Handler) PremiumRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireSubscription(h.reader, h.pricingURL))
	r.Get("/", h.PremiumFeatures)
	return r
}

// Get handles GET /api/subscription. A provider outage reads as no subscription.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == "" {
		response.Unauthorized(w, "Authentication required")
		return
	}

	p, _ := h.reader.Get(r.Context(), accountID)
	response.OK(w, p)
}

// PremiumResponse is the subscriber overview
type PremiumResponse struct {
	Subscription    Projection `json:"subscription"`
	FormattedAmount string     `json:"formattedAmount"`
	MemberSince     *time.Time `json:"memberSince,omitempty"`
	DaysRemaining   int        `json:"daysRemaining"`
	Features        []string   `json:"features"`
}

var premiumFeatures = []string{
	"Unlimited todo lists",
	"Ambient image generation",
	"Focus session history",
	"Priority support",
}

// PremiumFeatures handles GET /api/premium-features
func (h *Handler) PremiumFeatures(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())

	p, err := h.reader.Get(r.Context(), accountID)
	if err != nil || !p.HasActiveSubscription {
		response.PaymentRequired(w, "An active subscription is required", h.pricingURL)
		return
	}

	out := PremiumResponse{
		Subscription:    p,
		FormattedAmount: polar.FormatAmount(p.Amount, p.Currency),
		MemberSince:     p.StartedAt,
		Features:        premiumFeatures,
	}
	if p.CurrentPeriodEnd != nil {
		left := p.CurrentPeriodEnd.Sub(h.now()).Hours() / 24
		out.DaysRemaining = int(math.Max(0, math.Ceil(left)))
	}
	response.OK(w, out)
}
