package billing

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nextday/nextday-api/internal/middleware"
	"github.com/nextday/nextday-api/internal/pkg/errorhandler"
	"github.com/nextday/nextday-api/internal/pkg/logger"
	"github.com/nextday/nextday-api/internal/pkg/polar"
	"github.com/nextday/nextday-api/internal/pkg/response"
	"github.com/nextday/nextday-api/internal/pkg/validator"
)

const maxWebhookBody = 1 << 20

type Handler struct {
	service    *Service
	successURL string
}

func NewHandler(service *Service, successURL string) *Handler {
	return &Handler{service: service, successURL: successURL}
}

// WebhookRoutes mounts POST /api/webhook/{provider}. Deliveries authenticate by signature.
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{provider}", h.Webhook)
	return r
}

// AdminRoutes mounts the webhook event inspection endpoints
func (h *Handler) AdminRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireAdmin())
	r.Get("/", h.ListEvents)
	r.Post("/{id}/replay", h.ReplayEvent)
	return r
}

// Webhook handles POST /api/webhook/{provider}
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		response.PlainError(w, http.StatusBadRequest, "Invalid body")
		return
	}

	outcome, err := h.service.Ingest(r.Context(), provider, r.Header, body)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownProvider):
			response.PlainError(w, http.StatusNotFound, "Unknown provider")
		case errors.Is(err, ErrInvalidSignature):
			logger.FromContext(r.Context()).Warn().Err(err).Str("provider", provider).Msg("Webhook signature rejected")
			response.PlainError(w, http.StatusForbidden, "Invalid signature")
		case errors.Is(err, ErrInvalidPayload):
			response.PlainError(w, http.StatusBadRequest, "Invalid payload")
		case errors.Is(err, ErrInFlight):
			response.PlainError(w, http.StatusConflict, "Delivery in progress")
		default:
			response.PlainError(w, http.StatusInternalServerError, "Webhook processing failed")
		}
		return
	}

	response.Raw(w, http.StatusOK, map[string]interface{}{
		"received": true,
		"outcome":  outcome,
	})
}

// ListEvents handles GET /api/admin/webhook-events?status=failed
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := ListEventsQuery{Status: q.Get("status")}
	req.Limit, _ = strconv.Atoi(q.Get("limit"))
	req.Offset, _ = strconv.Atoi(q.Get("offset"))
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	events, err := h.service.List(r.Context(), Status(req.Status), req.Limit, req.Offset)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "WEBHOOK_LIST_FAILED", "Failed to list webhook events", err)
		return
	}
	response.OK(w, events)
}

// ReplayEvent handles POST /api/admin/webhook-events/{id}/replay
func (h *Handler) ReplayEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid event ID")
		return
	}

	ev, err := h.service.Replay(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			response.NotFound(w, "Webhook event not found")
			return
		}
		logger.FromContext(r.Context()).Error().Err(err).Str("webhook_event_id", id.String()).Msg("Webhook replay failed")
		response.Error(w, http.StatusBadGateway, "REPLAY_FAILED", "Replay failed, try again later")
		return
	}
	response.OK(w, ev)
}

// Checkout handles GET /api/checkout?products=<id>. A signed-in caller is
// linked to the checkout through the external customer id.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	products := q["products"]
	if len(products) == 0 {
		response.PlainError(w, http.StatusBadRequest, "Missing products in query params")
		return
	}

	params := polar.CheckoutParams{
		Products:           products,
		SuccessURL:         h.successURL,
		ExternalCustomerID: middleware.GetAccountID(r.Context()),
		CustomerEmail:      q.Get("customerEmail"),
	}
	if id, ok := middleware.GetIdentity(r.Context()); ok && params.CustomerEmail == "" {
		params.CustomerEmail = id.Email
	}

	checkout, err := h.service.Checkout(r.Context(), params)
	if err != nil {
		errorhandler.LogExternalServiceError(r.Context(), "polar", "create_checkout", err)
		response.PlainError(w, http.StatusInternalServerError, "Failed to create checkout")
		return
	}
	http.Redirect(w, r, checkout.URL, http.StatusFound)
}

// Portal handles GET /api/portal
func (h *Handler) Portal(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == "" {
		response.PlainError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	session, err := h.service.Portal(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, polar.ErrNotFound) {
			response.PlainError(w, http.StatusNotFound, "Customer not found")
			return
		}
		errorhandler.LogExternalServiceError(r.Context(), "polar", "create_customer_session", err)
		response.PlainError(w, http.StatusInternalServerError, "Failed to create customer portal session")
		return
	}
	http.Redirect(w, r, session.CustomerPortalURL, http.StatusFound)
}

// Products handles GET /api/products
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.service.Catalog(r.Context())
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusBadGateway, "PRODUCTS_UNAVAILABLE", "Failed to list products", err)
		return
	}
	response.OK(w, catalog)
}

// RegisterRoutes mounts checkout, portal and products under r.
// session attaches the caller when signed in; auth requires it.
func (h *Handler) RegisterRoutes(r chi.Router, session, auth func(http.Handler) http.Handler) {
	r.With(session).Get("/checkout", h.Checkout)
	r.With(auth).Get("/portal", h.Portal)
	r.Get("/products", h.Products)
}
