package gate

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nextday/nextday-api/internal/middleware"
	"github.com/nextday/nextday-api/internal/pkg/errorhandler"
	"github.com/nextday/nextday-api/internal/pkg/response"
	"github.com/nextday/nextday-api/internal/pkg/validator"
)

// QuoteRequest is read from the query string of GET /api/gate/quote
type QuoteRequest struct {
	Action string `json:"action" validate:"required,paid_action"`
	Steps  int    `json:"steps" validate:"gte=0"`
}

type Handler struct {
	gate *Gate
}

func NewHandler(g *Gate) *Handler {
	return &Handler{gate: g}
}

// Routes returns the gate router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/quote", h.Quote)
	r.Get("/costs", h.Costs)
	return r
}

// Quote handles GET /api/gate/quote?action=generate_image&steps=6
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == "" {
		response.Unauthorized(w, "Authentication required")
		return
	}

	req := QuoteRequest{Action: r.URL.Query().Get("action")}
	if s := r.URL.Query().Get("steps"); s != "" {
		steps, err := strconv.Atoi(s)
		if err != nil {
			response.ValidationError(w, map[string]string{"steps": "Must be a number"})
			return
		}
		req.Steps = steps
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	quote, err := h.gate.Check(r.Context(), accountID, Action(req.Action), Params{Steps: req.Steps})
	if err != nil {
		if errors.Is(err, ErrUnknownAction) {
			response.BadRequest(w, "Unknown action")
			return
		}
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "QUOTE_FAILED", "Failed to quote action", err)
		return
	}
	response.OK(w, quote)
}

// CostEntry describes one priced action
type CostEntry struct {
	Action      Action `json:"action"`
	Description string `json:"description"`
	Cost        int64  `json:"cost"`
	PerStep     bool   `json:"per_step,omitempty"`
}

// Costs handles GET /api/gate/costs
func (h *Handler) Costs(w http.ResponseWriter, r *http.Request) {
	out := make([]CostEntry, 0, len(Actions()))
	for _, a := range Actions() {
		entry := CostEntry{Action: a, Description: a.Description()}
		if a == ActionGenerateImage {
			entry.Cost = CreditsPerStep
			entry.PerStep = true
		} else {
			entry.Cost, _ = Cost(a, Params{})
		}
		out = append(out, entry)
	}
	response.OK(w, out)
}
