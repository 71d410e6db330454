package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/nextday/nextday-api/internal/middleware"
	"github.com/nextday/nextday-api/internal/pkg/errorhandler"
	"github.com/nextday/nextday-api/internal/pkg/logger"
	"github.com/nextday/nextday-api/internal/pkg/response"
	"github.com/nextday/nextday-api/internal/pkg/validator"
)

const (
	maxStreamsPerAccount = 5

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// PriceVerifier recomputes the cost of an action server-side.
// It returns ErrUnknownAction or ErrCostMismatch.
type PriceVerifier interface {
	VerifyAmount(action string, steps int, amount int64) error
}

type Handler struct {
	svc           *Service
	prices        PriceVerifier
	strictPricing bool
	hub           *Hub
	upgrader      websocket.Upgrader
}

// NewHandler creates the balance handler. hub may be nil, which disables streaming.
func NewHandler(svc *Service, prices PriceVerifier, strictPricing bool, hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		svc:           svc,
		prices:        prices,
		strictPricing: strictPricing,
		hub:           hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  512,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowedOrigins) == 0 {
					return true
				}
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
	}
}

// RegisterRoutes mounts the balance endpoints. session attaches an optional identity;
// auth rejects anonymous callers.
func (h *Handler) RegisterRoutes(r chi.Router, session, auth func(http.Handler) http.Handler) {
	r.With(session).Get("/balance", h.GetBalance)
	r.With(session).Post("/balance", h.Debit)
	r.With(auth).Get("/balance/stream", h.Stream)
	r.With(auth).Get("/ledger/entries", h.ListEntries)
}

// GetBalance handles GET /api/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == "" {
		response.PlainError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	balance, err := h.svc.GetBalance(r.Context(), accountID)
	if err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Str("account_id", accountID).Msg("Failed to fetch balance")
		response.PlainError(w, http.StatusInternalServerError, "Failed to fetch balance")
		return
	}

	response.Raw(w, http.StatusOK, []BalanceRow{{Balance: balance}})
}

// Debit handles POST /api/balance
func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == "" {
		response.PlainError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req DebitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.PlainError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.UserID == "" || req.Amount == 0 {
		response.PlainError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	if req.UserID != accountID {
		response.PlainError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if req.Amount < 0 {
		response.PlainError(w, http.StatusBadRequest, "Invalid amount")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.PlainError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Action != "" && h.prices != nil {
		if err := h.prices.VerifyAmount(req.Action, req.Steps, req.Amount); err != nil {
			switch {
			case errors.Is(err, ErrCostMismatch):
				response.PlainError(w, http.StatusBadRequest, "Cost mismatch")
			default:
				response.PlainError(w, http.StatusBadRequest, "Unknown action")
			}
			return
		}
	} else if h.strictPricing {
		response.PlainError(w, http.StatusBadRequest, "Unknown action")
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = req.IdempotencyKey
	}

	res, err := h.svc.Debit(r.Context(), accountID, req.Amount, Meta{
		Source:         SourceAction,
		Action:         req.Action,
		Description:    "balance debit",
		IdempotencyKey: ClientKey(key),
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrAccountNotFound):
			response.PlainError(w, http.StatusBadRequest, "Insufficient balance")
		case errors.Is(err, ErrIdempotencyConflict):
			response.PlainError(w, http.StatusConflict, "Idempotency key reused with a different amount")
		default:
			logger.FromContext(r.Context()).Error().Err(err).Str("account_id", accountID).Msg("Failed to subtract balance")
			response.Fail(w, http.StatusInternalServerError, "Failed to subtract balance")
		}
		return
	}

	response.Raw(w, http.StatusOK, DebitResponse{Success: true, Balance: res.Balance})
}

// ListEntries handles GET /api/ledger/entries
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == "" {
		response.Unauthorized(w, "Authentication required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.svc.ListEntries(r.Context(), accountID, limit, offset)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "LEDGER_LIST_FAILED", "Failed to list ledger entries", err)
		return
	}

	items := make([]EntryResponse, len(entries))
	for i := range entries {
		items[i] = EntryResponseFromEntity(&entries[i])
	}
	response.OK(w, items)
}

// Stream handles GET /api/balance/stream (websocket)
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == "" {
		response.Unauthorized(w, "Authentication required")
		return
	}
	if h.hub == nil {
		response.Error(w, http.StatusServiceUnavailable, "STREAM_UNAVAILABLE", "Balance streaming is disabled")
		return
	}

	if h.hub.ConnectionCount(accountID) >= maxStreamsPerAccount {
		response.Error(w, http.StatusTooManyRequests, "TOO_MANY_STREAMS", "Too many open balance streams")
		return
	}

	balance, err := h.svc.GetBalance(r.Context(), accountID)
	if err != nil {
		response.InternalError(w)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Connection{
		AccountID: accountID,
		Conn:      conn,
		Send:      make(chan []byte, 16),
	}
	h.hub.Register(client)

	if snapshot, err := json.Marshal(StreamEvent{
		Type: "snapshot",
		Data: BalanceChanged{AccountID: accountID, Balance: balance, At: time.Now()},
	}); err == nil {
		select {
		case client.Send <- snapshot:
		default:
		}
	}

	go h.wsReader(client)
	go h.wsWriter(client)
}

// wsReader only drains control frames; the stream is server to client.
func (h *Handler) wsReader(client *Connection) {
	defer func() {
		h.hub.Unregister(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(512)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) wsWriter(client *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
