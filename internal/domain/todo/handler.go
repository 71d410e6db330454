package todo

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nextday/nextday-api/internal/domain/ledger"
	"github.com/nextday/nextday-api/internal/middleware"
	"github.com/nextday/nextday-api/internal/pkg/errorhandler"
	"github.com/nextday/nextday-api/internal/pkg/response"
	"github.com/nextday/nextday-api/internal/pkg/validator"
)

// Handler serves todo lists and todos. Bodies are unwrapped objects and arrays.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// ListRoutes mounts under /api/todo-lists
func (h *Handler) ListRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.GetLists)
	r.Post("/", h.CreateList)
	r.Put("/{id}", h.RenameList)
	r.Delete("/{id}", h.DeleteList)
	return r
}

// TodoRoutes mounts under /api/todos
func (h *Handler) TodoRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.GetTodos)
	r.Post("/", h.CreateTodo)
	r.Patch("/{id}", h.UpdateTodo)
	r.Delete("/{id}", h.DeleteTodo)
	r.Post("/{id}/pomodoro", h.CompletePomodoro)
	return r
}

func (h *Handler) GetLists(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())

	lists, err := h.service.Lists(r.Context(), accountID)
	if err != nil {
		h.fail(w, r, err, "Failed to fetch todo lists")
		return
	}

	out := make([]ListResponse, len(lists))
	for i := range lists {
		out[i] = ListResponseFromEntity(&lists[i])
	}
	response.Raw(w, http.StatusOK, out)
}

func (h *Handler) CreateList(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())

	var req CreateListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Fail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	l, balance, err := h.service.CreateList(r.Context(), accountID, req.Name)
	if err != nil {
		h.fail(w, r, err, "Failed to create todo list")
		return
	}

	resp := ListResponseFromEntity(l)
	resp.Balance = &balance
	response.Raw(w, http.StatusCreated, resp)
}

func (h *Handler) RenameList(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req RenameListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Fail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	l, err := h.service.RenameList(r.Context(), accountID, id, req.Name)
	if err != nil {
		h.fail(w, r, err, "Failed to update todo list")
		return
	}
	response.Raw(w, http.StatusOK, ListResponseFromEntity(l))
}

func (h *Handler) DeleteList(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteList(r.Context(), accountID, id); err != nil {
		h.fail(w, r, err, "Failed to delete todo list")
		return
	}
	response.Raw(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) GetTodos(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())

	var listID *uuid.UUID
	if s := r.URL.Query().Get("listId"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			response.Fail(w, http.StatusBadRequest, "Invalid list id")
			return
		}
		listID = &id
	}

	todos, err := h.service.Todos(r.Context(), accountID, listID)
	if err != nil {
		h.fail(w, r, err, "Failed to fetch todos")
		return
	}

	out := make([]TodoResponse, len(todos))
	for i := range todos {
		out[i] = TodoResponseFromEntity(&todos[i])
	}
	response.Raw(w, http.StatusOK, out)
}

func (h *Handler) CreateTodo(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())

	var req CreateTodoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Fail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	t, balance, err := h.service.CreateTodo(r.Context(), accountID, uuid.MustParse(req.ListID), req.Content)
	if err != nil {
		h.fail(w, r, err, "Failed to create todo")
		return
	}

	resp := TodoResponseFromEntity(t)
	resp.Balance = &balance
	response.Raw(w, http.StatusCreated, resp)
}

func (h *Handler) UpdateTodo(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req UpdateTodoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Fail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	t, err := h.service.UpdateTodo(r.Context(), accountID, id, Patch{Content: req.Content, Completed: req.Completed})
	if err != nil {
		h.fail(w, r, err, "Failed to update todo")
		return
	}
	response.Raw(w, http.StatusOK, TodoResponseFromEntity(t))
}

func (h *Handler) CompletePomodoro(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	t, balance, err := h.service.CompletePomodoro(r.Context(), accountID, id)
	if err != nil {
		h.fail(w, r, err, "Failed to complete Pomodoro session")
		return
	}

	resp := TodoResponseFromEntity(t)
	resp.Balance = &balance
	response.Raw(w, http.StatusOK, resp)
}

func (h *Handler) DeleteTodo(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteTodo(r.Context(), accountID, id); err != nil {
		h.fail(w, r, err, "Failed to delete todo")
		return
	}
	response.Raw(w, http.StatusOK, map[string]bool{"success": true})
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Fail(w, http.StatusBadRequest, "Invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrAccountNotFound):
		response.Fail(w, http.StatusBadRequest, "Insufficient balance")
	case errors.Is(err, ErrListNotFound):
		response.Fail(w, http.StatusNotFound, "Todo list not found")
	case errors.Is(err, ErrTodoNotFound):
		response.Fail(w, http.StatusNotFound, "Todo not found")
	case errors.Is(err, ErrEmptyPatch):
		response.Fail(w, http.StatusBadRequest, "Nothing to update")
	default:
		errorhandler.LogDatabaseError(r.Context(), fallback, err)
		response.Fail(w, http.StatusInternalServerError, fallback)
	}
}
