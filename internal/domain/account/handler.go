package account

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nextday/nextday-api/internal/middleware"
	"github.com/nextday/nextday-api/internal/pkg/errorhandler"
	"github.com/nextday/nextday-api/internal/pkg/response"
	"github.com/nextday/nextday-api/internal/pkg/validator"
)

// multipart overhead allowed on top of the image itself
const formOverhead = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts under /api/account
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.GetProfile)
	r.Patch("/", h.UpdateProfile)
	r.Put("/image", h.UploadImage)
	r.Delete("/image", h.DeleteImage)
	return r
}

// GetProfile handles GET /api/account
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	acc, err := h.service.GetByID(r.Context(), middleware.GetAccountID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, ProfileResponseFromEntity(acc))
}

// UpdateProfile handles PATCH /api/account
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	acc, err := h.service.Rename(r.Context(), middleware.GetAccountID(r.Context()), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, ProfileResponseFromEntity(acc))
}

// UploadImage handles PUT /api/account/image
// Multipart form: image
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxImageSize+formOverhead)
	if err := r.ParseMultipartForm(MaxImageSize); err != nil {
		response.BadRequest(w, "File too large or invalid form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		response.BadRequest(w, "No image provided")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxImageSize+1))
	if err != nil {
		response.BadRequest(w, "Failed to read image")
		return
	}

	acc, err := h.service.SetImage(r.Context(), middleware.GetAccountID(r.Context()), data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, ProfileResponseFromEntity(acc))
}

// DeleteImage handles DELETE /api/account/image
func (h *Handler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveImage(r.Context(), middleware.GetAccountID(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	response.NoContent(w)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrAccountNotFound):
		response.NotFound(w, "Account not found")
	case errors.Is(err, ErrImageTooLarge):
		response.BadRequest(w, "Image exceeds 5 MB")
	case errors.Is(err, ErrInvalidImage):
		response.BadRequest(w, "Please upload an image file")
	case errors.Is(err, ErrStorageDisabled):
		response.Error(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Profile images are disabled")
	default:
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "ACCOUNT_UPDATE_FAILED", "Failed to update account", err)
	}
}
