package imagegen

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nextday/nextday-api/internal/middleware"
	"github.com/nextday/nextday-api/internal/pkg/logger"
	"github.com/nextday/nextday-api/internal/pkg/response"
	"github.com/nextday/nextday-api/internal/pkg/validator"
)

const maxFormMemory = 1 << 20

// GenerateForm is the form body of POST /api/img-gen
type GenerateForm struct {
	Prompt string `json:"prompt" validate:"max=2000"`
	Steps  int    `json:"steps"`
}

// GenerateResponse mirrors what the web client reads after generation
type GenerateResponse struct {
	Image        string `json:"image"`
	UserID       string `json:"userId"`
	Seed         int64  `json:"seed"`
	Steps        int    `json:"steps"`
	Cost         int64  `json:"cost"`
	Balance      int64  `json:"balance"`
	URL          string `json:"url,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts POST /api/img-gen. sessionMiddleware only attaches the caller;
// the handler writes its own unauthorized body.
func (h *Handler) Routes(sessionMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(sessionMiddleware)
	r.Post("/", h.Generate)
	return r
}

// Generate handles POST /api/img-gen
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == "" {
		response.PlainError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			response.PlainError(w, http.StatusBadRequest, "Invalid form data")
			return
		}
	} else if err := r.ParseForm(); err != nil {
		response.PlainError(w, http.StatusBadRequest, "Invalid form data")
		return
	}

	form := GenerateForm{Prompt: strings.TrimSpace(r.FormValue("prompt"))}
	form.Steps = leadingInt(r.FormValue("steps"))
	if errs := validator.Validate(&form); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	res, err := h.service.Generate(r.Context(), accountID, Request{Prompt: form.Prompt, Steps: form.Steps})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			response.PlainError(w, http.StatusBadRequest, "Insufficient balance")
			return
		}
		if !errors.Is(err, ErrGenerationFailed) {
			logger.FromContext(r.Context()).Error().Err(err).Str("account_id", accountID).Msg("Image generation error")
		}
		response.PlainError(w, http.StatusInternalServerError, "Failed to generate image")
		return
	}

	response.Raw(w, http.StatusOK, GenerateResponse{
		Image:        "data:image/png;charset=utf-8;base64," + res.Image,
		UserID:       accountID,
		Seed:         res.Seed,
		Steps:        res.Steps,
		Cost:         res.Cost,
		Balance:      res.Balance,
		URL:          res.URL,
		ThumbnailURL: res.ThumbnailURL,
	})
}

// leadingInt reads an optionally signed integer prefix, so "6abc" is 6 and
// "4.5" is 4. Input without leading digits is 0, which selects the default.
func leadingInt(s string) int {
	s = strings.TrimLeft(s, " \t\n\r")
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	n := 0
	for i := 0; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		if n < 1e6 {
			n = n*10 + int(s[i]-'0')
		}
	}
	if neg {
		return -n
	}
	return n
}
