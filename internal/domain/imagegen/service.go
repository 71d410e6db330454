package imagegen

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/nextday/nextday-api/internal/domain/gate"
	"github.com/nextday/nextday-api/internal/pkg/imaging"
	"github.com/nextday/nextday-api/internal/pkg/inference"
	"github.com/nextday/nextday-api/internal/pkg/logger"
	"github.com/nextday/nextday-api/internal/pkg/metrics"
	"github.com/nextday/nextday-api/internal/pkg/storage"
)

const (
	DefaultPrompt = "A beautiful sunset over the mountains"
	ImageSize     = 1024

	// seeds stay below 2^53 so JSON clients read them back exactly
	maxSeed = 1<<53 - 1
)

var (
	ErrGenerationFailed    = errors.New("image generation failed")
	ErrInsufficientBalance = gate.ErrInsufficientBalance
)

// Generator runs text-to-image inference and returns base64 PNG data
type Generator interface {
	GenerateImage(ctx context.Context, r inference.Request) (string, error)
}

// Reserver holds credits for an irreversible action
type Reserver interface {
	Reserve(ctx context.Context, accountID string, action gate.Action, p gate.Params) (*gate.Ticket, error)
}

// Request is one generation request after form parsing
type Request struct {
	Prompt string
	Steps  int
	Seed   *int64
}

// Result is a generated image and the balance after paying for it
type Result struct {
	Image        string
	Seed         int64
	Steps        int
	Cost         int64
	Balance      int64
	URL          string
	ThumbnailURL string
}

type Service struct {
	gate      Reserver
	generator Generator
	store     storage.Storage
	processor *imaging.Processor
	metrics   *metrics.Metrics
	seed      func() int64
}

// NewService creates the image service. store and m may be nil; without a
// store images are returned inline only.
func NewService(g Reserver, gen Generator, store storage.Storage, m *metrics.Metrics) *Service {
	return &Service{
		gate:      g,
		generator: gen,
		store:     store,
		processor: imaging.NewProcessor(imaging.DefaultConfig()),
		metrics:   m,
		seed:      func() int64 { return rand.Int64N(maxSeed) },
	}
}

// Generate holds the cost, runs inference and captures the hold on success.
// Any inference failure releases the hold.
func (s *Service) Generate(ctx context.Context, accountID string, req Request) (*Result, error) {
	if req.Prompt == "" {
		req.Prompt = DefaultPrompt
	}
	steps := gate.ClampSteps(req.Steps)
	seed := s.seed()
	if req.Seed != nil {
		seed = *req.Seed
	}

	log := logger.FromContext(ctx).With().
		Str("account_id", accountID).
		Int("steps", steps).
		Int64("seed", seed).
		Logger()

	ticket, err := s.gate.Reserve(ctx, accountID, gate.ActionGenerateImage, gate.Params{Steps: steps})
	if err != nil {
		return nil, err
	}

	img, err := s.generator.GenerateImage(ctx, inference.Request{
		Prompt: req.Prompt,
		Steps:  steps,
		Seed:   seed,
		Width:  ImageSize,
		Height: ImageSize,
	})
	if err != nil {
		s.metrics.InferenceCall(outcome(err))
		log.Error().Err(err).Str("reservation_id", ticket.ID.String()).Msg("image generation failed")
		// the request context may already be done
		_, _ = ticket.Abort(context.WithoutCancel(ctx), err.Error())
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	s.metrics.InferenceCall("ok")

	balance, err := ticket.Commit(context.WithoutCancel(ctx))
	if err != nil {
		log.Error().Err(err).Str("reservation_id", ticket.ID.String()).Msg("failed to capture image hold")
		balance = ticket.Balance
	}

	res := &Result{
		Image:   img,
		Seed:    seed,
		Steps:   steps,
		Cost:    ticket.Cost,
		Balance: balance,
	}
	if s.store != nil {
		s.persist(ctx, accountID, res)
	}

	log.Info().Int64("cost", ticket.Cost).Int64("balance", balance).Msg("image generated")
	return res, nil
}

// persist uploads the PNG and its thumbnail. Failures leave the URLs empty.
func (s *Service) persist(ctx context.Context, accountID string, res *Result) {
	log := logger.FromContext(ctx)

	raw, err := inference.DecodeImage(res.Image)
	if err != nil {
		log.Warn().Err(err).Msg("generated image is not valid base64")
		return
	}
	v, err := s.processor.Process(raw)
	if err != nil {
		log.Warn().Err(err).Msg("failed to process generated image")
		return
	}

	origKey, thumbKey := imaging.GeneratedPaths(accountID, uuid.NewString())
	if err := s.store.Put(ctx, origKey, v.Original, "image/png"); err != nil {
		log.Warn().Err(err).Str("key", origKey).Msg("failed to store generated image")
		return
	}
	res.URL = s.store.URL(origKey)

	if err := s.store.Put(ctx, thumbKey, v.Thumbnail, "image/jpeg"); err != nil {
		log.Warn().Err(err).Str("key", thumbKey).Msg("failed to store thumbnail")
		return
	}
	res.ThumbnailURL = s.store.URL(thumbKey)
}

func outcome(err error) string {
	switch {
	case errors.Is(err, inference.ErrTimeout):
		return "timeout"
	case errors.Is(err, inference.ErrNetwork):
		return "network"
	case errors.Is(err, inference.ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, inference.ErrNoImage):
		return "no_image"
	default:
		return "upstream"
	}
}
