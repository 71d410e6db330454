package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"

	"github.com/nextday/nextday-api/internal/domain/ledger"
	"github.com/nextday/nextday-api/internal/pkg/logger"
	"github.com/nextday/nextday-api/internal/pkg/metrics"
	"github.com/nextday/nextday-api/internal/pkg/polar"
)

const (
	ProviderPolar = "polar"

	defaultListLimit = 50
	maxListLimit     = 200
)

// Provider is the billing provider API used by the ingress and checkout
type Provider interface {
	GetProduct(ctx context.Context, id string) (*polar.Product, error)
	ListProducts(ctx context.Context) ([]polar.Product, error)
	CreateCheckout(ctx context.Context, p polar.CheckoutParams) (*polar.Checkout, error)
	CreateCustomerSession(ctx context.Context, externalCustomerID string) (*polar.CustomerSession, error)
}

// Crediter grants purchased credits
type Crediter interface {
	Credit(ctx context.Context, accountID string, amount int64, meta ledger.Meta) (ledger.Result, error)
}

// Invalidator drops cached subscription state
type Invalidator interface {
	Invalidate(ctx context.Context, accountID string) error
}

// Config holds webhook verification settings
type Config struct {
	WebhookSecret string
	Tolerance     time.Duration
}

type Service struct {
	events    EventStore
	provider  Provider
	ledger    Crediter
	subs      Invalidator
	guard     Guard
	metrics   *metrics.Metrics
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// NewService creates the billing service. subs, guard and m may be nil.
func NewService(events EventStore, provider Provider, credits Crediter, subs Invalidator, guard Guard, m *metrics.Metrics, cfg Config) *Service {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = polar.DefaultTolerance
	}
	return &Service{
		events:    events,
		provider:  provider,
		ledger:    credits,
		subs:      subs,
		guard:     guard,
		metrics:   m,
		secret:    cfg.WebhookSecret,
		tolerance: cfg.Tolerance,
		now:       time.Now,
	}
}

// Ingest verifies, records and applies one webhook delivery. A returned error
// means the provider should retry; unprocessable events are stored as failed
// and acknowledged.
func (s *Service) Ingest(ctx context.Context, provider string, h http.Header, body []byte) (Outcome, error) {
	if provider != ProviderPolar {
		return "", ErrUnknownProvider
	}

	eventID, err := polar.VerifyWebhook(s.secret, h, body, s.tolerance, s.now())
	if err != nil {
		s.metrics.WebhookEvent(provider, "unknown", "rejected")
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	ev, err := polar.ParseEvent(eventID, body)
	if err != nil {
		s.metrics.WebhookEvent(provider, "unknown", "rejected")
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	log := logger.FromContext(ctx).With().
		Str("provider", provider).
		Str("event_id", ev.ID).
		Str("event_type", ev.Type).
		Logger()
	ctx = logger.WithContext(ctx, &log)

	guardKey := provider + ":" + ev.ID
	leased := true
	if s.guard != nil {
		busy, err := s.guard.CheckAndMark(ctx, guardKey)
		if err != nil {
			log.Warn().Err(err).Msg("webhook guard unavailable")
		} else if busy {
			leased = false
		}
	}

	rec, inserted, err := s.events.Record(ctx, &WebhookEvent{
		Provider:  provider,
		EventID:   ev.ID,
		EventType: ev.Type,
		Payload:   types.JSONText(body),
	})
	if err != nil {
		if leased {
			s.forget(ctx, guardKey)
		}
		return "", err
	}
	if !inserted && rec.Status.Settled() {
		s.metrics.WebhookEvent(provider, ev.Type, string(OutcomeDuplicate))
		log.Info().Str("status", string(rec.Status)).Msg("duplicate webhook delivery")
		return OutcomeDuplicate, nil
	}
	if !leased {
		s.metrics.WebhookEvent(provider, ev.Type, "in_flight")
		log.Info().Msg("webhook delivery in flight, provider will retry")
		return "", ErrInFlight
	}

	_, outcome, err := s.settle(ctx, rec, ev)
	if err != nil {
		s.forget(ctx, guardKey)
		return "", err
	}
	return outcome, nil
}

// Replay runs a stored delivery through the dispatcher again.
// Order credits carry an idempotency key, so replaying a processed order is a no-op.
func (s *Service) Replay(ctx context.Context, id uuid.UUID) (*WebhookEvent, error) {
	rec, err := s.events.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	ev, err := polar.ParseEvent(rec.EventID, rec.Payload)
	if err != nil {
		return s.events.MarkStatus(ctx, rec.ID, StatusFailed, err.Error())
	}

	log := logger.FromContext(ctx).With().
		Str("provider", rec.Provider).
		Str("event_id", rec.EventID).
		Str("event_type", rec.EventType).
		Bool("replay", true).
		Logger()
	ctx = logger.WithContext(ctx, &log)

	updated, _, err := s.settle(ctx, rec, ev)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// List returns recorded deliveries, optionally filtered by status
func (s *Service) List(ctx context.Context, status Status, limit, offset int) ([]WebhookEvent, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.events.List(ctx, status, limit, offset)
}

// settle dispatches the event and stores the resulting status.
func (s *Service) settle(ctx context.Context, rec *WebhookEvent, ev *polar.Event) (*WebhookEvent, Outcome, error) {
	log := logger.FromContext(ctx)

	status, err := s.dispatch(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnprocessable):
		log.Error().Err(err).Msg("webhook processing failed")
		status = StatusFailed
	default:
		log.Error().Err(err).Msg("webhook processing error, provider will retry")
		s.metrics.WebhookEvent(rec.Provider, ev.Type, "error")
		if _, markErr := s.events.MarkStatus(ctx, rec.ID, StatusReceived, err.Error()); markErr != nil {
			log.Error().Err(markErr).Msg("failed to record webhook error")
		}
		return nil, "", err
	}

	lastError := ""
	if err != nil {
		lastError = err.Error()
	}
	updated, markErr := s.events.MarkStatus(ctx, rec.ID, status, lastError)
	if markErr != nil {
		return nil, "", markErr
	}

	outcome := Outcome(status)
	s.metrics.WebhookEvent(rec.Provider, ev.Type, string(outcome))
	return updated, outcome, nil
}

func (s *Service) dispatch(ctx context.Context, ev *polar.Event) (Status, error) {
	log := logger.FromContext(ctx)

	switch ev.Type {
	case polar.EventOrderCreated:
		return s.creditOrder(ctx, ev)

	case polar.EventSubscriptionCreated,
		polar.EventSubscriptionUpdated,
		polar.EventSubscriptionActive,
		polar.EventSubscriptionCanceled,
		polar.EventSubscriptionRevoked:
		sub, err := ev.Subscription()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnprocessable, err)
		}
		accountID := ""
		if sub.Customer != nil {
			accountID = sub.Customer.ExternalID
		}
		log.Info().
			Str("subscription_id", sub.ID).
			Str("status", sub.Status).
			Str("account_id", accountID).
			Msg("subscription changed")
		if accountID != "" && s.subs != nil {
			if err := s.subs.Invalidate(ctx, accountID); err != nil {
				log.Warn().Err(err).Msg("failed to invalidate subscription cache")
			}
		}
		return StatusProcessed, nil

	case polar.EventCheckoutCreated, polar.EventCheckoutUpdated:
		log.Info().Msg("checkout event received")
		return StatusIgnored, nil

	default:
		log.Info().Msg("unhandled webhook event type")
		return StatusIgnored, nil
	}
}

func (s *Service) creditOrder(ctx context.Context, ev *polar.Event) (Status, error) {
	order, err := ev.Order()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnprocessable, err)
	}

	accountID := order.Customer.ExternalID
	if accountID == "" {
		return "", fmt.Errorf("%w: %w: order %s", ErrUnprocessable, ErrUnresolvedAccount, order.ID)
	}
	if order.ProductID == "" {
		return "", fmt.Errorf("%w: order %s has no product", ErrUnprocessable, order.ID)
	}

	product, err := s.provider.GetProduct(ctx, order.ProductID)
	switch {
	case errors.Is(err, polar.ErrNotFound):
		return "", fmt.Errorf("%w: product %s not found", ErrUnprocessable, order.ProductID)
	case err != nil:
		return "", fmt.Errorf("fetch product %s: %w", order.ProductID, err)
	}

	credits, err := ParseCredits(product.Metadata)
	if err != nil {
		return "", fmt.Errorf("%w: product %s: %w", ErrUnprocessable, product.ID, err)
	}

	res, err := s.ledger.Credit(ctx, accountID, credits, ledger.Meta{
		Source:         ledger.SourcePurchase,
		Description:    "Purchased " + product.Name,
		IdempotencyKey: "polar:order:" + order.ID,
		ReferenceID:    order.ID,
	})
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ledger.ErrIdempotencyConflict):
		return "", fmt.Errorf("%w: %w: account %s", ErrUnprocessable, err, accountID)
	case err != nil:
		return "", fmt.Errorf("credit order %s: %w", order.ID, err)
	}

	logger.FromContext(ctx).Info().
		Str("order_id", order.ID).
		Str("account_id", accountID).
		Int64("credits", credits).
		Int64("balance", res.Balance).
		Bool("replayed", res.Replayed).
		Msg("credits granted")
	return StatusProcessed, nil
}

func (s *Service) forget(ctx context.Context, key string) {
	if s.guard == nil {
		return
	}
	if err := s.guard.Delete(ctx, key); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("failed to clear webhook guard")
	}
}

// Checkout creates a hosted checkout session
func (s *Service) Checkout(ctx context.Context, p polar.CheckoutParams) (*polar.Checkout, error) {
	if s.provider == nil {
		return nil, ErrNotConfigured
	}
	return s.provider.CreateCheckout(ctx, p)
}

// Portal creates a customer portal session for the account
func (s *Service) Portal(ctx context.Context, accountID string) (*polar.CustomerSession, error) {
	if s.provider == nil {
		return nil, ErrNotConfigured
	}
	return s.provider.CreateCustomerSession(ctx, accountID)
}

// Catalog lists products grouped for the pricing page
func (s *Service) Catalog(ctx context.Context) (Catalog, error) {
	if s.provider == nil {
		return Catalog{}, ErrNotConfigured
	}
	products, err := s.provider.ListProducts(ctx)
	if err != nil {
		return Catalog{}, err
	}
	return BuildCatalog(products), nil
}
