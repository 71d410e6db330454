package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nextday/nextday-api/internal/pkg/logger"
	"github.com/nextday/nextday-api/internal/pkg/polar"
)

const (
	DefaultCacheTTL = 5 * time.Minute
	providerTimeout = 5 * time.Second
)

// StateSource is the billing provider's customer state lookup
type StateSource interface {
	GetCustomerStateByExternalID(ctx context.Context, externalID string) (*polar.CustomerState, error)
}

// Reader is the single read-through view of subscription state
type Reader struct {
	source StateSource
	cache  Cache
}

// NewReader creates a reader. A nil cache disables caching.
func NewReader(source StateSource, cache Cache) *Reader {
	return &Reader{source: source, cache: cache}
}

// Get returns the account's projection. On provider failure it returns None
// together with the error, and nothing is cached.
func (r *Reader) Get(ctx context.Context, accountID string) (Projection, error) {
	if accountID == "" {
		return None(), nil
	}

	if r.cache != nil {
		p, err := r.cache.Get(ctx, accountID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			logger.FromContext(ctx).Warn().Err(err).Str("account_id", accountID).Msg("subscription cache read failed")
		}
	}

	p, err := r.fetch(ctx, accountID)
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Str("account_id", accountID).Msg("subscription lookup failed")
		return None(), err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, accountID, p); err != nil {
			logger.FromContext(ctx).Warn().Err(err).Str("account_id", accountID).Msg("subscription cache write failed")
		}
	}
	return p, nil
}

func (r *Reader) fetch(ctx context.Context, accountID string) (Projection, error) {
	if r.source == nil {
		return None(), fmt.Errorf("%w: no provider", ErrProviderUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	st, err := r.source.GetCustomerStateByExternalID(ctx, accountID)
	switch {
	case errors.Is(err, polar.ErrNotFound):
		// never purchased
		return None(), nil
	case err != nil:
		return None(), fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return FromCustomerState(st), nil
}

// HasActiveSubscription satisfies middleware.SubscriptionChecker
func (r *Reader) HasActiveSubscription(ctx context.Context, accountID string) (bool, error) {
	p, err := r.Get(ctx, accountID)
	if err != nil {
		return false, err
	}
	return p.HasActiveSubscription, nil
}

// Invalidate drops the cached projection so the next read goes to the provider.
func (r *Reader) Invalidate(ctx context.Context, accountID string) error {
	if r.cache == nil || accountID == "" {
		return nil
	}
	return r.cache.Delete(ctx, accountID)
}
