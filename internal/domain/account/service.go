package account

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nextday/nextday-api/internal/pkg/imaging"
	"github.com/nextday/nextday-api/internal/pkg/jwt"
	"github.com/nextday/nextday-api/internal/pkg/logger"
	"github.com/nextday/nextday-api/internal/pkg/storage"
)

const (
	ensuredCacheSize = 4096
	ensuredCacheTTL  = 10 * time.Minute

	// MaxImageSize is the largest profile image accepted, in bytes.
	MaxImageSize = 5 << 20
	imageSize    = 400
)

// Service mirrors identities and manages the profile fields we own
type Service struct {
	repo    Repository
	store   storage.Storage
	images  *imaging.Processor
	ensured *expirable.LRU[string, struct{}]
	now     func() time.Time
}

// NewService creates account service. store may be nil, which disables profile images.
func NewService(repo Repository, store storage.Storage) *Service {
	return &Service{
		repo:    repo,
		store:   store,
		images:  imaging.NewProcessor(imaging.Config{ThumbWidth: imageSize, ThumbHeight: imageSize, Quality: 90}),
		ensured: expirable.NewLRU[string, struct{}](ensuredCacheSize, nil, ensuredCacheTTL),
		now:     time.Now,
	}
}

// Ensure upserts the account for an authenticated identity.
// Recently ensured ids are skipped.
func (s *Service) Ensure(ctx context.Context, id jwt.Identity) error {
	if id.AccountID == "" {
		return ErrInvalidAccount
	}
	if _, ok := s.ensured.Get(id.AccountID); ok {
		return nil
	}
	if err := s.repo.Upsert(ctx, &Account{ID: id.AccountID, Email: id.Email, Name: id.Name}); err != nil {
		return err
	}
	s.ensured.Add(id.AccountID, struct{}{})
	return nil
}

func (s *Service) GetByID(ctx context.Context, accountID string) (*Account, error) {
	return s.repo.GetByID(ctx, accountID)
}

func (s *Service) Rename(ctx context.Context, accountID, name string) (*Account, error) {
	return s.repo.UpdateName(ctx, accountID, name)
}

// SetImage stores data as the account's profile image, cropped to a square
// JPEG, and removes the image it replaces.
func (s *Service) SetImage(ctx context.Context, accountID string, data []byte) (*Account, error) {
	if s.store == nil {
		return nil, ErrStorageDisabled
	}
	if len(data) > MaxImageSize {
		return nil, ErrImageTooLarge
	}
	if len(data) == 0 {
		return nil, ErrInvalidImage
	}

	variants, err := s.images.Process(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	key := imaging.AvatarPath(accountID, s.now())
	if err := s.store.Put(ctx, key, variants.Thumbnail, "image/jpeg"); err != nil {
		return nil, fmt.Errorf("upload profile image: %w", err)
	}

	url := s.store.URL(key)
	previous, err := s.repo.UpdateImage(ctx, accountID, &url, &key)
	if err != nil {
		s.discard(ctx, key)
		return nil, err
	}
	s.discard(ctx, previous)

	logger.FromContext(ctx).Info().
		Str("account_id", accountID).
		Str("key", key).
		Msg("profile image updated")
	return s.repo.GetByID(ctx, accountID)
}

// RemoveImage clears the profile image
func (s *Service) RemoveImage(ctx context.Context, accountID string) error {
	previous, err := s.repo.UpdateImage(ctx, accountID, nil, nil)
	if err != nil {
		return err
	}
	s.discard(ctx, previous)
	return nil
}

func (s *Service) discard(ctx context.Context, key string) {
	if key == "" || s.store == nil {
		return
	}
	if err := s.store.Delete(ctx, key); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("key", key).Msg("failed to delete profile image")
	}
}
