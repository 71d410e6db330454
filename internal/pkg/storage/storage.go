package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("object not found")

// Storage is an object store for generated images
type Storage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	URL(key string) string
}
