package repository

import (
	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/pkg/logger"
)

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *MemoryStore) {
		if l != nil {
			s.log = l
		}
	}
}

// WithProducts seeds the store.
func WithProducts(products []model.CatalogProduct) Option {
	return func(s *MemoryStore) {
		s.seed = products
	}
}
