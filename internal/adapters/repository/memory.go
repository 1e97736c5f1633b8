package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/internal/domain/normalize"
	"github.com/okian/skumatch/pkg/logger"
	"github.com/okian/skumatch/pkg/metrics"
)

// emptyVersion is reported before any catalog is loaded.
const emptyVersion = "empty"

// MemoryStore keeps the catalog in memory. Replacements swap the whole snapshot,
// so readers never observe a partially written catalog.
type MemoryStore struct {
	mu    sync.RWMutex
	snap  model.Catalog
	index map[string]int
	seed  []model.CatalogProduct
	log   logger.Logger
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore. Seed products given through WithProducts
// are validated like any replacement.
func NewMemoryStore(ctx context.Context, opts ...Option) (*MemoryStore, error) {
	s := &MemoryStore{
		snap:  model.Catalog{Version: emptyVersion},
		index: map[string]int{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("catalog")
	}
	if len(s.seed) > 0 {
		if _, err := s.Replace(ctx, s.seed); err != nil {
			return nil, err
		}
		s.seed = nil
	}
	return s, nil
}

// Snapshot implements Store.
func (s *MemoryStore) Snapshot(_ context.Context) model.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Replace implements Store.
func (s *MemoryStore) Replace(ctx context.Context, products []model.CatalogProduct) (string, error) {
	if len(products) == 0 {
		return "", ErrEmptyCatalog
	}
	if err := model.ValidateCatalog(products); err != nil {
		return "", err
	}

	owned := make([]model.CatalogProduct, len(products))
	copy(owned, products)
	index := make(map[string]int, len(owned))
	for i := range owned {
		index[normalize.Normalize(owned[i].SKU)] = i
	}
	version := Version(owned)

	s.mu.Lock()
	s.snap = model.Catalog{Products: owned, Version: version}
	s.index = index
	s.mu.Unlock()

	metrics.UpdateCatalogSize(len(owned))
	metrics.RecordCatalogReload()
	s.log.Info(ctx, "catalog replaced", logger.Int("products", len(owned)), logger.String("version", version))
	return version, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, sku string) (model.CatalogProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[normalize.Normalize(sku)]
	if !ok {
		return model.CatalogProduct{}, ErrNotFound
	}
	return s.snap.Products[i], nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snap.Products)
}

// Version fingerprints a catalog by content. Equal catalogs get equal versions.
func Version(products []model.CatalogProduct) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for i := range products {
		// encoding a plain struct of strings and float pointers cannot fail
		_ = enc.Encode(&products[i])
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
