// Package repository holds the product catalog the matching engine reads.
package repository

import (
	"context"

	"github.com/okian/skumatch/internal/domain/model"
)

// Store provides read access to the catalog and whole-catalog replacement.
type Store interface {
	// Snapshot returns the current catalog. Callers must not modify the slice.
	Snapshot(ctx context.Context) model.Catalog

	// Replace validates and swaps in a new catalog, returning its version.
	Replace(ctx context.Context, products []model.CatalogProduct) (string, error)

	// Get returns the product with the given SKU (normalized comparison).
	// Returns ErrNotFound if the SKU is unknown.
	Get(ctx context.Context, sku string) (model.CatalogProduct, error)

	// Count returns the number of catalog products.
	Count(ctx context.Context) int
}
