// Package cache stores finished match results keyed by the normalized competitor
// record and the catalog version they were resolved against.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/internal/domain/normalize"
)

// Sentinel errors for result caches.
var (
	ErrEncode = errors.New("cache encode failed")
	ErrDecode = errors.New("cache decode failed")
)

// Cache holds standardized results. Implementations return copies, so callers may
// modify what Get returns.
type Cache interface {
	Get(ctx context.Context, key string) (*model.StandardizedMatchResult, bool, error)
	Set(ctx context.Context, key string, r *model.StandardizedMatchResult) error
	Delete(ctx context.Context, key string) error
	Len(ctx context.Context) int64
}

// Key derives a stable cache key. Records that normalize identically share a key.
func Key(c model.CompetitorProduct, catalogVersion string) string {
	var b strings.Builder
	b.WriteString(catalogVersion)
	for _, s := range []string{c.SKU, c.Company, c.Model} {
		b.WriteByte('|')
		b.WriteString(normalize.Normalize(s))
	}
	if sp := c.Specifications; sp != nil {
		for _, f := range []*float64{sp.Tonnage, sp.SEER, sp.AFUE, sp.HSPF} {
			b.WriteByte('|')
			if f != nil {
				b.WriteString(strconv.FormatFloat(*f, 'f', -1, 64))
			}
		}
		b.WriteByte('|')
		b.WriteString(normalize.Compact(sp.Refrigerant))
		b.WriteByte('|')
		b.WriteString(normalize.ProductType(sp.ProductType))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return "match:" + hex.EncodeToString(sum[:])
}

func encode(r *model.StandardizedMatchResult) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Join(ErrEncode, err)
	}
	return data, nil
}

func decode(data []byte) (*model.StandardizedMatchResult, error) {
	var r model.StandardizedMatchResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Join(ErrDecode, err)
	}
	return &r, nil
}
