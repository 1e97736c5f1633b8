package repository

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/okian/skumatch/internal/domain/model"
)

// catalogFile is the on-disk layout: a top-level "products" list. JSON files load
// through the same parser since JSON is valid YAML.
type catalogFile struct {
	Products []model.CatalogProduct `koanf:"products"`
}

// LoadFile reads a catalog from a YAML or JSON file.
func LoadFile(path string) ([]model.CatalogProduct, error) {
	k := koanf.New("::")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadCatalog, path, err)
	}

	var f catalogFile
	if err := k.UnmarshalWithConf("", &f, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadCatalog, path, err)
	}
	if len(f.Products) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCatalog, path)
	}
	return f.Products, nil
}
