// Package model contains domain models passed between layers.
package model

// Specifications are the optional numeric and categorical attributes of a competitor product.
type Specifications struct {
	Tonnage     *float64 `json:"tonnage,omitempty" validate:"omitempty,gte=0,lte=100"`
	SEER        *float64 `json:"seer,omitempty" validate:"omitempty,gte=0,lte=100"`
	AFUE        *float64 `json:"afue,omitempty" validate:"omitempty,gte=0,lte=100"`
	HSPF        *float64 `json:"hspf,omitempty" validate:"omitempty,gte=0,lte=100"`
	Refrigerant string   `json:"refrigerant,omitempty" validate:"max=32"`
	ProductType string   `json:"productType,omitempty" validate:"max=64"`
}

// Empty reports whether no specification field is set.
func (s *Specifications) Empty() bool {
	if s == nil {
		return true
	}
	return s.Tonnage == nil && s.SEER == nil && s.AFUE == nil && s.HSPF == nil &&
		s.Refrigerant == "" && s.ProductType == ""
}

// HasNumeric reports whether at least one numeric field is set.
func (s *Specifications) HasNumeric() bool {
	return s != nil && (s.Tonnage != nil || s.SEER != nil || s.AFUE != nil || s.HSPF != nil)
}

// Comparable reports whether any numeric or categorical field can be compared.
func (s *Specifications) Comparable() bool {
	return s.HasNumeric() || (s != nil && s.Refrigerant != "")
}

// CompetitorProduct is the externally sourced record to resolve. It is never mutated.
type CompetitorProduct struct {
	SKU            string          `json:"sku" validate:"max=128"`
	Company        string          `json:"company" validate:"max=128"`
	Model          string          `json:"model,omitempty" validate:"max=128"`
	Description    string          `json:"description,omitempty" validate:"max=4096"`
	Price          *float64        `json:"price,omitempty" validate:"omitempty,gte=0"`
	Specifications *Specifications `json:"specifications,omitempty" validate:"omitempty"`
}

// CatalogProduct is an entry of our own catalog. Read-only to the engine.
type CatalogProduct struct {
	SKU         string   `json:"sku" koanf:"sku" validate:"required,max=128"`
	Model       string   `json:"model" koanf:"model"`
	Brand       string   `json:"brand" koanf:"brand"`
	Type        string   `json:"type" koanf:"type"`
	Description string   `json:"description,omitempty" koanf:"description"`
	Tonnage     *float64 `json:"tonnage,omitempty" koanf:"tonnage"`
	SEER        *float64 `json:"seer,omitempty" koanf:"seer"`
	AFUE        *float64 `json:"afue,omitempty" koanf:"afue"`
	HSPF        *float64 `json:"hspf,omitempty" koanf:"hspf"`
	Refrigerant string   `json:"refrigerant,omitempty" koanf:"refrigerant"`
}

// Float returns a pointer to v. Handy for literals in catalogs and tests.
func Float(v float64) *float64 { return &v }

// Catalog is an immutable view of the catalog. Version changes whenever content does.
type Catalog struct {
	Products []CatalogProduct `json:"products"`
	Version  string           `json:"version"`
}

// CatalogInfo summarizes a catalog without its products.
type CatalogInfo struct {
	Count   int    `json:"count"`
	Version string `json:"version"`
}

// Info summarizes c.
func (c Catalog) Info() CatalogInfo {
	return CatalogInfo{Count: len(c.Products), Version: c.Version}
}
