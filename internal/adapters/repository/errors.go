package repository

import "errors"

// Sentinel kinds for catalog errors.
var (
	ErrNotFound     = errors.New("catalog product not found")
	ErrEmptyCatalog = errors.New("catalog is empty")
	ErrLoadCatalog  = errors.New("load catalog failed")
)
