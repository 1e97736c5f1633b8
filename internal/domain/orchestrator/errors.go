package orchestrator

import "errors"

// ErrNoCatalog is returned when a resolution is requested against an empty catalog.
var ErrNoCatalog = errors.New("no catalog loaded")
