package scheduler

import "errors"

// Sentinel kinds for scheduler errors.
var (
	ErrJobNotFound  = errors.New("batch job not found")
	ErrJobFinished  = errors.New("batch job already finished")
	ErrJobActive    = errors.New("batch job is still active")
	ErrShuttingDown = errors.New("scheduler is shutting down")
	ErrNoCatalog    = errors.New("no catalog loaded")
)
