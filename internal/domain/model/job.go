package model

import "time"

// JobStatus is the lifecycle state of a batch job.
type JobStatus string

// Job statuses.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// CanTransition enforces pending -> running -> completed|failed, plus cancellation
// from pending or running.
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobPending:
		return to == JobRunning || to == JobCancelled
	case JobRunning:
		return to == JobCompleted || to == JobFailed || to == JobCancelled
	default:
		return false
	}
}

// BatchOptions controls how a batch is executed.
type BatchOptions struct {
	Concurrency   int   `json:"concurrency" validate:"gte=0,lte=256"`
	TimeoutMs     int   `json:"timeoutMs" validate:"gte=0"`
	RetryAttempts *int  `json:"retryAttempts,omitempty" validate:"omitempty,gte=0,lte=10"`
	SkipOnError   *bool `json:"skipOnError,omitempty"`
}

// WithDefaults fills zero values from def. Pointer fields are only filled when
// absent, so an explicit zero retry count is kept.
func (o BatchOptions) WithDefaults(def BatchOptions) BatchOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = def.Concurrency
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.TimeoutMs <= 0 {
		o.TimeoutMs = def.TimeoutMs
	}
	if o.RetryAttempts == nil {
		n := def.Retries()
		o.RetryAttempts = &n
	}
	if o.SkipOnError == nil {
		skip := true
		if def.SkipOnError != nil {
			skip = *def.SkipOnError
		}
		o.SkipOnError = &skip
	}
	return o
}

// Retries reports the effective retry count; absent means none.
func (o BatchOptions) Retries() int {
	if o.RetryAttempts == nil || *o.RetryAttempts < 0 {
		return 0
	}
	return *o.RetryAttempts
}

// Skip reports the effective skipOnError value.
func (o BatchOptions) Skip() bool {
	return o.SkipOnError == nil || *o.SkipOnError
}

// Timeout returns the per-item timeout; zero means none.
func (o BatchOptions) Timeout() time.Duration {
	return time.Duration(o.TimeoutMs) * time.Millisecond
}

// BatchItem is one competitor in a batch, correlated by ItemID.
type BatchItem struct {
	ItemID     string            `json:"itemId"`
	FileName   string            `json:"fileName,omitempty"`
	Competitor CompetitorProduct `json:"competitor"`
}

// Progress tracks a running job. Processed never exceeds Total.
type Progress struct {
	Processed   int    `json:"processed"`
	Total       int    `json:"total"`
	CurrentItem string `json:"currentItem,omitempty"`
	// ETA in milliseconds, estimated from the completion rate so far.
	ETA int64 `json:"eta"`
}

// ItemResult is the outcome of one batch item.
type ItemResult struct {
	ItemID           string                   `json:"itemId"`
	FileName         string                   `json:"fileName,omitempty"`
	Success          bool                     `json:"success"`
	ProcessingTimeMs int64                    `json:"processingTimeMs"`
	Confidence       float64                  `json:"confidence"`
	Attempts         int                      `json:"attempts"`
	Error            string                   `json:"error,omitempty"`
	Result           *StandardizedMatchResult `json:"result,omitempty"`
}

// ItemError records a per-item failure.
type ItemError struct {
	ItemID   string `json:"itemId"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}

// BatchJob is a snapshot of a scheduled batch.
type BatchJob struct {
	ID         string       `json:"id"`
	Items      []BatchItem  `json:"items,omitempty"`
	Options    BatchOptions `json:"options"`
	Status     JobStatus    `json:"status"`
	Progress   Progress     `json:"progress"`
	Results    []ItemResult `json:"results"`
	Errors     []ItemError  `json:"errors"`
	CreatedAt  time.Time    `json:"createdAt"`
	StartedAt  *time.Time   `json:"startedAt,omitempty"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
}
