package batchclient

import (
	"time"

	"github.com/okian/skumatch/internal/domain/model"
)

// Config holds the settings of one batch-submit run.
type Config struct {
	BaseURL      string        // Base URL of the service
	File         string        // JSON array of competitor products; empty means generate
	Generate     int           // Number of synthetic products when File is empty
	Seed         int64         // Generator seed; zero picks a random one
	Concurrency  int           // Per-batch item concurrency sent with the submission
	Timeout      time.Duration // HTTP request timeout
	Export       string        // Export format: json, csv or xlsx
	Out          string        // Export destination; empty derives one from the job id
	PollInterval time.Duration // Delay between progress polls
}

// Stats summarizes a run.
type Stats struct {
	JobID     string
	Status    model.JobStatus
	Items     int
	Succeeded int
	Failed    int
	OutFile   string
	Duration  time.Duration
}
