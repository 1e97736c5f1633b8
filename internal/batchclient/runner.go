package batchclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/pkg/logger"
)

// ErrNoProducts is returned for an empty input file.
var ErrNoProducts = errors.New("no products to submit")

// Run submits one batch, follows it to a terminal state and downloads the export.
func Run(ctx context.Context, config Config) (Stats, error) {
	cfg := config.withDefaults()
	log := logger.Get().Named("batch-submit")
	start := time.Now()

	log.Info(ctx, "starting batch submission",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("file", cfg.File),
		logger.Int("generate", cfg.Generate),
		logger.Int("concurrency", cfg.Concurrency),
		logger.String("export", cfg.Export))

	client := NewClient(cfg.BaseURL, cfg.Timeout)
	if err := client.Health(ctx); err != nil {
		return Stats{}, fmt.Errorf("service health check failed: %w", err)
	}

	items, err := loadItems(cfg)
	if err != nil {
		return Stats{}, err
	}

	job, err := client.Submit(ctx, items, model.BatchOptions{Concurrency: cfg.Concurrency})
	if err != nil {
		return Stats{}, fmt.Errorf("batch submission failed: %w", err)
	}
	log.Info(ctx, "batch accepted", logger.String("job_id", job.ID), logger.Int("items", len(items)))

	job, err = follow(ctx, client, job.ID, cfg.PollInterval, log)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		JobID:  job.ID,
		Status: job.Status,
		Items:  len(items),
		Failed: len(job.Errors),
	}
	for _, r := range job.Results {
		if r.Success {
			stats.Succeeded++
		}
	}

	out, err := saveExport(ctx, client, cfg, job.ID)
	if err != nil {
		return stats, err
	}
	stats.OutFile = out
	stats.Duration = time.Since(start)

	log.Info(ctx, "final statistics",
		logger.String("jobId", stats.JobID),
		logger.String("status", string(stats.Status)),
		logger.Int("items", stats.Items),
		logger.Int("succeeded", stats.Succeeded),
		logger.Int("failed", stats.Failed),
		logger.String("outFile", stats.OutFile),
		logger.Duration("duration", stats.Duration))
	return stats, nil
}

// LoadFile reads a JSON array of competitor products.
func LoadFile(path string) ([]model.CompetitorProduct, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var products []model.CompetitorProduct
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoProducts, path)
	}
	return products, nil
}

func loadItems(cfg Config) ([]model.BatchItem, error) {
	var (
		products []model.CompetitorProduct
		source   string
	)
	if cfg.File != "" {
		p, err := LoadFile(cfg.File)
		if err != nil {
			return nil, err
		}
		products, source = p, filepath.Base(cfg.File)
	} else {
		products = Generate(cfg.Generate, cfg.Seed)
	}

	items := make([]model.BatchItem, len(products))
	for i, p := range products {
		items[i] = model.BatchItem{ItemID: fmt.Sprintf("item-%04d", i+1), Competitor: p}
		if source != "" {
			items[i].FileName = fmt.Sprintf("%s#%d", source, i+1)
		}
	}
	return items, nil
}

// follow polls the job until it reaches a terminal status.
func follow(ctx context.Context, client *Client, id string, every time.Duration, log logger.Logger) (model.BatchJob, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	last := -1
	for {
		job, err := client.Job(ctx, id)
		if err != nil {
			return model.BatchJob{}, fmt.Errorf("poll batch %s: %w", id, err)
		}
		if job.Progress.Processed != last {
			last = job.Progress.Processed
			log.Info(ctx, "batch progress",
				logger.String("status", string(job.Status)),
				logger.Int("processed", job.Progress.Processed),
				logger.Int("total", job.Progress.Total),
				logger.Int64("etaMs", job.Progress.ETA))
		}
		if job.Status.IsTerminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return model.BatchJob{}, fmt.Errorf("context cancelled while following batch: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func saveExport(ctx context.Context, client *Client, cfg Config, id string) (string, error) {
	filename := cfg.Out
	if filename == "" {
		filename = fmt.Sprintf("batch-%s.%s", id, cfg.Export)
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermission)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if err := client.Export(ctx, id, cfg.Export, file); err != nil {
		_ = file.Close()
		return "", fmt.Errorf("export batch %s: %w", id, err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", filename, err)
	}
	return filename, nil
}
