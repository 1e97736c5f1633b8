package batchclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init()
}

type fakeService struct {
	polls     atomic.Int32
	submitted []model.BatchItem
	opts      model.BatchOptions
	submitErr int
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("POST /batches", func(w http.ResponseWriter, r *http.Request) {
		if f.submitErr != 0 {
			w.WriteHeader(f.submitErr)
			_, _ = w.Write([]byte(`{"code":"queue_full","message":"queue is full"}`))
			return
		}
		var body struct {
			Items   []model.BatchItem  `json:"items"`
			Options model.BatchOptions `json:"options"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.submitted, f.opts = body.Items, body.Options
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(model.BatchJob{ID: "job-1", Status: model.JobPending})
	})
	mux.HandleFunc("GET /batches/{id}", func(w http.ResponseWriter, r *http.Request) {
		total := len(f.submitted)
		job := model.BatchJob{ID: r.PathValue("id"), Status: model.JobRunning, Progress: model.Progress{Processed: 1, Total: total}}
		if f.polls.Add(1) >= 2 {
			job.Status = model.JobCompleted
			job.Progress.Processed = total
			for i, it := range f.submitted {
				job.Results = append(job.Results, model.ItemResult{ItemID: it.ItemID, Success: i > 0})
			}
			job.Errors = []model.ItemError{{ItemID: f.submitted[0].ItemID, Kind: "Timeout"}}
		}
		_ = json.NewEncoder(w).Encode(job)
	})
	mux.HandleFunc("GET /batches/{id}/export", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "csv", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("itemId,success\nitem-0001,false\n"))
	})
	return mux
}

func TestGenerate(t *testing.T) {
	a := Generate(20, 42)
	b := Generate(20, 42)
	require.Len(t, a, 20)
	assert.Equal(t, a, b, "same seed gives same products")

	for _, p := range a {
		assert.NotEmpty(t, p.SKU)
		assert.NotEmpty(t, p.Company)
		assert.NotEmpty(t, p.Model)
		require.NotNil(t, p.Specifications)
		assert.NotEmpty(t, p.Specifications.ProductType)
		require.NotNil(t, p.Price)
		assert.GreaterOrEqual(t, *p.Price, 900.0)
		if p.Specifications.ProductType == "Furnace" {
			assert.NotNil(t, p.Specifications.AFUE)
		} else {
			assert.NotNil(t, p.Specifications.Tonnage)
			assert.NotNil(t, p.Specifications.SEER)
		}
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`[{"sku":"A-1","company":"Acme"},{"sku":"B-2"}]`), 0o600))
	products, err := LoadFile(good)
	require.NoError(t, err)
	assert.Len(t, products, 2)
	assert.Equal(t, "Acme", products[0].Company)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`[]`), 0o600))
	_, err = LoadFile(empty)
	assert.ErrorIs(t, err, ErrNoProducts)

	_, err = LoadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	fake := &fakeService{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	input := filepath.Join(t.TempDir(), "competitors.json")
	require.NoError(t, os.WriteFile(input, []byte(`[{"sku":"A-1"},{"sku":"B-2"},{"sku":"C-3"}]`), 0o600))
	out := filepath.Join(t.TempDir(), "reports", "run.csv")

	stats, err := Run(context.Background(), Config{
		BaseURL:      srv.URL,
		File:         input,
		Concurrency:  4,
		Out:          out,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.Equal(t, "job-1", stats.JobID)
	assert.Equal(t, model.JobCompleted, stats.Status)
	assert.Equal(t, 3, stats.Items)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, out, stats.OutFile)

	require.Len(t, fake.submitted, 3)
	assert.Equal(t, "item-0001", fake.submitted[0].ItemID)
	assert.Equal(t, "competitors.json#1", fake.submitted[0].FileName)
	assert.Equal(t, 4, fake.opts.Concurrency)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "item-0001,false")
}

func TestRunGenerated(t *testing.T) {
	fake := &fakeService{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	_, err := Run(context.Background(), Config{
		BaseURL:      srv.URL,
		Generate:     5,
		Seed:         7,
		Out:          filepath.Join(t.TempDir(), "gen.csv"),
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Len(t, fake.submitted, 5)
	assert.Empty(t, fake.submitted[0].FileName)
}

func TestRunErrors(t *testing.T) {
	t.Run("rejected submission", func(t *testing.T) {
		fake := &fakeService{submitErr: http.StatusTooManyRequests}
		srv := httptest.NewServer(fake.handler(t))
		defer srv.Close()

		_, err := Run(context.Background(), Config{BaseURL: srv.URL, Generate: 2})
		require.Error(t, err)

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
		assert.Equal(t, "queue_full", apiErr.Code)
	})

	t.Run("unhealthy service", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := Run(context.Background(), Config{BaseURL: srv.URL})
		assert.ErrorIs(t, err, ErrUnhealthy)
	})
}

func TestDecodeErrorWithoutJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone fishing", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Job(context.Background(), "x")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "bad_gateway", apiErr.Code)
	assert.Equal(t, "gone fishing", apiErr.Message)
}
