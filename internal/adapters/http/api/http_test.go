package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/skumatch/internal/adapters/http/api"
	"github.com/okian/skumatch/internal/adapters/mq/queue"
	"github.com/okian/skumatch/internal/adapters/mq/scheduler"
	"github.com/okian/skumatch/internal/adapters/ratelimit"
	"github.com/okian/skumatch/internal/domain/matcherr"
	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type fakeDeps struct {
	mu        sync.Mutex
	matchErr  error
	submitErr error
	cancelErr error
	deleteErr error
	jobs      map[string]model.BatchJob
	submitted []model.BatchItem
	deleted   []string
	products  []model.CatalogProduct
	events    chan scheduler.Event
}

func newFakeDeps() *fakeDeps {
	return &fakeDeps{jobs: map[string]model.BatchJob{}, events: make(chan scheduler.Event, 16)}
}

func (f *fakeDeps) Match(_ context.Context, c model.CompetitorProduct) (*model.StandardizedMatchResult, error) {
	if f.matchErr != nil {
		return nil, f.matchErr
	}
	return &model.StandardizedMatchResult{
		RequestID:  "req-1",
		Competitor: c,
		Match:      &model.MatchCandidate{OurSKU: "OUR-" + c.SKU, Confidence: 0.95},
		Processing: model.Processing{Stage: model.StageExact, Confidence: 0.95},
	}, nil
}

func (f *fakeDeps) SubmitBatch(_ context.Context, items []model.BatchItem, opts model.BatchOptions) (model.BatchJob, error) {
	if f.submitErr != nil {
		return model.BatchJob{}, f.submitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = items
	job := model.BatchJob{
		ID:        "job-new",
		Items:     items,
		Options:   opts,
		Status:    model.JobPending,
		Progress:  model.Progress{Total: len(items)},
		CreatedAt: time.Now(),
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeDeps) Batch(_ context.Context, id string) (model.BatchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return model.BatchJob{}, scheduler.ErrJobNotFound
	}
	return j, nil
}

func (f *fakeDeps) Batches(_ context.Context) []model.BatchJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.BatchJob, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out
}

func (f *fakeDeps) CancelBatch(_ context.Context, id string) (model.BatchJob, error) {
	if f.cancelErr != nil {
		return model.BatchJob{}, f.cancelErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return model.BatchJob{}, scheduler.ErrJobNotFound
	}
	j.Status = model.JobCancelled
	f.jobs[id] = j
	return j, nil
}

func (f *fakeDeps) DeleteBatch(_ context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeDeps) SubscribeBatches() (<-chan scheduler.Event, func()) {
	return f.events, func() {}
}

func (f *fakeDeps) Catalog(_ context.Context) model.CatalogInfo {
	return model.CatalogInfo{Count: len(f.products), Version: "v1"}
}

func (f *fakeDeps) ReplaceCatalog(_ context.Context, products []model.CatalogProduct) (model.CatalogInfo, error) {
	if len(products) == 0 {
		return model.CatalogInfo{}, errors.New("catalog is empty")
	}
	f.products = products
	return model.CatalogInfo{Count: len(products), Version: "v2"}, nil
}

func (f *fakeDeps) RateLimit() ratelimit.Status {
	return ratelimit.Status{RequestsRemaining: 59, TokensRemaining: 89000}
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func newMux(deps api.Dependencies, opts ...api.Option) *http.ServeMux {
	mux := http.NewServeMux()
	server := api.NewServer(deps, &mockStatsProvider{stats: map[string]interface{}{"started": true}}, opts...)
	server.Register(context.Background(), mux)
	return mux
}

func do(mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func errorCode(w *httptest.ResponseRecorder) string {
	var body struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return body.Code
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := newFakeDeps()
		mux := newMux(deps)

		Convey("Health, stats and rate limit endpoints answer", func() {
			So(do(mux, http.MethodGet, "/healthz", "").Code, ShouldEqual, http.StatusOK)

			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)

			w = do(mux, http.MethodGet, "/ratelimit", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "89000")
		})

		Convey("Metrics are exposed in Prometheus format", func() {
			do(mux, http.MethodGet, "/healthz", "")
			w := do(mux, http.MethodGet, "/metrics", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "http_requests_total")
		})

		Convey("Wrong methods are rejected by the mux", func() {
			So(do(mux, http.MethodGet, "/match", "").Code, ShouldEqual, http.StatusMethodNotAllowed)
			So(do(mux, http.MethodGet, "/unknown", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Registering on a nil mux panics", func() {
			server := api.NewServer(deps, nil)
			So(func() { server.Register(context.Background(), nil) }, ShouldPanic)
		})
	})
}

func TestMatch(t *testing.T) {
	Convey("Given the match endpoint", t, func() {
		deps := newFakeDeps()
		mux := newMux(deps)

		Convey("A competitor resolves to a standardized result", func() {
			w := do(mux, http.MethodPost, "/match", `{"sku":"ABC-1","company":"Acme"}`)
			So(w.Code, ShouldEqual, http.StatusOK)

			var res model.StandardizedMatchResult
			So(json.Unmarshal(w.Body.Bytes(), &res), ShouldBeNil)
			So(res.MatchedSKU(), ShouldEqual, "OUR-ABC-1")
			So(res.Competitor.Company, ShouldEqual, "Acme")
		})

		Convey("Malformed JSON is a bad request", func() {
			w := do(mux, http.MethodPost, "/match", `{"sku":`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(w), ShouldEqual, "bad_request")

			w = do(mux, http.MethodPost, "/match", ``)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Errors map to status codes by kind", func() {
			cases := []struct {
				err    error
				status int
				code   string
			}{
				{matcherr.Validation("match", "no identity"), http.StatusBadRequest, "validation_failed"},
				{matcherr.AIFailure("ai", http.StatusUnauthorized, errors.New("bad key")), http.StatusBadGateway, "ai_error"},
				{matcherr.TimeoutAfter("match", errors.New("slow")), http.StatusGatewayTimeout, "timeout"},
				{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
				{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
			}
			for _, tc := range cases {
				deps.matchErr = tc.err
				w := do(mux, http.MethodPost, "/match", `{"sku":"X"}`)
				So(w.Code, ShouldEqual, tc.status)
				So(errorCode(w), ShouldEqual, tc.code)
			}
		})
	})
}

func TestBatches(t *testing.T) {
	Convey("Given the batch endpoints", t, func() {
		deps := newFakeDeps()
		mux := newMux(deps)

		Convey("Submitting returns 202 with a summary", func() {
			w := do(mux, http.MethodPost, "/batches",
				`{"items":[{"itemId":"a","competitor":{"sku":"S1"}},{"competitor":{"sku":"S2"}}],"options":{"concurrency":2}}`)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(w.Header().Get("Location"), ShouldEqual, "/batches/job-new")
			So(w.Body.String(), ShouldNotContainSubstring, `"items"`)

			var summary struct {
				ID       string         `json:"id"`
				Status   string         `json:"status"`
				Progress model.Progress `json:"progress"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &summary), ShouldBeNil)
			So(summary.ID, ShouldEqual, "job-new")
			So(summary.Status, ShouldEqual, "pending")
			So(summary.Progress.Total, ShouldEqual, 2)
			So(deps.submitted, ShouldHaveLength, 2)
		})

		Convey("A full queue is reported as 429", func() {
			deps.submitErr = queue.ErrQueueFull
			w := do(mux, http.MethodPost, "/batches", `{"items":[{"competitor":{"sku":"S1"}}]}`)
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			So(errorCode(w), ShouldEqual, "queue_full")
		})

		Convey("A shutting down scheduler is reported as 503", func() {
			deps.submitErr = scheduler.ErrShuttingDown
			w := do(mux, http.MethodPost, "/batches", `{"items":[{"competitor":{"sku":"S1"}}]}`)
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("Jobs are listed and fetched by id", func() {
			deps.jobs["j1"] = model.BatchJob{ID: "j1", Status: model.JobCompleted, Results: []model.ItemResult{{ItemID: "a", Success: true}}}

			w := do(mux, http.MethodGet, "/batches", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"id":"j1"`)

			w = do(mux, http.MethodGet, "/batches/j1", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"results"`)

			w = do(mux, http.MethodGet, "/batches/missing", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(errorCode(w), ShouldEqual, "not_found")
		})

		Convey("Deleting an active job cancels it", func() {
			deps.jobs["j2"] = model.BatchJob{ID: "j2", Status: model.JobRunning}
			w := do(mux, http.MethodDelete, "/batches/j2", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"status":"cancelled"`)
			So(deps.deleted, ShouldBeEmpty)
		})

		Convey("Deleting a finished job removes it", func() {
			deps.jobs["j3"] = model.BatchJob{ID: "j3", Status: model.JobCompleted}
			deps.cancelErr = scheduler.ErrJobFinished
			w := do(mux, http.MethodDelete, "/batches/j3", "")
			So(w.Code, ShouldEqual, http.StatusNoContent)
			So(deps.deleted, ShouldResemble, []string{"j3"})
		})

		Convey("A draining job cannot be deleted yet", func() {
			deps.cancelErr = scheduler.ErrJobFinished
			deps.deleteErr = scheduler.ErrJobActive
			w := do(mux, http.MethodDelete, "/batches/j4", "")
			So(w.Code, ShouldEqual, http.StatusConflict)
		})
	})
}

func TestExport(t *testing.T) {
	Convey("Given a finished job", t, func() {
		deps := newFakeDeps()
		deps.jobs["j1"] = model.BatchJob{
			ID:     "j1",
			Status: model.JobCompleted,
			Results: []model.ItemResult{
				{ItemID: "a", FileName: "sheet-a.pdf", Success: true, ProcessingTimeMs: 12, Confidence: 0.9},
				{ItemID: "b", Success: false, ProcessingTimeMs: 7, Error: "timeout"},
			},
		}
		mux := newMux(deps)

		Convey("CSV export carries one row per item", func() {
			w := do(mux, http.MethodGet, "/batches/j1/export?format=csv", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldStartWith, "text/csv")
			So(w.Header().Get("Content-Disposition"), ShouldContainSubstring, "batch-j1.csv")
			lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
			So(lines, ShouldHaveLength, 3)
			So(lines[1], ShouldStartWith, "sheet-a.pdf,true")
		})

		Convey("JSON is the default format", func() {
			w := do(mux, http.MethodGet, "/batches/j1/export", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldStartWith, "application/json")
		})

		Convey("XLSX export is served as a spreadsheet", func() {
			w := do(mux, http.MethodGet, "/batches/j1/export?format=xlsx", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.Len(), ShouldBeGreaterThan, 0)
			So(w.Body.String()[:2], ShouldEqual, "PK")
		})

		Convey("Unknown formats are rejected", func() {
			w := do(mux, http.MethodGet, "/batches/j1/export?format=pdf", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Unknown jobs are not found", func() {
			w := do(mux, http.MethodGet, "/batches/nope/export?format=csv", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestBatchEvents(t *testing.T) {
	Convey("Given a running job with queued events", t, func() {
		deps := newFakeDeps()
		deps.jobs["j1"] = model.BatchJob{ID: "j1", Status: model.JobRunning, Progress: model.Progress{Total: 2}}
		deps.events <- scheduler.Event{Type: scheduler.EventJobProgress, JobID: "other"}
		deps.events <- scheduler.Event{Type: scheduler.EventJobProgress, JobID: "j1", Progress: model.Progress{Processed: 1, Total: 2}}
		deps.events <- scheduler.Event{Type: scheduler.EventJobCompleted, JobID: "j1", Status: model.JobCompleted}
		srv := httptest.NewServer(newMux(deps))
		defer srv.Close()

		Convey("The stream sends a snapshot then this job's events until completion", func() {
			resp, err := http.Get(srv.URL + "/batches/j1/events")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.Header.Get("Content-Type"), ShouldEqual, "text/event-stream")

			var names []string
			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
					names = append(names, name)
				}
			}
			So(names, ShouldResemble, []string{"snapshot", "job_progress", "job_completed"})
		})
	})

	Convey("Given a running job whose terminal event never reaches the subscriber", t, func() {
		deps := newFakeDeps()
		deps.jobs["j2"] = model.BatchJob{ID: "j2", Status: model.JobRunning, Progress: model.Progress{Total: 1}}
		srv := httptest.NewServer(newMux(deps, api.WithHeartbeat(10*time.Millisecond)))
		defer srv.Close()

		Convey("The heartbeat notices completion and ends the stream", func() {
			resp, err := http.Get(srv.URL + "/batches/j2/events")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			deps.mu.Lock()
			deps.jobs["j2"] = model.BatchJob{ID: "j2", Status: model.JobCompleted, Progress: model.Progress{Processed: 1, Total: 1}}
			deps.mu.Unlock()

			var names, data []string
			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
					names = append(names, name)
				}
				if d, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
					data = append(data, d)
				}
			}
			So(names, ShouldResemble, []string{"snapshot", "snapshot"})
			So(data[1], ShouldContainSubstring, `"status":"completed"`)
		})
	})

	Convey("Given a finished job", t, func() {
		deps := newFakeDeps()
		deps.jobs["done"] = model.BatchJob{ID: "done", Status: model.JobCompleted}
		mux := newMux(deps)

		Convey("Only the snapshot is sent", func() {
			w := do(mux, http.MethodGet, "/batches/done/events", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(strings.Count(w.Body.String(), "event: "), ShouldEqual, 1)
		})

		Convey("Unknown jobs are not found", func() {
			w := do(mux, http.MethodGet, "/batches/nope/events", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestCatalog(t *testing.T) {
	Convey("Given the catalog endpoints", t, func() {
		deps := newFakeDeps()
		mux := newMux(deps)

		Convey("The catalog is replaced from a JSON array", func() {
			w := do(mux, http.MethodPut, "/catalog", `[{"sku":"A1","model":"M1"},{"sku":"A2"}]`)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"count":2`)

			w = do(mux, http.MethodGet, "/catalog", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"count":2`)
		})

		Convey("A non-array body is a bad request", func() {
			w := do(mux, http.MethodPut, "/catalog", `{"sku":"A1"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestThrottle(t *testing.T) {
	Convey("Given a server throttled to a burst of one", t, func() {
		deps := newFakeDeps()
		mux := newMux(deps, api.WithThrottle(0.001, 1))

		Convey("The second request is rejected", func() {
			So(do(mux, http.MethodGet, "/catalog", "").Code, ShouldEqual, http.StatusOK)
			w := do(mux, http.MethodGet, "/catalog", "")
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			So(errorCode(w), ShouldEqual, "throttled")
			So(w.Header().Get("Retry-After"), ShouldEqual, "1")
		})

		Convey("Health checks are never throttled", func() {
			for range 3 {
				So(do(mux, http.MethodGet, "/healthz", "").Code, ShouldEqual, http.StatusOK)
			}
		})
	})
}
