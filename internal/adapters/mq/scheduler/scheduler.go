// Package scheduler owns batch jobs: it accepts submissions, queues them for the
// worker pool, tracks progress and publishes lifecycle events.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/skumatch/internal/adapters/mq/queue"
	"github.com/okian/skumatch/internal/adapters/mq/worker"
	"github.com/okian/skumatch/internal/domain/matcherr"
	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/pkg/logger"
	"github.com/okian/skumatch/pkg/metrics"
)

// Default scheduler configuration constants.
const (
	defaultWorkers       = 2
	defaultQueueCapacity = 1000
	defaultTTL           = time.Hour
	defaultGrace         = 10 * time.Second
	minCleanupInterval   = time.Second

	opSubmit = "scheduler.submit"
)

// CatalogSource provides the catalog snapshot a job runs against.
type CatalogSource interface {
	Snapshot(ctx context.Context) model.Catalog
}

// Stats summarizes the scheduler.
type Stats struct {
	Jobs          int `json:"jobs"`
	Pending       int `json:"pending"`
	Running       int `json:"running"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	Cancelled     int `json:"cancelled"`
	QueueLength   int `json:"queueLength"`
	Workers       int `json:"workers"`
	ActiveWorkers int `json:"activeWorkers"`
}

// job is the live record behind a model.BatchJob snapshot.
type job struct {
	mu  sync.Mutex
	rec model.BatchJob
	// active is true while a worker is running the job's items.
	active bool
	// ready is closed once job_queued has been emitted.
	ready chan struct{}
}

func (j *job) snapshot() model.BatchJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := j.rec
	out.Items = append([]model.BatchItem(nil), j.rec.Items...)
	out.Results = append([]model.ItemResult{}, j.rec.Results...)
	out.Errors = append([]model.ItemError{}, j.rec.Errors...)
	return out
}

func (j *job) cancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rec.Status == model.JobCancelled
}

// Scheduler runs batch jobs on a worker pool.
type Scheduler struct {
	mu   sync.RWMutex
	jobs map[string]*job

	queue   *queue.InMemoryQueue
	pool    *worker.Pool
	runner  *worker.Runner
	catalog CatalogSource
	running atomic.Int64

	workers         int
	queueCapacity   int
	defaults        model.BatchOptions
	ttl             time.Duration
	cleanupInterval time.Duration
	grace           time.Duration
	runnerOpts      []worker.RunnerOption
	observers       []Observer

	subsMu     sync.Mutex
	subs       map[int]chan Event
	nextSub    int
	subsClosed bool

	started  atomic.Bool
	closed   atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	loops    sync.WaitGroup

	now func() time.Time
	log logger.Logger
}

// New creates a Scheduler. Call Start before submitting jobs.
func New(resolver worker.Resolver, catalog CatalogSource, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:          make(map[string]*job),
		catalog:       catalog,
		workers:       defaultWorkers,
		queueCapacity: defaultQueueCapacity,
		ttl:           defaultTTL,
		grace:         defaultGrace,
		subs:          make(map[int]chan Event),
		stop:          make(chan struct{}),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("scheduler")
	}
	if s.cleanupInterval == 0 {
		s.cleanupInterval = max(s.ttl/4, minCleanupInterval)
	}

	s.runner = worker.NewRunner(resolver, append([]worker.RunnerOption{worker.WithRunnerLogger(s.log.Named("runner"))}, s.runnerOpts...)...)
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueCapacity))
	s.pool = worker.NewPool(s.workers, s.queue, worker.HandlerFunc(s.runJob))
	return s
}

// Start launches the workers and the cleanup loop.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.pool.Start(ctx)

	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				if n := s.Cleanup(); n > 0 {
					s.log.Debug(ctx, "expired jobs removed", logger.Int("count", n))
				}
			}
		}
	}()
	s.log.Info(ctx, "scheduler started", logger.Int("workers", s.workers), logger.Int("queue_capacity", s.queueCapacity))
}

// Submit validates and queues a batch. Items without an id get one.
func (s *Scheduler) Submit(ctx context.Context, items []model.BatchItem, opts model.BatchOptions) (model.BatchJob, error) {
	if s.closed.Load() {
		return model.BatchJob{}, ErrShuttingDown
	}
	if len(items) == 0 {
		return model.BatchJob{}, matcherr.Validation(opSubmit, "batch has no items")
	}
	if err := model.ValidateOptions(opts); err != nil {
		return model.BatchJob{}, err
	}

	owned := make([]model.BatchItem, len(items))
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if item.ItemID == "" {
			item.ItemID = uuid.NewString()
		}
		if _, dup := seen[item.ItemID]; dup {
			return model.BatchJob{}, matcherr.Validation(opSubmit, "duplicate item id %q", item.ItemID)
		}
		seen[item.ItemID] = struct{}{}
		owned[i] = item
	}

	j := &job{ready: make(chan struct{}), rec: model.BatchJob{
		ID:        uuid.NewString(),
		Items:     owned,
		Options:   opts.WithDefaults(s.defaults),
		Status:    model.JobPending,
		Progress:  model.Progress{Total: len(owned)},
		Results:   []model.ItemResult{},
		Errors:    []model.ItemError{},
		CreatedAt: s.now(),
	}}
	snap := j.snapshot()

	s.mu.Lock()
	s.jobs[j.rec.ID] = j
	s.mu.Unlock()

	if err := s.queue.Enqueue(ctx, j.rec.ID); err != nil {
		s.mu.Lock()
		delete(s.jobs, j.rec.ID)
		s.mu.Unlock()
		return model.BatchJob{}, fmt.Errorf("submit batch: %w", err)
	}

	metrics.RecordBatchJob(string(model.JobPending))
	s.log.Info(ctx, "batch queued", logger.String("job_id", snap.ID), logger.Int("items", len(owned)))
	s.emit(Event{Type: EventJobQueued, JobID: snap.ID, Status: snap.Status, Progress: snap.Progress})
	close(j.ready)
	return snap, nil
}

// Get returns a snapshot of a job.
func (s *Scheduler) Get(id string) (model.BatchJob, error) {
	j := s.lookup(id)
	if j == nil {
		return model.BatchJob{}, ErrJobNotFound
	}
	return j.snapshot(), nil
}

// List returns snapshots of every retained job, oldest first.
func (s *Scheduler) List() []model.BatchJob {
	s.mu.RLock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.RUnlock()

	out := make([]model.BatchJob, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.snapshot())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

// Cancel cancels a pending or running job. A pending job never starts; a running job
// finishes the items already in flight and starts no more.
func (s *Scheduler) Cancel(id string) (model.BatchJob, error) {
	j := s.lookup(id)
	if j == nil {
		return model.BatchJob{}, ErrJobNotFound
	}

	j.mu.Lock()
	if !j.rec.Status.CanTransition(model.JobCancelled) {
		j.mu.Unlock()
		return model.BatchJob{}, ErrJobFinished
	}
	wasRunning := j.rec.Status == model.JobRunning
	j.rec.Status = model.JobCancelled
	now := s.now()
	j.rec.FinishedAt = &now
	j.mu.Unlock()

	metrics.RecordBatchJob(string(model.JobCancelled))
	snap := j.snapshot()
	s.log.Info(context.Background(), "batch cancelled", logger.String("job_id", id), logger.Bool("was_running", wasRunning))
	s.emit(Event{Type: EventJobCancelled, JobID: id, Status: snap.Status, Progress: snap.Progress})
	return snap, nil
}

// Delete removes a finished job.
func (s *Scheduler) Delete(id string) error {
	j := s.lookup(id)
	if j == nil {
		return ErrJobNotFound
	}
	j.mu.Lock()
	busy := !j.rec.Status.IsTerminal() || j.active
	j.mu.Unlock()
	if busy {
		return ErrJobActive
	}

	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
	return nil
}

// Cleanup removes finished jobs older than the TTL and returns how many were removed.
func (s *Scheduler) Cleanup() int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, j := range s.jobs {
		j.mu.Lock()
		expired := j.rec.Status.IsTerminal() && !j.active && j.rec.FinishedAt != nil && !j.rec.FinishedAt.After(cutoff)
		j.mu.Unlock()
		if expired {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// Stats reports job counts and worker usage.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		QueueLength:   s.queue.Len(context.Background()),
		Workers:       s.pool.Size(),
		ActiveWorkers: s.pool.Active(),
	}
	for _, j := range s.List() {
		st.Jobs++
		switch j.Status {
		case model.JobPending:
			st.Pending++
		case model.JobRunning:
			st.Running++
		case model.JobCompleted:
			st.Completed++
		case model.JobFailed:
			st.Failed++
		case model.JobCancelled:
			st.Cancelled++
		}
	}
	return st
}

// Shutdown cancels pending jobs, stops accepting new ones and waits up to the grace
// period (or ctx, whichever ends first) for running jobs.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.stopOnce.Do(func() { close(s.stop) })

	for _, snap := range s.List() {
		if snap.Status == model.JobPending {
			_, _ = s.Cancel(snap.ID)
		}
	}

	var err error
	if s.started.Load() {
		graceCtx, cancel := context.WithTimeout(ctx, s.grace)
		defer cancel()
		err = s.pool.Shutdown(graceCtx)
	} else {
		_ = s.queue.Close()
	}
	s.loops.Wait()
	s.closeSubscribers()

	if err != nil {
		s.log.Warn(ctx, "scheduler shutdown timed out", logger.Error(err))
		return err
	}
	s.log.Info(ctx, "scheduler stopped")
	return nil
}

func (s *Scheduler) lookup(id string) *job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

// runJob is the worker pool handler.
func (s *Scheduler) runJob(ctx context.Context, id string) error {
	j := s.lookup(id)
	if j == nil {
		return nil
	}
	select {
	case <-j.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	j.mu.Lock()
	if j.rec.Status != model.JobPending {
		// cancelled while queued
		j.mu.Unlock()
		return nil
	}
	j.rec.Status = model.JobRunning
	j.active = true
	started := s.now()
	j.rec.StartedAt = &started
	items := j.rec.Items
	opts := j.rec.Options
	progress := j.rec.Progress
	j.mu.Unlock()

	metrics.RecordBatchJob(string(model.JobRunning))
	metrics.UpdateBatchJobsActive(int(s.running.Add(1)))
	defer func() { metrics.UpdateBatchJobsActive(int(s.running.Add(-1))) }()
	s.emit(Event{Type: EventJobStarted, JobID: id, Status: model.JobRunning, Progress: progress})

	catalog := s.catalog.Snapshot(ctx)
	var err error
	if len(catalog.Products) == 0 {
		err = fmt.Errorf("run batch: %w", ErrNoCatalog)
	} else {
		err = s.runner.Run(ctx, worker.Job{
			Items:    items,
			Options:  opts,
			Catalog:  catalog,
			Reporter: &reporter{s: s, j: j, started: started},
			Stopped:  j.cancelled,
		})
	}
	s.finish(ctx, j, err)
	return err
}

func (s *Scheduler) finish(ctx context.Context, j *job, err error) {
	j.mu.Lock()
	j.active = false
	j.rec.Progress.CurrentItem = ""
	j.rec.Progress.ETA = 0
	if j.rec.Status == model.JobCancelled {
		// cancelled while running; results of drained items are kept
		j.mu.Unlock()
		s.log.Info(ctx, "cancelled batch drained", logger.String("job_id", j.rec.ID))
		return
	}

	status, evType := model.JobCompleted, EventJobCompleted
	var msg string
	if err != nil {
		status, evType = model.JobFailed, EventJobFailed
		msg = err.Error()
	}
	j.rec.Status = status
	now := s.now()
	j.rec.FinishedAt = &now
	id, progress := j.rec.ID, j.rec.Progress
	failures := len(j.rec.Errors)
	j.mu.Unlock()

	metrics.RecordBatchJob(string(status))
	s.log.Info(ctx, "batch finished",
		logger.String("job_id", id),
		logger.String("status", string(status)),
		logger.Int("processed", progress.Processed),
		logger.Int("failed_items", failures))
	s.emit(Event{Type: evType, JobID: id, Status: status, Progress: progress, Error: msg})
}

// reporter updates a job's progress as items complete.
type reporter struct {
	s       *Scheduler
	j       *job
	started time.Time
}

func (r *reporter) ItemStarted(item model.BatchItem) {
	r.j.mu.Lock()
	defer r.j.mu.Unlock()
	r.j.rec.Progress.CurrentItem = item.ItemID
}

func (r *reporter) ItemFinished(res model.ItemResult, itemErr *model.ItemError) {
	r.j.mu.Lock()
	r.j.rec.Results = append(r.j.rec.Results, res)
	if itemErr != nil {
		r.j.rec.Errors = append(r.j.rec.Errors, *itemErr)
	}
	p := &r.j.rec.Progress
	if p.Processed < p.Total {
		p.Processed++
	}
	elapsed := r.s.now().Sub(r.started)
	if p.Processed > 0 {
		perItem := elapsed / time.Duration(p.Processed)
		p.ETA = (perItem * time.Duration(p.Total-p.Processed)).Milliseconds()
	}
	id, status, progress := r.j.rec.ID, r.j.rec.Status, *p
	r.j.mu.Unlock()

	item := res
	r.s.emit(Event{Type: EventJobProgress, JobID: id, Status: status, Progress: progress, Item: &item})
}
