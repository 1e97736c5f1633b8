package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/skumatch/internal/domain/matcherr"
	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/pkg/logger"
	"github.com/okian/skumatch/pkg/metrics"
	"github.com/okian/skumatch/pkg/retry"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBackoffBase = 250 * time.Millisecond
	defaultBackoffMax  = 5 * time.Second
	opItem             = "batch.item"
)

// ErrItemFailed stops a job that does not skip failed items.
var ErrItemFailed = errors.New("batch item failed")

// Resolver matches one competitor. *orchestrator.Orchestrator implements it.
type Resolver interface {
	Resolve(ctx context.Context, c model.CompetitorProduct, catalog model.Catalog) (*model.StandardizedMatchResult, error)
}

// Reporter receives item lifecycle notifications. Calls may come from several
// goroutines at once.
type Reporter interface {
	ItemStarted(item model.BatchItem)
	ItemFinished(res model.ItemResult, itemErr *model.ItemError)
}

// Job is the work handed to Runner.Run.
type Job struct {
	Items   []model.BatchItem
	Options model.BatchOptions
	// Catalog is snapshotted once so every item of a job sees the same version.
	Catalog  model.Catalog
	Reporter Reporter
	// Stopped reports a cooperative cancellation. Items already running finish;
	// no new item starts once it returns true.
	Stopped func() bool
}

// Runner executes the items of a job with bounded concurrency, a per-item timeout
// and retries.
type Runner struct {
	resolver    Resolver
	backoffBase time.Duration
	backoffMax  time.Duration
	log         logger.Logger
}

// NewRunner creates a Runner.
func NewRunner(resolver Resolver, opts ...RunnerOption) *Runner {
	r := &Runner{
		resolver:    resolver,
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Get().Named("batch-runner")
	}
	return r
}

// Run processes every item of job. It returns an error wrapping ErrItemFailed when
// an item fails and the job does not skip errors; otherwise failures are reported
// per item and Run returns nil.
func (r *Runner) Run(ctx context.Context, job Job) error {
	opts := job.Options
	stopped := job.Stopped
	if stopped == nil {
		stopped = func() bool { return false }
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Concurrency, 1))

	for _, item := range job.Items {
		if gctx.Err() != nil || stopped() {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil || stopped() {
				return nil
			}
			if job.Reporter != nil {
				job.Reporter.ItemStarted(item)
			}
			res, itemErr := r.runItem(gctx, item, job.Catalog, opts)
			if job.Reporter != nil {
				job.Reporter.ItemFinished(res, itemErr)
			}
			if itemErr != nil && !opts.Skip() {
				return fmt.Errorf("%w: %s: %s", ErrItemFailed, item.ItemID, itemErr.Message)
			}
			return nil
		})
	}
	return g.Wait()
}

// runItem resolves one item, retrying recoverable failures.
func (r *Runner) runItem(ctx context.Context, item model.BatchItem, catalog model.Catalog, opts model.BatchOptions) (model.ItemResult, *model.ItemError) {
	start := time.Now()
	policy := retry.New(
		retry.WithAttempts(opts.Retries()+1),
		retry.WithBackoff(r.backoffBase, r.backoffMax),
		retry.WithRetryable(retryableItem),
		retry.WithOnRetry(func(attempt int, delay time.Duration, err error) {
			metrics.RecordBatchItemRetry()
			r.log.Warn(ctx, "retrying batch item",
				logger.String("item_id", item.ItemID),
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Error(err))
		}),
	)

	var res *model.StandardizedMatchResult
	attempts, err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		out, err := r.resolveWithin(ctx, item.Competitor, catalog, opts.Timeout())
		if err != nil {
			return err
		}
		res = out
		return nil
	})

	elapsed := time.Since(start)
	result := model.ItemResult{
		ItemID:           item.ItemID,
		FileName:         item.FileName,
		ProcessingTimeMs: elapsed.Milliseconds(),
		Attempts:         max(attempts, 1),
	}
	if err != nil {
		kind := matcherr.KindOf(err)
		result.Error = err.Error()
		metrics.RecordBatchItem("failed", float64(elapsed.Milliseconds()))
		return result, &model.ItemError{
			ItemID:   item.ItemID,
			Kind:     string(kind),
			Message:  err.Error(),
			Attempts: result.Attempts,
		}
	}

	result.Success = true
	result.Result = res
	result.Confidence = res.Processing.Confidence
	metrics.RecordBatchItem("succeeded", float64(elapsed.Milliseconds()))
	return result, nil
}

// resolveWithin races the resolution against timeout. The resolver keeps running
// in the background after a timeout but its answer is discarded.
func (r *Runner) resolveWithin(ctx context.Context, c model.CompetitorProduct, catalog model.Catalog, timeout time.Duration) (*model.StandardizedMatchResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type answer struct {
		res *model.StandardizedMatchResult
		err error
	}
	done := make(chan answer, 1)
	go func() {
		res, err := r.resolver.Resolve(ctx, c, catalog)
		done <- answer{res, err}
	}()

	select {
	case a := <-done:
		return a.res, a.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, matcherr.TimeoutAfter(opItem, fmt.Errorf("item exceeded %s", timeout))
		}
		return nil, ctx.Err()
	}
}

// retryableItem retries anything except invalid input and fatal failures.
func retryableItem(err error) bool {
	if matcherr.IsFatal(err) || matcherr.KindOf(err) == matcherr.ValidationFailed {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
