package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/skumatch/internal/adapters/mq/queue"
	"github.com/okian/skumatch/internal/adapters/mq/scheduler"
	"github.com/okian/skumatch/internal/adapters/mq/worker"
	"github.com/okian/skumatch/internal/adapters/repository"
	"github.com/okian/skumatch/internal/domain/matcherr"
	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type resolverFunc func(ctx context.Context, c model.CompetitorProduct) (*model.StandardizedMatchResult, error)

func (f resolverFunc) Resolve(ctx context.Context, c model.CompetitorProduct, _ model.Catalog) (*model.StandardizedMatchResult, error) {
	return f(ctx, c)
}

type catalogFunc func() model.Catalog

func (f catalogFunc) Snapshot(context.Context) model.Catalog { return f() }

func instant(_ context.Context, c model.CompetitorProduct) (*model.StandardizedMatchResult, error) {
	return &model.StandardizedMatchResult{
		Competitor: c,
		Match:      &model.MatchCandidate{OurSKU: "OUR-" + c.SKU, Confidence: 0.95, Method: model.MethodExactSKU},
		Processing: model.Processing{Stage: model.StageExact, Method: model.MethodExactSKU, Confidence: 0.95},
	}, nil
}

func store(t *testing.T) *repository.MemoryStore {
	s, err := repository.NewMemoryStore(context.Background(), repository.WithProducts([]model.CatalogProduct{
		{SKU: "LEN-AC-3T-16S", Model: "XC16", Brand: "Lennox", Type: "AC", Tonnage: model.Float(3), SEER: model.Float(16)},
	}))
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return s
}

func items(n int) []model.BatchItem {
	out := make([]model.BatchItem, n)
	for i := range out {
		out[i] = model.BatchItem{
			ItemID:     fmt.Sprintf("item-%d", i),
			FileName:   fmt.Sprintf("sheet-%d.pdf", i),
			Competitor: model.CompetitorProduct{SKU: fmt.Sprintf("CMP-%d", i), Company: "Carrier"},
		}
	}
	return out
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func statusOf(s *scheduler.Scheduler, id string) model.JobStatus {
	j, err := s.Get(id)
	if err != nil {
		return ""
	}
	return j.Status
}

type eventLog struct {
	mu     sync.Mutex
	events []scheduler.Event
}

func (l *eventLog) OnEvent(e scheduler.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types(jobID string) []scheduler.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []scheduler.EventType
	for _, e := range l.events {
		if e.JobID == jobID {
			out = append(out, e.Type)
		}
	}
	return out
}

func TestSubmit(t *testing.T) {
	Convey("Given a started scheduler", t, func() {
		ctx := context.Background()
		events := &eventLog{}
		s := scheduler.New(resolverFunc(instant), store(t),
			scheduler.WithObserver(events),
			scheduler.WithDefaults(model.BatchOptions{Concurrency: 2, TimeoutMs: 1000}))
		s.Start(ctx)
		Reset(func() { _ = s.Shutdown(ctx) })

		Convey("When a batch of three items is submitted", func() {
			job, err := s.Submit(ctx, items(3), model.BatchOptions{})
			So(err, ShouldBeNil)

			Convey("Then it is returned pending with defaults applied", func() {
				So(job.ID, ShouldNotBeBlank)
				So(job.Status, ShouldEqual, model.JobPending)
				So(job.Progress.Total, ShouldEqual, 3)
				So(job.Options.Concurrency, ShouldEqual, 2)
				So(job.Options.TimeoutMs, ShouldEqual, 1000)
				So(job.Options.Skip(), ShouldBeTrue)
			})

			Convey("Then it completes with one result per item", func() {
				So(waitFor(func() bool { return statusOf(s, job.ID) == model.JobCompleted }), ShouldBeTrue)
				done, err := s.Get(job.ID)
				So(err, ShouldBeNil)
				So(done.Results, ShouldHaveLength, 3)
				So(done.Errors, ShouldBeEmpty)
				So(done.Progress.Processed, ShouldEqual, 3)
				So(done.Progress.CurrentItem, ShouldBeBlank)
				So(done.Progress.ETA, ShouldEqual, 0)
				So(done.StartedAt, ShouldNotBeNil)
				So(done.FinishedAt, ShouldNotBeNil)
				for _, r := range done.Results {
					So(r.Success, ShouldBeTrue)
					So(r.Result.MatchedSKU(), ShouldStartWith, "OUR-CMP-")
				}
			})

			Convey("Then observers see the lifecycle in order", func() {
				So(waitFor(func() bool { return len(events.types(job.ID)) == 6 }), ShouldBeTrue)
				got := events.types(job.ID)
				So(got[0], ShouldEqual, scheduler.EventJobQueued)
				So(got[1], ShouldEqual, scheduler.EventJobStarted)
				So(got[2:5], ShouldResemble, []scheduler.EventType{
					scheduler.EventJobProgress, scheduler.EventJobProgress, scheduler.EventJobProgress,
				})
				So(got[5], ShouldEqual, scheduler.EventJobCompleted)
			})

			Convey("Then it is listed and counted", func() {
				So(waitFor(func() bool { return statusOf(s, job.ID) == model.JobCompleted }), ShouldBeTrue)
				So(s.List(), ShouldHaveLength, 1)
				st := s.Stats()
				So(st.Jobs, ShouldEqual, 1)
				So(st.Completed, ShouldEqual, 1)
				So(st.Workers, ShouldEqual, 2)
			})
		})

		Convey("When items have no ids", func() {
			in := items(2)
			in[0].ItemID, in[1].ItemID = "", ""
			job, err := s.Submit(ctx, in, model.BatchOptions{})

			Convey("Then ids are assigned", func() {
				So(err, ShouldBeNil)
				So(job.Items[0].ItemID, ShouldNotBeBlank)
				So(job.Items[0].ItemID, ShouldNotEqual, job.Items[1].ItemID)
			})
		})

		Convey("When the submission is invalid", func() {
			dup := items(2)
			dup[1].ItemID = dup[0].ItemID
			_, errDup := s.Submit(ctx, dup, model.BatchOptions{})
			_, errEmpty := s.Submit(ctx, nil, model.BatchOptions{})
			_, errOpts := s.Submit(ctx, items(1), model.BatchOptions{Concurrency: 1000})

			Convey("Then each is rejected as a validation failure", func() {
				So(matcherr.KindOf(errDup), ShouldEqual, matcherr.ValidationFailed)
				So(matcherr.KindOf(errEmpty), ShouldEqual, matcherr.ValidationFailed)
				So(matcherr.KindOf(errOpts), ShouldEqual, matcherr.ValidationFailed)
				So(s.List(), ShouldBeEmpty)
			})
		})

		Convey("When an unknown job is requested", func() {
			_, errGet := s.Get("nope")
			_, errCancel := s.Cancel("nope")

			Convey("Then ErrJobNotFound is returned", func() {
				So(errors.Is(errGet, scheduler.ErrJobNotFound), ShouldBeTrue)
				So(errors.Is(errCancel, scheduler.ErrJobNotFound), ShouldBeTrue)
				So(errors.Is(s.Delete("nope"), scheduler.ErrJobNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestItemFailures(t *testing.T) {
	Convey("Given a resolver that rejects one competitor", t, func() {
		ctx := context.Background()
		bad := resolverFunc(func(ctx context.Context, c model.CompetitorProduct) (*model.StandardizedMatchResult, error) {
			if c.SKU == "CMP-1" {
				return nil, matcherr.Validation("test", "bad record")
			}
			return instant(ctx, c)
		})
		s := scheduler.New(bad, store(t), scheduler.WithRunnerOptions(worker.WithBackoff(time.Millisecond, time.Millisecond)))
		s.Start(ctx)
		Reset(func() { _ = s.Shutdown(ctx) })

		Convey("When errors are skipped", func() {
			job, err := s.Submit(ctx, items(3), model.BatchOptions{Concurrency: 1})
			So(err, ShouldBeNil)
			So(waitFor(func() bool { return statusOf(s, job.ID) == model.JobCompleted }), ShouldBeTrue)

			Convey("Then the job completes and records the failure", func() {
				done, _ := s.Get(job.ID)
				So(done.Results, ShouldHaveLength, 3)
				So(done.Errors, ShouldHaveLength, 1)
				So(done.Errors[0].ItemID, ShouldEqual, "item-1")
				So(done.Errors[0].Kind, ShouldEqual, string(matcherr.ValidationFailed))
			})
		})

		Convey("When errors are not skipped", func() {
			skip := false
			job, err := s.Submit(ctx, items(3), model.BatchOptions{Concurrency: 1, SkipOnError: &skip})
			So(err, ShouldBeNil)

			Convey("Then the job fails", func() {
				So(waitFor(func() bool { return statusOf(s, job.ID) == model.JobFailed }), ShouldBeTrue)
				done, _ := s.Get(job.ID)
				So(done.Errors, ShouldHaveLength, 1)
				So(done.Progress.Processed, ShouldBeLessThan, 3)
			})
		})
	})

	Convey("Given a resolver that always times out", t, func() {
		ctx := context.Background()
		var calls atomic.Int32
		slow := resolverFunc(func(context.Context, model.CompetitorProduct) (*model.StandardizedMatchResult, error) {
			calls.Add(1)
			return nil, matcherr.TimeoutAfter("test", context.DeadlineExceeded)
		})
		defaultRetries := 2
		s := scheduler.New(slow, store(t),
			scheduler.WithDefaults(model.BatchOptions{RetryAttempts: &defaultRetries}),
			scheduler.WithRunnerOptions(worker.WithBackoff(time.Millisecond, time.Millisecond)))
		s.Start(ctx)
		Reset(func() { _ = s.Shutdown(ctx) })

		Convey("When the batch turns retries off", func() {
			zero := 0
			job, err := s.Submit(ctx, items(1), model.BatchOptions{RetryAttempts: &zero})
			So(err, ShouldBeNil)
			So(job.Options.Retries(), ShouldEqual, 0)

			Convey("Then the item is attempted once", func() {
				So(waitFor(func() bool { return statusOf(s, job.ID) == model.JobCompleted }), ShouldBeTrue)
				done, _ := s.Get(job.ID)
				So(calls.Load(), ShouldEqual, 1)
				So(done.Errors, ShouldHaveLength, 1)
				So(done.Errors[0].Attempts, ShouldEqual, 1)
			})
		})

		Convey("When the batch leaves retries unset", func() {
			job, err := s.Submit(ctx, items(1), model.BatchOptions{})
			So(err, ShouldBeNil)

			Convey("Then the configured default applies", func() {
				So(waitFor(func() bool { return statusOf(s, job.ID) == model.JobCompleted }), ShouldBeTrue)
				So(calls.Load(), ShouldEqual, 3)
			})
		})
	})

	Convey("Given an empty catalog", t, func() {
		ctx := context.Background()
		events := &eventLog{}
		s := scheduler.New(resolverFunc(instant), catalogFunc(func() model.Catalog { return model.Catalog{} }),
			scheduler.WithObserver(events))
		s.Start(ctx)
		Reset(func() { _ = s.Shutdown(ctx) })

		job, err := s.Submit(ctx, items(1), model.BatchOptions{})
		So(err, ShouldBeNil)

		Convey("Then the job fails without running items", func() {
			So(waitFor(func() bool { return statusOf(s, job.ID) == model.JobFailed }), ShouldBeTrue)
			done, _ := s.Get(job.ID)
			So(done.Results, ShouldBeEmpty)
			So(waitFor(func() bool { return len(events.types(job.ID)) == 3 }), ShouldBeTrue)
			events.mu.Lock()
			last := events.events[len(events.events)-1]
			events.mu.Unlock()
			So(last.Type, ShouldEqual, scheduler.EventJobFailed)
			So(last.Error, ShouldContainSubstring, "no catalog")
		})
	})
}

// gate blocks every resolution until released.
type gate struct {
	entered chan string
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func (g *gate) open() { g.once.Do(func() { close(g.release) }) }

func newGate() *gate {
	return &gate{entered: make(chan string, 16), release: make(chan struct{})}
}

func (g *gate) resolve(ctx context.Context, c model.CompetitorProduct) (*model.StandardizedMatchResult, error) {
	g.calls.Add(1)
	g.entered <- c.SKU
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return instant(ctx, c)
}

func TestCancel(t *testing.T) {
	Convey("Given a single-worker scheduler with a blocked job", t, func() {
		ctx := context.Background()
		g := newGate()
		events := &eventLog{}
		s := scheduler.New(resolverFunc(g.resolve), store(t), scheduler.WithWorkers(1), scheduler.WithObserver(events))
		s.Start(ctx)
		Reset(func() {
			g.open()
			_ = s.Shutdown(ctx)
		})

		first, err := s.Submit(ctx, items(3), model.BatchOptions{Concurrency: 1})
		So(err, ShouldBeNil)
		<-g.entered

		Convey("When a pending job is cancelled", func() {
			second, err := s.Submit(ctx, items(2), model.BatchOptions{})
			So(err, ShouldBeNil)
			cancelled, err := s.Cancel(second.ID)
			So(err, ShouldBeNil)
			g.open()

			Convey("Then it never runs", func() {
				So(cancelled.Status, ShouldEqual, model.JobCancelled)
				So(waitFor(func() bool { return statusOf(s, first.ID) == model.JobCompleted }), ShouldBeTrue)
				time.Sleep(50 * time.Millisecond)
				So(g.calls.Load(), ShouldEqual, 3)
				done, _ := s.Get(second.ID)
				So(done.Status, ShouldEqual, model.JobCancelled)
				So(done.StartedAt, ShouldBeNil)
				So(events.types(second.ID), ShouldResemble, []scheduler.EventType{
					scheduler.EventJobQueued, scheduler.EventJobCancelled,
				})
			})

			Convey("Then cancelling again reports it finished", func() {
				_, err := s.Cancel(second.ID)
				So(errors.Is(err, scheduler.ErrJobFinished), ShouldBeTrue)
			})
		})

		Convey("When the running job is cancelled", func() {
			_, err := s.Cancel(first.ID)
			So(err, ShouldBeNil)

			Convey("Then it is not deletable until the in-flight item drains", func() {
				So(errors.Is(s.Delete(first.ID), scheduler.ErrJobActive), ShouldBeTrue)
				g.open()
				So(waitFor(func() bool { return s.Delete(first.ID) == nil }), ShouldBeTrue)
				So(g.calls.Load(), ShouldEqual, 1)
			})

			Convey("Then the in-flight result is kept and no more items start", func() {
				g.open()
				So(waitFor(func() bool {
					j, _ := s.Get(first.ID)
					return j.Progress.Processed == 1
				}), ShouldBeTrue)
				time.Sleep(50 * time.Millisecond)
				done, _ := s.Get(first.ID)
				So(done.Status, ShouldEqual, model.JobCancelled)
				So(done.Results, ShouldHaveLength, 1)
				So(g.calls.Load(), ShouldEqual, 1)
			})
		})

		Convey("When a running job is deleted", func() {
			err := s.Delete(first.ID)
			g.open()

			Convey("Then it is refused", func() {
				So(errors.Is(err, scheduler.ErrJobActive), ShouldBeTrue)
			})
		})
	})
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCleanup(t *testing.T) {
	Convey("Given a scheduler with a one hour TTL", t, func() {
		ctx := context.Background()
		clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		s := scheduler.New(resolverFunc(instant), store(t),
			scheduler.WithClock(clk.Now),
			scheduler.WithTTL(time.Hour),
			scheduler.WithCleanupInterval(time.Hour))
		s.Start(ctx)
		Reset(func() { _ = s.Shutdown(ctx) })

		job, err := s.Submit(ctx, items(1), model.BatchOptions{})
		So(err, ShouldBeNil)
		So(waitFor(func() bool { return statusOf(s, job.ID) == model.JobCompleted }), ShouldBeTrue)

		Convey("When the TTL has not elapsed", func() {
			clk.Advance(30 * time.Minute)

			Convey("Then the job is retained", func() {
				So(s.Cleanup(), ShouldEqual, 0)
				_, err := s.Get(job.ID)
				So(err, ShouldBeNil)
			})
		})

		Convey("When the TTL has elapsed", func() {
			clk.Advance(time.Hour + time.Second)

			Convey("Then the job is removed", func() {
				So(s.Cleanup(), ShouldEqual, 1)
				_, err := s.Get(job.ID)
				So(errors.Is(err, scheduler.ErrJobNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestShutdown(t *testing.T) {
	Convey("Given a scheduler that was never started", t, func() {
		ctx := context.Background()
		s := scheduler.New(resolverFunc(instant), store(t), scheduler.WithQueueCapacity(1))

		Convey("When the queue is full", func() {
			first, err := s.Submit(ctx, items(1), model.BatchOptions{})
			So(err, ShouldBeNil)
			_, err = s.Submit(ctx, items(1), model.BatchOptions{})

			Convey("Then the submission is refused", func() {
				So(errors.Is(err, queue.ErrQueueFull), ShouldBeTrue)
				So(s.List(), ShouldHaveLength, 1)
			})

			Convey("Then shutdown cancels the pending job", func() {
				So(s.Shutdown(ctx), ShouldBeNil)
				So(statusOf(s, first.ID), ShouldEqual, model.JobCancelled)
			})
		})
	})

	Convey("Given a started scheduler with a subscriber", t, func() {
		ctx := context.Background()
		s := scheduler.New(resolverFunc(instant), store(t))
		s.Start(ctx)
		ch, unsubscribe := s.Subscribe()
		defer unsubscribe()

		job, err := s.Submit(ctx, items(1), model.BatchOptions{})
		So(err, ShouldBeNil)

		Convey("When it shuts down after the job completes", func() {
			So(waitFor(func() bool { return statusOf(s, job.ID) == model.JobCompleted }), ShouldBeTrue)
			So(s.Shutdown(ctx), ShouldBeNil)

			Convey("Then the subscriber received the events and its channel is closed", func() {
				var seen []scheduler.EventType
				for e := range ch {
					seen = append(seen, e.Type)
				}
				So(seen, ShouldResemble, []scheduler.EventType{
					scheduler.EventJobQueued, scheduler.EventJobStarted,
					scheduler.EventJobProgress, scheduler.EventJobCompleted,
				})
			})

			Convey("Then new submissions are refused", func() {
				_, err := s.Submit(ctx, items(1), model.BatchOptions{})
				So(errors.Is(err, scheduler.ErrShuttingDown), ShouldBeTrue)
				So(s.Shutdown(ctx), ShouldBeNil)
			})
		})
	})

	Convey("Given a job that outlives the grace period", t, func() {
		ctx := context.Background()
		g := newGate()
		s := scheduler.New(resolverFunc(g.resolve), store(t), scheduler.WithShutdownGrace(50*time.Millisecond))
		s.Start(ctx)

		_, err := s.Submit(ctx, items(1), model.BatchOptions{})
		So(err, ShouldBeNil)
		<-g.entered

		Convey("Then shutdown times out and cancels it", func() {
			err := s.Shutdown(ctx)
			So(err, ShouldNotBeNil)
			So(strings.Contains(err.Error(), "deadline"), ShouldBeTrue)
		})
	})
}
