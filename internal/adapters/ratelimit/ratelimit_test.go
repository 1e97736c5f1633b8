package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/skumatch/internal/adapters/ratelimit"
	"github.com/okian/skumatch/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestWindowAccounting(t *testing.T) {
	Convey("Given a limiter with a controllable clock", t, func() {
		clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
		l := ratelimit.New(
			ratelimit.WithRequestsPerMinute(2),
			ratelimit.WithTokensPerMinute(1000),
			ratelimit.WithClock(clock.Now),
		)

		Convey("When two requests are recorded", func() {
			l.RecordRequest(300)
			l.RecordRequest(200)

			Convey("Then the request cap is reached", func() {
				So(l.CanMakeRequest(10), ShouldBeFalse)
				st := l.Status()
				So(st.RequestsRemaining, ShouldEqual, 0)
				So(st.TokensRemaining, ShouldEqual, 500)
				So(st.ResetIn, ShouldEqual, time.Minute)
			})

			Convey("Then entries expire after the window", func() {
				clock.Advance(time.Minute)
				So(l.CanMakeRequest(10), ShouldBeTrue)
				So(l.Status().RequestsUsed, ShouldEqual, 0)
			})
		})

		Convey("When the token cap would be exceeded", func() {
			l.RecordRequest(900)

			Convey("Then a large call is refused but a small one fits", func() {
				So(l.CanMakeRequest(200), ShouldBeFalse)
				So(l.CanMakeRequest(100), ShouldBeTrue)
			})
		})

		Convey("When a single call is larger than the token cap", func() {
			Convey("Then it is admitted on an empty window only", func() {
				So(l.CanMakeRequest(5000), ShouldBeTrue)
				l.RecordRequest(1)
				So(l.CanMakeRequest(5000), ShouldBeFalse)
			})
		})

		Convey("When a reservation is settled with real usage", func() {
			settle, err := l.WaitIfNeeded(context.Background(), 800)
			So(err, ShouldBeNil)
			st := l.Status()
			So(st.TokensUsed, ShouldEqual, 800)
			So(st.RequestsPending, ShouldEqual, 1)
			settle(120)
			settle(999)

			Convey("Then the reservation is replaced instead of duplicated", func() {
				st := l.Status()
				So(st.RequestsUsed, ShouldEqual, 1)
				So(st.RequestsPending, ShouldEqual, 0)
				So(st.TokensUsed, ShouldEqual, 120)
			})
		})

		Convey("When reservations settle out of order", func() {
			first, err := l.WaitIfNeeded(context.Background(), 100)
			So(err, ShouldBeNil)
			clock.Advance(30 * time.Second)
			second, err := l.WaitIfNeeded(context.Background(), 100)
			So(err, ShouldBeNil)

			second(600)
			clock.Advance(31 * time.Second)

			Convey("Then each call's usage expires with its own reservation", func() {
				st := l.Status()
				So(st.RequestsUsed, ShouldEqual, 1)
				So(st.RequestsPending, ShouldEqual, 0)
				So(st.TokensUsed, ShouldEqual, 600)

				first(50)
				So(l.Status().TokensUsed, ShouldEqual, 600)
			})
		})
	})
}

func TestWaitIfNeeded(t *testing.T) {
	Convey("Given a limiter allowing 3 requests per short window", t, func() {
		window := 300 * time.Millisecond
		l := ratelimit.New(
			ratelimit.WithRequestsPerMinute(3),
			ratelimit.WithTokensPerMinute(100000),
			ratelimit.WithWindow(window),
		)
		ctx := context.Background()

		Convey("When 4 calls arrive at once", func() {
			start := time.Now()
			for range 3 {
				_, err := l.WaitIfNeeded(ctx, 10)
				So(err, ShouldBeNil)
			}
			fast := time.Since(start)
			_, err := l.WaitIfNeeded(ctx, 10)
			So(err, ShouldBeNil)
			total := time.Since(start)

			Convey("Then the first three pass and the fourth is delayed, not rejected", func() {
				So(fast, ShouldBeLessThan, 100*time.Millisecond)
				So(total, ShouldBeGreaterThanOrEqualTo, window-20*time.Millisecond)
				So(total, ShouldBeLessThan, 3*window)
			})
		})

		Convey("When callers wait concurrently", func() {
			var wg sync.WaitGroup
			errs := make(chan error, 6)
			start := time.Now()
			for range 6 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := l.WaitIfNeeded(ctx, 10)
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)

			Convey("Then all of them proceed within two windows", func() {
				for err := range errs {
					So(err, ShouldBeNil)
				}
				So(time.Since(start), ShouldBeGreaterThanOrEqualTo, window-20*time.Millisecond)
				So(time.Since(start), ShouldBeLessThan, 3*window)
			})
		})

		Convey("When the context ends while waiting", func() {
			for range 3 {
				_, err := l.WaitIfNeeded(ctx, 10)
				So(err, ShouldBeNil)
			}
			short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			settle, err := l.WaitIfNeeded(short, 10)

			Convey("Then the wait is aborted with the context error", func() {
				So(settle, ShouldBeNil)
				So(errors.Is(err, ratelimit.ErrWaitAborted), ShouldBeTrue)
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
			})
		})
	})
}
