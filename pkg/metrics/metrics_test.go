package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a custom registry and options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then metrics are registered under the namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.cacheHits.Inc()

				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_namespace_test_subsystem_cache_hits_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetValue(), ShouldEqual, "test")
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When zero-valued options are passed", func() {
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithPrometheusRegistry(prometheus.NewRegistry()),
			)

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "skumatch")
				So(manager.subsystem, ShouldEqual, "engine")
				So(manager.histogramBuckets, ShouldNotBeEmpty)
			})
		})
	})
}

func TestMatchingMetrics(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When a resolution is recorded", func() {
			before := testutil.ToFloat64(globalManager.matchesTotal.WithLabelValues("exact", "exact_sku"))
			RecordMatch("exact", "exact_sku", 0.95)

			Convey("Then the stage and method counter moves", func() {
				after := testutil.ToFloat64(globalManager.matchesTotal.WithLabelValues("exact", "exact_sku"))
				So(after-before, ShouldEqual, 1)
			})
		})

		Convey("When a failed resolution has no method", func() {
			before := testutil.ToFloat64(globalManager.matchesTotal.WithLabelValues("failed", "none"))
			RecordMatch("failed", "", 0)

			Convey("Then it is labelled none", func() {
				So(testutil.ToFloat64(globalManager.matchesTotal.WithLabelValues("failed", "none"))-before, ShouldEqual, 1)
			})
		})

		Convey("When AI tokens are recorded", func() {
			before := testutil.ToFloat64(globalManager.aiTokens)
			RecordAITokens(120)
			RecordAITokens(-5)

			Convey("Then only positive amounts count", func() {
				So(testutil.ToFloat64(globalManager.aiTokens)-before, ShouldEqual, 120)
			})
		})

		Convey("When rate window gauges are updated", func() {
			UpdateRateLimitRemaining(7, 1500)

			Convey("Then both gauges hold the latest values", func() {
				So(testutil.ToFloat64(globalManager.rateLimitRequestsRemain), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.rateLimitTokensRemain), ShouldEqual, 1500)
			})
		})
	})
}

func TestOperationalMetrics(t *testing.T) {
	Convey("Given operational recorders", t, func() {
		Convey("Then none of them panic", func() {
			So(func() {
				RecordMatchLatency(12)
				RecordStageAttempt("fuzzy", "continue", 3)
				RecordValidationFailure()
				RecordCacheHit()
				RecordCacheMiss()
				UpdateCacheSize(10)
				RecordAICall("ok", 800)
				RecordAIRetry()
				RecordRateLimitWait(250)
				RecordResearchRequest("miss")
				UpdateCatalogSize(4)
				RecordCatalogReload()
				RecordBatchJob("completed")
				UpdateBatchJobsActive(1)
				RecordBatchItem("success", 40)
				RecordBatchItemRetry()
				UpdateQueueSize(3)
				UpdateQueueCapacity(100)
				UpdateQueueUtilization(0.03)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				UpdateWorkerCount(2)
				UpdateWorkerActiveCount(1)
				RecordWorkerProcessingLatency(600)
				RecordWorkerError()
				RecordHTTPRequest("/match", "POST", "200")
				RecordHTTPRequestDuration("/match", "POST", "200", 14)
				RecordHTTPThrottled("/match")
				RecordErrorByComponent("ai", "ai_error")
				RecordErrorByEndpoint("/match", "POST", "validation_failed")
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.4)
			}, ShouldNotPanic)
		})

		Convey("Then the custom registry exposes the namespace", func() {
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			So(len(families), ShouldBeGreaterThan, 0)
			for _, f := range families {
				So(strings.HasPrefix(f.GetName(), "skumatch_engine_"), ShouldBeTrue)
			}
		})
	})
}
