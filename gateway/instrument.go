package gateway

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
)

var instrumentOnce sync.Once

var (
	requestsCount *prometheus.CounterVec
	resTime       prometheus.Histogram
	resSize       prometheus.Histogram
	reqSize       prometheus.Histogram
	resTimeSum    prometheus.Summary
)

func registerOrExisting(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return already.ExistingCollector
		}
		panic(err)
	}
	return c
}

// Instrumentation exposes per-route counters and latency histograms for
// the /metrics endpoint. Collectors are registered once per process so
// tests can build the app repeatedly.
func Instrumentation() fiber.Handler {
	instrumentOnce.Do(func() {
		requestsCount = registerOrExisting(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taqwim",
			Subsystem: "request",
			Name:      "requests_count",
			Help:      "Number of requests per each endpoint",
		}, []string{"code", "method", "url"})).(*prometheus.CounterVec)

		resTime = registerOrExisting(prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "taqwim",
			Subsystem: "response",
			Name:      "response_time_hist",
			Help:      "taqwim response duration",
		})).(prometheus.Histogram)

		resSize = registerOrExisting(prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "taqwim",
			Subsystem: "response",
			Name:      "size_histogram",
			Help:      "taqwim response size",
		})).(prometheus.Histogram)

		reqSize = registerOrExisting(prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "taqwim",
			Subsystem: "request",
			Name:      "size_hist",
			Help:      "Request size instrumenter",
		})).(prometheus.Histogram)

		resTimeSum = registerOrExisting(prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace: "taqwim",
			Subsystem: "response",
			Name:      "latency_summary",
			Help:      "Computes responses latency",
		})).(prometheus.Summary)
	})

	return func(c *fiber.Ctx) error {
		if c.Path() == "/metrics" {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()
		duration := float64(time.Since(start)) * 1e-6 // to millisecond

		routePath := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			routePath = r.Path
		}
		status := strconv.Itoa(c.Response().StatusCode())

		requestsCount.WithLabelValues(status, c.Method(), routePath).Inc()
		resTime.Observe(duration)
		resSize.Observe(float64(len(c.Response().Body())))
		reqSize.Observe(float64(len(c.Body())))
		resTimeSum.Observe(duration)

		return err
	}
}
