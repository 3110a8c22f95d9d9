package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// Cache outcome labels, also sent to clients in X-Shot-Cache
const (
	CacheHit       = "hit"
	CacheMiss      = "miss"
	CacheBypass    = "bypass"
	CacheCoalesced = "coalesced"
)

// RenderSuccess labels successful renders; failures use their error type
const RenderSuccess = "success"

// Collector owns every webshot Prometheus metric.
// A nil *Collector is valid and records nothing, which keeps tests and
// metrics-disabled deployments free of nil checks at call sites.
type Collector struct {
	chromePoolSize  prometheus.Gauge
	chromeAvailable prometheus.Gauge

	rendersTotal   *prometheus.CounterVec
	renderDuration prometheus.Histogram
	inflightFlight prometheus.Gauge

	cacheRequests    *prometheus.CounterVec
	cacheErrors      *prometheus.CounterVec
	cacheHitRatio    prometheus.Gauge
	cacheBytesSaved  *prometheus.CounterVec
	cacheCleanupDirs prometheus.Counter

	httpRequests *prometheus.CounterVec

	logger      *zap.Logger
	httpHandler fasthttp.RequestHandler
}

// NewCollector registers metrics with the default Prometheus registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry registers metrics with a custom registry
func NewCollectorWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *Collector {
	c := &Collector{logger: logger}

	c.chromePoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "chrome",
		Name:      "pool_size",
		Help:      "Total number of Chrome instances in the pool",
	})
	c.chromeAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "chrome",
		Name:      "available",
		Help:      "Number of idle Chrome instances",
	})

	c.rendersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "render",
		Name:      "total",
		Help:      "Renders by outcome (success or error type)",
	}, []string{"status"})
	c.renderDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "render",
		Name:      "duration_seconds",
		Help:      "Time spent rendering and capturing pages",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
	})
	c.inflightFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "render",
		Name:      "inflight",
		Help:      "Renders currently in flight after coalescing",
	})

	c.cacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Shot requests by cache outcome",
	}, []string{"result"})
	c.cacheErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "errors_total",
		Help:      "Cache backend failures that degraded to uncached rendering",
	}, []string{"op"})
	c.cacheHitRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "hit_ratio",
		Help:      "Hits divided by hits plus misses since start",
	})
	c.cacheBytesSaved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "compression_bytes_saved_total",
		Help:      "Bytes saved on disk by artifact compression",
	}, []string{"algorithm"})
	c.cacheCleanupDirs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "cleanup_directories_total",
		Help:      "Expired time-bucket directories removed by the cleanup worker",
	})

	c.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by endpoint and status code",
	}, []string{"endpoint", "status"})

	registerer.MustRegister(
		c.chromePoolSize,
		c.chromeAvailable,
		c.rendersTotal,
		c.renderDuration,
		c.inflightFlight,
		c.cacheRequests,
		c.cacheErrors,
		c.cacheHitRatio,
		c.cacheBytesSaved,
		c.cacheCleanupDirs,
		c.httpRequests,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	c.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Info("Prometheus metrics initialized", zap.String("namespace", namespace))
	return c
}

// UpdatePool sets pool size and idle instance gauges
func (c *Collector) UpdatePool(size, available int) {
	if c == nil {
		return
	}
	c.chromePoolSize.Set(float64(size))
	c.chromeAvailable.Set(float64(available))
}

// RecordRender records a render outcome and its duration
func (c *Collector) RecordRender(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.rendersTotal.WithLabelValues(status).Inc()
	c.renderDuration.Observe(d.Seconds())
}

func (c *Collector) IncInflight() {
	if c == nil {
		return
	}
	c.inflightFlight.Inc()
}

func (c *Collector) DecInflight() {
	if c == nil {
		return
	}
	c.inflightFlight.Dec()
}

// RecordCache records the cache outcome of a shot request
func (c *Collector) RecordCache(result string) {
	if c == nil {
		return
	}
	c.cacheRequests.WithLabelValues(result).Inc()
	if result == CacheHit || result == CacheMiss {
		c.updateHitRatio()
	}
}

// RecordCacheError records a failed lookup or store
func (c *Collector) RecordCacheError(op string) {
	if c == nil {
		return
	}
	c.cacheErrors.WithLabelValues(op).Inc()
}

// RecordBytesSaved records bytes saved by compressing an artifact
func (c *Collector) RecordBytesSaved(algorithm string, saved int64) {
	if c == nil || saved <= 0 {
		return
	}
	c.cacheBytesSaved.WithLabelValues(algorithm).Add(float64(saved))
}

// RecordCleanup records directories removed by one cleanup pass
func (c *Collector) RecordCleanup(dirs int) {
	if c == nil || dirs <= 0 {
		return
	}
	c.cacheCleanupDirs.Add(float64(dirs))
}

// RecordHTTPRequest records a served request
func (c *Collector) RecordHTTPRequest(endpoint, status string) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(endpoint, status).Inc()
}

// CacheCount returns the number of requests recorded with the given cache outcome
func (c *Collector) CacheCount(result string) float64 {
	if c == nil {
		return 0
	}
	return c.counterValue(c.cacheRequests.WithLabelValues(result))
}

// RenderCount returns the number of renders recorded with the given status
func (c *Collector) RenderCount(status string) float64 {
	if c == nil {
		return 0
	}
	return c.counterValue(c.rendersTotal.WithLabelValues(status))
}

// CacheErrorCount returns the number of recorded cache failures for op
func (c *Collector) CacheErrorCount(op string) float64 {
	if c == nil {
		return 0
	}
	return c.counterValue(c.cacheErrors.WithLabelValues(op))
}

// HTTPRequestCount returns the number of requests recorded for endpoint and status
func (c *Collector) HTTPRequestCount(endpoint, status string) float64 {
	if c == nil {
		return 0
	}
	return c.counterValue(c.httpRequests.WithLabelValues(endpoint, status))
}

// CleanupCount returns the number of directories removed by the cleanup worker
func (c *Collector) CleanupCount() float64 {
	if c == nil {
		return 0
	}
	return c.counterValue(c.cacheCleanupDirs)
}

func (c *Collector) updateHitRatio() {
	hits := c.counterValue(c.cacheRequests.WithLabelValues(CacheHit))
	misses := c.counterValue(c.cacheRequests.WithLabelValues(CacheMiss))
	if total := hits + misses; total > 0 {
		c.cacheHitRatio.Set(hits / total)
	}
}

func (c *Collector) counterValue(counter prometheus.Counter) float64 {
	metric := &dto.Metric{}
	if err := counter.Write(metric); err != nil {
		c.logger.Warn("Failed to read counter value", zap.Error(err))
		return 0
	}
	return metric.GetCounter().GetValue()
}

// ServeHTTP serves the Prometheus exposition
func (c *Collector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	c.httpHandler(ctx)
}
