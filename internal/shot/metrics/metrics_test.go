package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	return NewCollectorWithRegistry("webshot", registry, zap.NewNop()), registry
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, g.Write(m))
	return m.GetGauge().GetValue()
}

func TestCollector_CacheCounters(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordCache(CacheHit)
	c.RecordCache(CacheHit)
	c.RecordCache(CacheHit)
	c.RecordCache(CacheMiss)
	c.RecordCache(CacheCoalesced)
	c.RecordCache(CacheBypass)

	assert.Equal(t, 3.0, c.CacheCount(CacheHit))
	assert.Equal(t, 1.0, c.CacheCount(CacheMiss))
	assert.Equal(t, 1.0, c.CacheCount(CacheCoalesced))
	assert.Equal(t, 1.0, c.CacheCount(CacheBypass))
	assert.InDelta(t, 0.75, gaugeValue(t, c.cacheHitRatio), 0.0001)
}

func TestCollector_CacheErrors(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordCacheError("lookup")
	c.RecordCacheError("lookup")
	c.RecordCacheError("store")

	assert.Equal(t, 2.0, c.CacheErrorCount("lookup"))
	assert.Equal(t, 1.0, c.CacheErrorCount("store"))
}

func TestCollector_PoolAndInflight(t *testing.T) {
	c, _ := newTestCollector(t)

	c.UpdatePool(4, 3)
	assert.Equal(t, 4.0, gaugeValue(t, c.chromePoolSize))
	assert.Equal(t, 3.0, gaugeValue(t, c.chromeAvailable))

	c.IncInflight()
	c.IncInflight()
	c.DecInflight()
	assert.Equal(t, 1.0, gaugeValue(t, c.inflightFlight))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.UpdatePool(1, 1)
		c.RecordRender(RenderSuccess, time.Second)
		c.RecordCache(CacheHit)
		c.RecordCacheError("lookup")
		c.RecordBytesSaved("snappy", 10)
		c.RecordCleanup(2)
		c.RecordHTTPRequest("/shot", "200")
		c.IncInflight()
		c.DecInflight()
	})
	assert.Zero(t, c.CacheCount(CacheHit))
}

func TestCollector_HTTPEndpoint(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordRender(RenderSuccess, 1500*time.Millisecond)
	c.RecordRender("hard_timeout", 30*time.Second)
	c.RecordHTTPRequest("/shot", "200")
	c.RecordBytesSaved("lz4", 2048)
	c.RecordCleanup(3)

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/metrics")
	ctx.Request.Header.SetMethod(fasthttp.MethodGet)

	c.ServeHTTP(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	body := string(ctx.Response.Body())
	assert.Contains(t, body, `webshot_render_total{status="success"} 1`)
	assert.Contains(t, body, `webshot_render_total{status="hard_timeout"} 1`)
	assert.Contains(t, body, "webshot_render_duration_seconds_bucket")
	assert.Contains(t, body, `webshot_http_requests_total{endpoint="/shot",status="200"} 1`)
	assert.Contains(t, body, `webshot_cache_compression_bytes_saved_total{algorithm="lz4"} 2048`)
	assert.Contains(t, body, "webshot_cache_cleanup_directories_total 3")
}
