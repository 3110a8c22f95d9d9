package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.uber.org/zap"

	"github.com/edgecomet/webshot/internal/common/config"
	"github.com/edgecomet/webshot/internal/identity"
	"github.com/edgecomet/webshot/internal/render/chrome"
	"github.com/edgecomet/webshot/internal/render/dispatcher"
	"github.com/edgecomet/webshot/internal/render/dispatcher/dispatchertest"
	"github.com/edgecomet/webshot/internal/shot/cache"
	"github.com/edgecomet/webshot/internal/shot/metrics"
	"github.com/edgecomet/webshot/internal/shot/orchestrator"
	"github.com/edgecomet/webshot/internal/shot/server"
	"github.com/edgecomet/webshot/pkg/types"
)

type cacheHealthFunc func(ctx context.Context) (cache.Health, error)

func (f cacheHealthFunc) Health(ctx context.Context) (cache.Health, error) { return f(ctx) }

var pngImage = []byte("\x89PNG\r\n\x1a\nfake image body")

type harness struct {
	engine    *dispatchertest.Engine
	collector *metrics.Collector
	identity  *identity.ServerIdentity
	handler   *server.Server
	ln        *fasthttputil.InmemoryListener
	srv       *fasthttp.Server
	client    *fasthttp.Client
}

func newHarness(configYAML string) *harness {
	cfg, err := config.ParseWSConfig([]byte(configYAML))
	Expect(err).NotTo(HaveOccurred())
	cfg.Server.BaseDir = GinkgoT().TempDir()

	logger := zap.NewNop()
	si, err := identity.New(cfg)
	Expect(err).NotTo(HaveOccurred())

	collector := metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry(), logger)
	engine := dispatchertest.NewEngine(2, dispatchertest.StaticImage(pngImage))
	d := dispatcher.New(engine, time.Duration(cfg.Chrome.Render.MaxTimeout), collector, logger)

	store, err := cache.NewMemoryStore(cfg.Cache.MemoryEntries, logger)
	Expect(err).NotTo(HaveOccurred())
	coord := orchestrator.NewCacheCoordinator(store, time.Duration(cfg.Cache.TTL), collector, logger)
	orch := orchestrator.NewShotOrchestrator(coord, d, collector, logger)

	s := server.NewServer(si, server.NewRequestParser(cfg), orch, d, cfg.Chrome.Render.CalculateServerTimeout(), collector, logger)

	h := &harness{
		engine:    engine,
		collector: collector,
		identity:  si,
		handler:   s,
		ln:        fasthttputil.NewInmemoryListener(),
	}
	h.srv = &fasthttp.Server{Handler: s.HandleRequest}
	go func() { _ = h.srv.Serve(h.ln) }()
	h.client = &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) { return h.ln.Dial() },
	}
	return h
}

func (h *harness) close() {
	_ = h.srv.Shutdown()
	_ = h.ln.Close()
}

func (h *harness) do(method, uri string, headers map[string]string) *fasthttp.Response {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.Header.SetMethod(method)
	req.SetRequestURI("http://webshot.test" + uri)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp := &fasthttp.Response{}
	if method == fasthttp.MethodHead {
		resp.SkipBody = true
	}
	Expect(h.client.DoTimeout(req, resp, 5*time.Second)).To(Succeed())
	return resp
}

func (h *harness) get(uri string) *fasthttp.Response {
	return h.do(fasthttp.MethodGet, uri, nil)
}

func shotURI(target string, extra string) string {
	uri := "/shot?url=" + url.QueryEscape(target)
	if extra != "" {
		uri += "&" + extra
	}
	return uri
}

func errorBody(resp *fasthttp.Response) types.ErrorResponse {
	var body types.ErrorResponse
	Expect(json.Unmarshal(resp.Body(), &body)).To(Succeed())
	return body
}

const testConfig = `
server:
  id: "test-node"
  etag_seed: "0123456789abcdef"
chrome:
  render:
    max_timeout: 5s
    default_timeout: 3s
`

var _ = Describe("Shot server", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness(testConfig)
	})

	AfterEach(func() {
		h.close()
	})

	Describe("GET /shot", func() {
		It("renders a cold URL once and serves the image with a freshness token", func() {
			resp := h.get(shotURI("https://example.com", ""))

			Expect(resp.StatusCode()).To(Equal(200))
			Expect(string(resp.Header.ContentType())).To(Equal("image/png"))
			Expect(resp.Body()).To(Equal(pngImage))
			Expect(string(resp.Header.Peek(orchestrator.HeaderShotCache))).To(Equal(metrics.CacheMiss))
			Expect(string(resp.Header.Peek("ETag"))).To(Equal(`"01234567-` + cache.HashBytes(pngImage) + `"`))
			Expect(string(resp.Header.Peek("Cache-Control"))).To(HavePrefix("public, max-age="))
			Expect(string(resp.Header.Peek("Last-Modified"))).NotTo(BeEmpty())
			Expect(string(resp.Header.Peek("Server"))).To(Equal(h.identity.Signature))
			Expect(string(resp.Header.Peek("X-Request-ID"))).NotTo(BeEmpty())
			Expect(h.engine.Captures()).To(Equal(int64(1)))
		})

		It("serves a repeated request from cache without rendering", func() {
			first := h.get(shotURI("https://example.com", "width=800"))
			second := h.get(shotURI("https://EXAMPLE.com/", "width=800"))

			Expect(second.StatusCode()).To(Equal(200))
			Expect(string(second.Header.Peek(orchestrator.HeaderShotCache))).To(Equal(metrics.CacheHit))
			Expect(second.Body()).To(Equal(first.Body()))
			Expect(second.Header.Peek("ETag")).To(Equal(first.Header.Peek("ETag")))
			Expect(h.engine.Captures()).To(Equal(int64(1)))
		})

		It("renders again when options differ", func() {
			h.get(shotURI("https://example.com", "width=800"))
			h.get(shotURI("https://example.com", "width=1024"))
			Expect(h.engine.Captures()).To(Equal(int64(2)))
		})

		It("answers 304 when If-None-Match carries the current token", func() {
			first := h.get(shotURI("https://example.com", ""))
			etag := string(first.Header.Peek("ETag"))

			resp := h.do(fasthttp.MethodGet, shotURI("https://example.com", ""), map[string]string{"If-None-Match": etag})
			Expect(resp.StatusCode()).To(Equal(304))
			Expect(resp.Body()).To(BeEmpty())
			Expect(string(resp.Header.Peek("ETag"))).To(Equal(etag))
		})

		It("bypasses the cache lookup with nocache but refreshes the stored artifact", func() {
			h.get(shotURI("https://example.com", ""))

			newImage := []byte("\x89PNG second render")
			h.engine.SetCapture(dispatchertest.StaticImage(newImage))

			fresh := h.get(shotURI("https://example.com", "nocache=1"))
			Expect(string(fresh.Header.Peek(orchestrator.HeaderShotCache))).To(Equal(metrics.CacheBypass))
			Expect(fresh.Body()).To(Equal(newImage))

			cached := h.get(shotURI("https://example.com", ""))
			Expect(string(cached.Header.Peek(orchestrator.HeaderShotCache))).To(Equal(metrics.CacheHit))
			Expect(cached.Body()).To(Equal(newImage))
			Expect(h.engine.Captures()).To(Equal(int64(2)))
		})

		It("renders concurrent identical requests once", func() {
			release := make(chan struct{})
			h.engine.SetCapture(dispatchertest.Gated(release, dispatchertest.StaticImage(pngImage)))

			const n = 10
			var wg sync.WaitGroup
			statuses := make([]int, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					statuses[i] = h.get(shotURI("https://example.com/busy", "")).StatusCode()
				}(i)
			}

			Eventually(h.engine.Acquired).Should(Equal(1))
			time.Sleep(50 * time.Millisecond)
			close(release)
			wg.Wait()

			Expect(h.engine.Captures()).To(Equal(int64(1)))
			for _, status := range statuses {
				Expect(status).To(Equal(200))
			}
		})

		It("answers HEAD with headers only", func() {
			resp := h.do(fasthttp.MethodHead, shotURI("https://example.com", "format=jpeg&quality=60"), nil)
			Expect(resp.StatusCode()).To(Equal(200))
			Expect(string(resp.Header.ContentType())).To(Equal("image/jpeg"))
			Expect(resp.Body()).To(BeEmpty())
		})

		It("rejects other methods", func() {
			resp := h.do(fasthttp.MethodPost, shotURI("https://example.com", ""), nil)
			Expect(resp.StatusCode()).To(Equal(405))
			Expect(string(resp.Header.Peek("Allow"))).To(Equal("GET, HEAD"))
		})

		It("keeps a client supplied request id traceable", func() {
			resp := h.do(fasthttp.MethodGet, "/health", map[string]string{"X-Request-ID": "trace-me"})
			Expect(string(resp.Header.Peek("X-Request-ID"))).To(MatchRegexp(`^[0-9a-f]{5}-trace-me$`))
		})
	})

	DescribeTable("invalid requests",
		func(uri string, wantType string) {
			resp := h.get(uri)
			Expect(resp.StatusCode()).To(Equal(400))
			Expect(string(resp.Header.Peek("Cache-Control"))).To(Equal("no-store"))
			body := errorBody(resp)
			Expect(body.Success).To(BeFalse())
			Expect(body.ErrorType).To(Equal(wantType))
			Expect(body.RequestID).NotTo(BeEmpty())
			Expect(h.engine.Captures()).To(BeZero())
		},
		Entry("missing url", "/shot", types.ErrorTypeInvalidURL),
		Entry("ftp scheme", shotURI("ftp://example.com/file", ""), types.ErrorTypeInvalidURL),
		Entry("no host", shotURI("http:///path", ""), types.ErrorTypeInvalidURL),
		Entry("private address", shotURI("http://192.168.1.10/", ""), types.ErrorTypeInvalidURL),
		Entry("loopback name", shotURI("http://localhost:8080/", ""), types.ErrorTypeInvalidURL),
		Entry("url too long", shotURI("https://example.com/"+strings.Repeat("a", 2100), ""), types.ErrorTypeInvalidURL),
		Entry("width too small", shotURI("https://example.com", "width=5"), types.ErrorTypeInvalidOption),
		Entry("height too large", shotURI("https://example.com", "height=20000"), types.ErrorTypeInvalidOption),
		Entry("quality zero", shotURI("https://example.com", "quality=0"), types.ErrorTypeInvalidOption),
		Entry("unknown format", shotURI("https://example.com", "format=gif"), types.ErrorTypeInvalidOption),
		Entry("unknown wait_for", shotURI("https://example.com", "wait_for=idle"), types.ErrorTypeInvalidOption),
		Entry("bad full_page", shotURI("https://example.com", "full_page=maybe"), types.ErrorTypeInvalidOption),
		Entry("delay beyond timeout", shotURI("https://example.com", "delay=10s&timeout=2s"), types.ErrorTypeInvalidOption),
	)

	Describe("render failures", func() {
		It("returns a structured error and keeps serving", func() {
			h.engine.SetCapture(func(ctx context.Context, req *types.RenderRequest) (*types.Shot, error) {
				return nil, fmt.Errorf("%w: net::ERR_NAME_NOT_RESOLVED", chrome.ErrNavigateFailed)
			})

			resp := h.get(shotURI("https://unreachable.invalid/", ""))
			Expect(resp.StatusCode()).To(Equal(502))
			Expect(errorBody(resp).ErrorType).To(Equal(types.ErrorTypeNetworkError))

			h.engine.SetCapture(dispatchertest.StaticImage(pngImage))
			Expect(h.get(shotURI("https://example.com", "")).StatusCode()).To(Equal(200))
		})

		It("maps an unavailable pool to 503", func() {
			h.engine.FailAcquire(chrome.ErrPoolShutdown)

			resp := h.get(shotURI("https://example.com", ""))
			Expect(resp.StatusCode()).To(Equal(503))
			Expect(errorBody(resp).ErrorType).To(Equal(types.ErrorTypePoolUnavailable))
		})

		It("maps a hard timeout to 504", func() {
			h.engine.SetCapture(func(ctx context.Context, req *types.RenderRequest) (*types.Shot, error) {
				return nil, chrome.ErrHardTimeout
			})

			resp := h.get(shotURI("https://slow.example.com/", ""))
			Expect(resp.StatusCode()).To(Equal(504))
			Expect(errorBody(resp).ErrorType).To(Equal(types.ErrorTypeHardTimeout))
		})
	})

	Describe("service endpoints", func() {
		It("reports pool health", func() {
			resp := h.get("/health")
			Expect(resp.StatusCode()).To(Equal(200))

			var body struct {
				Success bool `json:"success"`
				Data    struct {
					Status string           `json:"status"`
					Pool   chrome.PoolStats `json:"pool"`
				} `json:"data"`
			}
			Expect(json.Unmarshal(resp.Body(), &body)).To(Succeed())
			Expect(body.Success).To(BeTrue())
			Expect(body.Data.Status).To(Equal("ok"))
			Expect(body.Data.Pool.TotalInstances).To(Equal(2))
		})

		It("includes the cache tier and degrades when it fails", func() {
			var body struct {
				Data struct {
					Status string `json:"status"`
					Cache  struct {
						Entries int    `json:"entries"`
						Error   string `json:"error"`
					} `json:"cache"`
				} `json:"data"`
			}

			h.handler.SetCacheHealth(cacheHealthFunc(func(ctx context.Context) (cache.Health, error) {
				return cache.Health{Entries: 12, Latency: time.Millisecond}, nil
			}))
			resp := h.get("/health")
			Expect(resp.StatusCode()).To(Equal(200))
			Expect(json.Unmarshal(resp.Body(), &body)).To(Succeed())
			Expect(body.Data.Status).To(Equal("ok"))
			Expect(body.Data.Cache.Entries).To(Equal(12))

			h.handler.SetCacheHealth(cacheHealthFunc(func(ctx context.Context) (cache.Health, error) {
				return cache.Health{}, errors.New("redis ping failed")
			}))
			resp = h.get("/health")
			Expect(resp.StatusCode()).To(Equal(200))
			Expect(json.Unmarshal(resp.Body(), &body)).To(Succeed())
			Expect(body.Data.Status).To(Equal("degraded"))
			Expect(body.Data.Cache.Error).To(ContainSubstring("redis ping failed"))
		})

		It("describes the server identity", func() {
			resp := h.get("/info")
			Expect(resp.StatusCode()).To(Equal(200))
			Expect(string(resp.Body())).To(ContainSubstring(h.identity.Signature))
			Expect(string(resp.Body())).To(ContainSubstring(identity.Version))
			Expect(string(resp.Body())).NotTo(ContainSubstring("0123456789abcdef"))
		})

		It("serves a banner on the root path", func() {
			resp := h.get("/")
			Expect(resp.StatusCode()).To(Equal(200))
			Expect(string(resp.Body())).To(ContainSubstring("/shot?url="))
		})

		It("returns 404 for unknown paths", func() {
			resp := h.get("/render")
			Expect(resp.StatusCode()).To(Equal(404))
		})

		It("records http metrics per endpoint", func() {
			h.get("/health")
			h.get("/nope")
			h.get("/also-nope")
			Expect(h.collector.HTTPRequestCount("/health", "200")).To(Equal(1.0))
			Expect(h.collector.HTTPRequestCount("other", "404")).To(Equal(2.0))
		})
	})
})
