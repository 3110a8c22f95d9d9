package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/webshot/internal/common/httputil"
	"github.com/edgecomet/webshot/internal/common/requestid"
	"github.com/edgecomet/webshot/internal/identity"
	"github.com/edgecomet/webshot/internal/render/chrome"
	"github.com/edgecomet/webshot/internal/shot/cache"
	"github.com/edgecomet/webshot/internal/shot/metrics"
	"github.com/edgecomet/webshot/internal/shot/orchestrator"
)

// Endpoint paths
const (
	PathShot   = "/shot"
	PathHealth = "/health"
	PathInfo   = "/info"
	PathRoot   = "/"
)

// StatsProvider reports render pool statistics for /health
type StatsProvider interface {
	Stats() chrome.PoolStats
}

// CacheHealthChecker reports the state of the persistent cache tier
type CacheHealthChecker interface {
	Health(ctx context.Context) (cache.Health, error)
}

const cacheHealthTimeout = 2 * time.Second

// incoming is the transport independent view of a request
type incoming struct {
	method      string
	path        string
	requestID   string
	ifNoneMatch string
	param       ParamFunc
}

// Server routes requests to the shot pipeline. The same routes are served over
// HTTP by fasthttp and over FastCGI by net/http.
type Server struct {
	identity       *identity.ServerIdentity
	parser         *RequestParser
	orchestrator   *orchestrator.ShotOrchestrator
	responseWriter *orchestrator.ResponseWriter
	stats          StatsProvider
	cacheHealth    CacheHealthChecker
	requestTimeout time.Duration
	metrics        *metrics.Collector
	logger         *zap.Logger
}

// NewServer wires the receiver. requestTimeout bounds how long a handler waits for a shot.
func NewServer(
	si *identity.ServerIdentity,
	parser *RequestParser,
	shotOrchestrator *orchestrator.ShotOrchestrator,
	stats StatsProvider,
	requestTimeout time.Duration,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Server {
	return &Server{
		identity:       si,
		parser:         parser,
		orchestrator:   shotOrchestrator,
		responseWriter: orchestrator.NewResponseWriter(si),
		stats:          stats,
		requestTimeout: requestTimeout,
		metrics:        collector,
		logger:         logger,
	}
}

// SetCacheHealth adds the persistent cache tier to /health
func (s *Server) SetCacheHealth(checker CacheHealthChecker) {
	s.cacheHealth = checker
}

// HandleRequest is the fasthttp handler
func (s *Server) HandleRequest(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	in := incoming{
		method:      string(ctx.Method()),
		path:        string(ctx.Path()),
		requestID:   requestid.GenerateRequestID(string(ctx.Request.Header.Peek(requestid.HeaderName))),
		ifNoneMatch: string(ctx.Request.Header.Peek("If-None-Match")),
		param:       func(name string) string { return string(args.Peek(name)) },
	}

	reply := s.route(in)
	reply.Headers = append(reply.Headers,
		orchestrator.Header{Name: "Server", Value: s.identity.Signature},
		orchestrator.Header{Name: requestid.HeaderName, Value: in.requestID})
	orchestrator.WriteFastHTTP(ctx, reply)
}

// ServeHTTP serves the same routes for net/http, used by the FastCGI listener
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	in := incoming{
		method:      r.Method,
		path:        r.URL.Path,
		requestID:   requestid.GenerateRequestID(r.Header.Get(requestid.HeaderName)),
		ifNoneMatch: r.Header.Get("If-None-Match"),
		param:       query.Get,
	}

	reply := s.route(in)
	reply.Headers = append(reply.Headers,
		orchestrator.Header{Name: "Server", Value: s.identity.Signature},
		orchestrator.Header{Name: requestid.HeaderName, Value: in.requestID})
	orchestrator.WriteHTTP(w, r, reply)
}

func (s *Server) route(in incoming) orchestrator.Reply {
	logger := s.logger.With(zap.String("request_id", in.requestID))

	var reply orchestrator.Reply
	switch in.path {
	case PathShot:
		if in.method != http.MethodGet && in.method != http.MethodHead {
			logger.Warn("Method not allowed", zap.String("method", in.method))
			reply = jsonReply(http.StatusMethodNotAllowed, false, "Method not allowed", nil)
			reply.Headers = append(reply.Headers, orchestrator.Header{Name: "Allow", Value: "GET, HEAD"})
			break
		}
		reply = s.handleShot(in, logger)
	case PathHealth:
		reply = s.handleHealth()
	case PathInfo:
		reply = jsonReply(http.StatusOK, true, "", s.identity)
	case PathRoot:
		reply = s.handleRoot()
	default:
		logger.Debug("Not found", zap.String("path", in.path))
		reply = jsonReply(http.StatusNotFound, false, "Endpoint not found", nil)
	}

	s.metrics.RecordHTTPRequest(endpointLabel(in.path), strconv.Itoa(reply.Status))
	return reply
}

func (s *Server) handleShot(in incoming, logger *zap.Logger) orchestrator.Reply {
	req, err := s.parser.Parse(in.requestID, in.param)
	if err != nil {
		logger.Info("Rejected shot request", zap.Error(err))
		return s.responseWriter.ErrorReply(in.requestID, err)
	}

	logger.Debug("Processing shot request",
		zap.String("url", req.URL),
		zap.Bool("ignore_cache", req.IgnoreCache),
		zap.String("options", req.Options.Canonical()))

	ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	defer cancel()

	result, err := s.orchestrator.Process(ctx, req)
	if err != nil {
		logger.Warn("Shot request failed",
			zap.String("url", req.URL),
			zap.String("error_type", orchestrator.ErrorTypeOf(err)),
			zap.Error(err))
		return s.responseWriter.ErrorReply(in.requestID, err)
	}

	reply := s.responseWriter.ImageReply(result, in.ifNoneMatch)
	logger.Info("Shot served",
		zap.String("url", req.URL),
		zap.String("cache_key", result.Artifact.Key.String()),
		zap.String("source", result.Source),
		zap.Int("status", reply.Status),
		zap.Int("bytes", len(reply.Body)),
		zap.Duration("duration", result.Duration))
	return reply
}

type healthStatus struct {
	Status string           `json:"status"`
	Pool   chrome.PoolStats `json:"pool"`
	Cache  *cacheStatus     `json:"cache,omitempty"`
}

type cacheStatus struct {
	Entries   int    `json:"entries"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// handleHealth fails only when no render instance exists. A broken cache
// backend reports "degraded" since shots are still served uncached.
func (s *Server) handleHealth() orchestrator.Reply {
	health := healthStatus{Status: "ok", Pool: s.stats.Stats()}

	if s.cacheHealth != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cacheHealthTimeout)
		defer cancel()

		h, err := s.cacheHealth.Health(ctx)
		if err != nil {
			health.Status = "degraded"
			health.Cache = &cacheStatus{Error: err.Error()}
		} else {
			health.Cache = &cacheStatus{Entries: h.Entries, LatencyMs: h.Latency.Milliseconds()}
		}
	}

	if health.Pool.TotalInstances == 0 {
		health.Status = "unavailable"
		return jsonReply(http.StatusServiceUnavailable, false, "no render instances", health)
	}
	return jsonReply(http.StatusOK, true, "", health)
}

func (s *Server) handleRoot() orchestrator.Reply {
	body := fmt.Sprintf("%s\nGET %s/shot?url=<http(s) url>[&width=&height=&format=png|jpeg|webp&full_page=1&nocache=1]\n",
		s.identity.Signature, s.identity.BaseURL)
	return orchestrator.Reply{
		Status:  http.StatusOK,
		Headers: []orchestrator.Header{{Name: "Content-Type", Value: "text/plain; charset=utf-8"}},
		Body:    []byte(body),
	}
}

func jsonReply(status int, success bool, message string, data interface{}) orchestrator.Reply {
	body, ok := httputil.EncodeJSON(success, message, data)
	if !ok {
		status = http.StatusInternalServerError
	}
	return orchestrator.Reply{
		Status:  status,
		Headers: []orchestrator.Header{{Name: "Content-Type", Value: "application/json"}},
		Body:    body,
	}
}

// endpointLabel keeps metric cardinality bounded for unknown paths
func endpointLabel(path string) string {
	switch path {
	case PathShot, PathHealth, PathInfo, PathRoot:
		return path
	}
	return "other"
}
