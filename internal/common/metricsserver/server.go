package metricsserver

import (
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/webshot/internal/common/configtypes"
)

// MetricsHandler is anything that can write a metrics exposition
type MetricsHandler interface {
	ServeHTTP(ctx *fasthttp.RequestCtx)
}

// StartMetricsServer starts the metrics listener on its own port.
// Returns nil, nil when metrics are disabled.
func StartMetricsServer(cfg configtypes.MetricsConfig, handler MetricsHandler, logger *zap.Logger) (*fasthttp.Server, error) {
	if !cfg.Enabled {
		logger.Info("Metrics collection disabled")
		return nil, nil
	}

	ln, err := net.Listen("tcp4", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics on %s: %w", cfg.Listen, err)
	}

	return Serve(ln, cfg.Path, handler, logger), nil
}

// Serve runs a metrics server on an existing listener until Shutdown is called
func Serve(ln net.Listener, path string, handler MetricsHandler, logger *zap.Logger) *fasthttp.Server {
	srv := &fasthttp.Server{
		Handler:            newHandler(path, handler),
		Name:               "webshot-metrics",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxRequestBodySize: 1 * 1024,
		TCPKeepalive:       true,
		TCPKeepalivePeriod: 30 * time.Second,
		MaxConnsPerIP:      100,
		MaxRequestsPerConn: 1000,
		Concurrency:        100,
	}

	go func() {
		logger.Info("Metrics server listening",
			zap.String("listen", ln.Addr().String()),
			zap.String("path", path))

		if err := srv.Serve(ln); err != nil {
			logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()

	return srv
}

func newHandler(path string, metrics MetricsHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == path {
			metrics.ServeHTTP(ctx)
			return
		}

		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetBodyString("Not Found")
	}
}
