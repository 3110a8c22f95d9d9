package metricsserver

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.uber.org/zap"

	"github.com/edgecomet/webshot/internal/common/configtypes"
)

type stubMetrics struct{}

func (stubMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("text/plain")
	ctx.SetBodyString("webshot_renders_total 1\n")
}

func newInmemoryClient(ln *fasthttputil.InmemoryListener) *fasthttp.Client {
	return &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) { return ln.Dial() },
	}
}

func TestStartMetricsServer_Disabled(t *testing.T) {
	srv, err := StartMetricsServer(configtypes.MetricsConfig{Enabled: false}, stubMetrics{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, srv)
}

func TestStartMetricsServer_BadListen(t *testing.T) {
	_, err := StartMetricsServer(configtypes.MetricsConfig{Enabled: true, Listen: "bad::addr::"}, stubMetrics{}, zap.NewNop())
	assert.Error(t, err)
}

func TestServe_Routes(t *testing.T) {
	ln := fasthttputil.NewInmemoryListener()
	srv := Serve(ln, "/metrics", stubMetrics{}, zap.NewNop())
	t.Cleanup(func() { _ = srv.Shutdown() })

	client := newInmemoryClient(ln)

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{path: "/metrics", wantStatus: fasthttp.StatusOK, wantBody: "webshot_renders_total 1\n"},
		{path: "/other", wantStatus: fasthttp.StatusNotFound, wantBody: "Not Found"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := fasthttp.AcquireRequest()
			resp := fasthttp.AcquireResponse()
			defer fasthttp.ReleaseRequest(req)
			defer fasthttp.ReleaseResponse(resp)

			req.SetRequestURI("http://metrics" + tt.path)
			require.NoError(t, client.DoTimeout(req, resp, 2*time.Second))
			assert.Equal(t, tt.wantStatus, resp.StatusCode())
			assert.Equal(t, tt.wantBody, string(resp.Body()))
		})
	}
}
