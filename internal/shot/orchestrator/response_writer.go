package orchestrator

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/edgecomet/webshot/internal/identity"
	"github.com/edgecomet/webshot/internal/shot/cache"
	"github.com/edgecomet/webshot/pkg/types"
)

// Response headers specific to this service
const (
	HeaderShotCache      = "X-Shot-Cache"
	HeaderShotRenderTime = "X-Shot-Render-Time"
	HeaderShotStatus     = "X-Shot-Status-Code"
)

// Header is a single response header
type Header struct {
	Name  string
	Value string
}

// Reply is a transport neutral response. Headers keep insertion order.
type Reply struct {
	Status  int
	Headers []Header
	Body    []byte
}

// Header returns the first value of name, or ""
func (r *Reply) Header(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func (r *Reply) set(name, value string) {
	r.Headers = append(r.Headers, Header{Name: name, Value: value})
}

// ResponseWriter builds replies for artifacts and errors
type ResponseWriter struct {
	identity *identity.ServerIdentity
}

func NewResponseWriter(si *identity.ServerIdentity) *ResponseWriter {
	return &ResponseWriter{identity: si}
}

// ETag returns the quoted freshness token of artifact. A new seed invalidates every token.
func (rw *ResponseWriter) ETag(artifact *cache.Artifact) string {
	return `"` + rw.identity.ETagSeed() + "-" + artifact.Digest + `"`
}

// ImageReply returns the image reply for result, or 304 when ifNoneMatch carries its token
func (rw *ResponseWriter) ImageReply(result *Result, ifNoneMatch string) Reply {
	artifact := result.Artifact
	etag := rw.ETag(artifact)

	reply := Reply{Status: http.StatusOK}
	reply.set("ETag", etag)
	reply.set("Last-Modified", artifact.CreatedAt.UTC().Format(http.TimeFormat))
	reply.set("Cache-Control", cacheControl(result))
	reply.set(HeaderShotCache, result.Source)

	if etagMatches(ifNoneMatch, etag) {
		reply.Status = http.StatusNotModified
		return reply
	}

	reply.set("Content-Type", artifact.ContentType())
	reply.set(HeaderShotRenderTime, strconv.FormatInt(artifact.RenderTime.Milliseconds(), 10))
	if artifact.StatusCode > 0 {
		reply.set(HeaderShotStatus, strconv.Itoa(artifact.StatusCode))
	}
	reply.Body = artifact.Image
	return reply
}

// cacheControl lets shared caches keep an artifact only as long as we do. Shots that
// were not stored must be revalidated, and credentialed shots stay private.
func cacheControl(result *Result) string {
	if !result.Cached {
		return "no-cache"
	}
	maxAge := "max-age=" + strconv.Itoa(int(result.Artifact.TTL()/time.Second))
	if hasUserinfo(result.Artifact.URL) {
		return "private, " + maxAge
	}
	return "public, " + maxAge
}

func hasUserinfo(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err != nil || u.User != nil
}

// ErrorReply returns the JSON error reply for err with the status of its error type
func (rw *ResponseWriter) ErrorReply(requestID string, err error) Reply {
	errorType := ErrorTypeOf(err)
	resp := types.ErrorResponse{
		Success:   false,
		RequestID: requestID,
		Error:     err.Error(),
		ErrorType: errorType,
		Timestamp: time.Now().UTC(),
	}

	body, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		body = []byte(`{"success":false,"error":"failed to encode response"}`)
	}

	reply := Reply{Status: StatusForErrorType(errorType), Body: body}
	reply.set("Content-Type", "application/json")
	reply.set("Cache-Control", "no-store")
	return reply
}

// ErrorTypeOf extracts the structured type from err, defaulting to render_failed
func ErrorTypeOf(err error) string {
	var typed interface{ ErrorType() string }
	if errors.As(err, &typed) && typed.ErrorType() != "" {
		return typed.ErrorType()
	}
	return types.ErrorTypeRenderFailed
}

// StatusForErrorType maps an error type to its HTTP status
func StatusForErrorType(errorType string) int {
	switch errorType {
	case types.ErrorTypeInvalidURL, types.ErrorTypeInvalidOption:
		return http.StatusBadRequest
	case types.ErrorTypeHardTimeout:
		return http.StatusGatewayTimeout
	case types.ErrorTypePoolUnavailable, types.ErrorTypeChromeCrash, types.ErrorTypeChromeRestartFailed:
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

// etagMatches implements If-None-Match comparison (weak, list and "*")
func etagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// WriteFastHTTP applies reply to a fasthttp response. HEAD bodies are dropped by fasthttp.
func WriteFastHTTP(ctx *fasthttp.RequestCtx, reply Reply) {
	ctx.SetStatusCode(reply.Status)
	for _, h := range reply.Headers {
		ctx.Response.Header.Set(h.Name, h.Value)
	}
	if reply.Status == http.StatusNotModified {
		ctx.Response.SkipBody = true
		return
	}
	ctx.SetBody(reply.Body)
}

// WriteHTTP applies reply to a net/http response
func WriteHTTP(w http.ResponseWriter, r *http.Request, reply Reply) {
	header := w.Header()
	for _, h := range reply.Headers {
		header.Set(h.Name, h.Value)
	}
	if reply.Status != http.StatusNotModified {
		header.Set("Content-Length", strconv.Itoa(len(reply.Body)))
	}
	w.WriteHeader(reply.Status)
	if r.Method == http.MethodHead || reply.Status == http.StatusNotModified {
		return
	}
	_, _ = w.Write(reply.Body)
}
