package server_test

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/edgecomet/webshot/internal/shot/orchestrator"
)

var _ = Describe("net/http routes", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness(testConfig)
	})

	AfterEach(func() {
		h.close()
	})

	It("serves the same shot through ServeHTTP", func() {
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, shotURI("https://example.com/fcgi", ""), nil))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.Bytes()).To(Equal(pngImage))
		Expect(rec.Header().Get("Content-Type")).To(Equal("image/png"))
		Expect(rec.Header().Get(orchestrator.HeaderShotCache)).To(Equal("miss"))
		Expect(rec.Header().Get("Server")).To(Equal(h.identity.Signature))
		etag := rec.Header().Get("ETag")
		Expect(etag).NotTo(BeEmpty())

		// the fasthttp transport sees the artifact stored above
		resp := h.get(shotURI("https://example.com/fcgi", ""))
		Expect(resp.StatusCode()).To(Equal(200))
		Expect(string(resp.Header.Peek("ETag"))).To(Equal(etag))
		Expect(string(resp.Header.Peek(orchestrator.HeaderShotCache))).To(Equal("hit"))
		Expect(h.engine.Captures()).To(Equal(int64(1)))
	})

	It("omits the body for HEAD and 304", func() {
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, shotURI("https://example.com/head", ""), nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.Len()).To(Equal(0))
		Expect(rec.Header().Get("Content-Length")).To(Equal(strconv.Itoa(len(pngImage))))

		etag := rec.Header().Get("ETag")
		req := httptest.NewRequest(http.MethodGet, shotURI("https://example.com/head", ""), nil)
		req.Header.Set("If-None-Match", etag)
		rec = httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusNotModified))
		Expect(rec.Body.Len()).To(Equal(0))
	})

	It("returns from ServeFastCGI once the listener closes", func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())

		done := make(chan error, 1)
		go func() { done <- h.handler.ServeFastCGI(ln) }()

		Expect(ln.Close()).To(Succeed())
		Eventually(done, 2*time.Second).Should(Receive(BeNil()))
	})
})
