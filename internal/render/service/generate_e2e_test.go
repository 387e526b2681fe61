package service_test

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/pdfrender/internal/render/browsertest"
	"github.com/edgecomet/pdfrender/internal/render/controlplane"
	"github.com/edgecomet/pdfrender/internal/render/gate"
	"github.com/edgecomet/pdfrender/internal/render/metrics"
	"github.com/edgecomet/pdfrender/internal/render/orchestrator"
	"github.com/edgecomet/pdfrender/internal/render/service"
	"github.com/edgecomet/pdfrender/pkg/types"
)

type testService struct {
	browser *browsertest.Browser
	gate    *gate.Gate
	baseURL string
	client  *fasthttp.Client
}

func startService(capacity int, timeout time.Duration, opts ...browsertest.Option) *testService {
	GinkgoHelper()
	logger := zap.NewNop()

	b := browsertest.New(GinkgoT(), opts...)
	cp, err := controlplane.NewClient(b.Endpoint(), logger)
	Expect(err).NotTo(HaveOccurred())

	g, err := gate.New(capacity)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(g.Close)

	mc := metrics.NewMetricsCollectorWithRegistry("e2e", prometheus.NewRegistry(), logger)
	orch := orchestrator.New(g, cp, logger,
		orchestrator.WithTimeout(timeout),
		orchestrator.WithObserver(mc.ObserveTransition),
		orchestrator.WithCloseHook(mc.RecordTabClose))

	h := service.NewHandlers(orch, g, cp, mc, logger)
	server := service.NewServer(service.ServerConfig{
		Name:        "PDFService/e2e",
		MaxBodySize: 64 * 1024,
		Timeout:     timeout + 5*time.Second,
	}, h)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	go func() { _ = server.Serve(ln) }()
	DeferCleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.ShutdownWithContext(ctx)
	})

	return &testService{
		browser: b,
		gate:    g,
		baseURL: "http://" + ln.Addr().String(),
		client:  &fasthttp.Client{MaxConnsPerHost: 64},
	}
}

func (s *testService) post(path, body string) (int, httpResult) {
	GinkgoHelper()
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.baseURL + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBodyString(body)

	Expect(s.client.DoTimeout(req, resp, 15*time.Second)).To(Succeed())
	return resp.StatusCode(), httpResult{
		body:        string(resp.Body()),
		contentType: string(resp.Header.ContentType()),
		disposition: string(resp.Header.Peek(fasthttp.HeaderContentDisposition)),
		requestID:   string(resp.Header.Peek("X-Request-ID")),
	}
}

type httpResult struct {
	body        string
	contentType string
	disposition string
	requestID   string
}

var _ = Describe("POST /generate", func() {
	Context("with a responsive browser", func() {
		var svc *testService

		BeforeEach(func() {
			svc = startService(2, 5*time.Second, browsertest.WithPDF([]byte("PDF")))
		})

		It("returns the printed document as an attachment", func() {
			status, resp := svc.post("/generate", `{"html":"<h1>hi</h1>","landscape":false}`)

			Expect(status).To(Equal(fasthttp.StatusOK))
			Expect(resp.body).To(Equal("PDF"))
			Expect(resp.contentType).To(Equal("application/pdf"))
			Expect(resp.disposition).To(Equal(`attachment; filename="output.pdf"`))
			Expect(resp.requestID).NotTo(BeEmpty())

			By("creating and closing exactly one tab")
			Expect(svc.browser.Creates()).To(Equal(1))
			Expect(svc.browser.Closes()).To(Equal(1))
			Expect(svc.browser.OpenTabs()).To(BeZero())
		})

		It("passes the orientation to the print command", func() {
			status, _ := svc.post("/generate", `{"html":"<p>wide</p>","landscape":true}`)
			Expect(status).To(Equal(fasthttp.StatusOK))

			cmds := svc.browser.Commands()
			Expect(cmds).To(HaveLen(2))
			params, err := browsertest.PrintParams(cmds[1])
			Expect(err).NotTo(HaveOccurred())
			Expect(params).To(HaveKeyWithValue("landscape", true))
			Expect(params).To(HaveKeyWithValue("printBackground", true))
		})

		It("rejects a body without html", func() {
			status, resp := svc.post("/generate", `{"landscape":true}`)
			Expect(status).To(Equal(fasthttp.StatusBadRequest))
			Expect(resp.body).To(ContainSubstring("html field is required"))
			Expect(svc.browser.Creates()).To(BeZero())
		})

		It("serves concurrent requests through the gate", func() {
			const n = 6
			var wg sync.WaitGroup
			statuses := make(chan int, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					status, _ := svc.post("/generate", `{"html":"<p>x</p>"}`)
					statuses <- status
				}()
			}
			wg.Wait()
			close(statuses)

			for status := range statuses {
				Expect(status).To(Equal(fasthttp.StatusOK))
			}
			Expect(svc.browser.Creates()).To(Equal(n))
			Expect(svc.browser.Closes()).To(Equal(n))
			Expect(svc.gate.Stats().InUse).To(BeZero())
		})
	})

	Context("with a browser that never answers", func() {
		It("returns 408 and still closes the tab", func() {
			svc := startService(1, 300*time.Millisecond, browsertest.WithHandler(browsertest.Silent()))

			start := time.Now()
			status, resp := svc.post("/generate", `{"html":"<p>slow</p>"}`)

			Expect(status).To(Equal(fasthttp.StatusRequestTimeout))
			Expect(resp.body).To(Equal("Request timed out"))
			Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
			Expect(svc.browser.Closes()).To(Equal(1))
			Expect(svc.gate.Stats().InUse).To(BeZero())
		})
	})

	Context("with a browser that prints nothing", func() {
		It("returns 500 with the cause", func() {
			svc := startService(1, 5*time.Second, browsertest.WithHandler(browsertest.PrintsResult(map[string]any{})))

			status, resp := svc.post("/generate", `{"html":"<p>x</p>"}`)
			Expect(status).To(Equal(fasthttp.StatusInternalServerError))
			Expect(resp.body).To(ContainSubstring("browser returned no PDF data"))
			Expect(svc.browser.Closes()).To(Equal(1))
		})
	})
})

var _ = Describe("GET /health", func() {
	It("reports gate capacity and the browser version", func() {
		svc := startService(3, 5*time.Second)

		status, body, err := svc.client.GetTimeout(nil, svc.baseURL+"/health", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(fasthttp.StatusOK))

		var health types.HealthResponse
		Expect(json.Unmarshal(body, &health)).To(Succeed())
		Expect(health.Status).To(Equal("ok"))
		Expect(health.Capacity).To(Equal(3))
		Expect(health.BrowserVersion).To(ContainSubstring("HeadlessChrome"))
	})
})
