package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/internal/config"
	"github.com/jordigilh/invoicepipe/pkg/httpapi"
	"github.com/jordigilh/invoicepipe/pkg/progress"
)

type fakeBatchStarter struct {
	taskID string
	err    error

	gotTenant      string
	gotKeys        []string
	gotForceUpload bool
}

func (f *fakeBatchStarter) StartProcessing(ctx context.Context, tenant string, keys []string, forceUpload bool, stream *progress.Stream) (string, error) {
	f.gotTenant = tenant
	f.gotKeys = keys
	f.gotForceUpload = forceUpload
	if f.err != nil {
		return "", f.err
	}
	return f.taskID, nil
}

var _ = Describe("Process Handler", func() {
	var (
		starter  *fakeBatchStarter
		streams  *progress.Registry
		handler  *httpapi.ProcessHandler
		recorder *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		starter = &fakeBatchStarter{taskID: "task-1"}
		streams = progress.NewRegistry()
		handler = httpapi.NewProcessHandler(starter, streams, config.AuthConfig{}, zap.NewNop())
		recorder = httptest.NewRecorder()
	})

	postJSON := func(url string, body any) *http.Request {
		payload, err := json.Marshal(body)
		Expect(err).ToNot(HaveOccurred())
		return httptest.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	}

	It("rejects non-POST methods", func() {
		req := httptest.NewRequest(http.MethodGet, "/upload/process-files?tenant=acme", nil)
		handler.ServeHTTP(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusMethodNotAllowed))
	})

	It("rejects a request with no tenant", func() {
		req := postJSON("/upload/process-files", httpapi.ProcessRequest{FileKeys: []string{"k1"}})
		handler.ServeHTTP(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
	})

	It("rejects a malformed body", func() {
		req := httptest.NewRequest(http.MethodPost, "/upload/process-files?tenant=acme", bytes.NewReader([]byte("{not json")))
		handler.ServeHTTP(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
	})

	It("rejects an empty file_keys list", func() {
		req := postJSON("/upload/process-files?tenant=acme", httpapi.ProcessRequest{FileKeys: []string{}})
		handler.ServeHTTP(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
	})

	It("queues the batch and registers its progress stream", func() {
		req := postJSON("/upload/process-files?tenant=acme", httpapi.ProcessRequest{FileKeys: []string{"acme/sales/1.jpg"}, ForceUpload: true})
		handler.ServeHTTP(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusAccepted))

		var resp httpapi.ProcessResponse
		Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.TaskID).To(Equal("task-1"))
		Expect(resp.Status).To(Equal("queued"))

		Expect(starter.gotTenant).To(Equal("acme"))
		Expect(starter.gotKeys).To(Equal([]string{"acme/sales/1.jpg"}))
		Expect(starter.gotForceUpload).To(BeTrue())

		_, ok := streams.Stream("task-1")
		Expect(ok).To(BeTrue())
	})

	It("returns a 500 when the starter fails", func() {
		starter.err = errBoom

		req := postJSON("/upload/process-files?tenant=acme", httpapi.ProcessRequest{FileKeys: []string{"acme/sales/1.jpg"}})
		handler.ServeHTTP(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusInternalServerError))
	})

	It("rejects requests without a valid bearer token when auth is enabled", func() {
		handler = httpapi.NewProcessHandler(starter, streams, config.AuthConfig{Enabled: true, Token: "secret"}, zap.NewNop())

		req := postJSON("/upload/process-files?tenant=acme", httpapi.ProcessRequest{FileKeys: []string{"acme/sales/1.jpg"}})
		handler.ServeHTTP(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusUnauthorized))
	})
})

var errBoom = &boomError{}

type boomError struct{}

func (b *boomError) Error() string { return "starter exploded" }
