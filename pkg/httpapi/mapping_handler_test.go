package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/internal/config"
	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
	"github.com/jordigilh/invoicepipe/pkg/httpapi"
)

// fakeMappingProcessor implements httpapi.MappingProcessor for testing.
type fakeMappingProcessor struct {
	ProcessFunc func(ctx context.Context, tenant string, keys []string) ([]models.MappingSheetRow, error)
	calls       [][]string
}

func (f *fakeMappingProcessor) ProcessMappingSheet(ctx context.Context, tenant string, keys []string) ([]models.MappingSheetRow, error) {
	f.calls = append(f.calls, keys)
	if f.ProcessFunc != nil {
		return f.ProcessFunc(ctx, tenant, keys)
	}
	rows := make([]models.MappingSheetRow, len(keys))
	for i, k := range keys {
		rows[i] = models.MappingSheetRow{PartNumber: k}
	}
	return rows, nil
}

func mappingMultipartRequest(tenant string, files map[string][]byte) *http.Request {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for name, data := range files {
		part, err := writer.CreateFormFile("files", name)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(writer.Close()).To(Succeed())

	req := httptest.NewRequest(http.MethodPost, "/stock/mapping-sheets/upload?tenant="+tenant, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

var _ = Describe("Mapping Sheet Handler", func() {
	var (
		handler       *httpapi.MappingSheetHandler
		mockProcessor *MockProcessor
		fakeProcessor *fakeMappingProcessor
		logger        *zap.Logger
		authConfig    config.AuthConfig
		recorder      *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		logger = zap.NewNop()
		mockProcessor = &MockProcessor{}
		fakeProcessor = &fakeMappingProcessor{}
		authConfig = config.AuthConfig{Enabled: false}
		handler = httpapi.NewMappingSheetHandler(mockProcessor, fakeProcessor, authConfig, logger)
		recorder = httptest.NewRecorder()
	})

	Describe("HTTP Method Validation", func() {
		It("should reject GET requests", func() {
			req := httptest.NewRequest(http.MethodGet, "/stock/mapping-sheets/upload", nil)
			handler.HandleUpload(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusMethodNotAllowed))

			var response httpapi.MappingSheetResponse
			err := json.Unmarshal(recorder.Body.Bytes(), &response)
			Expect(err).NotTo(HaveOccurred())
			Expect(response.Error).To(ContainSubstring("Only POST method is allowed"))
		})
	})

	Describe("Content-Type Validation", func() {
		It("should reject requests without multipart Content-Type", func() {
			req := httptest.NewRequest(http.MethodPost, "/stock/mapping-sheets/upload?tenant=acme", bytes.NewReader([]byte("{}")))
			req.Header.Set("Content-Type", "application/json")
			handler.HandleUpload(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Tenant Validation", func() {
		It("should reject requests without a tenant query parameter", func() {
			req := mappingMultipartRequest("", map[string][]byte{"sheet1.jpg": []byte("data")})
			req.URL.RawQuery = ""
			handler.HandleUpload(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusBadRequest))

			var response httpapi.MappingSheetResponse
			_ = json.Unmarshal(recorder.Body.Bytes(), &response)
			Expect(response.Error).To(ContainSubstring("tenant"))
		})
	})

	Describe("Authentication", func() {
		Context("when authentication is configured", func() {
			BeforeEach(func() {
				authConfig = config.AuthConfig{Enabled: true, Token: "test-secret-token"}
				handler = httpapi.NewMappingSheetHandler(mockProcessor, fakeProcessor, authConfig, logger)
			})

			It("should reject requests without Authorization header", func() {
				req := mappingMultipartRequest("acme", map[string][]byte{"sheet1.jpg": []byte("data")})
				handler.HandleUpload(recorder, req)

				Expect(recorder.Code).To(Equal(http.StatusUnauthorized))
			})

			It("should accept requests with a valid bearer token", func() {
				req := mappingMultipartRequest("acme", map[string][]byte{"sheet1.jpg": []byte("data")})
				req.Header.Set("Authorization", "Bearer test-secret-token")
				handler.HandleUpload(recorder, req)

				Expect(recorder.Code).To(Equal(http.StatusOK))
			})
		})
	})

	Describe("Upload then process", func() {
		It("uploads the files and returns the extracted rows with no task_id", func() {
			req := mappingMultipartRequest("acme", map[string][]byte{"sheet1.jpg": []byte("fake-bytes")})
			handler.HandleUpload(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			Expect(recorder.Header().Get("Content-Type")).To(Equal("application/json"))

			var response httpapi.MappingSheetResponse
			err := json.Unmarshal(recorder.Body.Bytes(), &response)
			Expect(err).NotTo(HaveOccurred())
			Expect(response.ExtractedRows).To(HaveLen(1))
			Expect(response.Message).To(ContainSubstring("processed"))
			Expect(response.Error).To(BeEmpty())

			Expect(mockProcessor.GetUploadedBatches()).To(HaveLen(1))
			Expect(fakeProcessor.calls).To(HaveLen(1))
			Expect(fakeProcessor.calls[0]).To(ConsistOf("acme/sheet1.jpg"))
		})

		It("surfaces an upload failure as a 500 without invoking the processor", func() {
			mockProcessor.UploadFilesFunc = func(ctx context.Context, tenant string, files []httpapi.UploadedFile) ([]string, error) {
				return nil, errors.New("object store unreachable")
			}

			req := mappingMultipartRequest("acme", map[string][]byte{"sheet1.jpg": []byte("data")})
			handler.HandleUpload(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusInternalServerError))
			Expect(fakeProcessor.calls).To(BeEmpty())
		})

		It("surfaces a processing failure as a 500", func() {
			fakeProcessor.ProcessFunc = func(ctx context.Context, tenant string, keys []string) ([]models.MappingSheetRow, error) {
				return nil, errors.New("vision extraction failed")
			}

			req := mappingMultipartRequest("acme", map[string][]byte{"sheet1.jpg": []byte("data")})
			handler.HandleUpload(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusInternalServerError))

			var response httpapi.MappingSheetResponse
			_ = json.Unmarshal(recorder.Body.Bytes(), &response)
			Expect(response.Error).NotTo(BeEmpty())
		})
	})
})
