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
	"github.com/jordigilh/invoicepipe/pkg/httpapi"
)

// MockProcessor implements httpapi.Processor for testing.
type MockProcessor struct {
	UploadFilesFunc func(ctx context.Context, tenant string, files []httpapi.UploadedFile) ([]string, error)
	uploadedBatches [][]httpapi.UploadedFile
}

func (m *MockProcessor) UploadFiles(ctx context.Context, tenant string, files []httpapi.UploadedFile) ([]string, error) {
	m.uploadedBatches = append(m.uploadedBatches, files)
	if m.UploadFilesFunc != nil {
		return m.UploadFilesFunc(ctx, tenant, files)
	}
	keys := make([]string, len(files))
	for i, f := range files {
		keys[i] = tenant + "/" + f.Filename
	}
	return keys, nil
}

func (m *MockProcessor) GetUploadedBatches() [][]httpapi.UploadedFile {
	return m.uploadedBatches
}

func multipartRequest(tenant string, files map[string][]byte) *http.Request {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for name, data := range files {
		part, err := writer.CreateFormFile("files", name)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(writer.Close()).To(Succeed())

	req := httptest.NewRequest(http.MethodPost, "/upload/files?tenant="+tenant, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

var _ = Describe("Upload Handler", func() {
	var (
		handler       httpapi.Handler
		mockProcessor *MockProcessor
		logger        *zap.Logger
		authConfig    config.AuthConfig
		recorder      *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		logger = zap.NewNop()
		mockProcessor = &MockProcessor{}
		authConfig = config.AuthConfig{Enabled: false}
		handler = httpapi.NewHandler(mockProcessor, authConfig, logger)
		recorder = httptest.NewRecorder()
	})

	Describe("HTTP Method Validation", func() {
		It("should reject GET requests", func() {
			req := httptest.NewRequest(http.MethodGet, "/upload/files", nil)
			handler.HandleUpload(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusMethodNotAllowed))

			var response httpapi.UploadResponse
			err := json.Unmarshal(recorder.Body.Bytes(), &response)
			Expect(err).NotTo(HaveOccurred())
			Expect(response.Status).To(Equal("error"))
			Expect(response.Error).To(ContainSubstring("Only POST method is allowed"))
		})

		It("should reject PUT requests", func() {
			req := httptest.NewRequest(http.MethodPut, "/upload/files", nil)
			handler.HandleUpload(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusMethodNotAllowed))
		})

		It("should reject DELETE requests", func() {
			req := httptest.NewRequest(http.MethodDelete, "/upload/files", nil)
			handler.HandleUpload(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusMethodNotAllowed))
		})

		It("should accept POST requests with a valid multipart body", func() {
			req := multipartRequest("acme", map[string][]byte{"receipt1.jpg": []byte("fake-image-bytes")})
			handler.HandleUpload(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
		})
	})

	Describe("Content-Type Validation", func() {
		It("should reject requests without Content-Type", func() {
			req := httptest.NewRequest(http.MethodPost, "/upload/files?tenant=acme", bytes.NewReader([]byte("not multipart")))
			handler.HandleUpload(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusBadRequest))

			var response httpapi.UploadResponse
			_ = json.Unmarshal(recorder.Body.Bytes(), &response)
			Expect(response.Error).To(ContainSubstring("Content-Type must be multipart/form-data"))
		})

		It("should reject requests with wrong Content-Type", func() {
			req := httptest.NewRequest(http.MethodPost, "/upload/files?tenant=acme", bytes.NewReader([]byte("{}")))
			req.Header.Set("Content-Type", "application/json")
			handler.HandleUpload(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Tenant Validation", func() {
		It("should reject requests without a tenant query parameter", func() {
			var body bytes.Buffer
			writer := multipart.NewWriter(&body)
			part, _ := writer.CreateFormFile("files", "receipt1.jpg")
			part.Write([]byte("data"))
			writer.Close()

			req := httptest.NewRequest(http.MethodPost, "/upload/files", &body)
			req.Header.Set("Content-Type", writer.FormDataContentType())

			handler.HandleUpload(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusBadRequest))

			var response httpapi.UploadResponse
			_ = json.Unmarshal(recorder.Body.Bytes(), &response)
			Expect(response.Error).To(ContainSubstring("tenant"))
		})
	})

	Describe("Authentication", func() {
		Context("when authentication is configured", func() {
			BeforeEach(func() {
				authConfig = config.AuthConfig{Enabled: true, Token: "test-secret-token"}
				handler = httpapi.NewHandler(mockProcessor, authConfig, logger)
			})

			It("should reject requests without Authorization header", func() {
				req := multipartRequest("acme", map[string][]byte{"receipt1.jpg": []byte("data")})

				handler.HandleUpload(recorder, req)

				Expect(recorder.Code).To(Equal(http.StatusUnauthorized))

				var response httpapi.UploadResponse
				_ = json.Unmarshal(recorder.Body.Bytes(), &response)
				Expect(response.Error).To(Equal("Authentication failed"))
			})

			It("should reject requests with invalid token", func() {
				req := multipartRequest("acme", map[string][]byte{"receipt1.jpg": []byte("data")})
				req.Header.Set("Authorization", "Bearer wrong-token")

				handler.HandleUpload(recorder, req)

				Expect(recorder.Code).To(Equal(http.StatusUnauthorized))
			})

			It("should reject requests with malformed Authorization header", func() {
				req := multipartRequest("acme", map[string][]byte{"receipt1.jpg": []byte("data")})
				req.Header.Set("Authorization", "InvalidFormat test-secret-token")

				handler.HandleUpload(recorder, req)

				Expect(recorder.Code).To(Equal(http.StatusUnauthorized))
			})

			It("should accept requests with a valid bearer token", func() {
				req := multipartRequest("acme", map[string][]byte{"receipt1.jpg": []byte("data")})
				req.Header.Set("Authorization", "Bearer test-secret-token")

				handler.HandleUpload(recorder, req)

				Expect(recorder.Code).To(Equal(http.StatusOK))
			})
		})

		Context("when authentication is not configured", func() {
			It("should accept requests without Authorization header", func() {
				req := multipartRequest("acme", map[string][]byte{"receipt1.jpg": []byte("data")})

				handler.HandleUpload(recorder, req)

				Expect(recorder.Code).To(Equal(http.StatusOK))
			})
		})
	})

	Describe("File Handling", func() {
		It("should store a single uploaded file and return its key", func() {
			req := multipartRequest("acme", map[string][]byte{"receipt1.jpg": []byte("fake-bytes")})

			handler.HandleUpload(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))

			var response httpapi.UploadResponse
			err := json.Unmarshal(recorder.Body.Bytes(), &response)
			Expect(err).NotTo(HaveOccurred())
			Expect(response.UploadedFiles).To(ConsistOf("acme/receipt1.jpg"))
		})

		It("should store multiple uploaded files in one request", func() {
			req := multipartRequest("acme", map[string][]byte{
				"receipt1.jpg": []byte("fake-bytes-1"),
				"receipt2.jpg": []byte("fake-bytes-2"),
				"receipt3.jpg": []byte("fake-bytes-3"),
			})

			handler.HandleUpload(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			Expect(mockProcessor.GetUploadedBatches()).To(HaveLen(1))
			Expect(mockProcessor.GetUploadedBatches()[0]).To(HaveLen(3))
		})

		It("should handle zero files gracefully", func() {
			req := multipartRequest("acme", map[string][]byte{})

			handler.HandleUpload(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))

			var response httpapi.UploadResponse
			_ = json.Unmarshal(recorder.Body.Bytes(), &response)
			Expect(response.UploadedFiles).To(BeEmpty())
		})
	})

	Describe("Error Handling", func() {
		It("should surface a processor failure as a 500", func() {
			mockProcessor.UploadFilesFunc = func(ctx context.Context, tenant string, files []httpapi.UploadedFile) ([]string, error) {
				return nil, errors.New("object store unreachable")
			}

			req := multipartRequest("acme", map[string][]byte{"receipt1.jpg": []byte("data")})
			handler.HandleUpload(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusInternalServerError))

			var response httpapi.UploadResponse
			_ = json.Unmarshal(recorder.Body.Bytes(), &response)
			Expect(response.Status).To(Equal("error"))
		})
	})

	Describe("Response Format", func() {
		It("should return a proper success response", func() {
			req := multipartRequest("acme", map[string][]byte{"receipt1.jpg": []byte("data")})
			handler.HandleUpload(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			Expect(recorder.Header().Get("Content-Type")).To(Equal("application/json"))

			var response httpapi.UploadResponse
			err := json.Unmarshal(recorder.Body.Bytes(), &response)
			Expect(err).NotTo(HaveOccurred())
			Expect(response.Status).To(Equal("success"))
			Expect(response.Message).To(ContainSubstring("Successfully uploaded 1 files"))
			Expect(response.Error).To(BeEmpty())
		})

		It("should return a proper error response", func() {
			req := httptest.NewRequest(http.MethodGet, "/upload/files", nil)
			handler.HandleUpload(recorder, req)

			Expect(recorder.Header().Get("Content-Type")).To(Equal("application/json"))

			var response httpapi.UploadResponse
			err := json.Unmarshal(recorder.Body.Bytes(), &response)
			Expect(err).NotTo(HaveOccurred())
			Expect(response.Status).To(Equal("error"))
			Expect(response.Error).NotTo(BeEmpty())
			Expect(response.Message).To(BeEmpty())
		})
	})
})
