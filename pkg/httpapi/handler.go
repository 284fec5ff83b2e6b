// Package httpapi implements the blocking multipart upload handler
// described in spec §4.8.1 and §6: the HTTP entry point for sales,
// vendor, and mapping-sheet file submission. Method, content-type, and
// bearer-auth checks all happen before a single byte is handed to the
// processor, mirroring the gateway webhook handler this package was
// generalized from.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/internal/config"
)

// UploadedFile is one multipart part read into memory. The pipeline's
// upload stage is sequential by contract (§4.8.1 caps memory by
// forbidding concurrent file reads within one request), so holding the
// whole file in memory before handing it to the processor is
// deliberate, not an oversight.
type UploadedFile struct {
	Filename string
	Data     []byte
}

// Processor stores a batch of uploaded files for tenant and returns
// their object-store keys in the same order. It must not return until
// every file has been durably stored (§4.8.1's blocking contract).
type Processor interface {
	UploadFiles(ctx context.Context, tenant string, files []UploadedFile) ([]string, error)
}

// UploadResponse is the JSON envelope returned by HandleUpload.
type UploadResponse struct {
	Status        string   `json:"status"`
	Message       string   `json:"message,omitempty"`
	Error         string   `json:"error,omitempty"`
	UploadedFiles []string `json:"uploaded_files,omitempty"`
}

// Handler serves the blocking upload endpoint.
type Handler interface {
	HandleUpload(w http.ResponseWriter, r *http.Request)
}

type handler struct {
	processor Processor
	auth      config.AuthConfig
	log       *zap.Logger
}

// NewHandler builds a Handler backed by processor, enforcing auth per
// authConfig.
func NewHandler(processor Processor, authConfig config.AuthConfig, logger *zap.Logger) Handler {
	return &handler{
		processor: processor,
		auth:      authConfig,
		log:       logger,
	}
}

const maxUploadMemory = 32 << 20 // 32 MiB held in memory before spilling to temp files

func (h *handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "Only POST method is allowed")
		return
	}

	if !authenticate(r, h.auth) {
		h.writeError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		h.writeError(w, http.StatusBadRequest, "Content-Type must be multipart/form-data")
		return
	}

	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		h.writeError(w, http.StatusBadRequest, "tenant query parameter is required")
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid multipart payload: "+err.Error())
		return
	}

	fileHeaders := r.MultipartForm.File["files"]
	files := make([]UploadedFile, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		f, err := fh.Open()
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Failed to read uploaded file: "+err.Error())
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Failed to read uploaded file: "+err.Error())
			return
		}
		files = append(files, UploadedFile{Filename: fh.Filename, Data: data})
	}

	keys, err := h.processor.UploadFiles(r.Context(), tenant, files)
	if err != nil {
		h.log.Error("upload failed", zap.String("tenant", tenant), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to store uploaded files")
		return
	}

	h.writeSuccess(w, fmt.Sprintf("Successfully uploaded %d files", len(keys)), keys)
}

// authenticate checks a request's bearer token against authConfig,
// shared by every handler in this package that gates on it.
func authenticate(r *http.Request, authConfig config.AuthConfig) bool {
	if !authConfig.Enabled {
		return true
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return false
	}

	return parts[1] == authConfig.Token
}

func (h *handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(UploadResponse{Status: "error", Error: message})
}

func (h *handler) writeSuccess(w http.ResponseWriter, message string, keys []string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(UploadResponse{Status: "success", Message: message, UploadedFiles: keys})
}
