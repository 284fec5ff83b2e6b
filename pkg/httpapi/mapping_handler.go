package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/internal/config"
	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
)

// MappingProcessor extracts and applies a batch of already-uploaded
// mapping-sheet keys per §4.10/§6: no task_id, the parsed rows come
// back in the same response once they've been folded into stock.
type MappingProcessor interface {
	ProcessMappingSheet(ctx context.Context, tenant string, keys []string) ([]models.MappingSheetRow, error)
}

// MappingSheetResponse is the `{extracted_rows, message}` envelope §6
// names for POST /stock/mapping-sheets/upload.
type MappingSheetResponse struct {
	ExtractedRows []models.MappingSheetRow `json:"extracted_rows"`
	Message       string                   `json:"message,omitempty"`
	Error         string                   `json:"error,omitempty"`
}

// MappingSheetHandler serves the combined upload-then-process blocking
// contract for mapping sheets: store every file (via Processor, the
// same upload-stage seam sales/vendor uploads use), then extract and
// apply each one (via MappingProcessor) before responding.
type MappingSheetHandler struct {
	uploader  Processor
	processor MappingProcessor
	auth      config.AuthConfig
	log       *zap.Logger
}

// NewMappingSheetHandler builds a MappingSheetHandler.
func NewMappingSheetHandler(uploader Processor, processor MappingProcessor, authConfig config.AuthConfig, logger *zap.Logger) *MappingSheetHandler {
	return &MappingSheetHandler{uploader: uploader, processor: processor, auth: authConfig, log: logger}
}

func (h *MappingSheetHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
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

	keys, err := h.uploader.UploadFiles(r.Context(), tenant, files)
	if err != nil {
		h.log.Error("mapping sheet upload failed", zap.String("tenant", tenant), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to store uploaded files")
		return
	}

	rows, err := h.processor.ProcessMappingSheet(r.Context(), tenant, keys)
	if err != nil {
		h.log.Error("mapping sheet processing failed", zap.String("tenant", tenant), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to process mapping sheet")
		return
	}

	h.writeJSON(w, http.StatusOK, MappingSheetResponse{
		ExtractedRows: rows,
		Message:       "Mapping sheet processed",
	})
}

func (h *MappingSheetHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, MappingSheetResponse{Error: message})
}

func (h *MappingSheetHandler) writeJSON(w http.ResponseWriter, status int, resp MappingSheetResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
