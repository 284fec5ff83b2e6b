package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/internal/config"
	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
)

// ReviewStore narrows verification.Repository to the editing-contract
// methods the Dates/Amounts review surface (§4.9.2) needs.
type ReviewStore interface {
	Headers(ctx context.Context, tenant string) ([]models.VerificationHeader, error)
	Lines(ctx context.Context, tenant string) ([]models.VerificationLine, error)
	UpdateHeaderReceiptNumber(ctx context.Context, headerID int64, receiptNumber string) error
	DeleteReceipt(ctx context.Context, tenant, blobPath string) error
}

// RecordsResponse is the {records, total} envelope both review list
// endpoints share.
type RecordsResponse struct {
	Records any `json:"records"`
	Total   int `json:"total"`
}

// HeaderUpdateRequest is the PUT /review/dates/update body: a single
// edited header row.
type HeaderUpdateRequest struct {
	ID            int64  `json:"id"`
	ReceiptNumber string `json:"receipt_number"`
}

// HeaderUpdateResponse reports how many lines resolve the new receipt
// number on their next read (§4.9.2 propagation).
type HeaderUpdateResponse struct {
	LineItemsUpdated int `json:"line_items_updated"`
}

// ReviewHandler serves the Dates and Amounts review surface: listing
// staged headers/lines, editing a header's receipt_number, and
// deleting a receipt from staging/review only.
type ReviewHandler struct {
	store ReviewStore
	auth  config.AuthConfig
	log   *zap.Logger
}

// NewReviewHandler builds a ReviewHandler backed by store.
func NewReviewHandler(store ReviewStore, authConfig config.AuthConfig, logger *zap.Logger) *ReviewHandler {
	return &ReviewHandler{store: store, auth: authConfig, log: logger}
}

func (h *ReviewHandler) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !authenticate(r, h.auth) {
		h.writeError(w, http.StatusUnauthorized, "Authentication failed")
		return "", false
	}
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		h.writeError(w, http.StatusBadRequest, "tenant query parameter is required")
		return "", false
	}
	return tenant, true
}

// ServeDates handles GET /review/dates.
func (h *ReviewHandler) ServeDates(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	headers, err := h.store.Headers(r.Context(), tenant)
	if err != nil {
		h.log.Error("failed to load review headers", zap.String("tenant", tenant), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to load review headers")
		return
	}
	h.writeJSON(w, http.StatusOK, RecordsResponse{Records: headers, Total: len(headers)})
}

// ServeDatesUpdate handles PUT /review/dates/update: editing a
// header's receipt_number propagates to every line sharing its
// header_id (§4.9.2), so the response reports how many lines now
// resolve it.
func (h *ReviewHandler) ServeDatesUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		h.writeError(w, http.StatusMethodNotAllowed, "Only PUT method is allowed")
		return
	}
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req HeaderUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.ID == 0 || req.ReceiptNumber == "" {
		h.writeError(w, http.StatusBadRequest, "id and receipt_number are required")
		return
	}

	if err := h.store.UpdateHeaderReceiptNumber(r.Context(), req.ID, req.ReceiptNumber); err != nil {
		h.log.Error("failed to update header receipt number", zap.Int64("header_id", req.ID), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to update header")
		return
	}

	lines, err := h.store.Lines(r.Context(), tenant)
	if err != nil {
		h.log.Error("failed to count updated lines", zap.String("tenant", tenant), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to count updated lines")
		return
	}
	count := 0
	for _, l := range lines {
		if l.HeaderID == req.ID {
			count++
		}
	}
	h.writeJSON(w, http.StatusOK, HeaderUpdateResponse{LineItemsUpdated: count})
}

// ServeAmounts handles GET /review/amounts.
func (h *ReviewHandler) ServeAmounts(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	lines, err := h.store.Lines(r.Context(), tenant)
	if err != nil {
		h.log.Error("failed to load review lines", zap.String("tenant", tenant), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to load review lines")
		return
	}
	h.writeJSON(w, http.StatusOK, RecordsResponse{Records: lines, Total: len(lines)})
}

// ServeDeleteReceipt handles DELETE /review/receipt/{n}: n is the
// receipt's URL-encoded blob_path. Only staging and review tables are
// touched; VerifiedInvoice survives (§4.9.2).
func (h *ReviewHandler) ServeDeleteReceipt(w http.ResponseWriter, r *http.Request, encodedBlobPath string) {
	if r.Method != http.MethodDelete {
		h.writeError(w, http.StatusMethodNotAllowed, "Only DELETE method is allowed")
		return
	}
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	blobPath, err := url.PathUnescape(encodedBlobPath)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid receipt identifier")
		return
	}

	if err := h.store.DeleteReceipt(r.Context(), tenant, blobPath); err != nil {
		h.log.Error("failed to delete receipt", zap.String("tenant", tenant), zap.String("blob_path", blobPath), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to delete receipt")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *ReviewHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *ReviewHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(UploadResponse{Status: "error", Error: message})
}
