package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/internal/config"
	apperrors "github.com/jordigilh/invoicepipe/internal/errors"
	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
)

// DraftBasket narrows purchaseorder.Service to the draft-basket and
// finalize operations the HTTP surface (C11, §6) needs.
type DraftBasket interface {
	ListDraft(ctx context.Context, tenant string) ([]models.DraftPOLine, error)
	Finalize(ctx context.Context, tenant, supplierName, notes string) (models.PurchaseOrder, []byte, error)
}

// DraftItemsResponse is the GET /purchase-orders/draft/items envelope:
// the basket plus its running totals.
type DraftItemsResponse struct {
	Items      []models.DraftPOLine `json:"items"`
	ItemCount  int                  `json:"item_count"`
	TotalValue float64              `json:"total_value"`
}

// ProceedRequest is the POST /purchase-orders/draft/proceed body.
type ProceedRequest struct {
	SupplierName string `json:"supplier_name"`
	Notes        string `json:"notes"`
}

// PurchaseOrderHandler serves the draft-basket listing and
// finalize-and-render endpoints.
type PurchaseOrderHandler struct {
	basket DraftBasket
	auth   config.AuthConfig
	log    *zap.Logger
}

// NewPurchaseOrderHandler builds a PurchaseOrderHandler backed by
// basket.
func NewPurchaseOrderHandler(basket DraftBasket, authConfig config.AuthConfig, logger *zap.Logger) *PurchaseOrderHandler {
	return &PurchaseOrderHandler{basket: basket, auth: authConfig, log: logger}
}

func (h *PurchaseOrderHandler) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
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

// ServeDraftItems handles GET /purchase-orders/draft/items.
func (h *PurchaseOrderHandler) ServeDraftItems(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	items, err := h.basket.ListDraft(r.Context(), tenant)
	if err != nil {
		h.log.Error("failed to load draft basket", zap.String("tenant", tenant), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to load draft basket")
		return
	}

	var total float64
	for _, item := range items {
		total += float64(item.Qty) * item.UnitValue
	}

	h.writeJSON(w, http.StatusOK, DraftItemsResponse{Items: items, ItemCount: len(items), TotalValue: total})
}

// ServeProceed handles POST /purchase-orders/draft/proceed: it
// finalizes the draft basket and streams back the rendered PDF.
func (h *PurchaseOrderHandler) ServeProceed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "Only POST method is allowed")
		return
	}
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req ProceedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.SupplierName == "" {
		h.writeError(w, http.StatusBadRequest, "supplier_name is required")
		return
	}

	po, pdfBytes, err := h.basket.Finalize(r.Context(), tenant, req.SupplierName, req.Notes)
	if err != nil {
		status := http.StatusInternalServerError
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			status = appErr.StatusCode
		}
		h.log.Error("failed to finalize purchase order", zap.String("tenant", tenant), zap.Error(err))
		h.writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("X-PO-Number", po.PONumber)
	w.Header().Set("X-Total-Cost", strconv.FormatFloat(po.Total, 'f', 2, 64))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", po.PONumber+".pdf"))
	w.WriteHeader(http.StatusOK)
	w.Write(pdfBytes)
}

func (h *PurchaseOrderHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *PurchaseOrderHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(UploadResponse{Status: "error", Error: message})
}
