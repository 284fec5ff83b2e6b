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
	apperrors "github.com/jordigilh/invoicepipe/internal/errors"
	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
	"github.com/jordigilh/invoicepipe/pkg/httpapi"
)

type fakeDraftBasket struct {
	items    []models.DraftPOLine
	po       models.PurchaseOrder
	pdf      []byte
	listErr  error
	finalErr error

	gotSupplierName string
	gotNotes        string
}

func (f *fakeDraftBasket) ListDraft(ctx context.Context, tenant string) ([]models.DraftPOLine, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.items, nil
}

func (f *fakeDraftBasket) Finalize(ctx context.Context, tenant, supplierName, notes string) (models.PurchaseOrder, []byte, error) {
	f.gotSupplierName = supplierName
	f.gotNotes = notes
	if f.finalErr != nil {
		return models.PurchaseOrder{}, nil, f.finalErr
	}
	return f.po, f.pdf, nil
}

var _ = Describe("Purchase Order Handler", func() {
	var (
		basket   *fakeDraftBasket
		handler  *httpapi.PurchaseOrderHandler
		recorder *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		basket = &fakeDraftBasket{
			items: []models.DraftPOLine{{PartNumber: "P-1", Qty: 2, UnitValue: 10}},
			po:    models.PurchaseOrder{PONumber: "PO-1", Total: 20},
			pdf:   []byte("%PDF-fake"),
		}
		handler = httpapi.NewPurchaseOrderHandler(basket, config.AuthConfig{}, zap.NewNop())
		recorder = httptest.NewRecorder()
	})

	It("returns the draft basket with computed totals", func() {
		req := httptest.NewRequest(http.MethodGet, "/purchase-orders/draft/items?tenant=acme", nil)
		handler.ServeDraftItems(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusOK))
		var resp httpapi.DraftItemsResponse
		Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.ItemCount).To(Equal(1))
		Expect(resp.TotalValue).To(Equal(20.0))
	})

	It("finalizes the draft and streams back the rendered PDF", func() {
		body, err := json.Marshal(httpapi.ProceedRequest{SupplierName: "Acme Supply", Notes: "rush"})
		Expect(err).ToNot(HaveOccurred())
		req := httptest.NewRequest(http.MethodPost, "/purchase-orders/draft/proceed?tenant=acme", bytes.NewReader(body))
		handler.ServeProceed(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(recorder.Header().Get("X-PO-Number")).To(Equal("PO-1"))
		Expect(recorder.Header().Get("X-Total-Cost")).To(Equal("20.00"))
		Expect(recorder.Header().Get("Content-Type")).To(Equal("application/pdf"))
		Expect(recorder.Body.Bytes()).To(Equal([]byte("%PDF-fake")))
		Expect(basket.gotSupplierName).To(Equal("Acme Supply"))
	})

	It("rejects a proceed request missing supplier_name", func() {
		body, err := json.Marshal(httpapi.ProceedRequest{})
		Expect(err).ToNot(HaveOccurred())
		req := httptest.NewRequest(http.MethodPost, "/purchase-orders/draft/proceed?tenant=acme", bytes.NewReader(body))
		handler.ServeProceed(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
	})

	It("maps a validation error from Finalize to a 400", func() {
		basket.finalErr = apperrors.NewValidationError("no items in draft to process")

		body, err := json.Marshal(httpapi.ProceedRequest{SupplierName: "Acme Supply"})
		Expect(err).ToNot(HaveOccurred())
		req := httptest.NewRequest(http.MethodPost, "/purchase-orders/draft/proceed?tenant=acme", bytes.NewReader(body))
		handler.ServeProceed(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
	})

	It("rejects requests without a valid bearer token when auth is enabled", func() {
		handler = httpapi.NewPurchaseOrderHandler(basket, config.AuthConfig{Enabled: true, Token: "secret"}, zap.NewNop())

		req := httptest.NewRequest(http.MethodGet, "/purchase-orders/draft/items?tenant=acme", nil)
		handler.ServeDraftItems(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusUnauthorized))
	})
})
