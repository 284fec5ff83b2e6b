package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/internal/config"
	"github.com/jordigilh/invoicepipe/pkg/dashboard"
	"github.com/jordigilh/invoicepipe/pkg/httpapi"
)

type fakeReporter struct {
	summary       dashboard.Summary
	topParts      []dashboard.PartTotal
	reorderAlerts []dashboard.ReorderAlert
	dailySeries   []dashboard.DailyPoint
	err           error

	gotTenant string
	gotLimit  int
	gotDays   int
}

func (f *fakeReporter) Summary(ctx context.Context, tenant string) (dashboard.Summary, error) {
	f.gotTenant = tenant
	if f.err != nil {
		return dashboard.Summary{}, f.err
	}
	return f.summary, nil
}

func (f *fakeReporter) TopParts(ctx context.Context, tenant string, limit int) ([]dashboard.PartTotal, error) {
	f.gotTenant = tenant
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.topParts, nil
}

func (f *fakeReporter) ReorderAlerts(ctx context.Context, tenant string, limit int) ([]dashboard.ReorderAlert, error) {
	f.gotTenant = tenant
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.reorderAlerts, nil
}

func (f *fakeReporter) DailySeries(ctx context.Context, tenant string, days int) ([]dashboard.DailyPoint, error) {
	f.gotTenant = tenant
	f.gotDays = days
	if f.err != nil {
		return nil, f.err
	}
	return f.dailySeries, nil
}

var _ = Describe("Dashboard Handler", func() {
	var (
		reporter *fakeReporter
		handler  *httpapi.DashboardHandler
		recorder *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		reporter = &fakeReporter{
			summary:       dashboard.Summary{InvoiceCount: 2, TotalValue: 99.5},
			topParts:      []dashboard.PartTotal{{PartNumber: "P-1", TotalValue: 500}},
			reorderAlerts: []dashboard.ReorderAlert{{PartNumber: "P-2", OnHand: 1, ReorderPoint: 5}},
			dailySeries:   []dashboard.DailyPoint{{Date: "2026-07-01", SalesAmount: 10}},
		}
		handler = httpapi.NewDashboardHandler(reporter, config.AuthConfig{}, zap.NewNop())
		recorder = httptest.NewRecorder()
	})

	It("rejects a request with no tenant query parameter", func() {
		req := httptest.NewRequest(http.MethodGet, "/dashboard/summary", nil)
		handler.ServeSummary(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
	})

	It("returns the month-to-date summary for a tenant", func() {
		req := httptest.NewRequest(http.MethodGet, "/dashboard/summary?tenant=acme", nil)
		handler.ServeSummary(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusOK))
		var resp dashboard.Summary
		Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.InvoiceCount).To(Equal(2))
		Expect(reporter.gotTenant).To(Equal("acme"))
	})

	It("defaults the top-parts limit when not provided", func() {
		req := httptest.NewRequest(http.MethodGet, "/dashboard/top-parts?tenant=acme", nil)
		handler.ServeTopParts(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(reporter.gotLimit).To(Equal(10))
	})

	It("passes through an explicit top-parts limit", func() {
		req := httptest.NewRequest(http.MethodGet, "/dashboard/top-parts?tenant=acme&limit=3", nil)
		handler.ServeTopParts(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(reporter.gotLimit).To(Equal(3))
	})

	It("defaults the reorder-alerts limit when not provided", func() {
		req := httptest.NewRequest(http.MethodGet, "/dashboard/reorder-alerts?tenant=acme", nil)
		handler.ServeReorderAlerts(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(reporter.gotLimit).To(Equal(20))

		var resp []dashboard.ReorderAlert
		Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp).To(HaveLen(1))
	})

	It("defaults the daily-series window when not provided", func() {
		req := httptest.NewRequest(http.MethodGet, "/dashboard/daily-series?tenant=acme", nil)
		handler.ServeDailySeries(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(reporter.gotDays).To(Equal(30))
	})

	It("ignores a non-numeric query parameter and falls back to the default", func() {
		req := httptest.NewRequest(http.MethodGet, "/dashboard/daily-series?tenant=acme&days=abc", nil)
		handler.ServeDailySeries(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(reporter.gotDays).To(Equal(30))
	})

	It("returns a 500 when the reporter fails", func() {
		reporter.err = errBoom

		req := httptest.NewRequest(http.MethodGet, "/dashboard/summary?tenant=acme", nil)
		handler.ServeSummary(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusInternalServerError))
	})

	It("rejects requests without a valid bearer token when auth is enabled", func() {
		handler = httpapi.NewDashboardHandler(reporter, config.AuthConfig{Enabled: true, Token: "secret"}, zap.NewNop())

		req := httptest.NewRequest(http.MethodGet, "/dashboard/summary?tenant=acme", nil)
		handler.ServeSummary(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusUnauthorized))
	})
})
