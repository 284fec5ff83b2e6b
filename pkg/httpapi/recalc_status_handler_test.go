package httpapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/internal/config"
	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
	"github.com/jordigilh/invoicepipe/pkg/httpapi"
)

type fakeRecalcTaskReader struct {
	task *models.RecalculationTask
	err  error
}

func (f *fakeRecalcTaskReader) Get(ctx context.Context, taskID string) (*models.RecalculationTask, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.task, nil
}

func (f *fakeRecalcTaskReader) MostRecent(ctx context.Context, tenant string) (*models.RecalculationTask, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.task, nil
}

var _ = Describe("Recalc Status Handler", func() {
	var (
		reader   *fakeRecalcTaskReader
		handler  *httpapi.RecalcStatusHandler
		recorder *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		reader = &fakeRecalcTaskReader{task: &models.RecalculationTask{TaskID: "recalc-1", Tenant: "acme", Status: models.TaskStatusCompleted}}
		handler = httpapi.NewRecalcStatusHandler(reader, config.AuthConfig{}, zap.NewNop())
		recorder = httptest.NewRecorder()
	})

	It("returns a recalculation task by id", func() {
		req := httptest.NewRequest(http.MethodGet, "/stock/recalc/status/recalc-1", nil)
		handler.ServeStatus(recorder, req, "recalc-1")

		Expect(recorder.Code).To(Equal(http.StatusOK))
	})

	It("returns 404 when the task is not found", func() {
		reader.err = errBoom

		req := httptest.NewRequest(http.MethodGet, "/stock/recalc/status/missing", nil)
		handler.ServeStatus(recorder, req, "missing")

		Expect(recorder.Code).To(Equal(http.StatusNotFound))
	})

	It("returns the most recent recalculation task for a tenant", func() {
		req := httptest.NewRequest(http.MethodGet, "/stock/recalc/recent-task?tenant=acme", nil)
		handler.ServeRecent(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusOK))
	})

	It("rejects a recent-task request with no tenant", func() {
		req := httptest.NewRequest(http.MethodGet, "/stock/recalc/recent-task", nil)
		handler.ServeRecent(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
	})

	It("rejects requests without a valid bearer token when auth is enabled", func() {
		handler = httpapi.NewRecalcStatusHandler(reader, config.AuthConfig{Enabled: true, Token: "secret"}, zap.NewNop())

		req := httptest.NewRequest(http.MethodGet, "/stock/recalc/status/recalc-1", nil)
		handler.ServeStatus(recorder, req, "recalc-1")

		Expect(recorder.Code).To(Equal(http.StatusUnauthorized))
	})
})
