package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/internal/config"
	"github.com/jordigilh/invoicepipe/pkg/dashboard"
)

// Reporter narrows dashboard.Aggregator to what DashboardHandler needs,
// so this package never imports *sqlx.DB.
type Reporter interface {
	Summary(ctx context.Context, tenant string) (dashboard.Summary, error)
	TopParts(ctx context.Context, tenant string, limit int) ([]dashboard.PartTotal, error)
	ReorderAlerts(ctx context.Context, tenant string, limit int) ([]dashboard.ReorderAlert, error)
	DailySeries(ctx context.Context, tenant string, days int) ([]dashboard.DailyPoint, error)
}

// DashboardHandler serves the four read-only reporting GETs (§5.5).
type DashboardHandler struct {
	reporter Reporter
	auth     config.AuthConfig
	log      *zap.Logger
}

// NewDashboardHandler builds a DashboardHandler backed by reporter.
func NewDashboardHandler(reporter Reporter, authConfig config.AuthConfig, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{reporter: reporter, auth: authConfig, log: logger}
}

func (h *DashboardHandler) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
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

// ServeSummary handles GET /dashboard/summary.
func (h *DashboardHandler) ServeSummary(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	summary, err := h.reporter.Summary(r.Context(), tenant)
	if err != nil {
		h.log.Error("failed to compute dashboard summary", zap.String("tenant", tenant), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to compute summary")
		return
	}
	h.writeJSON(w, summary)
}

// ServeTopParts handles GET /dashboard/top-parts?limit=N.
func (h *DashboardHandler) ServeTopParts(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	parts, err := h.reporter.TopParts(r.Context(), tenant, queryInt(r, "limit", 10))
	if err != nil {
		h.log.Error("failed to rank top parts", zap.String("tenant", tenant), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to load top parts")
		return
	}
	h.writeJSON(w, parts)
}

// ServeReorderAlerts handles GET /dashboard/reorder-alerts?limit=N.
func (h *DashboardHandler) ServeReorderAlerts(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	alerts, err := h.reporter.ReorderAlerts(r.Context(), tenant, queryInt(r, "limit", 20))
	if err != nil {
		h.log.Error("failed to load reorder alerts", zap.String("tenant", tenant), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to load reorder alerts")
		return
	}
	h.writeJSON(w, alerts)
}

// ServeDailySeries handles GET /dashboard/daily-series?days=N.
func (h *DashboardHandler) ServeDailySeries(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	points, err := h.reporter.DailySeries(r.Context(), tenant, queryInt(r, "days", 30))
	if err != nil {
		h.log.Error("failed to load daily series", zap.String("tenant", tenant), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to load daily series")
		return
	}
	h.writeJSON(w, points)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func (h *DashboardHandler) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(payload)
}

func (h *DashboardHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(UploadResponse{Status: "error", Error: message})
}
