package reports

import (
	"context"
	"encoding/csv"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-clinic/internal/ledger"
	"github.com/odyssey-erp/odyssey-clinic/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

type reportService interface {
	ConsumableUsage(ctx context.Context, actor shared.Actor, f ConsumableFilter) (ConsumableReport, error)
}

// Handler exposes manager report endpoints.
type Handler struct {
	logger  *slog.Logger
	service reportService
}

// NewHandler constructs a report HTTP handler.
func NewHandler(logger *slog.Logger, service reportService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers report routes under the manager router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/reports/consumables", h.consumables)
	r.Get("/reports/consumables.csv", h.consumablesCSV)
}

func (h *Handler) load(r *http.Request) (ConsumableReport, error) {
	from, err := httpx.DateQuery(r, "from")
	if err != nil {
		return ConsumableReport{}, err
	}
	to, err := httpx.DateQuery(r, "to")
	if err != nil {
		return ConsumableReport{}, err
	}
	q := r.URL.Query()
	f := ConsumableFilter{
		ItemName: q.Get("item_name"),
		Category: ledger.Category(strings.TrimSpace(q.Get("category"))),
		Shift:    q.Get("shift"),
	}
	if from != nil {
		f.From = *from
	}
	if to != nil {
		f.To = *to
	}
	actor, _ := shared.ActorFromContext(r.Context())
	return h.service.ConsumableUsage(r.Context(), actor, f)
}

func (h *Handler) consumables(w http.ResponseWriter, r *http.Request) {
	report, err := h.load(r)
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

var csvHeader = []string{"work_date", "used_at", "patient", "item", "category", "quantity", "unit_price", "total_cost", "shift", "notes"}

func (h *Handler) consumablesCSV(w http.ResponseWriter, r *http.Request) {
	report, err := h.load(r)
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="consumables_report.csv"`)
	// UTF-8 BOM for spreadsheet tools.
	_, _ = w.Write([]byte("\xef\xbb\xbf"))
	cw := csv.NewWriter(w)
	_ = cw.Write(csvHeader)
	for _, it := range report.Items {
		_ = cw.Write([]string{
			it.WorkDate.Format(time.DateOnly),
			it.UsedAt.Format(time.RFC3339),
			it.PatientName,
			it.ItemName,
			string(it.Category),
			it.Quantity.String(),
			it.UnitPrice.String(),
			it.TotalCost.String(),
			it.Shift,
			it.Notes,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Warn("write consumables csv", slog.Any("error", err))
	}
}
