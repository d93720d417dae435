package arrears

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-clinic/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

type reporter interface {
	Report(ctx context.Context, f Filter) (Summary, error)
	Trailing(days int, insuranceType string) Filter
}

type snapshotReader interface {
	Latest(ctx context.Context) (Snapshot, error)
	Get(ctx context.Context, id string) (Snapshot, error)
}

// Enqueuer schedules an asynchronous snapshot run.
type Enqueuer interface {
	EnqueueArrearsSnapshot(ctx context.Context, days int, insuranceType string) (string, error)
}

// Handler exposes the manager arrears endpoints.
type Handler struct {
	logger    *slog.Logger
	service   reporter
	snapshots snapshotReader
	enqueuer  Enqueuer
	days      int
}

// NewHandler constructs the arrears HTTP handler. defaultDays is the window
// a snapshot request covers when none is given.
func NewHandler(logger *slog.Logger, service reporter, snapshots snapshotReader, enqueuer Enqueuer, defaultDays int) *Handler {
	if defaultDays <= 0 {
		defaultDays = 30
	}
	return &Handler{logger: logger, service: service, snapshots: snapshots, enqueuer: enqueuer, days: defaultDays}
}

// MountRoutes registers arrears routes under the manager router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/arrears", func(r chi.Router) {
		r.Get("/", h.report)
		r.Get("/snapshot", h.latest)
		r.Post("/snapshot", h.enqueue)
		r.Get("/snapshot/{id}", h.snapshot)
	})
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	insurance := strings.TrimSpace(r.URL.Query().Get("insurance"))
	from, err := httpx.DateQuery(r, "from")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := httpx.DateQuery(r, "to")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := Filter{From: from, To: to, InsuranceType: insurance}
	if days := httpx.IntQuery(r, "days", 0); days > 0 && from == nil && to == nil {
		filter = h.service.Trailing(days, insurance)
	}
	summary, err := h.service.Report(r.Context(), filter)
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) latest(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.Latest(r.Context())
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

type enqueueRequest struct {
	Days          int    `json:"days"`
	InsuranceType string `json:"insurance_type"`
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	if req.Days < 0 {
		httpx.RespondError(w, shared.Invalid("days", "must be at least 0"))
		return
	}
	if req.Days == 0 {
		req.Days = h.days
	}
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Jobs Unavailable", "background queue is not configured")
		return
	}
	taskID, err := h.enqueuer.EnqueueArrearsSnapshot(r.Context(), req.Days, strings.TrimSpace(req.InsuranceType))
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	h.logger.Info("arrears snapshot enqueued", slog.String("task_id", taskID), slog.Int("days", req.Days), slog.String("actor", actor.Username))
	httpx.JSON(w, http.StatusAccepted, map[string]any{"task_id": taskID, "days": req.Days})
}
