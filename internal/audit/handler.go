package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/odyssey-clinic/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

const (
	exportRateLimit  = 10
	exportRateWindow = time.Minute
)

type timelineService interface {
	Timeline(ctx context.Context, actor shared.Actor, filters TimelineFilters) (Result, error)
	Export(ctx context.Context, actor shared.Actor, filters TimelineFilters) ([]TimelineRow, error)
}

// Handler serves the activity timeline.
type Handler struct {
	logger  *slog.Logger
	service timelineService
	loc     *time.Location
}

// NewHandler constructs an activity timeline handler. Date filters are read in loc.
func NewHandler(logger *slog.Logger, service timelineService, loc *time.Location) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{logger: logger, service: service, loc: loc}
}

// MountRoutes registers the timeline and the rate-limited CSV export.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(exportRateLimit, exportRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "export rate limit exceeded")
		}),
	)
	r.Get("/activity", h.timeline)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Get("/activity/export.csv", h.export)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if actor, ok := shared.ActorFromContext(r.Context()); ok && actor.ID > 0 {
		return "actor:" + strconv.FormatInt(actor.ID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

func (h *Handler) parseFilters(r *http.Request) (TimelineFilters, error) {
	q := r.URL.Query()
	filters := TimelineFilters{
		Entity:   q.Get("entity"),
		EntityID: q.Get("entity_id"),
		Action:   q.Get("action"),
		Page:     httpx.IntQuery(r, "page", 1),
		PageSize: httpx.IntQuery(r, "page_size", defaultPageSize),
	}
	if raw := q.Get("actor_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return TimelineFilters{}, shared.Invalid("actor_id", "must be a positive integer")
		}
		filters.ActorID = id
	}
	from, err := httpx.DateQuery(r, "from")
	if err != nil {
		return TimelineFilters{}, err
	}
	to, err := httpx.DateQuery(r, "to")
	if err != nil {
		return TimelineFilters{}, err
	}
	if from != nil {
		filters.From = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, h.loc)
	}
	if to != nil {
		// inclusive end date
		filters.To = time.Date(to.Year(), to.Month(), to.Day()+1, 0, 0, 0, 0, h.loc)
	}
	return filters, nil
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	result, err := h.service.Timeline(r.Context(), actor, filters)
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

var exportHeader = []string{"at", "actor_id", "actor_name", "role", "action", "entity", "entity_id", "meta"}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	rows, err := h.service.Export(r.Context(), actor, filters)
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="activity.csv"`)
	w.WriteHeader(http.StatusOK)
	cw := csv.NewWriter(w)
	_ = cw.Write(exportHeader)
	for _, row := range rows {
		meta := ""
		if len(row.Meta) > 0 {
			if b, err := json.Marshal(row.Meta); err == nil {
				meta = string(b)
			}
		}
		_ = cw.Write([]string{
			row.At.In(h.loc).Format(time.RFC3339),
			strconv.FormatInt(row.ActorID, 10),
			row.ActorName,
			row.Role,
			row.Action,
			row.Entity,
			row.EntityID,
			meta,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Warn("write activity export", slog.Any("error", err))
	}
}
