package tariff

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-clinic/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

type tariffService interface {
	ListTariffs(ctx context.Context) ([]Entry, error)
	ActiveVisitTariffs(ctx context.Context) ([]Entry, error)
	ActiveSupplementary(ctx context.Context) ([]Entry, error)
	CreateTariff(ctx context.Context, actor shared.Actor, in EntryInput) (Entry, error)
	UpdateTariff(ctx context.Context, actor shared.Actor, id int64, in EntryInput) (Entry, error)
	DeleteTariff(ctx context.Context, actor shared.Actor, id int64) error
	SetBasePrice(ctx context.Context, actor shared.Actor, price decimal.Decimal) (Entry, error)
	Exclusions(ctx context.Context, insuranceType string) ([]Exclusion, error)
	ReplaceExclusions(ctx context.Context, actor shared.Actor, insuranceType string, serviceIDs []int64) error
	ListItems(ctx context.Context, kind Kind, activeOnly bool) ([]CatalogItem, error)
	CreateItem(ctx context.Context, actor shared.Actor, kind Kind, in ItemInput) (CatalogItem, error)
	UpdateItem(ctx context.Context, actor shared.Actor, kind Kind, id int64, in ItemInput) (CatalogItem, error)
	DeactivateItem(ctx context.Context, actor shared.Actor, kind Kind, id int64) error
}

// Handler exposes tariff and price-list endpoints.
type Handler struct {
	logger  *slog.Logger
	service tariffService
}

// NewHandler constructs a tariff HTTP handler.
func NewHandler(logger *slog.Logger, service tariffService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountReceptionRoutes registers the read-only lists reception needs.
func (h *Handler) MountReceptionRoutes(r chi.Router) {
	r.Get("/tariffs/visit", h.listVisit)
	r.Get("/tariffs/supplementary", h.listSupplementary)
	r.Get("/catalog/{kind}", h.listActiveItems)
}

// MountRoutes registers manager administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/tariffs", func(r chi.Router) {
		r.Get("/", h.listAll)
		r.Post("/", h.create)
		r.Put("/base", h.setBase)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
	r.Route("/insurance/{insurance}/nursing-exclusions", func(r chi.Router) {
		r.Get("/", h.listExclusions)
		r.Put("/", h.replaceExclusions)
	})
	r.Route("/catalog/{kind}", func(r chi.Router) {
		r.Get("/", h.listItems)
		r.Post("/", h.createItem)
		r.Put("/{id}", h.updateItem)
		r.Delete("/{id}", h.deactivateItem)
	})
}

func (h *Handler) respondList(w http.ResponseWriter, items any, err error) {
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) listVisit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ActiveVisitTariffs(r.Context())
	h.respondList(w, entries, err)
}

func (h *Handler) listSupplementary(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ActiveSupplementary(r.Context())
	h.respondList(w, entries, err)
}

func (h *Handler) listAll(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListTariffs(r.Context())
	h.respondList(w, entries, err)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var in EntryInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.CreateTariff(r.Context(), actor, in)
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in EntryInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.UpdateTariff(r.Context(), actor, id, in)
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteTariff(r.Context(), actor, id); err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type basePriceRequest struct {
	TariffPrice decimal.Decimal `json:"tariff_price"`
}

func (h *Handler) setBase(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req basePriceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.SetBasePrice(r.Context(), actor, req.TariffPrice)
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func insuranceParam(r *http.Request) string {
	raw := chi.URLParam(r, "insurance")
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

func (h *Handler) listExclusions(w http.ResponseWriter, r *http.Request) {
	exclusions, err := h.service.Exclusions(r.Context(), insuranceParam(r))
	h.respondList(w, exclusions, err)
}

type exclusionsRequest struct {
	ServiceIDs []int64 `json:"service_ids"`
}

func (h *Handler) replaceExclusions(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req exclusionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	insurance := insuranceParam(r)
	if err := h.service.ReplaceExclusions(r.Context(), actor, insurance, req.ServiceIDs); err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	h.logger.Info("nursing exclusions replaced", slog.String("insurance_type", insurance), slog.Int("count", len(req.ServiceIDs)))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listActiveItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListItems(r.Context(), Kind(chi.URLParam(r, "kind")), true)
	h.respondList(w, items, err)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "1"
	items, err := h.service.ListItems(r.Context(), Kind(chi.URLParam(r, "kind")), activeOnly)
	h.respondList(w, items, err)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var in ItemInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.CreateItem(r.Context(), actor, Kind(chi.URLParam(r, "kind")), in)
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in ItemInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.UpdateItem(r.Context(), actor, Kind(chi.URLParam(r, "kind")), id, in)
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) deactivateItem(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeactivateItem(r.Context(), actor, Kind(chi.URLParam(r, "kind")), id); err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
