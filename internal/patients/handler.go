package patients

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-clinic/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

type patientService interface {
	FindOrCreate(ctx context.Context, actor shared.Actor, reg Registration) (Patient, error)
	Get(ctx context.Context, id int64) (Patient, error)
	Search(ctx context.Context, query string, limit int) ([]Patient, error)
}

// Handler exposes patient lookup and registration.
type Handler struct {
	logger  *slog.Logger
	service patientService
}

// NewHandler constructs a patient HTTP handler.
func NewHandler(logger *slog.Logger, service patientService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers patient routes on the reception router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/patients", h.search)
	r.Post("/patients", h.register)
	r.Get("/patients/{id}", h.get)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	found, err := h.service.Search(r.Context(), r.URL.Query().Get("q"), httpx.IntQuery(r, "limit", 0))
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": found})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var reg Registration
	if err := httpx.DecodeJSON(r, &reg); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.FindOrCreate(r.Context(), actor, reg)
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}
