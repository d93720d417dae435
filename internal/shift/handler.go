package shift

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-clinic/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

type shiftService interface {
	Current(ctx context.Context, actor shared.Actor) (ActorShift, error)
	ChangeShift(ctx context.Context, actor shared.Actor, in ChangeInput) (ActorShift, error)
	AssignStaff(ctx context.Context, actor shared.Actor, in AssignInput) (Assignment, error)
	Assignment(ctx context.Context, workDate time.Time, shift Name) (Assignment, error)
}

// Handler exposes the reception shift endpoints.
type Handler struct {
	logger  *slog.Logger
	service shiftService
}

// NewHandler constructs a shift HTTP handler.
func NewHandler(logger *slog.Logger, service shiftService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers shift routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.status)
	r.Post("/", h.change)
	r.Post("/staff", h.assignStaff)
}

type statusResponse struct {
	Current ActorShift `json:"current"`
	Staff   Assignment `json:"staff"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	current, err := h.service.Current(r.Context(), actor)
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	staff, err := h.service.Assignment(r.Context(), current.WorkDate, current.Shift)
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, statusResponse{Current: current, Staff: staff})
}

type changeRequest struct {
	Shift    string `json:"shift"`
	WorkDate string `json:"work_date"`
}

func (h *Handler) change(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req changeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := ChangeInput{Shift: req.Shift}
	if req.WorkDate != "" {
		d, err := time.Parse(time.DateOnly, req.WorkDate)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("work_date", "must be a date"))
			return
		}
		in.WorkDate = &d
	}
	next, err := h.service.ChangeShift(r.Context(), actor, in)
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	h.logger.Info("shift changed", slog.Int64("actor_id", actor.ID), slog.String("shift", string(next.Shift)), slog.String("work_date", next.WorkDate.Format(time.DateOnly)))
	httpx.JSON(w, http.StatusOK, next)
}

type assignRequest struct {
	WorkDate string `json:"work_date"`
	Shift    string `json:"shift"`
	DoctorID *int64 `json:"doctor_id"`
	NurseID  *int64 `json:"nurse_id"`
}

func (h *Handler) assignStaff(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := AssignInput{Shift: req.Shift, DoctorID: req.DoctorID, NurseID: req.NurseID}
	if req.WorkDate != "" {
		d, err := time.Parse(time.DateOnly, req.WorkDate)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("work_date", "must be a date"))
			return
		}
		in.WorkDate = &d
	}
	assigned, err := h.service.AssignStaff(r.Context(), actor, in)
	if err != nil {
		httpx.RespondErrorLog(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, assigned)
}
