package billing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-clinic/internal/ledger"
	"github.com/odyssey-erp/odyssey-clinic/internal/patients"
	"github.com/odyssey-erp/odyssey-clinic/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

type billingService interface {
	OpenInvoice(ctx context.Context, actor shared.Actor, in OpenInvoiceInput) (Invoice, error)
	OpenForPatient(ctx context.Context, actor shared.Actor, patientID int64, patientInsurance string) (Invoice, error)
	AddVisit(ctx context.Context, actor shared.Actor, in AddVisitInput) (PricedLine, error)
	AddInjection(ctx context.Context, actor shared.Actor, in AddInjectionInput) (PricedLine, error)
	AddProcedure(ctx context.Context, actor shared.Actor, in AddProcedureInput) (PricedLine, error)
	AddConsumable(ctx context.Context, actor shared.Actor, in AddConsumableInput) (PricedLine, error)
	DeleteLine(ctx context.Context, actor shared.Actor, invoiceID int64, itemType ledger.ItemType, itemID int64) error
	SetPayment(ctx context.Context, actor shared.Actor, in SetPaymentInput) (Financials, error)
	UnpaidItems(ctx context.Context, invoiceID int64) ([]ledger.ItemRef, error)
	SettleAll(ctx context.Context, actor shared.Actor, invoiceID int64, channel Channel) (SettleResult, error)
	CloseInvoice(ctx context.Context, actor shared.Actor, invoiceID int64) (Invoice, error)
	Invoice(ctx context.Context, id int64) (InvoiceDetail, error)
	ListOpen(ctx context.Context, limit int) ([]Invoice, error)
}

type patientRegistry interface {
	FindOrCreate(ctx context.Context, actor shared.Actor, reg patients.Registration) (patients.Patient, error)
	Get(ctx context.Context, id int64) (patients.Patient, error)
}

type idempotencyKeys interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

const registerModule = "invoices.register"

// Handler exposes the reception invoice endpoints.
type Handler struct {
	logger   *slog.Logger
	service  billingService
	patients patientRegistry
	keys     idempotencyKeys
}

// NewHandler constructs a billing HTTP handler.
func NewHandler(logger *slog.Logger, service billingService, registry patientRegistry) *Handler {
	return &Handler{logger: logger, service: service, patients: registry}
}

// WithIdempotency makes invoice registration honour the Idempotency-Key header.
func (h *Handler) WithIdempotency(keys idempotencyKeys) {
	h.keys = keys
}

// MountRoutes registers invoice routes under the reception router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/patients/{id}/invoices", h.openForPatient)
	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", h.listOpen)
		r.Post("/", h.register)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.detail)
			r.Get("/unpaid", h.unpaid)
			r.Post("/visits", h.addVisit)
			r.Post("/injections", h.addInjection)
			r.Post("/procedures", h.addProcedure)
			r.Post("/consumables", h.addConsumable)
			r.Delete("/items/{type}/{itemID}", h.deleteLine)
			r.Put("/payments", h.setPayment)
			r.Post("/settle", h.settleAll)
			r.Post("/close", h.close)
		})
	})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	httpx.RespondErrorLog(w, h.logger, err)
}

func (h *Handler) listOpen(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.service.ListOpen(r.Context(), httpx.IntQuery(r, "limit", 0))
	if err != nil {
		h.fail(w, err)
		return
	}
	if invoices == nil {
		invoices = []Invoice{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": invoices})
}

type registerRequest struct {
	patients.Registration
	SupplementaryInsurance *string `json:"supplementary_insurance"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.InsuranceType == "" {
		httpx.RespondError(w, shared.Invalid("insurance_type", "is required"))
		return
	}
	key, ok := h.claimKey(w, r, actor)
	if !ok {
		return
	}
	patient, err := h.patients.FindOrCreate(r.Context(), actor, req.Registration)
	if err != nil {
		h.releaseKey(r.Context(), key)
		h.fail(w, err)
		return
	}
	inv, err := h.service.OpenInvoice(r.Context(), actor, OpenInvoiceInput{
		PatientID:              patient.ID,
		InsuranceType:          req.InsuranceType,
		SupplementaryInsurance: req.SupplementaryInsurance,
	})
	if err != nil {
		h.releaseKey(r.Context(), key)
		h.fail(w, err)
		return
	}
	inv.PatientName = patient.FullName()
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) claimKey(w http.ResponseWriter, r *http.Request, actor shared.Actor) (string, bool) {
	raw := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if raw == "" || h.keys == nil {
		return "", true
	}
	key := strconv.FormatInt(actor.ID, 10) + ":" + raw
	err := h.keys.CheckAndInsert(r.Context(), key, registerModule)
	switch {
	case err == nil:
		return key, true
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", "this registration was already submitted")
	default:
		h.fail(w, err)
	}
	return "", false
}

func (h *Handler) releaseKey(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := h.keys.Delete(ctx, key); err != nil {
		h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func (h *Handler) openForPatient(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	patient, err := h.patients.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	inv, err := h.service.OpenForPatient(r.Context(), actor, patient.ID, patient.InsuranceType)
	if err != nil {
		h.fail(w, err)
		return
	}
	inv.PatientName = patient.FullName()
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) detail(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.Invoice(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) unpaid(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.UnpaidItems(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if items == nil {
		items = []ledger.ItemRef{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"count": len(items), "items": items})
}

// decodeLine reads the invoice id and body shared by the add-line routes.
func decodeLine(w http.ResponseWriter, r *http.Request, target any) (int64, bool) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, false
	}
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return 0, false
	}
	return id, true
}

func (h *Handler) respondLine(w http.ResponseWriter, line PricedLine, err error) {
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, line)
}

func (h *Handler) addVisit(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var in AddVisitInput
	id, ok := decodeLine(w, r, &in)
	if !ok {
		return
	}
	in.InvoiceID = id
	line, err := h.service.AddVisit(r.Context(), actor, in)
	h.respondLine(w, line, err)
}

func (h *Handler) addInjection(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var in AddInjectionInput
	id, ok := decodeLine(w, r, &in)
	if !ok {
		return
	}
	in.InvoiceID = id
	line, err := h.service.AddInjection(r.Context(), actor, in)
	h.respondLine(w, line, err)
}

func (h *Handler) addProcedure(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var in AddProcedureInput
	id, ok := decodeLine(w, r, &in)
	if !ok {
		return
	}
	in.InvoiceID = id
	line, err := h.service.AddProcedure(r.Context(), actor, in)
	h.respondLine(w, line, err)
}

func (h *Handler) addConsumable(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var in AddConsumableInput
	id, ok := decodeLine(w, r, &in)
	if !ok {
		return
	}
	in.InvoiceID = id
	line, err := h.service.AddConsumable(r.Context(), actor, in)
	h.respondLine(w, line, err)
}

func (h *Handler) deleteLine(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemID, err := httpx.IDParam(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemType := ledger.ItemType(chi.URLParam(r, "type"))
	if err := h.service.DeleteLine(r.Context(), actor, id, itemType, itemID); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setPayment(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var in SetPaymentInput
	id, ok := decodeLine(w, r, &in)
	if !ok {
		return
	}
	in.InvoiceID = id
	financials, err := h.service.SetPayment(r.Context(), actor, in)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, financials)
}

type settleRequest struct {
	Channel Channel `json:"channel"`
}

func (h *Handler) settleAll(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req settleRequest
	id, ok := decodeLine(w, r, &req)
	if !ok {
		return
	}
	result, err := h.service.SettleAll(r.Context(), actor, id, req.Channel)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.CloseInvoice(r.Context(), actor, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.logger.Info("invoice closed", slog.Int64("invoice_id", inv.ID), slog.String("closed_by", inv.ClosedBy))
	httpx.JSON(w, http.StatusOK, inv)
}
