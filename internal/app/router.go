package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-clinic/internal/arrears"
	"github.com/odyssey-erp/odyssey-clinic/internal/audit"
	"github.com/odyssey-erp/odyssey-clinic/internal/billing"
	"github.com/odyssey-erp/odyssey-clinic/internal/observability"
	"github.com/odyssey-erp/odyssey-clinic/internal/patients"
	"github.com/odyssey-erp/odyssey-clinic/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-clinic/internal/reports"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
	"github.com/odyssey-erp/odyssey-clinic/internal/shift"
	"github.com/odyssey-erp/odyssey-clinic/internal/tariff"
	"github.com/odyssey-erp/odyssey-clinic/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger    *slog.Logger
	Config    *Config
	ActorAuth *ActorAuth
	Metrics   *observability.Metrics

	PatientsHandler *patients.Handler
	BillingHandler  *billing.Handler
	ShiftHandler    *shift.Handler
	TariffHandler   *tariff.Handler
	ArrearsHandler  *arrears.Handler
	ReportsHandler  *reports.Handler
	AuditHandler    *audit.Handler
	JobHandler      *jobs.Handler
}

// NewRouter constructs the chi.Router with Odyssey defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	if params.Config != nil && !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method+" "+r.URL.Path)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if params.ActorAuth != nil {
			r.Use(params.ActorAuth.Middleware)
		}

		r.Route("/reception", func(r chi.Router) {
			if params.PatientsHandler != nil {
				params.PatientsHandler.MountRoutes(r)
			}
			if params.BillingHandler != nil {
				params.BillingHandler.MountRoutes(r)
			}
			if params.ShiftHandler != nil {
				r.Route("/shift", params.ShiftHandler.MountRoutes)
			}
			if params.TariffHandler != nil {
				params.TariffHandler.MountReceptionRoutes(r)
			}
		})

		r.Route("/manager", func(r chi.Router) {
			r.Use(RequireRole(shared.RoleManager))
			if params.TariffHandler != nil {
				params.TariffHandler.MountRoutes(r)
			}
			if params.ArrearsHandler != nil {
				params.ArrearsHandler.MountRoutes(r)
			}
			if params.ReportsHandler != nil {
				params.ReportsHandler.MountRoutes(r)
			}
			if params.AuditHandler != nil {
				params.AuditHandler.MountRoutes(r)
			}
			if params.JobHandler != nil {
				r.Route("/jobs", params.JobHandler.MountRoutes)
			}
		})
	})

	return r
}
