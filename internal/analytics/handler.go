package analytics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/care-analytics-service/pkg/logging"
)

// RelationalAggregator is implemented by PatientVisitRepository.
type RelationalAggregator interface {
	PatientsByStatus(ctx context.Context) ([]StatusCount, error)
	VisitsByStatus(ctx context.Context) ([]StatusCount, error)
	CriticalPatientCount(ctx context.Context) (int64, error)
	PerformanceSnapshot(ctx context.Context) (*Performance, error)
	DashboardSnapshot(ctx context.Context) (*Dashboard, error)
}

// DocumentAggregator is implemented by VisitDocumentStore.
type DocumentAggregator interface {
	StaffTasksToday(ctx context.Context, staffID string) (*TaskStats, error)
	StaffVisitsToday(ctx context.Context, staffID string) ([]Visit, error)
}

var errMissingStaffID = &requestError{msg: "staffId is required"}

// Handler serves the /api/analytics endpoints.
type Handler struct {
	relational   RelationalAggregator
	documents    DocumentAggregator
	logger       *logging.Logger
	queryTimeout time.Duration
}

// NewHandler creates the analytics HTTP handler. documents may be nil when
// the document store could not be reached at startup; the staff endpoints
// then report it as unavailable.
func NewHandler(relational RelationalAggregator, documents DocumentAggregator, logger *logging.Logger) *Handler {
	if relational == nil {
		panic("analytics: relational aggregator required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		relational: relational,
		documents:  documents,
		logger:     logger,
	}
}

// WithQueryTimeout bounds every request's store calls. Zero disables it.
func (h *Handler) WithQueryTimeout(d time.Duration) *Handler {
	h.queryTimeout = d
	return h
}

// Routes returns the analytics router, meant to be mounted at /api/analytics.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/patients/summary", h.serve("patients_summary", emptyList, h.patientsSummary))
	r.Get("/visits/summary", h.serve("visits_summary", emptyList, h.visitsSummary))
	r.Get("/patients/critical", h.serve("critical_patients", nullData, h.criticalPatients))
	r.Get("/performance", h.serve("performance", nullData, h.performance))
	r.Get("/dashboard/stats", h.serve("dashboard_stats", nullData, h.dashboardStats))
	r.Get("/staff/{staffId}/tasks/today", h.serve("staff_tasks_today", nullData, h.staffTasksToday))
	r.Get("/staff/{staffId}/visits/today", h.serve("staff_visits_today", nullData, h.staffVisitsToday))
	return r
}

// serve is the error translation boundary shared by every endpoint.
func (h *Handler) serve(op string, onError placeholder, fn func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.queryTimeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
			defer cancel()
			r = r.WithContext(ctx)
		}

		data, err := fn(r)
		if err == nil {
			writeEnvelope(w, http.StatusOK, Envelope{Data: data})
			return
		}

		var reqErr *requestError
		if errors.As(err, &reqErr) {
			writeEnvelope(w, http.StatusBadRequest, Envelope{Error: reqErr.msg, Data: onError.value()})
			return
		}

		h.logger.Error("analytics request failed",
			"operation", op,
			"request_id", middleware.GetReqID(r.Context()),
			"unavailable", errors.Is(err, ErrStoreUnavailable),
			"error", err,
		)
		writeEnvelope(w, http.StatusInternalServerError, Envelope{Error: PublicMessage(err), Data: onError.value()})
	}
}

func (h *Handler) patientsSummary(r *http.Request) (any, error) {
	return h.relational.PatientsByStatus(r.Context())
}

func (h *Handler) visitsSummary(r *http.Request) (any, error) {
	return h.relational.VisitsByStatus(r.Context())
}

func (h *Handler) criticalPatients(r *http.Request) (any, error) {
	n, err := h.relational.CriticalPatientCount(r.Context())
	if err != nil {
		return nil, err
	}
	return CriticalPatients{CriticalPatients: n}, nil
}

func (h *Handler) performance(r *http.Request) (any, error) {
	return h.relational.PerformanceSnapshot(r.Context())
}

func (h *Handler) dashboardStats(r *http.Request) (any, error) {
	return h.relational.DashboardSnapshot(r.Context())
}

func (h *Handler) staffTasksToday(r *http.Request) (any, error) {
	staffID, err := staffIDParam(r)
	if err != nil {
		return nil, err
	}
	if h.documents == nil {
		return nil, unavailable(StoreDocument, "staff_tasks_today", nil)
	}
	return h.documents.StaffTasksToday(r.Context(), staffID)
}

func (h *Handler) staffVisitsToday(r *http.Request) (any, error) {
	staffID, err := staffIDParam(r)
	if err != nil {
		return nil, err
	}
	if h.documents == nil {
		return nil, unavailable(StoreDocument, "staff_visits_today", nil)
	}
	return h.documents.StaffVisitsToday(r.Context(), staffID)
}

func staffIDParam(r *http.Request) (string, error) {
	staffID := strings.TrimSpace(chi.URLParam(r, "staffId"))
	if staffID == "" {
		return "", errMissingStaffID
	}
	return staffID, nil
}
