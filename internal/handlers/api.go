// Package handlers implements the HTTP API: record CRUD, dashboard
// metrics, totals recalculation and the spreadsheet import endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/cartorio-systems/escriba/internal/domain"
	"github.com/cartorio-systems/escriba/internal/metrics"
	"github.com/cartorio-systems/escriba/internal/middleware"
)

// RecordService is the record CRUD surface the handlers call.
type RecordService interface {
	List(ctx context.Context) ([]*domain.ProcessRecord, error)
	ListByPeriod(ctx context.Context, periodLabel string) ([]*domain.ProcessRecord, error)
	Get(ctx context.Context, id string) (*domain.ProcessRecord, error)
	Create(ctx context.Context, draft *domain.RecordDraft, actor string) (*domain.ProcessRecord, error)
	Update(ctx context.Context, id string, draft *domain.RecordDraft, actor string) (*domain.ProcessRecord, error)
	Delete(ctx context.Context, id, actor string) error
}

// MetricsService is the dashboard read surface.
type MetricsService interface {
	Dashboard(ctx context.Context, periodLabel string) (*metrics.Dashboard, error)
	PeriodTotals(ctx context.Context, periodLabel string) (*domain.PeriodTotal, bool, error)
	MonthlyEvolution(ctx context.Context) ([]metrics.MonthPoint, error)
}

// TotalsService is the recalculation surface.
type TotalsService interface {
	RecomputeAll(ctx context.Context) error
	RecomputePeriod(ctx context.Context, periodLabel string) (*domain.PeriodTotal, error)
	RecomputeGlobal(ctx context.Context) (*domain.PeriodTotal, error)
}

// PeriodLister lists the reference periods present in the records.
type PeriodLister interface {
	PeriodLabels(ctx context.Context) ([]string, error)
}

// APIHandler handles the JSON API requests
type APIHandler struct {
	records RecordService
	metrics MetricsService
	totals  TotalsService
	periods PeriodLister
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(records RecordService, m MetricsService, totals TotalsService, periods PeriodLister) *APIHandler {
	return &APIHandler{records: records, metrics: m, totals: totals, periods: periods}
}

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// recordPayload mirrors the record's JSON shape for create and update
// requests. Monetary values arrive as integer cents.
type recordPayload struct {
	Ticket        string `json:"talao"`
	PaymentStatus string `json:"statusPagamento"`
	DeedStatus    string `json:"statusEscritura"`
	DeliveryRef   string `json:"rgiEntrega"`
	Nature        string `json:"natureza"`
	Parties       string `json:"edificioAdquirenteResponsavel"`
	FeesCents     int64  `json:"valorEmolumentos"`
	BrokerCents   int64  `json:"valorCorretor"`
	AdvisoryCents int64  `json:"valorAssessoria"`
	CaseNumber    string `json:"numeroSicase"`
	PeriodLabel   string `json:"mesReferencia"`
}

func (p *recordPayload) draft() *domain.RecordDraft {
	d := domain.NewRecordDraft()
	d.Ticket = p.Ticket
	if p.PaymentStatus != "" {
		d.PaymentStatus = domain.PaymentStatus(p.PaymentStatus)
	}
	if p.DeedStatus != "" {
		d.DeedStatus = domain.DeedStatus(p.DeedStatus)
	}
	d.DeliveryRef = p.DeliveryRef
	d.Nature = p.Nature
	d.Parties = p.Parties
	d.FeesCents = p.FeesCents
	d.BrokerCents = p.BrokerCents
	d.AdvisoryCents = p.AdvisoryCents
	d.CaseNumber = p.CaseNumber
	d.PeriodLabel = p.PeriodLabel
	return d
}

// ListRecords handles GET /api/processos[?mesReferencia=...]
func (h *APIHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	var (
		records []*domain.ProcessRecord
		err     error
	)
	if label := r.URL.Query().Get("mesReferencia"); label != "" {
		records, err = h.records.ListByPeriod(r.Context(), label)
	} else {
		records, err = h.records.List(r.Context())
	}
	if err != nil {
		log.Printf("ERROR: Failed to list records: %v", err)
		http.Error(w, "Failed to fetch records", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*domain.ProcessRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// GetRecord handles GET /api/processos/{id}
func (h *APIHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.records.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		http.Error(w, "Record not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CreateRecord handles POST /api/processos
func (h *APIHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var payload recordPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	rec, err := h.records.Create(r.Context(), payload.draft(), actorOf(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// UpdateRecord handles PUT /api/processos/{id}
func (h *APIHandler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	var payload recordPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	rec, err := h.records.Update(r.Context(), r.PathValue("id"), payload.draft(), actorOf(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteRecord handles DELETE /api/processos/{id}
func (h *APIHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.records.Delete(r.Context(), r.PathValue("id"), actorOf(r)); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListPeriods handles GET /api/meses
func (h *APIHandler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	labels, err := h.periods.PeriodLabels(r.Context())
	if err != nil {
		log.Printf("ERROR: Failed to list periods: %v", err)
		http.Error(w, "Failed to fetch periods", http.StatusInternalServerError)
		return
	}
	if labels == nil {
		labels = []string{}
	}
	writeJSON(w, http.StatusOK, labels)
}

// GetPeriodTotals handles GET /api/totalizadores/{mes}
func (h *APIHandler) GetPeriodTotals(w http.ResponseWriter, r *http.Request) {
	total, fromCache, err := h.metrics.PeriodTotals(r.Context(), r.PathValue("mes"))
	if err != nil {
		log.Printf("ERROR: Failed to fetch totals: %v", err)
		http.Error(w, "Failed to fetch totals", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totais":            total,
		"totaisPersistidos": fromCache,
	})
}

// GetDashboard handles GET /api/dashboard/{mes}
func (h *APIHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.metrics.Dashboard(r.Context(), r.PathValue("mes"))
	if err != nil {
		log.Printf("ERROR: Failed to build dashboard: %v", err)
		http.Error(w, "Failed to build dashboard", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

// GetEvolution handles GET /api/evolucao
func (h *APIHandler) GetEvolution(w http.ResponseWriter, r *http.Request) {
	points, err := h.metrics.MonthlyEvolution(r.Context())
	if err != nil {
		log.Printf("ERROR: Failed to build evolution series: %v", err)
		http.Error(w, "Failed to build evolution series", http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []metrics.MonthPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// Recalculate handles POST /api/totalizadores/recalcular. With a
// ?mesReferencia= parameter only that period and the global bucket are
// rebuilt; without it everything is.
func (h *APIHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if label := r.URL.Query().Get("mesReferencia"); label != "" {
		if _, err := h.totals.RecomputePeriod(ctx, label); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := h.totals.RecomputeGlobal(ctx); err != nil {
			log.Printf("ERROR: Failed to recompute global totals: %v", err)
			http.Error(w, "Failed to recompute global totals", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mesReferencia": label})
		return
	}

	if err := h.totals.RecomputeAll(ctx); err != nil {
		log.Printf("ERROR: Failed to recompute totals: %v", err)
		http.Error(w, "Failed to recompute totals", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func actorOf(r *http.Request) string {
	if info, ok := middleware.GetAuth(r); ok {
		return info.Actor()
	}
	return "sistema"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	}
}
