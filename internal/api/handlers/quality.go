package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cast"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/internal/quality"
	"github.com/wonny/regtech-dq/internal/scheduler"
	"github.com/wonny/regtech-dq/pkg/logger"
)

// CorrelationHeader carries the caller's correlation id
const CorrelationHeader = "X-Correlation-ID"

// maxBodyBytes bounds a submitted batch
const maxBodyBytes = 64 << 20

// HealthCheck pings one dependency
type HealthCheck func(ctx context.Context) error

// JobStats reports scheduler statistics. *scheduler.Scheduler satisfies it.
type JobStats interface {
	GetJobStats() map[string]scheduler.JobStats
}

// QualityHandler serves batch submission, report lookup and ops endpoints
// ⭐ SSOT: 품질 API 핸들러는 이 구조체에서만
type QualityHandler struct {
	service    *quality.Service
	reports    contracts.ReportRepository
	thresholds contracts.ThresholdProvider
	jobs       JobStats
	checks     map[string]HealthCheck
	logger     *logger.Logger
}

// NewQualityHandler creates the handler. thresholds, jobs and checks may be nil.
func NewQualityHandler(
	service *quality.Service,
	reports contracts.ReportRepository,
	thresholds contracts.ThresholdProvider,
	jobs JobStats,
	checks map[string]HealthCheck,
	log *logger.Logger,
) *QualityHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &QualityHandler{
		service:    service,
		reports:    reports,
		thresholds: thresholds,
		jobs:       jobs,
		checks:     checks,
		logger:     log,
	}
}

// BatchRequest is the body of POST /api/batches
type BatchRequest struct {
	BatchID       string                     `json:"batch_id"`
	BankID        string                     `json:"bank_id"`
	AsOf          string                     `json:"as_of"`
	CorrelationID string                     `json:"correlation_id"`
	Exposures     []contracts.ExposureRecord `json:"exposures"`
}

// BatchResponse summarises a processed batch
type BatchResponse struct {
	Report           *contracts.QualityReport `json:"report"`
	AlreadyProcessed bool                     `json:"already_processed,omitempty"`
}

// SubmitBatch validates and persists a batch
// POST /api/batches
func (h *QualityHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	asOf, err := contracts.ParseDate(req.AsOf)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = r.Header.Get(CorrelationHeader)
	}

	res, err := h.service.ValidateBatch(r.Context(), quality.Command{
		BatchID:       req.BatchID,
		BankID:        req.BankID,
		AsOf:          asOf,
		Exposures:     req.Exposures,
		CorrelationID: correlationID,
	})
	switch {
	case errors.Is(err, contracts.ErrAlreadyProcessed):
		respondJSON(w, http.StatusConflict, BatchResponse{Report: res.Report, AlreadyProcessed: true})
	case errors.Is(err, contracts.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, contracts.ErrConfiguration), errors.Is(err, contracts.ErrInvalidWeights):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, contracts.ErrEngineTimeout):
		respondError(w, http.StatusGatewayTimeout, err.Error())
	case err != nil:
		h.logger.WithError(err).WithField("batch_id", req.BatchID).Error("Batch validation failed")
		respondError(w, http.StatusInternalServerError, "Batch validation failed")
	default:
		respondJSON(w, http.StatusOK, BatchResponse{Report: res.Report})
	}
}

// GetReport returns the stored report of a batch
// GET /api/reports/{batchId}
func (h *QualityHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["batchId"]

	report, err := h.reports.GetReport(r.Context(), batchID)
	if errors.Is(err, contracts.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Report not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get report")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve report")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// GetTrend aggregates a bank's completed reports
// GET /api/banks/{bankId}/trends?from=YYYY-MM-DD&to=YYYY-MM-DD&limit=N
func (h *QualityHandler) GetTrend(w http.ResponseWriter, r *http.Request) {
	q := quality.TrendQuery{BankID: mux.Vars(r)["bankId"]}
	params := r.URL.Query()

	for name, dst := range map[string]*time.Time{"from": &q.From, "to": &q.To} {
		raw := params.Get(name)
		if raw == "" {
			continue
		}
		d, err := contracts.ParseDate(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, name+": "+err.Error())
			return
		}
		*dst = d.Time
	}
	if !q.To.IsZero() {
		// to 날짜 포함
		q.To = q.To.AddDate(0, 0, 1)
	}
	if raw := params.Get("limit"); raw != "" {
		limit, err := cast.ToIntE(raw)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = limit
	}

	trend, err := h.service.Trend(r.Context(), q)
	if errors.Is(err, contracts.ErrInvalidInput) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute trend")
		respondError(w, http.StatusInternalServerError, "Failed to compute trend")
		return
	}
	respondJSON(w, http.StatusOK, trend)
}

// GetThreshold returns the thresholds the engine would use for a bank
// GET /api/thresholds/{bankId}
func (h *QualityHandler) GetThreshold(w http.ResponseWriter, r *http.Request) {
	bankID := mux.Vars(r)["bankId"]
	if h.thresholds == nil {
		respondJSON(w, http.StatusOK, contracts.DefaultThreshold(bankID))
		return
	}

	th, err := h.thresholds.ThresholdsFor(r.Context(), bankID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get threshold")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve threshold")
		return
	}
	respondJSON(w, http.StatusOK, th)
}

// GetJobs returns scheduler statistics sorted by job name
// GET /api/jobs
func (h *QualityHandler) GetJobs(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		respondJSON(w, http.StatusOK, []scheduler.JobStats{})
		return
	}
	stats := h.jobs.GetJobStats()
	out := make([]scheduler.JobStats, 0, len(stats))
	for _, st := range stats {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobName < out[j].JobName })
	respondJSON(w, http.StatusOK, out)
}

// Health pings every dependency; any failure answers 503
// GET /health
func (h *QualityHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = strings.TrimSpace(err.Error())
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	respondJSON(w, status, map[string]interface{}{
		"status":       overall,
		"service":      logger.ServiceName,
		"dependencies": deps,
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
