// Package chi exposes the operations HTTP surface: health, Prometheus
// metrics, a JSON search endpoint and a token spend report for operators
// and tests. The voice path itself runs over the WebSocket session gateway.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/domain/search/result"
	domusage "github.com/kailas-cloud/voxdex/internal/domain/usage"
	healthuc "github.com/kailas-cloud/voxdex/internal/usecase/health"
	searchuc "github.com/kailas-cloud/voxdex/internal/usecase/search"
	usageuc "github.com/kailas-cloud/voxdex/internal/usecase/usage"
)

// Limits bounds the search endpoint's limit parameter.
type Limits struct {
	DefaultLimit int
	MaxLimit     int
}

// Server holds the HTTP API handlers. Routes are mounted in main.
type Server struct {
	search *searchuc.Service
	usage  *usageuc.Service
	health *healthuc.Service
	limits Limits
	logger *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(
	search *searchuc.Service,
	usage *usageuc.Service,
	health *healthuc.Service,
	limits Limits,
	logger *zap.Logger,
) *Server {
	return &Server{search: search, usage: usage, health: health, limits: limits, logger: logger}
}

// searchRequest is the POST /v1/search body.
type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// searchHit is one ranked hit with its explainable sub-scores.
type searchHit struct {
	ID           string             `json:"id"`
	Score        float64            `json:"score"`
	SubScores    map[string]float64 `json:"sub_scores"`
	Description  string             `json:"description,omitempty"`
	Numerics     map[string]float64 `json:"numerics,omitempty"`
	Categoricals map[string]string  `json:"categoricals,omitempty"`
}

// droppedFilter reports a categorical filter removed because its value
// matched nothing in the index.
type droppedFilter struct {
	Attr  string `json:"attr"`
	Value string `json:"value"`
}

// searchResponse is the POST /v1/search reply.
type searchResponse struct {
	Hits     []searchHit     `json:"hits"`
	Dropped  []droppedFilter `json:"dropped_filters,omitempty"`
	Degraded bool            `json:"degraded,omitempty"`
}

// Search handles POST /v1/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	if domain.BlankText(req.Query) {
		writeError(w, http.StatusBadRequest, "validation_failed", "query is required")
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = s.limits.DefaultLimit
	}
	if limit < 1 || limit > s.limits.MaxLimit {
		writeError(w, http.StatusBadRequest, "validation_failed",
			fmt.Sprintf("limit must be between 1 and %d", s.limits.MaxLimit))
		return
	}

	out, err := s.search.Search(r.Context(), req.Query, limit)
	if err != nil {
		s.handleSearchError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcomeToResponse(out))
}

func (s *Server) handleSearchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrIndexUnavailable):
		s.logger.Warn("Search unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "index_unavailable", domain.ErrIndexUnavailable.Error())
	case errors.Is(err, context.Canceled):
		// Client went away; nothing left to answer.
	default:
		s.logger.Error("Search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func outcomeToResponse(out searchuc.Outcome) searchResponse {
	resp := searchResponse{
		Hits:     make([]searchHit, len(out.Hits)),
		Degraded: out.Degraded,
	}
	for i := range out.Hits {
		resp.Hits[i] = hitToGen(&out.Hits[i])
	}
	for _, d := range out.Dropped {
		resp.Dropped = append(resp.Dropped, droppedFilter{Attr: d.Attr, Value: d.Value})
	}
	return resp
}

func hitToGen(h *result.Scored) searchHit {
	entity := h.Entity()
	return searchHit{
		ID:           h.ID(),
		Score:        h.Composite(),
		SubScores:    h.SubScores(),
		Description:  entity.Description,
		Numerics:     entity.Numerics,
		Categoricals: entity.Categoricals,
	}
}

// usageBudget is the budget block of the spend report.
type usageBudget struct {
	TokensLimit     int        `json:"tokens_limit"`
	TokensRemaining int        `json:"tokens_remaining"`
	IsExhausted     bool       `json:"is_exhausted"`
	ResetsAt        *time.Time `json:"resets_at,omitempty"`
}

// usageResponse is the GET /v1/usage reply.
type usageResponse struct {
	Period        string      `json:"period"`
	PeriodStartAt *time.Time  `json:"period_start_at,omitempty"`
	PeriodEndAt   *time.Time  `json:"period_end_at,omitempty"`
	TokensUsed    int64       `json:"tokens_used"`
	Budget        usageBudget `json:"budget"`
}

// Usage handles GET /v1/usage.
func (s *Server) Usage(w http.ResponseWriter, r *http.Request) {
	period := domusage.PeriodDay
	if p := r.URL.Query().Get("period"); p != "" {
		switch domusage.Period(p) {
		case domusage.PeriodDay, domusage.PeriodMonth:
			period = domusage.Period(p)
		default:
			writeError(w, http.StatusBadRequest, "validation_failed", "period must be day or month")
			return
		}
	}

	report := s.usage.GetReport(r.Context(), period)

	resp := usageResponse{
		Period:     string(report.Period()),
		TokensUsed: report.TokensUsed(),
		Budget: usageBudget{
			TokensLimit:     report.Budget().TokensLimit(),
			TokensRemaining: report.Budget().TokensRemaining(),
			IsExhausted:     report.Budget().IsExhausted(),
		},
	}

	if report.PeriodStart() > 0 {
		start := time.UnixMilli(report.PeriodStart()).UTC()
		end := time.UnixMilli(report.PeriodEnd()).UTC()
		resp.PeriodStartAt = &start
		resp.PeriodEndAt = &end
	}
	if report.Budget().ResetsAt() > 0 {
		resetsAt := time.UnixMilli(report.Budget().ResetsAt()).UTC()
		resp.Budget.ResetsAt = &resetsAt
	}

	writeJSON(w, http.StatusOK, resp)
}

// healthResponse is the GET /healthz reply.
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthCheck handles GET /healthz.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// errorResponse is the JSON error body for every non-2xx reply.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}
