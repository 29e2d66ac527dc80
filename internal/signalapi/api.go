// Package signalapi exposes the gating service over HTTP: signal
// ingestion, cycle triggering, and the audit/stats read side.
package signalapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/signalgate/internal/authmw"
	"github.com/linnemanlabs/signalgate/internal/gating"
	"github.com/linnemanlabs/signalgate/internal/signal"
)

const (
	defaultDetectionLimit = 50
	maxDetectionLimit     = 500
	maxBatchSize          = 1000

	defaultCleanupAge = 30 * 24 * time.Hour
)

// GatingService defines the business operations signalapi needs.
type GatingService interface {
	EvaluateBatch(ctx context.Context, events []signal.RawEvent) *gating.BatchResult
	RunCycle(ctx context.Context) *gating.CycleSummary
	RecentDetections(ctx context.Context, limit int) ([]*gating.DetectionRecord, error)
	Stats(ctx context.Context) (*gating.StoreStats, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// PolicySource is the policy read/reload surface exposed over HTTP.
type PolicySource interface {
	Snapshot() *gating.Policy
	Reload() error
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger     log.Logger
	svc        GatingService
	policies   PolicySource
	adminToken string
}

// New creates a new API handler.
func New(logger log.Logger, svc GatingService, policies PolicySource, adminToken string) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("gating service is required"))
	}
	if policies == nil {
		panic(xerrors.New("policy source is required"))
	}
	return &API{
		logger:     logger,
		svc:        svc,
		policies:   policies,
		adminToken: adminToken,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/signals", a.handleIngestSignals)
		r.Post("/cycles", a.handleRunCycle)
		r.Get("/detections", a.handleRecentDetections)
		r.Get("/stats", a.handleStats)
		r.Get("/policy", a.handleGetPolicy)

		r.Route("/admin", func(r chi.Router) {
			r.Use(authmw.BearerToken(a.adminToken))
			r.Post("/policy/reload", a.handleReloadPolicy)
			r.Post("/cleanup", a.handleCleanup)
		})
	})
}

func (a *API) handleIngestSignals(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Signals []signal.RawEvent `json:"signals"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if len(req.Signals) == 0 {
		http.Error(w, `{"error":"empty batch"}`, http.StatusBadRequest)
		return
	}
	if len(req.Signals) > maxBatchSize {
		http.Error(w, `{"error":"batch too large"}`, http.StatusRequestEntityTooLarge)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int("signalgate.batch.size", len(req.Signals)))

	res := a.svc.EvaluateBatch(r.Context(), req.Signals)

	span.SetAttributes(
		attribute.Int("signalgate.batch.accepted", res.Accepted),
		attribute.Int("signalgate.batch.skipped", res.Skipped),
	)

	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	sum := a.svc.RunCycle(r.Context())

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.Int("signalgate.cycle.pairs", sum.Pairs),
		attribute.Int("signalgate.cycle.accepted", sum.Accepted),
	)

	writeJSON(w, http.StatusOK, sum)
}

func (a *API) handleRecentDetections(w http.ResponseWriter, r *http.Request) {
	limit := defaultDetectionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = min(n, maxDetectionLimit)
	}

	recs, err := a.svc.RecentDetections(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list detections")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"detections": recs,
		"count":      len(recs),
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.Stats(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to read stats")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, policyView(a.policies.Snapshot()))
}

func (a *API) handleReloadPolicy(w http.ResponseWriter, r *http.Request) {
	if err := a.policies.Reload(); err != nil {
		a.logger.Error(r.Context(), err, "policy reload rejected")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": err.Error(),
		})
		return
	}
	a.logger.Info(r.Context(), "policy reloaded")
	writeJSON(w, http.StatusOK, policyView(a.policies.Snapshot()))
}

func (a *API) handleCleanup(w http.ResponseWriter, r *http.Request) {
	olderThan := defaultCleanupAge
	if raw := r.URL.Query().Get("older_than_days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 {
			http.Error(w, `{"error":"invalid older_than_days"}`, http.StatusBadRequest)
			return
		}
		olderThan = time.Duration(days) * 24 * time.Hour
	}

	removed, err := a.svc.Cleanup(r.Context(), olderThan)
	if err != nil {
		a.logger.Error(r.Context(), err, "cleanup failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	a.logger.Info(r.Context(), "cleanup complete", "removed", removed)
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// policyView is the read-only JSON shape of a policy snapshot. Pattern
// regexes serialize as their source text.
func policyView(p *gating.Policy) map[string]any {
	patterns := make([]map[string]any, 0, len(p.PatternWeights))
	for _, pw := range p.PatternWeights {
		patterns = append(patterns, map[string]any{
			"pattern": pw.Pattern.String(),
			"weight":  pw.Weight,
		})
	}
	return map[string]any{
		"min_priority_level":    p.MinPriorityLevel.String(),
		"thresholds":            p.Thresholds,
		"base_score":            p.BaseScore,
		"max_score":             p.MaxScore,
		"strength_weights":      p.StrengthWeights,
		"system_weights":        p.SystemWeights,
		"default_system_weight": p.DefaultSystemWeight,
		"vip_tickers":           setKeys(p.VIPTickers),
		"vip_timeframes":        setKeys(p.VIPTimeframes),
		"vip_ticker_bonus":      p.VIPTickerBonus,
		"vip_timeframe_bonus":   p.VIPTimeframeBonus,
		"urgency_tiers":         p.UrgencyTiers,
		"pattern_weights":       patterns,
		"ml_reject_threshold":   p.MLRejectThreshold,
		"ml_boost_threshold":    p.MLBoostThreshold,
	}
}

func setKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
