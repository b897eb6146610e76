package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"corrlab/internal/domain/models"
	"corrlab/internal/domain/services"
	"corrlab/internal/infrastructure/cache"
	"corrlab/pkg/logger"
)

const matrixCacheTTL = 5 * time.Minute

// CorrelationHandler handles correlation analysis endpoints
type CorrelationHandler struct {
	analyzer *services.Analyzer
	stats    *services.EngineStats
	cache    *cache.RedisCache
	logger   *logger.Logger
}

// NewCorrelationHandler creates a new CorrelationHandler
func NewCorrelationHandler(analyzer *services.Analyzer, stats *services.EngineStats, c *cache.RedisCache, log *logger.Logger) *CorrelationHandler {
	return &CorrelationHandler{
		analyzer: analyzer,
		stats:    stats,
		cache:    c,
		logger:   log.WithComponent("correlation"),
	}
}

type analyzeRequest struct {
	// FlowIDs limits analysis to the listed flows; omit for the whole
	// corpus.
	FlowIDs []string `json:"flow_ids,omitempty"`
}

// Analyze handles POST /api/v1/correlation/analyze
func (h *CorrelationHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, h.logger, err)
			return
		}
	}

	result, err := h.analyzer.Analyze(r.Context(), req.FlowIDs)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	if h.stats != nil {
		scored := result.TotalFlowsAnalyzed * (result.TotalFlowsAnalyzed - 1) / 2
		h.stats.RecordAnalysis(scored, len(result.SkippedPairs), result.CorrelationsFound)
		recordDetectionStats(h.stats, result)
	}
	h.invalidateMatrixCache(r)

	respondJSON(w, http.StatusOK, result)
}

// AnalyzeFlow handles POST /api/v1/correlation/analyze/{flow_id},
// scoring one new flow against the existing corpus.
func (h *CorrelationHandler) AnalyzeFlow(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flow_id")
	result, err := h.analyzer.AnalyzeIncremental(r.Context(), flowID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	if h.stats != nil {
		h.stats.RecordAnalysis(result.TotalFlowsAnalyzed-1, len(result.SkippedPairs), result.CorrelationsFound)
		recordDetectionStats(h.stats, result)
	}
	h.invalidateMatrixCache(r)

	respondJSON(w, http.StatusOK, result)
}

// Matrix handles GET /api/v1/correlation/matrix
func (h *CorrelationHandler) Matrix(w http.ResponseWriter, r *http.Request) {
	minScore := 0.0
	if raw := r.URL.Query().Get("min_score"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			respondError(w, h.logger, &models.ValidationError{Field: "min_score", Reason: "must be a number"})
			return
		}
		minScore = parsed
	}

	var flowIDs []string
	if raw := r.URL.Query().Get("flow_ids"); raw != "" {
		flowIDs = strings.Split(raw, ",")
	}

	cacheKey := matrixCacheKey(flowIDs, minScore)
	if h.cache != nil {
		var cached models.CorrelationMatrix
		if err := h.cache.GetJSON(r.Context(), cacheKey, &cached); err == nil {
			respondJSON(w, http.StatusOK, &cached)
			return
		}
	}

	matrix, err := h.analyzer.Matrix(r.Context(), flowIDs, minScore)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	if h.cache != nil {
		if err := h.cache.SetJSON(r.Context(), cacheKey, matrix, matrixCacheTTL); err != nil {
			h.logger.Debug().Err(err).Msg("failed to cache matrix")
		}
	}

	respondJSON(w, http.StatusOK, matrix)
}

func recordDetectionStats(stats *services.EngineStats, result *models.CorrelationResult) {
	if result.CampaignDetection == nil {
		return
	}
	stats.RecordDetection(len(result.CampaignDetection.NewCampaigns), len(result.CampaignDetection.UpdatedCampaigns))
}

func (h *CorrelationHandler) invalidateMatrixCache(r *http.Request) {
	if h.cache == nil {
		return
	}
	if err := h.cache.DeletePattern(r.Context(), cache.KeyMatrixPrefix+"*"); err != nil {
		h.logger.Debug().Err(err).Msg("failed to invalidate matrix cache")
	}
}

func matrixCacheKey(flowIDs []string, minScore float64) string {
	sorted := append([]string(nil), flowIDs...)
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, ",") + "|" + strconv.FormatFloat(minScore, 'f', 4, 64)))
	return cache.KeyMatrixPrefix + hex.EncodeToString(sum[:8])
}
