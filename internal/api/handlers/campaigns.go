package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"corrlab/internal/domain/models"
	"corrlab/internal/domain/services"
	"corrlab/pkg/logger"
)

// CampaignsHandler handles campaign lifecycle endpoints
type CampaignsHandler struct {
	detector     *services.Detector
	graphBuilder *services.GraphBuilder
	reporter     *services.Reporter
	stats        *services.EngineStats
	campaigns    services.CampaignStore
	logger       *logger.Logger
}

// NewCampaignsHandler creates a new CampaignsHandler
func NewCampaignsHandler(detector *services.Detector, gb *services.GraphBuilder, reporter *services.Reporter, stats *services.EngineStats, store services.CampaignStore, log *logger.Logger) *CampaignsHandler {
	return &CampaignsHandler{
		detector:     detector,
		graphBuilder: gb,
		reporter:     reporter,
		stats:        stats,
		campaigns:    store,
		logger:       log.WithComponent("campaigns"),
	}
}

// List handles GET /api/v1/campaigns
func (h *CampaignsHandler) List(w http.ResponseWriter, r *http.Request) {
	var statuses []models.CampaignStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses = append(statuses, models.CampaignStatus(raw))
	}

	campaigns, err := h.campaigns.List(r.Context(), statuses...)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":  campaigns,
		"total": len(campaigns),
	})
}

// Get handles GET /api/v1/campaigns/{id}
func (h *CampaignsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	campaign, err := h.campaigns.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, campaign)
}

// Detect handles POST /api/v1/campaigns/detect
func (h *CampaignsHandler) Detect(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.detector.DetectCampaigns(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	if h.stats != nil {
		h.stats.RecordDetection(len(outcome.NewCampaigns), len(outcome.UpdatedCampaigns))
	}
	respondJSON(w, http.StatusOK, outcome)
}

type mergeRequest struct {
	SourceID uuid.UUID `json:"source_id"`
	Reason   string    `json:"reason,omitempty"`
}

// Merge handles POST /api/v1/campaigns/{id}/merge, merging the source
// campaign into the campaign in the path.
func (h *CampaignsHandler) Merge(w http.ResponseWriter, r *http.Request) {
	targetID, err := campaignID(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	var req mergeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if req.SourceID == uuid.Nil {
		respondError(w, h.logger, &models.ValidationError{Field: "source_id", Reason: "required"})
		return
	}

	survivor, err := h.detector.MergeCampaigns(r.Context(), req.SourceID, targetID, req.Reason)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	if h.stats != nil {
		h.stats.RecordMerge()
	}
	respondJSON(w, http.StatusOK, survivor)
}

type statusRequest struct {
	Status models.CampaignStatus `json:"status"`
}

// UpdateStatus handles PATCH /api/v1/campaigns/{id}/status
func (h *CampaignsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	campaign, err := h.detector.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, campaign)
}

// Timeline handles GET /api/v1/campaigns/{id}/timeline
func (h *CampaignsHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	timeline, err := h.reporter.Timeline(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, timeline)
}

// Report handles GET /api/v1/campaigns/{id}/report
func (h *CampaignsHandler) Report(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	report, err := h.reporter.GenerateReport(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Graph handles GET /api/v1/campaigns/{id}/graph
func (h *CampaignsHandler) Graph(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	minScore, err := minScoreParam(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	graph, err := h.graphBuilder.BuildCampaignGraph(r.Context(), id, minScore)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, graph)
}

func campaignID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &models.ValidationError{Field: "id", Reason: "must be a UUID"}
	}
	return id, nil
}

func minScoreParam(r *http.Request) (float64, error) {
	raw := r.URL.Query().Get("min_score")
	if raw == "" {
		return 0, nil
	}
	minScore, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &models.ValidationError{Field: "min_score", Reason: "must be a number"}
	}
	return minScore, nil
}
