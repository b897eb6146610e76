package handlers

import (
	"net/http"

	"corrlab/internal/domain/services"
	"corrlab/pkg/logger"
)

// GraphHandler handles corpus-wide threat graph endpoints
type GraphHandler struct {
	graphBuilder *services.GraphBuilder
	logger       *logger.Logger
}

// NewGraphHandler creates a new GraphHandler
func NewGraphHandler(gb *services.GraphBuilder, log *logger.Logger) *GraphHandler {
	return &GraphHandler{
		graphBuilder: gb,
		logger:       log.WithComponent("graph"),
	}
}

// Get handles GET /api/v1/graph
func (h *GraphHandler) Get(w http.ResponseWriter, r *http.Request) {
	minScore, err := minScoreParam(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	graph, err := h.graphBuilder.BuildCorpusGraph(r.Context(), minScore)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, graph)
}
