package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mykrex/dimeloc-backend/internal/http/middleware"
	"github.com/mykrex/dimeloc-backend/internal/repository"
	"github.com/mykrex/dimeloc-backend/internal/service"
)

type PostvisitRequest struct {
	VisitID string `json:"visitId"`
}

// @Summary Previsit brief
// @Tags analysis
// @Accept json
// @Produce json
// @Param storeId path int true "store id"
// @Param body body service.PrevisitInput true "collaborator and visit type"
// @Success 200 {object} service.PrevisitResponse
// @Failure 400 {object} ErrorBody
// @Router /api/analysis/previsit/{storeId} [post]
func (h *Handler) Previsit(c *gin.Context) {
	storeID, valid := intParam(c, "storeId")
	if !valid {
		return
	}
	var in service.PrevisitInput
	if !bindOptionalJSON(c, &in) {
		return
	}
	if in.CollaboratorID == "" {
		in.CollaboratorID = c.GetString(middleware.ContextUserID)
	}
	res, err := h.Analysis.GeneratePrevisitBrief(c.Request.Context(), storeID, in)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, res, nil)
}

// @Summary Postvisit review
// @Tags analysis
// @Accept json
// @Produce json
// @Param body body PostvisitRequest true "visit id"
// @Success 200 {object} service.PostvisitResponse
// @Failure 400 {object} ErrorBody
// @Failure 404 {object} ErrorBody
// @Router /api/analysis/postvisit [post]
func (h *Handler) Postvisit(c *gin.Context) {
	var req PostvisitRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.Analysis.GeneratePostvisitReview(c.Request.Context(), req.VisitID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, res, nil)
}

// @Summary Network trends
// @Tags analysis
// @Produce json
// @Param period query string false "1m, 3m (default), 6m or 1y"
// @Param sector query string false "sector label"
// @Success 200 {object} service.TrendResponse
// @Router /api/analysis/trends [get]
func (h *Handler) Trends(c *gin.Context) {
	res, err := h.Analysis.GenerateTrendReport(c.Request.Context(), c.Query("period"), c.Query("sector"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, res, nil)
}

// @Summary Risk prediction for a store
// @Tags analysis
// @Produce json
// @Param storeId path int true "store id"
// @Success 200 {object} service.PredictionResponse
// @Router /api/analysis/prediction/{storeId} [post]
func (h *Handler) Prediction(c *gin.Context) {
	storeID, valid := intParam(c, "storeId")
	if !valid {
		return
	}
	res, err := h.Analysis.GeneratePrediction(c.Request.Context(), storeID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, res, nil)
}

// @Summary List stored insights
// @Tags analysis
// @Produce json
// @Param storeId query int false "store id"
// @Param visitId query string false "visit id"
// @Param type query string false "analysis type"
// @Param limit query int false "max records"
// @Success 200 {array} models.Insight
// @Router /api/analysis/insights [get]
func (h *Handler) Insights(c *gin.Context) {
	f := repository.InsightFilter{
		VisitID:        c.Query("visitId"),
		CollaboratorID: c.Query("collaboratorId"),
		Type:           c.Query("type"),
	}
	if c.Query("storeId") != "" {
		id, valid := queryInt(c, "storeId")
		if !valid {
			return
		}
		f.StoreID = &id
	}
	limit, valid := queryInt(c, "limit")
	if !valid {
		return
	}
	f.Limit = limit
	items, err := h.Analysis.ListInsights(c.Request.Context(), f)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, items, gin.H{"count": len(items)})
}

// @Summary Mark an insight as used
// @Tags analysis
// @Produce json
// @Param id path string true "insight id"
// @Success 200 {object} map[string]any
// @Failure 404 {object} ErrorBody
// @Router /api/analysis/insights/{id}/used [put]
func (h *Handler) InsightUsed(c *gin.Context) {
	id := c.Param("id")
	if err := h.Analysis.MarkInsightUsed(c.Request.Context(), id); err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"id": id, "used": true}, nil)
}
