package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mykrex/dimeloc-backend/internal/service"
)

type ResolveRequest struct {
	Notes string `json:"notes"`
}

// queryInt parses an optional integer query parameter.
func queryInt(c *gin.Context, name string) (int, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(c, http.StatusBadRequest, string(service.KindValidation), "Invalid "+name, gin.H{"fields": []string{name}})
		return 0, false
	}
	return v, true
}

// @Summary Record tendero feedback
// @Description Stores the feedback, then analyzes the store's recent feedback. Analysis failures never fail the request.
// @Tags feedback
// @Accept json
// @Produce json
// @Param body body service.TenderoFeedbackInput true "feedback"
// @Success 201 {object} service.TenderoFeedbackResult
// @Failure 400 {object} ErrorBody
// @Router /api/feedback/tendero [post]
func (h *Handler) TenderoFeedback(c *gin.Context) {
	var in service.TenderoFeedbackInput
	if !bindJSON(c, &in) {
		return
	}
	res, err := h.Feedback.RecordTenderoFeedback(c.Request.Context(), in)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusCreated, res, gin.H{"message": "Feedback registrado"})
}

// @Summary Record a store evaluation
// @Tags feedback
// @Accept json
// @Produce json
// @Param body body service.StoreEvaluationInput true "evaluation"
// @Success 201 {object} models.StoreEvaluation
// @Failure 400 {object} ErrorBody
// @Router /api/feedback/store-evaluation [post]
func (h *Handler) StoreEvaluation(c *gin.Context) {
	var in service.StoreEvaluationInput
	if !bindJSON(c, &in) {
		return
	}
	ev, err := h.Feedback.RecordStoreEvaluation(c.Request.Context(), in)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusCreated, ev, gin.H{"message": "Evaluación registrada"})
}

// @Summary Feedback of a store
// @Tags feedback
// @Produce json
// @Param storeId path int true "store id"
// @Param kind query string false "tendero or evaluation"
// @Param limit query int false "max records per kind"
// @Param order query string false "asc or desc (default)"
// @Success 200 {object} service.FeedbackList
// @Router /api/feedback/stores/{storeId} [get]
func (h *Handler) StoreFeedback(c *gin.Context) {
	storeID, valid := intParam(c, "storeId")
	if !valid {
		return
	}
	limit, valid := queryInt(c, "limit")
	if !valid {
		return
	}
	descending := !strings.EqualFold(c.Query("order"), "asc")
	list, err := h.Feedback.ListFeedback(c.Request.Context(), storeID, c.Query("kind"), limit, descending)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, list, nil)
}

// @Summary Resolve tendero feedback
// @Tags feedback
// @Accept json
// @Produce json
// @Param id path string true "feedback id"
// @Param body body ResolveRequest false "resolution notes"
// @Success 200 {object} models.TenderoFeedback
// @Failure 404 {object} ErrorBody
// @Router /api/feedback/tendero/{id}/resolve [put]
func (h *Handler) ResolveFeedback(c *gin.Context) {
	var req ResolveRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	fb, err := h.Feedback.Resolve(c.Request.Context(), c.Param("id"), req.Notes)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, fb, nil)
}

// @Summary Analyze recent feedback of a store
// @Tags feedback
// @Produce json
// @Param storeId path int true "store id"
// @Success 200 {object} service.FeedbackAnalysis
// @Router /api/feedback/analyze/{storeId} [post]
func (h *Handler) AnalyzeFeedback(c *gin.Context) {
	storeID, valid := intParam(c, "storeId")
	if !valid {
		return
	}
	res, err := h.Analysis.AnalyzeAfterFeedback(c.Request.Context(), storeID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, res, nil)
}
