package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mykrex/dimeloc-backend/internal/http/middleware"
	"github.com/mykrex/dimeloc-backend/internal/models"
	"github.com/mykrex/dimeloc-backend/internal/service"
)

type ConfirmRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type StartRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

// bindOptionalJSON accepts an empty body, including an empty chunked one whose length is
// unknown until it is read.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	err := c.ShouldBindJSON(dst)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return true
	default:
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return false
	}
}

// @Summary Schedule a visit
// @Tags visits
// @Accept json
// @Produce json
// @Param body body service.ScheduleVisitInput true "visit"
// @Success 201 {object} models.Visit
// @Failure 400 {object} ErrorBody
// @Failure 404 {object} ErrorBody
// @Failure 409 {object} ErrorBody
// @Router /api/visits [post]
func (h *Handler) VisitSchedule(c *gin.Context) {
	var in service.ScheduleVisitInput
	if !bindJSON(c, &in) {
		return
	}
	v, err := h.Visits.Schedule(c.Request.Context(), in)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusCreated, v, gin.H{"message": "Visita programada"})
}

// @Summary Visit details
// @Tags visits
// @Produce json
// @Param id path string true "visit id"
// @Success 200 {object} models.Visit
// @Failure 404 {object} ErrorBody
// @Router /api/visits/{id} [get]
func (h *Handler) VisitDetails(c *gin.Context) {
	v, err := h.Visits.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, v, nil)
}

// @Summary Confirm a visit
// @Description Records the confirmation of the collaborator or the advisor. Missing fields fall back to the token identity.
// @Tags visits
// @Accept json
// @Produce json
// @Param id path string true "visit id"
// @Param body body ConfirmRequest true "confirmation"
// @Success 200 {object} service.ConfirmResult
// @Failure 400 {object} ErrorBody
// @Failure 404 {object} ErrorBody
// @Router /api/visits/{id}/confirm [put]
func (h *Handler) VisitConfirm(c *gin.Context) {
	var req ConfirmRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = c.GetString(middleware.ContextUserID)
	}
	if strings.TrimSpace(req.Role) == "" {
		req.Role = c.GetString(middleware.ContextRole)
	}
	res, err := h.Visits.Confirm(c.Request.Context(), c.Param("id"), req.UserID, req.Role)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, res, nil)
}

// @Summary Start a visit
// @Tags visits
// @Accept json
// @Produce json
// @Param id path string true "visit id"
// @Param body body StartRequest false "arrival location"
// @Success 200 {object} models.Visit
// @Failure 400 {object} ErrorBody
// @Failure 404 {object} ErrorBody
// @Router /api/visits/{id}/start [post]
func (h *Handler) VisitStart(c *gin.Context) {
	var req StartRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	var arrival *models.Location
	if req.Latitude != nil && req.Longitude != nil {
		arrival = &models.Location{Latitude: *req.Latitude, Longitude: *req.Longitude}
	}
	v, err := h.Visits.Start(c.Request.Context(), c.Param("id"), arrival)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, v, nil)
}

// @Summary Finish a visit
// @Tags visits
// @Accept json
// @Produce json
// @Param id path string true "visit id"
// @Param body body service.FinishInput false "duration and notes"
// @Success 200 {object} service.FinishResult
// @Failure 404 {object} ErrorBody
// @Failure 409 {object} ErrorBody
// @Router /api/visits/{id}/finish [post]
func (h *Handler) VisitFinish(c *gin.Context) {
	var in service.FinishInput
	if !bindOptionalJSON(c, &in) {
		return
	}
	res, err := h.Visits.Finish(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, res, nil)
}

// @Summary Cancel a visit
// @Tags visits
// @Accept json
// @Produce json
// @Param id path string true "visit id"
// @Param body body CancelRequest false "reason"
// @Success 200 {object} models.Visit
// @Failure 400 {object} ErrorBody
// @Router /api/visits/{id}/cancel [post]
func (h *Handler) VisitCancel(c *gin.Context) {
	var req CancelRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	v, err := h.Visits.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, v, nil)
}

// @Summary Attach evidence to a visit
// @Tags visits
// @Accept json
// @Produce json
// @Param id path string true "visit id"
// @Param body body service.EvidenceInput true "evidence"
// @Success 201 {object} models.Evidence
// @Router /api/visits/{id}/evidence [post]
func (h *Handler) EvidenceAdd(c *gin.Context) {
	var in service.EvidenceInput
	if !bindJSON(c, &in) {
		return
	}
	e, err := h.Visits.AddEvidence(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusCreated, e, nil)
}

// @Summary List visit evidence
// @Tags visits
// @Produce json
// @Param id path string true "visit id"
// @Success 200 {array} models.Evidence
// @Router /api/visits/{id}/evidence [get]
func (h *Handler) EvidenceList(c *gin.Context) {
	items, err := h.Visits.ListEvidence(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, items, gin.H{"count": len(items)})
}

// @Summary Agenda of a user
// @Description Visits where the user is collaborator or advisor, with a store snapshot
// @Tags visits
// @Produce json
// @Param userId path string true "user id"
// @Param from query string false "YYYY-MM-DD, defaults to today"
// @Param to query string false "YYYY-MM-DD, defaults to from plus 7 days"
// @Success 200 {object} service.Agenda
// @Router /api/agenda/{userId} [get]
func (h *Handler) Agenda(c *gin.Context) {
	a, err := h.Visits.GetAgenda(c.Request.Context(), c.Param("userId"), c.Query("from"), c.Query("to"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, a, gin.H{"count": len(a.Visits)})
}
