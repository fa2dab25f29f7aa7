package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mykrex/dimeloc-backend/internal/service"
)

// @Summary Log in
// @Description Exchanges email and password for a bearer token
// @Tags auth
// @Accept json
// @Produce json
// @Param body body service.LoginInput true "credentials"
// @Success 200 {object} service.LoginResult
// @Failure 401 {object} ErrorBody
// @Router /api/auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	if h.Auth == nil || len(h.Auth.Secret) == 0 {
		writeError(c, http.StatusServiceUnavailable, "AUTH_DISABLED", "Authentication is not configured", nil)
		return
	}
	var in service.LoginInput
	if !bindJSON(c, &in) {
		return
	}
	res, err := h.Auth.Login(c.Request.Context(), in)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, res, nil)
}
