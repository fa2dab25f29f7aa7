package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mykrex/dimeloc-backend/internal/http/middleware"
	"github.com/mykrex/dimeloc-backend/internal/repository"
	"github.com/mykrex/dimeloc-backend/internal/service"
)

// BreakerStater reports the provider circuit breaker state for health output.
type BreakerStater interface {
	State() string
}

type Handler struct {
	Repo     repository.Repository
	Catalog  *service.CatalogService
	Visits   *service.VisitService
	Feedback *service.FeedbackService
	Analysis *service.Orchestrator
	Auth     *service.AuthService
	Breaker  BreakerStater
	Logger   zerolog.Logger
}

// ErrorBody documents the failure envelope.
type ErrorBody struct {
	Success bool `json:"success" example:"false"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details any    `json:"details,omitempty"`
	} `json:"error"`
}

func ok(c *gin.Context, status int, data any, extra gin.H) {
	body := gin.H{"success": true, "data": data}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(status, body)
}

func writeError(c *gin.Context, status int, code, message string, details any) {
	errBody := gin.H{
		"code":    code,
		"message": message,
	}
	if details != nil {
		errBody["details"] = details
	}
	c.JSON(status, gin.H{"success": false, "error": errBody})
}

func (h *Handler) writeServiceError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrInvalidCredentials) {
		writeError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}
	if se, found := service.AsError(err); found {
		var details any
		if len(se.Fields) > 0 {
			details = gin.H{"fields": se.Fields}
		}
		msg := se.Message
		if msg == "" {
			msg = se.Error()
		}
		switch se.Kind {
		case service.KindValidation:
			writeError(c, http.StatusBadRequest, string(se.Kind), msg, details)
		case service.KindNotFound:
			writeError(c, http.StatusNotFound, string(se.Kind), msg, nil)
		case service.KindConflict:
			writeError(c, http.StatusConflict, string(se.Kind), msg, nil)
		case service.KindState:
			writeError(c, http.StatusBadRequest, string(se.Kind), msg, nil)
		default:
			h.Logger.Error().Err(err).Str("request_id", c.GetString(middleware.RequestIDHeader)).Msg("request failed")
			writeError(c, http.StatusInternalServerError, string(se.Kind), msg, nil)
		}
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(c, http.StatusGatewayTimeout, "TIMEOUT", "Request timed out", nil)
		return
	}
	h.Logger.Error().Err(err).Str("request_id", c.GetString(middleware.RequestIDHeader)).Msg("request failed")
	writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return false
	}
	return true
}

func intParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		writeError(c, http.StatusBadRequest, string(service.KindValidation), "Invalid "+name, gin.H{"fields": []string{name}})
		return 0, false
	}
	return v, true
}

func floatParam(c *gin.Context, name string) (float64, bool) {
	v, err := strconv.ParseFloat(c.Param(name), 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, string(service.KindValidation), "Invalid "+name, gin.H{"fields": []string{name}})
		return 0, false
	}
	return v, true
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Repo.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Service health
// @Tags health
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 503 {object} ErrorBody
// @Router /api/health [get]
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Repo.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	data := gin.H{"status": "ok", "storage": "ok"}
	if h.Breaker != nil {
		data["provider_breaker"] = h.Breaker.State()
	}
	ok(c, http.StatusOK, data, gin.H{"timestamp": time.Now().UTC()})
}
