package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mykrex/dimeloc-backend/internal/service"
)

// @Summary List stores
// @Tags stores
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 500 {object} ErrorBody
// @Router /api/stores [get]
func (h *Handler) StoresList(c *gin.Context) {
	stores, err := h.Catalog.ListWithStatus(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, stores, gin.H{"count": len(stores)})
}

// @Summary Problematic stores
// @Description NPS below 30, out of stock above 4, damage rate above 1 or complaint resolution above 48 hours
// @Tags stores
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/stores/problematic [get]
func (h *Handler) StoresProblematic(c *gin.Context) {
	stores, err := h.Catalog.ProblemStores(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, stores, gin.H{"count": len(stores), "criteria": service.ProblemCriteria})
}

// @Summary Stores by minimum NPS
// @Tags stores
// @Produce json
// @Param min path number true "minimum NPS"
// @Success 200 {object} map[string]any
// @Router /api/stores/nps/{min} [get]
func (h *Handler) StoresByNPS(c *gin.Context) {
	min, valid := floatParam(c, "min")
	if !valid {
		return
	}
	stores, err := h.Catalog.ByMinNPS(c.Request.Context(), min)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, stores, gin.H{"count": len(stores), "min_nps": min})
}

// @Summary Stores near a point
// @Tags stores
// @Produce json
// @Param lat path number true "latitude"
// @Param lng path number true "longitude"
// @Param radius path number true "radius in km"
// @Success 200 {object} map[string]any
// @Router /api/stores/near/{lat}/{lng}/{radius} [get]
func (h *Handler) StoresNear(c *gin.Context) {
	lat, valid := floatParam(c, "lat")
	if !valid {
		return
	}
	lng, valid := floatParam(c, "lng")
	if !valid {
		return
	}
	radius, valid := floatParam(c, "radius")
	if !valid {
		return
	}
	stores, used, err := h.Catalog.Near(c.Request.Context(), lat, lng, radius)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, stores, gin.H{"count": len(stores), "radius_km": used})
}

// @Summary Store details
// @Tags stores
// @Produce json
// @Param id path int true "store id"
// @Success 200 {object} map[string]any
// @Failure 404 {object} ErrorBody
// @Router /api/stores/{id} [get]
func (h *Handler) StoreDetails(c *gin.Context) {
	id, valid := intParam(c, "id")
	if !valid {
		return
	}
	store, err := h.Catalog.StoreWithStatus(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, store, nil)
}

// @Summary Catalog statistics
// @Tags stores
// @Produce json
// @Success 200 {object} service.CatalogStats
// @Router /api/stats [get]
func (h *Handler) Stats(c *gin.Context) {
	st, err := h.Catalog.Stats(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, st, nil)
}

// @Summary Raw catalog document
// @Tags stores
// @Produce json
// @Success 200 {object} models.FeatureCollection
// @Router /api/geojson [get]
func (h *Handler) GeoJSON(c *gin.Context) {
	fc, err := h.Catalog.Document(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, fc)
}
