package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/mykrex/dimeloc-backend/internal/config"
	"github.com/mykrex/dimeloc-backend/internal/http/handlers"
	"github.com/mykrex/dimeloc-backend/internal/http/middleware"

	_ "github.com/mykrex/dimeloc-backend/docs"
)

func Router(cfg config.Config, h *handlers.Handler, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := cfg.AllowedOrigins()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = origins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(middleware.Timeout(cfg.RequestTimeout))
	api.GET("/health", h.Health)
	api.POST("/auth/login", h.Login)

	var parser middleware.TokenParser
	if cfg.JWTSecret != "" && h.Auth != nil {
		parser = h.Auth
	}
	secured := api.Group("")
	secured.Use(middleware.Auth(parser))
	{
		secured.GET("/stores", h.StoresList)
		secured.GET("/stores/problematic", h.StoresProblematic)
		secured.GET("/stores/nps/:min", h.StoresByNPS)
		secured.GET("/stores/near/:lat/:lng/:radius", h.StoresNear)
		secured.GET("/stores/:id", h.StoreDetails)
		secured.GET("/stats", h.Stats)
		secured.GET("/geojson", h.GeoJSON)

		secured.POST("/visits", h.VisitSchedule)
		secured.GET("/visits/:id", h.VisitDetails)
		secured.PUT("/visits/:id/confirm", h.VisitConfirm)
		secured.POST("/visits/:id/start", h.VisitStart)
		secured.POST("/visits/:id/finish", h.VisitFinish)
		secured.POST("/visits/:id/cancel", h.VisitCancel)
		secured.POST("/visits/:id/evidence", h.EvidenceAdd)
		secured.GET("/visits/:id/evidence", h.EvidenceList)
		secured.GET("/agenda/:userId", h.Agenda)

		secured.POST("/feedback/tendero", h.TenderoFeedback)
		secured.POST("/feedback/store-evaluation", h.StoreEvaluation)
		secured.PUT("/feedback/tendero/:id/resolve", h.ResolveFeedback)
		secured.GET("/feedback/stores/:storeId", h.StoreFeedback)
		secured.POST("/feedback/analyze/:storeId", h.AnalyzeFeedback)

		secured.POST("/analysis/previsit/:storeId", h.Previsit)
		secured.POST("/analysis/postvisit", h.Postvisit)
		secured.GET("/analysis/trends", h.Trends)
		secured.POST("/analysis/prediction/:storeId", h.Prediction)
		secured.GET("/analysis/insights", h.Insights)
		secured.PUT("/analysis/insights/:id/used", h.InsightUsed)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
