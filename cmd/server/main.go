package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mykrex/dimeloc-backend/internal/ai"
	"github.com/mykrex/dimeloc-backend/internal/config"
	"github.com/mykrex/dimeloc-backend/internal/db"
	"github.com/mykrex/dimeloc-backend/internal/docstore"
	"github.com/mykrex/dimeloc-backend/internal/geocode"
	httpapi "github.com/mykrex/dimeloc-backend/internal/http"
	"github.com/mykrex/dimeloc-backend/internal/http/handlers"
	"github.com/mykrex/dimeloc-backend/internal/memstore"
	"github.com/mykrex/dimeloc-backend/internal/models"
	"github.com/mykrex/dimeloc-backend/internal/repository"
	"github.com/mykrex/dimeloc-backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := log.Level(level).With().Str("service", "dimeloc-backend").Logger()

	ctx := context.Background()
	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("failed to open storage")
	}
	defer repo.Close(context.Background())

	provider := newProvider(cfg, logger)
	guarded := ai.NewGuarded(provider, ai.GuardOptions{
		Timeout:          cfg.AITimeout,
		RatePerSecond:    cfg.AIRatePerSec,
		FailureThreshold: cfg.AIBreakerFailures,
	}, logger)

	var reverser geocode.Reverser
	if cfg.NominatimURL != "" {
		reverser = &geocode.NominatimGeocoder{BaseURL: cfg.NominatimURL, UserAgent: cfg.GeocoderUserAgent, MinInterval: time.Second}
	}

	catalog := &service.CatalogService{Repo: repo, Logger: logger}
	analysis := &service.Orchestrator{Repo: repo, Catalog: catalog, AI: guarded, Logger: logger}
	h := &handlers.Handler{
		Repo:    repo,
		Catalog: catalog,
		Visits: &service.VisitService{
			Repo:                           repo,
			Catalog:                        catalog,
			Geocoder:                       reverser,
			Location:                       cfg.Location(),
			RequireConfirmationBeforeStart: cfg.RequireConfirm,
			Logger:                         logger,
		},
		Feedback: &service.FeedbackService{Repo: repo, Analysis: analysis, Logger: logger},
		Analysis: analysis,
		Auth:     &service.AuthService{Repo: repo, Secret: []byte(cfg.JWTSecret), TTL: cfg.JWTTTL},
		Breaker:  guarded,
		Logger:   logger,
	}
	if cfg.JWTSecret == "" {
		logger.Warn().Msg("JWT_SECRET not set, API routes are unauthenticated")
	}

	router := httpapi.Router(cfg, h, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("storage", cfg.StorageDriver).Str("provider", cfg.AIProvider).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}

func openRepository(ctx context.Context, cfg config.Config, logger zerolog.Logger) (repository.Repository, error) {
	switch cfg.StorageDriver {
	case "postgres":
		store, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close(ctx)
			return nil, err
		}
		return store, nil
	case "mongo":
		store, err := docstore.New(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.CatalogCollection)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			store.Close(ctx)
			return nil, err
		}
		return store, nil
	default:
		mem := memstore.New()
		if cfg.CatalogFile == "" {
			logger.Warn().Msg("using in-memory storage without CATALOG_FILE, store endpoints will report a missing catalog")
			return mem, nil
		}
		b, err := os.ReadFile(cfg.CatalogFile)
		if err != nil {
			return nil, err
		}
		var fc models.FeatureCollection
		if err := json.Unmarshal(b, &fc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", cfg.CatalogFile, err)
		}
		mem.SetCatalog(fc)
		logger.Info().Int("features", len(fc.Features)).Msg("in-memory catalog loaded")
		return mem, nil
	}
}

func newProvider(cfg config.Config, logger zerolog.Logger) ai.Adapter {
	gen := ai.DefaultGenerationConfig()
	gen.Temperature = cfg.AITemperature
	if cfg.AIMaxTokens > 0 {
		gen.MaxOutputTokens = cfg.AIMaxTokens
	}
	switch {
	case cfg.UseMockProvider():
		logger.Warn().Str("configured", cfg.AIProvider).Msg("using mock analysis provider")
		return ai.MockAdapter{ModelVersion: "mock-v1"}
	case cfg.AIProvider == "openai":
		return ai.OpenAICompatAdapter{BaseURL: cfg.AIBaseURL, Model: cfg.AIModel, APIKey: cfg.AIAPIKey, Config: gen}
	default:
		return ai.GeminiAdapter{BaseURL: cfg.AIBaseURL, Model: cfg.AIModel, APIKey: cfg.AIAPIKey, Config: gen}
	}
}
