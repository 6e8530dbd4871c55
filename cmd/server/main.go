package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"imagevault/images/application"
	"imagevault/images/persistence"
	"imagevault/internal/config"
	"imagevault/internal/middleware"
	"imagevault/internal/rest"
	"imagevault/shared/db/sqlite"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	database := sqlite.NewSQLiteDB(&sqlite.SQLiteConfig{Path: cfg.SQLitePath})
	if err := database.Connect(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	sqlDB := database.DB()
	imageRepo := persistence.NewImageRepository(sqlDB)
	variantRepo := persistence.NewVariantRepository(sqlDB)
	associationRepo := persistence.NewAssociationRepository(sqlDB)

	generator := application.NewVariantGenerator(imageRepo, variantRepo, cfg.VariantWorkers)
	defer func() {
		if err := generator.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to gracefully close variant generator")
		}
	}()

	service := application.NewImageService(sqlDB, imageRepo, associationRepo, variantRepo, generator, application.ImageServiceConfig{
		MaxUploadBytes: cfg.MaxUploadBytes,
		TempTTL:        cfg.TempTTL,
	})

	cleanup := application.NewCleanupService(imageRepo, cfg.SweepInterval)
	cleanup.Start()
	defer func() {
		if err := cleanup.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to gracefully close cleanup service")
		}
	}()

	router := gin.New()
	router.Use(middleware.LoggingMiddleware())
	router.Use(gin.CustomRecovery(middleware.HandlePanics()))

	rest.NewApi(router, service, cleanup)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Info().Msg("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to shutdown server")
	}

	log.Info().Msg("Server stopped")
}
