package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"cardsmith/internal/adapter/repo"
	"cardsmith/internal/http/handlers"
	httpapi "cardsmith/internal/http/httpapi"
	"cardsmith/internal/infra"
	"cardsmith/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	if err := cfg.RequireDatabase(); err != nil {
		logger.Fatal().Err(err).Msg("configuration invalid")
	}

	migrator, err := infra.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open migration connection failed")
	}
	if err := migrator.Run(); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations failed")
	}
	_ = migrator.Close()

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()

	files, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize asset storage")
	}

	app := &handlers.App{
		Jobs:         repo.NewJobRepository(pool),
		Cards:        repo.NewCardRepository(pool),
		Assets:       files,
		Logger:       logger,
		ShareBaseURL: cfg.ShareBaseURL,
		AssetBaseURL: cfg.StorageBaseURL,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:         logger,
		AssetDir:       files.BasePath(),
		AllowedOrigins: splitOrigins(os.Getenv("CORS_ALLOWED_ORIGINS")),
		RateLimit:      120,
	})

	server := infra.NewHTTPServer(cfg, router)
	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
