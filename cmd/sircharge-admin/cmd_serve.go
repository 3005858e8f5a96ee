package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sircharge/admin/internal/app"
	"sircharge/admin/internal/assets"
	"sircharge/admin/internal/cache"
	"sircharge/admin/internal/email"
	"sircharge/admin/internal/promptrepo"
	"sircharge/admin/internal/search"
	"sircharge/admin/internal/session"
	"sircharge/admin/internal/store"
)

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin API",
	Long: `Apply pending migrations and serve the admin API until SIGINT or SIGTERM.

Redis, Meilisearch, MinIO and SMTP are optional. When one is not configured
the API falls back to Postgres refresh sessions, Postgres search, no image
uploads and failed email notifications respectively.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on start")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	ctx := cmd.Context()

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if !skipMigrations {
		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		for _, name := range applied {
			logger.Info("applied migration", zap.String("name", name))
		}
	}

	if err := os.MkdirAll(cfg.PromptsDir, 0o755); err != nil {
		return fmt.Errorf("create prompts dir: %w", err)
	}

	deps := app.Deps{
		Store:   store.NewPostgresStore(db),
		Prompts: promptrepo.New(cfg.PromptsDir),
		Logger:  logger,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
		deps.Redis = redisStore
		deps.Cache = cache.New(redisStore.Client(), cfg.CacheTTL)
		logger.Info("using redis for refresh sessions and dashboard cache")
	} else {
		logger.Info("using postgres for refresh sessions; dashboard cache disabled")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgSearch(db), logger)
	deps.Search = searchService
	go searchService.ReindexAllFromPG(context.WithoutCancel(ctx))

	assetStore, err := assets.New(ctx, assets.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return fmt.Errorf("object storage: %w", err)
	}
	deps.Assets = assetStore

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		logger.Warn("SMTP is not configured; reset tokens are returned in responses")
	}
	deps.Mailer = mailer

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("SirCharge admin API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	searchService.Wait()
	return nil
}
