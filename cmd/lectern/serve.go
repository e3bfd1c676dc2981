package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lectern/api/internal/app"
	"lectern/api/internal/authpw"
	"lectern/api/internal/config"
	"lectern/api/internal/export"
	"lectern/api/internal/filestore"
	"lectern/api/internal/metrics"
	"lectern/api/internal/search"
	"lectern/api/internal/session"
	"lectern/api/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", zap.Strings("versions", applied))
	}

	dataStore := store.NewPostgresStore(db)

	files, err := filestore.Open(filestore.Options{
		Dir:    cfg.ContentDir,
		Branch: cfg.ContentBranch,
		Remote: cfg.ContentRemote,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("article mirror: %w", err)
	}

	sessions, err := session.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer sessions.Close()

	pgfts := search.NewPgFTS(db)
	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		index = meili
	}
	searchService := search.NewService(index, pgfts, logger)
	defer searchService.Wait()
	go func() {
		if err := searchService.ReindexAll(ctx, pgfts); err != nil {
			logger.Warn("initial reindex failed", zap.Error(err))
		}
	}()

	var uploader export.Uploader
	if cfg.MinioConfigured() {
		minioUploader, err := export.NewMinioUploader(ctx, export.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Warn("export storage unavailable, serving PDFs inline", zap.Error(err))
		} else {
			uploader = minioUploader
		}
	}
	exporter := export.NewService(dataStore, export.NewChromePrinter(), uploader, logger)

	service, err := app.New(cfg, app.Deps{
		Store:     dataStore,
		Files:     files,
		Search:    searchService,
		Sessions:  sessions,
		Passwords: authpw.NewService(dataStore),
		Exporter:  exporter,
		Metrics:   metrics.New(),
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if err := service.Bootstrap(ctx); err != nil {
		logger.Warn("bootstrap failed, will retry on next restart", zap.Error(err))
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
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
		logger.Info("lectern api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
