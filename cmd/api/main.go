package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"nasmusic.dev/internal/audit"
	"nasmusic.dev/internal/auth"
	"nasmusic.dev/internal/config"
	"nasmusic.dev/internal/download"
	"nasmusic.dev/internal/httpapi"
	"nasmusic.dev/internal/migrate"
	"nasmusic.dev/internal/obs"
	"nasmusic.dev/internal/store/pg"
	"nasmusic.dev/internal/sweep"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := obs.NewLogger(cfg.Debug)
	if err != nil {
		_, _ = os.Stderr.WriteString("init logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	obs.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	obs.Init()
	obs.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := pg.Open(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.AutoMigrate {
		applied, err := migrate.NewManager(store.DB(), nil).Up(ctx)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", zap.Strings("files", applied))
	}

	auditLog := audit.NewLogger(store.Audit())

	tokens, err := auth.NewTokens(cfg.SecretKey, cfg.JWTAlgorithm, cfg.JWTIssuer, cfg.AccessTokenTTL)
	if err != nil {
		return err
	}
	authOpts := []auth.ServiceOption{auth.WithLogger(logger)}
	if cfg.RedisURL != "" {
		client, err := auth.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		authOpts = append(authOpts, auth.WithRevocationCache(auth.NewRedisRevocationCache(client)))
		logger.Info("revocation cache enabled")
	}
	authSvc, err := auth.NewService(store.Auth(), tokens, auditLog, authOpts...)
	if err != nil {
		return err
	}

	if cfg.YTDLPAutoInstall {
		if err := download.Install(ctx); err != nil {
			return err
		}
	}
	exec := download.NewYTDLPExecutor(
		download.WithAudioFormat(cfg.AudioFormat),
		download.WithAudioQuality(cfg.AudioQuality),
	)
	downloads := download.NewService(store.History(), exec, auditLog, cfg.OutputDirectory,
		download.WithTimeout(cfg.DownloadTimeout))
	if err := downloads.PrepareOutputDir(); err != nil {
		return err
	}

	api := httpapi.New(store, authSvc, downloads, auditLog, httpapi.Options{
		AppName:       cfg.AppName,
		Version:       version,
		CORSOrigins:   cfg.CORSOrigins,
		RateBurst:     cfg.RateLimitBurst,
		RatePerSecond: float64(cfg.RateLimitPerSecond),
		MaxBodyBytes:  cfg.MaxBodyBytes,
	})

	// Downloads run inline, so the write timeout has to cover a full attempt.
	writeTimeout := 60 * time.Second
	if cfg.DownloadTimeout > 0 {
		writeTimeout += cfg.DownloadTimeout
	} else {
		writeTimeout = 0
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcSrv *httpapi.GRPCServer
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcSrv = httpapi.NewGRPCServer(store)
		go grpcSrv.Watch(ctx, 10*time.Second)
		go func() {
			logger.Info("grpc health listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Server().Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	if cfg.SweepInterval > 0 {
		sweeper := sweep.New(authSvc, store.History(), cfg.StuckDownloadAfter)
		stopSweep := sweeper.Start(ctx, cfg.SweepInterval)
		defer stopSweep()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		logger.Error("server error", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.Server().GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("stopped")
	return serveErr
}
