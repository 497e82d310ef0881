package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"huddle/api/internal/app"
	"huddle/api/internal/blob"
	"huddle/api/internal/config"
	"huddle/api/internal/email"
	"huddle/api/internal/metrics"
	"huddle/api/internal/realtime"
	"huddle/api/internal/search"
	"huddle/api/internal/session"
	"huddle/api/internal/store"
	"huddle/api/internal/worker"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	conn, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := store.ApplyMigrations(ctx, conn, migrations(cfg)); err != nil {
		return err
	}

	dataStore := store.NewPostgresStore(conn)
	requestMetrics := metrics.New()
	hub := realtime.NewHub()
	defer hub.Close()

	opts := []app.Option{
		app.WithMetrics(requestMetrics),
		app.WithMailer(email.NewService(email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
		})),
	}

	var publisher realtime.Publisher = hub
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			slog.Warn("redis unavailable, using postgres sessions and local events", "error", err)
		} else {
			defer redisStore.Close()
			slog.Info("using redis for refresh sessions and event fan-out")
			opts = append(opts, app.WithSessions(redisStore))
			bridge := realtime.NewRedisBridge(redisStore.Client(), hub)
			if err := bridge.Start(ctx); err != nil {
				slog.Warn("realtime bridge unavailable, delivering events locally", "error", err)
			} else {
				publisher = bridge
			}
		}
	}
	opts = append(opts, app.WithPublisher(publisher))

	blobs, err := blob.New(blob.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Bucket:    cfg.S3.Bucket,
		Region:    cfg.S3.Region,
		UseSSL:    cfg.S3.UseSSL,
	})
	switch {
	case errors.Is(err, blob.ErrNotConfigured):
		slog.Info("uploads disabled, S3_ENDPOINT is not set")
	case err != nil:
		return err
	default:
		if err := blobs.EnsureBucket(ctx); err != nil {
			return err
		}
		opts = append(opts, app.WithBlobs(blobs))
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meili.Close()
	}
	searchService := search.NewService(meili, search.NewPg(conn))
	opts = append(opts, app.WithSearch(searchService))
	if cfg.AsyncIndexing {
		queue, err := worker.NewClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer queue.Close()
		opts = append(opts, app.WithIndexer(queue))
	} else {
		opts = append(opts, app.WithIndexer(searchService))
	}

	service := app.New(cfg, dataStore, opts...)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin,
		app.WithRequestMetrics(requestMetrics),
		app.WithHub(hub),
		app.WithAuthRateLimit(cfg.AuthRPS, cfg.AuthBurst),
	)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("huddle api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}
