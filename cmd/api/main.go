package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"ecompulse.app/internal/auth"
	"ecompulse.app/internal/config"
	"ecompulse.app/internal/content"
	"ecompulse.app/internal/enrich"
	"ecompulse.app/internal/favorites"
	"ecompulse.app/internal/httpapi"
	"ecompulse.app/internal/mail"
	"ecompulse.app/internal/obs"
	"ecompulse.app/internal/profile"
	"ecompulse.app/internal/store/pg"
	"ecompulse.app/internal/subscriptions"
	"ecompulse.app/internal/trends"
	"ecompulse.app/internal/warehouse"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

const unsubscribeLinkTTL = 90 * 24 * time.Hour

func main() {
	if err := run(); err != nil {
		obs.Logger().Fatal("api exited", zap.Error(err))
	}
}

func run() error {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	obs.SetLevel(cfg.LogLevel)
	log := obs.Logger()
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := httpapi.Deps{
		Version:        version,
		CronSecret:     cfg.CronSecret,
		ConfigPresence: cfg.Presence(),
	}
	probe := httpapi.ReadyProbe{}

	if cfg.AuthSecret != "" {
		if deps.Sessions, err = auth.NewTokens(cfg.AuthSecret); err != nil {
			return err
		}
	} else {
		log.Warn("ECOMPULSE_AUTH_SECRET is not set; session routes answer 503")
	}
	if cfg.UnsubscribeSecret != "" {
		if deps.Unsubscribe, err = auth.NewUnsubscribeTokens(cfg.UnsubscribeSecret); err != nil {
			return err
		}
	}

	if cfg.PostgresDSN != "" {
		store, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open content store: %w", err)
		}
		defer store.Close()
		deps.Content = store
		probe.DB = store.DB()
	} else {
		log.Info("ECOMPULSE_PG_DSN is not set; content is kept in memory")
		deps.Content = content.NewInMemory()
	}

	if cfg.HasWarehouse() {
		wh, err := newWarehouse(cfg)
		if err != nil {
			return err
		}
		probe.Warehouse = wh
		project := wh.ProjectID()

		deps.Trends = trends.NewService(wh, project, cfg.Dataset, trends.WithLocation(cfg.Location))
		deps.Profiles = profile.NewService(wh, project, cfg.Dataset)
		deps.Favorites = favorites.NewService(wh, project, cfg.Dataset)
		deps.Subscriptions = subscriptions.NewService(wh, project, cfg.Dataset, subscriptionOptions(cfg, deps.Unsubscribe)...)

		var searcher enrich.Searcher
		if cfg.SearchAPIKey != "" && cfg.SearchEngineID != "" {
			gs, err := enrich.NewGoogleSearcher(ctx, cfg.SearchAPIKey, cfg.SearchEngineID)
			if err != nil {
				return fmt.Errorf("image search: %w", err)
			}
			searcher = gs
		}
		deps.Ranks = enrich.NewJob(wh, wh, searcher, project, cfg.Dataset)
	} else {
		log.Warn("warehouse credentials are not set; data routes answer 503")
	}
	deps.Ready = probe

	api := httpapi.New(deps,
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithAllowedOrigins(cfg.AllowedOrigins),
	)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewGRPCHealth(probe)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go health.Run(ctx, 15*time.Second)

	errs := make(chan error, 2)
	go func() {
		log.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		log.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errs <- fmt.Errorf("grpc: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errs:
		log.Error("server failed", zap.Error(err))
		stop()
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	grpcSrv.GracefulStop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info("stopped")
	return nil
}

func newWarehouse(cfg config.Config) (*warehouse.Client, error) {
	creds, err := warehouse.ParseCredentials(cfg.Credentials)
	if err != nil {
		return nil, err
	}
	var opts []warehouse.Option
	if cfg.TokenURL != "" {
		opts = append(opts, warehouse.WithTokenURL(cfg.TokenURL))
	}
	if cfg.WarehouseURL != "" {
		opts = append(opts, warehouse.WithBaseURL(cfg.WarehouseURL))
	}
	opts = append(opts, warehouse.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}))
	return warehouse.New(cfg.ProjectID, creds, opts...)
}

// subscriptionOptions wires confirmation mail and, when both a link secret
// and a public base URL exist, per-item unsubscribe links.
func subscriptionOptions(cfg config.Config, links *auth.UnsubscribeTokens) []subscriptions.Option {
	var opts []subscriptions.Option
	if cfg.ResendAPIKey != "" {
		mc, err := mail.New(cfg.ResendAPIKey)
		if err == nil {
			opts = append(opts, subscriptions.WithMailer(mc, cfg.MailFrom))
		}
	}
	if links != nil && cfg.AppBaseURL != "" {
		opts = append(opts, subscriptions.WithUnsubscribeLinks(func(email, item string) (string, error) {
			tok, err := links.Issue(email, item, unsubscribeLinkTTL)
			if err != nil {
				return "", err
			}
			return cfg.AppBaseURL + "/api/unsubscribe?token=" + url.QueryEscape(tok), nil
		}))
	}
	return opts
}
