package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/opsdash/internal/api"
	"github.com/charlesng35/opsdash/internal/app"
	"github.com/charlesng35/opsdash/internal/app/scheduler"
	"github.com/charlesng35/opsdash/internal/configstore"
	"github.com/charlesng35/opsdash/internal/credentials"
	"github.com/charlesng35/opsdash/internal/handlers"
	"github.com/charlesng35/opsdash/internal/ingest"
	"github.com/charlesng35/opsdash/internal/middleware"
	"github.com/charlesng35/opsdash/internal/services"
	"github.com/charlesng35/opsdash/internal/shopify"
	"github.com/charlesng35/opsdash/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	Store     *configstore.Store
	Tokens    *credentials.Store
	Ingester  ingest.Ingester
	Sync      *services.OrderSyncService
	Gallery   *services.GalleryService
	Scheduler *scheduler.Scheduler
	RateStore middleware.RateStore
	Router    *gin.Engine

	cancel context.CancelFunc
}

// bootstrapRuntime initialises the config store, platform client, services and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.Store, err = app.OpenConfigStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	stack.Tokens, err = credentials.NewStore(cfg.Storage.TokensFile)
	if err != nil {
		return nil, fmt.Errorf("initialise credential store: %w", err)
	}

	stack.Ingester, err = newIngester(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client := shopify.NewClient(cfg.Shopify.ClientConfig())
	stack.Sync, err = services.NewOrderSyncService(stack.Store, stack.Tokens, client,
		cfg.Shopify.OrderSyncConfig(cfg.Server.PublicURL, nil))
	if err != nil {
		return nil, fmt.Errorf("initialise order sync service: %w", err)
	}

	stack.Gallery, err = services.NewGalleryService(stack.Store, stack.Ingester, cfg.Upload.MaxFiles)
	if err != nil {
		return nil, fmt.Errorf("initialise gallery service: %w", err)
	}

	stack.Scheduler = scheduler.New(stack.Sync, scheduler.WithSchedule(cfg.Shopify.SyncSchedule))
	if err := stack.Scheduler.RunOnce(ctx); err != nil {
		log.Warn("startup order sync failed", zap.Error(err))
	}
	if err := stack.Scheduler.Start(); err != nil {
		return nil, fmt.Errorf("start order sync schedule: %w", err)
	}

	rateCtx, cancel := context.WithCancel(context.Background())
	stack.cancel = cancel
	stack.RateStore = middleware.NewMemoryRateStore(rateCtx, cfg.Server.RateLimit.Window)

	uploadsDir := ""
	if local, ok := stack.Ingester.(*ingest.LocalIngester); ok {
		uploadsDir = local.Dir()
	}

	stack.Router, err = api.NewRouter(cfg, api.Services{
		Store:      stack.Store,
		Gallery:    stack.Gallery,
		Sync:       stack.Sync,
		UploadsDir: uploadsDir,
		Health:     stack.healthInfo,
	}, stack.RateStore)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func (s *runtimeStack) healthInfo() handlers.HealthInfo {
	info := handlers.HealthInfo{ConfigBackend: s.Store.BackendName(), ImageBackend: s.Ingester.Name()}
	shops, err := s.Tokens.Shops()
	if err != nil {
		logger.WithModule("health").Warn("failed to list authenticated shops", zap.Error(err))
		return info
	}
	info.AuthenticatedShops = shops
	return info
}

// Shutdown stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Scheduler != nil {
		if err := s.Scheduler.Shutdown(ctx); err != nil {
			log.Warn("order sync schedule shutdown", zap.Error(err))
		}
	}

	if s.Sync != nil {
		s.Sync.Wait()
	}

	if s.cancel != nil {
		s.cancel()
	}

	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			log.Warn("config store shutdown", zap.Error(err))
		}
	}
}

func newIngester(ctx context.Context, cfg *app.Config) (ingest.Ingester, error) {
	if cfg.ObjectStorage.Enabled() {
		ing, err := ingest.NewS3Ingester(ctx, cfg.ObjectStorage.S3Config())
		if err != nil {
			return nil, fmt.Errorf("initialise object storage: %w", err)
		}
		return ing, nil
	}
	ing, err := ingest.NewLocalIngester(cfg.Upload.Dir, cfg.Upload.URLPrefix)
	if err != nil {
		return nil, fmt.Errorf("initialise uploads directory: %w", err)
	}
	return ing, nil
}
