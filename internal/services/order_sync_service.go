package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/charlesng35/opsdash/internal/credentials"
	"github.com/charlesng35/opsdash/internal/models"
	"github.com/charlesng35/opsdash/internal/shopify"
	apperrors "github.com/charlesng35/opsdash/pkg/errors"
	"github.com/charlesng35/opsdash/pkg/logger"
	"github.com/charlesng35/opsdash/pkg/metrics"
)

// minSyncWindow is the shortest allowed gap between passes that reach the platform.
const minSyncWindow = 5 * time.Minute

// DashboardStore is the subset of the config store used by services.
type DashboardStore interface {
	Read(ctx context.Context) models.DashboardConfig
	Write(ctx context.Context, patch models.ConfigPatch) (models.DashboardConfig, error)
	Mutate(ctx context.Context, fn func(cfg *models.DashboardConfig) error) (models.DashboardConfig, error)
	RecordSyncCheck(ctx context.Context, at time.Time) (models.DashboardConfig, error)
}

// TokenStore persists access tokens per shop domain.
type TokenStore interface {
	Token(shop string) (string, bool, error)
	SaveToken(shop, token string) error
}

// CommerceAPI is implemented by *shopify.Client.
type CommerceAPI interface {
	AuthorizeURL(app shopify.App, redirectURL string, scopes []string) string
	ExchangeCode(ctx context.Context, app shopify.App, code string) (string, error)
	CountOrdersCreatedSince(ctx context.Context, shop, token string, since time.Time) (int, error)
	CountUnfulfilledOrders(ctx context.Context, shop, token string) (int, error)
}

// OrderSyncConfig configures an OrderSyncService.
type OrderSyncConfig struct {
	Stores map[models.StoreType]shopify.App
	// Window is the minimum time between two passes that reach the platform. Values below
	// five minutes are raised to five minutes.
	Window time.Duration
	// CallbackBaseURL is the public origin the platform redirects back to.
	CallbackBaseURL string
	Scopes          []string
	Now             func() time.Time
}

// SyncResult summarises one Sync call.
type SyncResult struct {
	Cached  bool
	Updated []models.StoreType
	Skipped []models.StoreType
}

// OrderSyncService exchanges OAuth codes and refreshes cached order counts.
type OrderSyncService struct {
	store    DashboardStore
	tokens   TokenStore
	api      CommerceAPI
	stores   map[models.StoreType]shopify.App
	window   time.Duration
	callback string
	scopes   []string
	now      func() time.Time
	log      *zap.Logger

	// mu serialises passes so the periodic and on-demand triggers observe each
	// other's shopifyLastChecked.
	mu sync.Mutex
	bg sync.WaitGroup
}

// NewOrderSyncService constructs the service.
func NewOrderSyncService(store DashboardStore, tokens TokenStore, api CommerceAPI, cfg OrderSyncConfig) (*OrderSyncService, error) {
	if store == nil {
		return nil, errors.New("order sync service: config store is required")
	}
	if tokens == nil {
		return nil, errors.New("order sync service: token store is required")
	}
	if api == nil {
		return nil, errors.New("order sync service: commerce api is required")
	}

	log := logger.WithModule("order_sync")
	window := cfg.Window
	if window < minSyncWindow {
		if window > 0 {
			log.Warn("sync window below minimum; using minimum",
				zap.Duration("configured", window), zap.Duration("minimum", minSyncWindow))
		}
		window = minSyncWindow
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	stores := make(map[models.StoreType]shopify.App, len(cfg.Stores))
	for st, app := range cfg.Stores {
		app.Shop = strings.ToLower(strings.TrimSpace(app.Shop))
		stores[st] = app
	}

	return &OrderSyncService{
		store:    store,
		tokens:   tokens,
		api:      api,
		stores:   stores,
		window:   window,
		callback: strings.TrimRight(cfg.CallbackBaseURL, "/"),
		scopes:   cfg.Scopes,
		now:      now,
		log:      log,
	}, nil
}

// AuthorizeURL builds the platform consent URL for a store type.
func (s *OrderSyncService) AuthorizeURL(storeType models.StoreType) (string, error) {
	app, err := s.app(storeType)
	if err != nil {
		return "", err
	}
	redirect := fmt.Sprintf("%s/api/shopify/callback/%s", s.callback, url.PathEscape(string(storeType)))
	return s.api.AuthorizeURL(app, redirect, s.scopes), nil
}

// ExchangeCode trades code for an access token and saves it for the store's shop.
// The shop reported by the platform must match the configured one.
func (s *OrderSyncService) ExchangeCode(ctx context.Context, storeType models.StoreType, shop, code string) (string, error) {
	app, err := s.app(storeType)
	if err != nil {
		return "", err
	}
	if shop = strings.ToLower(strings.TrimSpace(shop)); shop != "" && shop != app.Shop {
		return "", apperrors.NewBadRequest(fmt.Sprintf("shop %q does not match the configured %s store", shop, storeType))
	}
	if strings.TrimSpace(code) == "" {
		return "", apperrors.NewBadRequest("No code provided.")
	}

	token, err := s.api.ExchangeCode(ctx, app, code)
	if err != nil {
		s.log.Error("token exchange failed", zap.String("store", string(storeType)), zap.String("shop", app.Shop), zap.Error(err))
		return "", apperrors.ErrUpstream.WithMessage(err.Error()).WithInternal(err)
	}

	if err := s.tokens.SaveToken(app.Shop, token); err != nil {
		return "", fmt.Errorf("order sync service: save token: %w", err)
	}
	s.log.Info("store authenticated", zap.String("store", string(storeType)), zap.String("shop", app.Shop), zap.String("token", credentials.Mask(token)))
	return token, nil
}

func (s *OrderSyncService) app(storeType models.StoreType) (shopify.App, error) {
	if _, ok := models.ParseStoreType(string(storeType)); !ok {
		return shopify.App{}, apperrors.ErrUnknownStoreType
	}
	app, ok := s.stores[storeType]
	if !ok || app.Shop == "" || app.ClientID == "" {
		return shopify.App{}, apperrors.ErrStoreNotConfigured.WithMessage(
			fmt.Sprintf("Missing shop or client id for the %s store", storeType))
	}
	return app, nil
}

// Sync refreshes order counts unless a pass already ran within the window, in which case
// the stored record is returned untouched. Stores without a token or with a failing query
// keep their previous counts. The pass time is recorded even when no store updated, so a
// failing store is retried once per window rather than on every call.
func (s *OrderSyncService) Sync(ctx context.Context) (models.DashboardConfig, error) {
	cfg, _, err := s.SyncWithResult(ctx)
	return cfg, err
}

// SyncWithResult is Sync with a summary of what happened.
func (s *OrderSyncService) SyncWithResult(ctx context.Context) (models.DashboardConfig, SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	current := s.store.Read(ctx)
	if last := current.LastCheckedAt(); !last.IsZero() && now.Sub(last) < s.window {
		metrics.SyncPasses.WithLabelValues("cached").Inc()
		return current, SyncResult{Cached: true}, nil
	}

	result := SyncResult{}
	counts := make(map[models.StoreType]models.OrderCounts)
	for _, storeType := range models.StoreTypes {
		app, ok := s.stores[storeType]
		if !ok || app.Shop == "" {
			continue
		}
		c, err := s.fetchCounts(ctx, storeType, app, now)
		if err != nil {
			s.log.Warn("store skipped", zap.String("store", string(storeType)), zap.String("shop", app.Shop), zap.Error(err))
			result.Skipped = append(result.Skipped, storeType)
			continue
		}
		counts[storeType] = c
		result.Updated = append(result.Updated, storeType)
	}

	var (
		cfg models.DashboardConfig
		err error
	)
	outcome := "skipped"
	if len(counts) > 0 {
		outcome = "updated"
		cfg, err = s.store.Mutate(ctx, func(cfg *models.DashboardConfig) error {
			for storeType, c := range counts {
				cfg.ShopifyData[storeType] = c
			}
			cfg.ShopifyLastChecked = now.UnixMilli()
			return nil
		})
	} else {
		cfg, err = s.store.RecordSyncCheck(ctx, now)
	}
	if err != nil {
		outcome = "error"
		s.log.Warn("sync result not persisted", zap.Error(err))
	}
	metrics.SyncPasses.WithLabelValues(outcome).Inc()
	return cfg, result, err
}

var errNoToken = errors.New("no access token saved")

// fetchCounts runs both count queries concurrently; the store only counts as updated
// when both succeed.
func (s *OrderSyncService) fetchCounts(ctx context.Context, storeType models.StoreType, app shopify.App, now time.Time) (models.OrderCounts, error) {
	token, ok, err := s.tokens.Token(app.Shop)
	if err != nil {
		return models.OrderCounts{}, err
	}
	if !ok {
		metrics.UpstreamQueries.WithLabelValues(string(storeType), "no_token").Inc()
		return models.OrderCounts{}, errNoToken
	}

	midnight := localMidnight(now)
	var counts models.OrderCounts
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.api.CountOrdersCreatedSince(gctx, app.Shop, token, midnight)
		if err != nil {
			return fmt.Errorf("orders created today: %w", err)
		}
		counts.Today = n
		return nil
	})
	g.Go(func() error {
		n, err := s.api.CountUnfulfilledOrders(gctx, app.Shop, token)
		if err != nil {
			return fmt.Errorf("unfulfilled orders: %w", err)
		}
		counts.Unfulfilled = n
		return nil
	})
	if err := g.Wait(); err != nil {
		metrics.UpstreamQueries.WithLabelValues(string(storeType), "error").Inc()
		return models.OrderCounts{}, err
	}
	metrics.UpstreamQueries.WithLabelValues(string(storeType), "success").Inc()
	return counts, nil
}

// TriggerSync runs Sync in the background, detached from the caller's cancellation.
func (s *OrderSyncService) TriggerSync(ctx context.Context) {
	ctx = context.WithoutCancel(ensureContext(ctx))
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if _, err := s.Sync(ctx); err != nil {
			s.log.Warn("background sync failed", zap.Error(err))
		}
	}()
}

// Wait blocks until background syncs started by TriggerSync finish.
func (s *OrderSyncService) Wait() {
	s.bg.Wait()
}

func localMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
