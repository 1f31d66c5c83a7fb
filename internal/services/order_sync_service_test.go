package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/opsdash/internal/configstore"
	"github.com/charlesng35/opsdash/internal/credentials"
	"github.com/charlesng35/opsdash/internal/models"
	"github.com/charlesng35/opsdash/internal/shopify"
	apperrors "github.com/charlesng35/opsdash/pkg/errors"
)

type fakeCommerce struct {
	mu        sync.Mutex
	today     map[string]int
	open      map[string]int
	failShops map[string]bool
	failOpen  map[string]bool
	queries   atomic.Int32
	exchanges atomic.Int32
	exchange  func(app shopify.App, code string) (string, error)
	since     time.Time
}

func newFakeCommerce() *fakeCommerce {
	return &fakeCommerce{
		today:     map[string]int{},
		open:      map[string]int{},
		failShops: map[string]bool{},
		failOpen:  map[string]bool{},
	}
}

func (f *fakeCommerce) AuthorizeURL(app shopify.App, redirectURL string, scopes []string) string {
	return "https://" + app.Shop + "/admin/oauth/authorize?client_id=" + app.ClientID + "&redirect_uri=" + redirectURL
}

func (f *fakeCommerce) ExchangeCode(_ context.Context, app shopify.App, code string) (string, error) {
	f.exchanges.Add(1)
	if f.exchange != nil {
		return f.exchange(app, code)
	}
	return "token-for-" + app.Shop, nil
}

func (f *fakeCommerce) CountOrdersCreatedSince(_ context.Context, shop, _ string, since time.Time) (int, error) {
	f.queries.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = since
	if f.failShops[shop] {
		return 0, errors.New("503 service unavailable")
	}
	return f.today[shop], nil
}

func (f *fakeCommerce) CountUnfulfilledOrders(_ context.Context, shop, _ string) (int, error) {
	f.queries.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failShops[shop] || f.failOpen[shop] {
		return 0, errors.New("429 too many requests")
	}
	return f.open[shop], nil
}

type syncFixture struct {
	svc    *OrderSyncService
	store  *configstore.Store
	tokens *credentials.Store
	api    *fakeCommerce
	now    *time.Time
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	dir := t.TempDir()

	now := time.Date(2024, 5, 1, 14, 30, 0, 0, time.Local)
	clock := func() time.Time { return now }

	file, err := configstore.NewFileBackend(filepath.Join(dir, "data.json"))
	require.NoError(t, err)
	store, err := configstore.New(file, nil, configstore.WithClock(clock))
	require.NoError(t, err)

	tokens, err := credentials.NewStore(filepath.Join(dir, "tokens.json"))
	require.NoError(t, err)

	api := newFakeCommerce()
	svc, err := NewOrderSyncService(store, tokens, api, OrderSyncConfig{
		Stores: map[models.StoreType]shopify.App{
			models.StoreRetail: {Shop: "Retail.myshopify.com", ClientID: "retail-key", ClientSecret: "retail-secret"},
			models.StoreTrade:  {Shop: "trade.myshopify.com", ClientID: "trade-key", ClientSecret: "trade-secret"},
		},
		CallbackBaseURL: "http://localhost:3001/",
		Now:             clock,
	})
	require.NoError(t, err)

	return &syncFixture{svc: svc, store: store, tokens: tokens, api: api, now: &now}
}

func TestSyncUpdatesStoresWithTokens(t *testing.T) {
	f := newSyncFixture(t)
	require.NoError(t, f.tokens.SaveToken("retail.myshopify.com", "shpat_r"))
	require.NoError(t, f.tokens.SaveToken("trade.myshopify.com", "shpat_t"))
	f.api.today["retail.myshopify.com"] = 30
	f.api.open["retail.myshopify.com"] = 7
	f.api.today["trade.myshopify.com"] = 3
	f.api.open["trade.myshopify.com"] = 1

	cfg, result, err := f.svc.SyncWithResult(context.Background())
	require.NoError(t, err)

	require.False(t, result.Cached)
	require.ElementsMatch(t, []models.StoreType{models.StoreRetail, models.StoreTrade}, result.Updated)
	require.Equal(t, models.OrderCounts{Today: 30, Unfulfilled: 7}, cfg.ShopifyData[models.StoreRetail])
	require.Equal(t, models.OrderCounts{Today: 3, Unfulfilled: 1}, cfg.ShopifyData[models.StoreTrade])
	require.Equal(t, f.now.UnixMilli(), cfg.ShopifyLastChecked)
	require.Equal(t, f.now.UnixMilli(), cfg.LastUpdated)
	require.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local), f.api.since)

	require.Equal(t, cfg, f.store.Read(context.Background()))
}

func TestSyncWithinWindowMakesNoQueries(t *testing.T) {
	f := newSyncFixture(t)
	require.NoError(t, f.tokens.SaveToken("retail.myshopify.com", "shpat_r"))
	ctx := context.Background()

	first, err := f.svc.Sync(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, f.api.queries.Load())

	*f.now = f.now.Add(4 * time.Minute)
	second, result, err := f.svc.SyncWithResult(ctx)
	require.NoError(t, err)

	require.True(t, result.Cached)
	require.EqualValues(t, 2, f.api.queries.Load())
	require.Equal(t, first.ShopifyLastChecked, second.ShopifyLastChecked)

	*f.now = f.now.Add(time.Minute)
	third, err := f.svc.Sync(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 4, f.api.queries.Load())
	require.Greater(t, third.ShopifyLastChecked, first.ShopifyLastChecked)
}

func TestConcurrentSyncsShareTheWindow(t *testing.T) {
	f := newSyncFixture(t)
	require.NoError(t, f.tokens.SaveToken("retail.myshopify.com", "shpat_r"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Sync(context.Background())
		}()
	}
	wg.Wait()

	require.EqualValues(t, 2, f.api.queries.Load())
}

func TestSyncSkipsStoreWithoutToken(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	before := f.store.Read(ctx)
	cfg, result, err := f.svc.SyncWithResult(ctx)
	require.NoError(t, err)

	require.Empty(t, result.Updated)
	require.ElementsMatch(t, []models.StoreType{models.StoreRetail, models.StoreTrade}, result.Skipped)
	require.Zero(t, f.api.queries.Load())
	require.Equal(t, before.ShopifyData, cfg.ShopifyData)
	require.Equal(t, f.now.UnixMilli(), cfg.ShopifyLastChecked, "the pass is recorded so the window applies")
}

func TestSyncPartialFailureKeepsPriorCounts(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tokens.SaveToken("retail.myshopify.com", "shpat_r"))
	require.NoError(t, f.tokens.SaveToken("trade.myshopify.com", "shpat_t"))

	seeded, err := f.store.Write(ctx, models.ConfigPatch{})
	require.NoError(t, err)
	*f.now = f.now.Add(time.Second)

	f.api.today["retail.myshopify.com"] = 50
	f.api.open["retail.myshopify.com"] = 9
	// Only the second query fails, so the whole store must be skipped.
	f.api.failOpen["trade.myshopify.com"] = true
	f.api.today["trade.myshopify.com"] = 99

	cfg, result, err := f.svc.SyncWithResult(ctx)
	require.NoError(t, err)

	require.Equal(t, []models.StoreType{models.StoreRetail}, result.Updated)
	require.Equal(t, []models.StoreType{models.StoreTrade}, result.Skipped)
	require.Equal(t, models.OrderCounts{Today: 50, Unfulfilled: 9}, cfg.ShopifyData[models.StoreRetail])
	require.Equal(t, models.OrderCounts{Today: 4, Unfulfilled: 2}, cfg.ShopifyData[models.StoreTrade])
	require.Greater(t, cfg.LastUpdated, seeded.LastUpdated)
}

func TestSyncAllFailingAdvancesOnlyLastChecked(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tokens.SaveToken("retail.myshopify.com", "shpat_r"))
	f.api.failShops["retail.myshopify.com"] = true

	seeded, err := f.store.Write(ctx, models.ConfigPatch{})
	require.NoError(t, err)
	*f.now = f.now.Add(time.Minute)

	cfg, err := f.svc.Sync(ctx)
	require.NoError(t, err)

	require.Equal(t, seeded.LastUpdated, cfg.LastUpdated)
	require.Equal(t, f.now.UnixMilli(), cfg.ShopifyLastChecked)
	require.Equal(t, seeded.ShopifyData, cfg.ShopifyData)
}

func TestSyncPreservesConcurrentConfigEdits(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tokens.SaveToken("retail.myshopify.com", "shpat_r"))

	_, err := f.store.Write(ctx, models.ConfigPatch{KitchenMessage: models.StringPtr("Edited"), Gallery: &[]string{"/uploads/a.png"}})
	require.NoError(t, err)

	cfg, err := f.svc.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, "Edited", cfg.KitchenMessage)
	require.Equal(t, []string{"/uploads/a.png"}, cfg.Gallery)
}

func TestAuthorizeURL(t *testing.T) {
	f := newSyncFixture(t)

	raw, err := f.svc.AuthorizeURL(models.StoreTrade)
	require.NoError(t, err)
	require.Contains(t, raw, "trade.myshopify.com")
	require.Contains(t, raw, "http://localhost:3001/api/shopify/callback/trade")

	_, err = f.svc.AuthorizeURL(models.StoreType("wholesale"))
	require.ErrorIs(t, err, apperrors.ErrUnknownStoreType)
}

func TestAuthorizeURLRequiresConfiguredStore(t *testing.T) {
	f := newSyncFixture(t)
	svc, err := NewOrderSyncService(f.store, f.tokens, f.api, OrderSyncConfig{
		Stores: map[models.StoreType]shopify.App{models.StoreRetail: {Shop: "retail.myshopify.com"}},
	})
	require.NoError(t, err)

	_, err = svc.AuthorizeURL(models.StoreRetail)
	require.ErrorIs(t, err, apperrors.ErrStoreNotConfigured)
	_, err = svc.AuthorizeURL(models.StoreTrade)
	require.ErrorIs(t, err, apperrors.ErrStoreNotConfigured)
}

func TestExchangeCodeSavesToken(t *testing.T) {
	f := newSyncFixture(t)

	token, err := f.svc.ExchangeCode(context.Background(), models.StoreRetail, "RETAIL.myshopify.com", "abc")
	require.NoError(t, err)
	require.Equal(t, "token-for-retail.myshopify.com", token)

	saved, ok, err := f.tokens.Token("retail.myshopify.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, token, saved)
}

func TestExchangeCodeSurfacesUpstreamError(t *testing.T) {
	f := newSyncFixture(t)
	f.api.exchange = func(shopify.App, string) (string, error) {
		return "", &shopify.UpstreamError{StatusCode: 400, Body: `{"error":"invalid_request"}`}
	}

	_, err := f.svc.ExchangeCode(context.Background(), models.StoreRetail, "", "abc")

	require.ErrorIs(t, err, apperrors.ErrUpstream)
	require.Contains(t, err.Error(), "invalid_request")
	var upstream *shopify.UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.EqualValues(t, 1, f.api.exchanges.Load())

	_, ok, err := f.tokens.Token("retail.myshopify.com")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExchangeCodeRejectsForeignShop(t *testing.T) {
	f := newSyncFixture(t)

	_, err := f.svc.ExchangeCode(context.Background(), models.StoreRetail, "attacker.example.com", "abc")
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
	require.Zero(t, f.api.exchanges.Load())

	_, err = f.svc.ExchangeCode(context.Background(), models.StoreRetail, "", " ")
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestTriggerSyncRunsInBackground(t *testing.T) {
	f := newSyncFixture(t)
	require.NoError(t, f.tokens.SaveToken("trade.myshopify.com", "shpat_t"))
	f.api.today["trade.myshopify.com"] = 8

	ctx, cancel := context.WithCancel(context.Background())
	f.svc.TriggerSync(ctx)
	cancel()
	f.svc.Wait()

	require.Equal(t, 8, f.store.Read(context.Background()).ShopifyData[models.StoreTrade].Today)
}

func TestLocalMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	got := localMidnight(time.Date(2024, 1, 2, 1, 30, 0, 0, loc))
	require.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, loc), got)
}

func TestSyncWindowHasFiveMinuteFloor(t *testing.T) {
	f := newSyncFixture(t)

	for _, tc := range []struct {
		configured time.Duration
		want       time.Duration
	}{
		{configured: 0, want: 5 * time.Minute},
		{configured: time.Second, want: 5 * time.Minute},
		{configured: 15 * time.Minute, want: 15 * time.Minute},
	} {
		svc, err := NewOrderSyncService(f.store, f.tokens, f.api, OrderSyncConfig{Window: tc.configured})
		require.NoError(t, err)
		require.Equal(t, tc.want, svc.window, tc.configured.String())
	}

	require.NoError(t, f.tokens.SaveToken("retail.myshopify.com", "shpat_r"))
	svc, err := NewOrderSyncService(f.store, f.tokens, f.api, OrderSyncConfig{
		Stores: map[models.StoreType]shopify.App{models.StoreRetail: {Shop: "retail.myshopify.com", ClientID: "retail-key"}},
		Window: time.Second,
		Now:    func() time.Time { return *f.now },
	})
	require.NoError(t, err)

	_, result, err := svc.SyncWithResult(context.Background())
	require.NoError(t, err)
	require.False(t, result.Cached)
	queries := f.api.queries.Load()

	*f.now = f.now.Add(time.Minute)
	_, result, err = svc.SyncWithResult(context.Background())
	require.NoError(t, err)
	require.True(t, result.Cached)
	require.Equal(t, queries, f.api.queries.Load())
}
