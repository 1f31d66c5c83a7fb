package handlers_test

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/opsdash/internal/handlers/testutil"
	"github.com/charlesng35/opsdash/internal/models"
)

func TestUnsupportedProvider(t *testing.T) {
	env := testutil.NewEnv(t)

	for _, path := range []string{"/api/woocommerce/ping", "/api/woocommerce/auth/retail"} {
		w := env.Request(http.MethodGet, path, nil)
		require.Equal(t, http.StatusNotFound, w.Code, path)
		require.Equal(t, "provider.unsupported", testutil.DecodeResponse(t, w).Error.Code)
	}

	w := env.Request(http.MethodPost, "/api/woocommerce/sync", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPing(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/api/shopify/ping", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.HasPrefix(w.Body.String(), "Server is alive and reachable at "))
}

func TestAuthorizeRedirects(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/api/shopify/auth/retail", nil)
	require.Equal(t, http.StatusFound, w.Code)

	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/admin/oauth/authorize", location.Path)
	query := location.Query()
	require.Equal(t, "retail-client", query.Get("client_id"))
	require.Equal(t, "http://dash.test/api/shopify/callback/retail", query.Get("redirect_uri"))
	require.Equal(t, "read_orders,read_fulfillments", query.Get("scope"))
}

func TestAuthorizeRejectsUnknownOrUnconfiguredStores(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/api/shopify/auth/wholesale", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "provider.unknown_store_type", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodGet, "/api/shopify/auth/trade", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "provider.store_not_configured", testutil.DecodeResponse(t, w).Error.Code)
}

func TestCallbackStoresTokenAndSyncs(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/api/shopify/callback/retail?shop="+testutil.RetailShop+"&code=good-code", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Contains(t, w.Header().Get("Content-Type"), "text/html")
	require.Contains(t, w.Body.String(), "Authenticated "+testutil.RetailShop)

	token, ok, err := env.Tokens.Token(testutil.RetailShop)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, testutil.IssuedToken, token)

	env.Sync.Wait()
	cfg := testutil.DecodeConfig(t, env.Request(http.MethodGet, "/api/config", nil))
	require.Equal(t, models.OrderCounts{Today: 7, Unfulfilled: 3}, cfg.ShopifyData[models.StoreRetail])
	require.Equal(t, models.OrderCounts{Today: 4, Unfulfilled: 2}, cfg.ShopifyData[models.StoreTrade])
	require.NotZero(t, cfg.ShopifyLastChecked)
}

func TestCallbackErrors(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/api/shopify/callback/retail?error=access_denied&error_description=Merchant+declined", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "Shopify Error: Merchant declined", testutil.DecodeResponse(t, w).Error.Message)

	w = env.Request(http.MethodGet, "/api/shopify/callback/retail?shop="+testutil.RetailShop, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "No code provided.", testutil.DecodeResponse(t, w).Error.Message)

	w = env.Request(http.MethodGet, "/api/shopify/callback/retail?shop=attacker.myshopify.com&code=good-code", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.Request(http.MethodGet, "/api/shopify/callback/retail?shop="+testutil.RetailShop+"&code="+testutil.RejectedCode, nil)
	require.Equal(t, http.StatusBadGateway, w.Code)
	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, "provider.upstream_error", resp.Error.Code)
	require.Contains(t, resp.Error.Message, "authorization code was not found")

	_, ok, err := env.Tokens.Token(testutil.RetailShop)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSyncRespectsWindow(t *testing.T) {
	env := testutil.NewEnv(t)
	require.NoError(t, env.Tokens.SaveToken(testutil.RetailShop, testutil.IssuedToken))

	w := env.Request(http.MethodPost, "/api/shopify/sync", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cfg := testutil.DecodeConfig(t, w)
	require.Equal(t, models.OrderCounts{Today: 7, Unfulfilled: 3}, cfg.ShopifyData[models.StoreRetail])
	calls := env.Platform.CountCalls.Load()
	require.Equal(t, int64(2), calls)

	env.Platform.Today.Store(99)
	w = env.Request(http.MethodPost, "/api/shopify/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, cfg, testutil.DecodeConfig(t, w))
	require.Equal(t, calls, env.Platform.CountCalls.Load())
}

func TestSyncKeepsCountsWhenPlatformFails(t *testing.T) {
	env := testutil.NewEnv(t)
	require.NoError(t, env.Tokens.SaveToken(testutil.RetailShop, testutil.IssuedToken))
	env.Platform.FailCounts.Store(true)

	before := testutil.DecodeConfig(t, env.Request(http.MethodGet, "/api/config", nil))

	w := env.Request(http.MethodPost, "/api/shopify/sync", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cfg := testutil.DecodeConfig(t, w)
	require.Equal(t, before.ShopifyData, cfg.ShopifyData)
	require.NotZero(t, cfg.ShopifyLastChecked)
}

func TestCallbackWithoutShopNamesStore(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/api/shopify/callback/retail?code=good-code", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), "Authenticated retail store")
	env.Sync.Wait()
}
