package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/opsdash/internal/database"
	"github.com/charlesng35/opsdash/internal/ingest"
	"github.com/charlesng35/opsdash/internal/models"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 3001, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "http://localhost:3001", cfg.Server.PublicURL)
	require.Equal(t, []string{"*"}, cfg.Server.CORS.AllowedOrigins)
	require.Equal(t, StorageFile, cfg.Storage.Backend)
	require.Equal(t, "data.json", cfg.Storage.DataFile)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.False(t, cfg.ObjectStorage.Enabled())
	require.Equal(t, 5*time.Minute, cfg.Shopify.SyncWindow)
	require.Equal(t, "@every 5m", cfg.Shopify.SyncSchedule)
	require.Equal(t, 30*time.Second, cfg.Shopify.Timeout)
	require.Equal(t, []string{"read_orders", "read_fulfillments"}, cfg.Shopify.Scopes)
	require.Equal(t, 20, cfg.Upload.MaxFiles)
	require.Equal(t, "/uploads/", cfg.Upload.URLPrefix)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.Empty(t, cfg.Shopify.Stores())
}

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, "https://dash.example.com", cfg.Server.PublicURL)
	require.Equal(t, []string{"https://kiosk.example.com", "https://admin.example.com"}, cfg.Server.CORS.AllowedOrigins)
	require.Equal(t, 50, cfg.Server.RateLimit.Requests)
	require.Equal(t, 30*time.Second, cfg.Server.RateLimit.Window)

	require.Equal(t, StorageDatabase, cfg.Storage.Backend)
	require.Equal(t, "/var/lib/opsdash/data.json", cfg.Storage.DataFile)

	require.Equal(t, database.Config{
		Driver:   "postgres",
		Path:     "./data/opsdash.sqlite",
		Host:     "db.example.com",
		Port:     5433,
		Name:     "opsdash",
		User:     "dash",
		Password: "secret",
	}, cfg.Database.DatabaseConnConfig())

	require.True(t, cfg.ObjectStorage.Enabled())
	require.Equal(t, ingest.S3Config{
		Bucket:       "kiosk-gallery",
		Region:       "eu-west-2",
		Endpoint:     "http://minio.local:9000",
		AccessKey:    "minio",
		SecretKey:    "minio-secret",
		Folder:       "gallery",
		UsePathStyle: true,
	}, cfg.ObjectStorage.S3Config())

	require.Equal(t, "2024-04", cfg.Shopify.APIVersion)
	require.Equal(t, 10*time.Second, cfg.Shopify.Timeout)
	require.Equal(t, 2*time.Minute, cfg.Shopify.SyncWindow)
	require.Equal(t, "@every 1m", cfg.Shopify.SyncSchedule)
	require.Equal(t, []string{"read_orders", "read_fulfillments", "read_products"}, cfg.Shopify.Scopes)

	stores := cfg.Shopify.Stores()
	require.Len(t, stores, 1)
	require.Equal(t, "retail-store.myshopify.com", stores[models.StoreRetail].Shop)
	require.Equal(t, "retail-secret", stores[models.StoreRetail].ClientSecret)

	require.Equal(t, "/media/", cfg.Upload.URLPrefix)
	require.Equal(t, 10, cfg.Upload.MaxFiles)
}

func TestLoadConfigLegacyEnv(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("SHOPIFY_TRADE_SHOP", "trade-store.myshopify.com")
	t.Setenv("SHOPIFY_TRADE_API_KEY", "trade-id")
	t.Setenv("SHOPIFY_TRADE_API_SECRET", "trade-secret")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 4000, cfg.Server.Port)
	stores := cfg.Shopify.Stores()
	require.Len(t, stores, 1)
	require.Equal(t, "trade-id", stores[models.StoreTrade].ClientID)
	require.Equal(t, "trade-secret", stores[models.StoreTrade].ClientSecret)
}

func TestLoadConfigPrefixedEnvWins(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("OPSDASH_SERVER_PORT", "5000")
	t.Setenv("OPSDASH_STORAGE_BACKEND", "datastore")
	t.Setenv("OPSDASH_DATASTORE_PROJECT_ID", "kiosk-project")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 5000, cfg.Server.Port)
	require.Equal(t, StorageDatastore, cfg.Storage.Backend)
	require.Equal(t, "kiosk-project", cfg.Datastore.ProjectID)
}

func TestShopifyOrderSyncConfig(t *testing.T) {
	cfg := ShopifyConfig{
		SyncWindow: time.Minute,
		Scopes:     []string{"read_orders"},
		Retail:     ShopifyStore{Shop: " retail.myshopify.com ", ClientID: "id"},
		Trade:      ShopifyStore{Shop: "trade.myshopify.com"},
	}

	now := func() time.Time { return time.Unix(0, 0) }
	syncCfg := cfg.OrderSyncConfig("https://dash.example.com", now)
	require.Equal(t, time.Minute, syncCfg.Window)
	require.Equal(t, "https://dash.example.com", syncCfg.CallbackBaseURL)
	require.Len(t, syncCfg.Stores, 1)
	require.Equal(t, "retail.myshopify.com", syncCfg.Stores[models.StoreRetail].Shop)
	require.Equal(t, time.Unix(0, 0), syncCfg.Now())
}
