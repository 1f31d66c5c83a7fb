package app

import (
	"strings"
	"time"

	"github.com/charlesng35/opsdash/internal/models"
	"github.com/charlesng35/opsdash/internal/services"
	"github.com/charlesng35/opsdash/internal/shopify"
)

// Configured reports whether the store has enough settings to start the OAuth flow.
func (s ShopifyStore) Configured() bool {
	return strings.TrimSpace(s.Shop) != "" && strings.TrimSpace(s.ClientID) != ""
}

func (s ShopifyStore) app() shopify.App {
	return shopify.App{
		Shop:         strings.TrimSpace(s.Shop),
		ClientID:     strings.TrimSpace(s.ClientID),
		ClientSecret: strings.TrimSpace(s.ClientSecret),
	}
}

// Stores returns the apps for every configured store type. Unconfigured stores are left
// out so the sync engine skips them and the auth route reports them as missing.
func (c ShopifyConfig) Stores() map[models.StoreType]shopify.App {
	stores := make(map[models.StoreType]shopify.App, 2)
	if c.Retail.Configured() {
		stores[models.StoreRetail] = c.Retail.app()
	}
	if c.Trade.Configured() {
		stores[models.StoreTrade] = c.Trade.app()
	}
	return stores
}

// ClientConfig converts the section into shopify.Config.
func (c ShopifyConfig) ClientConfig() shopify.Config {
	return shopify.Config{
		APIVersion: c.APIVersion,
		Timeout:    c.Timeout,
	}
}

// OrderSyncConfig builds the sync engine settings. publicURL is the origin the platform
// redirects back to after consent.
func (c ShopifyConfig) OrderSyncConfig(publicURL string, now func() time.Time) services.OrderSyncConfig {
	return services.OrderSyncConfig{
		Stores:          c.Stores(),
		Window:          c.SyncWindow,
		CallbackBaseURL: publicURL,
		Scopes:          c.Scopes,
		Now:             now,
	}
}
