package models

import (
	"strings"
	"time"
)

// DashboardKey identifies the singleton configuration record.
const DashboardKey = "dashboard"

// StoreType names one of the commerce stores whose order counts are mirrored on the dashboard.
type StoreType string

const (
	StoreRetail StoreType = "retail"
	StoreTrade  StoreType = "trade"
)

// StoreTypes lists every supported store type in sync order.
var StoreTypes = []StoreType{StoreRetail, StoreTrade}

// ParseStoreType normalises raw input into a known store type.
func ParseStoreType(raw string) (StoreType, bool) {
	st := StoreType(strings.ToLower(strings.TrimSpace(raw)))
	switch st {
	case StoreRetail, StoreTrade:
		return st, true
	}
	return "", false
}

// OrderCounts is the cached order snapshot for a single store.
type OrderCounts struct {
	Today       int `json:"today" validate:"min=0"`
	Unfulfilled int `json:"unfulfilled" validate:"min=0"`
}

// Review is a customer quote shown by the review slider.
type Review struct {
	Name    string `json:"name"`
	Product string `json:"product"`
	Review  string `json:"review"`
}

// DashboardConfig is the shared configuration consumed by every display screen.
// Timestamps are Unix milliseconds.
type DashboardConfig struct {
	LogoURL            string                    `json:"logoUrl"`
	KitchenMessage     string                    `json:"kitchenMessage"`
	KitchenWelcome     string                    `json:"kitchenWelcome"`
	DispatchMessage    string                    `json:"dispatchMessage"`
	DispatchWelcome    string                    `json:"dispatchWelcome"`
	Gallery            []string                  `json:"gallery"`
	Reviews            []Review                  `json:"reviews"`
	ShopifyData        map[StoreType]OrderCounts `json:"shopifyData"`
	LastUpdated        int64                     `json:"lastUpdated"`
	ShopifyLastChecked int64                     `json:"shopifyLastChecked,omitempty"`
}

// DefaultDashboardConfig returns the record a fresh deployment starts with.
func DefaultDashboardConfig() DashboardConfig {
	return DashboardConfig{
		KitchenMessage:  "Welcome to the Kitchen!",
		KitchenWelcome:  "Happy Cooking!",
		DispatchMessage: "Ready for shipping!",
		DispatchWelcome: "Dispatch Center",
		Gallery:         []string{},
		Reviews:         []Review{},
		ShopifyData: map[StoreType]OrderCounts{
			StoreRetail: {Today: 12, Unfulfilled: 5},
			StoreTrade:  {Today: 4, Unfulfilled: 2},
		},
		LastUpdated: time.Now().UnixMilli(),
	}
}

// Clone returns a deep copy so callers can transform the record without aliasing slices or maps.
func (c DashboardConfig) Clone() DashboardConfig {
	out := c
	out.Gallery = append([]string{}, c.Gallery...)
	out.Reviews = append([]Review{}, c.Reviews...)
	out.ShopifyData = make(map[StoreType]OrderCounts, len(c.ShopifyData))
	for k, v := range c.ShopifyData {
		out.ShopifyData[k] = v
	}
	return out
}

// Normalize replaces nil collections with empty ones so the JSON form never carries null.
func (c *DashboardConfig) Normalize() {
	if c.Gallery == nil {
		c.Gallery = []string{}
	}
	if c.Reviews == nil {
		c.Reviews = []Review{}
	}
	if c.ShopifyData == nil {
		c.ShopifyData = map[StoreType]OrderCounts{}
	}
}

// Touch advances LastUpdated to at, never moving it backwards.
func (c *DashboardConfig) Touch(at time.Time) {
	if ms := at.UnixMilli(); ms > c.LastUpdated {
		c.LastUpdated = ms
	}
}

// LastCheckedAt reports when the last order sync pass ran, zero if never.
func (c DashboardConfig) LastCheckedAt() time.Time {
	if c.ShopifyLastChecked == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.ShopifyLastChecked)
}

// ConfigPatch carries the fields of a partial update. Nil fields are left untouched.
type ConfigPatch struct {
	LogoURL            *string                   `json:"logoUrl,omitempty"`
	KitchenMessage     *string                   `json:"kitchenMessage,omitempty"`
	KitchenWelcome     *string                   `json:"kitchenWelcome,omitempty"`
	DispatchMessage    *string                   `json:"dispatchMessage,omitempty"`
	DispatchWelcome    *string                   `json:"dispatchWelcome,omitempty"`
	Gallery            *[]string                 `json:"gallery,omitempty"`
	Reviews            *[]Review                 `json:"reviews,omitempty"`
	ShopifyData        map[StoreType]OrderCounts `json:"shopifyData,omitempty" validate:"omitempty,dive,keys,storetype,endkeys"`
	ShopifyLastChecked *int64                    `json:"shopifyLastChecked,omitempty"`
}

// Apply replaces every field present in the patch. ShopifyData is replaced as a whole.
func (p ConfigPatch) Apply(c *DashboardConfig) {
	if p.LogoURL != nil {
		c.LogoURL = *p.LogoURL
	}
	if p.KitchenMessage != nil {
		c.KitchenMessage = *p.KitchenMessage
	}
	if p.KitchenWelcome != nil {
		c.KitchenWelcome = *p.KitchenWelcome
	}
	if p.DispatchMessage != nil {
		c.DispatchMessage = *p.DispatchMessage
	}
	if p.DispatchWelcome != nil {
		c.DispatchWelcome = *p.DispatchWelcome
	}
	if p.Gallery != nil {
		c.Gallery = append([]string{}, (*p.Gallery)...)
	}
	if p.Reviews != nil {
		c.Reviews = append([]Review{}, (*p.Reviews)...)
	}
	if p.ShopifyData != nil {
		data := make(map[StoreType]OrderCounts, len(p.ShopifyData))
		for k, v := range p.ShopifyData {
			data[k] = v
		}
		c.ShopifyData = data
	}
	if p.ShopifyLastChecked != nil {
		c.ShopifyLastChecked = *p.ShopifyLastChecked
	}
	c.Normalize()
}

// StringPtr is a small helper for building patches.
func StringPtr(v string) *string { return &v }
