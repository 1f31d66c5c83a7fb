// Package shopify talks to the Shopify Admin API: OAuth code exchange and order counts.
package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultAPIVersion = "2024-01"
	defaultTimeout    = 30 * time.Second
	maxErrorBody      = 4 << 10
)

// Config controls how the client reaches Shopify.
type Config struct {
	APIVersion string
	Timeout    time.Duration
	HTTPClient *http.Client
	// BaseURL replaces https://{shop} for every request when set (proxies and tests).
	BaseURL string
}

// Client issues Admin API requests on behalf of a shop.
type Client struct {
	apiVersion string
	httpClient *http.Client
	baseURL    string
}

// UpstreamError carries a non-success response from Shopify verbatim.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("shopify: upstream returned %d", e.StatusCode)
	}
	return fmt.Sprintf("shopify: upstream returned %d: %s", e.StatusCode, body)
}

// NewClient builds a client with defaults applied.
func NewClient(cfg Config) *Client {
	version := strings.TrimSpace(cfg.APIVersion)
	if version == "" {
		version = DefaultAPIVersion
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		apiVersion: version,
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
	}
}

func (c *Client) shopURL(shop string) string {
	if c.baseURL != "" {
		return c.baseURL
	}
	return "https://" + shop
}

// CountOrdersCreatedSince counts orders created at or after since.
func (c *Client) CountOrdersCreatedSince(ctx context.Context, shop, token string, since time.Time) (int, error) {
	params := url.Values{}
	params.Set("created_at_min", since.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	return c.CountOrders(ctx, shop, token, params)
}

// CountUnfulfilledOrders counts orders that have not shipped yet.
func (c *Client) CountUnfulfilledOrders(ctx context.Context, shop, token string) (int, error) {
	params := url.Values{}
	params.Set("fulfillment_status", "unshipped")
	return c.CountOrders(ctx, shop, token, params)
}

// CountOrders calls orders/count.json with the given filters.
func (c *Client) CountOrders(ctx context.Context, shop, token string, params url.Values) (int, error) {
	if strings.TrimSpace(shop) == "" {
		return 0, errors.New("shopify: shop domain is required")
	}
	if token == "" {
		return 0, errors.New("shopify: access token is required")
	}

	endpoint := fmt.Sprintf("%s/admin/api/%s/orders/count.json", c.shopURL(shop), c.apiVersion)
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("shopify: build request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("shopify: count orders: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var payload struct {
		Count *int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("shopify: decode count: %w", err)
	}
	if payload.Count == nil {
		return 0, errors.New("shopify: count missing from response")
	}
	if *payload.Count < 0 {
		return 0, fmt.Errorf("shopify: negative count %d", *payload.Count)
	}
	return *payload.Count, nil
}
