package shopify

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/oauth2"
)

// DefaultScopes are the access scopes needed to count orders.
var DefaultScopes = []string{"read_orders", "read_fulfillments"}

// App holds the OAuth client credentials of one store's custom app.
type App struct {
	Shop         string
	ClientID     string
	ClientSecret string
}

func (c *Client) oauthConfig(app App, redirectURL string, scopes []string) *oauth2.Config {
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	base := c.shopURL(app.Shop)
	return &oauth2.Config{
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/admin/oauth/authorize",
			TokenURL:  base + "/admin/oauth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURL,
		// Shopify expects a comma separated scope list.
		Scopes: []string{strings.Join(scopes, ",")},
	}
}

// AuthorizeURL returns the page the merchant is sent to for approving the app.
func (c *Client) AuthorizeURL(app App, redirectURL string, scopes []string) string {
	return c.oauthConfig(app, redirectURL, scopes).AuthCodeURL("")
}

// ExchangeCode trades an authorization code for a permanent access token. It makes a
// single call; upstream rejections come back as *UpstreamError with Shopify's body.
func (c *Client) ExchangeCode(ctx context.Context, app App, code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", errors.New("shopify: authorization code is required")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.oauthConfig(app, "", nil).Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return "", &UpstreamError{StatusCode: retrieveErr.Response.StatusCode, Body: string(retrieveErr.Body)}
		}
		return "", err
	}
	return token.AccessToken, nil
}
