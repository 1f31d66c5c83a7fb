package handlers

import (
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/opsdash/internal/models"
	"github.com/charlesng35/opsdash/internal/services"
	appErrors "github.com/charlesng35/opsdash/pkg/errors"
	"github.com/charlesng35/opsdash/pkg/logger"
	"github.com/charlesng35/opsdash/pkg/response"
)

// ProviderShopify is the only commerce provider currently wired.
const ProviderShopify = "shopify"

const callbackSuccessPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Connected</title></head>
<body><h1>Success!</h1><p>Authenticated %s. You can close this window now.</p></body></html>`

// CommerceHandler drives the OAuth flow and order count sync for a commerce provider.
type CommerceHandler struct {
	sync *services.OrderSyncService
	now  func() time.Time
	log  *zap.Logger
}

// NewCommerceHandler constructs a handler around the sync engine.
func NewCommerceHandler(sync *services.OrderSyncService) *CommerceHandler {
	return &CommerceHandler{
		sync: sync,
		now:  time.Now,
		log:  logger.WithModule("commerce"),
	}
}

// RequireProvider rejects provider path segments other than the supported ones.
func RequireProvider(supported ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(supported))
	for _, p := range supported {
		allowed[strings.ToLower(p)] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := allowed[strings.ToLower(c.Param("provider"))]; !ok {
			response.Abort(c, appErrors.ErrUnsupportedProvider)
			return
		}
		c.Next()
	}
}

func storeTypeParam(c *gin.Context) (models.StoreType, bool) {
	st, ok := models.ParseStoreType(c.Param("storeType"))
	if !ok {
		response.Error(c, appErrors.ErrUnknownStoreType.WithMessage(
			fmt.Sprintf("Unknown store type %q", c.Param("storeType"))))
		return "", false
	}
	return st, true
}

// Ping answers with a liveness line, used when registering the app's redirect URL.
func (h *CommerceHandler) Ping(c *gin.Context) {
	c.String(http.StatusOK, "Server is alive and reachable at "+h.now().UTC().Format(time.RFC3339Nano))
}

// Authorize redirects the browser to the platform consent screen for the store type.
func (h *CommerceHandler) Authorize(c *gin.Context) {
	st, ok := storeTypeParam(c)
	if !ok {
		return
	}

	target, err := h.sync.AuthorizeURL(st)
	if err != nil {
		h.log.Warn("authorisation unavailable", zap.String("store", string(st)), zap.Error(err))
		response.Error(c, err)
		return
	}
	h.log.Info("redirecting to consent screen", zap.String("store", string(st)))
	c.Redirect(http.StatusFound, target)
}

// Callback completes the OAuth flow: the code is exchanged, the token stored, and a sync
// pass is started in the background.
func (h *CommerceHandler) Callback(c *gin.Context) {
	st, ok := storeTypeParam(c)
	if !ok {
		return
	}

	if errCode := strings.TrimSpace(c.Query("error")); errCode != "" {
		desc := strings.TrimSpace(c.Query("error_description"))
		h.log.Warn("platform reported an authorisation error",
			zap.String("store", string(st)), zap.String("error", errCode), zap.String("description", desc))
		if desc == "" {
			desc = errCode
		}
		response.Error(c, appErrors.NewBadRequest("Shopify Error: "+desc))
		return
	}

	shop := c.Query("shop")
	if _, err := h.sync.ExchangeCode(requestContext(c), st, shop, c.Query("code")); err != nil {
		response.Error(c, err)
		return
	}

	label := strings.ToLower(strings.TrimSpace(shop))
	if label == "" {
		label = string(st) + " store"
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8",
		[]byte(fmt.Sprintf(callbackSuccessPage, html.EscapeString(label))))

	h.sync.TriggerSync(requestContext(c))
}

// Sync refreshes order counts, subject to the rate limit window, and returns the record.
func (h *CommerceHandler) Sync(c *gin.Context) {
	cfg, err := h.sync.Sync(requestContext(c))
	writeRecord(c, cfg, err)
}
