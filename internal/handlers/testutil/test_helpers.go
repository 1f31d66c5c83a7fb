package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/opsdash/internal/api"
	"github.com/charlesng35/opsdash/internal/app"
	"github.com/charlesng35/opsdash/internal/configstore"
	"github.com/charlesng35/opsdash/internal/credentials"
	"github.com/charlesng35/opsdash/internal/handlers"
	"github.com/charlesng35/opsdash/internal/ingest"
	"github.com/charlesng35/opsdash/internal/middleware"
	"github.com/charlesng35/opsdash/internal/models"
	"github.com/charlesng35/opsdash/internal/services"
	"github.com/charlesng35/opsdash/internal/shopify"
	"github.com/charlesng35/opsdash/pkg/response"
)

const (
	// RetailShop is the shop domain configured for the retail store.
	RetailShop = "retail-test.myshopify.com"
	// IssuedToken is the access token the fake platform hands out.
	IssuedToken = "shpat_test_token"
	// RejectedCode makes the fake platform refuse the exchange.
	RejectedCode = "rejected-code"
)

// Env encapsulates a fully-wired API instance backed by temp files and a fake commerce platform.
type Env struct {
	T          *testing.T
	Router     *gin.Engine
	Config     *app.Config
	Store      *configstore.Store
	Tokens     *credentials.Store
	Sync       *services.OrderSyncService
	Platform   *FakePlatform
	DataFile   string
	UploadsDir string
}

// Option customises the environment before it is wired.
type Option func(*app.Config)

// WithMaxFiles lowers the per-request upload limit.
func WithMaxFiles(n int) Option {
	return func(cfg *app.Config) { cfg.Upload.MaxFiles = n }
}

// WithDataFile points the config store at path instead of a fresh temp file.
func WithDataFile(path string) Option {
	return func(cfg *app.Config) { cfg.Storage.DataFile = path }
}

// NewEnv provisions a fresh handler test environment. Only the retail store is configured.
func NewEnv(t *testing.T, opts ...Option) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	platform := NewFakePlatform(t)

	cfg := &app.Config{
		Server: app.ServerConfig{
			PublicURL: "http://dash.test",
			CORS:      app.CORSConfig{AllowedOrigins: []string{"*"}},
		},
		Storage: app.StorageConfig{
			Backend:    app.StorageFile,
			DataFile:   filepath.Join(dir, "data.json"),
			TokensFile: filepath.Join(dir, "tokens.json"),
		},
		Shopify: app.ShopifyConfig{
			SyncWindow: 5 * time.Minute,
			Retail: app.ShopifyStore{
				Shop:         RetailShop,
				ClientID:     "retail-client",
				ClientSecret: "retail-secret",
			},
		},
		Upload: app.UploadConfig{
			Dir:       filepath.Join(dir, "uploads"),
			URLPrefix: "/uploads/",
			MaxFiles:  20,
			MaxSizeMB: 8,
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	file, err := configstore.NewFileBackend(cfg.Storage.DataFile)
	require.NoError(t, err)
	store, err := configstore.New(file, nil)
	require.NoError(t, err)

	tokens, err := credentials.NewStore(cfg.Storage.TokensFile)
	require.NoError(t, err)

	client := shopify.NewClient(shopify.Config{BaseURL: platform.URL()})
	syncSvc, err := services.NewOrderSyncService(store, tokens, client,
		cfg.Shopify.OrderSyncConfig(cfg.Server.PublicURL, nil))
	require.NoError(t, err)

	ingester, err := ingest.NewLocalIngester(cfg.Upload.Dir, cfg.Upload.URLPrefix)
	require.NoError(t, err)
	gallerySvc, err := services.NewGalleryService(store, ingester, cfg.Upload.MaxFiles)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		syncSvc.Wait()
		cancel()
	})

	router, err := api.NewRouter(cfg, api.Services{
		Store:      store,
		Gallery:    gallerySvc,
		Sync:       syncSvc,
		UploadsDir: cfg.Upload.Dir,
		Health: func() handlers.HealthInfo {
			shops, err := tokens.Shops()
			require.NoError(t, err)
			return handlers.HealthInfo{
				ConfigBackend:      store.BackendName(),
				ImageBackend:       ingester.Name(),
				AuthenticatedShops: shops,
			}
		},
	}, middleware.NewMemoryRateStore(ctx, time.Minute))
	require.NoError(t, err)

	return &Env{
		T:          t,
		Router:     router,
		Config:     cfg,
		Store:      store,
		Tokens:     tokens,
		Sync:       syncSvc,
		Platform:   platform,
		DataFile:   cfg.Storage.DataFile,
		UploadsDir: cfg.Upload.Dir,
	}
}

// Request executes an HTTP request against the test router, JSON encoding body when set.
func (e *Env) Request(method, path string, body any) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.T, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// RawRequest sends body verbatim with the given content type.
func (e *Env) RawRequest(method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	e.T.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// UploadFile is one part of a multipart upload.
type UploadFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// Upload posts files under the given multipart field.
func (e *Env) Upload(field string, files ...UploadFile) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+f.Name+`"`)
		if f.ContentType != "" {
			header.Set("Content-Type", f.ContentType)
		}
		part, err := mw.CreatePart(header)
		require.NoError(e.T, err)
		_, err = part.Write(f.Data)
		require.NoError(e.T, err)
	}
	require.NoError(e.T, mw.Close())

	return e.RawRequest(http.MethodPost, "/api/upload", mw.FormDataContentType(), buf.Bytes())
}

// DecodeConfig parses a raw configuration record from a recorder.
func DecodeConfig(t *testing.T, w *httptest.ResponseRecorder) models.DashboardConfig {
	t.Helper()
	var cfg models.DashboardConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg), w.Body.String())
	return cfg
}

// APIResponse represents the canonical API envelope returned for errors and health.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// PNG returns bytes that sniff as image/png.
func PNG() []byte {
	return append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)
}

// FakePlatform imitates the Shopify OAuth and order count endpoints.
type FakePlatform struct {
	server      *httptest.Server
	Today       atomic.Int64
	Unfulfilled atomic.Int64
	CountCalls  atomic.Int64
	FailCounts  atomic.Bool
}

// NewFakePlatform starts the fake and closes it with the test.
func NewFakePlatform(t *testing.T) *FakePlatform {
	t.Helper()

	p := &FakePlatform{}
	p.Today.Store(7)
	p.Unfulfilled.Store(3)

	mux := http.NewServeMux()
	mux.HandleFunc("/admin/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") == RejectedCode || r.PostForm.Get("client_secret") == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_request","error_description":"The authorization code was not found or was already used"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"` + IssuedToken + `","scope":"read_orders,read_fulfillments"}`))
	})
	mux.HandleFunc("/admin/api/", func(w http.ResponseWriter, r *http.Request) {
		p.CountCalls.Add(1)
		if r.Header.Get("X-Shopify-Access-Token") != IssuedToken {
			http.Error(w, `{"errors":"[API] Invalid API key or access token"}`, http.StatusUnauthorized)
			return
		}
		if p.FailCounts.Load() {
			http.Error(w, `{"errors":"Exceeded 2 calls per second"}`, http.StatusTooManyRequests)
			return
		}
		count := p.Unfulfilled.Load()
		if r.URL.Query().Get("created_at_min") != "" {
			count = p.Today.Load()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int64{"count": count})
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

// URL is the base URL the shopify client should use.
func (p *FakePlatform) URL() string {
	return p.server.URL
}
