package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the opsdash backend.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Datastore     DatastoreConfig     `mapstructure:"datastore"`
	ObjectStorage ObjectStorageConfig `mapstructure:"object_storage"`
	Shopify       ShopifyConfig       `mapstructure:"shopify"`
	Upload        UploadConfig        `mapstructure:"upload"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port      int             `mapstructure:"port"`
	LogLevel  string          `mapstructure:"log_level"`
	LogFormat string          `mapstructure:"log_format"`
	PublicURL string          `mapstructure:"public_url"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// CORSConfig lists the origins display screens and the admin console are served from.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitConfig bounds requests per client IP.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// StorageConfig selects the config record backend and the local file locations.
type StorageConfig struct {
	// Backend is "file", "database" or "datastore". The local file is always kept as fallback.
	Backend    string `mapstructure:"backend"`
	DataFile   string `mapstructure:"data_file"`
	TokensFile string `mapstructure:"tokens_file"`
}

// DatabaseConfig describes connection options for the SQL document backend.
type DatabaseConfig struct {
	Driver   string            `mapstructure:"driver"`
	Path     string            `mapstructure:"path"`
	DSN      string            `mapstructure:"dsn"`
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Name     string            `mapstructure:"name"`
	User     string            `mapstructure:"user"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// DatastoreConfig describes the Google Cloud Datastore document backend.
type DatastoreConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// ObjectStorageConfig configures the S3 compatible bucket for gallery images.
type ObjectStorageConfig struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Folder       string `mapstructure:"folder"`
	PublicURL    string `mapstructure:"public_url"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

// ShopifyConfig captures the commerce platform settings.
type ShopifyConfig struct {
	APIVersion   string        `mapstructure:"api_version"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SyncWindow   time.Duration `mapstructure:"sync_window"`
	SyncSchedule string        `mapstructure:"sync_schedule"`
	Scopes       []string      `mapstructure:"scopes"`
	Retail       ShopifyStore  `mapstructure:"retail"`
	Trade        ShopifyStore  `mapstructure:"trade"`
}

// ShopifyStore holds one store's domain and app credentials.
type ShopifyStore struct {
	Shop         string `mapstructure:"shop"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// UploadConfig controls local image ingestion.
type UploadConfig struct {
	Dir       string `mapstructure:"dir"`
	URLPrefix string `mapstructure:"url_prefix"`
	MaxFiles  int    `mapstructure:"max_files"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// legacyEnv maps config keys to the variable names older deployments keep in .env.
var legacyEnv = map[string]string{
	"server.port":                   "PORT",
	"shopify.retail.shop":           "SHOPIFY_RETAIL_SHOP",
	"shopify.retail.client_id":      "SHOPIFY_RETAIL_API_KEY",
	"shopify.retail.client_secret":  "SHOPIFY_RETAIL_API_SECRET",
	"shopify.trade.shop":            "SHOPIFY_TRADE_SHOP",
	"shopify.trade.client_id":       "SHOPIFY_TRADE_API_KEY",
	"shopify.trade.client_secret":   "SHOPIFY_TRADE_API_SECRET",
	"object_storage.bucket":         "S3_BUCKET",
	"object_storage.region":         "S3_REGION",
	"object_storage.access_key":     "S3_ACCESS_KEY",
	"object_storage.secret_key":     "S3_SECRET_KEY",
	"object_storage.endpoint":       "S3_ENDPOINT",
	"datastore.project_id":          "DATASTORE_PROJECT_ID",
	"datastore.credentials_file":    "GOOGLE_APPLICATION_CREDENTIALS",
	"storage.data_file":             "DATA_FILE",
	"storage.tokens_file":           "TOKENS_FILE",
	"upload.dir":                    "UPLOADS_DIR",
	"shopify.sync_schedule":         "SHOPIFY_SYNC_SCHEDULE",
	"server.public_url":             "PUBLIC_URL",
	"monitoring.prometheus.enabled": "METRICS_ENABLED",
}

const envPrefix = "OPSDASH"

// LoadConfig initialises application configuration using Viper with sensible defaults.
// A .env file in the working directory is loaded first; variables already set win.
func LoadConfig(paths ...string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, fmt.Errorf("config: bind env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	config.normalize()

	return &config, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// bindLegacyEnv lets both OPSDASH_* and the legacy names populate a key; the prefixed name wins.
func bindLegacyEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return err
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.public_url", "http://localhost:3001")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit.requests", 300)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.data_file", "./data.json")
	v.SetDefault("storage.tokens_file", "./tokens.json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/opsdash.sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")

	v.SetDefault("datastore.project_id", "")
	v.SetDefault("datastore.credentials_file", "")

	v.SetDefault("object_storage.bucket", "")
	v.SetDefault("object_storage.endpoint", "")
	v.SetDefault("object_storage.access_key", "")
	v.SetDefault("object_storage.secret_key", "")
	v.SetDefault("object_storage.public_url", "")
	v.SetDefault("object_storage.use_path_style", false)

	v.SetDefault("object_storage.region", "us-east-1")
	v.SetDefault("object_storage.folder", "gallery")

	v.SetDefault("shopify.api_version", "2024-01")
	v.SetDefault("shopify.timeout", "30s")
	v.SetDefault("shopify.sync_window", "5m")
	v.SetDefault("shopify.sync_schedule", "@every 5m")
	v.SetDefault("shopify.scopes", []string{"read_orders", "read_fulfillments"})

	v.SetDefault("upload.dir", "./uploads")
	v.SetDefault("upload.url_prefix", "/uploads/")
	v.SetDefault("upload.max_files", 20)
	v.SetDefault("upload.max_size_mb", 32)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func (c *Config) normalize() {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageFile
	}
	c.Storage.DataFile = filepath.Clean(c.Storage.DataFile)
	c.Storage.TokensFile = filepath.Clean(c.Storage.TokensFile)
	c.Server.PublicURL = strings.TrimRight(strings.TrimSpace(c.Server.PublicURL), "/")
	if !strings.HasSuffix(c.Upload.URLPrefix, "/") {
		c.Upload.URLPrefix += "/"
	}
	for i, scope := range c.Shopify.Scopes {
		c.Shopify.Scopes[i] = strings.TrimSpace(scope)
	}
}
