package app

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/datastore"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"gorm.io/gorm"

	"github.com/charlesng35/opsdash/internal/configstore"
	"github.com/charlesng35/opsdash/internal/database"
	"github.com/charlesng35/opsdash/pkg/logger"
)

// OpenConfigStore always opens the local file and adds the configured document backend.
// A document backend that cannot be reached leaves the store on the file alone.
func OpenConfigStore(ctx context.Context, cfg *Config, log *zap.Logger) (*configstore.Store, error) {
	file, err := configstore.NewFileBackend(cfg.Storage.DataFile)
	if err != nil {
		return nil, fmt.Errorf("initialise config file: %w", err)
	}

	document, err := OpenDocumentBackend(ctx, cfg)
	if err != nil {
		log.Warn("document backend unavailable; using local file",
			zap.String("backend", cfg.Storage.Backend), zap.Error(err))
		document = nil
	}

	store, err := configstore.New(file, document)
	if err != nil {
		return nil, fmt.Errorf("initialise config store: %w", err)
	}
	log.Info("config store ready", zap.String("backend", store.BackendName()))
	return store, nil
}

// OpenDocumentBackend connects the backend named by storage.backend. It returns nil for
// the file backend.
func OpenDocumentBackend(ctx context.Context, cfg *Config) (configstore.Backend, error) {
	switch cfg.Storage.Backend {
	case "", StorageFile:
		return nil, nil
	case StorageDatabase:
		db, err := openDatabase(cfg)
		if err != nil {
			return nil, err
		}
		backend, err := configstore.NewDatabaseBackend(db)
		if err != nil {
			_ = database.Close(db)
			return nil, err
		}
		return backend, nil
	case StorageDatastore:
		var opts []option.ClientOption
		if path := strings.TrimSpace(cfg.Datastore.CredentialsFile); path != "" {
			opts = append(opts, option.WithCredentialsFile(path))
		}
		client, err := datastore.NewClient(ctx, cfg.Datastore.ProjectID, opts...)
		if err != nil {
			return nil, fmt.Errorf("connect datastore: %w", err)
		}
		return configstore.NewDatastoreBackend(client)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

func openDatabase(cfg *Config) (*gorm.DB, error) {
	db, err := database.Open(cfg.Database.DatabaseConnConfig())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", db.Dialector.Name()))
	return db, nil
}
