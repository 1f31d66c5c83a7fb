package configstore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/datastore"

	"github.com/charlesng35/opsdash/internal/models"
)

const dashboardKind = "Dashboard"

type dashboardEntity struct {
	Document  []byte    `datastore:"document,noindex"`
	UpdatedAt time.Time `datastore:"updated_at"`
}

// DatastoreBackend stores the record as a single Google Cloud Datastore entity.
type DatastoreBackend struct {
	client *datastore.Client
	key    *datastore.Key
}

// NewDatastoreBackend wraps an existing client.
func NewDatastoreBackend(client *datastore.Client) (*DatastoreBackend, error) {
	if client == nil {
		return nil, errors.New("configstore: datastore client is required")
	}
	return &DatastoreBackend{
		client: client,
		key:    datastore.NameKey(dashboardKind, models.DashboardKey, nil),
	}, nil
}

func (b *DatastoreBackend) Name() string { return "datastore" }

func (b *DatastoreBackend) Close() error {
	return b.client.Close()
}

func (b *DatastoreBackend) Load(ctx context.Context) (models.DashboardConfig, bool, error) {
	var entity dashboardEntity
	err := b.client.Get(ctx, b.key, &entity)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return models.DashboardConfig{}, false, nil
	}
	if err != nil {
		return models.DashboardConfig{}, false, err
	}

	cfg, err := decodeDocument(entity.Document)
	if err != nil {
		return models.DashboardConfig{}, false, err
	}
	return cfg, true, nil
}

func (b *DatastoreBackend) Update(ctx context.Context, fn UpdateFunc) (models.DashboardConfig, error) {
	tx, err := b.client.NewTransaction(ctx)
	if err != nil {
		return models.DashboardConfig{}, err
	}
	defer tx.Rollback() // no-op after a successful commit

	found := true
	var current models.DashboardConfig
	var entity dashboardEntity
	err = tx.Get(b.key, &entity)
	switch {
	case errors.Is(err, datastore.ErrNoSuchEntity):
		found = false
	case err != nil:
		return models.DashboardConfig{}, err
	default:
		if current, err = decodeDocument(entity.Document); err != nil {
			return models.DashboardConfig{}, err
		}
	}

	next, err := fn(current, found)
	if err != nil {
		return models.DashboardConfig{}, err
	}

	raw, err := encodeDocument(next)
	if err != nil {
		return models.DashboardConfig{}, err
	}

	if _, err := tx.Put(b.key, &dashboardEntity{Document: raw, UpdatedAt: time.Now().UTC()}); err != nil {
		return models.DashboardConfig{}, err
	}
	if _, err := tx.Commit(); err != nil {
		return models.DashboardConfig{}, err
	}
	return next, nil
}
