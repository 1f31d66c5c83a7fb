package configstore

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/opsdash/internal/models"
)

// DatabaseBackend stores the record as a JSON document row in the SQL database.
// Updates run in a transaction holding a row lock, so concurrent writers serialise.
type DatabaseBackend struct {
	db  *gorm.DB
	key string

	// beforeCreate runs just before the first row is inserted.
	beforeCreate func(tx *gorm.DB) error
}

// NewDatabaseBackend constructs a gorm-backed document store. The schema must already be migrated.
func NewDatabaseBackend(db *gorm.DB) (*DatabaseBackend, error) {
	if db == nil {
		return nil, errors.New("configstore: database handle is required")
	}
	return &DatabaseBackend{db: db, key: models.DashboardKey}, nil
}

func (b *DatabaseBackend) Name() string { return "database:" + b.db.Dialector.Name() }

func (b *DatabaseBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (b *DatabaseBackend) Load(ctx context.Context) (models.DashboardConfig, bool, error) {
	var doc models.DashboardDocument
	err := b.db.WithContext(ctx).Where(&models.DashboardDocument{Key: b.key}).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DashboardConfig{}, false, nil
	}
	if err != nil {
		return models.DashboardConfig{}, false, err
	}

	cfg, err := decodeDocument(doc.Document)
	if err != nil {
		return models.DashboardConfig{}, false, err
	}
	return cfg, true, nil
}

// Update locks the document row and applies fn to it. When no row exists yet, the record
// fn builds is inserted with ON CONFLICT DO NOTHING; if another writer created the row
// first, that row is locked and fn runs again against it.
func (b *DatabaseBackend) Update(ctx context.Context, fn UpdateFunc) (models.DashboardConfig, error) {
	var out models.DashboardConfig

	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, found, err := b.lock(tx)
		if err != nil {
			return err
		}

		if !found {
			next, err := fn(models.DashboardConfig{}, false)
			if err != nil {
				return err
			}
			created, err := b.create(tx, next)
			if err != nil {
				return err
			}
			if created {
				out = next
				return nil
			}
			if doc, found, err = b.lock(tx); err != nil {
				return err
			}
			if !found {
				return errors.New("configstore: dashboard document missing after insert conflict")
			}
		}

		current, err := decodeDocument(doc.Document)
		if err != nil {
			return err
		}
		next, err := fn(current, true)
		if err != nil {
			return err
		}
		raw, err := encodeDocument(next)
		if err != nil {
			return err
		}
		doc.Document = raw
		if err := tx.Save(&doc).Error; err != nil {
			return err
		}

		out = next
		return nil
	})
	if err != nil {
		return models.DashboardConfig{}, err
	}
	return out, nil
}

// lock reads the document row with FOR UPDATE. SQLite ignores the locking clause and
// relies on its single connection instead.
func (b *DatabaseBackend) lock(tx *gorm.DB) (models.DashboardDocument, bool, error) {
	var doc models.DashboardDocument
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(&models.DashboardDocument{Key: b.key}).
		Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DashboardDocument{}, false, nil
	}
	if err != nil {
		return models.DashboardDocument{}, false, err
	}
	return doc, true, nil
}

// create inserts the first document row and reports whether this call created it.
func (b *DatabaseBackend) create(tx *gorm.DB, cfg models.DashboardConfig) (bool, error) {
	if b.beforeCreate != nil {
		if err := b.beforeCreate(tx); err != nil {
			return false, err
		}
	}

	raw, err := encodeDocument(cfg)
	if err != nil {
		return false, err
	}
	doc := models.DashboardDocument{Key: b.key, Document: raw}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(&doc)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
