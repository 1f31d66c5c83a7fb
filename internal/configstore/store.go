package configstore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/opsdash/internal/models"
	"github.com/charlesng35/opsdash/pkg/logger"
	"github.com/charlesng35/opsdash/pkg/metrics"
)

// Store resolves every configuration read and write. The backend selection is fixed at
// construction: a document backend when one is supplied, otherwise the local file.
// Document backend failures fall through to the file for that call only.
type Store struct {
	file     *FileBackend
	document Backend
	now      func() time.Time
	log      *zap.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source used for lastUpdated.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Store. document may be nil when no document store is connected.
func New(file *FileBackend, document Backend, opts ...Option) (*Store, error) {
	if file == nil {
		return nil, errors.New("configstore: file backend is required")
	}
	s := &Store{
		file:     file,
		document: document,
		now:      time.Now,
		log:      logger.WithModule("configstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// BackendName reports which backend serves requests.
func (s *Store) BackendName() string {
	if s.document != nil {
		return s.document.Name()
	}
	return s.file.Name()
}

// Close releases the document backend, if any.
func (s *Store) Close() error {
	if s.document != nil {
		return s.document.Close()
	}
	return nil
}

// Read returns the current record. It never fails: when every backend is unavailable the
// built-in defaults are returned.
func (s *Store) Read(ctx context.Context) models.DashboardConfig {
	if s.document != nil {
		cfg, err := s.readDocument(ctx)
		if err == nil {
			return cfg
		}
		s.log.Warn("document store read failed; falling back to data file",
			zap.String("backend", s.document.Name()), zap.Error(err))
		metrics.BackendFallbacks.WithLabelValues(s.document.Name(), "read").Inc()
	}

	cfg, found, err := s.file.Load(ctx)
	if err != nil {
		s.log.Error("data file read failed; serving defaults", zap.String("path", s.file.Path()), zap.Error(err))
		return s.defaults()
	}
	if !found {
		return s.defaults()
	}
	return cfg
}

func (s *Store) defaults() models.DashboardConfig {
	cfg := models.DefaultDashboardConfig()
	cfg.LastUpdated = s.now().UnixMilli()
	return cfg
}

func (s *Store) readDocument(ctx context.Context) (models.DashboardConfig, error) {
	cfg, found, err := s.document.Load(ctx)
	if err != nil {
		return models.DashboardConfig{}, err
	}
	if found {
		return cfg, nil
	}

	// First access: create the singleton, seeded from the data file when one exists.
	return s.document.Update(ctx, func(current models.DashboardConfig, found bool) (models.DashboardConfig, error) {
		if found {
			return current, nil
		}
		seed := s.seedDocument(ctx)
		s.log.Info("created dashboard document", zap.String("backend", s.document.Name()))
		return seed, nil
	})
}

func (s *Store) seedDocument(ctx context.Context) models.DashboardConfig {
	cfg, found, err := s.file.Load(ctx)
	if err != nil {
		s.log.Warn("data file unreadable; seeding document from defaults", zap.Error(err))
	}
	if err != nil || !found {
		return s.defaults()
	}
	return cfg
}

// Write shallow-merges patch onto the current record and advances lastUpdated.
// A *PersistError means the merged record is returned but was not saved.
func (s *Store) Write(ctx context.Context, patch models.ConfigPatch) (models.DashboardConfig, error) {
	return s.Mutate(ctx, func(cfg *models.DashboardConfig) error {
		patch.Apply(cfg)
		return nil
	})
}

// Mutate applies fn to the current record inside the backend's update cycle and advances
// lastUpdated. Errors returned by fn abort the update and are passed through unchanged.
func (s *Store) Mutate(ctx context.Context, fn func(cfg *models.DashboardConfig) error) (models.DashboardConfig, error) {
	return s.update(ctx, "write", func(cfg *models.DashboardConfig, now time.Time) error {
		if err := fn(cfg); err != nil {
			return err
		}
		cfg.Touch(now)
		return nil
	})
}

// RecordSyncCheck stores the time of a sync pass without advancing lastUpdated, so
// dashboards are not told the data changed.
func (s *Store) RecordSyncCheck(ctx context.Context, at time.Time) (models.DashboardConfig, error) {
	return s.update(ctx, "sync_check", func(cfg *models.DashboardConfig, _ time.Time) error {
		cfg.ShopifyLastChecked = at.UnixMilli()
		return nil
	})
}

func (s *Store) update(ctx context.Context, op string, mutate func(*models.DashboardConfig, time.Time) error) (models.DashboardConfig, error) {
	apply := func(seed func() models.DashboardConfig) UpdateFunc {
		return func(current models.DashboardConfig, found bool) (models.DashboardConfig, error) {
			next := current.Clone()
			if !found {
				next = seed()
			}
			if err := mutate(&next, s.now()); err != nil {
				return models.DashboardConfig{}, &mutationError{err: err}
			}
			return next, nil
		}
	}

	if s.document != nil {
		cfg, err := s.document.Update(ctx, apply(func() models.DashboardConfig { return s.seedDocument(ctx) }))
		if err == nil {
			return cfg, nil
		}
		var mErr *mutationError
		if errors.As(err, &mErr) {
			return models.DashboardConfig{}, mErr.err
		}
		s.log.Warn("document store write failed; falling back to data file",
			zap.String("backend", s.document.Name()), zap.String("operation", op), zap.Error(err))
		metrics.BackendFallbacks.WithLabelValues(s.document.Name(), op).Inc()
	}

	cfg, err := s.file.Update(ctx, apply(s.defaults))
	var mErr *mutationError
	if errors.As(err, &mErr) {
		return models.DashboardConfig{}, mErr.err
	}
	return cfg, err
}
