// Package configstore owns the dashboard configuration record and its persistence.
package configstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charlesng35/opsdash/internal/models"
)

// UpdateFunc computes the next record from the current one. found is false when the
// backend holds no record yet.
type UpdateFunc func(current models.DashboardConfig, found bool) (models.DashboardConfig, error)

// Backend persists the singleton configuration record.
type Backend interface {
	// Name identifies the backend in logs, metrics and health output.
	Name() string
	// Load returns the stored record; found is false when none exists.
	Load(ctx context.Context) (cfg models.DashboardConfig, found bool, err error)
	// Update runs a read-modify-write cycle and returns the record that was stored.
	Update(ctx context.Context, fn UpdateFunc) (models.DashboardConfig, error)
	Close() error
}

// PersistError reports a write whose result could not be saved. The returned record is
// still the one the caller asked for, so requests can complete with it.
type PersistError struct {
	Backend string
	Err     error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("configstore: %s backend did not persist the update: %v", e.Backend, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// mutationError marks failures produced by an UpdateFunc rather than by storage,
// so they are returned to the caller instead of triggering a fallback.
type mutationError struct {
	err error
}

func (e *mutationError) Error() string { return e.err.Error() }
func (e *mutationError) Unwrap() error { return e.err }

func decodeDocument(raw []byte) (models.DashboardConfig, error) {
	var cfg models.DashboardConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return models.DashboardConfig{}, fmt.Errorf("decode dashboard document: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}

func encodeDocument(cfg models.DashboardConfig) ([]byte, error) {
	cfg.Normalize()
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode dashboard document: %w", err)
	}
	return raw, nil
}
