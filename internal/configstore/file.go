package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/opsdash/internal/models"
	"github.com/charlesng35/opsdash/pkg/logger"
)

// FileBackend keeps the record in a single JSON file.
//
// Updates are read-modify-write without locking: two concurrent writers race and the
// last one to rename its file wins in full.
type FileBackend struct {
	path string
	log  *zap.Logger
}

// NewFileBackend returns a backend for the JSON file at path.
func NewFileBackend(path string) (*FileBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("configstore: data file path is required")
	}
	return &FileBackend{path: path, log: logger.WithModule("configstore")}, nil
}

func (b *FileBackend) Name() string { return "file" }

// Path returns the location of the data file.
func (b *FileBackend) Path() string { return b.path }

func (b *FileBackend) Close() error { return nil }

// Load decodes the data file over the defaults, so fields missing from older files keep
// their default values.
func (b *FileBackend) Load(ctx context.Context) (models.DashboardConfig, bool, error) {
	raw, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.DashboardConfig{}, false, nil
	}
	if err != nil {
		return models.DashboardConfig{}, false, fmt.Errorf("read %s: %w", b.path, err)
	}

	cfg := models.DefaultDashboardConfig()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return models.DashboardConfig{}, false, fmt.Errorf("decode %s: %w", b.path, err)
	}
	cfg.Normalize()
	return cfg, true, nil
}

// Update never fails on read problems: an unreadable file is treated as absent.
// A failed save returns the computed record together with a *PersistError.
func (b *FileBackend) Update(ctx context.Context, fn UpdateFunc) (models.DashboardConfig, error) {
	current, found, err := b.Load(ctx)
	if err != nil {
		b.log.Warn("data file unreadable; starting from defaults", zap.String("path", b.path), zap.Error(err))
		found = false
	}

	next, err := fn(current, found)
	if err != nil {
		return models.DashboardConfig{}, err
	}

	if err := b.save(next); err != nil {
		b.log.Error("failed to write data file", zap.String("path", b.path), zap.Error(err))
		return next, &PersistError{Backend: b.Name(), Err: err}
	}
	return next, nil
}

func (b *FileBackend) save(cfg models.DashboardConfig) error {
	cfg.Normalize()
	payload, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".data-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, b.path)
}
