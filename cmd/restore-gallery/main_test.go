package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/opsdash/internal/app"
	"github.com/charlesng35/opsdash/internal/models"
)

func TestRestoreAppendsUnreferencedImages(t *testing.T) {
	dir := t.TempDir()
	uploads := filepath.Join(dir, "uploads")
	require.NoError(t, os.MkdirAll(uploads, 0o755))
	for _, name := range []string{"a.png", "b.jpg", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(uploads, name), []byte("x"), 0o644))
	}

	cfg := &app.Config{
		Storage: app.StorageConfig{DataFile: filepath.Join(dir, "data.json")},
		Upload:  app.UploadConfig{URLPrefix: "/uploads/", MaxFiles: 20},
	}

	require.NoError(t, restore(context.Background(), cfg, uploads))
	require.NoError(t, restore(context.Background(), cfg, uploads))

	raw, err := os.ReadFile(cfg.Storage.DataFile)
	require.NoError(t, err)
	var record models.DashboardConfig
	require.NoError(t, json.Unmarshal(raw, &record))
	require.ElementsMatch(t, []string{"/uploads/a.png", "/uploads/b.jpg"}, record.Gallery)
}

func TestRestoreWritesToDatabaseBackend(t *testing.T) {
	dir := t.TempDir()
	uploads := filepath.Join(dir, "uploads")
	require.NoError(t, os.MkdirAll(uploads, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(uploads, "a.png"), []byte("x"), 0o644))

	cfg := &app.Config{
		Storage: app.StorageConfig{
			Backend:  app.StorageDatabase,
			DataFile: filepath.Join(dir, "data.json"),
		},
		Database: app.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(dir, "opsdash.sqlite")},
		Upload:   app.UploadConfig{URLPrefix: "/uploads/", MaxFiles: 20},
	}
	ctx := context.Background()

	server, err := app.OpenConfigStore(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, "database:sqlite", server.BackendName())
	require.Empty(t, server.Read(ctx).Gallery)
	require.NoError(t, server.Close())

	require.NoError(t, restore(ctx, cfg, uploads))

	server, err = app.OpenConfigStore(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })
	require.Equal(t, []string{"/uploads/a.png"}, server.Read(ctx).Gallery)

	_, err = os.Stat(cfg.Storage.DataFile)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRestoreFailsWhenBackendUnavailable(t *testing.T) {
	dir := t.TempDir()
	cfg := &app.Config{
		Storage:  app.StorageConfig{Backend: app.StorageDatabase, DataFile: filepath.Join(dir, "data.json")},
		Database: app.DatabaseConfig{Driver: "oracle"},
		Upload:   app.UploadConfig{URLPrefix: "/uploads/"},
	}

	err := restore(context.Background(), cfg, dir)
	require.ErrorContains(t, err, "open database backend")

	_, statErr := os.Stat(cfg.Storage.DataFile)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}
