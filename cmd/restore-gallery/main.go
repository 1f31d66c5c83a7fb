// Command restore-gallery rebuilds the gallery list from the images already in the uploads
// directory. Existing entries are kept; files not yet referenced are appended.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/charlesng35/opsdash/internal/app"
	"github.com/charlesng35/opsdash/internal/configstore"
	"github.com/charlesng35/opsdash/internal/ingest"
	"github.com/charlesng35/opsdash/internal/services"
	"github.com/charlesng35/opsdash/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("restore-gallery", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var (
		configDir string
		dir       string
	)
	fs.StringVar(&configDir, "config", "", "Directory containing config.yaml")
	fs.StringVar(&dir, "dir", "", "Uploads directory to scan (defaults to upload.dir)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	var paths []string
	if configDir != "" {
		paths = append(paths, configDir)
	}
	cfg, err := app.LoadConfig(paths...)
	if err != nil {
		return err
	}
	if err := app.ConfigureLogging(cfg.Server.LogLevel, cfg.Server.LogFormat); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	if dir == "" {
		dir = cfg.Upload.Dir
	}
	return restore(ctx, cfg, filepath.Clean(dir))
}

// restore writes through the same backend the server reads. A document backend that
// cannot be reached is an error here, since a file-only restore would not be served.
func restore(ctx context.Context, cfg *app.Config, dir string) error {
	log := logger.WithModule("restore")

	file, err := configstore.NewFileBackend(cfg.Storage.DataFile)
	if err != nil {
		return err
	}
	document, err := app.OpenDocumentBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Storage.Backend, err)
	}
	store, err := configstore.New(file, document)
	if err != nil {
		if document != nil {
			_ = document.Close()
		}
		return err
	}
	defer store.Close()

	ingester, err := ingest.NewLocalIngester(dir, cfg.Upload.URLPrefix)
	if err != nil {
		return err
	}
	gallery, err := services.NewGalleryService(store, ingester, cfg.Upload.MaxFiles)
	if err != nil {
		return err
	}

	added, record, err := gallery.RestoreFromDirectory(ctx, dir, cfg.Upload.URLPrefix)
	if err != nil {
		var persistErr *configstore.PersistError
		if !errors.As(err, &persistErr) {
			return fmt.Errorf("restore gallery: %w", err)
		}
		log.Warn("restored gallery was not persisted", zap.Error(err))
	}

	log.Info("gallery restored",
		zap.String("backend", store.BackendName()),
		zap.String("dir", dir),
		zap.Int("added", added),
		zap.Int("total", len(record.Gallery)))
	return nil
}
