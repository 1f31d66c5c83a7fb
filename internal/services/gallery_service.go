package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/opsdash/internal/gallery"
	"github.com/charlesng35/opsdash/internal/ingest"
	"github.com/charlesng35/opsdash/internal/models"
	apperrors "github.com/charlesng35/opsdash/pkg/errors"
	"github.com/charlesng35/opsdash/pkg/logger"
	"github.com/charlesng35/opsdash/pkg/metrics"
)

const defaultMaxUploadFiles = 20

// GalleryService ingests uploaded images and keeps the gallery list in the config store.
type GalleryService struct {
	store      DashboardStore
	ingester   ingest.Ingester
	maxFiles   int
	extensions []string
	log        *zap.Logger
}

// NewGalleryService constructs the service. maxFiles <= 0 selects the default of 20.
func NewGalleryService(store DashboardStore, ingester ingest.Ingester, maxFiles int) (*GalleryService, error) {
	if store == nil {
		return nil, errors.New("gallery service: config store is required")
	}
	if ingester == nil {
		return nil, errors.New("gallery service: ingester is required")
	}
	if maxFiles <= 0 {
		maxFiles = defaultMaxUploadFiles
	}
	return &GalleryService{
		store:      store,
		ingester:   ingester,
		maxFiles:   maxFiles,
		extensions: gallery.DefaultExtensions,
		log:        logger.WithModule("gallery"),
	}, nil
}

// MaxFiles reports the per-request upload limit.
func (s *GalleryService) MaxFiles() int {
	return s.maxFiles
}

// Upload validates every file, stores them all, then merges their references into the
// gallery. Nothing reaches the gallery unless every file was stored. A *PersistError
// from the config store is returned alongside the references.
func (s *GalleryService) Upload(ctx context.Context, uploads []ingest.Upload) ([]string, models.DashboardConfig, error) {
	switch {
	case len(uploads) == 0:
		return nil, models.DashboardConfig{}, apperrors.ErrNoFiles
	case len(uploads) > s.maxFiles:
		return nil, models.DashboardConfig{}, apperrors.ErrTooManyFiles
	}

	for i := range uploads {
		mtype, err := ingest.Validate(uploads[i], s.extensions)
		if err != nil {
			if errors.Is(err, ingest.ErrUnsupportedType) {
				return nil, models.DashboardConfig{}, apperrors.ErrUnsupportedFile.WithMessage(
					"Unsupported file type: " + uploads[i].Name).WithInternal(err)
			}
			return nil, models.DashboardConfig{}, apperrors.NewBadRequest("Unreadable upload: " + uploads[i].Name)
		}
		uploads[i].ContentType = mtype
	}

	stored, err := ingest.IngestBatch(ctx, s.ingester, uploads)
	if err != nil {
		s.log.Error("upload batch failed", zap.String("backend", s.ingester.Name()), zap.Int("files", len(uploads)), zap.Error(err))
		return nil, models.DashboardConfig{}, apperrors.Wrap(err, "Failed to store images")
	}
	metrics.ImagesIngested.WithLabelValues(s.ingester.Name()).Add(float64(len(stored)))

	refs := make([]string, 0, len(stored))
	for _, obj := range stored {
		refs = append(refs, obj.Reference)
	}

	cfg, err := s.store.Mutate(ctx, func(cfg *models.DashboardConfig) error {
		cfg.Gallery = gallery.Merge(cfg.Gallery, refs)
		return nil
	})
	s.log.Info("images added to gallery", zap.Int("files", len(refs)), zap.String("backend", s.ingester.Name()))
	return refs, cfg, err
}

// Delete removes every gallery entry containing filename and then tries to delete the
// stored object. Object deletion failures are logged only.
func (s *GalleryService) Delete(ctx context.Context, filename string) (models.DashboardConfig, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return models.DashboardConfig{}, apperrors.NewBadRequest("filename is required")
	}

	cfg, err := s.store.Mutate(ctx, func(cfg *models.DashboardConfig) error {
		cfg.Gallery = gallery.Remove(cfg.Gallery, filename)
		return nil
	})

	if rmErr := s.ingester.Remove(ctx, filename); rmErr != nil {
		s.log.Warn("failed to delete stored image", zap.String("file", filename), zap.Error(rmErr))
	}
	return cfg, err
}

// RestoreFromDirectory re-adds images found in dir, referenced as prefix+"/"+name, and
// drops legacy host-qualified entries. It returns how many references were added.
func (s *GalleryService) RestoreFromDirectory(ctx context.Context, dir, prefix string) (int, models.DashboardConfig, error) {
	entries, err := gallery.ListDirectory(dir)
	if err != nil {
		return 0, models.DashboardConfig{}, err
	}

	base := strings.TrimRight(prefix, "/") + "/"
	var added int
	cfg, err := s.store.Mutate(ctx, func(cfg *models.DashboardConfig) error {
		cfg.Gallery, added = gallery.RestoreFromDirectory(cfg.Gallery, entries, s.extensions, base, gallery.LegacyHostPrefix)
		return nil
	})
	return added, cfg, err
}
