package services

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/opsdash/internal/configstore"
	"github.com/charlesng35/opsdash/internal/ingest"
	"github.com/charlesng35/opsdash/internal/models"
	apperrors "github.com/charlesng35/opsdash/pkg/errors"
)

var testPNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

func pngUpload(name string) ingest.Upload {
	return ingest.Upload{Name: name, Body: bytes.NewReader(testPNG)}
}

func newTestConfigStore(t *testing.T) *configstore.Store {
	t.Helper()
	file, err := configstore.NewFileBackend(filepath.Join(t.TempDir(), "data.json"))
	require.NoError(t, err)
	store, err := configstore.New(file, nil)
	require.NoError(t, err)
	return store
}

func newLocalGallery(t *testing.T, maxFiles int) (*GalleryService, *configstore.Store, *ingest.LocalIngester) {
	t.Helper()
	store := newTestConfigStore(t)
	ing, err := ingest.NewLocalIngester(filepath.Join(t.TempDir(), "uploads"), "/uploads")
	require.NoError(t, err)
	svc, err := NewGalleryService(store, ing, maxFiles)
	require.NoError(t, err)
	return svc, store, ing
}

type fixedRefIngester struct {
	ref     string
	failOn  string
	removed []string
}

func (f *fixedRefIngester) Name() string { return "fixed" }

func (f *fixedRefIngester) Ingest(_ context.Context, upload ingest.Upload) (ingest.Stored, error) {
	if upload.Name == f.failOn {
		return ingest.Stored{}, errors.New("upload rejected by bucket")
	}
	return ingest.Stored{Reference: f.ref, Name: upload.Name}, nil
}

func (f *fixedRefIngester) Remove(_ context.Context, name string) error {
	f.removed = append(f.removed, name)
	return nil
}

func TestGalleryUploadMergesReferences(t *testing.T) {
	svc, store, ing := newLocalGallery(t, 0)
	ctx := context.Background()

	refs, cfg, err := svc.Upload(ctx, []ingest.Upload{pngUpload("a.png"), pngUpload("b.png")})
	require.NoError(t, err)

	require.Len(t, refs, 2)
	require.Equal(t, refs, cfg.Gallery)
	require.Equal(t, refs, store.Read(ctx).Gallery)
	for _, ref := range refs {
		require.True(t, strings.HasPrefix(ref, "/uploads/"))
		require.FileExists(t, filepath.Join(ing.Dir(), strings.TrimPrefix(ref, "/uploads/")))
	}
}

func TestGalleryUploadIdenticalReferencesAppearOnce(t *testing.T) {
	store := newTestConfigStore(t)
	svc, err := NewGalleryService(store, &fixedRefIngester{ref: "https://cdn.example.com/same.png"}, 0)
	require.NoError(t, err)

	refs, cfg, err := svc.Upload(context.Background(), []ingest.Upload{pngUpload("a.png"), pngUpload("b.png")})
	require.NoError(t, err)

	require.Len(t, refs, 2)
	require.Equal(t, []string{"https://cdn.example.com/same.png"}, cfg.Gallery)
}

func TestGalleryUploadRejectsBadInputBeforeIngesting(t *testing.T) {
	svc, store, ing := newLocalGallery(t, 2)
	ctx := context.Background()

	_, _, err := svc.Upload(ctx, nil)
	require.ErrorIs(t, err, apperrors.ErrNoFiles)

	_, _, err = svc.Upload(ctx, []ingest.Upload{pngUpload("a.png"), pngUpload("b.png"), pngUpload("c.png")})
	require.ErrorIs(t, err, apperrors.ErrTooManyFiles)

	_, _, err = svc.Upload(ctx, []ingest.Upload{pngUpload("a.png"), {Name: "b.png", Body: strings.NewReader("plain text")}})
	require.ErrorIs(t, err, apperrors.ErrUnsupportedFile)

	entries, err := os.ReadDir(ing.Dir())
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Empty(t, store.Read(ctx).Gallery)
}

func TestGalleryUploadFailureLeavesGalleryUntouched(t *testing.T) {
	store := newTestConfigStore(t)
	ctx := context.Background()
	_, err := store.Write(ctx, models.ConfigPatch{Gallery: &[]string{"/uploads/existing.png"}})
	require.NoError(t, err)

	ing := &fixedRefIngester{ref: "/uploads/x.png", failOn: "c.png"}
	svc, err := NewGalleryService(store, ing, 0)
	require.NoError(t, err)

	_, _, err = svc.Upload(ctx, []ingest.Upload{pngUpload("a.png"), pngUpload("b.png"), pngUpload("c.png")})
	require.Error(t, err)

	require.Equal(t, []string{"/uploads/existing.png"}, store.Read(ctx).Gallery)
	require.Equal(t, []string{"a.png", "b.png"}, ing.removed)
}

func TestGalleryDeleteRemovesEntriesAndFile(t *testing.T) {
	svc, store, ing := newLocalGallery(t, 0)
	ctx := context.Background()

	refs, _, err := svc.Upload(ctx, []ingest.Upload{pngUpload("img123.png")})
	require.NoError(t, err)
	name := strings.TrimPrefix(refs[0], "/uploads/")

	_, err = store.Write(ctx, models.ConfigPatch{Gallery: &[]string{refs[0], "https://cdn.example.com/" + name, "/uploads/keep.png"}})
	require.NoError(t, err)

	cfg, err := svc.Delete(ctx, name)
	require.NoError(t, err)

	require.Equal(t, []string{"/uploads/keep.png"}, cfg.Gallery)
	require.NoFileExists(t, filepath.Join(ing.Dir(), name))
}

func TestGalleryDeleteMissingFileIsNotAnError(t *testing.T) {
	svc, _, _ := newLocalGallery(t, 0)

	cfg, err := svc.Delete(context.Background(), "never-uploaded.png")
	require.NoError(t, err)
	require.Empty(t, cfg.Gallery)

	_, err = svc.Delete(context.Background(), " ")
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestGalleryRestoreFromDirectory(t *testing.T) {
	svc, store, ing := newLocalGallery(t, 0)
	ctx := context.Background()

	_, err := store.Write(ctx, models.ConfigPatch{Gallery: &[]string{"http://localhost:3001/uploads/old.png", "/uploads/a.png"}})
	require.NoError(t, err)
	for _, name := range []string{"a.png", "b.JPG", "notes.txt", ".DS_Store"} {
		require.NoError(t, os.WriteFile(filepath.Join(ing.Dir(), name), []byte("x"), 0o644))
	}

	added, cfg, err := svc.RestoreFromDirectory(ctx, ing.Dir(), ing.Prefix())
	require.NoError(t, err)
	require.Equal(t, 1, added)
	require.Equal(t, []string{"/uploads/a.png", "/uploads/b.JPG"}, cfg.Gallery)

	added, _, err = svc.RestoreFromDirectory(ctx, ing.Dir(), ing.Prefix())
	require.NoError(t, err)
	require.Zero(t, added)
}
