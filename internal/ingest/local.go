package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const maxNameAttempts = 3

// LocalIngester writes images into a directory served under a URL prefix.
type LocalIngester struct {
	dir    string
	prefix string
	now    func() time.Time
}

// NewLocalIngester ensures dir exists. prefix is the URL path the directory is served at.
func NewLocalIngester(dir, prefix string) (*LocalIngester, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("ingest: uploads directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ingest: ensure uploads directory: %w", err)
	}
	if prefix == "" {
		prefix = "/uploads"
	}
	return &LocalIngester{dir: dir, prefix: strings.TrimRight(prefix, "/"), now: time.Now}, nil
}

func (l *LocalIngester) Name() string { return "local" }

// Dir returns the uploads directory.
func (l *LocalIngester) Dir() string { return l.dir }

// Prefix returns the URL prefix, without a trailing slash.
func (l *LocalIngester) Prefix() string { return l.prefix }

func (l *LocalIngester) Ingest(ctx context.Context, upload Upload) (Stored, error) {
	if upload.Body == nil {
		return Stored{}, errors.New("empty upload body")
	}

	name := objectName(upload.Name, l.now())
	var (
		f   *os.File
		err error
	)
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		f, err = os.OpenFile(filepath.Join(l.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if !errors.Is(err, fs.ErrExist) {
			break
		}
		name = uniqueSuffix(name)
	}
	if err != nil {
		return Stored{}, err
	}

	if _, err := io.Copy(f, upload.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return Stored{}, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return Stored{}, err
	}

	return Stored{Reference: l.prefix + "/" + name, Name: name}, nil
}

// Remove deletes a stored file. Names that would escape the directory are rejected.
func (l *LocalIngester) Remove(_ context.Context, name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("ingest: invalid file name %q", name)
	}
	err := os.Remove(filepath.Join(l.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
