// Package ingest stores uploaded gallery images and returns the reference dashboards load them from.
package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// Upload is a single image received from a client.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Stored describes an ingested object.
type Stored struct {
	// Reference is what goes into the gallery: a public URL or a /uploads path.
	Reference string
	// Name is the stored object's file name, usable with Remove.
	Name string
}

// Ingester stores image bytes somewhere dashboards can fetch them.
type Ingester interface {
	Name() string
	Ingest(ctx context.Context, upload Upload) (Stored, error)
	// Remove deletes a previously stored object by file name.
	Remove(ctx context.Context, name string) error
}

// IngestBatch stores every upload or none: when one fails, the objects already stored
// by this call are removed and the first failure is returned with any cleanup errors.
func IngestBatch(ctx context.Context, ing Ingester, uploads []Upload) ([]Stored, error) {
	stored := make([]Stored, 0, len(uploads))
	for _, upload := range uploads {
		obj, err := ing.Ingest(ctx, upload)
		if err != nil {
			err = fmt.Errorf("ingest %q: %w", upload.Name, err)
			for _, done := range stored {
				err = multierr.Append(err, ing.Remove(context.WithoutCancel(ctx), done.Name))
			}
			return nil, err
		}
		stored = append(stored, obj)
	}
	return stored, nil
}

// objectName builds a collision-resistant name: a nanosecond timestamp prefix followed
// by the sanitised client file name.
func objectName(original string, at time.Time) string {
	return fmt.Sprintf("%d-%s", at.UnixNano(), SanitizeFileName(original))
}

// uniqueSuffix is appended when a timestamped name is already taken.
func uniqueSuffix(name string) string {
	ext := ""
	if i := strings.LastIndex(name, "."); i > 0 {
		ext = name[i:]
		name = name[:i]
	}
	return name + "-" + uuid.NewString()[:8] + ext
}

// SanitizeFileName reduces a client supplied name to a safe single path element.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.ReplaceAll(name, "..", "")
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '-'
		}
	}, name)
	name = strings.TrimLeft(name, ".-")
	if name == "" {
		return "image"
	}
	return name
}
