package ingest

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrUnsupportedType is returned for uploads that are not a recognised image.
var ErrUnsupportedType = errors.New("unsupported file type")

// Validate checks the extension against exts and sniffs the content, rewinding the body
// afterwards. It returns the detected MIME type.
func Validate(upload Upload, exts []string) (string, error) {
	ext := strings.ToLower(path.Ext(upload.Name))
	allowed := false
	for _, e := range exts {
		if ext != "" && ext == strings.ToLower(e) {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, upload.Name)
	}

	body, ok := upload.Body.(io.ReadSeeker)
	if !ok {
		return "", errors.New("upload body must be seekable")
	}
	mtype, err := mimetype.DetectReader(body)
	if err != nil {
		return "", fmt.Errorf("detect content type: %w", err)
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind upload: %w", err)
	}
	if !strings.HasPrefix(mtype.String(), "image/") {
		return "", fmt.Errorf("%w: %q is %s", ErrUnsupportedType, upload.Name, mtype.String())
	}
	return mtype.String(), nil
}
