package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/opsdash/internal/ingest"
	"github.com/charlesng35/opsdash/internal/services"
	appErrors "github.com/charlesng35/opsdash/pkg/errors"
	"github.com/charlesng35/opsdash/pkg/response"
)

const (
	uploadField         = "images"
	multipartMemory     = 8 << 20
	defaultMaxUploadMiB = 32
)

var errUploadTooLarge = appErrors.New("upload.too_large", "Upload exceeds the size limit", http.StatusRequestEntityTooLarge)

// GalleryHandler exposes image upload and gallery removal.
type GalleryHandler struct {
	service  *services.GalleryService
	maxBytes int64
}

// NewGalleryHandler constructs the handler. maxMiB bounds the whole multipart body.
func NewGalleryHandler(svc *services.GalleryService, maxMiB int) *GalleryHandler {
	if maxMiB <= 0 {
		maxMiB = defaultMaxUploadMiB
	}
	return &GalleryHandler{service: svc, maxBytes: int64(maxMiB) << 20}
}

// Upload ingests the files posted under "images" and appends their references to the gallery.
func (h *GalleryHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			response.Error(c, errUploadTooLarge)
		case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
			response.Error(c, appErrors.ErrNoFiles)
		default:
			response.Error(c, appErrors.NewBadRequest("invalid multipart payload"))
		}
		return
	}

	files := form.File[uploadField]
	if len(files) > h.service.MaxFiles() {
		response.Error(c, appErrors.ErrTooManyFiles.WithMessage(
			fmt.Sprintf("At most %d files can be uploaded at once", h.service.MaxFiles())))
		return
	}

	uploads, closeAll, err := openUploads(files)
	defer closeAll()
	if err != nil {
		response.Error(c, err)
		return
	}

	refs, _, err := h.service.Upload(requestContext(c), uploads)
	if !handlePersistError(c, err) {
		return
	}
	response.Raw(c, http.StatusOK, gin.H{"imageUrls": refs})
}

func openUploads(files []*multipart.FileHeader) ([]ingest.Upload, func(), error) {
	opened := make([]multipart.File, 0, len(files))
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}

	uploads := make([]ingest.Upload, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, appErrors.NewBadRequest("Unreadable upload: " + fh.Filename).WithInternal(err)
		}
		opened = append(opened, f)
		uploads = append(uploads, ingest.Upload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		})
	}
	return uploads, closeAll, nil
}

// Delete drops every gallery entry containing the filename and removes the stored image.
// The whole record is returned, as the admin console reloads from it.
func (h *GalleryHandler) Delete(c *gin.Context) {
	filename := strings.TrimSpace(c.Param("filename"))
	cfg, err := h.service.Delete(requestContext(c), filename)
	writeRecord(c, cfg, err)
}
