package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/opsdash/internal/configstore"
	"github.com/charlesng35/opsdash/internal/models"
	"github.com/charlesng35/opsdash/internal/services"
	"github.com/charlesng35/opsdash/pkg/logger"
	"github.com/charlesng35/opsdash/pkg/response"
)

// persistWarning tells clients the change was applied but could not be saved.
const persistWarning = `199 opsdash "configuration change was not persisted"`

// DashboardHandler serves the shared configuration record.
type DashboardHandler struct {
	store services.DashboardStore
}

// NewDashboardHandler constructs a handler backed by the config store.
func NewDashboardHandler(store services.DashboardStore) *DashboardHandler {
	return &DashboardHandler{store: store}
}

// Get returns the current record.
func (h *DashboardHandler) Get(c *gin.Context) {
	response.Raw(c, http.StatusOK, h.store.Read(requestContext(c)))
}

// Update merges the posted fields into the record. Sync bookkeeping is owned by the sync
// engine, so a client-supplied shopifyLastChecked is ignored.
func (h *DashboardHandler) Update(c *gin.Context) {
	var patch models.ConfigPatch
	if !bindAndValidate(c, &patch) {
		return
	}
	patch.ShopifyLastChecked = nil

	cfg, err := h.store.Write(requestContext(c), patch)
	writeRecord(c, cfg, err)
}

// writeRecord renders a record returned by a store mutation. A persistence failure still
// returns the merged record, flagged with a Warning header.
func writeRecord(c *gin.Context, cfg models.DashboardConfig, err error) {
	if !handlePersistError(c, err) {
		return
	}
	response.Raw(c, http.StatusOK, cfg)
}

// handlePersistError reports whether the caller should go on to render a success payload.
func handlePersistError(c *gin.Context, err error) bool {
	if err == nil {
		return true
	}
	var persistErr *configstore.PersistError
	if errors.As(err, &persistErr) {
		logger.WithModule("dashboard").Warn("responding with unsaved configuration",
			zap.String("path", c.FullPath()), zap.Error(err))
		c.Header("Warning", persistWarning)
		return true
	}
	response.Error(c, err)
	return false
}
