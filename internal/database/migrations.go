package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/opsdash/internal/models"
)

// AutoMigrate creates or updates the tables backing the config document store.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}
	if err := db.AutoMigrate(&models.DashboardDocument{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
