package models

import (
	"time"

	"gorm.io/datatypes"
)

// DashboardDocument stores the dashboard configuration as a single JSON document row.
type DashboardDocument struct {
	Key       string         `gorm:"primaryKey;size:64"`
	Document  datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (DashboardDocument) TableName() string {
	return "dashboard_documents"
}
