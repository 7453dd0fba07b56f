package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/cardinv_backend/config"
)

// InventoryCycle is one stock-take period. At most one row may be
// Active at any time, across all sites; the active check is deliberately
// NOT site-scoped.
type InventoryCycle struct {
	ID        int         `gorm:"primary_key" json:"id"`
	Status    CycleStatus `gorm:"size:50;not null;index" json:"status"`
	StartedAt time.Time   `gorm:"not null" json:"started_at"`
	EndedAt   *time.Time  `json:"ended_at"`
	CreatedAt time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// CountCyclesClosedInMonth counts cycles whose end timestamp falls in
// the given month bucket. Dashboard read-side only.
func CountCyclesClosedInMonth(ctx context.Context, month string) (int64, error) {
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&InventoryCycle{}).
		Where("ended_at IS NOT NULL AND DATE_FORMAT(ended_at, '%Y-%m') = ?", month).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
