package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/cardinv_backend/config"
	"bitbucket.org/mmdatafocus/cardinv_backend/utils"
)

// ScanRecord is one immutable history row: the first scan of a card in
// a cycle (OK) or the reconciliation outcome at close (NotFound).
// The (card_id, cycle_id) pair is unique; re-scans within a cycle update
// the live Card row but never add or touch a history row.
type ScanRecord struct {
	ID        int        `gorm:"primary_key" json:"id"`
	CardId    int        `gorm:"not null;uniqueIndex:idx_scan_card_cycle" json:"card_id"`
	Number    string     `gorm:"size:100;not null" json:"number"`
	Status    ScanStatus `gorm:"size:50;not null" json:"status"`
	Operator  string     `gorm:"size:100;not null" json:"operator"`
	ScannedAt time.Time  `gorm:"not null" json:"scanned_at"`
	Month     string     `gorm:"size:7;not null;index" json:"month"`
	CycleId   int        `gorm:"not null;uniqueIndex:idx_scan_card_cycle;index" json:"cycle_id"`
	Site      string     `gorm:"size:50;not null;index" json:"site"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// ListScanRecords returns the site's history, newest first, optionally
// filtered by month bucket.
func ListScanRecords(ctx context.Context, month *string) ([]*ScanRecord, error) {
	site, ok := utils.GetSiteFromContext(ctx)
	if !ok || site == "" {
		return nil, errors.New("site is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("site = ?", site)
	if month != nil && *month != "" {
		dbCtx = dbCtx.Where("month = ?", *month)
	}
	var results []*ScanRecord
	if err := dbCtx.Order("scanned_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ListScanMonths returns the distinct month buckets present in the
// site's history, newest first. Drives the history month filter.
func ListScanMonths(ctx context.Context) ([]string, error) {
	site, ok := utils.GetSiteFromContext(ctx)
	if !ok || site == "" {
		return nil, errors.New("site is required")
	}

	db := config.GetDB()
	var months []string
	err := db.WithContext(ctx).Model(&ScanRecord{}).
		Where("site = ?", site).
		Distinct("month").Order("month DESC").
		Pluck("month", &months).Error
	if err != nil {
		return nil, err
	}
	return months, nil
}
