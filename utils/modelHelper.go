package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/cardinv_backend/config"
)

/* DB fetching */

// fetch model from db
// (may return RecordNotFound)
func FetchSingleModel[T any](ctx context.Context, id int) (*T, error) {
	db := config.GetDB()
	var result T
	err := db.WithContext(ctx).First(&result, id).Error
	if err != nil {
		return nil, ErrorRecordNotFound
	}
	return &result, nil
}

// fetch model from db
// (site is used in query's WHERE, may return RecordNotFound)
func FetchModel[T any](ctx context.Context, site string, id int) (*T, error) {
	db := config.GetDB()
	var result T
	err := db.WithContext(ctx).Where("site = ?", site).First(&result, id).Error
	if err != nil {
		return nil, ErrorRecordNotFound
	}
	return &result, nil
}

// fetch all models from db, scoped to site
func FetchAllModels[T any](ctx context.Context, site string, orders ...string) ([]*T, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("site = ?", site)
	for _, order := range orders {
		dbCtx = dbCtx.Order(order)
	}
	var results []*T
	err := dbCtx.Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
