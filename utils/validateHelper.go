package utils

import (
	"context"
	"errors"
	"reflect"

	"bitbucket.org/mmdatafocus/cardinv_backend/config"
)

// ValidateUnique rejects a value already taken for column at the site.
// Pass a zero exceptId on create; pass the row's own id on update so a
// no-op rename is still allowed.
func ValidateUnique[T any](ctx context.Context, site string, column string, value interface{}, exceptId interface{}) error {
	var count int64
	var err error
	if reflect.ValueOf(exceptId).IsZero() {
		count, err = ResourceCountWhere[T](ctx, site, column+" = ?", value)
	} else {
		count, err = ResourceCountWhere[T](ctx, site, column+" = ? AND NOT id = ?", value, exceptId)
	}
	if err != nil {
		return err
	}
	if count > 0 {
		return errors.New("duplicate " + column)
	}
	return nil
}

// count records, using WHERE site = ? AND $condition
// site can be blank for admin queries across sites
func ResourceCountWhere[T any](ctx context.Context, site string, condition string, value ...interface{}) (int64, error) {
	var model T

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&model)
	var count int64
	if site != "" {
		dbCtx = dbCtx.Where("site = ?", site)
	}
	dbCtx = dbCtx.Where(condition, value...)
	if err := dbCtx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
