// Package gormstore is the MySQL-backed inventory.Store, implemented on
// the application's gorm connection.
package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/cardinv_backend/inventory"
	"bitbucket.org/mmdatafocus/cardinv_backend/models"
	"gorm.io/gorm"
)

const cycleLockName = "inventory:cycle"

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// RunInTx wraps one core operation in a gorm transaction, serialized
// across instances with a MySQL advisory lock. MySQL has no partial
// unique index, so the exactly-one-active-cycle check relies on this
// lock; the (card_id, cycle_id) unique index backstops scan inserts.
//
// GET_LOCK is connection-scoped and non-transactional, so it is taken
// on a dedicated pool connection OUTSIDE the transaction and released
// only after the transaction has committed or rolled back. Releasing
// inside the transaction closure would open a window between
// RELEASE_LOCK and COMMIT in which a second caller, reading under READ
// COMMITTED, cannot yet see the new Active row.
func (s *Store) RunInTx(ctx context.Context, fn func(tx inventory.Tx) error) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := acquireCycleLock(ctx, conn); err != nil {
		return err
	}
	defer releaseCycleLock(conn)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func acquireCycleLock(ctx context.Context, conn *sql.Conn) error {
	var ok int
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 30)", cycleLockName).Scan(&ok); err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire cycle lock %q", cycleLockName)
	}
	return nil
}

// releaseCycleLock runs on a fresh context: the request context may
// already be canceled, and a failed release would leave the lock held
// by a pooled session.
func releaseCycleLock(conn *sql.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var ok sql.NullInt64
	_ = conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", cycleLockName).Scan(&ok)
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) GetCardByNumber(ctx context.Context, site string, number string) (*models.Card, error) {
	var card models.Card
	err := t.db.Where("site = ? AND number = ?", site, number).Take(&card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, inventory.ErrCardNotFound
		}
		return nil, err
	}
	return &card, nil
}

func (t *gormTx) ListCards(ctx context.Context, site string) ([]*models.Card, error) {
	var cards []*models.Card
	err := t.db.Where("site = ?", site).Order("number").Find(&cards).Error
	if err != nil {
		return nil, err
	}
	return cards, nil
}

func (t *gormTx) ResetCardsForCycle(ctx context.Context, site string) error {
	return t.db.Model(&models.Card{}).Where("site = ?", site).
		Updates(map[string]interface{}{
			"status":        models.CardStatusInCycle,
			"last_operator": "",
		}).Error
}

func (t *gormTx) SetCardStatus(ctx context.Context, cardId int, status models.CardStatus, ts time.Time, operator string) error {
	result := t.db.Model(&models.Card{}).Where("id = ?", cardId).
		Updates(map[string]interface{}{
			"status":        status,
			"last_scan_at":  ts,
			"last_operator": operator,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return inventory.ErrCardNotFound
	}
	return nil
}

func (t *gormTx) ActiveCycle(ctx context.Context) (*models.InventoryCycle, error) {
	var cycle models.InventoryCycle
	err := t.db.Where("status = ?", models.CycleStatusActive).Take(&cycle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cycle, nil
}

func (t *gormTx) InsertCycle(ctx context.Context, cycle *models.InventoryCycle) error {
	return t.db.Create(cycle).Error
}

func (t *gormTx) CloseCycle(ctx context.Context, cycleId int, end time.Time) error {
	return t.db.Model(&models.InventoryCycle{}).Where("id = ?", cycleId).
		Updates(map[string]interface{}{
			"status":   models.CycleStatusClosed,
			"ended_at": end,
		}).Error
}

func (t *gormTx) HasScanRecord(ctx context.Context, cardId int, cycleId int) (bool, error) {
	var count int64
	err := t.db.Model(&models.ScanRecord{}).
		Where("card_id = ? AND cycle_id = ?", cardId, cycleId).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (t *gormTx) InsertScanRecord(ctx context.Context, record *models.ScanRecord) error {
	return t.db.Create(record).Error
}

func (t *gormTx) ScannedCardIDs(ctx context.Context, cycleId int) ([]int, error) {
	var ids []int
	err := t.db.Model(&models.ScanRecord{}).
		Where("cycle_id = ?", cycleId).
		Distinct("card_id").Pluck("card_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
