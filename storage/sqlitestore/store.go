package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/cardinv_backend/inventory"
	"bitbucket.org/mmdatafocus/cardinv_backend/models"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx inventory.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&sqliteTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

type sqliteTx struct {
	tx *sql.Tx
}

func scanCard(row *sql.Row) (*models.Card, error) {
	var c models.Card
	var lastScan sql.NullTime
	err := row.Scan(&c.ID, &c.Number, &c.Titular, &c.Status, &lastScan, &c.LastOperator, &c.Site)
	if err != nil {
		return nil, err
	}
	if lastScan.Valid {
		c.LastScanAt = &lastScan.Time
	}
	return &c, nil
}

func (t *sqliteTx) GetCardByNumber(ctx context.Context, site string, number string) (*models.Card, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, number, titular, status, last_scan_at, last_operator, site
		FROM cards WHERE site = ? AND number = ?`, site, number)
	card, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrCardNotFound
		}
		return nil, err
	}
	return card, nil
}

func (t *sqliteTx) ListCards(ctx context.Context, site string) ([]*models.Card, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, number, titular, status, last_scan_at, last_operator, site
		FROM cards WHERE site = ? ORDER BY number`, site)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []*models.Card
	for rows.Next() {
		var c models.Card
		var lastScan sql.NullTime
		if err := rows.Scan(&c.ID, &c.Number, &c.Titular, &c.Status, &lastScan, &c.LastOperator, &c.Site); err != nil {
			return nil, err
		}
		if lastScan.Valid {
			c.LastScanAt = &lastScan.Time
		}
		cards = append(cards, &c)
	}
	return cards, rows.Err()
}

func (t *sqliteTx) ResetCardsForCycle(ctx context.Context, site string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE cards SET status = ?, last_operator = '', updated_at = CURRENT_TIMESTAMP
		WHERE site = ?`, models.CardStatusInCycle, site)
	return err
}

func (t *sqliteTx) SetCardStatus(ctx context.Context, cardId int, status models.CardStatus, ts time.Time, operator string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE cards SET status = ?, last_scan_at = ?, last_operator = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, status, ts, operator, cardId)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return inventory.ErrCardNotFound
	}
	return nil
}

func (t *sqliteTx) ActiveCycle(ctx context.Context) (*models.InventoryCycle, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, status, started_at, ended_at
		FROM inventory_cycles WHERE status = ?`, models.CycleStatusActive)

	var c models.InventoryCycle
	var ended sql.NullTime
	err := row.Scan(&c.ID, &c.Status, &c.StartedAt, &ended)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if ended.Valid {
		c.EndedAt = &ended.Time
	}
	return &c, nil
}

func (t *sqliteTx) InsertCycle(ctx context.Context, cycle *models.InventoryCycle) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory_cycles (status, started_at) VALUES (?, ?)`,
		cycle.Status, cycle.StartedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	cycle.ID = int(id)
	return nil
}

func (t *sqliteTx) CloseCycle(ctx context.Context, cycleId int, end time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE inventory_cycles SET status = ?, ended_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, models.CycleStatusClosed, end, cycleId)
	return err
}

func (t *sqliteTx) HasScanRecord(ctx context.Context, cardId int, cycleId int) (bool, error) {
	var count int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scan_records WHERE card_id = ? AND cycle_id = ?`,
		cardId, cycleId).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (t *sqliteTx) InsertScanRecord(ctx context.Context, record *models.ScanRecord) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO scan_records (card_id, number, status, operator, scanned_at, month, cycle_id, site)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.CardId, record.Number, record.Status, record.Operator,
		record.ScannedAt, record.Month, record.CycleId, record.Site)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	record.ID = int(id)
	return nil
}

func (t *sqliteTx) ScannedCardIDs(ctx context.Context, cycleId int) ([]int, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT DISTINCT card_id FROM scan_records WHERE cycle_id = ?`, cycleId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
