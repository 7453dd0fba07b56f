package inventory

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/cardinv_backend/config"
	"bitbucket.org/mmdatafocus/cardinv_backend/models"
	"bitbucket.org/mmdatafocus/cardinv_backend/utils"
	"github.com/sirupsen/logrus"
)

// Service owns the inventory cycle lifecycle: open, scan, close with
// reconciliation. Each operation runs as one storage transaction.
type Service struct {
	store  Store
	logger *logrus.Logger

	// Now is the clock used for all timestamps and month buckets.
	// Overridable in tests.
	Now func() time.Time
}

func NewService(store Store, logger *logrus.Logger) *Service {
	return &Service{store: store, logger: logger, Now: time.Now}
}

type ScanResult struct {
	Card *models.Card `json:"card"`
	// AlreadyRecorded is true on a repeat scan within the cycle: the
	// card row was refreshed but no new history row was written.
	AlreadyRecorded bool `json:"already_recorded"`
	CycleId         int  `json:"cycle_id"`
}

type CloseResult struct {
	CycleId      int `json:"cycle_id"`
	MissingCount int `json:"missing_count"`
}

// OpenCycle starts a new inventory cycle and resets every card at the
// operator's site to InCycle. Fails with ErrCycleActive while any cycle
// anywhere is still active.
func (s *Service) OpenCycle(ctx context.Context, op Operator) (*models.InventoryCycle, error) {
	var cycle *models.InventoryCycle
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		active, err := tx.ActiveCycle(ctx)
		if err != nil {
			return err
		}
		if active != nil {
			return ErrCycleActive
		}

		cycle = &models.InventoryCycle{
			Status:    models.CycleStatusActive,
			StartedAt: s.Now(),
		}
		if err := tx.InsertCycle(ctx, cycle); err != nil {
			return err
		}
		return tx.ResetCardsForCycle(ctx, op.Site)
	})
	if err != nil {
		if err != ErrCycleActive {
			config.LogError(ctx, s.logger, "inventory", "OpenCycle", op.Site, nil, err)
		}
		return nil, err
	}
	return cycle, nil
}

// RecordScan registers a card as present in the active cycle. The live
// card row always reflects the latest scan (timestamp and operator);
// the history row reflects only the first scan of the cycle.
func (s *Service) RecordScan(ctx context.Context, op Operator, number string) (*ScanResult, error) {
	var result ScanResult
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		active, err := tx.ActiveCycle(ctx)
		if err != nil {
			return err
		}
		if active == nil {
			return ErrNoActiveCycle
		}

		card, err := tx.GetCardByNumber(ctx, op.Site, number)
		if err != nil {
			return err
		}

		now := s.Now()
		if err := tx.SetCardStatus(ctx, card.ID, models.CardStatusOk, now, op.Name); err != nil {
			return err
		}
		card.Status = models.CardStatusOk
		card.LastScanAt = &now
		card.LastOperator = op.Name

		exists, err := tx.HasScanRecord(ctx, card.ID, active.ID)
		if err != nil {
			return err
		}
		if !exists {
			record := &models.ScanRecord{
				CardId:    card.ID,
				Number:    card.Number,
				Status:    models.ScanStatusOk,
				Operator:  op.Name,
				ScannedAt: now,
				Month:     utils.MonthBucket(now),
				CycleId:   active.ID,
				Site:      op.Site,
			}
			if err := tx.InsertScanRecord(ctx, record); err != nil {
				return err
			}
		}

		result = ScanResult{Card: card, AlreadyRecorded: exists, CycleId: active.ID}
		return nil
	})
	if err != nil {
		if err != ErrNoActiveCycle && err != ErrCardNotFound {
			config.LogError(ctx, s.logger, "inventory", "RecordScan", op.Site, number, err)
		}
		return nil, err
	}
	return &result, nil
}

// CloseCycle reconciles and closes the active cycle: every card at the
// operator's site without a scan record in the cycle is marked NotFound
// and gets one terminal history row, then the cycle is closed. All of it
// lands atomically or not at all.
//
// The missing sweep covers the site's card population as of close time,
// so cards imported after the cycle opened are included.
func (s *Service) CloseCycle(ctx context.Context, op Operator) (*CloseResult, error) {
	var result CloseResult
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		active, err := tx.ActiveCycle(ctx)
		if err != nil {
			return err
		}
		if active == nil {
			return ErrNoActiveCycle
		}

		scannedIds, err := tx.ScannedCardIDs(ctx, active.ID)
		if err != nil {
			return err
		}
		scanned := make(map[int]bool, len(scannedIds))
		for _, id := range scannedIds {
			scanned[id] = true
		}

		cards, err := tx.ListCards(ctx, op.Site)
		if err != nil {
			return err
		}

		now := s.Now()
		month := utils.MonthBucket(now)
		missing := 0
		for _, card := range cards {
			if scanned[card.ID] {
				continue
			}
			if err := tx.SetCardStatus(ctx, card.ID, models.CardStatusNotFound, now, op.Name); err != nil {
				return err
			}
			record := &models.ScanRecord{
				CardId:    card.ID,
				Number:    card.Number,
				Status:    models.ScanStatusNotFound,
				Operator:  op.Name,
				ScannedAt: now,
				Month:     month,
				CycleId:   active.ID,
				Site:      op.Site,
			}
			if err := tx.InsertScanRecord(ctx, record); err != nil {
				return err
			}
			missing++
		}

		if err := tx.CloseCycle(ctx, active.ID, now); err != nil {
			return err
		}
		result = CloseResult{CycleId: active.ID, MissingCount: missing}
		return nil
	})
	if err != nil {
		if err != ErrNoActiveCycle {
			config.LogError(ctx, s.logger, "inventory", "CloseCycle", op.Site, nil, err)
		}
		return nil, err
	}
	return &result, nil
}

// ActiveCycle returns the currently active cycle, or nil when none.
func (s *Service) ActiveCycle(ctx context.Context) (*models.InventoryCycle, error) {
	var cycle *models.InventoryCycle
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		var err error
		cycle, err = tx.ActiveCycle(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cycle, nil
}
