package inventory

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/cardinv_backend/models"
)

// Operator is the acting identity, threaded explicitly into every core
// call. The HTTP layer builds it from the authenticated session; the
// core trusts it without re-verifying credentials.
type Operator struct {
	Name string
	Site string
}

// Tx is the capability set a storage backend exposes to one core
// operation. Every method sees the same underlying transaction; the
// whole operation commits or rolls back as a unit.
type Tx interface {
	// GetCardByNumber resolves a card by (site, number).
	// Returns ErrCardNotFound when no such card exists at the site.
	GetCardByNumber(ctx context.Context, site string, number string) (*models.Card, error)

	// ListCards returns all cards at a site ordered by number.
	ListCards(ctx context.Context, site string) ([]*models.Card, error)

	// ResetCardsForCycle moves every card at the site to InCycle and
	// clears the last-operator field, making "not yet scanned"
	// detectable at close time.
	ResetCardsForCycle(ctx context.Context, site string) error

	// SetCardStatus is an unconditional status/metadata write; all
	// sequencing logic lives in the Service.
	SetCardStatus(ctx context.Context, cardId int, status models.CardStatus, ts time.Time, operator string) error

	// ActiveCycle returns the active cycle, or nil when none exists.
	// The lookup is global, not site-scoped.
	ActiveCycle(ctx context.Context) (*models.InventoryCycle, error)

	// InsertCycle persists a new cycle row and fills in its ID.
	InsertCycle(ctx context.Context, cycle *models.InventoryCycle) error

	// CloseCycle marks the cycle Closed with the given end timestamp.
	CloseCycle(ctx context.Context, cycleId int, end time.Time) error

	// HasScanRecord reports whether a history row already exists for
	// the (card, cycle) pair.
	HasScanRecord(ctx context.Context, cardId int, cycleId int) (bool, error)

	// InsertScanRecord appends one immutable history row.
	InsertScanRecord(ctx context.Context, record *models.ScanRecord) error

	// ScannedCardIDs returns the distinct card ids recorded for the
	// cycle, across all sites.
	ScannedCardIDs(ctx context.Context, cycleId int) ([]int, error)
}

// Store runs core operations inside one storage transaction. The
// SQL-vs-ORM choice is an adapter detail; see storage/gormstore and
// storage/sqlitestore.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}
