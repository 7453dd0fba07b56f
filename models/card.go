package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/cardinv_backend/config"
	"bitbucket.org/mmdatafocus/cardinv_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
)

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// Card is the durable registry row for one numbered access card at one
// site. Status and last-scan metadata reflect the latest cycle activity;
// per-cycle outcomes live in ScanRecord.
type Card struct {
	ID           int        `gorm:"primary_key" json:"id"`
	Number       string     `gorm:"size:100;not null;uniqueIndex:idx_card_number_site" json:"number" binding:"required"`
	Titular      string     `gorm:"size:100" json:"titular"`
	Status       CardStatus `gorm:"size:50;not null;default:Pending" json:"status"`
	LastScanAt   *time.Time `json:"last_scan_at"`
	LastOperator string     `gorm:"size:100" json:"last_operator"`
	Site         string     `gorm:"size:50;not null;index;uniqueIndex:idx_card_number_site" json:"site"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCard struct {
	Number  string `json:"number" binding:"required"`
	Titular string `json:"titular"`
}

// CreateCards bulk-inserts imported cards for the acting operator's
// site. Rows with empty numbers are skipped; a missing titular defaults
// to the importing operator, mirroring the spreadsheet-import behavior.
func CreateCards(ctx context.Context, inputs []*NewCard) ([]*Card, error) {
	site, ok := utils.GetSiteFromContext(ctx)
	if !ok || site == "" {
		return nil, errors.New("site is required")
	}
	operator, _ := utils.GetUsernameFromContext(ctx)

	cards := make([]*Card, 0, len(inputs))
	for _, input := range inputs {
		number := strings.TrimSpace(input.Number)
		if number == "" {
			continue
		}
		titular := strings.TrimSpace(input.Titular)
		if titular == "" {
			titular = operator
		}
		cards = append(cards, &Card{
			Number:  number,
			Titular: titular,
			Status:  CardStatusPending,
			Site:    site,
		})
	}
	if len(cards) == 0 {
		return nil, errors.New("no card numbers to import")
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&cards).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return nil, errors.New("one or more card numbers already exist for this site")
		}
		return nil, err
	}
	return cards, nil
}

// ListCards returns the site's cards ordered by number.
func ListCards(ctx context.Context) ([]*Card, error) {
	site, ok := utils.GetSiteFromContext(ctx)
	if !ok || site == "" {
		return nil, errors.New("site is required")
	}
	return utils.FetchAllModels[Card](ctx, site, "number")
}

// DeleteCard removes a card from the registry. Admin only; history rows
// referencing the card are kept (append-only audit).
func DeleteCard(ctx context.Context, id int) (*Card, error) {
	isAdmin, _ := utils.GetIsAdminFromContext(ctx)
	if !isAdmin {
		return nil, errors.New("only Admin can delete cards")
	}
	site, ok := utils.GetSiteFromContext(ctx)
	if !ok || site == "" {
		return nil, errors.New("site is required")
	}

	card, err := utils.FetchModel[Card](ctx, site, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(&card).Error; err != nil {
		return nil, err
	}
	return card, nil
}
