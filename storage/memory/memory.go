// Package memory is an in-memory inventory.Store used by tests and
// local experiments. Transactions are simulated with a store-wide lock
// and a state snapshot restored on rollback.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/cardinv_backend/inventory"
	"bitbucket.org/mmdatafocus/cardinv_backend/models"
)

type state struct {
	cards   map[int]*models.Card
	cycles  map[int]*models.InventoryCycle
	records map[int]*models.ScanRecord

	nextCardId   int
	nextCycleId  int
	nextRecordId int
}

type Store struct {
	mu sync.Mutex
	st state
}

func NewStore() *Store {
	return &Store{
		st: state{
			cards:        map[int]*models.Card{},
			cycles:       map[int]*models.InventoryCycle{},
			records:      map[int]*models.ScanRecord{},
			nextCardId:   1,
			nextCycleId:  1,
			nextRecordId: 1,
		},
	}
}

func (s *state) clone() state {
	out := state{
		cards:        make(map[int]*models.Card, len(s.cards)),
		cycles:       make(map[int]*models.InventoryCycle, len(s.cycles)),
		records:      make(map[int]*models.ScanRecord, len(s.records)),
		nextCardId:   s.nextCardId,
		nextCycleId:  s.nextCycleId,
		nextRecordId: s.nextRecordId,
	}
	for id, c := range s.cards {
		cp := *c
		out.cards[id] = &cp
	}
	for id, c := range s.cycles {
		cp := *c
		out.cycles[id] = &cp
	}
	for id, r := range s.records {
		cp := *r
		out.records[id] = &cp
	}
	return out
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx inventory.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&tx{st: &s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// AddCard seeds a card directly, outside any cycle operation. Test
// helper standing in for the import path.
func (s *Store) AddCard(number, titular, site string) *models.Card {
	s.mu.Lock()
	defer s.mu.Unlock()

	card := &models.Card{
		ID:      s.st.nextCardId,
		Number:  number,
		Titular: titular,
		Status:  models.CardStatusPending,
		Site:    site,
	}
	s.st.nextCardId++
	s.st.cards[card.ID] = card
	return card
}

// Card returns a copy of a card row.
func (s *Store) Card(id int) (models.Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.cards[id]
	if !ok {
		return models.Card{}, false
	}
	return *c, true
}

// Records returns copies of all history rows ordered by id.
func (s *Store) Records() []models.ScanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ScanRecord, 0, len(s.st.records))
	for _, r := range s.st.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cycle returns a copy of a cycle row.
func (s *Store) Cycle(id int) (models.InventoryCycle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.cycles[id]
	if !ok {
		return models.InventoryCycle{}, false
	}
	return *c, true
}

type tx struct {
	st *state
}

func (t *tx) GetCardByNumber(ctx context.Context, site string, number string) (*models.Card, error) {
	for _, c := range t.st.cards {
		if c.Site == site && c.Number == number {
			cp := *c
			return &cp, nil
		}
	}
	return nil, inventory.ErrCardNotFound
}

func (t *tx) ListCards(ctx context.Context, site string) ([]*models.Card, error) {
	var out []*models.Card
	for _, c := range t.st.cards {
		if c.Site == site {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (t *tx) ResetCardsForCycle(ctx context.Context, site string) error {
	for _, c := range t.st.cards {
		if c.Site == site {
			c.Status = models.CardStatusInCycle
			c.LastOperator = ""
		}
	}
	return nil
}

func (t *tx) SetCardStatus(ctx context.Context, cardId int, status models.CardStatus, ts time.Time, operator string) error {
	c, ok := t.st.cards[cardId]
	if !ok {
		return inventory.ErrCardNotFound
	}
	c.Status = status
	c.LastScanAt = &ts
	c.LastOperator = operator
	return nil
}

func (t *tx) ActiveCycle(ctx context.Context) (*models.InventoryCycle, error) {
	for _, c := range t.st.cycles {
		if c.Status == models.CycleStatusActive {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *tx) InsertCycle(ctx context.Context, cycle *models.InventoryCycle) error {
	cycle.ID = t.st.nextCycleId
	t.st.nextCycleId++
	cp := *cycle
	t.st.cycles[cycle.ID] = &cp
	return nil
}

func (t *tx) CloseCycle(ctx context.Context, cycleId int, end time.Time) error {
	c, ok := t.st.cycles[cycleId]
	if !ok {
		return inventory.ErrNoActiveCycle
	}
	c.Status = models.CycleStatusClosed
	c.EndedAt = &end
	return nil
}

func (t *tx) HasScanRecord(ctx context.Context, cardId int, cycleId int) (bool, error) {
	for _, r := range t.st.records {
		if r.CardId == cardId && r.CycleId == cycleId {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertScanRecord(ctx context.Context, record *models.ScanRecord) error {
	record.ID = t.st.nextRecordId
	t.st.nextRecordId++
	cp := *record
	t.st.records[record.ID] = &cp
	return nil
}

func (t *tx) ScannedCardIDs(ctx context.Context, cycleId int) ([]int, error) {
	seen := map[int]bool{}
	var out []int
	for _, r := range t.st.records {
		if r.CycleId == cycleId && !seen[r.CardId] {
			seen[r.CardId] = true
			out = append(out, r.CardId)
		}
	}
	return out, nil
}
