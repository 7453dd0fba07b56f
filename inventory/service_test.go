package inventory_test

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/cardinv_backend/config"
	"bitbucket.org/mmdatafocus/cardinv_backend/inventory"
	"bitbucket.org/mmdatafocus/cardinv_backend/models"
	"bitbucket.org/mmdatafocus/cardinv_backend/storage/memory"
)

const site = "1412"

var (
	opA = inventory.Operator{Name: "alice", Site: site}
	opB = inventory.Operator{Name: "bruno", Site: site}
)

func newService(store *memory.Store) *inventory.Service {
	return inventory.NewService(store, config.GetLogger())
}

func TestOpenCycle_OnlyOneActive(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)

	first, err := svc.OpenCycle(ctx, opA)
	if err != nil {
		t.Fatalf("OpenCycle: %v", err)
	}
	if first.Status != models.CycleStatusActive {
		t.Fatalf("expected Active cycle, got %s", first.Status)
	}

	// while a cycle is active, every further open fails
	for i := 0; i < 3; i++ {
		if _, err := svc.OpenCycle(ctx, opB); err != inventory.ErrCycleActive {
			t.Fatalf("open #%d: expected ErrCycleActive, got %v", i, err)
		}
	}

	if _, err := svc.CloseCycle(ctx, opA); err != nil {
		t.Fatalf("CloseCycle: %v", err)
	}
	second, err := svc.OpenCycle(ctx, opA)
	if err != nil {
		t.Fatalf("OpenCycle after close: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("expected a fresh cycle, got same id %d", first.ID)
	}
}

func TestOpenCycle_ResetsSiteCards(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)

	c1 := store.AddCard("C1", "alice", site)
	other := store.AddCard("C9", "carla", "1420")

	if _, err := svc.OpenCycle(ctx, opA); err != nil {
		t.Fatalf("OpenCycle: %v", err)
	}

	got, _ := store.Card(c1.ID)
	if got.Status != models.CardStatusInCycle || got.LastOperator != "" {
		t.Fatalf("site card not reset: status=%s operator=%q", got.Status, got.LastOperator)
	}
	// cards at other sites are untouched by the open
	untouched, _ := store.Card(other.ID)
	if untouched.Status != models.CardStatusPending {
		t.Fatalf("other-site card was reset: %s", untouched.Status)
	}
}

func TestRecordScan_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)

	card := store.AddCard("C1", "alice", site)
	if _, err := svc.OpenCycle(ctx, opA); err != nil {
		t.Fatalf("OpenCycle: %v", err)
	}

	t1 := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(5 * time.Minute)

	svc.Now = func() time.Time { return t1 }
	first, err := svc.RecordScan(ctx, opA, "C1")
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if first.AlreadyRecorded {
		t.Fatal("first scan flagged as duplicate")
	}

	svc.Now = func() time.Time { return t2 }
	second, err := svc.RecordScan(ctx, opB, "C1")
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if !second.AlreadyRecorded {
		t.Fatal("repeat scan not flagged as duplicate")
	}

	// exactly one history row, reflecting the FIRST scan
	records := store.Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 scan record, got %d", len(records))
	}
	r := records[0]
	if r.CardId != card.ID || r.Status != models.ScanStatusOk || r.Operator != "alice" || !r.ScannedAt.Equal(t1) {
		t.Fatalf("unexpected record: %+v", r)
	}

	// the live card row reflects the LATEST scan
	live, _ := store.Card(card.ID)
	if live.Status != models.CardStatusOk || live.LastOperator != "bruno" || !live.LastScanAt.Equal(t2) {
		t.Fatalf("card row not refreshed by repeat scan: %+v", live)
	}
}

func TestRecordScan_Guards(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)
	store.AddCard("C1", "alice", site)

	if _, err := svc.RecordScan(ctx, opA, "C1"); err != inventory.ErrNoActiveCycle {
		t.Fatalf("expected ErrNoActiveCycle, got %v", err)
	}
	if _, err := svc.CloseCycle(ctx, opA); err != inventory.ErrNoActiveCycle {
		t.Fatalf("close: expected ErrNoActiveCycle, got %v", err)
	}

	if _, err := svc.OpenCycle(ctx, opA); err != nil {
		t.Fatalf("OpenCycle: %v", err)
	}
	if _, err := svc.RecordScan(ctx, opA, "NOPE"); err != inventory.ErrCardNotFound {
		t.Fatalf("expected ErrCardNotFound, got %v", err)
	}
	// a card of another site is invisible to this operator
	store.AddCard("C7", "carla", "1420")
	if _, err := svc.RecordScan(ctx, opA, "C7"); err != inventory.ErrCardNotFound {
		t.Fatalf("cross-site scan: expected ErrCardNotFound, got %v", err)
	}
}

func TestCloseCycle_ReconciliationCompleteness(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)

	c1 := store.AddCard("C1", "alice", site)
	c2 := store.AddCard("C2", "alice", site)
	c3 := store.AddCard("C3", "alice", site)

	if _, err := svc.OpenCycle(ctx, opA); err != nil {
		t.Fatalf("OpenCycle: %v", err)
	}
	if _, err := svc.RecordScan(ctx, opA, "C1"); err != nil {
		t.Fatalf("RecordScan: %v", err)
	}

	closeTime := time.Date(2026, 9, 2, 18, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return closeTime }
	result, err := svc.CloseCycle(ctx, opB)
	if err != nil {
		t.Fatalf("CloseCycle: %v", err)
	}
	if result.MissingCount != 2 {
		t.Fatalf("expected 2 missing, got %d", result.MissingCount)
	}

	cycle, ok := store.Cycle(result.CycleId)
	if !ok || cycle.Status != models.CycleStatusClosed || cycle.EndedAt == nil {
		t.Fatalf("cycle not closed: %+v", cycle)
	}

	scanned, _ := store.Card(c1.ID)
	if scanned.Status != models.CardStatusOk {
		t.Fatalf("scanned card flipped to %s", scanned.Status)
	}
	for _, id := range []int{c2.ID, c3.ID} {
		card, _ := store.Card(id)
		if card.Status != models.CardStatusNotFound {
			t.Fatalf("card %d: expected NotFound, got %s", id, card.Status)
		}
		if card.LastOperator != "bruno" || !card.LastScanAt.Equal(closeTime) {
			t.Fatalf("card %d missing close metadata: %+v", id, card)
		}
	}

	// one OK row plus one NotFound row per missing card, same cycle
	var okRows, nfRows int
	for _, r := range store.Records() {
		if r.CycleId != result.CycleId {
			t.Fatalf("record on wrong cycle: %+v", r)
		}
		switch r.Status {
		case models.ScanStatusOk:
			okRows++
		case models.ScanStatusNotFound:
			nfRows++
			if r.Month != "2026-09" {
				t.Fatalf("missing record has month %q", r.Month)
			}
		}
	}
	if okRows != 1 || nfRows != 2 {
		t.Fatalf("expected 1 OK + 2 NotFound rows, got %d + %d", okRows, nfRows)
	}
}

func TestCloseCycle_NoMissingCards(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)

	store.AddCard("C1", "alice", site)
	if _, err := svc.OpenCycle(ctx, opA); err != nil {
		t.Fatalf("OpenCycle: %v", err)
	}
	if _, err := svc.RecordScan(ctx, opA, "C1"); err != nil {
		t.Fatalf("RecordScan: %v", err)
	}

	result, err := svc.CloseCycle(ctx, opA)
	if err != nil {
		t.Fatalf("CloseCycle: %v", err)
	}
	if result.MissingCount != 0 {
		t.Fatalf("expected 0 missing, got %d", result.MissingCount)
	}
}

// Cards imported while a cycle is open are still swept at close: the
// missing set is computed over the site's card population as of close
// time, not as of cycle open.
func TestCloseCycle_LateAddedCardIsSwept(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)

	store.AddCard("C1", "alice", site)
	if _, err := svc.OpenCycle(ctx, opA); err != nil {
		t.Fatalf("OpenCycle: %v", err)
	}
	if _, err := svc.RecordScan(ctx, opA, "C1"); err != nil {
		t.Fatalf("RecordScan: %v", err)
	}

	late := store.AddCard("C2", "alice", site)

	result, err := svc.CloseCycle(ctx, opA)
	if err != nil {
		t.Fatalf("CloseCycle: %v", err)
	}
	if result.MissingCount != 1 {
		t.Fatalf("expected late card in missing set, got %d missing", result.MissingCount)
	}
	card, _ := store.Card(late.ID)
	if card.Status != models.CardStatusNotFound {
		t.Fatalf("late card status: %s", card.Status)
	}
}

// History is append-only: operations only ever add rows, never mutate
// or delete existing ones.
func TestHistory_AppendOnly(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)

	store.AddCard("C1", "alice", site)
	store.AddCard("C2", "alice", site)

	snapshot := func() map[int]models.ScanRecord {
		out := map[int]models.ScanRecord{}
		for _, r := range store.Records() {
			out[r.ID] = r
		}
		return out
	}
	assertSuperset := func(step string, prev map[int]models.ScanRecord) {
		t.Helper()
		now := snapshot()
		for id, old := range prev {
			got, ok := now[id]
			if !ok {
				t.Fatalf("%s: record %d disappeared", step, id)
			}
			if got != old {
				t.Fatalf("%s: record %d mutated: %+v -> %+v", step, id, old, got)
			}
		}
	}

	prev := snapshot()
	if _, err := svc.OpenCycle(ctx, opA); err != nil {
		t.Fatal(err)
	}
	assertSuperset("open", prev)

	prev = snapshot()
	if _, err := svc.RecordScan(ctx, opA, "C1"); err != nil {
		t.Fatal(err)
	}
	assertSuperset("scan", prev)

	prev = snapshot()
	if _, err := svc.RecordScan(ctx, opB, "C1"); err != nil {
		t.Fatal(err)
	}
	assertSuperset("re-scan", prev)

	prev = snapshot()
	if _, err := svc.CloseCycle(ctx, opA); err != nil {
		t.Fatal(err)
	}
	assertSuperset("close", prev)

	// the two cycles' histories accumulate
	if _, err := svc.OpenCycle(ctx, opA); err != nil {
		t.Fatal(err)
	}
	prev = snapshot()
	if _, err := svc.CloseCycle(ctx, opA); err != nil {
		t.Fatal(err)
	}
	assertSuperset("second close", prev)
	if len(store.Records()) != 4 {
		t.Fatalf("expected 4 records across cycles, got %d", len(store.Records()))
	}
}

// A failed operation leaves no partial state behind.
func TestFailedOperation_NoPartialState(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(store)

	store.AddCard("C1", "alice", site)
	if _, err := svc.OpenCycle(ctx, opA); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RecordScan(ctx, opA, "C1"); err != nil {
		t.Fatal(err)
	}
	before := store.Records()

	if _, err := svc.RecordScan(ctx, opA, "GHOST"); err != inventory.ErrCardNotFound {
		t.Fatalf("expected ErrCardNotFound, got %v", err)
	}
	after := store.Records()
	if len(after) != len(before) {
		t.Fatalf("failed scan changed history: %d -> %d rows", len(before), len(after))
	}
}
