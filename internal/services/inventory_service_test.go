package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/repositories"
)

func teeLines(qtyBlack, qtyWhite int) []domain.StockIntentLine {
	return []domain.StockIntentLine{
		{ProductID: "prod_tee", VariantID: "var_m_black", Quantity: qtyBlack},
		{ProductID: "prod_tee", VariantID: "var_l_white", Quantity: qtyWhite},
	}
}

func TestInventoryService_ReserveCompensatesEarlierLines(t *testing.T) {
	f := newOrderFixture(t)
	seedTee(t, f.reg, 2000, 0, 3)
	ctx := context.Background()

	_, err := f.inventory.Reserve(ctx, ReserveStockCommand{OrderID: "ord_x", Lines: teeLines(2, 5)})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	svcErr, _ := AsError(err)
	if svcErr.Code != string(repositories.StockErrorInsufficient) || svcErr.Details["line"] != 1 || svcErr.Details["available"] != 3 {
		t.Fatalf("unexpected error details: %+v", svcErr)
	}
	if got := f.stock(t, "var_m_black"); got != 3 {
		t.Fatalf("expected first line given back, got %d", got)
	}
	if got := f.stock(t, "var_l_white"); got != 3 {
		t.Fatalf("expected second line untouched, got %d", got)
	}
}

func TestInventoryService_ReserveFlagsMissingVariant(t *testing.T) {
	f := newOrderFixture(t)
	seedTee(t, f.reg, 2000, 0, 3)
	ctx := context.Background()

	lines := []domain.StockIntentLine{
		{ProductID: "prod_tee", VariantID: "var_m_black", Quantity: 1},
		{ProductID: "prod_tee", VariantID: "var_gone", Quantity: 1},
	}
	_, err := f.inventory.Reserve(ctx, ReserveStockCommand{OrderID: "ord_x", Lines: lines})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if svcErr, _ := AsError(err); svcErr.Code != string(repositories.StockErrorNoMatch) {
		t.Fatalf("expected stock_no_match code, got %+v", svcErr)
	}
	if !f.logs.has(eventInventoryAnomaly) {
		t.Fatalf("expected anomaly to be logged")
	}
	if got := f.stock(t, "var_m_black"); got != 3 {
		t.Fatalf("expected stock restored, got %d", got)
	}

	open, _ := f.reg.StockIntents().ListOpen(ctx, f.clock.Now().Add(time.Hour), 0)
	if len(open) != 0 {
		t.Fatalf("expected intent closed, got %d open", len(open))
	}
}

func TestInventoryService_ReleaseIsIdempotent(t *testing.T) {
	f := newOrderFixture(t)
	seedTee(t, f.reg, 2000, 0, 4)
	ctx := context.Background()

	intent, err := f.inventory.Reserve(ctx, ReserveStockCommand{OrderID: "ord_x", Lines: teeLines(2, 1)})
	if err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	for i := 0; i < 2; i++ {
		released, err := f.inventory.Release(ctx, intent.ID)
		if err != nil {
			t.Fatalf("Release #%d error: %v", i, err)
		}
		if released.Status != domain.StockIntentReleased {
			t.Fatalf("expected released, got %s", released.Status)
		}
	}
	if f.stock(t, "var_m_black") != 4 || f.stock(t, "var_l_white") != 4 {
		t.Fatalf("expected stock restored exactly once")
	}
}

func TestInventoryService_SweepRollsBackOrphanedIntent(t *testing.T) {
	f := newOrderFixture(t)
	seedTee(t, f.reg, 2000, 0, 4)
	ctx := context.Background()

	orphan, err := f.inventory.Reserve(ctx, ReserveStockCommand{OrderID: "ord_never_written", Lines: teeLines(1, 1)})
	if err != nil {
		t.Fatalf("Reserve error: %v", err)
	}

	result, err := f.inventory.SweepIntents(ctx)
	if err != nil || result.Examined != 0 {
		t.Fatalf("expected fresh intent skipped, got %+v (%v)", result, err)
	}

	f.clock.Advance(2 * time.Minute)
	result, err = f.inventory.SweepIntents(ctx)
	if err != nil {
		t.Fatalf("SweepIntents error: %v", err)
	}
	if result.Examined != 1 || result.RolledBack != 1 {
		t.Fatalf("unexpected sweep result: %+v", result)
	}
	if f.stock(t, "var_m_black") != 4 || f.stock(t, "var_l_white") != 4 {
		t.Fatalf("expected orphaned stock returned")
	}
	intent, _ := f.reg.StockIntents().FindByID(ctx, orphan.ID)
	if intent.Status != domain.StockIntentRolledBack || !strings.Contains(intent.LastError, "no order") {
		t.Fatalf("unexpected intent after sweep: %+v", intent)
	}
}

func TestInventoryService_SweepCommitsIntentWhoseOrderExists(t *testing.T) {
	f := newOrderFixture(t)
	seedTee(t, f.reg, 2000, 0, 4)
	ctx := context.Background()

	intent, err := f.inventory.Reserve(ctx, ReserveStockCommand{OrderID: "ord_written001", Lines: teeLines(1, 0)[:1]})
	if err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	order := paidOrder("ord_written001", domain.OrderStatusPending, 2000)
	order.ReservationID = intent.ID
	f.seedOrder(t, order)

	f.clock.Advance(2 * time.Minute)
	result, err := f.inventory.SweepIntents(ctx)
	if err != nil {
		t.Fatalf("SweepIntents error: %v", err)
	}
	if result.Committed != 1 {
		t.Fatalf("expected intent committed, got %+v", result)
	}
	if got := f.stock(t, "var_m_black"); got != 3 {
		t.Fatalf("expected reservation kept, got %d", got)
	}
}

func TestInventoryService_SweepFinishesInterruptedRelease(t *testing.T) {
	f := newOrderFixture(t)
	seedTee(t, f.reg, 2000, 0, 4)
	ctx := context.Background()

	intent, err := f.inventory.Reserve(ctx, ReserveStockCommand{OrderID: "ord_x", Lines: teeLines(2, 2)})
	if err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if err := f.inventory.Commit(ctx, intent.ID, "ord_x"); err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	if err := f.inventory.MarkReleasing(ctx, intent.ID); err != nil {
		t.Fatalf("MarkReleasing error: %v", err)
	}
	// first line released before the interruption
	if _, err := f.reg.Inventory().ApplyMovement(ctx, domain.StockMovement{
		ID: domain.ReleaseMovementID(intent.ID, 0), ProductID: "prod_tee", VariantID: "var_m_black", Delta: 2,
		Requires: domain.ReserveMovementID(intent.ID, 0),
	}); err != nil {
		t.Fatalf("partial release: %v", err)
	}

	f.clock.Advance(2 * time.Minute)
	result, err := f.inventory.SweepIntents(ctx)
	if err != nil {
		t.Fatalf("SweepIntents error: %v", err)
	}
	if result.Released != 1 {
		t.Fatalf("expected release finished, got %+v", result)
	}
	if f.stock(t, "var_m_black") != 4 || f.stock(t, "var_l_white") != 4 {
		t.Fatalf("expected each line restored exactly once")
	}
}

func TestInventoryService_CommitAfterSweepRollbackIsRejected(t *testing.T) {
	f := newOrderFixture(t)
	seedTee(t, f.reg, 2000, 0, 4)
	ctx := context.Background()

	intent, err := f.inventory.Reserve(ctx, ReserveStockCommand{OrderID: "ord_slow", Lines: teeLines(2, 2)})
	if err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	f.clock.Advance(10 * time.Minute)
	result, err := f.inventory.SweepIntents(ctx)
	if err != nil || result.RolledBack != 1 {
		t.Fatalf("expected sweep to roll back, got %+v (%v)", result, err)
	}

	err = f.inventory.Commit(ctx, intent.ID, "ord_slow")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if svcErr, _ := AsError(err); svcErr.Code != "reservation_expired" {
		t.Fatalf("expected reservation_expired, got %+v", svcErr)
	}
	stored, _ := f.reg.StockIntents().FindByID(ctx, intent.ID)
	if stored.Status != domain.StockIntentRolledBack {
		t.Fatalf("expected intent to stay rolled back, got %s", stored.Status)
	}
	if f.stock(t, "var_m_black") != 4 || f.stock(t, "var_l_white") != 4 {
		t.Fatalf("expected stock returned exactly once")
	}
}

func TestInventoryService_SweepLeavesIntentCommittedMeanwhile(t *testing.T) {
	f := newOrderFixture(t)
	seedTee(t, f.reg, 2000, 0, 4)
	ctx := context.Background()

	intent, err := f.inventory.Reserve(ctx, ReserveStockCommand{OrderID: "ord_x", Lines: teeLines(1, 1)})
	if err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if err := f.inventory.Commit(ctx, intent.ID, "ord_x"); err != nil {
		t.Fatalf("Commit error: %v", err)
	}

	// a sweep that listed the intent while it was still pending
	impl := f.inventory.(*inventoryService)
	if err := impl.rollback(ctx, intent, errOrphanedIntent, nil); !errors.Is(err, repositories.ErrIntentStatusChanged) {
		t.Fatalf("expected lost claim, got %v", err)
	}
	if f.stock(t, "var_m_black") != 3 || f.stock(t, "var_l_white") != 3 {
		t.Fatalf("expected reservation kept")
	}
	stored, _ := f.reg.StockIntents().FindByID(ctx, intent.ID)
	if stored.Status != domain.StockIntentCommitted {
		t.Fatalf("expected committed intent, got %s", stored.Status)
	}
}

type failingIntentUpdates struct {
	repositories.StockIntentRepository
	failStatus domain.StockIntentStatus
}

func (r failingIntentUpdates) UpdateStatus(ctx context.Context, update repositories.StockIntentUpdate) error {
	if update.Status == r.failStatus && update.LastError != "" {
		return errors.New("intent store unavailable")
	}
	return r.StockIntentRepository.UpdateStatus(ctx, update)
}

type failingReleaseMovements struct {
	repositories.InventoryRepository
}

func (r failingReleaseMovements) ApplyMovement(ctx context.Context, movement domain.StockMovement) (int, error) {
	if movement.Delta > 0 {
		return 0, errors.New("inventory store unavailable")
	}
	return r.InventoryRepository.ApplyMovement(ctx, movement)
}

func TestInventoryService_ReleaseLogsUnrecordedFailure(t *testing.T) {
	f := newOrderFixture(t)
	seedTee(t, f.reg, 2000, 0, 4)
	ctx := context.Background()

	intent, err := f.inventory.Reserve(ctx, ReserveStockCommand{OrderID: "ord_x", Lines: teeLines(1, 0)[:1]})
	if err != nil {
		t.Fatalf("Reserve error: %v", err)
	}

	svc, err := NewInventoryService(InventoryServiceDeps{
		Inventory: failingReleaseMovements{f.reg.Inventory()},
		Intents:   failingIntentUpdates{StockIntentRepository: f.reg.StockIntents(), failStatus: domain.StockIntentReleasing},
		Orders:    f.reg.Orders(),
		Clock:     f.clock.Now,
		Logger:    f.logs.log,
	})
	if err != nil {
		t.Fatalf("NewInventoryService error: %v", err)
	}
	if _, err := svc.Release(ctx, intent.ID); err == nil {
		t.Fatalf("expected release error")
	}
	if !f.logs.has(eventInventoryFailed) {
		t.Fatalf("expected unrecorded release failure to be logged")
	}
}

func TestInventoryService_Validation(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	if _, err := f.inventory.Reserve(ctx, ReserveStockCommand{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty lines, got %v", err)
	}
	bad := []domain.StockIntentLine{{ProductID: "prod_tee", VariantID: "var_m_black", Quantity: 0}}
	if _, err := f.inventory.Reserve(ctx, ReserveStockCommand{Lines: bad}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for zero quantity, got %v", err)
	}
	if _, err := f.inventory.Release(ctx, "int_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRunInventorySweeperStopsOnCancel(t *testing.T) {
	f := newOrderFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunInventorySweeper(ctx, f.inventory, time.Millisecond, nil)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop")
	}
}
