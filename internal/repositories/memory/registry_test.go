package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/repositories"
)

func seedProduct(t *testing.T, reg *Registry, stock int) {
	t.Helper()
	err := reg.Catalog().SaveProduct(context.Background(), domain.Product{
		ID:     "prod_tee",
		Status: domain.ProductStatusActive,
		Variants: []domain.Variant{
			{ID: "var_m_black", Size: "M", Color: "Black", Material: "Cotton", Stock: stock},
		},
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func stockOf(t *testing.T, reg *Registry) int {
	t.Helper()
	product, err := reg.Catalog().GetProduct(context.Background(), "prod_tee")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return product.Variants[0].Stock
}

func TestApplyMovementIsConditionalAndIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	seedProduct(t, reg, 2)
	inv := reg.Inventory()

	remaining, err := inv.ApplyMovement(ctx, domain.StockMovement{ID: "i1-0-reserve", ProductID: "prod_tee", VariantID: "var_m_black", Delta: -2})
	if err != nil || remaining != 0 {
		t.Fatalf("expected stock 0, got %d (%v)", remaining, err)
	}

	_, err = inv.ApplyMovement(ctx, domain.StockMovement{ID: "i1-0-reserve", ProductID: "prod_tee", VariantID: "var_m_black", Delta: -2})
	if !repositories.IsStockError(err, repositories.StockErrorMovementApplied) {
		t.Fatalf("expected movement_applied, got %v", err)
	}

	_, err = inv.ApplyMovement(ctx, domain.StockMovement{ID: "i2-0-reserve", ProductID: "prod_tee", VariantID: "var_m_black", Delta: -1})
	if !repositories.IsStockError(err, repositories.StockErrorInsufficient) {
		t.Fatalf("expected insufficient_stock, got %v", err)
	}

	_, err = inv.ApplyMovement(ctx, domain.StockMovement{ID: "i2-0-release", ProductID: "prod_tee", VariantID: "var_m_black", Delta: 1, Requires: "i2-0-reserve"})
	if !repositories.IsStockError(err, repositories.StockErrorMovementMissing) {
		t.Fatalf("expected movement_missing, got %v", err)
	}

	_, err = inv.ApplyMovement(ctx, domain.StockMovement{ID: "x-0-reserve", ProductID: "prod_tee", VariantID: "var_gone", Delta: -1})
	if !repositories.IsStockError(err, repositories.StockErrorNoMatch) {
		t.Fatalf("expected stock_no_match, got %v", err)
	}

	remaining, err = inv.ApplyMovement(ctx, domain.StockMovement{ID: "i1-0-release", ProductID: "prod_tee", VariantID: "var_m_black", Delta: 2, Requires: "i1-0-reserve"})
	if err != nil || remaining != 2 {
		t.Fatalf("expected stock restored to 2, got %d (%v)", remaining, err)
	}
	if stockOf(t, reg) != 2 {
		t.Fatalf("expected persisted stock 2")
	}
}

func TestApplyMovementNeverOversells(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	seedProduct(t, reg, 5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.Inventory().ApplyMovement(ctx, domain.StockMovement{
				ID: domain.ReserveMovementID("intent"+string(rune('a'+i)), 0), ProductID: "prod_tee", VariantID: "var_m_black", Delta: -1,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 5 {
		t.Fatalf("expected exactly 5 reservations, got %d", succeeded)
	}
	if stockOf(t, reg) != 0 {
		t.Fatalf("expected stock 0, got %d", stockOf(t, reg))
	}
}

func TestOrderUpdateChecksVersion(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	order := domain.Order{ID: "ord_1", OrderNumber: "CW2406150001", UserID: "u1", Status: domain.OrderStatusPending, CreatedAt: time.Now()}
	if err := reg.Orders().Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}

	dup := order
	dup.ID = "ord_2"
	err := reg.Orders().Insert(ctx, dup)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate order number, got %v", err)
	}

	stored, _ := reg.Orders().FindByID(ctx, "ord_1")
	stored.Status = domain.OrderStatusConfirmed
	updated, err := reg.Orders().Update(ctx, stored, stored.Version)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != stored.Version+1 {
		t.Fatalf("expected version bump, got %d", updated.Version)
	}

	_, err = reg.Orders().Update(ctx, stored, stored.Version)
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected stale version conflict, got %v", err)
	}
}

func TestCountersAreMonotonic(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	reg.SeedCounter("orders-240615", 6)
	next, err := reg.Counters().Next(ctx, "orders-240615", 1)
	if err != nil || next != 7 {
		t.Fatalf("expected 7, got %d (%v)", next, err)
	}
	if _, err := reg.Counters().Next(ctx, " ", 1); err == nil {
		t.Fatalf("expected invalid input error")
	}
}

func TestRunInTxRevertsWritesOnError(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	seedProduct(t, reg, 3)
	intents := reg.StockIntents()
	if err := intents.Create(ctx, domain.StockIntent{ID: "int_kept", Status: domain.StockIntentPending}); err != nil {
		t.Fatalf("create intent: %v", err)
	}

	boom := errors.New("boom")
	err := reg.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := reg.Inventory().ApplyMovement(ctx, domain.StockMovement{ID: "i1-0-reserve", ProductID: "prod_tee", VariantID: "var_m_black", Delta: -2}); err != nil {
			return err
		}
		if err := intents.UpdateStatus(ctx, repositories.StockIntentUpdate{IntentID: "int_kept", Status: domain.StockIntentCommitted, OrderID: "ord_1"}); err != nil {
			return err
		}
		if err := intents.Create(ctx, domain.StockIntent{ID: "int_new", Status: domain.StockIntentPending}); err != nil {
			return err
		}
		return reg.RunInTx(ctx, func(ctx context.Context) error {
			if err := reg.Orders().Insert(ctx, domain.Order{ID: "ord_1", OrderNumber: "CW1"}); err != nil {
				return err
			}
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if got := stockOf(t, reg); got != 3 {
		t.Fatalf("expected stock restored to 3, got %d", got)
	}
	if applied, _ := reg.Inventory().MovementApplied(ctx, "i1-0-reserve"); applied {
		t.Fatalf("expected movement record reverted")
	}
	kept, _ := intents.FindByID(ctx, "int_kept")
	if kept.Status != domain.StockIntentPending || kept.OrderID != "" {
		t.Fatalf("expected intent restored, got %+v", kept)
	}
	if _, err := intents.FindByID(ctx, "int_new"); err == nil {
		t.Fatalf("expected created intent removed")
	}
	if _, err := reg.Orders().FindByID(ctx, "ord_1"); err == nil {
		t.Fatalf("expected inserted order removed")
	}
	if err := reg.Orders().Insert(ctx, domain.Order{ID: "ord_2", OrderNumber: "CW1"}); err != nil {
		t.Fatalf("expected order number free again: %v", err)
	}
}

func TestRunInTxKeepsWritesOnSuccess(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	seedProduct(t, reg, 3)

	err := reg.RunInTx(ctx, func(ctx context.Context) error {
		_, err := reg.Inventory().ApplyMovement(ctx, domain.StockMovement{ID: "i1-0-reserve", ProductID: "prod_tee", VariantID: "var_m_black", Delta: -1})
		return err
	})
	if err != nil {
		t.Fatalf("RunInTx error: %v", err)
	}
	if got := stockOf(t, reg); got != 2 {
		t.Fatalf("expected stock 2, got %d", got)
	}
}

func TestIntentUpdateStatusHonoursExpectedStatus(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	intents := reg.StockIntents()
	if err := intents.Create(ctx, domain.StockIntent{ID: "int_1", Status: domain.StockIntentRolledBack}); err != nil {
		t.Fatalf("create intent: %v", err)
	}

	err := intents.UpdateStatus(ctx, repositories.StockIntentUpdate{
		IntentID: "int_1", Status: domain.StockIntentCommitted, ExpectStatus: domain.StockIntentPending, OrderID: "ord_1",
	})
	if !errors.Is(err, repositories.ErrIntentStatusChanged) {
		t.Fatalf("expected status changed, got %v", err)
	}
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict, got %v", err)
	}
	stored, _ := intents.FindByID(ctx, "int_1")
	if stored.Status != domain.StockIntentRolledBack || stored.OrderID != "" {
		t.Fatalf("expected intent untouched, got %+v", stored)
	}
}
