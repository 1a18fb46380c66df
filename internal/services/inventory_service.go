package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/repositories"
)

const (
	eventInventoryReserve  = "inventory.reserve"
	eventInventoryRelease  = "inventory.release"
	eventInventoryRollback = "inventory.rollback"
	eventInventorySweep    = "inventory.sweep"
	eventInventoryAnomaly  = "inventory.anomaly"
	eventInventoryFailed   = "inventory.release.failed"

	defaultSweepAge   = 5 * time.Minute
	defaultSweepBatch = 100
)

// errOrphanedIntent is recorded on intents the sweep rolls back because no order was written.
var errOrphanedIntent = errors.New("inventory: no order was persisted for the reservation")

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Inventory   repositories.InventoryRepository
	Intents     repositories.StockIntentRepository
	Orders      repositories.OrderRepository
	SweepAge    time.Duration
	SweepBatch  int
	Clock       func() time.Time
	IDGenerator func() string
	Meter       metric.Meter
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	inventory  repositories.InventoryRepository
	intents    repositories.StockIntentRepository
	orders     repositories.OrderRepository
	sweepAge   time.Duration
	sweepBatch int
	clock      func() time.Time
	newID      func() string
	metrics    *serviceMetrics
	logger     func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}
	if deps.Intents == nil {
		return nil, errors.New("inventory service: stock intent repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("inventory service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return "int_" + ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	sweepAge := deps.SweepAge
	if sweepAge <= 0 {
		sweepAge = defaultSweepAge
	}
	sweepBatch := deps.SweepBatch
	if sweepBatch <= 0 {
		sweepBatch = defaultSweepBatch
	}

	return &inventoryService{
		inventory:  deps.Inventory,
		intents:    deps.Intents,
		orders:     deps.Orders,
		sweepAge:   sweepAge,
		sweepBatch: sweepBatch,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		metrics: newServiceMetrics(deps.Meter),
		logger:  logger,
	}, nil
}

// Reserve writes a pending intent and then takes stock line by line. If any line fails,
// the lines already taken are given back and the intent is rolled back.
func (s *inventoryService) Reserve(ctx context.Context, cmd ReserveStockCommand) (StockIntent, error) {
	const op = eventInventoryReserve

	if len(cmd.Lines) == 0 {
		return StockIntent{}, validationError(op, "lines_required", "at least one stock line is required", nil)
	}
	for idx, line := range cmd.Lines {
		if strings.TrimSpace(line.ProductID) == "" || strings.TrimSpace(line.VariantID) == "" || line.Quantity <= 0 {
			return StockIntent{}, validationError(op, "invalid_line", "stock line requires product, variant and positive quantity", map[string]any{"line": idx})
		}
	}

	now := s.clock()
	intent := StockIntent{
		ID:        s.newID(),
		OrderID:   strings.TrimSpace(cmd.OrderID),
		Status:    domain.StockIntentPending,
		Lines:     append([]domain.StockIntentLine(nil), cmd.Lines...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.intents.Create(ctx, intent); err != nil {
		return StockIntent{}, mapRepositoryError(op, err, map[string]any{"order_id": intent.OrderID})
	}

	for idx, line := range intent.Lines {
		_, err := s.inventory.ApplyMovement(ctx, domain.StockMovement{
			ID:        domain.ReserveMovementID(intent.ID, idx),
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Delta:     -line.Quantity,
			CreatedAt: now,
		})
		if err == nil || repositories.IsStockError(err, repositories.StockErrorMovementApplied) {
			continue
		}

		details := map[string]any{
			"order_id":   intent.OrderID,
			"intent_id":  intent.ID,
			"line":       idx,
			"product_id": line.ProductID,
			"variant_id": line.VariantID,
			"variant":    line.Variant.String(),
			"quantity":   line.Quantity,
		}
		var anomalies []string
		if repositories.IsStockError(err, repositories.StockErrorNoMatch) {
			anomaly := fmt.Sprintf("%s: line %d %s/%s", repositories.StockErrorNoMatch, idx, line.ProductID, line.VariantID)
			anomalies = append(anomalies, anomaly)
			s.logger(ctx, eventInventoryAnomaly, mergeFields(details, map[string]any{"code": string(repositories.StockErrorNoMatch)}))
			s.metrics.stockEvent(ctx, "reserve", string(repositories.StockErrorNoMatch), 1)
		} else {
			s.metrics.stockEvent(ctx, "reserve", "rejected", 1)
		}

		if rbErr := s.rollback(ctx, intent, err, anomalies); rbErr != nil {
			s.logger(ctx, eventInventoryFailed, mergeFields(details, map[string]any{"error": rbErr.Error()}))
		}
		return StockIntent{}, mapRepositoryError(op, err, details)
	}

	s.metrics.stockEvent(ctx, "reserve", "applied", len(intent.Lines))
	s.logger(ctx, op, map[string]any{"intent_id": intent.ID, "order_id": intent.OrderID, "lines": len(intent.Lines)})
	return intent, nil
}

// Commit binds a pending intent to its order. An intent the sweep already settled can
// no longer be committed; the caller must abort the order write.
func (s *inventoryService) Commit(ctx context.Context, intentID, orderID string) error {
	const op = "inventory.commit"
	err := s.intents.UpdateStatus(ctx, repositories.StockIntentUpdate{
		IntentID:     intentID,
		Status:       domain.StockIntentCommitted,
		ExpectStatus: domain.StockIntentPending,
		OrderID:      orderID,
		UpdatedAt:    s.clock(),
	})
	details := map[string]any{"intent_id": intentID, "order_id": orderID}
	if errors.Is(err, repositories.ErrIntentStatusChanged) {
		s.metrics.stockEvent(ctx, "commit", "expired", 1)
		return newError(ErrConflict, op, "reservation_expired", "stock reservation expired before the order was saved", details).wrap(err)
	}
	return mapRepositoryError(op, err, details)
}

func (s *inventoryService) MarkReleasing(ctx context.Context, intentID string) error {
	err := s.intents.UpdateStatus(ctx, repositories.StockIntentUpdate{
		IntentID:  intentID,
		Status:    domain.StockIntentReleasing,
		UpdatedAt: s.clock(),
	})
	return mapRepositoryError("inventory.mark_releasing", err, map[string]any{"intent_id": intentID})
}

// Release gives back every reserved line exactly once. It is safe to call repeatedly.
func (s *inventoryService) Release(ctx context.Context, intentID string) (StockIntent, error) {
	const op = eventInventoryRelease

	intent, err := s.intents.FindByID(ctx, intentID)
	if err != nil {
		return StockIntent{}, mapRepositoryError(op, err, map[string]any{"intent_id": intentID})
	}
	if intent.Status == domain.StockIntentReleased || intent.Status == domain.StockIntentRolledBack {
		return intent, nil
	}

	released, anomalies, err := s.releaseLines(ctx, intent, true)
	if err != nil {
		if recErr := s.intents.UpdateStatus(ctx, repositories.StockIntentUpdate{
			IntentID:  intent.ID,
			Status:    domain.StockIntentReleasing,
			LastError: err.Error(),
			Anomalies: anomalies,
			UpdatedAt: s.clock(),
		}); recErr != nil {
			s.logger(ctx, eventInventoryFailed, map[string]any{
				"intent_id":     intent.ID,
				"order_id":      intent.OrderID,
				"error":         recErr.Error(),
				"release_error": err.Error(),
			})
		}
		return StockIntent{}, mapRepositoryError(op, err, map[string]any{"intent_id": intent.ID, "order_id": intent.OrderID})
	}

	now := s.clock()
	if err := s.intents.UpdateStatus(ctx, repositories.StockIntentUpdate{
		IntentID:  intent.ID,
		Status:    domain.StockIntentReleased,
		Anomalies: anomalies,
		UpdatedAt: now,
	}); err != nil {
		return StockIntent{}, mapRepositoryError(op, err, map[string]any{"intent_id": intent.ID})
	}

	s.metrics.stockEvent(ctx, "release", "applied", released)
	s.logger(ctx, op, map[string]any{"intent_id": intent.ID, "order_id": intent.OrderID, "released": released})
	intent.Status = domain.StockIntentReleased
	intent.Anomalies = append(intent.Anomalies, anomalies...)
	intent.UpdatedAt = now
	return intent, nil
}

func (s *inventoryService) Rollback(ctx context.Context, intentID string, cause error) error {
	intent, err := s.intents.FindByID(ctx, intentID)
	if err != nil {
		return mapRepositoryError(eventInventoryRollback, err, map[string]any{"intent_id": intentID})
	}
	if intent.Status != domain.StockIntentPending {
		return nil
	}
	if err := s.rollback(ctx, intent, cause, nil); err != nil && !errors.Is(err, repositories.ErrIntentStatusChanged) {
		return err
	}
	return nil
}

// rollback claims a pending intent by moving it to releasing, gives back the lines it
// took and marks it rolled back. Losing the claim to a concurrent commit returns
// ErrIntentStatusChanged with no stock touched. If the release fails part way the intent
// stays releasing and the sweep finishes it.
func (s *inventoryService) rollback(ctx context.Context, intent StockIntent, cause error, anomalies []string) error {
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	if err := s.intents.UpdateStatus(ctx, repositories.StockIntentUpdate{
		IntentID:     intent.ID,
		Status:       domain.StockIntentReleasing,
		ExpectStatus: domain.StockIntentPending,
		LastError:    lastError,
		UpdatedAt:    s.clock(),
	}); err != nil {
		return err
	}

	released, releaseAnomalies, err := s.releaseLines(ctx, intent, false)
	anomalies = append(anomalies, releaseAnomalies...)
	if err != nil {
		return err
	}
	if err := s.intents.UpdateStatus(ctx, repositories.StockIntentUpdate{
		IntentID:     intent.ID,
		Status:       domain.StockIntentRolledBack,
		ExpectStatus: domain.StockIntentReleasing,
		LastError:    lastError,
		Anomalies:    anomalies,
		UpdatedAt:    s.clock(),
	}); err != nil {
		return err
	}
	s.metrics.stockEvent(ctx, "rollback", "applied", released)
	s.logger(ctx, eventInventoryRollback, map[string]any{
		"intent_id": intent.ID,
		"order_id":  intent.OrderID,
		"released":  released,
		"cause":     lastError,
	})
	return nil
}

// releaseLines applies the release movement of every line. A missing reserve movement
// means the line was never taken; after a commit that is an anomaly, during rollback it
// is expected.
func (s *inventoryService) releaseLines(ctx context.Context, intent StockIntent, committed bool) (int, []string, error) {
	now := s.clock()
	released := 0
	var anomalies []string
	for idx, line := range intent.Lines {
		_, err := s.inventory.ApplyMovement(ctx, domain.StockMovement{
			ID:        domain.ReleaseMovementID(intent.ID, idx),
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Delta:     line.Quantity,
			Requires:  domain.ReserveMovementID(intent.ID, idx),
			CreatedAt: now,
		})
		switch {
		case err == nil:
			released++
		case repositories.IsStockError(err, repositories.StockErrorMovementApplied):
		case repositories.IsStockError(err, repositories.StockErrorMovementMissing):
			if committed {
				anomalies = append(anomalies, fmt.Sprintf("%s: line %d was never reserved", repositories.StockErrorMovementMissing, idx))
			}
		case repositories.IsStockError(err, repositories.StockErrorNoMatch):
			anomaly := fmt.Sprintf("%s: line %d %s/%s", repositories.StockErrorNoMatch, idx, line.ProductID, line.VariantID)
			anomalies = append(anomalies, anomaly)
			s.logger(ctx, eventInventoryAnomaly, map[string]any{
				"code":       string(repositories.StockErrorNoMatch),
				"intent_id":  intent.ID,
				"order_id":   intent.OrderID,
				"line":       idx,
				"product_id": line.ProductID,
				"variant_id": line.VariantID,
				"quantity":   line.Quantity,
			})
			s.metrics.stockEvent(ctx, "release", string(repositories.StockErrorNoMatch), 1)
		default:
			return released, anomalies, err
		}
	}
	return released, anomalies, nil
}

// SweepIntents settles intents left open by interrupted requests.
func (s *inventoryService) SweepIntents(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	cutoff := s.clock().Add(-s.sweepAge)
	intents, err := s.intents.ListOpen(ctx, cutoff, s.sweepBatch)
	if err != nil {
		return result, mapRepositoryError(eventInventorySweep, err, nil)
	}

	for _, intent := range intents {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Examined++
		switch intent.Status {
		case domain.StockIntentPending:
			committed, err := s.settlePending(ctx, intent)
			switch {
			case errors.Is(err, repositories.ErrIntentStatusChanged):
				s.logger(ctx, eventInventorySweep+".skipped", map[string]any{"intent_id": intent.ID, "reason": err.Error()})
			case err != nil:
				result.Failed++
				s.logger(ctx, eventInventoryFailed, map[string]any{"intent_id": intent.ID, "error": err.Error()})
			case committed:
				result.Committed++
			default:
				result.RolledBack++
			}
		case domain.StockIntentReleasing:
			if _, err := s.Release(ctx, intent.ID); err != nil {
				result.Failed++
				s.logger(ctx, eventInventoryFailed, map[string]any{"intent_id": intent.ID, "error": err.Error()})
				continue
			}
			result.Released++
		}
	}

	if result.Examined > 0 {
		s.logger(ctx, eventInventorySweep, map[string]any{
			"examined":   result.Examined,
			"committed":  result.Committed,
			"rolledBack": result.RolledBack,
			"released":   result.Released,
			"failed":     result.Failed,
		})
		s.metrics.stockEvent(ctx, "sweep", "committed", result.Committed)
		s.metrics.stockEvent(ctx, "sweep", "rolled_back", result.RolledBack)
		s.metrics.stockEvent(ctx, "sweep", "released", result.Released)
		s.metrics.stockEvent(ctx, "sweep", "failed", result.Failed)
	}
	return result, nil
}

func (s *inventoryService) settlePending(ctx context.Context, intent StockIntent) (bool, error) {
	if intent.OrderID != "" {
		order, err := s.orders.FindByID(ctx, intent.OrderID)
		switch {
		case err == nil && order.ReservationID == intent.ID:
			return true, s.Commit(ctx, intent.ID, intent.OrderID)
		case err != nil && !isNotFound(err):
			return false, err
		}
	}
	return false, s.rollback(ctx, intent, errOrphanedIntent, nil)
}

// RunInventorySweeper calls SweepIntents every interval until ctx is cancelled.
func RunInventorySweeper(ctx context.Context, svc InventoryService, interval time.Duration, logger func(context.Context, string, map[string]any)) {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.SweepIntents(ctx); err != nil && ctx.Err() == nil {
				logger(ctx, "inventory.sweep.failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

func mergeFields(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
