package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/repositories"
)

// StockIntentRepository stores the reservation intent log.
type StockIntentRepository struct {
	db *sql.DB
}

var _ repositories.StockIntentRepository = (*StockIntentRepository)(nil)

// NewStockIntentRepository constructs a Postgres intent repository.
func NewStockIntentRepository(db *sql.DB) *StockIntentRepository {
	return &StockIntentRepository{db: db}
}

const intentColumns = `id, order_id, status, lines, anomalies, last_error, created_at, updated_at`

func (r *StockIntentRepository) Create(ctx context.Context, intent domain.StockIntent) error {
	lines, err := json.Marshal(intent.Lines)
	if err != nil {
		return fmt.Errorf("intents.create: encode lines: %w", err)
	}
	anomalies, err := json.Marshal(nonNil(intent.Anomalies))
	if err != nil {
		return fmt.Errorf("intents.create: encode anomalies: %w", err)
	}
	_, err = conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO stock_intents (`+intentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		intent.ID, intent.OrderID, string(intent.Status), string(lines), string(anomalies), intent.LastError,
		intent.CreatedAt.UTC(), intent.UpdatedAt.UTC(),
	)
	return wrapError("intents.create", err)
}

func (r *StockIntentRepository) FindByID(ctx context.Context, intentID string) (domain.StockIntent, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+intentColumns+` FROM stock_intents WHERE id = $1`, intentID)
	intent, err := scanIntent(row)
	if err != nil {
		return domain.StockIntent{}, wrapError("intents.find", err)
	}
	return intent, nil
}

func (r *StockIntentRepository) UpdateStatus(ctx context.Context, update repositories.StockIntentUpdate) error {
	anomalies, err := json.Marshal(nonNil(update.Anomalies))
	if err != nil {
		return fmt.Errorf("intents.update: encode anomalies: %w", err)
	}
	query := `
		UPDATE stock_intents SET
			status = $2,
			last_error = $3,
			updated_at = $4,
			order_id = COALESCE(NULLIF($5::text, ''), order_id),
			anomalies = anomalies || $6::jsonb
		WHERE id = $1`
	args := []any{update.IntentID, string(update.Status), update.LastError, update.UpdatedAt.UTC(), update.OrderID, string(anomalies)}
	if update.ExpectStatus != "" {
		query += ` AND status = $7`
		args = append(args, string(update.ExpectStatus))
	}

	db := conn(ctx, r.db)
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapError("intents.update", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapError("intents.update", err)
	}
	if affected > 0 {
		return nil
	}
	if update.ExpectStatus == "" {
		return repositories.NewError("intents.update", repositories.ErrorKindNotFound, sql.ErrNoRows)
	}

	var current string
	if err := db.QueryRowContext(ctx, `SELECT status FROM stock_intents WHERE id = $1`, update.IntentID).Scan(&current); err != nil {
		return wrapError("intents.update", err)
	}
	return repositories.IntentStatusChanged("intents.update", update.IntentID, update.ExpectStatus, domain.StockIntentStatus(current))
}

func (r *StockIntentRepository) ListOpen(ctx context.Context, olderThan time.Time, limit int) ([]domain.StockIntent, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := conn(ctx, r.db).QueryContext(ctx, `
		SELECT `+intentColumns+` FROM stock_intents
		WHERE status IN ('pending', 'releasing') AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`, olderThan.UTC(), limitArg)
	if err != nil {
		return nil, wrapError("intents.list_open", err)
	}
	defer rows.Close()

	var out []domain.StockIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, wrapError("intents.list_open", err)
		}
		out = append(out, intent)
	}
	return out, wrapError("intents.list_open", rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (domain.StockIntent, error) {
	var (
		intent    domain.StockIntent
		status    string
		lines     []byte
		anomalies []byte
	)
	if err := row.Scan(&intent.ID, &intent.OrderID, &status, &lines, &anomalies, &intent.LastError, &intent.CreatedAt, &intent.UpdatedAt); err != nil {
		return domain.StockIntent{}, err
	}
	intent.Status = domain.StockIntentStatus(status)
	intent.CreatedAt = intent.CreatedAt.UTC()
	intent.UpdatedAt = intent.UpdatedAt.UTC()
	if err := json.Unmarshal(lines, &intent.Lines); err != nil {
		return domain.StockIntent{}, fmt.Errorf("decode intent lines: %w", err)
	}
	if len(anomalies) > 0 {
		if err := json.Unmarshal(anomalies, &intent.Anomalies); err != nil {
			return domain.StockIntent{}, fmt.Errorf("decode intent anomalies: %w", err)
		}
	}
	return intent, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
