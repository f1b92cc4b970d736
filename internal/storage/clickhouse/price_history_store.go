package clickhouse

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"stellar-wallet-sync/internal/domain"
	"stellar-wallet-sync/internal/storage"
)

// priceHistorySchema is applied by EnsureSchema before the store is used.
const priceHistorySchema = `
CREATE TABLE IF NOT EXISTS price_history (
	token_id       String,
	timestamp_ms   UInt64,
	price          Float64,
	change_percent Nullable(Float64)
) ENGINE = MergeTree()
ORDER BY (token_id, timestamp_ms)
SETTINGS index_granularity = 8192`

// PriceHistoryStore implements storage.PriceHistoryStore using ClickHouse.
// Each successful price poll appends one row per token.
type PriceHistoryStore struct {
	conn *Conn
}

// NewPriceHistoryStore creates a new PriceHistoryStore.
func NewPriceHistoryStore(conn *Conn) *PriceHistoryStore {
	return &PriceHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)

// EnsureSchema creates the price_history table if it does not exist.
func (s *PriceHistoryStore) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, priceHistorySchema); err != nil {
		return fmt.Errorf("ensure price_history schema: %w", err)
	}
	return nil
}

// InsertBulk appends multiple price points.
func (s *PriceHistoryStore) InsertBulk(ctx context.Context, points []*domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_history (token_id, timestamp_ms, price, change_percent)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		var changePct *float64
		if p.PriceChangePercent != nil {
			v := p.PriceChangePercent.InexactFloat64()
			changePct = &v
		}
		err = batch.Append(p.TokenID, uint64(p.TimestampMs), p.Price.InexactFloat64(), changePct)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByToken retrieves all points for a token, ordered by timestamp ASC.
func (s *PriceHistoryStore) GetByToken(ctx context.Context, tokenID string) ([]*domain.PricePoint, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT token_id, timestamp_ms, price, change_percent
		FROM price_history
		WHERE token_id = ?
		ORDER BY timestamp_ms ASC`,
		tokenID,
	)
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()

	var points []*domain.PricePoint
	for rows.Next() {
		var (
			id        string
			ts        uint64
			price     float64
			changePct *float64
		)
		if err := rows.Scan(&id, &ts, &price, &changePct); err != nil {
			return nil, fmt.Errorf("scan price history row: %w", err)
		}

		p := &domain.PricePoint{
			TokenID:     id,
			TimestampMs: int64(ts),
			Price:       decimal.NewFromFloat(price),
		}
		if changePct != nil {
			d := decimal.NewFromFloat(*changePct)
			p.PriceChangePercent = &d
		}
		points = append(points, p)
	}

	return points, rows.Err()
}
