package consolidator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// WatermarkStore persists the consolidation high-water mark: the CreatedAt of
// the newest transaction folded into the bitstrings. Get returns the zero
// time when no watermark has been stored yet.
type WatermarkStore interface {
	Get(ctx context.Context) (time.Time, error)
	Set(ctx context.Context, mark time.Time) error
}

// MemoryWatermark is the in-process watermark used in tests.
type MemoryWatermark struct {
	mu   sync.Mutex
	mark time.Time
}

func NewMemoryWatermark() *MemoryWatermark { return &MemoryWatermark{} }

func (w *MemoryWatermark) Get(_ context.Context) (time.Time, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mark, nil
}

func (w *MemoryWatermark) Set(_ context.Context, mark time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mark = mark
	return nil
}

// PostgresWatermark stores the watermark in a single-row table so restarts
// and failovers resume where the last successful run stopped.
type PostgresWatermark struct {
	db *sql.DB
}

func NewPostgresWatermark(db *sql.DB) *PostgresWatermark {
	return &PostgresWatermark{db: db}
}

func (w *PostgresWatermark) Get(ctx context.Context) (time.Time, error) {
	var mark time.Time
	err := w.db.QueryRowContext(ctx,
		`SELECT watermark FROM consolidation_watermark WHERE id = 1`,
	).Scan(&mark)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load consolidation watermark: %w", err)
	}
	return mark, nil
}

func (w *PostgresWatermark) Set(ctx context.Context, mark time.Time) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO consolidation_watermark (id, watermark) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET watermark = EXCLUDED.watermark`,
		mark,
	)
	if err != nil {
		return fmt.Errorf("store consolidation watermark: %w", err)
	}
	return nil
}
