package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"

	"screener_bot/internal/models"
	"screener_bot/pkg/db"
)

const (
	listEnabledTradersSQL = `
SELECT id, name, COALESCE(description, ''), filter_code, COALESCE(series_code, ''),
       intervals, refresh_seconds, enabled, version
FROM traders
WHERE enabled = true AND deleted_at IS NULL
ORDER BY id`

	insertSignalSQL = `
INSERT INTO signals (id, trader_id, symbol, created_at, metadata)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`

	insertMetricSQL = `
INSERT INTO metrics (source_id, created_at, counters)
VALUES ($1, $2, $3)`

	insertEventSQL = `
INSERT INTO events (source_id, type, severity, created_at, details)
VALUES ($1, $2, $3, $4, $5)`
)

// Repository — все запросы скринера к Postgres. Батчевые записи идут
// одной транзакцией: либо весь батч, либо он целиком возвращается
// в очередь синкера.
type Repository struct {
	txm db.TxManager
}

func NewRepository(txm *db.PgTxManager) *Repository {
	return &Repository{txm: txm}
}

// ListEnabledTraders — обычное чтение, транзакция ему не нужна.
func (r *Repository) ListEnabledTraders(ctx context.Context) (traders []models.Trader, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Repository.ListEnabledTraders: %w", err)
		}
	}()

	rows, err := r.txm.Conn().Query(ctx, listEnabledTradersSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t models.Trader
		var refreshSeconds int64
		if err := rows.Scan(
			&t.ID, &t.Name, &t.Description, &t.FilterCode, &t.SeriesCode,
			&t.Intervals, &refreshSeconds, &t.Enabled, &t.Version,
		); err != nil {
			return nil, err
		}
		t.Refresh = time.Duration(refreshSeconds) * time.Second
		traders = append(traders, t)
	}
	return traders, rows.Err()
}

func (r *Repository) SaveSignals(ctx context.Context, batch []models.Signal) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Repository.SaveSignals: %w", err)
		}
	}()

	if len(batch) == 0 {
		return nil
	}

	return r.txm.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, sig := range batch {
			b.Queue(insertSignalSQL, sig.ID, sig.TraderID, sig.Symbol, sig.Timestamp, sig.Metadata)
		}
		return flushBatch(ctxTx, tx, b)
	})
}

func (r *Repository) SaveMetrics(ctx context.Context, batch []models.Metric) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Repository.SaveMetrics: %w", err)
		}
	}()

	if len(batch) == 0 {
		return nil
	}

	return r.txm.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, m := range batch {
			counters, err := sonic.Marshal(m.Counters)
			if err != nil {
				return err
			}
			b.Queue(insertMetricSQL, m.SourceID, m.Timestamp, counters)
		}
		return flushBatch(ctxTx, tx, b)
	})
}

func (r *Repository) SaveEvents(ctx context.Context, batch []models.Event) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Repository.SaveEvents: %w", err)
		}
	}()

	if len(batch) == 0 {
		return nil
	}

	return r.txm.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, ev := range batch {
			b.Queue(insertEventSQL, ev.SourceID, ev.Type, ev.Severity, ev.Timestamp, ev.Details)
		}
		return flushBatch(ctxTx, tx, b)
	})
}

func flushBatch(ctx context.Context, tx pgx.Tx, b *pgx.Batch) error {
	br := tx.SendBatch(ctx, b)
	defer func() { _ = br.Close() }()

	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
