package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glekoz/chipdash/config"
	"github.com/glekoz/chipdash/internal/models"
	"github.com/glekoz/chipdash/internal/repository/db"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("log entry not found")

type Repository struct {
	q    *db.Queries
	pool *pgxpool.Pool
}

func DSN(pg config.PG) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", pg.User, pg.Password, pg.Host, pg.Port, pg.DBName, pg.SSLMode)
}

func NewPool(ctx context.Context, pg config.PG) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(DSN(pg))
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.PingTimeout = 30 * time.Second
	poolCfg.MaxConns = int32(pg.PoolMax)
	poolCfg.MinConns = 1
	poolCfg.HealthCheckPeriod = 1 * time.Minute
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	err = p.Ping(ctx)
	if err != nil {
		p.Close()
		return nil, err
	}

	return p, nil
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{
		q:    db.New(pool),
		pool: pool,
	}
}

// EnsureSchema creates the tables when they are missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, db.Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// ListLogs returns every record in insertion order. A re-ingested record
// keeps its original position.
func (r *Repository) ListLogs(ctx context.Context) ([]models.LogRecord, error) {
	rows, err := r.q.ListLogs(ctx)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}

	records := make([]models.LogRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeLog(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *Repository) GetLog(ctx context.Context, key models.RecordKey) (models.LogRecord, error) {
	row, err := r.q.GetLog(ctx, db.GetLogParams{ChipID: key.ChipID, Ts: key.Timestamp})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.LogRecord{}, ErrNotFound
		}
		return models.LogRecord{}, fmt.Errorf("query log: %w", err)
	}
	return decodeLog(row)
}

func (r *Repository) UpsertLog(ctx context.Context, rec models.LogRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode log: %w", err)
	}
	err = r.q.UpsertLog(ctx, db.UpsertLogParams{
		ChipID:  rec.ChipID,
		Ts:      rec.Timestamp,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("upsert log: %w", err)
	}
	return nil
}

// UpsertLogs stores a batch upload atomically: either every record lands or
// none does.
func (r *Repository) UpsertLogs(ctx context.Context, recs []models.LogRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	// no-op once committed
	defer tx.Rollback(ctx)

	q := r.q.WithTx(tx)
	for _, rec := range recs {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode log %s: %w", rec.Key(), err)
		}
		err = q.UpsertLog(ctx, db.UpsertLogParams{ChipID: rec.ChipID, Ts: rec.Timestamp, Payload: payload})
		if err != nil {
			return fmt.Errorf("upsert log %s: %w", rec.Key(), err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *Repository) DeleteLog(ctx context.Context, key models.RecordKey) error {
	n, err := r.q.DeleteLog(ctx, db.DeleteLogParams{ChipID: key.ChipID, Ts: key.Timestamp})
	if err != nil {
		return fmt.Errorf("delete log: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListNames(ctx context.Context) ([]models.NameEntry, error) {
	rows, err := r.q.ListNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("query names: %w", err)
	}

	names := make([]models.NameEntry, len(rows))
	for i, row := range rows {
		names[i] = models.NameEntry{ChipID: row.ChipID, Name: row.Name}
	}
	return names, nil
}

// GetName looks the chip up case-insensitively. A chip without a name
// yields "" and no error.
func (r *Repository) GetName(ctx context.Context, chipID string) (string, error) {
	row, err := r.q.GetName(ctx, chipID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("query name: %w", err)
	}
	return row.Name, nil
}

func (r *Repository) UpsertName(ctx context.Context, chipID, name string) error {
	if err := r.q.UpsertName(ctx, db.UpsertNameParams{ChipID: chipID, Name: name}); err != nil {
		return fmt.Errorf("upsert name: %w", err)
	}
	return nil
}

func decodeLog(row db.ChipLog) (models.LogRecord, error) {
	var rec models.LogRecord
	if err := json.Unmarshal(row.Payload, &rec); err != nil {
		return models.LogRecord{}, fmt.Errorf("decode log %d: %w", row.ID, err)
	}
	// the columns are authoritative
	rec.ChipID = row.ChipID
	rec.Timestamp = row.Ts
	return rec, nil
}
