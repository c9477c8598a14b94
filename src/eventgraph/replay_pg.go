package eventgraph

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgReplayLog is a ReplayLog stored in a PostgreSQL table, which makes the
// capture easy to query from other tools.
type PgReplayLog struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPgReplayLog connects to the database at dsn and creates the
// replay_events table if needed.
func NewPgReplayLog(dsn string) (*PgReplayLog, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect replay datastore: %w", err)
	}

	r := &PgReplayLog{pool: pool, timeout: 5 * time.Second}
	if err := r.EnsureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

// EnsureTable creates the replay table if it doesn't exist.
func (r *PgReplayLog) EnsureTable(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS replay_events (
			seq         BIGSERIAL PRIMARY KEY,
			received_at TIMESTAMPTZ NOT NULL,
			source      TEXT NOT NULL,
			event_id    TEXT NOT NULL,
			event       BYTEA NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create replay_events: %w", err)
	}
	_, err = r.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_replay_events_event_id ON replay_events(event_id)`)
	return err
}

// Append implements ReplayLog. The sequence number is assigned by the
// database.
func (r *PgReplayLog) Append(ev *Event, source string) error {
	val, err := ev.MarshalDB()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	_, err = r.pool.Exec(ctx, `
		INSERT INTO replay_events (received_at, source, event_id, event)
		VALUES ($1, $2, $3, $4)`,
		time.Now(), source, ev.Hex(), val)
	if err != nil {
		return fmt.Errorf("insert replay record: %w", err)
	}
	return nil
}

// Iterate implements ReplayLog.
func (r *PgReplayLog) Iterate(fn func(ReplayRecord) error) error {
	ctx := context.Background()

	rows, err := r.pool.Query(ctx, `
		SELECT seq, received_at, source, event
		FROM replay_events ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("query replay records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq        int64
			receivedAt time.Time
			source     string
			raw        []byte
		)
		if err := rows.Scan(&seq, &receivedAt, &source, &raw); err != nil {
			return fmt.Errorf("scan replay record: %w", err)
		}

		ev := new(Event)
		if err := ev.UnmarshalDB(raw); err != nil {
			return fmt.Errorf("decode replay record %d: %w", seq, err)
		}

		if err := fn(ReplayRecord{
			Seq:        uint64(seq),
			ReceivedAt: receivedAt,
			Source:     source,
			Event:      ev,
		}); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close implements ReplayLog.
func (r *PgReplayLog) Close() error {
	r.pool.Close()
	return nil
}
