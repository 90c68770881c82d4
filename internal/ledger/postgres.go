package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

const postgresOperationTimeout = 5 * time.Second

func openPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return newStore(db, true)
}

func markSyncedPostgres(ctx context.Context, tx *sql.Tx, ids []string, ts string) error {
	_, err := tx.ExecContext(ctx, `UPDATE events SET synced = 1, synced_at = $1 WHERE id = ANY($2) AND synced = 0`, ts, pq.Array(ids))
	return err
}
