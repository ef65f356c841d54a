// Package ledger is the persistent at-most-once delivery record. A row is
// written only after the target service confirms a delivery, never updated,
// and removed only by retention pruning. The unique index over the four-part
// key is the exactly-once contract.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrConflict is returned by Record when the key already has a delivery.
// Reaching it means the pre-publish Exists check was skipped or raced.
var ErrConflict = errors.New("ledger: delivery already recorded")

// Key identifies one delivery.
type Key struct {
	SourceAccount string
	TargetService string
	TargetAccount string
	PostID        string
}

// Ledger wraps the SQLite store.
type Ledger struct{ sql *sql.DB }

func Open(path string) (*Ledger, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		return nil, err
	}
	l := &Ledger{sql: d}
	if err := l.migrate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) Close() error { return l.sql.Close() }

func (l *Ledger) migrate() error {
	_, err := l.sql.Exec(`
	CREATE TABLE IF NOT EXISTS deliveries (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  source_account TEXT NOT NULL,
	  target_service TEXT NOT NULL,
	  target_account TEXT NOT NULL,
	  source_post_id TEXT NOT NULL,
	  delivered_message_id TEXT NOT NULL,
	  recorded_at INTEGER NOT NULL,
	  UNIQUE(source_account, target_service, target_account, source_post_id)
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_source ON deliveries(source_account);
	`)
	return err
}

// Exists reports whether a delivery is already recorded for key.
func (l *Ledger) Exists(ctx context.Context, k Key) (bool, error) {
	row := l.sql.QueryRowContext(ctx,
		`SELECT 1 FROM deliveries WHERE source_account=? AND target_service=? AND target_account=? AND source_post_id=?`,
		k.SourceAccount, k.TargetService, k.TargetAccount, k.PostID)
	var one int
	switch err := row.Scan(&one); {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, err
	}
}

// Record inserts the delivery for key. The uniqueness constraint makes the
// write atomic: a duplicate key surfaces as ErrConflict, not a lost update.
func (l *Ledger) Record(ctx context.Context, k Key, deliveredID string) error {
	_, err := l.sql.ExecContext(ctx,
		`INSERT INTO deliveries(source_account, target_service, target_account, source_post_id, delivered_message_id, recorded_at)
		 VALUES(?,?,?,?,?,?)`,
		k.SourceAccount, k.TargetService, k.TargetAccount, k.PostID, deliveredID, time.Now().UTC().Unix())
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrConflict
	}
	return err
}

// PruneToMostRecent keeps the maxCount most recently delivered rows for
// sourceAccount and deletes the rest. Recency is the delivered message id,
// which is monotonically increasing on the target service, not wall-clock
// insertion time. Returns the number of rows removed.
func (l *Ledger) PruneToMostRecent(ctx context.Context, sourceAccount string, maxCount int) (int64, error) {
	if maxCount < 0 {
		maxCount = 0
	}
	res, err := l.sql.ExecContext(ctx,
		`DELETE FROM deliveries WHERE source_account=? AND id NOT IN (
		   SELECT id FROM deliveries WHERE source_account=?
		   ORDER BY CAST(delivered_message_id AS INTEGER) DESC, delivered_message_id DESC
		   LIMIT ?)`,
		sourceAccount, sourceAccount, maxCount)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Count returns the number of recorded deliveries for sourceAccount.
func (l *Ledger) Count(ctx context.Context, sourceAccount string) (int, error) {
	row := l.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE source_account=?`, sourceAccount)
	var n int
	err := row.Scan(&n)
	return n, err
}

// DeliveredIDs returns the delivered message ids for sourceAccount ordered
// oldest first.
func (l *Ledger) DeliveredIDs(ctx context.Context, sourceAccount string) ([]string, error) {
	rows, err := l.sql.QueryContext(ctx,
		`SELECT delivered_message_id FROM deliveries WHERE source_account=?
		 ORDER BY CAST(delivered_message_id AS INTEGER), delivered_message_id`,
		sourceAccount)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
