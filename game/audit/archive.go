package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"
)

// Archive persists sanitized turn records to a local sqlite file so a
// session can be inspected after the in-memory store has rotated. The
// in-memory store stays authoritative; archive failures never fail a
// turn.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens (creating if needed) the archive database at dsn.
func OpenArchive(dsn string) (*Archive, error) {
	if dsn == "" {
		return nil, errors.New("audit: archive dsn required")
	}

	// With the modernc driver each pragma is passed as `_pragma=`.
	// WAL keeps single-writer locking painless for a local file.
	db, err := sql.Open("sqlite", dsn+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "audit: open archive with dsn: %s", dsn)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	a := &Archive{db: db}
	if err := a.migrate(context.Background()); err != nil {
		_ = db.Close() //nolint:errcheck // cleanup
		return nil, err
	}
	return a, nil
}

func (a *Archive) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS turn_audit (
	turn_id TEXT PRIMARY KEY,
	character_id TEXT NOT NULL,
	classification TEXT NOT NULL,
	created_ts INTEGER NOT NULL,
	record TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turn_audit_character ON turn_audit (character_id, created_ts DESC);`
	if _, err := a.db.ExecContext(ctx, ddl); err != nil {
		return errors.Wrap(err, "audit: migrate archive")
	}
	return nil
}

// Insert writes one record. Re-inserting a turn id replaces the row.
func (a *Archive) Insert(ctx context.Context, rec *Record) error {
	if rec == nil || rec.TurnID == "" {
		return errors.New("audit: record with turn id required")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "audit: marshal record")
	}
	_, err = a.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO turn_audit (turn_id, character_id, classification, created_ts, record) VALUES (?, ?, ?, ?, ?)",
		rec.TurnID, rec.CharacterID, string(rec.Classification), rec.CreatedAt.UnixMilli(), string(payload),
	)
	if err != nil {
		return errors.Wrapf(err, "audit: insert record %s", rec.TurnID)
	}
	return nil
}

// RecentByCharacter returns up to n archived records for a character,
// newest first.
func (a *Archive) RecentByCharacter(ctx context.Context, characterID string, n int) ([]*Record, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := a.db.QueryContext(ctx,
		"SELECT record FROM turn_audit WHERE character_id = ? ORDER BY created_ts DESC LIMIT ?",
		characterID, n,
	)
	if err != nil {
		return nil, errors.Wrap(err, "audit: query archive")
	}
	defer func() { _ = rows.Close() }() //nolint:errcheck // cleanup

	var out []*Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "audit: scan archive row")
		}
		var rec Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, errors.Wrap(err, "audit: decode archived record")
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "audit: iterate archive rows")
	}
	return out, nil
}

// Prune deletes rows created before the cutoff, returning how many
// went. Retention is enforced by the owning server's sweep loop.
func (a *Archive) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx,
		"DELETE FROM turn_audit WHERE created_ts < ?", cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, errors.Wrap(err, "audit: prune archive")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "audit: prune row count")
	}
	return n, nil
}

// Close releases the underlying database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}
