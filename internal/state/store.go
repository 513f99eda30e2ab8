// Package state manages the SQLite database that records the last-synchronised
// snapshot of every event pushed to the destination calendar.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods. Mutations (Upsert, Remove) take effect in
// memory only; Flush atomically replaces the persisted mapping in a single
// transaction, so a crash mid-flush never leaves a half-written state file.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_records (
    uid             TEXT PRIMARY KEY,
    summary         TEXT NOT NULL DEFAULT '',
    description     TEXT NOT NULL DEFAULT '',
    location        TEXT NOT NULL DEFAULT '',
    starts_at       TEXT NOT NULL,
    ends_at         TEXT NOT NULL,
    last_modified   TEXT NOT NULL,
    destination_id  TEXT NOT NULL
);
`

// Record is the persisted snapshot of one event as last pushed to the
// destination, plus the destination-side identifier assigned to it.
type Record struct {
	UID           string
	Summary       string
	Description   string
	Location      string
	Start         time.Time
	End           time.Time
	LastModified  time.Time
	DestinationID string
}

// CorruptError reports a backing store that exists but cannot be read as
// valid sync state. It is never raised for a missing store — the bootstrap
// case loads an empty mapping instead.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("sync state at %q is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Store is the SQLite-backed state repository with an in-memory working copy.
type Store struct {
	db      *sql.DB
	path    string
	records map[string]Record
}

// DefaultDBPath returns the default path for the state database:
// ~/.local/share/caldav2google/state.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "caldav2google", "state.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// loads the full uid → record mapping into memory. A missing file yields an
// empty mapping; an existing file that cannot be read as sync state yields a
// [*CorruptError] — ambiguous corruption is never treated as "no prior state".
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	_, statErr := os.Stat(path)
	existed := statErr == nil

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		if existed {
			return nil, &CorruptError{Path: path, Err: err}
		}
		return nil, fmt.Errorf("applying schema to %q: %w", path, err)
	}

	s := &Store{db: db, path: path, records: make(map[string]Record)}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, &CorruptError{Path: path, Err: err}
	}
	return s, nil
}

// Close releases the underlying database connection. Unflushed mutations are
// discarded, leaving the persisted state at the last successful Flush.
func (s *Store) Close() error {
	return s.db.Close()
}

// load reads every persisted record into the in-memory mapping, validating
// shape fully. Partial or unparseable rows fail the load rather than being
// silently dropped.
func (s *Store) load() error {
	const q = `
		SELECT uid, summary, description, location,
		       starts_at, ends_at, last_modified, destination_id
		FROM sync_records`
	rows, err := s.db.Query(q)
	if err != nil {
		return fmt.Errorf("querying sync records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var rec Record
		var start, end, lastMod string
		err := rows.Scan(
			&rec.UID,
			&rec.Summary,
			&rec.Description,
			&rec.Location,
			&start,
			&end,
			&lastMod,
			&rec.DestinationID,
		)
		if err != nil {
			return fmt.Errorf("scanning sync record: %w", err)
		}
		if rec.UID == "" {
			return fmt.Errorf("sync record with empty uid")
		}
		if rec.Start, err = parseTime(start); err != nil {
			return fmt.Errorf("record %q: invalid starts_at %q: %w", rec.UID, start, err)
		}
		if rec.End, err = parseTime(end); err != nil {
			return fmt.Errorf("record %q: invalid ends_at %q: %w", rec.UID, end, err)
		}
		if rec.LastModified, err = parseTime(lastMod); err != nil {
			return fmt.Errorf("record %q: invalid last_modified %q: %w", rec.UID, lastMod, err)
		}
		s.records[rec.UID] = rec
	}
	return rows.Err()
}

// Get returns the record for uid and whether it exists.
func (s *Store) Get(uid string) (Record, bool) {
	rec, ok := s.records[uid]
	return rec, ok
}

// All returns a copy of the full uid → record mapping as of the last load or
// in-memory mutation.
func (s *Store) All() map[string]Record {
	out := make(map[string]Record, len(s.records))
	for uid, rec := range s.records {
		out[uid] = rec
	}
	return out
}

// Len returns the number of tracked records.
func (s *Store) Len() int {
	return len(s.records)
}

// Upsert inserts or overwrites the record for rec.UID in memory.
func (s *Store) Upsert(rec Record) {
	s.records[rec.UID] = rec
}

// Remove deletes the record for uid if present; no-op otherwise.
func (s *Store) Remove(uid string) {
	delete(s.records, uid)
}

// Flush durably persists the in-memory mapping, replacing the previous
// persisted version in one transaction.
func (s *Store) Flush(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning flush transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_records`); err != nil {
		return fmt.Errorf("clearing sync records: %w", err)
	}

	const q = `
		INSERT INTO sync_records
		    (uid, summary, description, location,
		     starts_at, ends_at, last_modified, destination_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	for _, rec := range s.records {
		_, err := tx.ExecContext(ctx, q,
			rec.UID,
			rec.Summary,
			rec.Description,
			rec.Location,
			formatTime(rec.Start),
			formatTime(rec.End),
			formatTime(rec.LastModified),
			rec.DestinationID,
		)
		if err != nil {
			return fmt.Errorf("writing record %q: %w", rec.UID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing flush: %w", err)
	}
	return nil
}

// --- helpers -----------------------------------------------------------------

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
