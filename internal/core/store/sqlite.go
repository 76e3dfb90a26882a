package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/driftsync/driftsync/internal/core/clock"
	"github.com/driftsync/driftsync/internal/core/mutation"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps the queue in a local SQLite database, one row per
// record. Writes go through immediately; SQLite's own journaling provides
// the durability guarantee the Store contract requires.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS mutations (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	kind       TEXT NOT NULL,
	entity_id  TEXT NOT NULL,
	payload    BLOB,
	status     TEXT NOT NULL,
	vclock     TEXT NOT NULL,
	deps       TEXT NOT NULL,
	batch_key  TEXT NOT NULL DEFAULT '',
	policy     TEXT NOT NULL DEFAULT '',
	attempt    INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mutations_entity ON mutations(entity_id, created_at, seq);
`

// NewSQLiteStore opens the database at path and creates the schema when
// missing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, rec mutation.Record) error {
	vclock, deps, err := encodeAux(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mutations
			(id, kind, entity_id, payload, status, vclock, deps, batch_key, policy, attempt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Kind, rec.EntityID, []byte(rec.Payload), string(rec.Status),
		vclock, deps, rec.BatchKey, rec.Policy, rec.Attempt, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, entityID string) ([]mutation.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, entity_id, payload, status, vclock, deps, batch_key, policy, attempt, created_at, updated_at
		FROM mutations
		WHERE entity_id = ?
		ORDER BY created_at, seq`, entityID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var out []mutation.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}

// Has implements Store.
func (s *SQLiteStore) Has(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM mutations WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return true, nil
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, id string, patch Patch) error {
	var rec mutation.Record
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, entity_id, payload, status, vclock, deps, batch_key, policy, attempt, created_at, updated_at
		FROM mutations WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	patch.apply(&rec)
	rec.UpdatedAt = time.Now().UTC()
	vclock, deps, err := encodeAux(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE mutations
		SET payload = ?, status = ?, vclock = ?, deps = ?, attempt = ?, updated_at = ?
		WHERE id = ?`,
		[]byte(rec.Payload), string(rec.Status), vclock, deps, rec.Attempt, rec.UpdatedAt, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mutations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Entities implements Store.
func (s *SQLiteStore) Entities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT entity_id FROM mutations ORDER BY entity_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var entityID string
		if err := rows.Scan(&entityID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		out = append(out, entityID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (mutation.Record, error) {
	var (
		rec     mutation.Record
		payload []byte
		status  string
		vclock  string
		deps    string
	)
	err := row.Scan(&rec.ID, &rec.Kind, &rec.EntityID, &payload, &status,
		&vclock, &deps, &rec.BatchKey, &rec.Policy, &rec.Attempt, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, err
	}
	if err != nil {
		return rec, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if len(payload) > 0 {
		rec.Payload = json.RawMessage(payload)
	}
	rec.Status = mutation.Status(status)
	rec.Clock = clock.New()
	if err := json.Unmarshal([]byte(vclock), &rec.Clock); err != nil {
		return rec, fmt.Errorf("%w: corrupt vector clock for %s: %v", ErrStorageUnavailable, rec.ID, err)
	}
	if err := json.Unmarshal([]byte(deps), &rec.Dependencies); err != nil {
		return rec, fmt.Errorf("%w: corrupt dependency list for %s: %v", ErrStorageUnavailable, rec.ID, err)
	}
	return rec, nil
}

func encodeAux(rec mutation.Record) (vclock string, deps string, err error) {
	cb, err := json.Marshal(rec.Clock)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	depList := rec.Dependencies
	if depList == nil {
		depList = []string{}
	}
	db, err := json.Marshal(depList)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return string(cb), string(db), nil
}
