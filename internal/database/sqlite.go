package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fieldsync/internal/database/migrations"
	"fieldsync/internal/fieldsync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements fieldsync.LocalStore and fieldsync.DrainLog using SQLite.
// Payloads, actor tokens and conflict details are sealed with the optional cipher.
type SQLiteDatabase struct {
	db     *sql.DB
	path   string
	cipher fieldsync.Cipher
	clock  fieldsync.Clock
	hub    *fieldsync.StatusHub
}

var (
	_ fieldsync.LocalStore = (*SQLiteDatabase)(nil)
	_ fieldsync.DrainLog   = (*SQLiteDatabase)(nil)
)

// NewSQLiteDatabase opens a SQLite database.
// path can be a file path or ":memory:" for in-memory database.
// A nil cipher stores plaintext; a nil clock uses the wall clock.
func NewSQLiteDatabase(path string, cipher fieldsync.Cipher, clock fieldsync.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	s := NewSQLiteDatabaseFromDB(db, cipher, clock)
	s.path = path
	return s, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB, cipher fieldsync.Cipher, clock fieldsync.Clock) *SQLiteDatabase {
	if clock == nil {
		clock = fieldsync.RealClock{}
	}
	return &SQLiteDatabase{
		db:     db,
		cipher: cipher,
		clock:  clock,
		hub:    fieldsync.NewStatusHub(),
	}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// The pool is limited to one connection: SQLite has a single writer and
// ":memory:" databases are per connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return db, nil
}

const entityColumns = "entity_type, entity_id, payload, version, state, remote_version, deleted, conflict, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteDatabase) scanEntity(row rowScanner) (*fieldsync.EntityRecord, error) {
	var (
		rec               fieldsync.EntityRecord
		entityType, state string
		payload, conflict []byte
	)
	if err := row.Scan(&entityType, &rec.ID, &payload, &rec.Version, &state, &rec.RemoteVersion, &rec.Deleted, &conflict, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Type = fieldsync.EntityType(entityType)
	rec.State = fieldsync.SyncState(state)

	plain, err := s.open(payload)
	if err != nil {
		return nil, fmt.Errorf("opening payload of %s: %w", rec.Key(), err)
	}
	rec.Payload = plain

	if len(conflict) > 0 {
		raw, err := s.open(conflict)
		if err != nil {
			return nil, fmt.Errorf("opening conflict of %s: %w", rec.Key(), err)
		}
		var c fieldsync.Conflict
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decoding conflict of %s: %w", rec.Key(), err)
		}
		rec.Conflict = &c
	}
	return &rec, nil
}

func (s *SQLiteDatabase) Get(ctx context.Context, entityType fieldsync.EntityType, id string) (*fieldsync.EntityRecord, error) {
	row := conn(ctx, s.db).QueryRowContext(ctx, "SELECT "+entityColumns+" FROM entities WHERE entity_type = ? AND entity_id = ?", string(entityType), id)
	rec, err := s.scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s/%s: %w", entityType, id, fieldsync.ErrNotFound)
		}
		return nil, fmt.Errorf("reading entity: %w", err)
	}
	return rec, nil
}

func (s *SQLiteDatabase) List(ctx context.Context, entityType fieldsync.EntityType, filter fieldsync.Filter) ([]*fieldsync.EntityRecord, error) {
	query := "SELECT " + entityColumns + " FROM entities WHERE entity_type = ?"
	args := []any{string(entityType)}
	if !filter.IncludeDeleted {
		query += " AND deleted = 0"
	}
	if len(filter.States) > 0 {
		query += " AND state IN (?" + strings.Repeat(", ?", len(filter.States)-1) + ")"
		for _, st := range filter.States {
			args = append(args, string(st))
		}
	}
	query += " ORDER BY entity_id"

	rows, err := conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	defer rows.Close()

	var out []*fieldsync.EntityRecord
	for rows.Next() {
		rec, err := s.scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		// Payload predicates run after decryption.
		if filter.Match(rec) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	return out, nil
}

func (s *SQLiteDatabase) Upsert(ctx context.Context, rec *fieldsync.EntityRecord) (*fieldsync.EntityRecord, error) {
	next := rec.Clone()
	err := runTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var version int64
		err := tx.QueryRowContext(ctx, "SELECT version FROM entities WHERE entity_type = ? AND entity_id = ?", string(rec.Type), rec.ID).Scan(&version)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("reading entity version: %w", err)
		}

		next.Version = version + 1
		next.UpdatedAt = s.clock.Now()
		if next.State == "" {
			next.State = fieldsync.StatePending
		}
		if err := s.writeEntity(ctx, tx, next); err != nil {
			return err
		}
		s.publishAfterCommit(ctx, next, "")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (s *SQLiteDatabase) writeEntity(ctx context.Context, tx *sql.Tx, rec *fieldsync.EntityRecord) error {
	payload, err := s.seal(rec.Payload)
	if err != nil {
		return fmt.Errorf("sealing payload: %w", err)
	}
	var conflict []byte
	if rec.Conflict != nil {
		raw, err := json.Marshal(rec.Conflict)
		if err != nil {
			return fmt.Errorf("encoding conflict: %w", err)
		}
		if conflict, err = s.seal(raw); err != nil {
			return fmt.Errorf("sealing conflict: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (`+entityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			payload = excluded.payload,
			version = excluded.version,
			state = excluded.state,
			remote_version = excluded.remote_version,
			deleted = excluded.deleted,
			conflict = excluded.conflict,
			updated_at = excluded.updated_at`,
		string(rec.Type), rec.ID, payload, rec.Version, string(rec.State), rec.RemoteVersion, rec.Deleted, conflict, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("writing entity: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) Delete(ctx context.Context, entityType fieldsync.EntityType, id string, state fieldsync.SyncState) (*fieldsync.EntityRecord, error) {
	var rec *fieldsync.EntityRecord
	err := runTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if rec, err = s.Get(ctx, entityType, id); err != nil {
			return err
		}
		rec.Deleted = true
		rec.State = state
		rec.Version++
		rec.UpdatedAt = s.clock.Now()

		if err := s.writeEntity(ctx, tx, rec); err != nil {
			return err
		}
		s.publishAfterCommit(ctx, rec, "")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteDatabase) Purge(ctx context.Context, entityType fieldsync.EntityType, id string) error {
	res, err := conn(ctx, s.db).ExecContext(ctx, "DELETE FROM entities WHERE entity_type = ? AND entity_id = ?", string(entityType), id)
	if err != nil {
		return fmt.Errorf("purging entity: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		afterCommit(ctx, func() {
			s.hub.Publish(fieldsync.StatusEvent{Type: entityType, ID: id, State: fieldsync.StateSynced, Deleted: true, Purged: true})
		})
	}
	return nil
}

func (s *SQLiteDatabase) Rekey(ctx context.Context, entityType fieldsync.EntityType, oldID, newID string) (*fieldsync.EntityRecord, error) {
	var rec *fieldsync.EntityRecord
	err := runTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if rec, err = s.Get(ctx, entityType, oldID); err != nil {
			return err
		}
		var exists int
		err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities WHERE entity_type = ? AND entity_id = ?", string(entityType), newID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("checking target id: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%s/%s: %w", entityType, newID, fieldsync.ErrAlreadyExists)
		}

		rec.ID = newID
		rec.Version++
		rec.UpdatedAt = s.clock.Now()
		_, err = tx.ExecContext(ctx,
			"UPDATE entities SET entity_id = ?, version = ?, updated_at = ? WHERE entity_type = ? AND entity_id = ?",
			newID, rec.Version, rec.UpdatedAt, string(entityType), oldID,
		)
		if err != nil {
			return fmt.Errorf("rekeying entity: %w", err)
		}
		s.publishAfterCommit(ctx, rec, oldID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteDatabase) CountByState(ctx context.Context) (map[fieldsync.SyncState]int, error) {
	rows, err := conn(ctx, s.db).QueryContext(ctx, "SELECT state, COUNT(*) FROM entities GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("counting entities: %w", err)
	}
	defer rows.Close()

	counts := make(map[fieldsync.SyncState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[fieldsync.SyncState(state)] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteDatabase) Subscribe(buffer int) (<-chan fieldsync.StatusEvent, func()) {
	return s.hub.Subscribe(buffer)
}

func (s *SQLiteDatabase) publishAfterCommit(ctx context.Context, rec *fieldsync.EntityRecord, previousID string) {
	ev := fieldsync.StatusEvent{
		Type:       rec.Type,
		ID:         rec.ID,
		State:      rec.State,
		Version:    rec.Version,
		Deleted:    rec.Deleted,
		PreviousID: previousID,
	}
	afterCommit(ctx, func() { s.hub.Publish(ev) })
}

func (s *SQLiteDatabase) seal(b []byte) ([]byte, error) {
	if s.cipher == nil || b == nil {
		return b, nil
	}
	return s.cipher.Seal(b)
}

func (s *SQLiteDatabase) open(b []byte) ([]byte, error) {
	if s.cipher == nil || b == nil {
		return b, nil
	}
	return s.cipher.Open(b)
}

// Path returns the database file path.
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Migrate applies pending schema migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the schema matches this binary.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// SchemaVersion returns the applied migration version.
func (s *SQLiteDatabase) SchemaVersion() (uint, error) {
	version, _, err := migrations.SchemaVersion(s.db)
	return version, err
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
// Sealed columns stay sealed in the copy.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close ends every status subscription and closes the database connection.
func (s *SQLiteDatabase) Close() error {
	s.hub.Close()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
