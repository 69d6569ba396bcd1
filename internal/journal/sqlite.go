package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/resync/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial commits table
const currentSchemaVersion = 1

// SQLite is a Journal backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// Open creates or opens a SQLite journal at path (":memory:" works too).
// Applies pragmas and the schema; safe to call on an existing database.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite supports one writer at a time; a single connection also keeps
	// ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("journal schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append implements Journal. The dense-revision check and the insert run in
// one transaction.
func (s *SQLite) Append(ctx context.Context, e Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}

	actionJSON, err := ir.MarshalCanonical(e.Action.AsValue())
	if err != nil {
		return fmt.Errorf("journal append: marshal action: %w", err)
	}
	var stateJSON sql.NullString
	if e.IsGenesis() {
		data, err := ir.MarshalCanonical(e.State)
		if err != nil {
			return fmt.Errorf("journal append: marshal state: %w", err)
		}
		stateJSON = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal append: begin tx: %w", err)
	}
	defer tx.Rollback()

	var recorded string
	err = tx.QueryRowContext(ctx,
		`SELECT checksum FROM commits WHERE rid = ? AND revision = ?`,
		string(e.RID), e.Revision,
	).Scan(&recorded)
	switch {
	case err == nil:
		if recorded != e.Checksum {
			return fmt.Errorf("journal entry %s@%d: conflicts with recorded checksum", e.RID, e.Revision)
		}
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("journal append: %w", err)
	}

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(revision) + 1, 0) FROM commits WHERE rid = ?`,
		string(e.RID),
	).Scan(&next); err != nil {
		return fmt.Errorf("journal append: %w", err)
	}
	if e.Revision != next {
		return fmt.Errorf("journal entry %s@%d: expected revision %d", e.RID, e.Revision, next)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO commits
		(rid, revision, resource_type, client_id, action_type, action, state, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rid, revision) DO NOTHING
	`,
		string(e.RID),
		e.Revision,
		e.ResourceType,
		e.ClientID,
		e.Action.Type,
		string(actionJSON),
		stateJSON,
		e.Checksum,
	); err != nil {
		return fmt.Errorf("journal append: %w", err)
	}

	return tx.Commit()
}

// Entries implements Journal.
func (s *SQLite) Entries(ctx context.Context, rid ir.RID) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT revision, resource_type, client_id, action_type, action, state, checksum
		FROM commits
		WHERE rid = ?
		ORDER BY revision ASC
	`, string(rid))
	if err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			actionType string
			actionJSON string
			stateJSON  sql.NullString
		)
		e.RID = rid
		if err := rows.Scan(&e.Revision, &e.ResourceType, &e.ClientID, &actionType, &actionJSON, &stateJSON, &e.Checksum); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if !e.IsGenesis() {
			v, err := ir.ParseJSON([]byte(actionJSON))
			if err != nil {
				return nil, fmt.Errorf("entry %s@%d: decode action: %w", rid, e.Revision, err)
			}
			if e.Action, err = ir.ActionFromValue(v); err != nil {
				return nil, fmt.Errorf("entry %s@%d: %w", rid, e.Revision, err)
			}
		}
		if stateJSON.Valid {
			if e.State, err = ir.ParseJSON([]byte(stateJSON.String)); err != nil {
				return nil, fmt.Errorf("entry %s@%d: decode state: %w", rid, e.Revision, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}
	return entries, nil
}

// Resources implements Journal.
func (s *SQLite) Resources(ctx context.Context) ([]ResourceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.rid, c.resource_type, c.revision, c.checksum
		FROM commits c
		JOIN (
			SELECT rid, MAX(revision) AS revision FROM commits GROUP BY rid
		) latest ON latest.rid = c.rid AND latest.revision = c.revision
		ORDER BY c.rid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read resources: %w", err)
	}
	defer rows.Close()

	var out []ResourceRecord
	for rows.Next() {
		var (
			rec ResourceRecord
			rid string
		)
		if err := rows.Scan(&rid, &rec.ResourceType, &rec.Revision, &rec.Checksum); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		rec.RID = ir.RID(rid)
		out = append(out, rec)
	}
	return out, rows.Err()
}
