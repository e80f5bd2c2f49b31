package mapping

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const mappingTable = "mapping_entries"

// sqliteOptions serializes writers; the mapping db may be shared with later
// restore runs.
const sqliteOptions = "?_txlock=exclusive&_timeout=30000"

// SQLite persists mapping entries to a local database file, one row per
// entry, keyed by run id.
type SQLite struct {
	db  *sql.DB
	buf []Entry
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+sqliteOptions)
	if err != nil {
		return nil, fmt.Errorf("mapping: open %s: %w", path, err)
	}
	s := &SQLite{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init() error {
	createTableSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		token TEXT NOT NULL,
		original_value TEXT NOT NULL,
		field TEXT NOT NULL,
		record_index INTEGER NOT NULL
	);`, mappingTable)
	if _, err := s.db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("mapping: create %s table: %w", mappingTable, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLite) Record(e Entry) {
	s.buf = append(s.buf, e)
}

// Flush inserts all buffered entries in one transaction and clears the
// buffer.
func (s *SQLite) Flush() (*Document, error) {
	doc := newDocument(s.buf)
	s.buf = nil

	tx, err := s.db.Begin()
	if err != nil {
		return doc, fmt.Errorf("mapping: begin tx: %w", err)
	}
	stmt, err := tx.Prepare(fmt.Sprintf(
		`INSERT INTO %s (run_id, token, original_value, field, record_index) VALUES (?, ?, ?, ?, ?)`,
		mappingTable))
	if err != nil {
		tx.Rollback()
		return doc, fmt.Errorf("mapping: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range doc.Entries {
		orig, err := json.Marshal(e.Original)
		if err != nil {
			tx.Rollback()
			return doc, fmt.Errorf("mapping: encode original: %w", err)
		}
		if _, err := stmt.Exec(doc.RunID, e.Token, string(orig), e.Field, e.RecordIndex); err != nil {
			tx.Rollback()
			return doc, fmt.Errorf("mapping: insert entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return doc, fmt.Errorf("mapping: commit: %w", err)
	}
	return doc, nil
}

// LoadRun reads back all entries persisted under runID.
func (s *SQLite) LoadRun(runID string) (*Document, error) {
	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT token, original_value, field, record_index FROM %s WHERE run_id = ? ORDER BY record_index, field`,
		mappingTable), runID)
	if err != nil {
		return nil, fmt.Errorf("mapping: query run %s: %w", runID, err)
	}
	defer rows.Close()

	doc := &Document{RunID: runID}
	for rows.Next() {
		var e Entry
		var rawOrig string
		if err := rows.Scan(&e.Token, &rawOrig, &e.Field, &e.RecordIndex); err != nil {
			return nil, fmt.Errorf("mapping: scan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(rawOrig), &e.Original); err != nil {
			return nil, fmt.Errorf("mapping: decode original: %w", err)
		}
		doc.Entries = append(doc.Entries, e)
	}
	return doc, rows.Err()
}
