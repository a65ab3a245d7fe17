package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const sqliteSchemaV1 = `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

type SQLiteKV struct {
	db *sql.DB
}

var _ KV = (*SQLiteKV)(nil)

// NewSQLiteKV opens (or creates) the database behind dsn. A plain file path is
// accepted as a dsn.
func NewSQLiteKV(dsn string) (*SQLiteKV, error) {
	if dsn == "" {
		return nil, errors.New("sqlite store: empty dsn")
	}
	if !strings.HasPrefix(dsn, "file:") && !strings.HasPrefix(dsn, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, errors.Wrapf(err, "could not create directory for %s", dsn)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open sqlite database %s", dsn)
	}
	// one connection keeps writes serialized and :memory: databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchemaV1); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "could not migrate sqlite store")
	}
	return &SQLiteKV{db: db}, nil
}

func (s *SQLiteKV) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "could not read %s", key)
	}
	return value, true, nil
}

func (s *SQLiteKV) Set(key string, value string) error {
	_, err := s.db.Exec(`
INSERT INTO kv(key, value) VALUES(?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value
`, key, value)
	return errors.Wrapf(err, "could not write %s", key)
}

func (s *SQLiteKV) Remove(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return errors.Wrapf(err, "could not remove %s", key)
}

func (s *SQLiteKV) Keys() ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM kv`)
	if err != nil {
		return nil, errors.Wrap(err, "could not list keys")
	}
	defer func() { _ = rows.Close() }()

	var ret []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.Wrap(err, "could not scan key")
		}
		ret = append(ret, k)
	}
	return ret, errors.Wrap(rows.Err(), "could not list keys")
}

func (s *SQLiteKV) Close() error {
	return s.db.Close()
}
