package store

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps accounts in a sqlite database. Functionally equivalent
// to the file store; useful when the account list is shared with other
// tooling.
type SQLiteStore struct {
	conn *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	query := `CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		credential_hash TEXT NOT NULL
	)`
	if _, err := conn.Exec(query); err != nil {
		conn.Close()
		return nil, err
	}

	return &SQLiteStore{conn: conn}, nil
}

func (s *SQLiteStore) LoadAll() ([]Record, error) {
	rows, err := s.conn.Query("SELECT username, credential_hash FROM accounts ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Username, &r.CredentialHash); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Append(username, credentialHash string) error {
	_, err := s.conn.Exec(
		"INSERT INTO accounts (username, credential_hash) VALUES (?, ?)",
		username, credentialHash,
	)
	return err
}

func (s *SQLiteStore) Truncate() error {
	_, err := s.conn.Exec("DELETE FROM accounts")
	return err
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}
