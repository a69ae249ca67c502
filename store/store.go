// Package store persists account records. The registry treats a store as
// append-only; Truncate exists for operators and is reached through the
// control socket, never through a protocol command.
package store

import "fmt"

// Record is one persisted account: a username and its opaque credential hash.
type Record struct {
	Username       string
	CredentialHash string
}

// Store is the persistence contract consumed by the registry.
type Store interface {
	// LoadAll returns every stored record in insertion order.
	LoadAll() ([]Record, error)
	// Append adds one record.
	Append(username, credentialHash string) error
	// Truncate discards all records.
	Truncate() error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open creates a store for the named backend.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendFile:
		return NewFileStore(path), nil
	case BackendSQLite:
		return NewSQLiteStore(path)
	}
	return nil, fmt.Errorf("unknown store backend %q", backend)
}
