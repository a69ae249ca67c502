// Package registry holds the in-memory account list and its presence state.
// Every session worker reads and writes it concurrently, so all access goes
// through one mutex.
package registry

import (
	"errors"
	"log"
	"sync"

	"smsg/models"
	"smsg/store"
)

var (
	ErrDuplicateUser    = errors.New("username already registered")
	ErrWrongCredentials = errors.New("wrong username or password")
	ErrAlreadyOnline    = errors.New("already logged in")
)

// Registry is the account registry. Accounts are never removed while the
// process runs; the slice keeps insertion order for roster listings.
type Registry struct {
	mu       sync.RWMutex
	accounts []*models.Account
	index    map[string]*models.Account
	store    store.Store // nil disables persistence
}

// New creates a registry backed by st. A nil store keeps accounts purely
// in memory.
func New(st store.Store) *Registry {
	return &Registry{
		index: make(map[string]*models.Account),
		store: st,
	}
}

// Seed loads every stored record as an offline account. Records whose
// username is already present are skipped, since the store is append-only
// and never deduplicated.
func (r *Registry) Seed() error {
	if r.store == nil {
		return nil
	}

	records, err := r.store.LoadAll()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		if _, ok := r.index[rec.Username]; ok {
			continue
		}
		acc := &models.Account{
			Username:       rec.Username,
			CredentialHash: rec.CredentialHash,
			Presence:       models.PresenceOffline,
		}
		r.accounts = append(r.accounts, acc)
		r.index[acc.Username] = acc
	}
	return nil
}

// Register creates a new account and logs it in. Usernames are compared
// exactly, case included.
func (r *Registry) Register(username, credentialHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[username]; ok {
		return ErrDuplicateUser
	}

	acc := &models.Account{
		Username:       username,
		CredentialHash: credentialHash,
		Presence:       models.PresenceOnline,
	}
	r.accounts = append(r.accounts, acc)
	r.index[username] = acc

	if r.store != nil {
		// The account is already registered at this point; a persistence
		// failure loses the record across restarts but must not fail the
		// session that created it.
		if err := r.store.Append(username, credentialHash); err != nil {
			log.Printf("Failed to persist account %s: %v", username, err)
		}
	}
	return nil
}

// Login authenticates by exact credential match and marks the account
// online. An account that is already online is rejected before credentials
// are checked.
func (r *Registry) Login(username, credentialHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.index[username]
	if !ok {
		return ErrWrongCredentials
	}
	if acc.Presence == models.PresenceOnline {
		return ErrAlreadyOnline
	}
	if acc.CredentialHash != credentialHash {
		return ErrWrongCredentials
	}

	acc.Presence = models.PresenceOnline
	return nil
}

// Logout marks the account offline. Idempotent; unknown usernames are a
// no-op.
func (r *Registry) Logout(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if acc, ok := r.index[username]; ok {
		acc.Presence = models.PresenceOffline
	}
}

// SetPresence overwrites the account's presence without validating the
// current state.
func (r *Registry) SetPresence(username string, p models.Presence) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if acc, ok := r.index[username]; ok {
		acc.Presence = p
	}
}

// Presence reports the account's current presence.
func (r *Registry) Presence(username string) (models.Presence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.index[username]
	if !ok {
		return models.PresenceOffline, false
	}
	return acc.Presence, true
}

// ListOthers returns every account except the excluded one, in registration
// order, with presence codes.
func (r *Registry) ListOthers(excluding string) []models.UserStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []models.UserStatus
	for _, acc := range r.accounts {
		if acc.Username == excluding {
			continue
		}
		list = append(list, models.UserStatus{Username: acc.Username, Code: acc.Presence.Code()})
	}
	return list
}

// Count returns the number of registered accounts.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

// Truncate clears the backing store. The in-memory account list is not
// touched; accounts live for the process lifetime.
func (r *Registry) Truncate() error {
	if r.store == nil {
		return nil
	}
	return r.store.Truncate()
}
