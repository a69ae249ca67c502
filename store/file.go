package store

import (
	"bufio"
	"os"
	"strings"
	"sync"
)

// FileStore keeps accounts in a plain-text file, one "username;hash" line
// per account. The file is only ever appended to; malformed lines are
// skipped on load rather than rejected.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) LoadAll() ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), ";")
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		records = append(records, Record{Username: parts[0], CredentialHash: parts[1]})
	}
	return records, scanner.Err()
}

func (f *FileStore) Append(username, credentialHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = file.WriteString(username + ";" + credentialHash + "\n")
	return err
}

func (f *FileStore) Truncate() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Truncate(f.path, 0)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *FileStore) Close() error {
	return nil
}
