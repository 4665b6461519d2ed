// Package fs stores authsdk records as JSON files, one file per record.
//
// # File Structure
//
//	{StoragePath}/
//	├── users/          # one file per user id
//	├── user_emails/    # one file per email address
//	└── user_secrets/   # one file per user id
//
// Lookups other than by primary key scan the directory, so this backend
// suits development and small installations. Writes go through a temp file
// and rename. Uniqueness is enforced per process; concurrent writers in
// different processes can still race.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	oa "github.com/panyam/authsdk"
)

// Store persists records of one kind under {StoragePath}/{Kind}.
type Store[T any, P interface {
	*T
	oa.Entity
}] struct {
	StoragePath string
	Kind        string

	mu sync.RWMutex
}

// NewStore creates a store for records of kind under storagePath.
func NewStore[T any, P interface {
	*T
	oa.Entity
}](storagePath, kind string) *Store[T, P] {
	return &Store[T, P]{StoragePath: storagePath, Kind: kind}
}

// NewModels returns file backed stores rooted at storagePath.
func NewModels(storagePath string, withEmails, withSecrets bool) *oa.Models {
	m := &oa.Models{Users: NewStore[oa.User](storagePath, "users")}
	if withEmails {
		m.Emails = NewStore[oa.EmailRecord](storagePath, "user_emails")
	}
	if withSecrets {
		m.Secrets = NewStore[oa.SecretRecord](storagePath, "user_secrets")
	}
	return m
}

func (s *Store[T, P]) dir() string {
	return filepath.Join(s.StoragePath, s.Kind)
}

func (s *Store[T, P]) path(key string) string {
	// PathEscape keeps keys such as emails readable while blocking traversal
	return filepath.Join(s.dir(), url.PathEscape(key)+".json")
}

func (s *Store[T, P]) read(path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec T
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt record %s: %w", path, err)
	}
	return &rec, nil
}

func (s *Store[T, P]) write(rec *T) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(s.path(P(rec).Key()), data, 0600)
}

// all loads every record in file name order
func (s *Store[T, P]) all() ([]*T, error) {
	entries, err := os.ReadDir(s.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || strings.HasPrefix(entry.Name(), ".tmp-") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	out := make([]*T, 0, len(names))
	for _, name := range names {
		rec, err := s.read(filepath.Join(s.dir(), name))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store[T, P]) findLocked(filter oa.Filter) (*T, error) {
	if filter.IsEmpty() {
		return nil, nil
	}
	records, err := s.all()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if P(rec).Matches(filter) {
			return rec, nil
		}
	}
	return nil, nil
}

func (s *Store[T, P]) FindOne(_ context.Context, filter oa.Filter) (*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(filter)
}

// conflict reports a unique key of rec already held by a different record
func (s *Store[T, P]) conflict(rec *T) (string, error) {
	wanted := map[string]bool{}
	for _, uk := range P(rec).UniqueKeys() {
		wanted[uk] = true
	}
	records, err := s.all()
	if err != nil {
		return "", err
	}
	for _, other := range records {
		if P(other).Key() == P(rec).Key() {
			continue
		}
		for _, uk := range P(other).UniqueKeys() {
			if wanted[uk] {
				return uk, nil
			}
		}
	}
	return "", nil
}

func (s *Store[T, P]) Create(_ context.Context, record *T) (*T, error) {
	key := P(record).Key()
	if key == "" {
		return nil, fmt.Errorf("record key required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path(key)); err == nil {
		return nil, fmt.Errorf("%w: %s", oa.ErrDuplicateRecord, key)
	}
	uk, err := s.conflict(record)
	if err != nil {
		return nil, err
	}
	if uk != "" {
		return nil, fmt.Errorf("%w: %s", oa.ErrDuplicateRecord, uk)
	}
	if err := s.write(record); err != nil {
		return nil, err
	}
	return s.read(s.path(key))
}

func (s *Store[T, P]) UpdateOne(_ context.Context, filter oa.Filter, update func(*T)) (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.findLocked(filter)
	if err != nil || rec == nil {
		return nil, err
	}
	key := P(rec).Key()
	update(rec)
	if P(rec).Key() != key {
		return nil, fmt.Errorf("update may not change the record key")
	}
	uk, err := s.conflict(rec)
	if err != nil {
		return nil, err
	}
	if uk != "" {
		return nil, fmt.Errorf("%w: %s", oa.ErrDuplicateRecord, uk)
	}
	if err := s.write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}
