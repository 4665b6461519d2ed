// Package memory provides an in-process implementation of authsdk.Store.
// It is intended for tests, demos and single instance deployments where
// losing records on restart is acceptable.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	oa "github.com/panyam/authsdk"
)

// Store keeps records of one kind in a map keyed by Entity.Key and enforces
// Entity.UniqueKeys across them.
type Store[T any, P interface {
	*T
	oa.Entity
}] struct {
	mu      sync.RWMutex
	records map[string]T
	unique  map[string]string // unique key -> primary key
}

// New creates an empty store, e.g. memory.New[authsdk.User]().
func New[T any, P interface {
	*T
	oa.Entity
}]() *Store[T, P] {
	return &Store[T, P]{
		records: make(map[string]T),
		unique:  make(map[string]string),
	}
}

// NewModels returns memory stores for users and, when requested, for
// email and secret records.
func NewModels(withEmails, withSecrets bool) *oa.Models {
	m := &oa.Models{Users: New[oa.User]()}
	if withEmails {
		m.Emails = New[oa.EmailRecord]()
	}
	if withSecrets {
		m.Secrets = New[oa.SecretRecord]()
	}
	return m
}

func clone[T any](rec *T) *T {
	if c, ok := any(rec).(interface{ Clone() *T }); ok {
		return c.Clone()
	}
	out := *rec
	return &out
}

// find returns the primary key of the first match in key order
func (s *Store[T, P]) find(filter oa.Filter) (string, bool) {
	if filter.IsEmpty() {
		return "", false
	}
	for _, k := range slices.Sorted(maps.Keys(s.records)) {
		rec := s.records[k]
		if P(&rec).Matches(filter) {
			return k, true
		}
	}
	return "", false
}

func (s *Store[T, P]) FindOne(_ context.Context, filter oa.Filter) (*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.find(filter)
	if !ok {
		return nil, nil
	}
	rec := s.records[k]
	return clone(&rec), nil
}

func (s *Store[T, P]) Create(_ context.Context, record *T) (*T, error) {
	key := P(record).Key()
	if key == "" {
		return nil, fmt.Errorf("record key required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[key]; exists {
		return nil, fmt.Errorf("%w: %s", oa.ErrDuplicateRecord, key)
	}
	for _, uk := range P(record).UniqueKeys() {
		if _, taken := s.unique[uk]; taken {
			return nil, fmt.Errorf("%w: %s", oa.ErrDuplicateRecord, uk)
		}
	}

	stored := clone(record)
	s.records[key] = *stored
	for _, uk := range P(stored).UniqueKeys() {
		s.unique[uk] = key
	}
	return clone(stored), nil
}

func (s *Store[T, P]) UpdateOne(_ context.Context, filter oa.Filter, update func(*T)) (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.find(filter)
	if !ok {
		return nil, nil
	}

	current := s.records[k]
	next := clone(&current)
	update(next)
	if P(next).Key() != k {
		return nil, fmt.Errorf("update may not change the record key")
	}
	for _, uk := range P(next).UniqueKeys() {
		if owner, taken := s.unique[uk]; taken && owner != k {
			return nil, fmt.Errorf("%w: %s", oa.ErrDuplicateRecord, uk)
		}
	}

	for _, uk := range P(&current).UniqueKeys() {
		delete(s.unique, uk)
	}
	s.records[k] = *next
	for _, uk := range P(next).UniqueKeys() {
		s.unique[uk] = k
	}
	return clone(next), nil
}

// Len returns the number of stored records.
func (s *Store[T, P]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
