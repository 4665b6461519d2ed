//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	oa "github.com/panyam/authsdk"
)

// NewModels returns Datastore backed stores in namespace.
func NewModels(client *datastore.Client, namespace string, withEmails, withSecrets bool) *oa.Models {
	m := &oa.Models{Users: NewUserStore(client, namespace)}
	if withEmails {
		m.Emails = NewEmailStore(client, namespace)
	}
	if withSecrets {
		m.Secrets = NewSecretStore(client, namespace)
	}
	return m
}

// Store persists records of type T as Datastore entities of type E.
type Store[T any, P interface {
	*T
	oa.Entity
}, E any] struct {
	client    *datastore.Client
	namespace string
	kind      string

	// userField names the indexed property holding the owning user id,
	// empty when the entity key is the user id itself
	userField string

	toEntity   func(*T) *E
	fromEntity func(*E) *T
}

// NewUserStore creates a Datastore backed user store.
func NewUserStore(client *datastore.Client, namespace string) *Store[oa.User, *oa.User, UserEntity] {
	return &Store[oa.User, *oa.User, UserEntity]{
		client: client, namespace: namespace, kind: KindUser,
		toEntity:   userToEntity,
		fromEntity: (*UserEntity).toUser,
	}
}

// NewEmailStore creates a Datastore backed email store.
func NewEmailStore(client *datastore.Client, namespace string) *Store[oa.EmailRecord, *oa.EmailRecord, EmailEntity] {
	return &Store[oa.EmailRecord, *oa.EmailRecord, EmailEntity]{
		client: client, namespace: namespace, kind: KindEmail, userField: "user_id",
		toEntity:   emailToEntity,
		fromEntity: (*EmailEntity).toEmailRecord,
	}
}

// NewSecretStore creates a Datastore backed secret store.
func NewSecretStore(client *datastore.Client, namespace string) *Store[oa.SecretRecord, *oa.SecretRecord, SecretEntity] {
	return &Store[oa.SecretRecord, *oa.SecretRecord, SecretEntity]{
		client: client, namespace: namespace, kind: KindSecret,
		toEntity:   secretToEntity,
		fromEntity: (*SecretEntity).toSecretRecord,
	}
}

func (s *Store[T, P, E]) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *Store[T, P, E]) recordKey(name string) *datastore.Key {
	return s.namespacedKey(s.kind, name)
}

func (s *Store[T, P, E]) uniqueKey(uk string) *datastore.Key {
	return s.namespacedKey(KindUniqueKey, s.kind+"|"+uk)
}

// getter is satisfied by both *datastore.Client (through clientGetter) and
// *datastore.Transaction.
type getter interface {
	Get(key *datastore.Key, dst any) error
}

type clientGetter struct {
	ctx    context.Context
	client *datastore.Client
}

func (g clientGetter) Get(key *datastore.Key, dst any) error {
	return g.client.Get(g.ctx, key, dst)
}

func (s *Store[T, P, E]) load(g getter, name string) (*T, error) {
	var entity E
	if err := g.Get(s.recordKey(name), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, nil
		}
		return nil, err
	}
	return s.fromEntity(&entity), nil
}

func (s *Store[T, P, E]) owner(g getter, uk string) (string, error) {
	var entity UniqueKeyEntity
	if err := g.Get(s.uniqueKey(uk), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return "", nil
		}
		return "", err
	}
	return entity.Owner, nil
}

func (s *Store[T, P, E]) FindOne(ctx context.Context, f oa.Filter) (*T, error) {
	if f.IsEmpty() {
		return nil, nil
	}
	g := clientGetter{ctx: ctx, client: s.client}

	// direct keys first, then unique key reservations
	names := []string{f.UserRef, f.Username, f.Email}
	for _, uk := range []string{"username:" + f.Username, "email:" + f.Email} {
		if uk == "username:" || uk == "email:" {
			continue
		}
		owner, err := s.owner(g, uk)
		if err != nil {
			return nil, err
		}
		names = append(names, owner)
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		rec, err := s.load(g, name)
		if err != nil {
			return nil, err
		}
		if rec != nil && P(rec).Matches(f) {
			return rec, nil
		}
	}

	if f.UserRef == "" || s.userField == "" {
		return nil, nil
	}
	query := datastore.NewQuery(s.kind).
		FilterField(s.userField, "=", f.UserRef).
		Limit(1)
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}
	it := s.client.Run(ctx, query)
	var entity E
	_, err := it.Next(&entity)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.fromEntity(&entity), nil
}

// reserve checks and writes the unique key reservations of rec within tx
func (s *Store[T, P, E]) reserve(tx *datastore.Transaction, rec *T) error {
	key := P(rec).Key()
	for _, uk := range P(rec).UniqueKeys() {
		owner, err := s.owner(tx, uk)
		if err != nil {
			return err
		}
		if owner == key {
			continue
		}
		if owner != "" {
			return fmt.Errorf("%w: %s", oa.ErrDuplicateRecord, uk)
		}
		if _, err := tx.Put(s.uniqueKey(uk), &UniqueKeyEntity{
			Kind:      s.kind,
			Owner:     key,
			CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// maxTxAttempts bounds how often a transaction is retried after
// datastore.ErrConcurrentTransaction.
const maxTxAttempts = 20

func (s *Store[T, P, E]) Create(ctx context.Context, record *T) (*T, error) {
	name := P(record).Key()
	if name == "" {
		return nil, fmt.Errorf("record key required")
	}
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		existing, err := s.load(tx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", oa.ErrDuplicateRecord, name)
		}
		if err := s.reserve(tx, record); err != nil {
			return err
		}
		_, err = tx.Put(s.recordKey(name), s.toEntity(record))
		return err
	}, datastore.MaxAttempts(maxTxAttempts))
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Store[T, P, E]) UpdateOne(ctx context.Context, f oa.Filter, update func(*T)) (*T, error) {
	current, err := s.FindOne(ctx, f)
	if err != nil || current == nil {
		return nil, err
	}
	name := P(current).Key()

	var out *T
	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		rec, err := s.load(tx, name)
		if err != nil || rec == nil {
			return err
		}
		before := P(rec).UniqueKeys()
		update(rec)
		if P(rec).Key() != name {
			return fmt.Errorf("update may not change the record key")
		}
		if err := s.reserve(tx, rec); err != nil {
			return err
		}
		after := P(rec).UniqueKeys()
		for _, uk := range before {
			if !contains(after, uk) {
				if err := tx.Delete(s.uniqueKey(uk)); err != nil {
					return err
				}
			}
		}
		if _, err := tx.Put(s.recordKey(name), s.toEntity(rec)); err != nil {
			return err
		}
		out = rec
		return nil
	}, datastore.MaxAttempts(maxTxAttempts))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
