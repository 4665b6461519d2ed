// Package redis stores authsdk records in Redis as JSON strings.
//
// Each record lives under {prefix}{kind}:rec:{key}. Every unique key of a
// record (username, email, ...) is reserved with SETNX under
// {prefix}{kind}:idx:{unique key} and points back to the record key, which
// gives O(1) lookups by identifier and makes Redis enforce uniqueness across
// application instances.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	oa "github.com/panyam/authsdk"
)

// Config captures connection options.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string // defaults to "authsdk:"
}

// Connect opens a client and pings the server.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// NewModels returns redis backed stores sharing client.
func NewModels(client *goredis.Client, prefix string, withEmails, withSecrets bool) *oa.Models {
	m := &oa.Models{Users: NewStore[oa.User](client, prefix, "users")}
	if withEmails {
		m.Emails = NewStore[oa.EmailRecord](client, prefix, "user_emails")
	}
	if withSecrets {
		m.Secrets = NewStore[oa.SecretRecord](client, prefix, "user_secrets")
	}
	return m
}

// Store persists records of one kind.
type Store[T any, P interface {
	*T
	oa.Entity
}] struct {
	client *goredis.Client
	prefix string
}

func NewStore[T any, P interface {
	*T
	oa.Entity
}](client *goredis.Client, prefix, kind string) *Store[T, P] {
	if prefix == "" {
		prefix = "authsdk:"
	}
	return &Store[T, P]{client: client, prefix: prefix + kind + ":"}
}

func (s *Store[T, P]) recKey(key string) string { return s.prefix + "rec:" + key }
func (s *Store[T, P]) idxKey(uk string) string  { return s.prefix + "idx:" + uk }

// getter is the subset of commands shared by *goredis.Client and *goredis.Tx
type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func (s *Store[T, P]) get(ctx context.Context, c getter, key string) (*T, error) {
	raw, err := c.Get(ctx, s.recKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var rec T
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("corrupt record %s: %w", key, err)
	}
	return &rec, nil
}

// candidates lists record keys that may satisfy f: each filter value as a
// direct key and as a unique index entry.
func (s *Store[T, P]) candidates(ctx context.Context, f oa.Filter) ([]string, error) {
	var keys []string
	try := func(direct string, uks ...string) error {
		if direct == "" {
			return nil
		}
		keys = append(keys, direct)
		for _, uk := range uks {
			owner, err := s.client.Get(ctx, s.idxKey(uk)).Result()
			if errors.Is(err, goredis.Nil) {
				continue
			}
			if err != nil {
				return err
			}
			keys = append(keys, owner)
		}
		return nil
	}
	if err := try(f.UserRef, "user:"+f.UserRef); err != nil {
		return nil, err
	}
	if err := try(f.Username, "username:"+f.Username); err != nil {
		return nil, err
	}
	if err := try(f.Email, "email:"+f.Email); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store[T, P]) FindOne(ctx context.Context, f oa.Filter) (*T, error) {
	if f.IsEmpty() {
		return nil, nil
	}
	keys, err := s.candidates(ctx, f)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		rec, err := s.get(ctx, s.client, key)
		if err != nil {
			return nil, err
		}
		if rec != nil && P(rec).Matches(f) {
			return rec, nil
		}
	}
	if f.UserRef == "" {
		return nil, nil
	}
	// user references are not indexed for every kind
	return s.scan(ctx, f)
}

func (s *Store[T, P]) scan(ctx context.Context, f oa.Filter) (*T, error) {
	var cursor uint64
	pattern := s.prefix + "rec:*"
	for {
		res, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range res {
			rec, err := s.get(ctx, s.client, strings.TrimPrefix(k, s.prefix+"rec:"))
			if err != nil {
				return nil, err
			}
			if rec != nil && P(rec).Matches(f) {
				return rec, nil
			}
		}
		if next == 0 {
			return nil, nil
		}
		cursor = next
	}
}

// reserve claims the unique keys uks for key and returns the ones it newly
// claimed. If any is held by another record nothing stays claimed.
func (s *Store[T, P]) reserve(ctx context.Context, key string, uks []string) ([]string, error) {
	var claimed []string
	for _, uk := range uks {
		ok, err := s.client.SetNX(ctx, s.idxKey(uk), key, 0).Result()
		if err != nil {
			s.release(ctx, claimed)
			return nil, err
		}
		if !ok {
			owner, _ := s.client.Get(ctx, s.idxKey(uk)).Result()
			if owner == key {
				continue
			}
			s.release(ctx, claimed)
			return nil, fmt.Errorf("%w: %s", oa.ErrDuplicateRecord, uk)
		}
		claimed = append(claimed, uk)
	}
	return claimed, nil
}

func (s *Store[T, P]) release(ctx context.Context, uks []string) {
	for _, uk := range uks {
		s.client.Del(ctx, s.idxKey(uk))
	}
}

func (s *Store[T, P]) Create(ctx context.Context, record *T) (*T, error) {
	key := P(record).Key()
	if key == "" {
		return nil, fmt.Errorf("record key required")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	claimed, err := s.reserve(ctx, key, P(record).UniqueKeys())
	if err != nil {
		return nil, err
	}
	ok, err := s.client.SetNX(ctx, s.recKey(key), data, 0).Result()
	if err != nil || !ok {
		s.release(ctx, claimed)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", oa.ErrDuplicateRecord, key)
	}
	return s.get(ctx, s.client, key)
}

// maxUpdateAttempts bounds the optimistic retries of UpdateOne when another
// client writes the record between WATCH and EXEC.
const maxUpdateAttempts = 100

func (s *Store[T, P]) UpdateOne(ctx context.Context, f oa.Filter, update func(*T)) (*T, error) {
	current, err := s.FindOne(ctx, f)
	if err != nil || current == nil {
		return nil, err
	}
	key := P(current).Key()

	var out *T
	txf := func(tx *goredis.Tx) error {
		rec, err := s.get(ctx, tx, key)
		if err != nil || rec == nil {
			out = nil
			return err
		}
		before := P(rec).UniqueKeys()
		update(rec)
		if P(rec).Key() != key {
			return fmt.Errorf("update may not change the record key")
		}
		after := P(rec).UniqueKeys()
		claimed, err := s.reserve(ctx, key, after)
		if err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			s.release(ctx, claimed)
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, s.recKey(key), data, 0)
			for _, uk := range before {
				if !contains(after, uk) {
					pipe.Del(ctx, s.idxKey(uk))
				}
			}
			return nil
		})
		if err != nil {
			s.release(ctx, claimed)
			return err
		}
		out = rec
		return nil
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err = s.client.Watch(ctx, txf, s.recKey(key))
		if !errors.Is(err, goredis.TxFailedErr) {
			break
		}
	}
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
