package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketProgress = []byte("progress")

// boltEnvelope wraps a stored value with its expiry.
type boltEnvelope struct {
	ExpiresAt time.Time `json:"expires_at"`
	Value     []byte    `json:"value"`
}

// BoltStore persists entries in a single bbolt file. Expired entries are
// hidden from Get and removed by Sweep.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketProgress)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db, now: time.Now}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Get(_ context.Context, key string) ([]byte, error) {
	var env boltEnvelope
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketProgress).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &env)
	})
	if err != nil {
		return nil, fmt.Errorf("bolt get %s: %w", key, err)
	}
	if !found || s.expired(env) {
		return nil, ErrNotFound
	}
	return env.Value, nil
}

func (s *BoltStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	env := boltEnvelope{Value: value}
	if ttl > 0 {
		env.ExpiresAt = s.now().Add(ttl)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProgress).Put([]byte(key), data)
	})
}

func (s *BoltStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProgress).Delete([]byte(key))
	})
}

// Sweep deletes every expired entry.
func (s *BoltStore) Sweep(_ context.Context) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProgress)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var env boltEnvelope
			if err := json.Unmarshal(v, &env); err != nil || s.expired(env) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func (s *BoltStore) expired(env boltEnvelope) bool {
	return !env.ExpiresAt.IsZero() && !s.now().Before(env.ExpiresAt)
}
