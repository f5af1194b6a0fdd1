// Package kvstore holds the TTL-bound key-value stores that back sync
// progress records. Redis is the production backend; bbolt and memory
// exist for single-node deployments and tests.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is missing or expired.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a keyed store whose entries expire after the TTL given on the
// most recent Put.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Sweeper is implemented by stores that do not expire entries on their own.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}
