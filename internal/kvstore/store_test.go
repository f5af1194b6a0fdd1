package kvstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestStores(t *testing.T) (map[string]Store, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}

	mem := NewMemoryStore()
	mem.now = c.now

	bs, err := NewBoltStore(filepath.Join(t.TempDir(), "progress.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })
	bs.now = c.now

	return map[string]Store{"memory": mem, "bolt": bs}, c
}

func TestStoreRoundTrip(t *testing.T) {
	stores, _ := newTestStores(t)
	ctx := context.Background()

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put(ctx, "k", []byte(`{"a":1}`), time.Hour))
			got, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.JSONEq(t, `{"a":1}`, string(got))

			require.NoError(t, s.Put(ctx, "k", []byte(`{"a":2}`), time.Hour))
			got, err = s.Get(ctx, "k")
			require.NoError(t, err)
			assert.JSONEq(t, `{"a":2}`, string(got))

			require.NoError(t, s.Delete(ctx, "k"))
			_, err = s.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreExpiry(t *testing.T) {
	stores, c := newTestStores(t)
	ctx := context.Background()

	for _, s := range stores {
		require.NoError(t, s.Put(ctx, "short", []byte("x"), time.Minute))
		require.NoError(t, s.Put(ctx, "long", []byte("y"), time.Hour))
		require.NoError(t, s.Put(ctx, "forever", []byte("z"), 0))
	}

	c.t = c.t.Add(2 * time.Minute)

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "short")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = s.Get(ctx, "long")
			assert.NoError(t, err)

			sw, ok := s.(Sweeper)
			require.True(t, ok)
			n, err := sw.Sweep(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			_, err = s.Get(ctx, "forever")
			assert.NoError(t, err)
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	buf := []byte("abc")
	require.NoError(t, s.Put(ctx, "k", buf, time.Hour))
	buf[0] = 'z'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	got[1] = 'q'
	again, _ := s.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}
