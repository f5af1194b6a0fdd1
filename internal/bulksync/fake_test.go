package bulksync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RebootGod/catalogsync/internal/kvstore"
)

type fakeMeta struct{ title string }

func (m fakeMeta) DisplayTitle() string { return m.title }

// fakeStrategy is an in-memory catalog with scripted failures.
type fakeStrategy struct {
	mu         sync.Mutex
	existing   map[int64]bool
	fetchErr   map[int64]error
	persistErr map[int64]error
	panicOn    map[int64]bool
	onFetch    func(id int64) error
	fetched    []int64
}

func newFakeStrategy() *fakeStrategy {
	return &fakeStrategy{
		existing:   map[int64]bool{},
		fetchErr:   map[int64]error{},
		persistErr: map[int64]error{},
		panicOn:    map[int64]bool{},
	}
}

func (f *fakeStrategy) Exists(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[id], nil
}

func (f *fakeStrategy) Fetch(_ context.Context, id int64) (Metadata, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, id)
	panics := f.panicOn[id]
	err := f.fetchErr[id]
	hook := f.onFetch
	f.mu.Unlock()

	if panics {
		panic("boom")
	}
	if hook != nil {
		if herr := hook(id); herr != nil {
			return nil, herr
		}
	}
	if err != nil {
		return nil, err
	}
	return fakeMeta{title: fmt.Sprintf("Title %d", id)}, nil
}

func (f *fakeStrategy) Persist(_ context.Context, id int64, md Metadata) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.persistErr[id]; err != nil {
		return "", err
	}
	f.existing[id] = true
	return md.DisplayTitle(), nil
}

// recordingPublisher keeps a copy of every published record.
type recordingPublisher struct {
	mu      sync.Mutex
	records []Record
}

func (p *recordingPublisher) PublishProgress(rec *Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *rec
	cp.CurrentlyProcessingIDs = append([]int64(nil), rec.CurrentlyProcessingIDs...)
	cp.Errors = append([]ItemError(nil), rec.Errors...)
	p.records = append(p.records, cp)
}

func (p *recordingPublisher) snapshot() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Record(nil), p.records...)
}

func noSleep(context.Context, time.Duration) error { return nil }

// flakyStore fails the first Put whose value matches failOn.
type flakyStore struct {
	kvstore.Store
	mu      sync.Mutex
	failOn  func(value []byte) bool
	tripped bool
}

func (s *flakyStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	trip := !s.tripped && s.failOn(value)
	if trip {
		s.tripped = true
	}
	s.mu.Unlock()
	if trip {
		return errors.New("redis: connection reset")
	}
	return s.Store.Put(ctx, key, value, ttl)
}
