package bulksync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RebootGod/catalogsync/internal/kvstore"
)

// DefaultProgressTTL bounds how long a record outlives its last write.
const DefaultProgressTTL = 2 * time.Hour

// Records and cancel flags live under separate prefixes so no caller-chosen
// progress key can address the other kind of entry.
const (
	recordPrefix = "progress:"
	cancelPrefix = "cancel:"
)

func recordKey(key string) string { return recordPrefix + key }

func cancelKey(key string) string { return cancelPrefix + key }

// Publisher receives every record the tracker writes.
type Publisher interface {
	PublishProgress(rec *Record)
}

// Tracker owns the read-modify-write cycle of progress records. Each key
// has exactly one writing run, so no compare-and-swap is needed.
type Tracker struct {
	store     kvstore.Store
	ttl       time.Duration
	publisher Publisher
	now       func() time.Time
}

func NewTracker(store kvstore.Store, ttl time.Duration, publisher Publisher) *Tracker {
	if ttl <= 0 {
		ttl = DefaultProgressTTL
	}
	return &Tracker{store: store, ttl: ttl, publisher: publisher, now: time.Now}
}

// Initialize writes the first record of a run.
func (t *Tracker) Initialize(ctx context.Context, key string, entityType EntityType, total, totalBatches, batchSize int) (*Record, error) {
	now := t.now()
	rec := &Record{
		ProgressKey:  key,
		EntityType:   entityType,
		Total:        total,
		TotalBatches: totalBatches,
		BatchSize:    batchSize,
		Status:       StatusProcessing,
		StartedAt:    now,
	}
	return rec, t.save(ctx, rec)
}

// RecordBatchStart exposes the in-flight ids before the batch is processed.
func (t *Tracker) RecordBatchStart(ctx context.Context, key string, batchIndex int, ids []int64) error {
	rec, err := t.Get(ctx, key)
	if err != nil {
		return err
	}
	rec.CurrentBatch = batchIndex
	rec.CurrentlyProcessingIDs = append([]int64(nil), ids...)
	return t.save(ctx, rec)
}

// RecordBatchResult folds a finished (or partially finished) batch into
// the record.
func (t *Tracker) RecordBatchResult(ctx context.Context, key string, batchIndex int, res BatchResult) error {
	rec, err := t.Get(ctx, key)
	if err != nil {
		return err
	}
	rec.Success += res.Success
	rec.Failed += res.Failed
	rec.Skipped += res.Skipped
	rec.CurrentlyProcessingIDs = nil
	rec.appendErrors(batchIndex, res.Outcomes)
	return t.save(ctx, rec)
}

func (t *Tracker) MarkCompleted(ctx context.Context, key string) error {
	rec, err := t.Get(ctx, key)
	if err != nil {
		return err
	}
	rec.CurrentlyProcessingIDs = nil
	rec.Completed = true
	rec.Status = StatusCompleted
	return t.save(ctx, rec)
}

// MarkFailed terminates the record. Ids that never reached an outcome are
// counted as failed so the totals still add up. A missing record is
// created, which covers runs that fail before Initialize.
func (t *Tracker) MarkFailed(ctx context.Context, key string, entityType EntityType, total int, message string) error {
	rec, err := t.Get(ctx, key)
	if errors.Is(err, ErrRecordNotFound) {
		now := t.now()
		rec = &Record{ProgressKey: key, EntityType: entityType, Total: total, StartedAt: now}
	} else if err != nil {
		return err
	}
	rec.recompute()
	rec.Failed += rec.Waiting
	rec.CurrentlyProcessingIDs = nil
	rec.Completed = true
	rec.Status = StatusFailed
	rec.ErrorMessage = message
	return t.save(ctx, rec)
}

// Get returns the current record for key.
func (t *Tracker) Get(ctx context.Context, key string) (*Record, error) {
	data, err := t.store.Get(ctx, recordKey(key))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load progress %s: %w", key, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode progress %s: %w", key, err)
	}
	return &rec, nil
}

// RequestCancel flags the run owning key to stop at its next batch
// boundary. The flag is a separate entry, not a record field, so the
// record keeps a single writer.
func (t *Tracker) RequestCancel(ctx context.Context, key string) error {
	return t.store.Put(ctx, cancelKey(key), []byte("1"), t.ttl)
}

func (t *Tracker) CancelRequested(ctx context.Context, key string) (bool, error) {
	_, err := t.store.Get(ctx, cancelKey(key))
	if errors.Is(err, kvstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ClearCancel drops a leftover cancel flag; called when a key is
// submitted again.
func (t *Tracker) ClearCancel(ctx context.Context, key string) error {
	return t.store.Delete(ctx, cancelKey(key))
}

func (t *Tracker) save(ctx context.Context, rec *Record) error {
	rec.recompute()
	rec.UpdatedAt = t.now()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode progress %s: %w", rec.ProgressKey, err)
	}
	if err := t.store.Put(ctx, recordKey(rec.ProgressKey), data, t.ttl); err != nil {
		return fmt.Errorf("save progress %s: %w", rec.ProgressKey, err)
	}
	if t.publisher != nil {
		t.publisher.PublishProgress(rec)
	}
	return nil
}
