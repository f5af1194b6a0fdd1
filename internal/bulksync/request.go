package bulksync

import (
	"fmt"
	"strings"
)

// EntityType selects the strategy used to check, fetch and persist ids.
type EntityType string

const (
	EntityMovie   EntityType = "movie"
	EntitySeries  EntityType = "series"
	EntityGeneric EntityType = "generic-bulk"
)

// DefaultBatchSize is used when a request leaves the batch size unset.
const DefaultBatchSize = 5

func (t EntityType) Valid() bool {
	switch t {
	case EntityMovie, EntitySeries, EntityGeneric:
		return true
	}
	return false
}

// ParseEntityType accepts the canonical names plus the plural forms the
// admin UI sends.
func ParseEntityType(s string) (EntityType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie", "movies":
		return EntityMovie, nil
	case "series", "tv", "tv_series":
		return EntitySeries, nil
	case "generic-bulk", "generic", "bulk":
		return EntityGeneric, nil
	}
	return "", fmt.Errorf("%w: unknown entity type %q", ErrInvalidRequest, s)
}

// Request is one submitted synchronization run. Build it with NewRequest;
// it is not modified afterwards.
type Request struct {
	EntityType  EntityType `json:"entity_type"`
	EntityIDs   []int64    `json:"entity_ids"`
	ProgressKey string     `json:"progress_key"`
	BatchSize   int        `json:"batch_size"`
}

// NewRequest normalizes and validates a submission: duplicate ids are
// dropped keeping the first occurrence, and a zero batch size becomes
// DefaultBatchSize.
func NewRequest(entityType EntityType, ids []int64, progressKey string, batchSize int) (Request, error) {
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}
	req := Request{
		EntityType:  entityType,
		EntityIDs:   dedupe(ids),
		ProgressKey: strings.TrimSpace(progressKey),
		BatchSize:   batchSize,
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

func (r Request) Validate() error {
	if !r.EntityType.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidRequest, r.EntityType)
	}
	if r.ProgressKey == "" {
		return fmt.Errorf("%w: progress key is required", ErrInvalidRequest)
	}
	if r.BatchSize < 1 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidRequest, r.BatchSize)
	}
	seen := make(map[int64]struct{}, len(r.EntityIDs))
	for _, id := range r.EntityIDs {
		if id <= 0 {
			return fmt.Errorf("%w: entity id must be positive, got %d", ErrInvalidRequest, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate entity id %d", ErrInvalidRequest, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func dedupe(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
