package bulksync

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Metadata is the provider's description of one entry. The engine only
// needs a title for logging; strategies know the concrete type.
type Metadata interface {
	DisplayTitle() string
}

// Strategy checks, fetches and persists ids of one entity type.
//
// Errors returned by a strategy fail the current item only, unless they
// are marked with Fatal (abort the run) or Unavailable (counted towards
// the consecutive-unavailable limit).
type Strategy interface {
	Exists(ctx context.Context, id int64) (bool, error)
	Fetch(ctx context.Context, id int64) (Metadata, error)
	Persist(ctx context.Context, id int64, md Metadata) (string, error)
}

// Strategies maps each entity type to its strategy.
type Strategies map[EntityType]Strategy

type Outcome string

const (
	OutcomeSkipped Outcome = "skipped-exists"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// ItemOutcome is the terminal classification of one id within a batch.
type ItemOutcome struct {
	ID      int64   `json:"id"`
	Outcome Outcome `json:"outcome"`
	Title   string  `json:"title,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// BatchResult aggregates the outcomes of one batch.
type BatchResult struct {
	Success  int           `json:"success"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Outcomes []ItemOutcome `json:"outcomes"`
}

// Processed is the number of ids that reached an outcome.
func (r BatchResult) Processed() int {
	return r.Success + r.Failed + r.Skipped
}

func (r *BatchResult) add(o ItemOutcome) {
	switch o.Outcome {
	case OutcomeSuccess:
		r.Success++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// DefaultMaxConsecutiveUnavailable is how many items in a row may fail
// as unavailable before the collaborator is treated as unreachable.
const DefaultMaxConsecutiveUnavailable = 5

// Processor runs batches for a single job run. It is not safe for
// concurrent use; the unavailable streak carries across batches.
type Processor struct {
	strategies     Strategies
	maxUnavailable int
	streak         int
}

func NewProcessor(strategies Strategies, maxConsecutiveUnavailable int) *Processor {
	if maxConsecutiveUnavailable < 1 {
		maxConsecutiveUnavailable = DefaultMaxConsecutiveUnavailable
	}
	return &Processor{strategies: strategies, maxUnavailable: maxConsecutiveUnavailable}
}

// Process handles every id of batch in order. A non-nil error is always
// orchestration-level; the result then holds the ids handled before it.
func (p *Processor) Process(ctx context.Context, entityType EntityType, batch []int64) (BatchResult, error) {
	res := BatchResult{Outcomes: make([]ItemOutcome, 0, len(batch))}

	s, ok := p.strategies[entityType]
	if !ok {
		return res, Fatal(fmt.Errorf("no strategy registered for entity type %q", entityType))
	}

	for _, id := range batch {
		if err := ctx.Err(); err != nil {
			return res, Fatal(err)
		}
		out, err := p.processItem(ctx, s, entityType, id)
		if err != nil {
			return res, err
		}
		res.add(out)
	}
	return res, nil
}

func (p *Processor) processItem(ctx context.Context, s Strategy, entityType EntityType, id int64) (out ItemOutcome, fatal error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Sync: recovered panic on %s %d: %v", entityType, id, r)
			out = failedOutcome(entityType, id, "process", fmt.Errorf("panic: %v", r))
			fatal = nil
		}
	}()

	exists, err := s.Exists(ctx, id)
	if err != nil {
		return p.itemFailure(ctx, entityType, id, "existence check", err)
	}
	if exists {
		return ItemOutcome{ID: id, Outcome: OutcomeSkipped}, nil
	}

	md, err := s.Fetch(ctx, id)
	if err != nil {
		return p.itemFailure(ctx, entityType, id, "fetch", err)
	}

	title, err := s.Persist(ctx, id, md)
	if err != nil {
		return p.itemFailure(ctx, entityType, id, "persist", err)
	}

	p.streak = 0
	return ItemOutcome{ID: id, Outcome: OutcomeSuccess, Title: title}, nil
}

// itemFailure decides whether err stays local to the item or aborts the run.
func (p *Processor) itemFailure(ctx context.Context, entityType EntityType, id int64, stage string, err error) (ItemOutcome, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ItemOutcome{}, Fatal(ctxErr)
	}
	if errors.Is(err, ErrFatal) {
		return ItemOutcome{}, fmt.Errorf("%s %d: %s: %w", entityType, id, stage, err)
	}
	if errors.Is(err, ErrUnavailable) {
		p.streak++
		if p.streak >= p.maxUnavailable {
			return ItemOutcome{}, Fatal(fmt.Errorf("%d consecutive items unavailable, last %s %d: %w",
				p.streak, entityType, id, err))
		}
	} else {
		p.streak = 0
	}
	return failedOutcome(entityType, id, stage, err), nil
}

func failedOutcome(entityType EntityType, id int64, stage string, err error) ItemOutcome {
	return ItemOutcome{
		ID:      id,
		Outcome: OutcomeFailed,
		Error:   fmt.Sprintf("%s %d: %s: %v", entityType, id, stage, err),
	}
}
