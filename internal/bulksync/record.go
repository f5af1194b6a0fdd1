package bulksync

import (
	"math"
	"time"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// MaxStoredErrors caps Record.Errors; TotalErrorCount keeps the full count.
const MaxStoredErrors = 10

// ItemError is one entry of the trailing error log shown to admins.
type ItemError struct {
	ID      int64  `json:"id"`
	Batch   int    `json:"batch"`
	Message string `json:"message"`
}

// Record is the pollable progress of one run, stored under its progress key.
type Record struct {
	ProgressKey            string      `json:"progress_key"`
	EntityType             EntityType  `json:"entity_type"`
	Total                  int         `json:"total"`
	Processed              int         `json:"processed"`
	Success                int         `json:"success"`
	Failed                 int         `json:"failed"`
	Skipped                int         `json:"skipped"`
	Waiting                int         `json:"waiting"`
	CurrentBatch           int         `json:"current_batch"`
	TotalBatches           int         `json:"total_batches"`
	BatchSize              int         `json:"batch_size"`
	CurrentlyProcessingIDs []int64     `json:"currently_processing_ids"`
	Completed              bool        `json:"completed"`
	Status                 Status      `json:"status"`
	Percentage             float64     `json:"percentage"`
	ErrorMessage           string      `json:"error_message,omitempty"`
	Errors                 []ItemError `json:"errors"`
	TotalErrorCount        int         `json:"total_error_count"`
	StartedAt              time.Time   `json:"started_at"`
	UpdatedAt              time.Time   `json:"updated_at"`
}

// recompute refreshes the fields derived from the counters.
func (r *Record) recompute() {
	r.Processed = r.Success + r.Failed + r.Skipped
	r.Waiting = max(r.Total-r.Processed, 0)
	r.Percentage = Percentage(r.Processed, r.Total)
	if r.CurrentlyProcessingIDs == nil {
		r.CurrentlyProcessingIDs = []int64{}
	}
	if r.Errors == nil {
		r.Errors = []ItemError{}
	}
}

func (r *Record) appendErrors(batch int, outcomes []ItemOutcome) {
	for _, o := range outcomes {
		if o.Outcome != OutcomeFailed {
			continue
		}
		r.TotalErrorCount++
		r.Errors = append(r.Errors, ItemError{ID: o.ID, Batch: batch, Message: o.Error})
	}
	if n := len(r.Errors); n > MaxStoredErrors {
		r.Errors = append([]ItemError(nil), r.Errors[n-MaxStoredErrors:]...)
	}
}

// Percentage returns processed/total as a percentage rounded to one
// decimal, or 0 when total is 0.
func Percentage(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(processed)/float64(total)*1000) / 10
}
