// Package audit records the outcome of every device task as a JSON-lines
// event, so that who changed what, where, and when survives the run.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/newtron-network/ncbulk/pkg/bulk"
	"github.com/newtron-network/ncbulk/pkg/operation"
)

// Event is one device task of one batch.
type Event struct {
	ID        string               `json:"id"`
	Timestamp time.Time            `json:"timestamp"`
	BatchID   string               `json:"batch_id"`
	User      string               `json:"user"`
	Device    string               `json:"device"`
	Kind      operation.Kind       `json:"kind"`
	Operation string               `json:"operation"`
	Success   bool                 `json:"success"`
	Category  bulk.FailureCategory `json:"category,omitempty"`
	Error     string               `json:"error,omitempty"`
	Duration  time.Duration        `json:"duration"`
}

// Filter defines criteria for querying audit events. Zero fields match
// everything.
type Filter struct {
	BatchID     string
	Device      string
	User        string
	Kind        operation.Kind
	Category    bulk.FailureCategory
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates an event with a fresh ID and the current time.
func NewEvent(batchID, user, device string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		BatchID:   batchID,
		User:      user,
		Device:    device,
	}
}

// WithOperation records the batch operation.
func (e *Event) WithOperation(op *operation.Descriptor) *Event {
	if op != nil {
		e.Kind = op.Kind
		e.Operation = op.String()
	}
	return e
}

// WithOutcome copies the result of the device task.
func (e *Event) WithOutcome(o bulk.Outcome) *Event {
	e.Success = o.Succeeded
	e.Category = o.Category
	e.Error = o.Reason
	e.Duration = o.Duration
	return e
}

// Matches reports whether e satisfies every criterion of f. Limit and
// Offset are not considered.
func (f Filter) Matches(e *Event) bool {
	switch {
	case f.BatchID != "" && e.BatchID != f.BatchID,
		f.Device != "" && e.Device != f.Device,
		f.User != "" && e.User != f.User,
		f.Kind != "" && e.Kind != f.Kind,
		f.Category != "" && e.Category != f.Category,
		!f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime),
		!f.EndTime.IsZero() && e.Timestamp.After(f.EndTime),
		f.SuccessOnly && !e.Success,
		f.FailureOnly && e.Success:
		return false
	}
	return true
}
