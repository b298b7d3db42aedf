// Package bulk fans one operation out to many devices. Each device runs as an
// independent task that always yields exactly one Outcome; the Dispatcher
// bounds how many run at once and waits for all of them; Aggregate orders the
// outcomes into a deterministic Report.
package bulk

import (
	"time"

	"github.com/newtron-network/ncbulk/pkg/operation"
)

// FailureCategory classifies why a task did not take effect.
type FailureCategory string

const (
	CategoryNone     FailureCategory = ""
	CategoryConnect  FailureCategory = "connect"
	CategoryAuth     FailureCategory = "auth"
	CategoryTimeout  FailureCategory = "timeout"
	CategoryRejected FailureCategory = "rejected"
	CategoryProtocol FailureCategory = "protocol"
	CategoryCanceled FailureCategory = "canceled"
	CategoryInternal FailureCategory = "internal"
)

// Outcome is the result of one device task. Either Succeeded is true, or
// Reason is non-empty and the operation did not take effect on the device.
type Outcome struct {
	Device    string          `json:"device"`
	Succeeded bool            `json:"succeeded"`
	Payload   []byte          `json:"-"`
	Reason    string          `json:"reason,omitempty"`
	Category  FailureCategory `json:"category,omitempty"`
	Duration  time.Duration   `json:"duration"`
}

// Summary counts the outcomes of a report.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Report is the aggregated result of one batch, ordered by device.
type Report struct {
	ID          string                `json:"id,omitempty"`
	GeneratedAt time.Time             `json:"generated_at"`
	Operation   *operation.Descriptor `json:"operation"`
	Results     []Outcome             `json:"results"`
	Summary     Summary               `json:"summary"`
}

// Failed returns the outcomes that did not succeed, in report order.
func (r *Report) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Results {
		if !o.Succeeded {
			failed = append(failed, o)
		}
	}
	return failed
}

func succeeded(device string, payload []byte, d time.Duration) Outcome {
	return Outcome{Device: device, Succeeded: true, Payload: payload, Duration: d}
}

func failed(device string, cat FailureCategory, reason string, d time.Duration) Outcome {
	if reason == "" {
		reason = string(cat)
	}
	return Outcome{Device: device, Category: cat, Reason: reason, Duration: d}
}
