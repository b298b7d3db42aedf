package bulk

import (
	"bytes"
	"sort"
	"time"

	"github.com/newtron-network/ncbulk/pkg/operation"
)

// Aggregate orders outcomes by device and summarises them. The order depends
// only on the outcome set, never on arrival order: duplicate devices are
// tie-broken on the remaining fields. The input slice is not modified.
func Aggregate(op *operation.Descriptor, outcomes []Outcome, now time.Time) *Report {
	results := make([]Outcome, len(outcomes))
	copy(results, outcomes)
	sort.SliceStable(results, func(i, j int) bool {
		return outcomeLess(results[i], results[j])
	})

	s := Summary{Total: len(results)}
	for _, o := range results {
		if o.Succeeded {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}

	return &Report{
		GeneratedAt: now,
		Operation:   op,
		Results:     results,
		Summary:     s,
	}
}

func outcomeLess(a, b Outcome) bool {
	if a.Device != b.Device {
		return a.Device < b.Device
	}
	if a.Succeeded != b.Succeeded {
		return a.Succeeded
	}
	if a.Category != b.Category {
		return a.Category < b.Category
	}
	if a.Reason != b.Reason {
		return a.Reason < b.Reason
	}
	if c := bytes.Compare(a.Payload, b.Payload); c != 0 {
		return c < 0
	}
	return a.Duration < b.Duration
}
