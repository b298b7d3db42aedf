package cli

import (
	"fmt"
	"io"

	"github.com/newtron-network/ncbulk/pkg/bulk"
)

// PrintSummary writes the per-device result table of r followed by totals.
func PrintSummary(w io.Writer, r *bulk.Report) {
	fmt.Fprintln(w)
	t := NewTableTo(w, "DEVICE", "STATUS", "CATEGORY", "DURATION", "REASON")
	for _, o := range r.Results {
		category := string(o.Category)
		if category == "" {
			category = "-"
		}
		t.Row(o.Device, Status(o.Succeeded), category, Duration(o.Duration), Truncate(o.Reason, 100))
	}
	t.Flush()

	s := r.Summary
	failed := fmt.Sprintf("%d failed", s.Failed)
	if s.Failed > 0 {
		failed = Red(failed)
	}
	fmt.Fprintf(w, "\n%s: %d devices, %s, %s\n", Bold(r.Operation.String()), s.Total, Green(fmt.Sprintf("%d succeeded", s.Succeeded)), failed)
	if r.ID != "" {
		fmt.Fprintf(w, "%s\n", Dim("batch "+r.ID))
	}
}
