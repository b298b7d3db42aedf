package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/newtron-network/ncbulk/pkg/bulk"
)

// Progress prints one line per finished task. It is append-only, so output
// stays readable in pipes and CI logs.
type Progress struct {
	w        io.Writer
	total    int
	dotWidth int

	mu   sync.Mutex
	done int
}

var _ bulk.Observer = (*Progress)(nil)

// NewProgress returns a Progress for a batch over devices.
func NewProgress(w io.Writer, devices []string) *Progress {
	width := 0
	for _, d := range devices {
		width = max(width, len(d))
	}
	return &Progress{w: w, total: len(devices), dotWidth: width + 6}
}

// TaskFinished prints "[n/total] device .... OK (duration)".
func (p *Progress) TaskFinished(o bulk.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	tag := fmt.Sprintf("[%d/%d]", p.done, p.total)
	line := fmt.Sprintf("  %-9s %s %s  (%s)", tag, DotPad(o.Device, p.dotWidth), Status(o.Succeeded), Duration(o.Duration))
	if !o.Succeeded {
		line += "  " + Dim(Truncate(o.Reason, 80))
	}
	fmt.Fprintln(p.w, line)
}
