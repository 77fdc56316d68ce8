package output

import (
	"fmt"
	"io"
	"sync"
)

// Progress redraws a single status line per stage, e.g.
//
//	download      1200/4800   25%
//
// A new stage starts a new line. Redraws happen only when the percentage
// changes.
type Progress struct {
	w io.Writer

	mu      sync.Mutex
	stage   string
	percent int
}

// NewProgress returns a Progress writing to w, normally stderr.
func NewProgress(w io.Writer) *Progress {
	return &Progress{w: w, percent: -1}
}

// Update reports current of total for stage.
func (p *Progress) Update(stage string, current, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pct := 100
	if total > 0 {
		pct = current * 100 / total
	}
	if stage != p.stage {
		if p.stage != "" {
			_, _ = fmt.Fprintln(p.w)
		}
		p.stage, p.percent = stage, -1
	}
	if pct == p.percent {
		return
	}
	p.percent = pct
	_, _ = fmt.Fprintf(p.w, "\r%-12s %8d/%-8d %3d%%", stage, current, total, pct)
}

// Done terminates the current line.
func (p *Progress) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stage != "" {
		_, _ = fmt.Fprintln(p.w)
		p.stage = ""
	}
}
