package matrix

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

type CellInfo struct {
	Index    int
	Total    int
	Cell     string
	SourceID string
	Profile  string
}

type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeSkipped   OutcomeStatus = "skipped"
)

type CellOutcome struct {
	Status    OutcomeStatus
	Cost      float64
	Bytes     int64
	VideoPath string
	Elapsed   time.Duration
	Err       error
}

// Reporter receives progress for the cell currently being generated. Calls for one
// cell are ordered: CellStarted, any number of CellPhase and CellStatus, CellFinished.
// Skipped cells only get CellFinished.
type Reporter interface {
	CellStarted(info CellInfo)
	CellPhase(phase string)
	CellStatus(status string, pct *float64)
	CellFinished(info CellInfo, out CellOutcome)
}

type Nop struct{}

func (Nop) CellStarted(CellInfo)               {}
func (Nop) CellPhase(string)                   {}
func (Nop) CellStatus(string, *float64)        {}
func (Nop) CellFinished(CellInfo, CellOutcome) {}

// LineReporter renders the active cell on a single terminal line. When live is false
// it prints one line per phase change instead of redrawing.
type LineReporter struct {
	out  io.Writer
	live bool

	mu      sync.Mutex
	info    CellInfo
	phase   string
	status  string
	pct     string
	started time.Time
	done    int
	failed  int
	cost    float64

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewLineReporter(out io.Writer, live bool) *LineReporter {
	return &LineReporter{out: out, live: live}
}

func (p *LineReporter) CellStarted(info CellInfo) {
	p.mu.Lock()
	p.info = info
	p.phase = "starting"
	p.status = ""
	p.pct = ""
	p.started = time.Now()
	p.mu.Unlock()

	if !p.live {
		return
	}
	p.stop = make(chan struct{})
	p.wg.Add(1)
	go func(stop chan struct{}) {
		defer p.wg.Done()
		t := time.NewTicker(700 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				line := p.render()
				p.mu.Lock()
				fmt.Fprintf(p.out, "\r\033[2K%s", line)
				p.mu.Unlock()
			}
		}
	}(p.stop)
}

func (p *LineReporter) CellPhase(phase string) {
	p.mu.Lock()
	p.phase = phase
	p.pct = ""
	p.mu.Unlock()
	if !p.live {
		fmt.Fprintln(p.out, p.render())
	}
}

func (p *LineReporter) CellStatus(status string, pct *float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
	if pct != nil {
		p.pct = fmt.Sprintf("%.0f%%", *pct)
	}
}

func (p *LineReporter) CellFinished(info CellInfo, out CellOutcome) {
	if p.stop != nil {
		close(p.stop)
		p.wg.Wait()
		p.stop = nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch out.Status {
	case OutcomeCompleted, OutcomeSkipped:
		p.done++
		p.cost += out.Cost
	case OutcomeFailed:
		p.failed++
	}
	prefix := ""
	if p.live {
		prefix = "\r\033[2K"
	}
	fmt.Fprintf(p.out, "%s%s\n", prefix, finalLine(info, out))
}

func (p *LineReporter) render() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	parts := []string{fmt.Sprintf("[%d/%d] %s", p.info.Index, p.info.Total, p.info.Cell), p.phase}
	if p.status != "" && p.status != p.phase {
		parts = append(parts, p.status)
	}
	if p.pct != "" {
		parts = append(parts, p.pct)
	}
	if !p.started.IsZero() {
		parts = append(parts, formatElapsed(time.Since(p.started)))
	}
	parts = append(parts, fmt.Sprintf("| done %d  failed %d  $%.4f", p.done, p.failed, p.cost))
	return strings.Join(parts, "  ")
}

func finalLine(info CellInfo, out CellOutcome) string {
	head := fmt.Sprintf("[%d/%d] %s", info.Index, info.Total, info.Cell)
	switch out.Status {
	case OutcomeSkipped:
		return head + "  skipped (already completed)"
	case OutcomeFailed:
		return fmt.Sprintf("%s  FAILED after %s: %v", head, formatElapsed(out.Elapsed), out.Err)
	default:
		return fmt.Sprintf("%s  done in %s  %.1f MB  $%.4f", head, formatElapsed(out.Elapsed), float64(out.Bytes)/(1024*1024), out.Cost)
	}
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d.Round(time.Second) / time.Second)
	if secs < 3600 {
		return fmt.Sprintf("%d:%02d", secs/60, secs%60)
	}
	return fmt.Sprintf("%d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}
