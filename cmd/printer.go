package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"gridchase/reinforcement"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uilive"
	"github.com/logrusorgru/aurora"
	channerics "github.com/niceyeti/channerics/channels"
)

// progressPrinter redraws a fixed block of terminal lines with the latest training progress.
type progressPrinter struct {
	writer    *uilive.Writer
	total     int
	frequency time.Duration
	start     time.Time

	mu   sync.Mutex
	step int
	last *reinforcement.EvalRecord

	cancel context.CancelFunc
	done   chan struct{}
}

func newProgressPrinter(out io.Writer, total int, frequency time.Duration) *progressPrinter {
	writer := uilive.New()
	writer.Out = out
	return &progressPrinter{
		writer:    writer,
		total:     total,
		frequency: frequency,
		done:      make(chan struct{}),
	}
}

// Observe is safe to call from the training loop; it only records the progress.
func (p *progressPrinter) Observe(progress reinforcement.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if progress.Step > p.step {
		p.step = progress.Step
	}
	if progress.Record != nil {
		record := *progress.Record
		p.last = &record
	}
}

func (p *progressPrinter) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.start = time.Now()
	p.writer.Start()

	go func() {
		defer close(p.done)
		for range channerics.NewTicker(ctx.Done(), p.frequency) {
			p.print()
		}
	}()
}

// Stop prints the final state and releases the terminal.
func (p *progressPrinter) Stop() {
	p.cancel()
	<-p.done
	p.print()
	p.writer.Stop()
}

func (p *progressPrinter) print() {
	p.mu.Lock()
	defer p.mu.Unlock()

	// one write per frame, so a refresh never shows half of it
	block := fmt.Sprintf("step %s / %s  elapsed %s\n",
		humanize.Comma(int64(p.step)),
		humanize.Comma(int64(p.total)),
		time.Since(p.start).Round(time.Second))
	if p.last != nil {
		block += fmt.Sprintf("last evaluation at step %s: reward %.1f\n",
			humanize.Comma(int64(p.last.Step)), p.last.RewardSum)
	}
	_, _ = io.WriteString(p.writer, block)
}

// colorize highlights the agent and target in the grid rows of a render; the status lines
// below the grid are left as they are.
func colorize(render string) string {
	lines := strings.Split(render, "\n")
	for i, line := range lines {
		if !isGridRow(line) {
			continue
		}
		var sb strings.Builder
		for _, r := range line {
			switch r {
			case 'A':
				sb.WriteString(aurora.Blue("A").Bold().String())
			case 'T':
				sb.WriteString(aurora.Red("T").Bold().String())
			case '*':
				sb.WriteString(aurora.Magenta("*").Bold().String())
			case '.':
				sb.WriteString(aurora.Gray(12, ".").String())
			default:
				sb.WriteRune(r)
			}
		}
		lines[i] = sb.String()
	}
	return strings.Join(lines, "\n")
}

func isGridRow(line string) bool {
	return line != "" && strings.Trim(line, "AT*. ") == ""
}
