package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/p-arndt/sysstress/protocol"
)

const (
	colorReset   = "\033[0m"
	colorRed     = "\033[31m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorBlue    = "\033[34m"
	colorMagenta = "\033[35m"
	colorCyan    = "\033[36m"

	clearLine = "\r\033[K"
	cursorUp3 = "\033[3A"

	barWidth    = 30
	cellFilled  = "■"
	cellEmpty   = "□"
	bytesPerMiB = 1 << 20
)

// Terminal draws a four line live view that is rewritten in place on every
// update. All writes go through one mutex.
type Terminal struct {
	mu    sync.Mutex
	out   io.Writer
	drawn bool
}

func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out}
}

// Banner prints the start banner and the duration warning.
func (t *Terminal) Banner(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "%s\n=== System Stress Test Starting ===%s\n", colorMagenta, colorReset)
	fmt.Fprintf(t.out, "%sWarning: This program will stress your system for %d seconds.%s\n",
		colorYellow, int(d.Seconds()), colorReset)
}

// Detected announces the core count right before the workers start.
func (t *Terminal) Detected(cores int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "%s\nDetected %d CPU cores%s\n", colorBlue, cores, colorReset)
	fmt.Fprint(t.out, "\nStarting stress test...\n\n")
}

func (t *Terminal) Update(s protocol.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	if t.drawn {
		b.WriteString(cursorUp3)
	}
	b.WriteString(clearLine)
	b.WriteString(timeLine(s))
	b.WriteString("\n" + clearLine)
	b.WriteString(memoryLine(s))
	b.WriteString("\n" + clearLine)
	b.WriteString(bandwidthLine(s.BandwidthMiBps))
	b.WriteString("\n" + clearLine)
	fmt.Fprintf(&b, "HASH OPS: %s ops", humanize.Comma(int64(s.HashOps)))
	if s.CPUWorkers > 0 {
		fmt.Fprintf(&b, " (%d threads)", s.CPUWorkers)
	}
	io.WriteString(t.out, b.String())
	t.drawn = true
}

func timeLine(s protocol.Snapshot) string {
	total := int(s.DurationSeconds)
	shown := min(int(s.ElapsedSeconds), total)
	var frac float64
	if total > 0 {
		frac = float64(shown) / float64(total)
	}
	return fmt.Sprintf("Time:   [%s] %ds / %ds", bar(frac, colorCyan), shown, total)
}

func memoryLine(s protocol.Snapshot) string {
	return fmt.Sprintf("Memory: [%s] %dMB / %dMB",
		bar(s.MemoryFraction(), colorGreen), s.BytesAllocated/bytesPerMiB, s.TargetBytes/bytesPerMiB)
}

func bandwidthLine(bw float64) string {
	line := fmt.Sprintf("RAM BW: %s%.2f MB/s%s", bandwidthColor(bw), bw, colorReset)
	if bw > 0 {
		line += fmt.Sprintf(" (~%d MHz est.)", protocol.EstimatedDDRMHz(bw))
	}
	return line
}

func bandwidthColor(bw float64) string {
	switch {
	case bw > 20000:
		return colorGreen
	case bw > 10000:
		return colorYellow
	case bw > 5000:
		return colorCyan
	default:
		return colorRed
	}
}

func bar(frac float64, color string) string {
	pos := int(barWidth * frac)
	var b strings.Builder
	for i := 0; i < barWidth; i++ {
		if i < pos {
			b.WriteString(color + cellFilled + colorReset)
		} else {
			b.WriteString(cellEmpty)
		}
	}
	return b.String()
}

func (t *Terminal) Errorf(format string, args ...any) {
	t.line(colorRed, fmt.Sprintf(format, args...))
}

func (t *Terminal) Notice(msg string) {
	t.line(colorYellow, msg)
}

// line prints below the live view; the next update starts a fresh view.
func (t *Terminal) line(color, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.drawn {
		io.WriteString(t.out, "\n")
	}
	fmt.Fprintf(t.out, "%s%s%s%s\n", clearLine, color, msg, colorReset)
	t.drawn = false
}

func (t *Terminal) Report(r protocol.Report) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.drawn {
		io.WriteString(t.out, "\n")
		t.drawn = false
	}
	fmt.Fprintf(t.out, "\n\n%s=== Test Results ===%s\n", colorMagenta, colorReset)
	row := func(color, format string, args ...any) {
		fmt.Fprintf(t.out, "%s%s%s\n", color, fmt.Sprintf(format, args...), colorReset)
	}

	row(colorCyan, "Total hashing operations: %s ops", humanize.Comma(int64(r.HashOps)))
	row(colorCyan, "Total execution time: %.3f seconds", r.TotalElapsedSeconds)
	row(colorCyan, "Maximum memory allocated: %dMB", r.PeakBytes/bytesPerMiB)
	row(colorCyan, "Memory bandwidth: %.2f MB/s", r.BandwidthMiBps)
	row(colorCyan, "CPU cores utilized: %d", r.CoreCount)

	row(colorBlue, "Hash rate: %s ops/s", humanize.Commaf(float64(int64(r.HashOpsPerSecond()))))
	if r.BatchLatency != nil && r.BatchLatency.Count > 0 {
		row(colorBlue, "Batch latency: p50 %dµs, p99 %dµs, max %dµs",
			r.BatchLatency.P50us, r.BatchLatency.P99us, r.BatchLatency.MaxUs)
	}
	if r.BandwidthStats != nil && r.BandwidthStats.Count > 0 {
		row(colorBlue, "Bandwidth samples: %d (p50 %.2f MB/s, p99 %.2f MB/s)",
			int(r.BandwidthStats.Count), r.BandwidthStats.P50MiBps, r.BandwidthStats.P99MiBps)
	}
	if r.AllocFailures > 0 {
		row(colorRed, "Allocation failures: %d", r.AllocFailures)
	}
	if r.Interrupted {
		row(colorYellow, "Run interrupted before the full duration")
	}
	if r.StuckWorker {
		row(colorRed, "A worker did not stop in time")
	}
	if r.RunID != "" {
		fmt.Fprintf(t.out, "Run ID: %s\n", r.RunID)
	}
}
