package cpustress

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/p-arndt/sysstress/internal/clock"
	"github.com/p-arndt/sysstress/internal/metrics"
)

const (
	DefaultBatchSize = 1024

	// Batch latency histogram bounds in microseconds.
	minLatencyUs = 1
	maxLatencyUs = 60 * 1000 * 1000
)

// sink keeps hash results observable so the compiler cannot drop the work.
var sink atomic.Uint64

// Options configure a single CPU worker.
type Options struct {
	Duration      time.Duration
	BatchSize     int
	ExponentScale int
}

// Worker hashes in batches until the registry stops running, the clock runs
// out or its retire channel is closed.
type Worker struct {
	id       int
	opts     Options
	registry *metrics.Registry
	clock    *clock.Clock
	retire   <-chan struct{}
	latency  *hdrhistogram.Histogram
}

// NewWorker builds a worker. retire may be nil when the worker is never
// individually stopped.
func NewWorker(id int, opts Options, reg *metrics.Registry, clk *clock.Clock, retire <-chan struct{}) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.ExponentScale <= 0 {
		opts.ExponentScale = 1
	}
	return &Worker{
		id:       id,
		opts:     opts,
		registry: reg,
		clock:    clk,
		retire:   retire,
		latency:  NewLatencyHistogram(),
	}
}

// NewLatencyHistogram returns an empty batch latency histogram in µs.
func NewLatencyHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(minLatencyUs, maxLatencyUs, 3)
}

func (w *Worker) ID() int { return w.id }

// Latency is only safe to read after Run has returned.
func (w *Worker) Latency() *hdrhistogram.Histogram { return w.latency }

func (w *Worker) retired() bool {
	if w.retire == nil {
		return false
	}
	select {
	case <-w.retire:
		return true
	default:
		return false
	}
}

func (w *Worker) active() bool {
	return w.registry.IsRunning() && w.clock.ShouldContinue(w.opts.Duration) && !w.retired()
}

// Run blocks until the worker is told to stop. Completed hashes of a partial
// batch are flushed before returning.
func (w *Worker) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var acc uint64
	for w.active() {
		start := time.Now()
		var done uint64
		for i := 0; i < w.opts.BatchSize; i++ {
			if !w.active() {
				break
			}
			h := Hash(InputFor(w.id, i, w.opts.ExponentScale))
			if h%1024 == 0 {
				h = (h + uint64(w.id)) * (uint64(i) % 7)
			}
			acc ^= h
			done++
		}
		if done > 0 {
			w.registry.AddHashOps(done)
			w.recordBatch(time.Since(start))
		}
	}
	sink.Add(acc)
}

func (w *Worker) recordBatch(d time.Duration) {
	us := d.Microseconds()
	if us < minLatencyUs {
		us = minLatencyUs
	}
	if us > maxLatencyUs {
		us = maxLatencyUs
	}
	_ = w.latency.RecordValue(us)
}
