// Package bandwidth measures memory throughput by sweeping a private buffer
// with sequential read, sequential write and shuffled access passes.
package bandwidth

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/DataDog/sketches-go/ddsketch/mapping"
	"github.com/DataDog/sketches-go/ddsketch/store"

	"github.com/p-arndt/sysstress/internal/clock"
	"github.com/p-arndt/sysstress/internal/metrics"
	"github.com/p-arndt/sysstress/protocol"
)

const (
	DefaultBufferSize = 64 << 20
	DefaultIterations = 5
	DefaultPause      = 100 * time.Millisecond
	DefaultInterval   = 2 * time.Second
	DefaultStride     = 64

	// Measurements outside (0, maxPlausible] MiB/s are discarded.
	maxPlausible = 1e6

	sketchAccuracy = 0.01
)

// sink keeps the read passes from being optimised away.
var sink atomic.Uint64

// Options tune a sampler. A negative Pause removes the gap between
// iterations.
type Options struct {
	Duration   time.Duration
	BufferSize int
	Iterations int
	Pause      time.Duration
	Interval   time.Duration
	Stride     int
}

// patterns holds one iteration's raw throughput in MiB/s.
type patterns struct {
	read, write, random float64
}

// value combines an iteration into a single figure. The shuffled pass is
// weighted double since it defeats the prefetcher.
func (p patterns) value() float64 {
	return max(p.read, p.write, 2*p.random)
}

type Sampler struct {
	opts     Options
	registry *metrics.Registry
	clock    *clock.Clock
	logger   *slog.Logger

	buf     []byte
	measure func() patterns

	mu     sync.Mutex
	sketch *ddsketch.DDSketch
	rounds int
}

func New(opts Options, reg *metrics.Registry, clk *clock.Clock, logger *slog.Logger) *Sampler {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Iterations <= 0 {
		opts.Iterations = DefaultIterations
	}
	if opts.Pause < 0 {
		opts.Pause = 0
	} else if opts.Pause == 0 {
		opts.Pause = DefaultPause
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Stride <= 0 {
		opts.Stride = DefaultStride
	}
	s := &Sampler{
		opts:     opts,
		registry: reg,
		clock:    clk,
		logger:   logger,
		sketch:   newSketch(),
	}
	s.measure = s.measureOnce
	return s
}

func newSketch() *ddsketch.DDSketch {
	m, _ := mapping.NewLogarithmicMapping(sketchAccuracy)
	return ddsketch.NewDDSketch(m, store.NewDenseStore(), store.NewDenseStore())
}

// BufferSize is the memory the sampler holds once it has run.
func (s *Sampler) BufferSize() int { return s.opts.BufferSize }

func (s *Sampler) active(ctx context.Context) bool {
	return ctx.Err() == nil && s.registry.IsRunning() && s.clock.ShouldContinue(s.opts.Duration)
}

// Run samples once and then every Interval until the run ends.
func (s *Sampler) Run(ctx context.Context) {
	s.Sample(ctx)
	for s.active(ctx) {
		if !sleep(ctx, s.opts.Interval) {
			return
		}
		if !s.active(ctx) {
			return
		}
		s.Sample(ctx)
	}
}

// Sample runs one round of iterations and publishes the mean of the
// plausible values. It reports false and leaves the registry untouched when
// no iteration produced a usable figure.
func (s *Sampler) Sample(ctx context.Context) (float64, bool) {
	if s.buf == nil {
		s.buf = make([]byte, s.opts.BufferSize)
		for i := range s.buf {
			s.buf[i] = byte(i & 0xFF)
		}
	}

	var sum float64
	var raw patterns
	kept := 0
	for i := 0; i < s.opts.Iterations; i++ {
		if i > 0 && !sleep(ctx, s.opts.Pause) {
			break
		}
		if !s.registry.IsRunning() {
			break
		}
		p := s.measure()
		v := p.value()
		if v <= 0 || v > maxPlausible {
			s.logger.Debug("discarding bandwidth sample", "value", v)
			continue
		}
		sum += v
		raw.read += p.read
		raw.write += p.write
		raw.random += p.random
		kept++

		s.mu.Lock()
		_ = s.sketch.Add(v)
		s.mu.Unlock()
	}
	if kept == 0 {
		return 0, false
	}

	n := float64(kept)
	mean := sum / n
	s.registry.SetBandwidth(mean)
	s.registry.SetPatterns(raw.read/n, raw.write/n, raw.random/n)

	s.mu.Lock()
	s.rounds++
	s.mu.Unlock()
	s.logger.Debug("bandwidth sampled", "mibps", mean, "kept", kept)
	return mean, true
}

func (s *Sampler) measureOnce() patterns {
	mib := float64(len(s.buf)) / (1 << 20)
	stride := s.opts.Stride

	start := time.Now()
	var acc uint64
	for i := 0; i < len(s.buf); i += stride {
		acc += uint64(s.buf[i])
	}
	read := throughput(mib, time.Since(start))

	start = time.Now()
	for i := 0; i < len(s.buf); i += stride {
		s.buf[i] = byte(i & 0xFF)
	}
	write := throughput(mib, time.Since(start))

	offsets := shuffledOffsets(len(s.buf), stride)
	start = time.Now()
	for _, off := range offsets {
		acc += uint64(s.buf[off])
	}
	random := throughput(mib, time.Since(start))

	sink.Add(acc)
	return patterns{read: read, write: write, random: random}
}

// shuffledOffsets returns every stride-aligned offset in a fresh random order.
func shuffledOffsets(size, stride int) []int {
	n := size / stride
	offsets := make([]int, n)
	for i := range offsets {
		offsets[i] = (i * stride) % size
	}
	r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	r.Shuffle(n, func(i, j int) { offsets[i], offsets[j] = offsets[j], offsets[i] })
	return offsets
}

func throughput(mib float64, d time.Duration) float64 {
	sec := d.Seconds()
	if sec <= 0 {
		return 0
	}
	return mib / sec
}

// Rounds is the number of rounds that published a value.
func (s *Sampler) Rounds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds
}

// Summary returns the distribution of accepted iteration values, or nil
// when nothing was accepted.
func (s *Sampler) Summary() *protocol.BandwidthSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sketch.GetCount() == 0 {
		return nil
	}
	sum := &protocol.BandwidthSummary{Count: s.sketch.GetCount()}
	sum.MinMiBps, _ = s.sketch.GetMinValue()
	sum.MaxMiBps, _ = s.sketch.GetMaxValue()
	sum.P50MiBps, _ = s.sketch.GetValueAtQuantile(0.50)
	sum.P99MiBps, _ = s.sketch.GetValueAtQuantile(0.99)
	return sum
}

// sleep waits for d or until ctx is done, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
