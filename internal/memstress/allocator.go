// Package memstress grows resident memory one block at a time up to a
// ceiling and holds on to every block until the run is reported.
package memstress

import (
	"context"
	"log/slog"
	"math"
	"math/bits"
	"sync"
	"time"

	units "github.com/docker/go-units"

	"github.com/p-arndt/sysstress/internal/clock"
	"github.com/p-arndt/sysstress/internal/metrics"
)

const (
	DefaultBlockSize  = 1 << 20
	DefaultMultiplier = 2
	DefaultBaseUnit   = 1 << 30

	fillValue = 1
)

// ErrorReporter receives the single allocation failure line.
type ErrorReporter interface {
	Errorf(format string, args ...any)
}

// Options bound the allocator. Reserve is subtracted from
// Multiplier×BaseUnit for memory the bandwidth sampler holds itself, unless
// it would leave nothing to allocate.
type Options struct {
	Duration   time.Duration
	Multiplier uint64
	BaseUnit   uint64
	Reserve    uint64
	BlockSize  int
}

// Target is Multiplier×BaseUnit, saturating at math.MaxUint64.
func (o Options) Target() uint64 {
	return Target(o.Multiplier, o.BaseUnit)
}

// Ceiling is the number of bytes the allocator stops at. A reserve that
// covers the whole target is ignored.
func (o Options) Ceiling() uint64 {
	total := o.Target()
	if o.Reserve >= total {
		return total
	}
	return total - o.Reserve
}

// Target multiplies without wrapping.
func Target(multiplier, baseUnit uint64) uint64 {
	hi, lo := bits.Mul64(multiplier, baseUnit)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

type Allocator struct {
	opts     Options
	source   BlockSource
	registry *metrics.Registry
	clock    *clock.Clock
	reporter ErrorReporter
	logger   *slog.Logger

	mu       sync.Mutex
	blocks   [][]byte
	retained uint64
	failed   bool
}

func New(opts Options, src BlockSource, reg *metrics.Registry, clk *clock.Clock, reporter ErrorReporter, logger *slog.Logger) *Allocator {
	if opts.Multiplier == 0 {
		opts.Multiplier = DefaultMultiplier
	}
	if opts.BaseUnit == 0 {
		opts.BaseUnit = DefaultBaseUnit
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if src == nil {
		src = &HeapSource{}
	}
	return &Allocator{
		opts:     opts,
		source:   src,
		registry: reg,
		clock:    clk,
		reporter: reporter,
		logger:   logger,
	}
}

func (a *Allocator) Ceiling() uint64 { return a.opts.Ceiling() }

// Run allocates until the ceiling is reached, the run stops or a block is
// refused. Blocks stay retained after Run returns.
func (a *Allocator) Run(ctx context.Context) {
	ceiling := a.opts.Ceiling()
	if a.opts.Reserve > 0 && ceiling == a.opts.Target() {
		a.logger.Warn("bandwidth reserve not taken off a target this small",
			"target", units.BytesSize(float64(ceiling)), "reserve", units.BytesSize(float64(a.opts.Reserve)))
	}
	a.logger.Debug("allocator started", "ceiling", units.BytesSize(float64(ceiling)), "block", a.opts.BlockSize)

	for a.active(ctx, ceiling) {
		b, err := a.source.Allocate(a.opts.BlockSize)
		if err != nil {
			a.fail(err)
			return
		}
		for i := range b {
			b[i] = fillValue
		}

		a.mu.Lock()
		a.blocks = append(a.blocks, b)
		a.retained += uint64(len(b))
		a.mu.Unlock()
		a.registry.AddBytesAllocated(uint64(len(b)))
	}

	a.logger.Debug("allocator finished", "retained", units.BytesSize(float64(a.Retained())))
}

func (a *Allocator) active(ctx context.Context, ceiling uint64) bool {
	if ctx.Err() != nil {
		return false
	}
	if !a.registry.IsRunning() || !a.clock.ShouldContinue(a.opts.Duration) {
		return false
	}
	return a.Retained() < ceiling
}

func (a *Allocator) fail(err error) {
	a.mu.Lock()
	if a.failed {
		a.mu.Unlock()
		return
	}
	a.failed = true
	a.mu.Unlock()

	a.registry.AddAllocFailure()
	a.logger.Warn("memory allocation failed", "error", err, "retained", a.Retained())
	if a.reporter != nil {
		a.reporter.Errorf("Memory allocation failed: %v", err)
	}
}

// Blocks is the number of retained blocks.
func (a *Allocator) Blocks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.blocks)
}

// Retained is the number of bytes held.
func (a *Allocator) Retained() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.retained
}

// Failed reports whether an allocation was refused.
func (a *Allocator) Failed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failed
}

// Release drops every retained block.
func (a *Allocator) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocks = nil
	a.retained = 0
}
