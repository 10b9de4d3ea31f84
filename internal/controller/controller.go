// Package controller drives one stress run end to end: it starts the CPU
// pool, the memory allocator and the bandwidth sampler, feeds the display
// until the clock runs out, then joins everything and builds the report.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/p-arndt/sysstress/internal/bandwidth"
	"github.com/p-arndt/sysstress/internal/clock"
	"github.com/p-arndt/sysstress/internal/cpustress"
	"github.com/p-arndt/sysstress/internal/memstress"
	"github.com/p-arndt/sysstress/internal/metrics"
	"github.com/p-arndt/sysstress/internal/pool"
	"github.com/p-arndt/sysstress/protocol"
)

var (
	ErrNoCores      = errors.New("no CPU cores detected")
	ErrStuckWorker  = errors.New("worker did not stop within the join timeout")
	ErrInvalidState = errors.New("invalid controller state")
)

type State int32

const (
	StateIdle State = iota
	StateInitialized
	StateRunning
	StateStopping
	StateReported
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateReported:
		return "reported"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	DefaultDuration        = 30 * time.Second
	DefaultRefreshInterval = 250 * time.Millisecond

	EstimatorRate   = "rate"
	EstimatorSystem = "system"
)

// Options describe one run. The memory reserve is derived from the
// bandwidth buffer size.
type Options struct {
	Duration        time.Duration
	RefreshInterval time.Duration
	JoinTimeout     time.Duration // 0 waits forever

	Memory       memstress.Options
	MemorySource memstress.BlockSource
	Bandwidth    bandwidth.Options

	CPU           cpustress.Options
	Elastic       bool
	ManageEvery   time.Duration
	LoadEstimator string
}

type Controller struct {
	opts     Options
	registry *metrics.Registry
	clock    *clock.Clock
	sink     DisplaySink
	detector CoreDetector
	recorder ReportRecorder
	logger   *slog.Logger

	state     atomic.Int32
	cores     int
	runID     string
	startedAt time.Time
}

func New(opts Options, sink DisplaySink, detector CoreDetector, logger *slog.Logger) *Controller {
	if opts.Duration <= 0 {
		opts.Duration = DefaultDuration
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.Bandwidth.BufferSize <= 0 {
		opts.Bandwidth.BufferSize = bandwidth.DefaultBufferSize
	}
	opts.Memory.Duration = opts.Duration
	opts.Memory.Reserve = uint64(opts.Bandwidth.BufferSize)
	opts.Bandwidth.Duration = opts.Duration
	opts.CPU.Duration = opts.Duration

	return &Controller{
		opts:     opts,
		registry: metrics.New(),
		clock:    clock.New(),
		sink:     sink,
		detector: detector,
		logger:   logger,
	}
}

func (c *Controller) SetRecorder(r ReportRecorder) {
	c.recorder = r
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) Registry() *metrics.Registry { return c.registry }

// Cores is the detected core count, valid after Initialize.
func (c *Controller) Cores() int { return c.cores }

func (c *Controller) RunID() string { return c.runID }

// TargetBytes is the full memory target shown on the display, before the
// bandwidth reserve is taken off.
func (c *Controller) TargetBytes() uint64 {
	m := c.opts.Memory
	if m.Multiplier == 0 {
		m.Multiplier = memstress.DefaultMultiplier
	}
	if m.BaseUnit == 0 {
		m.BaseUnit = memstress.DefaultBaseUnit
	}
	return m.Target()
}

// Initialize resets shared state and detects cores. With zero cores it
// fails with ErrNoCores and nothing is started. A reported controller may
// be initialized again for another run.
func (c *Controller) Initialize() error {
	s := c.State()
	if s != StateIdle && s != StateReported {
		return fmt.Errorf("initialize in state %s: %w", s, ErrInvalidState)
	}

	c.registry.Reset()
	c.clock.Reset()
	c.state.Store(int32(StateIdle))

	cores := c.detector.Cores()
	if cores <= 0 {
		c.logger.Error("core detection failed", "cores", cores)
		return ErrNoCores
	}

	c.cores = cores
	c.runID = uuid.NewString()
	c.registry.SetRunning(true)
	c.state.Store(int32(StateInitialized))
	c.logger.Info("run initialized", "run_id", c.runID, "cores", cores)
	return nil
}

// Run executes the stress run and returns its report. Cancelling ctx ends
// the run early; the report is still built and emitted. ErrStuckWorker is
// returned alongside a partial report when the join timeout elapses.
func (c *Controller) Run(ctx context.Context) (protocol.Report, error) {
	if !c.state.CompareAndSwap(int32(StateInitialized), int32(StateRunning)) {
		return protocol.Report{}, fmt.Errorf("run in state %s: %w", c.State(), ErrInvalidState)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.startedAt = time.Now().UTC()
	c.clock.Start()

	cpuPool := pool.New(pool.Options{
		Cores:          c.cores,
		Elastic:        c.opts.Elastic,
		ManageInterval: c.opts.ManageEvery,
		Worker:         c.opts.CPU,
	}, c.registry, c.clock, c.logger)
	cpuPool.SetNotifier(c.sink)
	if c.opts.Elastic {
		cpuPool.SetEstimator(c.estimator())
	}

	alloc := memstress.New(c.opts.Memory, c.opts.MemorySource, c.registry, c.clock, c.sink, c.logger)
	sampler := bandwidth.New(c.opts.Bandwidth, c.registry, c.clock, c.logger)

	// Worker failures are reported through the sink and never cancel
	// siblings, so the group has no shared context.
	var g errgroup.Group
	var latency *hdrhistogram.Histogram

	cpuPool.Start(runCtx)
	g.Go(func() error {
		latency = cpuPool.Wait()
		return nil
	})
	g.Go(func() error {
		alloc.Run(runCtx)
		return nil
	})
	g.Go(func() error {
		sampler.Run(runCtx)
		return nil
	})

	interrupted := c.monitor(ctx)

	c.state.Store(int32(StateStopping))
	c.registry.SetRunning(false)
	c.clock.Stop()
	cpuPool.Stop()
	cancel()
	c.logger.Info("run stopping", "run_id", c.runID, "interrupted", interrupted)

	stuck := !c.join(&g)

	rep := c.buildReport(sampler, interrupted, stuck)
	if !stuck {
		rep.BatchLatency = summarizeLatency(latency)
	}
	c.sink.Report(rep)

	if c.recorder != nil {
		if err := c.recorder.RecordReport(rep); err != nil {
			c.logger.Warn("recording run failed", "run_id", c.runID, "error", err)
		}
	}

	alloc.Release()
	c.state.Store(int32(StateReported))

	if stuck {
		return rep, ErrStuckWorker
	}
	return rep, nil
}

func (c *Controller) estimator() pool.LoadEstimator {
	if c.opts.LoadEstimator == EstimatorSystem {
		return pool.NewSystemEstimator()
	}
	return pool.NewRateEstimator(c.registry, c.clock, 0)
}

// monitor pushes snapshots until the clock runs out. It reports true when
// ctx ended the run first.
func (c *Controller) monitor(ctx context.Context) bool {
	ticker := time.NewTicker(c.opts.RefreshInterval)
	defer ticker.Stop()

	for c.clock.ShouldContinue(c.opts.Duration) {
		c.sink.Update(c.snapshot())
		select {
		case <-ctx.Done():
			return true
		case <-ticker.C:
		}
	}
	return false
}

// join waits for every worker, bounded by JoinTimeout when set.
func (c *Controller) join(g *errgroup.Group) bool {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	if c.opts.JoinTimeout <= 0 {
		<-done
		return true
	}

	timer := time.NewTimer(c.opts.JoinTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		c.logger.Error("workers did not stop", "run_id", c.runID, "timeout", c.opts.JoinTimeout)
		return false
	}
}

func (c *Controller) snapshot() protocol.Snapshot {
	return c.registry.Snapshot(c.clock.Elapsed(), c.opts.Duration, c.TargetBytes())
}

func (c *Controller) buildReport(sampler *bandwidth.Sampler, interrupted, stuck bool) protocol.Report {
	snap := c.snapshot()
	return protocol.Report{
		RunID:               c.runID,
		StartedAt:           c.startedAt,
		Snapshot:            snap,
		CoreCount:           c.cores,
		TotalElapsedSeconds: c.clock.ElapsedSeconds(),
		PeakBytes:           snap.BytesAllocated + uint64(sampler.BufferSize()),
		AllocFailures:       c.registry.AllocFailures(),
		BandwidthStats:      sampler.Summary(),
		Interrupted:         interrupted,
		StuckWorker:         stuck,
	}
}

func summarizeLatency(h *hdrhistogram.Histogram) *protocol.LatencySummary {
	if h == nil || h.TotalCount() == 0 {
		return nil
	}
	return &protocol.LatencySummary{
		Count: h.TotalCount(),
		P50us: h.ValueAtQuantile(50),
		P99us: h.ValueAtQuantile(99),
		MaxUs: h.Max(),
	}
}
