// Package pool runs the CPU stress workers, one per core, and optionally
// resizes the set of live workers from a pluggable load estimate.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/p-arndt/sysstress/internal/clock"
	"github.com/p-arndt/sysstress/internal/cpustress"
	"github.com/p-arndt/sysstress/internal/metrics"
)

const (
	DefaultHighWater      = 0.75
	DefaultLowWater       = 0.25
	DefaultManageInterval = 2 * time.Second
)

// Options size the pool. Initial defaults to Cores.
type Options struct {
	Cores          int
	Initial        int
	Elastic        bool
	ManageInterval time.Duration
	HighWater      float64
	LowWater       float64
	Worker         cpustress.Options
}

type handle struct {
	worker *cpustress.Worker
	retire chan struct{}
	done   chan struct{}
}

// Pool owns the CPU workers. Workers are appended in start order; the
// elastic manager only ever retires the most recently added one.
type Pool struct {
	opts      Options
	registry  *metrics.Registry
	clock     *clock.Clock
	estimator LoadEstimator
	notifier  Notifier
	logger    *slog.Logger

	mu       sync.Mutex
	live     []*handle
	finished []*cpustress.Worker
	nextID   int
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mgrDone  chan struct{}
}

func New(opts Options, reg *metrics.Registry, clk *clock.Clock, logger *slog.Logger) *Pool {
	if opts.Cores < 1 {
		opts.Cores = 1
	}
	if opts.Initial <= 0 || opts.Initial > opts.Cores {
		opts.Initial = opts.Cores
	}
	if opts.ManageInterval <= 0 {
		opts.ManageInterval = DefaultManageInterval
	}
	if opts.HighWater <= 0 {
		opts.HighWater = DefaultHighWater
	}
	if opts.LowWater <= 0 {
		opts.LowWater = DefaultLowWater
	}
	return &Pool{
		opts:     opts,
		registry: reg,
		clock:    clk,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// SetEstimator installs the load strategy used in elastic mode. A nil
// estimator disables resizing.
func (p *Pool) SetEstimator(e LoadEstimator) {
	p.estimator = e
}

func (p *Pool) SetNotifier(n Notifier) {
	p.notifier = n
}

// Start launches the initial workers and, in elastic mode, the manager loop.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	for i := 0; i < p.opts.Initial; i++ {
		p.spawnLocked()
	}
	p.registry.SetCPUWorkers(len(p.live))
	p.mu.Unlock()

	p.logger.Info("cpu pool started", "workers", p.opts.Initial, "cores", p.opts.Cores, "elastic", p.opts.Elastic)

	if p.opts.Elastic && p.estimator != nil {
		p.mgrDone = make(chan struct{})
		go p.manage(ctx)
	}
}

// Stop ends the manager loop. Workers stop on their own once the registry's
// running flag is cleared or the clock runs out.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
}

// Wait joins the manager and every worker, then returns the merged batch
// latency histogram. There is no timeout.
func (p *Pool) Wait() *hdrhistogram.Histogram {
	if p.mgrDone != nil {
		<-p.mgrDone
	}
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	merged := cpustress.NewLatencyHistogram()
	for _, h := range p.live {
		p.finished = append(p.finished, h.worker)
	}
	p.live = nil
	for _, w := range p.finished {
		merged.Merge(w.Latency())
	}
	p.finished = nil
	return merged
}

// Size is the number of live workers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

func (p *Pool) spawnLocked() {
	h := &handle{
		retire: make(chan struct{}),
		done:   make(chan struct{}),
	}
	h.worker = cpustress.NewWorker(p.nextID, p.opts.Worker, p.registry, p.clock, h.retire)
	p.nextID++
	p.live = append(p.live, h)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(h.done)
		h.worker.Run()
	}()
}

func (p *Pool) manage(ctx context.Context) {
	defer close(p.mgrDone)

	ticker := time.NewTicker(p.opts.ManageInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if !p.registry.IsRunning() || !p.clock.ShouldContinue(p.opts.Worker.Duration) {
				return
			}
			p.adjust(p.estimator.EstimateLoad())
		}
	}
}

// adjust applies one scaling decision and returns the change in workers.
func (p *Pool) adjust(load float64) int {
	p.mu.Lock()
	size := len(p.live)
	switch {
	case load > p.opts.HighWater && size < p.opts.Cores:
		p.spawnLocked()
		p.registry.SetCPUWorkers(len(p.live))
		p.mu.Unlock()
		p.announce(fmt.Sprintf("Adding thread due to high load (%.2f)", load), "add", load, size+1)
		return 1
	case load < p.opts.LowWater && size > 1:
		last := p.live[size-1]
		p.live = p.live[:size-1]
		p.registry.SetCPUWorkers(len(p.live))
		p.mu.Unlock()

		close(last.retire)
		<-last.done

		p.mu.Lock()
		p.finished = append(p.finished, last.worker)
		p.mu.Unlock()
		p.announce(fmt.Sprintf("Removing thread due to low load (%.2f)", load), "remove", load, size-1)
		return -1
	default:
		p.mu.Unlock()
		return 0
	}
}

func (p *Pool) announce(msg, action string, load float64, workers int) {
	p.logger.Info("cpu pool resized", "action", action, "load", load, "workers", workers)
	if p.notifier != nil {
		p.notifier.Notice(msg)
	}
}
