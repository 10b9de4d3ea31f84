package pool

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/p-arndt/sysstress/internal/clock"
	"github.com/p-arndt/sysstress/internal/metrics"
)

// RateEstimator derives load from the growth of the hash counter since the
// previous call. The rate in ops/ms is divided by Normalizer when it is set,
// otherwise by the highest rate seen so far, and clamped to [0,1]. With no
// time elapsed since the last call it reports 0.5.
type RateEstimator struct {
	Registry   *metrics.Registry
	Clock      *clock.Clock
	Normalizer float64

	mu        sync.Mutex
	lastOps   uint64
	lastCheck int64
	peak      float64
}

// NewRateEstimator with a normalizer of 0 measures against the peak rate.
func NewRateEstimator(reg *metrics.Registry, clk *clock.Clock, normalizer float64) *RateEstimator {
	if normalizer < 0 {
		normalizer = 0
	}
	return &RateEstimator{Registry: reg, Clock: clk, Normalizer: normalizer}
}

func (e *RateEstimator) EstimateLoad() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.Clock.ElapsedMillis()
	span := now - e.lastCheck
	if span <= 0 {
		return 0.5
	}
	ops := e.Registry.HashOps()
	rate := float64(ops-e.lastOps) / float64(span)
	e.lastOps = ops
	e.lastCheck = now

	if e.Normalizer > 0 {
		return clamp01(rate / e.Normalizer)
	}
	if rate > e.peak {
		e.peak = rate
	}
	if e.peak == 0 {
		return 0
	}
	return clamp01(rate / e.peak)
}

// SystemEstimator reads host-wide CPU utilisation since the previous call.
type SystemEstimator struct {
	percent func(time.Duration, bool) ([]float64, error)
}

func NewSystemEstimator() *SystemEstimator {
	return &SystemEstimator{percent: cpu.Percent}
}

// EstimateLoad returns 0.5 when utilisation cannot be read so the pool
// holds its current size.
func (e *SystemEstimator) EstimateLoad() float64 {
	vals, err := e.percent(0, false)
	if err != nil || len(vals) == 0 {
		return 0.5
	}
	return clamp01(vals[0] / 100)
}

// FixedEstimator always reports the same load.
type FixedEstimator float64

func (f FixedEstimator) EstimateLoad() float64 { return clamp01(float64(f)) }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
