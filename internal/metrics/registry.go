// Package metrics holds the lock-free counters written by stress workers and
// read by the display loop.
package metrics

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/p-arndt/sysstress/protocol"
)

// Registry fields are independent atomics. Readers may observe any
// combination of values; there is no cross-field consistency.
type Registry struct {
	hashOps        atomic.Uint64
	bytesAllocated atomic.Uint64
	bandwidth      atomic.Uint64 // float64 bits
	running        atomic.Bool

	readMiBps     atomic.Uint64 // float64 bits
	writeMiBps    atomic.Uint64 // float64 bits
	randomMiBps   atomic.Uint64 // float64 bits
	allocFailures atomic.Uint64
	cpuWorkers    atomic.Int64
}

func New() *Registry {
	return &Registry{}
}

// Reset zeroes every field and clears the running flag.
func (r *Registry) Reset() {
	r.hashOps.Store(0)
	r.bytesAllocated.Store(0)
	r.bandwidth.Store(0)
	r.running.Store(false)
	r.readMiBps.Store(0)
	r.writeMiBps.Store(0)
	r.randomMiBps.Store(0)
	r.allocFailures.Store(0)
	r.cpuWorkers.Store(0)
}

func (r *Registry) AddHashOps(n uint64) {
	r.hashOps.Add(n)
}

func (r *Registry) HashOps() uint64 {
	return r.hashOps.Load()
}

func (r *Registry) AddBytesAllocated(n uint64) {
	r.bytesAllocated.Add(n)
}

func (r *Registry) BytesAllocated() uint64 {
	return r.bytesAllocated.Load()
}

func (r *Registry) SetBandwidth(v float64) {
	r.bandwidth.Store(math.Float64bits(v))
}

func (r *Registry) Bandwidth() float64 {
	return math.Float64frombits(r.bandwidth.Load())
}

// SetPatterns publishes the raw sequential read, sequential write and random
// access measurements behind the latest bandwidth estimate.
func (r *Registry) SetPatterns(read, write, random float64) {
	r.readMiBps.Store(math.Float64bits(read))
	r.writeMiBps.Store(math.Float64bits(write))
	r.randomMiBps.Store(math.Float64bits(random))
}

func (r *Registry) Patterns() (read, write, random float64) {
	return math.Float64frombits(r.readMiBps.Load()),
		math.Float64frombits(r.writeMiBps.Load()),
		math.Float64frombits(r.randomMiBps.Load())
}

func (r *Registry) IsRunning() bool {
	return r.running.Load()
}

func (r *Registry) SetRunning(v bool) {
	r.running.Store(v)
}

func (r *Registry) AddAllocFailure() {
	r.allocFailures.Add(1)
}

func (r *Registry) AllocFailures() uint64 {
	return r.allocFailures.Load()
}

func (r *Registry) SetCPUWorkers(n int) {
	r.cpuWorkers.Store(int64(n))
}

func (r *Registry) CPUWorkers() int {
	return int(r.cpuWorkers.Load())
}

// Snapshot reads every field once for display.
func (r *Registry) Snapshot(elapsed, duration time.Duration, targetBytes uint64) protocol.Snapshot {
	read, write, random := r.Patterns()
	return protocol.Snapshot{
		ElapsedSeconds:  elapsed.Seconds(),
		DurationSeconds: duration.Seconds(),
		BytesAllocated:  r.BytesAllocated(),
		TargetBytes:     targetBytes,
		BandwidthMiBps:  r.Bandwidth(),
		HashOps:         r.HashOps(),
		ReadMiBps:       read,
		WriteMiBps:      write,
		RandomMiBps:     random,
		CPUWorkers:      r.CPUWorkers(),
	}
}
