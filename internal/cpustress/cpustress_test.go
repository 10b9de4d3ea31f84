package cpustress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-arndt/sysstress/internal/clock"
	"github.com/p-arndt/sysstress/internal/metrics"
)

func TestHashDeterministic(t *testing.T) {
	in := InputFor(3, 17, 1)
	assert.Equal(t, Hash(in), Hash(in))
	assert.Less(t, Hash(in), DefaultModulus)
}

func TestHashVariesAcrossInputs(t *testing.T) {
	seen := map[uint64]bool{}
	for id := 0; id < 4; id++ {
		for i := 0; i < 4; i++ {
			seen[Hash(InputFor(id, i, 50))] = true
		}
	}
	assert.Greater(t, len(seen), 8)
}

func TestHashDegenerateModulus(t *testing.T) {
	assert.Zero(t, Hash(Input{Base: 7, Exponent: 10, Modulus: 1}))
	assert.Zero(t, Hash(Input{Base: 7, Exponent: 10, Modulus: 0}))
}

func TestInputFor(t *testing.T) {
	in := InputFor(2, 10, 1)
	assert.Equal(t, uint64(2)*123456789+uint64(10)*987654321, in.Base)
	assert.Equal(t, uint64(510*3), in.Exponent)
	assert.Equal(t, DefaultModulus, in.Modulus)

	assert.Equal(t, uint64(510*3/10), InputFor(2, 10, 10).Exponent)
	assert.Equal(t, uint64(1), InputFor(0, 0, 1_000_000).Exponent, "exponent never drops to zero")
	assert.Equal(t, InputFor(1, 1, 1), InputFor(1, 1, 0), "non-positive scale means no scaling")
}

func newRunningWorker(t *testing.T, d time.Duration, retire <-chan struct{}) (*Worker, *metrics.Registry, *clock.Clock) {
	t.Helper()
	reg := metrics.New()
	reg.SetRunning(true)
	clk := clock.New()
	clk.Start()
	w := NewWorker(1, Options{Duration: d, BatchSize: 16, ExponentScale: 100}, reg, clk, retire)
	return w, reg, clk
}

func TestWorkerStopsWhenRegistryStops(t *testing.T) {
	w, reg, _ := newRunningWorker(t, time.Hour, nil)

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	require.Eventually(t, func() bool { return reg.HashOps() > 0 }, 5*time.Second, 5*time.Millisecond)
	reg.SetRunning(false)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not observe stop")
	}

	frozen := reg.HashOps()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, frozen, reg.HashOps())
	assert.Positive(t, w.Latency().TotalCount())
}

func TestWorkerStopsWhenDurationElapses(t *testing.T) {
	w, reg, _ := newRunningWorker(t, 50*time.Millisecond, nil)

	start := time.Now()
	w.Run()

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Positive(t, reg.HashOps())
	assert.True(t, reg.IsRunning(), "duration expiry does not touch the running flag")
}

func TestWorkerRetire(t *testing.T) {
	retire := make(chan struct{})
	w, reg, _ := newRunningWorker(t, time.Hour, retire)

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	require.Eventually(t, func() bool { return reg.HashOps() > 0 }, 5*time.Second, 5*time.Millisecond)
	close(retire)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("retired worker kept running")
	}
}

func TestWorkerNotRunningDoesNothing(t *testing.T) {
	reg := metrics.New()
	clk := clock.New()
	w := NewWorker(0, Options{Duration: time.Second}, reg, clk, nil)
	w.Run()
	assert.Zero(t, reg.HashOps())
	assert.Zero(t, w.Latency().TotalCount())
}

func TestNewWorkerDefaults(t *testing.T) {
	w := NewWorker(0, Options{}, metrics.New(), clock.New(), nil)
	assert.Equal(t, DefaultBatchSize, w.opts.BatchSize)
	assert.Equal(t, 1, w.opts.ExponentScale)
	assert.Equal(t, 0, w.ID())
}
