package controller

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/p-arndt/sysstress/internal/bandwidth"
	"github.com/p-arndt/sysstress/internal/cpustress"
	"github.com/p-arndt/sysstress/internal/memstress"
	"github.com/p-arndt/sysstress/protocol"
)

const mib = 1 << 20

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// shortOptions is a run small enough for unit tests: one 1 MiB block of
// allocator headroom next to a 1 MiB bandwidth buffer.
func shortOptions(d time.Duration) Options {
	return Options{
		Duration:        d,
		RefreshInterval: 10 * time.Millisecond,
		Memory:          memstress.Options{Multiplier: 1, BaseUnit: 2 * mib, BlockSize: mib},
		Bandwidth: bandwidth.Options{
			BufferSize: mib,
			Iterations: 1,
			Pause:      -1,
			Interval:   20 * time.Millisecond,
		},
		CPU: cpustress.Options{BatchSize: 16, ExponentScale: 100},
	}
}

func quietSink() *MockSink {
	sink := &MockSink{}
	sink.On("Update", mock.Anything).Maybe()
	sink.On("Notice", mock.Anything).Maybe()
	return sink
}

func fixedCores(n int) *MockDetector {
	d := &MockDetector{}
	d.On("Cores").Return(n)
	return d
}

func TestInitializeZeroCoresAborts(t *testing.T) {
	sink := &MockSink{}
	c := New(shortOptions(time.Second), sink, fixedCores(0), testLogger())

	err := c.Initialize()
	assert.ErrorIs(t, err, ErrNoCores)
	assert.Equal(t, StateIdle, c.State())
	assert.False(t, c.Registry().IsRunning())

	_, err = c.Run(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.Zero(t, c.Registry().HashOps())
	assert.Zero(t, c.Registry().BytesAllocated())
	sink.AssertNotCalled(t, "Update", mock.Anything)
	sink.AssertNotCalled(t, "Report", mock.Anything)
}

func TestShortRun(t *testing.T) {
	sink := quietSink()
	var reported protocol.Report
	sink.On("Report", mock.Anything).Run(func(args mock.Arguments) {
		reported = args.Get(0).(protocol.Report)
	}).Once()

	rec := &MockRecorder{}
	rec.On("RecordReport", mock.Anything).Return(nil).Once()

	c := New(shortOptions(300*time.Millisecond), sink, fixedCores(2), testLogger())
	c.SetRecorder(rec)

	require.NoError(t, c.Initialize())
	assert.Equal(t, StateInitialized, c.State())
	assert.True(t, c.Registry().IsRunning())
	assert.Equal(t, 2, c.Cores())

	rep, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReported, c.State())
	assert.False(t, c.Registry().IsRunning())

	assert.Equal(t, c.RunID(), rep.RunID)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 2, rep.CoreCount)
	assert.Positive(t, rep.HashOps)
	assert.Equal(t, uint64(mib), rep.BytesAllocated)
	assert.Equal(t, uint64(2*mib), rep.PeakBytes)
	assert.Equal(t, uint64(2*mib), rep.TargetBytes)
	assert.GreaterOrEqual(t, rep.TotalElapsedSeconds, 0.3)
	assert.False(t, rep.Interrupted)
	assert.False(t, rep.StuckWorker)
	assert.Zero(t, rep.AllocFailures)
	require.NotNil(t, rep.BatchLatency)
	assert.Positive(t, rep.BatchLatency.Count)
	if rep.BandwidthMiBps > 0 {
		assert.LessOrEqual(t, rep.BandwidthMiBps, 1e6)
	}

	assert.Equal(t, rep.RunID, reported.RunID)
	rec.AssertCalled(t, "RecordReport", rep)
	sink.AssertCalled(t, "Update", mock.Anything)

	frozen := c.Registry().HashOps()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, frozen, c.Registry().HashOps(), "no worker runs after the report")
}

func TestRunOneMiBTargetWithDefaultBuffer(t *testing.T) {
	sink := quietSink()
	sink.On("Report", mock.Anything).Once()

	opts := shortOptions(time.Second)
	opts.Memory = memstress.Options{Multiplier: 1, BaseUnit: mib}
	opts.Bandwidth.BufferSize = 0

	c := New(opts, sink, fixedCores(1), testLogger())
	require.NoError(t, c.Initialize())

	rep, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(mib), rep.TargetBytes)
	assert.Equal(t, uint64(mib), rep.BytesAllocated)
	assert.Equal(t, uint64(mib), c.Registry().BytesAllocated())
	assert.Zero(t, rep.AllocFailures)
	assert.Positive(t, rep.HashOps)
}

func TestRunCancelledEndsEarly(t *testing.T) {
	sink := quietSink()
	sink.On("Report", mock.Anything).Once()

	c := New(shortOptions(time.Hour), sink, fixedCores(1), testLogger())
	require.NoError(t, c.Initialize())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	rep, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.True(t, rep.Interrupted)
	assert.Less(t, rep.TotalElapsedSeconds, 10.0)
	sink.AssertNumberOfCalls(t, "Report", 1)
}

func TestAllocationFailureReportedOnce(t *testing.T) {
	sink := quietSink()
	sink.On("Errorf", mock.MatchedBy(func(s string) bool {
		return strings.HasPrefix(s, "Memory allocation failed: ")
	})).Once()
	sink.On("Report", mock.Anything).Once()

	opts := shortOptions(200 * time.Millisecond)
	opts.Memory = memstress.Options{Multiplier: 1, BaseUnit: 9 * mib, BlockSize: mib}
	opts.MemorySource = memstress.NewLimitedSource(&memstress.HeapSource{}, 2*mib)

	c := New(opts, sink, fixedCores(1), testLogger())
	require.NoError(t, c.Initialize())

	rep, err := c.Run(context.Background())
	require.NoError(t, err)

	sink.AssertNumberOfCalls(t, "Errorf", 1)
	assert.Equal(t, uint64(1), rep.AllocFailures)
	assert.Equal(t, uint64(2*mib), rep.BytesAllocated)
	assert.Positive(t, rep.HashOps, "other workers keep running")
}

func TestRecorderErrorDoesNotFailRun(t *testing.T) {
	sink := quietSink()
	sink.On("Report", mock.Anything).Once()
	rec := &MockRecorder{}
	rec.On("RecordReport", mock.Anything).Return(assert.AnError)

	c := New(shortOptions(50*time.Millisecond), sink, fixedCores(1), testLogger())
	c.SetRecorder(rec)
	require.NoError(t, c.Initialize())

	_, err := c.Run(context.Background())
	assert.NoError(t, err)
	rec.AssertExpectations(t)
}

func TestJoinTimeoutReportsStuckWorker(t *testing.T) {
	sink := quietSink()
	sink.On("Report", mock.MatchedBy(func(r protocol.Report) bool { return r.StuckWorker })).Once()
	// The blocked allocation fails once the source is released at cleanup.
	sink.On("Errorf", mock.Anything).Maybe()

	src := &blockingSource{release: make(chan struct{})}
	t.Cleanup(func() { close(src.release) })

	opts := shortOptions(50 * time.Millisecond)
	opts.MemorySource = src
	opts.JoinTimeout = 100 * time.Millisecond

	c := New(opts, sink, fixedCores(1), testLogger())
	require.NoError(t, c.Initialize())

	rep, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrStuckWorker)
	assert.True(t, rep.StuckWorker)
	assert.Nil(t, rep.BatchLatency)
	assert.Equal(t, StateReported, c.State())
}

func TestBackToBackRuns(t *testing.T) {
	sink := quietSink()
	sink.On("Report", mock.Anything).Twice()

	c := New(shortOptions(50*time.Millisecond), sink, fixedCores(1), testLogger())

	require.NoError(t, c.Initialize())
	first, err := c.Run(context.Background())
	require.NoError(t, err)

	_, err = c.Run(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState, "a second run needs Initialize")

	require.NoError(t, c.Initialize())
	assert.Zero(t, c.Registry().HashOps(), "initialize resets the registry")
	second, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Less(t, second.TotalElapsedSeconds, 5.0, "clock restarts per run")
}

func TestElasticRunUsesEstimator(t *testing.T) {
	sink := quietSink()
	sink.On("Report", mock.Anything).Once()

	opts := shortOptions(150 * time.Millisecond)
	opts.Elastic = true
	opts.ManageEvery = 20 * time.Millisecond
	opts.LoadEstimator = EstimatorRate

	c := New(opts, sink, fixedCores(2), testLogger())
	require.NoError(t, c.Initialize())

	rep, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Positive(t, rep.HashOps)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "reported", StateReported.String())
	assert.Equal(t, "state(9)", State(9).String())
}
