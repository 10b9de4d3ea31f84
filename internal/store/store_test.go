package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-arndt/sysstress/protocol"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testReport(id string, started time.Time) protocol.Report {
	return protocol.Report{
		RunID:     id,
		StartedAt: started,
		Snapshot: protocol.Snapshot{
			HashOps:        123456,
			BytesAllocated: 2 << 30,
			BandwidthMiBps: 18000.5,
		},
		CoreCount:           8,
		TotalElapsedSeconds: 30.001,
		PeakBytes:           (2 << 30) + (64 << 20),
		BatchLatency:        &protocol.LatencySummary{Count: 10, P50us: 90, P99us: 180, MaxUs: 400},
	}
}

func TestRecordAndGetRun(t *testing.T) {
	st := newTestStore(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rep := testReport("run-1", started)

	require.NoError(t, st.RecordReport(rep))

	got, err := st.GetRun("run-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "run-1", got.ID)
	assert.True(t, started.Equal(got.StartedAt))
	assert.Equal(t, 8, got.CoreCount)
	assert.Equal(t, uint64(123456), got.HashOps)
	assert.Equal(t, rep.PeakBytes, got.PeakBytes)
	assert.Equal(t, 18000.5, got.BandwidthMiBps)
	assert.False(t, got.Interrupted)
	require.NotNil(t, got.Report.BatchLatency)
	assert.Equal(t, int64(180), got.Report.BatchLatency.P99us)
}

func TestGetRunNotFound(t *testing.T) {
	st := newTestStore(t)

	got, err := st.GetRun("nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, got)
}

func TestRecordReportRequiresID(t *testing.T) {
	st := newTestStore(t)
	assert.Error(t, st.RecordReport(protocol.Report{}))
}

func TestRecordReportReplaces(t *testing.T) {
	st := newTestStore(t)
	rep := testReport("run-1", time.Now())
	require.NoError(t, st.RecordReport(rep))

	rep.Interrupted = true
	rep.AllocFailures = 2
	require.NoError(t, st.RecordReport(rep))

	runs, err := st.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Interrupted)
	assert.Equal(t, uint64(2), runs[0].AllocFailures)
}

func TestListRunsNewestFirst(t *testing.T) {
	st := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.RecordReport(testReport(fmt.Sprintf("r%d", i), base.Add(time.Duration(i)*time.Hour))))
	}

	runs, err := st.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 5)
	assert.Equal(t, "r4", runs[0].ID)
	assert.Equal(t, "r0", runs[4].ID)

	runs, err = st.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r4", runs[0].ID)
	assert.Equal(t, "r3", runs[1].ID)
}

func TestListRunsEmpty(t *testing.T) {
	st := newTestStore(t)

	runs, err := st.ListRuns(10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestDeleteRun(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.RecordReport(testReport("run-1", time.Now())))

	require.NoError(t, st.DeleteRun("run-1"))
	_, err := st.GetRun("run-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, st.DeleteRun("run-1"), ErrNotFound)
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	st, err := New(path)
	require.NoError(t, err)
	require.NoError(t, st.RecordReport(testReport("run-1", time.Now())))
	require.NoError(t, st.Close())

	st, err = New(path)
	require.NoError(t, err)
	defer st.Close()
	got, err := st.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, 8, got.CoreCount)
}

func TestConcurrentRecords(t *testing.T) {
	st := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, st.RecordReport(testReport(fmt.Sprintf("c%d", i), time.Now())))
		}(i)
	}
	wg.Wait()

	runs, err := st.ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, runs, 10)
}

func TestIsBusyLock(t *testing.T) {
	assert.False(t, isBusyLock(nil))
	assert.True(t, isBusyLock(fmt.Errorf("exec: database is locked")))
	assert.True(t, isBusyLock(fmt.Errorf("SQLITE_BUSY (5)")))
	assert.False(t, isBusyLock(fmt.Errorf("no such table")))
}

func TestRetryOnBusy(t *testing.T) {
	calls := 0
	err := retryOnBusy(func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}
