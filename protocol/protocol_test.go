package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotFractions(t *testing.T) {
	s := Snapshot{ElapsedSeconds: 15, DurationSeconds: 30, BytesAllocated: 512, TargetBytes: 2048}
	assert.InDelta(t, 0.5, s.TimeFraction(), 1e-9)
	assert.InDelta(t, 0.25, s.MemoryFraction(), 1e-9)

	over := Snapshot{ElapsedSeconds: 31, DurationSeconds: 30, BytesAllocated: 4096, TargetBytes: 2048}
	assert.Equal(t, 1.0, over.TimeFraction())
	assert.Equal(t, 1.0, over.MemoryFraction())

	var zero Snapshot
	assert.Zero(t, zero.TimeFraction())
	assert.Zero(t, zero.MemoryFraction())
}

func TestReportEmbedsSnapshotFlat(t *testing.T) {
	rep := Report{
		RunID:               "run-1",
		StartedAt:           time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Snapshot:            Snapshot{HashOps: 42, BytesAllocated: 1 << 20},
		CoreCount:           8,
		TotalElapsedSeconds: 30,
	}

	data, err := json.Marshal(Message{Type: MessageReport, Report: &rep})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "report", raw["type"])

	inner := raw["report"].(map[string]any)
	assert.Equal(t, float64(42), inner["hash_ops"])
	assert.Equal(t, float64(8), inner["core_count"])
	assert.NotContains(t, inner, "batch_latency")
}

func TestHashOpsPerSecond(t *testing.T) {
	rep := Report{Snapshot: Snapshot{HashOps: 300}, TotalElapsedSeconds: 30}
	assert.InDelta(t, 10.0, rep.HashOpsPerSecond(), 1e-9)
	assert.Zero(t, Report{}.HashOpsPerSecond())
}

func TestEstimatedDDRMHz(t *testing.T) {
	assert.Equal(t, 0, EstimatedDDRMHz(0))
	assert.Equal(t, 0, EstimatedDDRMHz(-5))
	assert.Equal(t, 2000, EstimatedDDRMHz(22400))
}
