// Package protocol defines the JSON-line message types a stress run emits:
// periodic snapshots while the workers are running and one final report.
package protocol

import "time"

// Message is the envelope written by the JSON display sink, one per line.
type Message struct {
	Type     MessageType `json:"type"`
	Snapshot *Snapshot   `json:"snapshot,omitempty"`
	Report   *Report     `json:"report,omitempty"`
	Error    string      `json:"error,omitempty"`
	Notice   string      `json:"notice,omitempty"`
}

type MessageType string

const (
	MessageSnapshot MessageType = "snapshot"
	MessageReport   MessageType = "report"
	MessageError    MessageType = "error"
	MessageNotice   MessageType = "notice"
)

// Snapshot is a point-in-time read of the metrics registry. Fields are read
// independently, so a snapshot is not a consistent cut across counters.
type Snapshot struct {
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
	BytesAllocated  uint64  `json:"bytes_allocated"`
	TargetBytes     uint64  `json:"target_bytes"`
	BandwidthMiBps  float64 `json:"bandwidth_mibps"`
	HashOps         uint64  `json:"hash_ops"`

	ReadMiBps   float64 `json:"read_mibps,omitempty"`
	WriteMiBps  float64 `json:"write_mibps,omitempty"`
	RandomMiBps float64 `json:"random_mibps,omitempty"`
	CPUWorkers  int     `json:"cpu_workers,omitempty"`
}

// TimeFraction is elapsed/duration clamped to [0,1].
func (s Snapshot) TimeFraction() float64 {
	if s.DurationSeconds <= 0 {
		return 0
	}
	return clamp01(s.ElapsedSeconds / s.DurationSeconds)
}

// MemoryFraction is allocated/target clamped to [0,1].
func (s Snapshot) MemoryFraction() float64 {
	if s.TargetBytes == 0 {
		return 0
	}
	return clamp01(float64(s.BytesAllocated) / float64(s.TargetBytes))
}

// Report is the final aggregate emitted once all workers have been joined.
type Report struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`

	Snapshot

	CoreCount           int     `json:"core_count"`
	TotalElapsedSeconds float64 `json:"total_elapsed_seconds"`
	PeakBytes           uint64  `json:"peak_bytes"`
	AllocFailures       uint64  `json:"alloc_failures"`

	BatchLatency   *LatencySummary   `json:"batch_latency,omitempty"`
	BandwidthStats *BandwidthSummary `json:"bandwidth_stats,omitempty"`

	Interrupted bool `json:"interrupted,omitempty"`
	StuckWorker bool `json:"stuck_worker,omitempty"`
}

// HashOpsPerSecond is the mean hash throughput over the whole run.
func (r Report) HashOpsPerSecond() float64 {
	if r.TotalElapsedSeconds <= 0 {
		return 0
	}
	return float64(r.HashOps) / r.TotalElapsedSeconds
}

// LatencySummary describes CPU batch durations in microseconds.
type LatencySummary struct {
	Count int64 `json:"count"`
	P50us int64 `json:"p50_us"`
	P99us int64 `json:"p99_us"`
	MaxUs int64 `json:"max_us"`
}

// BandwidthSummary describes accepted per-iteration bandwidth values.
type BandwidthSummary struct {
	Count    float64 `json:"count"`
	MinMiBps float64 `json:"min_mibps"`
	P50MiBps float64 `json:"p50_mibps"`
	P99MiBps float64 `json:"p99_mibps"`
	MaxMiBps float64 `json:"max_mibps"`
}

// EstimatedDDRMHz is a rough dual-channel DDR clock estimate assuming ~70%
// efficiency: bandwidth / (2 channels × 8 bytes × 0.7).
func EstimatedDDRMHz(bandwidthMiBps float64) int {
	if bandwidthMiBps <= 0 {
		return 0
	}
	return int(bandwidthMiBps / 11.2)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
