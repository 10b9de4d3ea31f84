package testutil

import (
	"testing"
	"time"

	"github.com/p-arndt/sysstress/internal/config"
	"github.com/p-arndt/sysstress/internal/store"
)

// TestConfig returns a Config sized for unit tests: a sub-second run, a few
// MiB of memory and a 1 MiB bandwidth buffer.
func TestConfig() *config.Config {
	cfg := config.Default()
	cfg.Duration = 200 * time.Millisecond
	cfg.RefreshInterval = 10 * time.Millisecond
	cfg.Memory.Multiplier = 1
	cfg.Memory.BaseUnit = 4 << 20
	cfg.Memory.Floor = 0
	cfg.CPU.Workers = 1
	cfg.CPU.BatchSize = 16
	cfg.CPU.ExponentScale = 100
	cfg.Bandwidth.BufferSize = 1 << 20
	cfg.Bandwidth.Iterations = 1
	cfg.Bandwidth.Interval = 20 * time.Millisecond
	cfg.HistoryDB = ":memory:"
	cfg.LogLevel = "error"
	return cfg
}

// NewTestStore creates an in-memory SQLite store for testing.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
