package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/p-arndt/sysstress/protocol"
)

// Sentinel errors
var (
	ErrNotFound = errors.New("not found")
)

// isBusyLock reports whether err indicates SQLite database lock (SQLITE_BUSY).
// Handles wrapped errors from database/sql.
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// retryOnBusy runs fn and retries on SQLITE_BUSY with exponential backoff.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

// Run is one recorded stress run. Report holds the full final report as it
// was emitted; the other fields are copied out for listing.
type Run struct {
	ID             string          `json:"id"`
	StartedAt      time.Time       `json:"started_at"`
	ElapsedSeconds float64         `json:"elapsed_seconds"`
	CoreCount      int             `json:"core_count"`
	HashOps        uint64          `json:"hash_ops"`
	PeakBytes      uint64          `json:"peak_bytes"`
	BandwidthMiBps float64         `json:"bandwidth_mibps"`
	AllocFailures  uint64          `json:"alloc_failures"`
	Interrupted    bool            `json:"interrupted"`
	Report         protocol.Report `json:"report"`
}

type Store struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	started_at      DATETIME NOT NULL,
	elapsed_seconds REAL NOT NULL DEFAULT 0,
	core_count      INTEGER NOT NULL DEFAULT 0,
	hash_ops        INTEGER NOT NULL DEFAULT 0,
	peak_bytes      INTEGER NOT NULL DEFAULT 0,
	bandwidth_mibps REAL NOT NULL DEFAULT 0,
	alloc_failures  INTEGER NOT NULL DEFAULT 0,
	interrupted     INTEGER NOT NULL DEFAULT 0,
	report          TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// dsnWithPragmas returns a connection string with WAL, busy_timeout, and perf
// pragmas applied to every new connection. Two runs finishing at once on the
// same history file wait on each other instead of failing.
func dsnWithPragmas(dbPath string) string {
	// busy_timeout: 5s wait on lock
	// journal_mode=WAL: history reads while a run is being recorded
	// synchronous=NORMAL: safe in WAL
	return dbPath + "?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)"
}

// New opens the history database at dbPath, creating the schema if needed.
// ":memory:" gives a private in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dsnWithPragmas(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: an in-memory database exists per connection and the
	// CLI only ever has one writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordReport stores a final report. Recording the same run twice replaces
// the earlier row.
func (s *Store) RecordReport(r protocol.Report) error {
	if r.RunID == "" {
		return fmt.Errorf("recording run: missing run id")
	}
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	err = retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT OR REPLACE INTO runs (id, started_at, elapsed_seconds, core_count, hash_ops, peak_bytes, bandwidth_mibps, alloc_failures, interrupted, report)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, r.StartedAt.UTC(), r.TotalElapsedSeconds, r.CoreCount,
			int64(r.HashOps), int64(r.PeakBytes), r.BandwidthMiBps, int64(r.AllocFailures),
			r.Interrupted, string(body),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

const selectRunSQL = `SELECT id, started_at, elapsed_seconds, core_count, hash_ops, peak_bytes, bandwidth_mibps, alloc_failures, interrupted, report FROM runs`

func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(selectRunSQL+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(selectRunSQL+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (s *Store) DeleteRun(id string) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
		return e
	})
	if err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	return checkRowAffected(result, id)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var run Run
	var hashOps, peak, failures int64
	var body string
	err := row.Scan(
		&run.ID, &run.StartedAt, &run.ElapsedSeconds, &run.CoreCount,
		&hashOps, &peak, &run.BandwidthMiBps, &failures, &run.Interrupted, &body,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	run.HashOps = uint64(hashOps)
	run.PeakBytes = uint64(peak)
	run.AllocFailures = uint64(failures)
	if err := json.Unmarshal([]byte(body), &run.Report); err != nil {
		return nil, fmt.Errorf("decoding report for run %s: %w", run.ID, err)
	}
	return &run, nil
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

func checkRowAffected(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}
