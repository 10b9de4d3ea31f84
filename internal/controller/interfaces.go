package controller

import "github.com/p-arndt/sysstress/protocol"

// DisplaySink receives live snapshots, worker errors and the final report.
type DisplaySink interface {
	Update(s protocol.Snapshot)
	Report(r protocol.Report)
	Errorf(format string, args ...any)
	Notice(msg string)
}

// CoreDetector reports how many CPU workers to start.
type CoreDetector interface {
	Cores() int
}

// ReportRecorder persists final reports.
type ReportRecorder interface {
	RecordReport(r protocol.Report) error
}
