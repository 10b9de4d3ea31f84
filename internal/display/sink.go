// Package display renders a stress run: live progress while the workers are
// busy, then the final report.
package display

import "github.com/p-arndt/sysstress/protocol"

// Sink receives progress from the controller. Implementations must be safe
// for concurrent use since workers report errors and notices directly.
type Sink interface {
	Update(s protocol.Snapshot)
	Report(r protocol.Report)
	Errorf(format string, args ...any)
	Notice(msg string)
}

var (
	_ Sink = (*Terminal)(nil)
	_ Sink = (*JSON)(nil)
	_ Sink = Discard{}
)

// Discard drops everything.
type Discard struct{}

func (Discard) Update(protocol.Snapshot) {}
func (Discard) Report(protocol.Report) {}
func (Discard) Errorf(string, ...any) {}
func (Discard) Notice(string) {}
