package display

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/p-arndt/sysstress/protocol"
)

// JSON writes one protocol.Message per line.
type JSON struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSON(out io.Writer) *JSON {
	return &JSON{enc: json.NewEncoder(out)}
}

func (j *JSON) write(msg protocol.Message) {
	j.mu.Lock()
	defer j.mu.Unlock()
	_ = j.enc.Encode(msg)
}

func (j *JSON) Update(s protocol.Snapshot) {
	j.write(protocol.Message{Type: protocol.MessageSnapshot, Snapshot: &s})
}

func (j *JSON) Report(r protocol.Report) {
	j.write(protocol.Message{Type: protocol.MessageReport, Report: &r})
}

func (j *JSON) Errorf(format string, args ...any) {
	j.write(protocol.Message{Type: protocol.MessageError, Error: fmt.Sprintf(format, args...)})
}

func (j *JSON) Notice(msg string) {
	j.write(protocol.Message{Type: protocol.MessageNotice, Notice: msg})
}
