package pool

import (
	"sync"

	"github.com/stretchr/testify/mock"
)

// MockEstimator mocks the LoadEstimator interface.
type MockEstimator struct {
	mock.Mock
}

func (m *MockEstimator) EstimateLoad() float64 {
	args := m.Called()
	return args.Get(0).(float64)
}

// recordingNotifier collects scaling notices.
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingNotifier) Notice(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingNotifier) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}
