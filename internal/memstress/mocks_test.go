package memstress

import (
	"fmt"

	"github.com/stretchr/testify/mock"
)

// MockReporter mocks the ErrorReporter interface.
type MockReporter struct {
	mock.Mock
}

func (m *MockReporter) Errorf(format string, args ...any) {
	m.Called(fmt.Sprintf(format, args...))
}

// MockHeadroom mocks the Headroom interface.
type MockHeadroom struct {
	mock.Mock
}

func (m *MockHeadroom) Available() (uint64, error) {
	args := m.Called()
	return args.Get(0).(uint64), args.Error(1)
}
