package controller

import (
	"fmt"

	"github.com/stretchr/testify/mock"

	"github.com/p-arndt/sysstress/protocol"
)

// MockSink mocks the DisplaySink interface.
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Update(s protocol.Snapshot) {
	m.Called(s)
}

func (m *MockSink) Report(r protocol.Report) {
	m.Called(r)
}

func (m *MockSink) Errorf(format string, args ...any) {
	m.Called(fmt.Sprintf(format, args...))
}

func (m *MockSink) Notice(msg string) {
	m.Called(msg)
}

// MockDetector mocks the CoreDetector interface.
type MockDetector struct {
	mock.Mock
}

func (m *MockDetector) Cores() int {
	args := m.Called()
	return args.Int(0)
}

// MockRecorder mocks the ReportRecorder interface.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordReport(r protocol.Report) error {
	args := m.Called(r)
	return args.Error(0)
}

// blockingSource never returns until release is closed.
type blockingSource struct {
	release chan struct{}
}

func (b *blockingSource) Allocate(size int) ([]byte, error) {
	<-b.release
	return nil, fmt.Errorf("released")
}
