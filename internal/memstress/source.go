package memstress

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAllocationRefused is returned when a block cannot be obtained.
var ErrAllocationRefused = errors.New("allocation refused")

// BlockSource hands out zeroed blocks of memory.
type BlockSource interface {
	Allocate(size int) ([]byte, error)
}

// Headroom reports how many bytes may still be allocated.
type Headroom interface {
	Available() (uint64, error)
}

// HeapSource allocates from the Go heap. With a Headroom set it refuses any
// request that would leave less than Floor bytes available, since the
// runtime aborts the process on a real out-of-memory condition.
type HeapSource struct {
	Headroom Headroom
	Floor    uint64
}

func (s *HeapSource) Allocate(size int) (b []byte, err error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: invalid block size %d", ErrAllocationRefused, size)
	}
	if s.Headroom != nil {
		avail, herr := s.Headroom.Available()
		if herr == nil && avail < uint64(size)+s.Floor {
			return nil, fmt.Errorf("%w: %d bytes available, floor %d", ErrAllocationRefused, avail, s.Floor)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			b = nil
			err = fmt.Errorf("%w: %v", ErrAllocationRefused, r)
		}
	}()
	return make([]byte, size), nil
}

// LimitedSource refuses once Limit bytes have been handed out.
type LimitedSource struct {
	Source BlockSource
	Limit  uint64

	mu   sync.Mutex
	used uint64
}

func NewLimitedSource(src BlockSource, limit uint64) *LimitedSource {
	return &LimitedSource{Source: src, Limit: limit}
}

func (s *LimitedSource) Allocate(size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used+uint64(size) > s.Limit {
		return nil, fmt.Errorf("%w: limit of %d bytes reached", ErrAllocationRefused, s.Limit)
	}
	b, err := s.Source.Allocate(size)
	if err != nil {
		return nil, err
	}
	s.used += uint64(size)
	return b, nil
}

// Used is the number of bytes handed out so far.
func (s *LimitedSource) Used() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}
