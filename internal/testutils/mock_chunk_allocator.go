package testutils

import (
	"errors"
	"sync/atomic"
)

// ErrMockAllocFailed is returned by MockChunkAllocator.Alloc once FailAfter is reached.
var ErrMockAllocFailed = errors.New("mock allocation failed")

// MockChunkAllocator hands out Go heap regions and counts calls.
// Set FailAfter to a positive n to make every Alloc after the first n fail.
type MockChunkAllocator struct {
	FailAfter int64

	allocCalls atomic.Int64
	freeCalls  atomic.Int64
	freeErr    atomic.Pointer[error]
}

func (a *MockChunkAllocator) Alloc(size int) ([]byte, error) {
	n := a.allocCalls.Add(1)
	if a.FailAfter > 0 && n > a.FailAfter {
		a.allocCalls.Add(-1)
		return nil, ErrMockAllocFailed
	}
	return make([]byte, size), nil
}

func (a *MockChunkAllocator) Free(b []byte) error {
	a.freeCalls.Add(1)
	if err := a.freeErr.Load(); err != nil {
		return *err
	}
	return nil
}

// FailFrees makes every subsequent Free call return err.
func (a *MockChunkAllocator) FailFrees(err error) {
	a.freeErr.Store(&err)
}

func (a *MockChunkAllocator) AllocCalls() int64 {
	return a.allocCalls.Load()
}

func (a *MockChunkAllocator) FreeCalls() int64 {
	return a.freeCalls.Load()
}

// ChunksInUse returns the number of regions allocated and not yet freed.
func (a *MockChunkAllocator) ChunksInUse() int64 {
	return a.AllocCalls() - a.FreeCalls()
}

func (a *MockChunkAllocator) Reset() {
	a.allocCalls.Store(0)
	a.freeCalls.Store(0)
	a.freeErr.Store(nil)
}
