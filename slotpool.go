// Package slotpool implements a pool of fixed-size memory slots.
// Slots are carved from large pre-allocated chunks, so frequent create/destroy
// cycles of one object shape avoid per-object allocator bookkeeping.
//
// A Pool is not safe for concurrent use; wrap it in a SyncPool to share it
// between goroutines.
package slotpool

import (
	"errors"

	"github.com/holmberd/go-slotpool/internal/subpool"
)

var (
	defaultChunkAllocator = NewMmapAllocator(DefaultMmapAllocatorConfig())

	ErrAlloc          = subpool.ErrAlloc
	ErrFull           = subpool.ErrFull
	ErrIllegalPointer = subpool.ErrIllegalPointer
	ErrDoubleFree     = subpool.ErrDoubleFree
	ErrSlotCorrupted  = subpool.ErrSlotCorrupted
	ErrInvalidConfig  = errors.New("invalid config")
	ErrPoolCorrupted  = errors.New("pool is corrupted")
	ErrPoolDestroyed  = errors.New("pool is destroyed")
)

// New creates a pool of slotCount slots of slotSize bytes each, backed by the
// shared mmap allocator. The pool grows by slotCount slots whenever it is full.
func New(slotSize, slotCount int) (*Pool, error) {
	config := DefaultConfig()
	config.SlotSize = slotSize
	config.SlotCount = slotCount
	return Custom(config)
}

// Custom creates a new pool with a custom configuration.
func Custom(config Config) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return newPool(config)
}
