// Package subpool implements a single chunk of equally-sized slots.
//
// A subpool owns one contiguous payload region obtained from an Allocator and
// keeps its free-list metadata on the Go heap: a stack of free slot indices
// and an occupancy bitset.
package subpool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unsafe"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

// GuardSize is the number of leading payload bytes used by a free-slot guard.
const GuardSize = 8

var (
	ErrAlloc           = errors.New("chunk allocation failed")
	ErrFull            = errors.New("no free slots")
	ErrIllegalPointer  = errors.New("pointer not owned by pool")
	ErrDoubleFree      = fmt.Errorf("%w: slot is not allocated", ErrIllegalPointer)
	ErrSlotCorrupted   = errors.New("free slot was written after release")
	ErrInvalidGeometry = errors.New("invalid slot geometry")
)

// Allocator provides the raw storage backing a subpool.
type Allocator interface {
	Alloc(size int) ([]byte, error) // Alloc returns a region of exactly size bytes.
	Free(b []byte) error            // Free releases a region returned by Alloc.
}

// Options tunes the per-slot behavior of a subpool.
type Options struct {
	Guard      bool // Write and verify a guard word in every free slot.
	ZeroOnFree bool // Zero the payload when a slot is released.
}

// Subpool is a chunk of slotCount slots of slotSize bytes each.
// It is not safe for concurrent use.
type Subpool struct {
	id        uint64
	slotSize  int
	slotCount int
	used      int
	data      []byte         // Payload region.
	start     uintptr        // Address of the first slot.
	free      []uint32       // Stack of free slot indices, top is the last element.
	occupied  *bitset.BitSet // Set bits mark allocated slots.
	opts      Options
}

// New allocates the storage for a subpool and links every slot into its free list.
func New(alloc Allocator, id uint64, slotSize, slotCount int, opts Options) (*Subpool, error) {
	if err := validateGeometry(slotSize, slotCount, opts); err != nil {
		return nil, err
	}
	data, err := alloc.Alloc(slotSize * slotCount)
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes: %w", ErrAlloc, slotSize*slotCount, err)
	}
	if len(data) < slotSize*slotCount {
		// Never keep a short region; hand it straight back.
		_ = alloc.Free(data)
		return nil, fmt.Errorf("%w: allocator returned %d of %d bytes", ErrAlloc, len(data), slotSize*slotCount)
	}

	s := &Subpool{
		id:        id,
		slotSize:  slotSize,
		slotCount: slotCount,
		data:      data[:slotSize*slotCount : slotSize*slotCount],
		start:     uintptr(unsafe.Pointer(unsafe.SliceData(data))),
		free:      make([]uint32, 0, slotCount),
		occupied:  bitset.New(uint(slotCount)),
		opts:      opts,
	}
	s.init()
	return s, nil
}

func validateGeometry(slotSize, slotCount int, opts Options) error {
	var errs []error
	if slotSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: slot size %d must be positive", ErrInvalidGeometry, slotSize))
	}
	if slotCount <= 0 || uint64(slotCount) > math.MaxUint32 {
		errs = append(errs, fmt.Errorf("%w: slot count %d out of range", ErrInvalidGeometry, slotCount))
	}
	if slotSize > 0 && slotCount > 0 && slotSize > math.MaxInt/slotCount {
		errs = append(errs, fmt.Errorf("%w: %d slots of %d bytes overflow", ErrInvalidGeometry, slotCount, slotSize))
	}
	if opts.Guard && slotSize < GuardSize {
		errs = append(errs, fmt.Errorf("%w: guards need slots of at least %d bytes", ErrInvalidGeometry, GuardSize))
	}
	return errors.Join(errs...)
}

// init resets the free list so that slots are handed out in ascending index order.
func (s *Subpool) init() {
	s.free = s.free[:0]
	for i := s.slotCount - 1; i >= 0; i-- {
		s.free = append(s.free, uint32(i))
		if s.opts.Guard {
			s.writeGuard(i)
		}
	}
	s.occupied.ClearAll()
	s.used = 0
}

// Destroy releases the subpool's storage and clears its fields.
// It is a no-op on a nil or already destroyed subpool.
func (s *Subpool) Destroy(alloc Allocator) error {
	if s == nil || s.data == nil {
		return nil
	}
	data := s.data
	*s = Subpool{}
	return alloc.Free(data)
}

func (s *Subpool) ID() uint64     { return s.id }
func (s *Subpool) SlotSize() int  { return s.slotSize }
func (s *Subpool) SlotCount() int { return s.slotCount }
func (s *Subpool) UsedCount() int { return s.used }
func (s *Subpool) FreeCount() int { return len(s.free) }
func (s *Subpool) Full() bool     { return len(s.free) == 0 }
func (s *Subpool) Empty() bool    { return s.used == 0 }

// Start returns the address of the first slot.
func (s *Subpool) Start() uintptr { return s.start }

// Last returns the address of the last slot.
func (s *Subpool) Last() uintptr {
	return s.start + uintptr(s.slotSize*(s.slotCount-1))
}

// Owns reports whether addr falls within the slot range of this subpool,
// regardless of whether the slot is currently allocated.
func (s *Subpool) Owns(addr uintptr) bool {
	if s.data == nil {
		return false
	}
	return addr >= s.start && addr <= s.Last()
}

// IndexOf returns the slot index designated by addr.
// The second result is false if addr is not owned or not on a slot boundary.
func (s *Subpool) IndexOf(addr uintptr) (int, bool) {
	if !s.Owns(addr) {
		return 0, false
	}
	offset := addr - s.start
	if offset%uintptr(s.slotSize) != 0 {
		return 0, false
	}
	return int(offset / uintptr(s.slotSize)), true
}

// IsAllocated reports whether the slot at idx is handed out.
func (s *Subpool) IsAllocated(idx int) bool {
	return idx >= 0 && idx < s.slotCount && s.occupied.Test(uint(idx))
}

// slot returns the payload of the slot at idx.
func (s *Subpool) slot(idx int) []byte {
	off := idx * s.slotSize
	return s.data[off : off+s.slotSize : off+s.slotSize]
}

// Allocate pops the next free slot.
// It returns ErrFull if no slot is free and ErrSlotCorrupted if the slot's guard
// was overwritten while it was free. The subpool is unchanged on error.
func (s *Subpool) Allocate() ([]byte, error) {
	n := len(s.free)
	if n == 0 {
		return nil, ErrFull
	}
	idx := int(s.free[n-1])
	if s.opts.Guard && !s.checkGuard(idx) {
		return nil, fmt.Errorf("%w: chunk %d slot %d", ErrSlotCorrupted, s.id, idx)
	}
	s.free = s.free[:n-1]
	s.occupied.Set(uint(idx))
	s.used++

	b := s.slot(idx)
	if s.opts.Guard {
		clear(b[:GuardSize])
	}
	return b, nil
}

// Deallocate returns the slot at addr to the free list.
func (s *Subpool) Deallocate(addr uintptr) error {
	idx, ok := s.IndexOf(addr)
	if !ok {
		return fmt.Errorf("%w: %#x", ErrIllegalPointer, addr)
	}
	if !s.occupied.Test(uint(idx)) {
		return fmt.Errorf("%w: chunk %d slot %d", ErrDoubleFree, s.id, idx)
	}
	if s.opts.ZeroOnFree {
		clear(s.slot(idx))
	}
	if s.opts.Guard {
		s.writeGuard(idx)
	}
	s.occupied.Clear(uint(idx))
	s.free = append(s.free, uint32(idx))
	s.used--
	return nil
}

// Reset returns every slot to the free list and reports how many slots were in use.
func (s *Subpool) Reset() int {
	n := s.used
	if s.opts.ZeroOnFree {
		clear(s.data)
	}
	s.init()
	return n
}

// guard returns the expected guard word of the slot at idx.
func (s *Subpool) guard(idx int) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], s.id)
	binary.LittleEndian.PutUint64(buf[8:], uint64(idx))
	return xxhash.Sum64(buf[:])
}

func (s *Subpool) writeGuard(idx int) {
	binary.LittleEndian.PutUint64(s.slot(idx)[:GuardSize], s.guard(idx))
}

func (s *Subpool) checkGuard(idx int) bool {
	return binary.LittleEndian.Uint64(s.slot(idx)[:GuardSize]) == s.guard(idx)
}

func (s *Subpool) String() string {
	return fmt.Sprintf(
		"Subpool{id: %d, slotSize: %d, slots: %d, used: %d, range: %#x-%#x}",
		s.id, s.slotSize, s.slotCount, s.used, s.start, s.Last(),
	)
}
