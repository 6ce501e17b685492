package slotpool

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"unsafe"

	"github.com/holmberd/go-slotpool/internal/subpool"
)

type poolState int

const (
	stateIdle poolState = iota // Normal operation.

	// stateCorrupted indicates a free slot was written after release.
	// Allocation is disabled until DeallocateAll.
	stateCorrupted

	stateDestroyed // All chunks are released; every operation is a no-op or error.
)

func (s poolState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateCorrupted:
		return "corrupted"
	case stateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("poolState(%d)", s)
	}
}

// Stats is a snapshot of a pool's accounting.
type Stats struct {
	SlotSize          int // Size of every slot, in bytes.
	Subpools          int // Number of chunks.
	AvailableSubpools int // Chunks with at least one free slot.
	ExhaustedSubpools int // Chunks without free slots.
	TotalSlots        int
	UsedSlots         int
}

// Pool hands out equally-sized slots from a growing set of chunks.
//
// Chunks with free slots are kept in the available chain and full chunks in the
// exhausted chain; a chunk moves between them on the allocation or release that
// changes its state, so the head of the available chain always has a free slot.
//
// A Pool is not safe for concurrent use.
type Pool struct {
	logger    *slog.Logger
	allocator ChunkAllocator

	slotSize    int             // Slot size of every chunk.
	slotCount   int             // Slots per chunk, used for the first and every grown chunk.
	maxSubpools int             // Chunk limit, 0 for unlimited.
	opts        subpool.Options // Per-slot options passed to every chunk.

	chunks    []*subpool.Subpool // Every chunk, ordered by start address.
	available chain              // Chunks with free slots.
	exhausted chain              // Full chunks.

	totalSlots int
	usedSlots  int
	nextID     uint64
	state      poolState
}

func newPool(config Config) (*Pool, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		logger:      logger,
		allocator:   config.Allocator,
		slotSize:    config.SlotSize,
		slotCount:   config.SlotCount,
		maxSubpools: config.MaxSubpools,
		opts: subpool.Options{
			Guard:      config.GuardFreeSlots,
			ZeroOnFree: config.ZeroOnFree,
		},
	}
	s, err := p.addSubpool()
	if err != nil {
		return nil, err
	}
	p.available.pushHead(s)
	return p, nil
}

// setCorrupted sets the pool state to corrupted and logs the provided error.
func (p *Pool) setCorrupted(err error) error {
	p.state = stateCorrupted
	p.logger.Error(
		"Free slot corruption detected. Allocation is disabled until DeallocateAll",
		"error", err,
	)
	return fmt.Errorf("%w: %w", ErrPoolCorrupted, err)
}

// addSubpool creates a chunk and records it in the chunk table and totals.
// The caller links it into a chain.
func (p *Pool) addSubpool() (*subpool.Subpool, error) {
	s, err := subpool.New(p.allocator, p.nextID+1, p.slotSize, p.slotCount, p.opts)
	if err != nil {
		return nil, err
	}
	p.nextID++

	i := sort.Search(len(p.chunks), func(i int) bool { return p.chunks[i].Start() > s.Start() })
	p.chunks = slices.Insert(p.chunks, i, s)
	p.totalSlots += s.SlotCount()
	return s, nil
}

// releaseSubpool removes an empty chunk from the chunk table and totals and
// returns its storage. The caller unlinks it from its chain first.
func (p *Pool) releaseSubpool(s *subpool.Subpool) {
	i := sort.Search(len(p.chunks), func(i int) bool { return p.chunks[i].Start() >= s.Start() })
	if i < len(p.chunks) && p.chunks[i] == s {
		p.chunks = slices.Delete(p.chunks, i, i+1)
	}
	p.totalSlots -= s.SlotCount()

	id := s.ID()
	if err := s.Destroy(p.allocator); err != nil {
		p.logger.Error("failed to release chunk", "chunk", id, "error", err)
	}
}

// grow adds a chunk to the head of the available chain.
func (p *Pool) grow() error {
	if p.maxSubpools > 0 && len(p.chunks) >= p.maxSubpools {
		return fmt.Errorf("%w: subpool limit %d reached", ErrFull, p.maxSubpools)
	}
	s, err := p.addSubpool()
	if err != nil {
		return err
	}
	p.available.pushHead(s)
	p.logger.Debug("pool grown",
		"chunk", s.ID(),
		"subpools", len(p.chunks),
		"totalSlots", p.totalSlots,
	)
	return nil
}

// owner returns the chunk whose slot range contains addr, or nil.
func (p *Pool) owner(addr uintptr) *subpool.Subpool {
	i := sort.Search(len(p.chunks), func(i int) bool { return p.chunks[i].Start() > addr })
	if i == 0 {
		return nil
	}
	if s := p.chunks[i-1]; s.Owns(addr) {
		return s
	}
	return nil
}

// Allocate returns a slot of SlotSize bytes, growing the pool if every chunk is full.
// The returned slice is owned by the caller until it is passed to Deallocate.
func (p *Pool) Allocate() ([]byte, error) {
	switch p.state {
	case stateDestroyed:
		return nil, ErrPoolDestroyed
	case stateCorrupted:
		return nil, ErrPoolCorrupted
	}

	if p.available.len() == 0 {
		if err := p.grow(); err != nil {
			return nil, err
		}
	}

	s := p.available.head()
	b, err := s.Allocate()
	if err != nil {
		if errors.Is(err, subpool.ErrSlotCorrupted) {
			return nil, p.setCorrupted(err)
		}
		return nil, err
	}
	p.usedSlots++

	if s.Full() {
		p.available.popHead()
		p.exhausted.pushHead(s)
	}
	return b, nil
}

// Deallocate returns the slot referenced by ptr to the pool and sets *ptr to nil.
// It is a no-op if ptr or *ptr is nil, so releasing a reference twice is safe.
// It returns ErrIllegalPointer if the slot was not handed out by this pool or is
// not currently allocated; the pool is unchanged in that case.
func (p *Pool) Deallocate(ptr *[]byte) error {
	if ptr == nil || *ptr == nil {
		return nil
	}
	if p.state == stateDestroyed {
		return ErrPoolDestroyed
	}
	if cap(*ptr) == 0 {
		return fmt.Errorf("%w: empty slice", ErrIllegalPointer)
	}

	addr := uintptr(unsafe.Pointer(unsafe.SliceData(*ptr)))
	s := p.owner(addr)
	if s == nil {
		return fmt.Errorf("%w: %#x", ErrIllegalPointer, addr)
	}

	wasFull := s.Full()
	if err := s.Deallocate(addr); err != nil {
		return err
	}
	p.usedSlots--

	if wasFull {
		p.exhausted.remove(s)
		p.available.pushHead(s)
	}
	*ptr = nil
	return nil
}

// DeallocateAll returns every slot to the pool without releasing any chunk.
// All slices handed out before the call become invalid.
func (p *Pool) DeallocateAll() {
	if p.state == stateDestroyed {
		return
	}
	recovered := 0
	for _, s := range p.chunks {
		recovered += s.Reset()
	}
	p.usedSlots -= recovered
	p.available.appendTail(&p.exhausted)
	p.state = stateIdle

	p.logger.Debug("pool reset", "recoveredSlots", recovered, "subpools", len(p.chunks))
}

// FreeUnused releases chunks without allocated slots and returns the number
// of slots reclaimed. The pool always keeps at least one chunk.
func (p *Pool) FreeUnused() int {
	if p.state == stateDestroyed || len(p.chunks) <= 1 {
		return 0
	}

	// Walk from the tail so the most recently used chunks are the ones kept.
	reclaimed := 0
	kept := p.available.subpools[:0]
	for _, s := range p.available.subpools {
		if s.Empty() && len(p.chunks) > 1 {
			reclaimed += s.SlotCount()
			p.releaseSubpool(s)
			continue
		}
		kept = append(kept, s)
	}
	clear(p.available.subpools[len(kept):])
	p.available.subpools = kept

	if reclaimed > 0 {
		p.logger.Debug("unused chunks released",
			"reclaimedSlots", reclaimed,
			"subpools", len(p.chunks),
		)
	}
	return reclaimed
}

// Destroy releases every chunk. The pool cannot be used afterwards;
// calling Destroy again is a no-op.
func (p *Pool) Destroy() error {
	if p == nil || p.state == stateDestroyed {
		return nil
	}
	var errs []error
	for _, s := range p.chunks {
		id := s.ID()
		if err := s.Destroy(p.allocator); err != nil {
			errs = append(errs, fmt.Errorf("release chunk %d: %w", id, err))
		}
	}
	p.chunks = nil
	p.available.reset()
	p.exhausted.reset()
	p.totalSlots = 0
	p.usedSlots = 0
	p.state = stateDestroyed
	return errors.Join(errs...)
}

// SlotSize returns the size of every slot, in bytes.
func (p *Pool) SlotSize() int {
	return p.slotSize
}

// SubpoolCount returns the number of chunks held by the pool.
func (p *Pool) SubpoolCount() int {
	return len(p.chunks)
}

// UsedBytes returns the number of bytes in allocated slots.
func (p *Pool) UsedBytes() uint64 {
	return uint64(p.usedSlots) * uint64(p.slotSize)
}

// AvailableBytes returns the number of bytes in free slots.
func (p *Pool) AvailableBytes() uint64 {
	return uint64(p.totalSlots-p.usedSlots) * uint64(p.slotSize)
}

// TotalBytes returns the payload capacity of all chunks, in bytes.
func (p *Pool) TotalBytes() uint64 {
	return uint64(p.totalSlots) * uint64(p.slotSize)
}

func (p *Pool) Stats() Stats {
	return Stats{
		SlotSize:          p.slotSize,
		Subpools:          len(p.chunks),
		AvailableSubpools: p.available.len(),
		ExhaustedSubpools: p.exhausted.len(),
		TotalSlots:        p.totalSlots,
		UsedSlots:         p.usedSlots,
	}
}

func (p *Pool) String() string {
	return fmt.Sprintf(
		"Pool{state: %s, subpools: %d, slotSize: %d, slots: %d, used: %d}",
		p.state, len(p.chunks), p.slotSize, p.totalSlots, p.usedSlots,
	)
}
