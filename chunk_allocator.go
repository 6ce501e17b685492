package slotpool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holmberd/go-slotpool/internal/subpool"
	"golang.org/x/sys/unix"
)

// ChunkAllocator provides the storage for subpool chunks.
// Alloc must return a region of exactly the requested size; Free receives
// that same region back.
type ChunkAllocator = subpool.Allocator

type MmapAllocatorConfig struct {
	// Number of released regions per size the allocator keeps mapped for reuse
	// before starting to unmap them. A value <= 0 unmaps regions immediately.
	FreeThreshold int
}

func DefaultMmapAllocatorConfig() MmapAllocatorConfig {
	return MmapAllocatorConfig{FreeThreshold: 0}
}

// MmapAllocator allocates chunk regions as anonymous mappings outside the Go heap,
// so large pools add nothing for the GC to scan.
// It is safe for concurrent use and may be shared by many pools.
type MmapAllocator struct {
	mu   sync.Mutex
	free map[int][][]byte // Released regions by size.

	freeThreshold int
}

// NewMmapAllocator creates a new mmap-backed allocator with an empty region cache.
func NewMmapAllocator(config MmapAllocatorConfig) *MmapAllocator {
	return &MmapAllocator{
		free:          make(map[int][][]byte),
		freeThreshold: config.FreeThreshold,
	}
}

// Alloc returns a cached region of the given size or maps a new one.
func (a *MmapAllocator) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid region size %d", size)
	}

	a.mu.Lock()
	if regions := a.free[size]; len(regions) > 0 {
		n := len(regions) - 1
		region := regions[n]
		regions[n] = nil
		a.free[size] = regions[:n]
		a.mu.Unlock()
		return region, nil
	}
	a.mu.Unlock()

	data, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, fmt.Errorf("cannot allocate %d bytes via mmap: %w", size, err)
	}
	return data, nil
}

// Free returns a region to the cache, unmapping regions beyond the free threshold.
func (a *MmapAllocator) Free(b []byte) error {
	if b == nil {
		return nil
	}
	size := cap(b)
	b = b[:size] // Munmap needs the region as it was mapped.

	if a.freeThreshold <= 0 {
		return unix.Munmap(b)
	}

	a.mu.Lock()
	var toUnmap [][]byte
	a.free[size] = append(a.free[size], b)
	a.free[size], toUnmap = releaseRegions(a.free[size], a.freeThreshold)
	a.mu.Unlock()

	// Unmap outside of the lock to avoid blocking other pools.
	return unmapAll(toUnmap)
}

// Purge unmaps every cached region.
func (a *MmapAllocator) Purge() error {
	a.mu.Lock()
	var toUnmap [][]byte
	for size, regions := range a.free {
		toUnmap = append(toUnmap, regions...)
		delete(a.free, size)
	}
	a.mu.Unlock()
	return unmapAll(toUnmap)
}

// numFree returns the number of cached regions for a given size.
// It is primarily intended as helper method in tests.
func (a *MmapAllocator) numFree(size int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free[size])
}

func unmapAll(regions [][]byte) error {
	var errs []error
	for _, r := range regions {
		if err := unix.Munmap(r); err != nil {
			errs = append(errs, fmt.Errorf("unmap %d bytes: %w", len(r), err))
		}
	}
	return errors.Join(errs...)
}

// releaseRegions trims the free list if it exceeds the given threshold.
// It returns the updated list and the regions that were removed and should be unmapped.
func releaseRegions[P any](freeList []P, threshold int) (newList []P, toUnmap []P) {
	if threshold > 0 && len(freeList) > threshold {
		// Release half of the free regions to prevent thrashing around the threshold.
		freeCount := len(freeList) / 2
		toUnmap = freeList[:freeCount:freeCount]
		newList = freeList[freeCount:]
		return newList, toUnmap
	}
	return freeList, nil
}

// HeapAllocator allocates chunk regions on the Go heap.
type HeapAllocator struct{}

func (HeapAllocator) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid region size %d", size)
	}
	return make([]byte, size), nil
}

// Free drops the region and leaves it to the garbage collector.
func (HeapAllocator) Free([]byte) error {
	return nil
}
