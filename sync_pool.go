package slotpool

import "sync"

// SyncPool is a Pool guarded by a single mutex.
// It is safe for concurrent use by multiple goroutines.
type SyncPool struct {
	mu   sync.Mutex
	pool *Pool
}

// NewSyncPool wraps p. The caller must not use p directly afterwards.
func NewSyncPool(p *Pool) *SyncPool {
	return &SyncPool{pool: p}
}

func (p *SyncPool) Allocate() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool.Allocate()
}

func (p *SyncPool) Deallocate(ptr *[]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool.Deallocate(ptr)
}

func (p *SyncPool) DeallocateAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pool.DeallocateAll()
}

func (p *SyncPool) FreeUnused() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool.FreeUnused()
}

func (p *SyncPool) UsedBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool.UsedBytes()
}

func (p *SyncPool) AvailableBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool.AvailableBytes()
}

func (p *SyncPool) TotalBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool.TotalBytes()
}

func (p *SyncPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool.Stats()
}

func (p *SyncPool) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool.Destroy()
}
