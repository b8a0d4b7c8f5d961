package jit

import (
	"fmt"
	"sync"

	"github.com/colorfulnotion/jamjit/jiterrors"
	"github.com/colorfulnotion/jamjit/log"
)

const (
	// MaxRegionSize keeps every pair of addresses inside one region within
	// reach of a rel32 displacement.
	MaxRegionSize = 1<<31 - 1<<16

	DefaultRegionSize  = 512 << 20
	DefaultCommitChunk = 1 << 20
	DefaultAlign       = 16
)

type regionState uint8

const (
	regionUninitialized regionState = iota
	regionReady
	regionFinalized
)

// Allocation is a range handed out by a Region. It is never moved, resized
// or freed on its own.
type Allocation struct {
	Addr  uintptr
	Size  int
	Align int
	Exec  bool
}

// End returns the first address past the allocation.
func (a Allocation) End() uintptr { return a.Addr + uintptr(a.Size) }

// Region is a bounded, reserved address range. Code is carved from the
// bottom and data from the top; pages are committed in chunks as the
// cursors advance. Individual ranges are never freed: generated code may be
// running on any thread at any time, so memory goes back to the system only
// when the whole region is finalized.
type Region struct {
	name  string
	size  int
	chunk int
	page  int

	once    sync.Once
	initErr error

	mu            sync.Mutex
	state         regionState
	mem           []byte
	base          uintptr
	codeTop       int // next free code offset
	codeCommitted int // end of committed code pages
	dataBottom    int // lowest data offset handed out
	dataCommitted int // start of committed data pages
}

// NewRegion describes a region; no address space is reserved until
// Initialize. Zero arguments select the defaults.
func NewRegion(name string, size, commitChunk int) *Region {
	if size <= 0 {
		size = DefaultRegionSize
	}
	if commitChunk <= 0 {
		commitChunk = DefaultCommitChunk
	}
	page := pageSize()
	return &Region{
		name:  name,
		size:  alignUp(size, page),
		chunk: alignUp(commitChunk, page),
		page:  page,
	}
}

// Initialize reserves the address range. Only the first call does work;
// later calls return the first result.
func (r *Region) Initialize() error {
	r.once.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.state == regionFinalized {
			r.initErr = fmt.Errorf("region %s: %w", r.name, jiterrors.ErrRegionFinalized)
			return
		}
		if r.size > MaxRegionSize {
			r.initErr = fmt.Errorf("region %s: %d bytes: %w", r.name, r.size, jiterrors.ErrRegionTooLarge)
			return
		}
		mem, err := reserveRegion(r.size)
		if err != nil {
			r.initErr = fmt.Errorf("region %s: reserve %d bytes: %w", r.name, r.size, err)
			return
		}
		r.mem = mem
		r.base = addrOf(mem)
		r.dataBottom = r.size
		r.dataCommitted = r.size
		r.state = regionReady
		log.Debug(log.JitModule, "region reserved", "region", r.name, "base", fmt.Sprintf("0x%x", r.base), "size", r.size)
	})
	return r.initErr
}

// Alloc hands out size bytes aligned to align (0 selects DefaultAlign).
// exec selects the code end of the region; data allocations are never
// executable. Safe for concurrent use: only the cursor update is locked,
// callers write into their ranges without further coordination.
func (r *Region) Alloc(size, align int, exec bool) (Allocation, error) {
	if align == 0 {
		align = DefaultAlign
	}
	if size <= 0 || align < 0 || align&(align-1) != 0 {
		return Allocation{}, fmt.Errorf("region %s: invalid allocation size=%d align=%d", r.name, size, align)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case regionUninitialized:
		return Allocation{}, fmt.Errorf("region %s: %w", r.name, jiterrors.ErrRegionNotInitialized)
	case regionFinalized:
		return Allocation{}, fmt.Errorf("region %s: %w", r.name, jiterrors.ErrRegionFinalized)
	}

	var (
		off int
		err error
	)
	if exec {
		off, err = r.allocCode(size, align)
	} else {
		off, err = r.allocData(size, align)
	}
	if err != nil {
		return Allocation{}, err
	}
	r.updateMetrics()
	return Allocation{Addr: r.base + uintptr(off), Size: size, Align: align, Exec: exec}, nil
}

func (r *Region) exhausted(size, align int, exec bool) error {
	return fmt.Errorf("region %s: size=%d align=%d exec=%v used=%d/%d: %w",
		r.name, size, align, exec, r.usedLocked(), r.size, jiterrors.ErrAllocationExhausted)
}

// caller holds r.mu
func (r *Region) allocCode(size, align int) (int, error) {
	start := int(alignUp(uint64(r.base)+uint64(r.codeTop), uint64(align)) - uint64(r.base))
	end := start + size
	limit := alignDown(r.dataBottom, r.page)
	if end < start || alignUp(end, r.page) > limit {
		return 0, r.exhausted(size, align, true)
	}
	if end > r.codeCommitted {
		commit := min(alignUp(end, r.chunk), limit)
		if err := protectRange(r.mem[r.codeCommitted:commit], true); err != nil {
			return 0, fmt.Errorf("region %s: commit code [%d,%d): %w", r.name, r.codeCommitted, commit, err)
		}
		r.codeCommitted = commit
		// unused data pages below the data cursor now belong to code
		r.dataCommitted = max(r.dataCommitted, commit)
	}
	r.codeTop = end
	return start, nil
}

// caller holds r.mu
func (r *Region) allocData(size, align int) (int, error) {
	if size > r.dataBottom {
		return 0, r.exhausted(size, align, false)
	}
	abs := uint64(r.base) + uint64(r.dataBottom-size)
	start := int(alignDown(abs, uint64(align)) - uint64(r.base))
	floor := alignUp(r.codeTop, r.page)
	if start < 0 || alignDown(start, r.page) < floor {
		return 0, r.exhausted(size, align, false)
	}
	if start < r.dataCommitted {
		commit := max(alignDown(start, r.chunk), floor)
		if err := protectRange(r.mem[commit:r.dataCommitted], false); err != nil {
			return 0, fmt.Errorf("region %s: commit data [%d,%d): %w", r.name, commit, r.dataCommitted, err)
		}
		r.dataCommitted = commit
		r.codeCommitted = min(r.codeCommitted, commit)
	}
	r.dataBottom = start
	return start, nil
}

// Release does nothing. An address may already be executing on another
// thread with no reference count to tell when it stops; memory is only
// reclaimed by Finalize.
func (r *Region) Release(addr uintptr) {
	log.Trace(log.JitModule, "release deferred", "region", r.name, "addr", fmt.Sprintf("0x%x", addr))
}

// Finalize unmaps the whole region. It must be the last call: later Alloc
// calls fail, and calling into previously returned code is undefined.
func (r *Region) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == regionFinalized {
		return nil
	}
	prev := r.state
	r.state = regionFinalized
	if prev == regionUninitialized || r.mem == nil {
		return nil
	}
	err := unmap(r.mem)
	log.Debug(log.JitModule, "region finalized", "region", r.name, "used", r.usedLocked(), "err", err)
	r.mem = nil
	r.base = 0
	r.codeTop, r.codeCommitted = 0, 0
	r.dataBottom, r.dataCommitted = r.size, r.size
	r.updateMetrics()
	if err != nil {
		return fmt.Errorf("region %s: unmap: %w", r.name, err)
	}
	return nil
}

// Bytes returns a writable view of an allocation made by this region.
func (r *Region) Bytes(a Allocation) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil || a.Addr < r.base || a.End() > r.base+uintptr(r.size) {
		return nil
	}
	off := int(a.Addr - r.base)
	return r.mem[off : off+a.Size : off+a.Size]
}

// Name returns the region's diagnostic name.
func (r *Region) Name() string { return r.name }

// Capacity returns the reserved size in bytes.
func (r *Region) Capacity() int { return r.size }

// Used returns the bytes handed out, alignment padding included.
func (r *Region) Used() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usedLocked()
}

func (r *Region) usedLocked() int {
	return r.codeTop + (r.size - r.dataBottom)
}

// Bounds returns [start, end) of the reservation, or zeros when unmapped.
func (r *Region) Bounds() (start, end uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return 0, 0
	}
	return r.base, r.base + uintptr(r.size)
}

// Contains reports whether addr lies inside the reservation.
func (r *Region) Contains(addr uintptr) bool {
	start, end := r.Bounds()
	return addr >= start && addr < end
}

func (r *Region) updateMetrics() {
	regionBytesUsed.WithLabelValues(r.name, "code").Set(float64(r.codeTop))
	regionBytesUsed.WithLabelValues(r.name, "data").Set(float64(r.size - r.dataBottom))
}
