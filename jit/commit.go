package jit

import (
	"fmt"

	"github.com/colorfulnotion/jamjit/jiterrors"
)

// Mode tells who owns a built function's bytes.
type Mode uint8

const (
	// RegionBacked code lives in a process-wide region until teardown.
	RegionBacked Mode = iota + 1
	// InlineBacked code lives in a fixed-capacity buffer owned by the function.
	InlineBacked
)

func (m Mode) String() string {
	switch m {
	case RegionBacked:
		return "region"
	case InlineBacked:
		return "inline"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// DefaultInlineCapacity is the inline buffer size used when none is given.
const DefaultInlineCapacity = 4096

// LinkFunc patches code for the address it will run at, before it becomes
// executable.
type LinkFunc func(base uintptr, code []byte) error

// Placement is where a Committer put the code.
type Placement struct {
	Addr uintptr
	// View is the committed bytes, exactly len(code) long.
	View []byte
	// Owned is non-nil when the caller owns the mapping and must unmap it.
	Owned []byte
}

// Committer places finished machine code in executable memory. A builder
// uses one committer for its whole life.
type Committer interface {
	Mode() Mode
	Commit(code []byte, align int, link LinkFunc) (Placement, error)
}

// RegionCommitter copies code into a shared Region.
type RegionCommitter struct {
	Region *Region
}

// Mode implements Committer.
func (c RegionCommitter) Mode() Mode { return RegionBacked }

// Commit implements Committer. A link failure after the range was reserved
// fills it with int3; the range itself stays reserved until teardown.
func (c RegionCommitter) Commit(code []byte, align int, link LinkFunc) (Placement, error) {
	a, err := c.Region.Alloc(len(code), max(align, DefaultAlign), true)
	if err != nil {
		return Placement{}, err
	}
	dst := c.Region.Bytes(a)
	if dst == nil {
		return Placement{}, fmt.Errorf("region %s: allocation 0x%x not mapped: %w", c.Region.Name(), a.Addr, jiterrors.ErrRegionFinalized)
	}
	copy(dst, code)
	if link != nil {
		if err := link(a.Addr, dst); err != nil {
			for i := range dst {
				dst[i] = X86_OP_INT3
			}
			return Placement{}, err
		}
	}
	return Placement{Addr: a.Addr, View: dst}, nil
}

// InlineCommitter gives each function a private buffer of Capacity bytes,
// written once and then sealed read/execute. It is used where a shared
// read/write/execute region is not allowed.
type InlineCommitter struct {
	Capacity int
}

// Mode implements Committer.
func (c InlineCommitter) Mode() Mode { return InlineBacked }

func (c InlineCommitter) capacity() int {
	if c.Capacity <= 0 {
		return DefaultInlineCapacity
	}
	return c.Capacity
}

// Commit implements Committer.
func (c InlineCommitter) Commit(code []byte, align int, link LinkFunc) (Placement, error) {
	capacity := c.capacity()
	if len(code) > capacity {
		return Placement{}, fmt.Errorf("%d bytes > capacity %d: %w", len(code), capacity, jiterrors.ErrCapacityExceeded)
	}
	if align > pageSize() {
		return Placement{}, fmt.Errorf("inline buffer: alignment %d exceeds page size", align)
	}
	mem, err := mapWritable(alignUp(capacity, pageSize()))
	if err != nil {
		return Placement{}, fmt.Errorf("inline buffer: %w", err)
	}
	base := addrOf(mem)
	copy(mem, code)
	if link != nil {
		if err := link(base, mem[:len(code)]); err != nil {
			unmap(mem)
			return Placement{}, err
		}
	}
	if err := sealExecutable(mem); err != nil {
		unmap(mem)
		return Placement{}, fmt.Errorf("inline buffer: seal: %w", err)
	}
	return Placement{Addr: base, View: mem[:len(code):len(code)], Owned: mem}, nil
}
