package vmm

import "github.com/mostik-postik/CupruxOS/mm"

// Kind discriminates the three region kinds spec.md §3 defines for a
// Region descriptor.
type Kind int

const (
	// Anonymous pages are allocated lazily on first fault and zeroed.
	Anonymous Kind = iota
	// Shared maps the region's pages onto the contiguous physical range
	// starting at SharedPhys, set aside for MMIO/framebuffer-style mappings.
	Shared
	// Kernel regions are pre-populated at map time (never fault-driven).
	Kernel
)

// Region is one VMA: a page-aligned, non-overlapping range of an address
// space's virtual memory with uniform flags and kind (spec.md §3 "Region
// descriptor").
type Region struct {
	Start mm.VirtAddr
	End   mm.VirtAddr
	Flags Flag
	Kind  Kind

	// SharedPhys is the fixed physical base for a Shared region; unused
	// otherwise.
	SharedPhys mm.PhysAddr
}

// Contains reports whether addr falls within [Start, End).
func (r *Region) Contains(addr mm.VirtAddr) bool {
	return addr >= r.Start && addr < r.End
}

// overlaps reports whether r and other share any address.
func (r *Region) overlaps(other *Region) bool {
	return r.Start < other.End && other.Start < r.End
}
