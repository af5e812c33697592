package vmm

import (
	"unsafe"

	"github.com/mostik-postik/CupruxOS/kernel"
	"github.com/mostik-postik/CupruxOS/kernel/cpu"
	"github.com/mostik-postik/CupruxOS/kernel/sync"
	"github.com/mostik-postik/CupruxOS/mm"
	"github.com/mostik-postik/CupruxOS/mm/pmm"
)

// maxRegions bounds the number of VMAs a single address space tracks. The
// spec.md §8 Open Question on region-count growth is resolved as a fixed
// cap rather than a growable slice: a slice reallocation mid-fault handler
// would need to call into the allocator it might itself be extending,
// and no workload in scope ever approaches 64 distinct regions.
const maxRegions = 64

var (
	errOutOfMemory    = &kernel.Error{Module: "vmm", Message: "out of memory"}
	errNoRegionSlot    = &kernel.Error{Module: "vmm", Message: "address space region table is full"}
	errRegionOverlap   = &kernel.Error{Module: "vmm", Message: "region overlaps an existing mapping"}
	errUnmappedAddress = &kernel.Error{Module: "vmm", Message: "virtual address is not mapped"}
)

// AddressSpace is {root_frame, regions}: the PMM-backed L4 table plus the
// VMAs carved out of it (spec.md §3 "Address space").
type AddressSpace struct {
	lock sync.Spinlock

	rootFrame mm.PhysAddr
	regions   [maxRegions]Region
	numRegions int
}

// New creates an address space with an empty region list. The kernel's
// upper-half L4 entries (256-511) are copied from KernelAddressSpace so
// every task shares the same kernel mapping (spec.md §4.3 "Address-space
// creation").
func New() (*AddressSpace, *kernel.Error) {
	frame, ok := pmm.AllocPage()
	if !ok {
		return nil, errOutOfMemory
	}
	kernel.Memset(physAddrFn(frame), 0, mm.PageSize)

	as := &AddressSpace{rootFrame: frame}
	if kernelSpace != nil {
		dst := tableAt(frame)
		src := tableAt(kernelSpace.rootFrame)
		const upperHalfBytes = 256 * unsafe.Sizeof(PTE(0))
		kernel.Memcopy(
			uintptr(unsafe.Pointer(&src.entries[256])),
			uintptr(unsafe.Pointer(&dst.entries[256])),
			upperHalfBytes,
		)
	}
	return as, nil
}

// AddVMA registers a new region. It fails if the region overlaps an
// existing one or the region table is full (spec.md §3 "regions are
// non-overlapping").
func (as *AddressSpace) AddVMA(r Region) *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()

	if as.numRegions >= maxRegions {
		return errNoRegionSlot
	}
	for i := 0; i < as.numRegions; i++ {
		if as.regions[i].overlaps(&r) {
			return errRegionOverlap
		}
	}
	as.regions[as.numRegions] = r
	as.numRegions++
	return nil
}

// FindVMA returns the region containing addr, or nil if none does.
func (as *AddressSpace) FindVMA(addr mm.VirtAddr) *Region {
	as.lock.Acquire()
	defer as.lock.Release()

	for i := 0; i < as.numRegions; i++ {
		if as.regions[i].Contains(addr) {
			return &as.regions[i]
		}
	}
	return nil
}

// Map installs a single present leaf mapping from virt to phys with flags,
// allocating any missing intermediate tables from the PMM.
func (as *AddressSpace) Map(virt mm.VirtAddr, phys mm.PhysAddr, flags Flag) *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()
	return mapIn(as.rootFrame, virt, phys, flags)
}

// Unmap clears the leaf entry for virt, if present, and flushes its TLB
// entry. Intermediate page-table frames are left in place (spec.md §9
// "unmap does not reclaim intermediate page-table frames").
func (as *AddressSpace) Unmap(virt mm.VirtAddr) *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()

	cur := as.rootFrame
	for level := 0; level < 3; level++ {
		t := tableAt(cur)
		entry := &t.entries[levelIndex(virt, level)]
		if !entry.HasFlags(FlagPresent) {
			return errUnmappedAddress
		}
		cur = entry.Frame()
	}
	t := tableAt(cur)
	entry := &t.entries[levelIndex(virt, 3)]
	if !entry.HasFlags(FlagPresent) {
		return errUnmappedAddress
	}
	*entry = 0
	flushTLBEntryFn(uintptr(virt))
	return nil
}

// Translate walks the four levels read-only, returning the physical address
// virt maps to with the page offset reapplied, or false at the first
// non-present level (spec.md §4.3 "Translate").
func (as *AddressSpace) Translate(virt mm.VirtAddr) (mm.PhysAddr, bool) {
	as.lock.Acquire()
	defer as.lock.Release()

	cur := as.rootFrame
	for level := 0; level < 4; level++ {
		t := tableAt(cur)
		entry := t.entries[levelIndex(virt, level)]
		if !entry.HasFlags(FlagPresent) {
			return 0, false
		}
		if level == 3 {
			offset := uint64(virt) & (mm.PageSize - 1)
			return mm.PhysAddr(uint64(entry.Frame()) + offset), true
		}
		cur = entry.Frame()
	}
	return 0, false
}

// Activate writes the L4 physical frame address to CR3, implicitly
// invalidating every non-global TLB entry (spec.md §4.3 "Activation").
func (as *AddressSpace) Activate() {
	cpu.SwitchAddressSpace(uintptr(as.rootFrame))
}

// MapAnonymous adds an Anonymous region; its pages are populated lazily by
// the page-fault handler, not by this call (spec.md §4.4).
func (as *AddressSpace) MapAnonymous(start, end mm.VirtAddr, flags Flag) *kernel.Error {
	return as.AddVMA(Region{Start: start, End: end, Flags: flags, Kind: Anonymous})
}

// MapShared adds a Shared region mapping every contained page to the
// corresponding offset of phys, installing the mappings immediately (a
// Shared region has no fault-driven path since its backing memory already
// exists).
func (as *AddressSpace) MapShared(start, end mm.VirtAddr, phys mm.PhysAddr, flags Flag) *kernel.Error {
	if err := as.AddVMA(Region{Start: start, End: end, Flags: flags, Kind: Shared, SharedPhys: phys}); err != nil {
		return err
	}
	for off := uint64(0); off < uint64(end-start); off += mm.PageSize {
		if err := as.Map(start+mm.VirtAddr(off), phys+mm.PhysAddr(off), flags); err != nil {
			return err
		}
	}
	return nil
}
