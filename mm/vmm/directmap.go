package vmm

import (
	"unsafe"

	"github.com/mostik-postik/CupruxOS/kernel"
	"github.com/mostik-postik/CupruxOS/kernel/cpu"
	"github.com/mostik-postik/CupruxOS/mm"
	"github.com/mostik-postik/CupruxOS/mm/pmm"
)

// PhysToVirt returns the direct-map virtual address for p: valid for any
// physical address the direct map covers, which is established before
// VMM.Init returns (spec.md §4.2 "Direct map").
func PhysToVirt(p mm.PhysAddr) mm.VirtAddr {
	return mm.VirtAddr(uint64(p)) + mm.DirectMapOffset
}

// VirtToPhys is the inverse of PhysToVirt. Valid only for addresses that
// live inside the direct map, not for arbitrary kernel virtual addresses
// (spec.md §4.2).
func VirtToPhys(v mm.VirtAddr) mm.PhysAddr {
	return mm.PhysAddr(uint64(v) - uint64(mm.DirectMapOffset))
}

func ptrAt(v mm.VirtAddr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(v))
}

// directMapSpan is how much physical memory the boot-time direct map covers
// before the kernel address space takes over general-purpose mapping. It is
// generous enough to cover a small VM's RAM without requiring the VMM to be
// fully initialized first.
const directMapSpan = 256 * 1024 * 1024 // 256 MiB

var kernelSpace *AddressSpace

// flushTLBEntryFn is used by tests to override calls to cpu.FlushTLBEntry,
// which is a privileged instruction that faults outside ring 0 (mirrors
// gopher-os's flushTLBEntryFn seam in kernel/mm/vmm/map.go).
var flushTLBEntryFn = cpu.FlushTLBEntry

// InitDirectMap establishes the kernel direct map for the first
// directMapSpan bytes of physical memory: every 4 KiB page is mapped
// PRESENT|WRITABLE|GLOBAL|NO_EXEC at phys+PHYSICAL_MAP_OFFSET (spec.md §4.1
// "the direct map... is established... by the first page of VMM init
// before any direct-map use").
//
// rootFrame is the physical L4 frame the bootloader (or the rt0
// trampoline) is already executing under; InitDirectMap populates it in
// place rather than switching address spaces, since CR3 cannot legally
// point at a table this code cannot yet address without the very mapping
// it is installing.
//
// mapIn itself dereferences page-table frames through physAddrFn, i.e.
// through phys+PHYSICAL_MAP_OFFSET — the very mapping this function is
// installing. That is only safe because spec.md §6 requires the bootloader
// to already have the direct-map range (or an equivalent identity mapping
// covering it) resolvable before Kmain ever reaches VMM init; InitDirectMap
// is what makes PhysToVirt valid for the rest of the kernel's lifetime, not
// what makes it valid for its own first call.
func InitDirectMap(rootFrame mm.PhysAddr) *kernel.Error {
	for base := uint64(0); base < directMapSpan; base += mm.PageSize {
		virt := PhysToVirt(mm.PhysAddr(base))
		if err := mapIn(rootFrame, virt, mm.PhysAddr(base), FlagPresent|FlagRW|FlagGlobal|FlagNoExecute); err != nil {
			return err
		}
	}
	return nil
}

// Init finishes VMM bring-up: it wraps the currently active L4 table as the
// kernel AddressSpace and wires the page-fault handler into kernel/trap
// (spec.md §4.1 step "VMM init").
func Init() *kernel.Error {
	rootFrame := mm.PhysAddr(cpu.ActiveAddressSpace())
	kernelSpace = &AddressSpace{rootFrame: rootFrame}
	installPageFaultHandler()
	return nil
}

// KernelAddressSpace returns the address space every new AddressSpace's
// upper half is cloned from (spec.md §4.3 "Address-space creation").
func KernelAddressSpace() *AddressSpace { return kernelSpace }

// mapIn installs a single 4 KiB leaf mapping into the table rooted at root,
// allocating intermediate-level tables from the PMM on demand and zeroing
// them through the direct map before linking them in (spec.md §4.3
// "intermediate-level frames are allocated lazily on first map").
func mapIn(root mm.PhysAddr, virt mm.VirtAddr, phys mm.PhysAddr, flags Flag) *kernel.Error {
	cur := root
	for level := 0; level < 3; level++ {
		t := tableAt(cur)
		idx := levelIndex(virt, level)
		entry := &t.entries[idx]
		if !entry.HasFlags(FlagPresent) {
			frame, ok := pmm.AllocPage()
			if !ok {
				return errOutOfMemory
			}
			kernel.Memset(physAddrFn(frame), 0, mm.PageSize)
			entry.SetFrame(frame)
			// Intermediate entries are always maximally permissive: the CPU
			// ANDs permissions across levels, so the leaf's own flags are
			// what actually constrain access (spec.md §4.3 "Mapping
			// operation").
			entry.SetFlags(FlagPresent | FlagRW | FlagUser)
		}
		cur = entry.Frame()
	}

	t := tableAt(cur)
	idx := levelIndex(virt, 3)
	entry := &t.entries[idx]
	*entry = 0
	entry.SetFrame(phys)
	entry.SetFlags(flags | FlagPresent)
	flushTLBEntryFn(uintptr(virt))
	return nil
}
