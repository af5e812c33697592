// Package vmm implements the virtual memory manager: 4-level x86_64 page
// tables, per-address-space region (VMA) tracking and the page-fault path
// that serves lazy anonymous mappings (spec.md §4.3, §4.4).
//
// Grounded on gopher-os/kernel/mm/vmm's pdt.go for the page-table-entry bit
// layout and flag names, and on its fault.go for the page-fault dispatch
// shape — but the table walk itself is rebuilt around the kernel direct map
// (spec.md §3 "Kernel direct map") instead of gopher-os's recursive-mapping
// trick, since spec.md §4.2 "Direct map" mandates phys_to_virt/virt_to_phys
// as the sanctioned way to touch an arbitrary physical frame, and the
// recursive-mapping scheme has no room for that API.
package vmm

import (
	"github.com/mostik-postik/CupruxOS/mm"
)

// PTE is one 64-bit page-table entry (spec.md §3 "Page-table entry").
type PTE uint64

// Flag is a single page-table-entry permission/attribute bit.
type Flag uint64

// Flag bit positions, per spec.md §3 "Page-table entry".
const (
	FlagPresent Flag = 1 << 0
	FlagRW      Flag = 1 << 1
	FlagUser    Flag = 1 << 2
	FlagWriteThrough Flag = 1 << 3
	FlagNoCache      Flag = 1 << 4
	FlagGlobal       Flag = 1 << 8
	FlagNoExecute    Flag = 1 << 63
)

// physAddrMask extracts bits 12-51, the physical frame address a present
// entry points to (spec.md §3 "Page-table entry").
const physAddrMask uint64 = 0x000f_ffff_ffff_f000

// HasFlags reports whether every bit in flags is set.
func (pte PTE) HasFlags(flags Flag) bool {
	return uint64(pte)&uint64(flags) == uint64(flags)
}

// SetFlags ORs flags into the entry.
func (pte *PTE) SetFlags(flags Flag) {
	*pte = PTE(uint64(*pte) | uint64(flags))
}

// ClearFlags clears flags from the entry.
func (pte *PTE) ClearFlags(flags Flag) {
	*pte = PTE(uint64(*pte) &^ uint64(flags))
}

// Frame returns the physical frame a present entry points to.
func (pte PTE) Frame() mm.PhysAddr {
	return mm.PhysAddr(uint64(pte) & physAddrMask)
}

// SetFrame updates the physical frame an entry points to, preserving flags.
func (pte *PTE) SetFrame(frame mm.PhysAddr) {
	*pte = PTE((uint64(*pte) &^ physAddrMask) | (uint64(frame) & physAddrMask))
}

// table is one 4 KiB, 512-entry page table (spec.md §3 "Page table").
type table struct {
	entries [512]PTE
}

// pageLevelShifts gives the bit offset of each level's 9-bit index within a
// virtual address, walked L4 first (spec.md §3 "Page table").
var pageLevelShifts = [4]uint{39, 30, 21, 12}

func levelIndex(virt mm.VirtAddr, level int) uint64 {
	return (uint64(virt) >> pageLevelShifts[level]) & 0x1FF
}

// physAddrFn resolves a physical address to the pointer this process should
// dereference to read/write it. The real implementation goes through the
// kernel direct map; tests substitute a function backed by ordinary
// Go-heap memory so a "physical frame" from a test-seeded PMM is actually
// addressable by the test process (mirroring gopher-os's ptePtrFn seam in
// kernel/mm/vmm/pdt.go).
var physAddrFn = func(phys mm.PhysAddr) uintptr {
	return uintptr(PhysToVirt(phys))
}

// tableAt returns the *table for the page table frame at phys.
func tableAt(phys mm.PhysAddr) *table {
	return (*table)(ptrAt(mm.VirtAddr(physAddrFn(phys))))
}
