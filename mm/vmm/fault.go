// Page-fault handling: resolves a fault against the faulting task's
// AddressSpace, populating an Anonymous region's backing frame on first
// touch (spec.md §4.4 "Page fault handling (anonymous regions)").
//
// Grounded on gopher-os/kernel/mm/vmm/fault.go's errorCode-to-reason
// dispatch shape, rebuilt around a single *AddressSpace rather than the
// always-active PDT gopher-os assumes (no CoW path, since CoW is an
// explicit spec.md Non-goal).
package vmm

import (
	"github.com/mostik-postik/CupruxOS/kernel"
	"github.com/mostik-postik/CupruxOS/kernel/kfmt"
	"github.com/mostik-postik/CupruxOS/kernel/trap"
	"github.com/mostik-postik/CupruxOS/mm"
	"github.com/mostik-postik/CupruxOS/mm/pmm"
)

// activeSpace is consulted by the page-fault handler. There is no scheduler
// in scope, so it is set once and never switched mid-fault; a future
// scheduler updates it from its context-switch path.
var activeSpace *AddressSpace

// SetActiveAddressSpace records the address space page faults resolve
// against.
func SetActiveAddressSpace(as *AddressSpace) { activeSpace = as }

// installPageFaultHandler registers HandlePageFault with kernel/trap.
func installPageFaultHandler() {
	trap.SetPageFaultHandler(func(cr2 uintptr, errorCode uint64) bool {
		return HandlePageFault(activeSpace, mm.VirtAddr(cr2), errorCode)
	})
}

// HandlePageFault resolves a fault at faultAddr within space. It returns
// true if the fault was recoverable (an Anonymous region's first touch),
// false if the caller should treat this as fatal (spec.md §4.4).
func HandlePageFault(space *AddressSpace, faultAddr mm.VirtAddr, errorCode uint64) bool {
	if space == nil {
		return false
	}

	page := mm.VirtAddr(mm.AlignDown(uint64(faultAddr)))
	region := space.FindVMA(page)
	if region == nil || region.Kind != Anonymous {
		logUnrecoverableFault(faultAddr, errorCode)
		return false
	}

	// A write fault against a region whose flags do not grant RW is a
	// protection violation the lazy-populate path cannot satisfy: there is
	// no copy-on-write frame to hand back (out of scope), only a fault.
	const errCodeWrite = 1 << 1
	if errorCode&errCodeWrite != 0 && region.Flags&FlagRW == 0 {
		logUnrecoverableFault(faultAddr, errorCode)
		return false
	}

	frame, ok := pmm.AllocPage()
	if !ok {
		logUnrecoverableFault(faultAddr, errorCode)
		return false
	}

	// Zero through the direct map before mapping it into the faulting
	// address space: never leak whatever the frame previously held
	// (spec.md §4.4 "security: never leak previous content").
	kernel.Memset(physAddrFn(frame), 0, mm.PageSize)

	if err := space.Map(page, frame, region.Flags); err != nil {
		pmm.FreePage(frame)
		logUnrecoverableFault(faultAddr, errorCode)
		return false
	}
	return true
}

func logUnrecoverableFault(faultAddr mm.VirtAddr, errorCode uint64) {
	kfmt.Printf("\npage fault at %16x (error code %d): ", uint64(faultAddr), errorCode)
	switch {
	case errorCode&1 == 0:
		kfmt.Printf("access to non-present page\n")
	case errorCode&2 != 0:
		kfmt.Printf("write to read-only page\n")
	case errorCode&4 != 0:
		kfmt.Printf("user-mode access violation\n")
	default:
		kfmt.Printf("protection violation\n")
	}
}
