package vmm

import (
	"testing"
	"unsafe"

	"github.com/mostik-postik/CupruxOS/kernel/boot"
	"github.com/mostik-postik/CupruxOS/kernel/cpu"
	"github.com/mostik-postik/CupruxOS/mm"
	"github.com/mostik-postik/CupruxOS/mm/pmm"
)

// fakePhysMem stands in for physical RAM: tests run as an ordinary process
// with no direct map, so physAddrFn is pointed at this Go-heap array rather
// than phys+PHYSICAL_MAP_OFFSET (mirrors gopher-os's ptePtrFn test seam in
// kernel/mm/vmm/pdt_test.go).
var fakePhysMem [16 * 1024 * 1024]byte

// freshSpace seeds the PMM with fake-backed free memory and returns a new,
// empty address space whose root table lives in that memory.
func freshSpace(t *testing.T) *AddressSpace {
	t.Helper()

	base := uintptr(unsafe.Pointer(&fakePhysMem[0]))
	physAddrFn = func(phys mm.PhysAddr) uintptr {
		return base + uintptr(phys)
	}
	t.Cleanup(func() {
		physAddrFn = func(phys mm.PhysAddr) uintptr { return uintptr(PhysToVirt(phys)) }
	})

	// cpu.FlushTLBEntry's INVLPG is ring-0-only and raises #GP under go
	// test; stub it out the same way the teacher's map_test.go does.
	flushTLBEntryFn = func(uintptr) {}
	t.Cleanup(func() { flushTLBEntryFn = cpu.FlushTLBEntry })

	if err := pmm.InitFromRegions([]boot.Region{
		{Base: 0, Length: uint64(len(fakePhysMem)), Type: boot.RegionAvailable},
	}); err != nil {
		t.Fatalf("pmm.InitFromRegions: %v", err)
	}
	kernelSpace = nil

	as, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return as
}

// Property 8 — Direct map identity: virt_to_phys(phys_to_virt(p)) == p.
func TestDirectMapIdentity(t *testing.T) {
	for _, p := range []mm.PhysAddr{0, mm.PageSize, 0xDEAD_0000, 1 << 30} {
		if got := VirtToPhys(PhysToVirt(p)); got != p {
			t.Errorf("phys %#x: round trip gave %#x", p, got)
		}
	}
}

// Property 4 — VMM round-trip: translate(v) == Some(p) after map(v, p),
// until a later unmap(v) makes it None.
func TestMapTranslateUnmapRoundTrip(t *testing.T) {
	as := freshSpace(t)

	frame, ok := pmm.AllocPage()
	if !ok {
		t.Fatal("AllocPage failed")
	}
	virt := mm.VirtAddr(0x20_0000_0000)

	if err := as.Map(virt, frame, FlagPresent|FlagRW); err != nil {
		t.Fatalf("Map: %v", err)
	}

	got, ok := as.Translate(virt)
	if !ok || got != frame {
		t.Fatalf("Translate: got (%#x, %v), want (%#x, true)", got, ok, frame)
	}

	if err := as.Unmap(virt); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if _, ok := as.Translate(virt); ok {
		t.Error("expected Translate to fail after Unmap")
	}
}

// Property 5 — Region containment: FindVMA returns a region iff some
// map_anonymous/map_shared call placed the address inside it.
func TestFindVMAContainment(t *testing.T) {
	as := freshSpace(t)

	start, end := mm.VirtAddr(0x4000_0000), mm.VirtAddr(0x4000_2000)
	if err := as.MapAnonymous(start, end, FlagPresent|FlagRW); err != nil {
		t.Fatalf("MapAnonymous: %v", err)
	}

	if r := as.FindVMA(start); r == nil {
		t.Error("expected region at start address")
	}
	if r := as.FindVMA(end - 1); r == nil {
		t.Error("expected region at last contained address")
	}
	if r := as.FindVMA(end); r != nil {
		t.Error("expected no region at end (exclusive) address")
	}
}

// Overlapping regions must be rejected (spec.md §3 "regions are
// non-overlapping").
func TestAddVMARejectsOverlap(t *testing.T) {
	as := freshSpace(t)

	if err := as.MapAnonymous(0x1000, 0x3000, FlagPresent|FlagRW); err != nil {
		t.Fatalf("first MapAnonymous: %v", err)
	}
	if err := as.MapAnonymous(0x2000, 0x4000, FlagPresent|FlagRW); err == nil {
		t.Error("expected overlapping region to be rejected")
	}
}

// S3 — VMM lazy anonymous: a read fault against a fresh Anonymous region is
// recoverable and the faulting page translates afterward.
func TestHandlePageFaultLazyAnonymous(t *testing.T) {
	as := freshSpace(t)

	start, end := mm.VirtAddr(0x4000_0000), mm.VirtAddr(0x4000_2000)
	if err := as.MapAnonymous(start, end, FlagPresent|FlagRW); err != nil {
		t.Fatalf("MapAnonymous: %v", err)
	}

	const errCodeRead = 0
	if ok := HandlePageFault(as, start, errCodeRead); !ok {
		t.Fatal("expected lazy anonymous fault to be recoverable")
	}
	if _, ok := as.Translate(start); !ok {
		t.Error("expected page to be mapped after recoverable fault")
	}
}

// S4 — VMM write protection: a write fault against an Anonymous region
// without RW must be reported unrecoverable.
func TestHandlePageFaultWriteProtection(t *testing.T) {
	as := freshSpace(t)

	start, end := mm.VirtAddr(0x5000_0000), mm.VirtAddr(0x5000_1000)
	if err := as.MapAnonymous(start, end, FlagPresent); err != nil {
		t.Fatalf("MapAnonymous: %v", err)
	}

	const errCodeWrite = 1 << 1
	if ok := HandlePageFault(as, start, errCodeWrite); ok {
		t.Error("expected write fault against a non-writable region to be unrecoverable")
	}
	if _, ok := as.Translate(start); ok {
		t.Error("expected page to remain unmapped after an unrecoverable fault")
	}
}

// A fault with no containing region must be unrecoverable.
func TestHandlePageFaultNoRegion(t *testing.T) {
	as := freshSpace(t)
	if ok := HandlePageFault(as, mm.VirtAddr(0x1234_5000), 0); ok {
		t.Error("expected fault outside any region to be unrecoverable")
	}
}
