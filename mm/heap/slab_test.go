package heap

import (
	"testing"
	"unsafe"

	"github.com/mostik-postik/CupruxOS/kernel/boot"
	"github.com/mostik-postik/CupruxOS/mm"
	"github.com/mostik-postik/CupruxOS/mm/pmm"
)

// fakePhysMem stands in for physical RAM while running under go test, which
// has no direct map; toAddr/toPhys are pointed at this Go-heap array instead
// of the real vmm.PhysToVirt/VirtToPhys pair.
var fakePhysMem [4 * 1024 * 1024]byte

func freshHeap(t *testing.T) {
	t.Helper()

	base := uintptr(unsafe.Pointer(&fakePhysMem[0]))
	toAddr = func(p mm.PhysAddr) uintptr { return base + uintptr(p) }
	toPhys = func(addr uintptr) mm.PhysAddr { return mm.PhysAddr(addr - base) }

	if err := pmm.InitFromRegions([]boot.Region{
		{Base: 0, Length: uint64(len(fakePhysMem)), Type: boot.RegionAvailable},
	}); err != nil {
		t.Fatalf("pmm.InitFromRegions: %v", err)
	}

	for i := range classes {
		classes[i] = slabClass{cellSize: classSizes[i]}
	}
	if err := Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
}

// Property 6 — Heap round-trip: two successive allocs of the same class
// return distinct addresses; free then alloc returns the just-freed one.
func TestHeapRoundTrip(t *testing.T) {
	freshHeap(t)

	a := Alloc(64, 8)
	b := Alloc(64, 8)
	if a == nil || b == nil {
		t.Fatal("allocation failed")
	}
	if a == b {
		t.Fatal("expected distinct addresses")
	}

	Free(a, 64, 8)
	c := Alloc(64, 8)
	if c != a {
		t.Errorf("expected free+alloc to return %p, got %p", a, c)
	}
}

// S5 — Heap slab LIFO: allocate eight 64-byte objects, free a3 and a7, then
// allocate two more; expect a7 then a3 back, in that order.
func TestSlabLIFOOrder(t *testing.T) {
	freshHeap(t)

	var addrs [8]unsafe.Pointer
	for i := range addrs {
		addrs[i] = Alloc(64, 8)
		if addrs[i] == nil {
			t.Fatalf("alloc %d failed", i)
		}
	}

	a3, a7 := addrs[2], addrs[6]
	Free(a3, 64, 8)
	Free(a7, 64, 8)

	first := Alloc(64, 8)
	second := Alloc(64, 8)

	if first != a7 {
		t.Errorf("expected first reallocation to be a7 (%p), got %p", a7, first)
	}
	if second != a3 {
		t.Errorf("expected second reallocation to be a3 (%p), got %p", a3, second)
	}
}

func TestClassForPicksSmallestFittingClass(t *testing.T) {
	cases := []struct {
		size, align uint64
		want        int
	}{
		{1, 1, 0},
		{8, 1, 0},
		{9, 1, 1},
		{2048, 1, 8},
	}
	for _, c := range cases {
		if got := classFor(c.size, c.align); got != c.want {
			t.Errorf("classFor(%d, %d) = %d, want %d", c.size, c.align, got, c.want)
		}
	}
}

func TestClassForFallsBackToLargePath(t *testing.T) {
	if got := classFor(4096, 1); got != -1 {
		t.Errorf("classFor(4096, 1) = %d, want -1 (large path)", got)
	}
}

func TestLargeObjectRoundTrip(t *testing.T) {
	freshHeap(t)

	ptr := Alloc(8192, 4096)
	if ptr == nil {
		t.Fatal("large allocation failed")
	}
	Free(ptr, 8192, 4096)

	ptr2 := Alloc(8192, 4096)
	if ptr2 == nil {
		t.Fatal("large allocation after free failed")
	}
}
