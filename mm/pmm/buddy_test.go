package pmm

import (
	"testing"

	"github.com/mostik-postik/CupruxOS/kernel/boot"
	"github.com/mostik-postik/CupruxOS/mm"
)

// fresh resets package state and seeds it with one large available region,
// so each test starts from a clean allocator.
func fresh(t *testing.T, pages uint64) {
	t.Helper()
	alloc = buddyAllocator{}
	regions := []boot.Region{
		{Base: 0, Length: pages * mm.PageSize, Type: boot.RegionAvailable},
	}
	if err := initFromRegions(regions); err != nil {
		t.Fatalf("initFromRegions: %v", err)
	}
}

// S1 — PMM alignment: every address AllocPages(order) returns is a multiple
// of 2^order * pagesize, for every order in [0, MaxOrder).
func TestAllocPagesAlignment(t *testing.T) {
	fresh(t, 1<<uint(MaxOrder+2))

	for order := 0; order < MaxOrder; order++ {
		addr, ok := AllocPages(order)
		if !ok {
			t.Fatalf("order %d: allocation failed", order)
		}
		blockBytes := uint64(1<<uint(order)) * mm.PageSize
		if uint64(addr)%blockBytes != 0 {
			t.Errorf("order %d: addr %#x not aligned to %#x", order, addr, blockBytes)
		}
	}
}

// Requesting an order at or beyond MaxOrder must fail cleanly.
func TestAllocPagesOrderOutOfRange(t *testing.T) {
	fresh(t, 1<<12)

	if _, ok := AllocPages(MaxOrder); ok {
		t.Error("expected allocation at MaxOrder to fail")
	}
	if _, ok := AllocPages(-1); ok {
		t.Error("expected allocation at negative order to fail")
	}
}

// Exhaustion: once every page is handed out, further allocations fail and
// FreeMemory reaches zero.
func TestAllocPagesExhaustion(t *testing.T) {
	fresh(t, 4)

	var got []mm.PhysAddr
	for {
		addr, ok := AllocPages(0)
		if !ok {
			break
		}
		got = append(got, addr)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 pages, got %d", len(got))
	}
	if FreeMemory() != 0 {
		t.Errorf("expected FreeMemory() == 0, got %d", FreeMemory())
	}
	if _, ok := AllocPages(0); ok {
		t.Error("expected allocation to fail once exhausted")
	}
}

// S2 — Buddy split/merge: alloc_pages(3) four times, free in reverse order,
// then alloc_pages(5) must return the lowest of the four freed bases.
func TestBuddySplitAndMerge(t *testing.T) {
	fresh(t, 1<<10)

	var blocks []mm.PhysAddr
	for i := 0; i < 4; i++ {
		addr, ok := AllocPages(3)
		if !ok {
			t.Fatalf("alloc %d failed", i)
		}
		blocks = append(blocks, addr)
	}

	lowest := blocks[0]
	for _, b := range blocks {
		if b < lowest {
			lowest = b
		}
	}

	for i := len(blocks) - 1; i >= 0; i-- {
		FreePages(blocks[i], 3)
	}

	merged, ok := AllocPages(5)
	if !ok {
		t.Fatal("alloc_pages(5) failed after coalescing")
	}
	if merged != lowest {
		t.Errorf("expected merged block base %#x, got %#x", lowest, merged)
	}
}

// Property 2/3: free memory drops by the block size on alloc and returns to
// its initial value on the matching free.
func TestFreePagesAccounting(t *testing.T) {
	fresh(t, 16)

	before := FreeMemory()
	addr, ok := AllocPages(2)
	if !ok {
		t.Fatal("alloc failed")
	}
	if FreeMemory() != before-4*mm.PageSize {
		t.Errorf("expected free memory to drop by %d bytes", 4*mm.PageSize)
	}

	FreePages(addr, 2)
	if FreeMemory() != before {
		t.Errorf("expected free memory restored to %d, got %d", before, FreeMemory())
	}
}

func TestAllocPageFreePageWrappers(t *testing.T) {
	fresh(t, 4)

	addr, ok := AllocPage()
	if !ok {
		t.Fatal("AllocPage failed")
	}
	if !mm.PhysAddr(addr).Aligned() {
		t.Error("expected page-aligned address")
	}
	FreePage(addr)
	if FreeMemory() != 4*mm.PageSize {
		t.Errorf("expected all memory free after FreePage, got %d", FreeMemory())
	}
}
