// Package pmm implements the physical frame allocator: a buddy system over
// the boot memory map (spec.md §4.2). It hands out naturally aligned
// power-of-two blocks of pages and coalesces siblings back together on
// free.
//
// Grounded on gopher-os's kernel/mem/pmm/allocator/bootmem.go for the
// memory-map walk (region visiting, frame rounding; frames occupied by the
// kernel image are not excluded from the free pool) and on gopher-os's overall "single global allocator behind a
// package-level Init/AllocFrame/FreeFrame API" shape; the bitmap-per-order
// buddy algorithm itself has no gopher-os analogue (its allocator never
// grew past a single-order bitmap) and is built directly from spec.md
// §4.2's "Algorithm" paragraph.
package pmm

import (
	"github.com/mostik-postik/CupruxOS/kernel"
	"github.com/mostik-postik/CupruxOS/kernel/boot"
	"github.com/mostik-postik/CupruxOS/kernel/sync"
	"github.com/mostik-postik/CupruxOS/mm"
)

// MaxOrder bounds the largest block the allocator ever tracks: 2^(MaxOrder-1)
// pages, i.e. up to 4 MiB contiguous (spec.md §3 "Buddy bitmap").
const MaxOrder = 11

// errNoMemoryMap is the only fatal condition Init/InitFromRegions report:
// the remaining failure modes (exhaustion, a bad order) are expressed as
// the bare `false`/no-op spec.md §4.2 specifies for alloc_pages/free_pages
// ("never panics, never blocks"), not as a *kernel.Error.
var errNoMemoryMap = &kernel.Error{Module: "pmm", Message: "no usable memory regions reported"}

// buddyAllocator is the sole physical frame allocator instance. It is
// guarded by a single spinlock (spec.md §4.2 "Concurrency").
type buddyAllocator struct {
	lock sync.Spinlock

	memStart   uint64 // physical address of frame index 0
	totalPages uint64
	freePages  uint64

	// bitmap[order] has one bit per block of 2^order pages; bit i set means
	// that block is currently free (spec.md §3 "Buddy bitmap").
	bitmap [MaxOrder][]byte
}

var alloc buddyAllocator

// Init builds the buddy bitmaps from the bootloader-reported memory map and
// marks every available page free. It must run before any other PMM call.
func Init() *kernel.Error {
	var regions []boot.Region
	boot.VisitMemoryMap(func(r *boot.Region) bool {
		regions = append(regions, *r)
		return true
	})
	return initFromRegions(regions)
}

// InitFromRegions is the region-walk-independent core of Init, exported so
// tests — in this package and in mm/vmm and mm/heap — can exercise it
// against an in-memory region list instead of a raw multiboot2 byte dump.
func InitFromRegions(regions []boot.Region) *kernel.Error {
	return initFromRegions(regions)
}

func initFromRegions(regions []boot.Region) *kernel.Error {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if len(regions) == 0 {
		return errNoMemoryMap
	}

	var minBase, maxEnd uint64 = ^uint64(0), 0
	for _, r := range regions {
		if r.Base < minBase {
			minBase = r.Base
		}
		if end := r.Base + r.Length; end > maxEnd {
			maxEnd = end
		}
	}

	alloc.memStart = mm.AlignDown(minBase)
	alloc.totalPages = (mm.AlignUp(maxEnd) - alloc.memStart) / mm.PageSize
	alloc.freePages = 0

	for order := 0; order < MaxOrder; order++ {
		blocks := (alloc.totalPages >> uint(order)) + 1
		alloc.bitmap[order] = make([]byte, (blocks+7)/8)
	}

	for _, r := range regions {
		if r.Type != boot.RegionAvailable {
			continue
		}
		start := mm.AlignUp(r.Base)
		end := mm.AlignDown(r.Base + r.Length)
		for addr := start; addr < end; addr += mm.PageSize {
			idx := (addr - alloc.memStart) / mm.PageSize
			alloc.freeBlockLocked(idx, 0)
			alloc.freePages++
		}
	}

	return nil
}

// AllocPages returns the base of a naturally aligned 2^order-page block, or
// false if none is available (spec.md §4.2 alloc_pages).
func AllocPages(order int) (mm.PhysAddr, bool) {
	if order < 0 || order >= MaxOrder {
		return 0, false
	}

	alloc.lock.Acquire()
	defer alloc.lock.Release()

	foundOrder := -1
	var idx uint64
	for o := order; o < MaxOrder; o++ {
		if i, ok := firstSetBit(alloc.bitmap[o]); ok {
			foundOrder = o
			idx = i
			break
		}
	}
	if foundOrder < 0 {
		return 0, false
	}

	clearBit(alloc.bitmap[foundOrder], idx)
	for o := foundOrder; o > order; o-- {
		idx <<= 1
		setBit(alloc.bitmap[o-1], idx+1)
	}

	alloc.freePages -= 1 << uint(order)
	addr := alloc.memStart + idx*(1<<uint(order))*mm.PageSize
	return mm.PhysAddr(addr), true
}

// FreePages releases a block previously obtained from AllocPages at the
// same order, coalescing with its buddy where possible (spec.md §4.2
// free_pages).
func FreePages(addr mm.PhysAddr, order int) {
	if order < 0 || order >= MaxOrder {
		return
	}

	alloc.lock.Acquire()
	defer alloc.lock.Release()

	idx := (uint64(addr) - alloc.memStart) / mm.PageSize / (1 << uint(order))
	alloc.freeBlockLocked(idx, order)
	alloc.freePages += 1 << uint(order)
}

// AllocPage is the order-0 convenience wrapper.
func AllocPage() (mm.PhysAddr, bool) { return AllocPages(0) }

// FreePage is the order-0 convenience wrapper.
func FreePage(addr mm.PhysAddr) { FreePages(addr, 0) }

// TotalMemory returns the total number of bytes the memory map reported,
// available or not.
func TotalMemory() uint64 { return alloc.totalPages * mm.PageSize }

// FreeMemory returns the number of bytes currently unallocated.
func FreeMemory() uint64 {
	alloc.lock.Acquire()
	defer alloc.lock.Release()
	return alloc.freePages * mm.PageSize
}

// freeBlockLocked marks block idx free at order and recursively coalesces
// with its buddy (index XOR 1) while the buddy is also free and order has
// not reached MaxOrder-1 (spec.md §4.2 "Algorithm", second paragraph). The
// caller must hold alloc.lock. It is also used by Init to build the initial
// free bitmaps one order-0 page at a time.
func (a *buddyAllocator) freeBlockLocked(idx uint64, order int) {
	setBit(a.bitmap[order], idx)
	for order < MaxOrder-1 {
		buddyIdx := idx ^ 1
		if !testBit(a.bitmap[order], buddyIdx) {
			break
		}
		clearBit(a.bitmap[order], idx)
		clearBit(a.bitmap[order], buddyIdx)
		idx >>= 1
		order++
		setBit(a.bitmap[order], idx)
	}
}

func testBit(bm []byte, i uint64) bool {
	return bm[i/8]&(1<<(i%8)) != 0
}

func setBit(bm []byte, i uint64) {
	bm[i/8] |= 1 << (i % 8)
}

func clearBit(bm []byte, i uint64) {
	bm[i/8] &^= 1 << (i % 8)
}

// firstSetBit returns the index of the lowest set bit in bm, scanning whole
// bytes at a time.
func firstSetBit(bm []byte) (uint64, bool) {
	for byteIdx, b := range bm {
		if b == 0 {
			continue
		}
		for bit := uint(0); bit < 8; bit++ {
			if b&(1<<bit) != 0 {
				return uint64(byteIdx)*8 + uint64(bit), true
			}
		}
	}
	return 0, false
}
