// Package heap implements the kernel heap: nine slab size classes backed by
// PMM frames, falling back to the frame allocator directly for large
// objects, and exposing the global allocation hook used by the rest of the
// kernel (spec.md §4.4 "Kernel heap (slab)").
//
// Grounded on gopher-os's kernel/goruntime/bootstrap.go for the overall
// shape of a kernel allocator sitting on top of the PMM/VMM (reserve
// address space, pull frames from the PMM, map them RW|NX). Its go:linkname
// hooks into the Go runtime are not used: this slab design never hands
// frames to the Go runtime's own allocator, and the out-of-memory path is
// the ordinary function Panic below.
package heap

import (
	"unsafe"

	"github.com/mostik-postik/CupruxOS/kernel"
	"github.com/mostik-postik/CupruxOS/kernel/kfmt"
	"github.com/mostik-postik/CupruxOS/kernel/sync"
	"github.com/mostik-postik/CupruxOS/mm"
	"github.com/mostik-postik/CupruxOS/mm/pmm"
	"github.com/mostik-postik/CupruxOS/mm/vmm"
)

// classSizes are the nine slab size classes spec.md §3 "Slab cache" lists.
var classSizes = [...]uint64{8, 16, 32, 64, 128, 256, 512, 1024, 2048}

const numClasses = len(classSizes)

// cellHeader overlays the first size_of(pointer) bytes of a free cell,
// which store the next-free link and nothing else (spec.md §3 "Slab
// cache").
type cellHeader struct {
	next uintptr
}

type slabClass struct {
	lock     sync.Spinlock
	cellSize uint64
	freeList uintptr // 0 means empty
}

var (
	classes [numClasses]slabClass
	errOOM  = &kernel.Error{Module: "heap", Message: "out of memory"}

	// toAddr/toPhys indirect every frame<->pointer conversion through the
	// VMM's direct map. Tests substitute a Go-heap-backed pair so a
	// test-seeded PMM frame is addressable without a real direct map
	// (same seam as mm/vmm's physAddrFn).
	toAddr = func(p mm.PhysAddr) uintptr { return uintptr(vmm.PhysToVirt(p)) }
	toPhys = func(addr uintptr) mm.PhysAddr { return vmm.VirtToPhys(mm.VirtAddr(addr)) }
)

// classFor returns the index of the smallest class able to hold size bytes
// aligned to align, or -1 if size belongs on the large-object path (spec.md
// §4.4 "smallest class >= max(size, alignment)").
func classFor(size, align uint64) int {
	need := size
	if align > need {
		need = align
	}
	for i, s := range classSizes {
		if s >= need {
			return i
		}
	}
	return -1
}

// Init primes every class with one frame so the first allocation of each
// size does not contend the PMM's lock and so an early-boot exhaustion
// failure surfaces immediately rather than on first real use (spec.md §4.4
// "Priming").
func Init() *kernel.Error {
	for i := range classes {
		classes[i].cellSize = classSizes[i]
		if err := growClass(i); err != nil {
			return err
		}
	}
	return nil
}

// growClass carves one more PMM frame into cells of classes[i].cellSize and
// links them onto the class's free list.
func growClass(i int) *kernel.Error {
	frame, ok := pmm.AllocPage()
	if !ok {
		return errOOM
	}

	base := toAddr(frame)
	cellSize := classes[i].cellSize
	cellsPerFrame := mm.PageSize / cellSize

	c := &classes[i]
	for n := uint64(0); n < cellsPerFrame; n++ {
		addr := base + uintptr(n*cellSize)
		(*cellHeader)(unsafe.Pointer(addr)).next = c.freeList
		c.freeList = addr
	}
	return nil
}

// Alloc returns size bytes aligned to align, or nil on exhaustion (spec.md
// §4.4 "Allocation").
func Alloc(size, align uint64) unsafe.Pointer {
	if size == 0 {
		size = 1
	}
	if align == 0 {
		align = 1
	}

	i := classFor(size, align)
	if i < 0 {
		return allocLarge(size)
	}

	c := &classes[i]
	c.lock.Acquire()
	defer c.lock.Release()

	if c.freeList == 0 {
		if err := growClass(i); err != nil {
			return nil
		}
	}

	addr := c.freeList
	c.freeList = (*cellHeader)(unsafe.Pointer(addr)).next
	return unsafe.Pointer(addr)
}

// Free releases an allocation previously returned by Alloc with the same
// (size, align) (spec.md §4.4 "Deallocation").
func Free(ptr unsafe.Pointer, size, align uint64) {
	if ptr == nil {
		return
	}

	i := classFor(size, align)
	if i < 0 {
		freeLarge(ptr, size)
		return
	}

	c := &classes[i]
	c.lock.Acquire()
	defer c.lock.Release()

	addr := uintptr(ptr)
	(*cellHeader)(unsafe.Pointer(addr)).next = c.freeList
	c.freeList = addr
}

// largeOrder returns the smallest buddy order whose block can hold size
// bytes, via ceil(log2(pages_needed)) (spec.md §4.4 "large path").
func largeOrder(size uint64) int {
	pages := (size + mm.PageSize - 1) / mm.PageSize
	order := 0
	for (uint64(1) << uint(order)) < pages {
		order++
	}
	return order
}

func allocLarge(size uint64) unsafe.Pointer {
	order := largeOrder(size)
	frame, ok := pmm.AllocPages(order)
	if !ok {
		return nil
	}
	return unsafe.Pointer(toAddr(frame))
}

func freeLarge(ptr unsafe.Pointer, size uint64) {
	order := largeOrder(size)
	frame := toPhys(uintptr(ptr))
	pmm.FreePages(frame, order)
}

// Panic reports an unrecoverable allocator failure via kfmt and halts.
// Exposed so a caller that treats a nil Alloc result as fatal (the common
// case until a failable-allocation convention exists everywhere) has one
// place to route through.
func Panic(reason string) {
	kfmt.Panic(&kernel.Error{Module: "heap", Message: reason})
}
