// Package cpu owns the segment descriptor table and TSS (GDT/TSS), the
// LIDT primitive kernel/trap loads its IDT through, and the handful of
// privileged instructions (port I/O, CR-register access, TLB invalidation)
// that the rest of the kernel needs but cannot
// express in portable Go. Every function in this file that has no body is
// implemented in architecture-specific assembly (cpu_amd64.s); the same
// split gopher-os uses for kernel/cpu/cpu_amd64.go, so that the Go side
// stays the auditable, testable contract and the unsafe part stays narrow
// and isolated (spec.md §9 "Unsafe surfaces").
package cpu

import "unsafe"

// Selectors, fixed by the GDT layout spec.md §4.5 requires.
const (
	SelectorNull       = 0x00
	SelectorKernelCode = 0x08
	SelectorKernelData = 0x10
	SelectorUserCode   = 0x1B
	SelectorUserData   = 0x23
	SelectorTSS        = 0x28
)

// gdtEntryCount is the five plain segment descriptors plus the two 8-byte
// slots a 64-bit TSS system descriptor occupies.
const gdtEntryCount = 7

// segDescriptor is a classic 8-byte segment descriptor, used for the null,
// code and data entries.
type segDescriptor uint64

func makeSegDescriptor(access, flags uint8) segDescriptor {
	// Base and limit are ignored in long mode for code/data segments; the
	// CPU uses flat addressing. Only the access byte (present, ring,
	// type, S-bit) and the flags nibble (L-bit for 64-bit code) matter.
	var d uint64
	d |= uint64(access) << 40
	d |= uint64(flags&0xf) << 52
	return segDescriptor(d)
}

const (
	accPresent  = 1 << 7
	accUser     = 1 << 4
	accExec     = 1 << 3
	accRW       = 1 << 1
	ring3       = 3 << 5
	flagLongSeg = 1 << 1 // L-bit: 64-bit code segment
)

// tssDescriptor is the 16-byte system-segment descriptor format a 64-bit TSS
// requires (an 8-byte descriptor plus an 8-byte extension holding the upper
// 32 bits of the base address).
type tssDescriptor struct {
	lo uint64
	hi uint64
}

func makeTSSDescriptor(base uintptr, limit uint32) tssDescriptor {
	b := uint64(base)
	const tssType = 0x9 // 64-bit TSS (available)
	lo := uint64(limit&0xffff) |
		((b & 0xffffff) << 16) |
		(uint64(tssType) << 40) |
		(uint64(accPresent) << 40) |
		(((b >> 24) & 0xff) << 56)
	hi := (b >> 32) & 0xffffffff
	return tssDescriptor{lo: lo, hi: hi}
}

// gdt is the process-wide segment descriptor table. It is written exactly
// once, during Init, and is never mutated afterwards — only the TSS pointed
// to by its last two slots changes over the kernel's lifetime (rsp0, via
// SetKernelStack).
var gdt struct {
	entries [gdtEntryCount]uint64
}

// tssStackSize is the size of the static ring-0 interrupt stack whose top is
// written into tss.rsp0 at boot.
const tssStackSize = 16 * 1024

// doubleFaultStackSize is the size of the dedicated stack pinned to IST slot
// 1 so that a double fault can always be delivered even if the current
// kernel stack is corrupt (spec.md §4.5).
const doubleFaultStackSize = 4096

var (
	kernelStack      [tssStackSize]byte
	doubleFaultStack [doubleFaultStackSize]byte
	tss              TaskStateSegment
	gdtPtr           descriptorPointer
)

// DoubleFaultISTIndex is the 1-based IST slot (spec.md §4.5: "IST slot 1 is
// reserved for the double-fault handler") that kernel/trap must request when
// registering the #DF gate.
const DoubleFaultISTIndex = 1

// TaskStateSegment mirrors the 104-byte x86_64 TSS layout (spec.md §3,
// §4.5): rsp0 for ring transitions plus seven IST slots, trailed by the
// I/O-permission-bitmap offset sentinel set to the structure size, which
// the CPU interprets as "no I/O permission bitmap".
type TaskStateSegment struct {
	_           uint32
	RSP0        uint64
	RSP1        uint64
	RSP2        uint64
	_           uint64
	IST         [7]uint64
	_           uint64
	_           uint16
	IOMapOffset uint16
}

// DescriptorPointer is the pseudo-descriptor format LGDT/LIDT expect: table
// size minus one, followed by its linear base address. kernel/trap builds
// one of these for the IDT and passes it to LoadIDT.
type DescriptorPointer struct {
	Limit uint16
	Base  uintptr
}

type descriptorPointer = DescriptorPointer

// SetKernelStack updates the ring-0 stack pointer used on the next privilege
// transition. It is invoked by the (out-of-scope) scheduler on every context
// switch where the outgoing and incoming tasks differ in kernel stack
// (spec.md §6).
func SetKernelStack(top uintptr) {
	tss.RSP0 = uint64(top)
}

// Init builds the GDT and TSS and loads both (spec.md §4.5 "Load
// sequence"). It is the sole writer of every descriptor-table global other
// than the TSS's rsp0 field, which SetKernelStack may update later
// (spec.md §9 "Global mutable singletons"). IDT installation and the PIC
// remap are a separate step owned by kernel/trap, which depends on this
// package rather than the reverse.
func Init() {
	tss.RSP0 = uint64(uintptr(unsafe.Pointer(&kernelStack[0])) + tssStackSize)
	tss.IST[DoubleFaultISTIndex-1] = uint64(uintptr(unsafe.Pointer(&doubleFaultStack[0])) + doubleFaultStackSize)
	tss.IOMapOffset = uint16(unsafe.Sizeof(tss))

	gdt.entries[0] = 0
	gdt.entries[1] = uint64(makeSegDescriptor(accPresent|accUser|accExec|accRW, flagLongSeg))
	gdt.entries[2] = uint64(makeSegDescriptor(accPresent|accUser|accRW, 0))
	gdt.entries[3] = uint64(makeSegDescriptor(accPresent|accUser|accExec|accRW|ring3, flagLongSeg))
	gdt.entries[4] = uint64(makeSegDescriptor(accPresent|accUser|accRW|ring3, 0))

	tssDesc := makeTSSDescriptor(uintptr(unsafe.Pointer(&tss)), uint32(unsafe.Sizeof(tss)-1))
	gdt.entries[5] = tssDesc.lo
	gdt.entries[6] = tssDesc.hi

	gdtPtr = descriptorPointer{
		Limit: uint16(unsafe.Sizeof(gdt.entries)) - 1,
		Base:  uintptr(unsafe.Pointer(&gdt.entries[0])),
	}
	loadGDT(unsafe.Pointer(&gdtPtr))
	reloadSegments(SelectorKernelCode, SelectorKernelData)
	loadTR(SelectorTSS)
}

// Outb writes a byte to the given I/O port.
func Outb(port uint16, value uint8)

// Inb reads a byte from the given I/O port.
func Inb(port uint16) uint8

// EnableInterrupts unmasks maskable interrupts (STI).
func EnableInterrupts()

// DisableInterrupts masks maskable interrupts (CLI).
func DisableInterrupts()

// Halt masks maskable interrupts (CLI) and stops instruction execution in a
// HLT loop. It never returns.
func Halt()

// FlushTLBEntry invalidates the TLB entry for a single virtual address
// (INVLPG), used after every page-table leaf write (spec.md §4.3).
func FlushTLBEntry(virtAddr uintptr)

// SwitchAddressSpace loads a new L4 page table root into CR3, implicitly
// invalidating every non-global TLB entry.
func SwitchAddressSpace(pml4PhysAddr uintptr)

// ActiveAddressSpace returns the physical address currently loaded in CR3.
func ActiveAddressSpace() uintptr

// ReadCR2 returns the faulting linear address recorded by the last page
// fault.
func ReadCR2() uint64

// loadGDT executes LGDT against the pseudo-descriptor at ptr.
func loadGDT(ptr unsafe.Pointer)

// LoadIDT executes LIDT against the pseudo-descriptor at ptr.
func LoadIDT(ptr unsafe.Pointer)

// loadTR loads the task register with the TSS selector (LTR).
func loadTR(selector uint16)

// reloadSegments reloads CS (via a far-return-style jump) and the data
// segment registers to the supplied kernel selectors.
func reloadSegments(codeSel, dataSel uint16)
