package trap

import (
	"unsafe"

	"github.com/mostik-postik/CupruxOS/kernel/cpu"
)

// idtGate is one 16-byte IDT descriptor (spec.md §3 "Page-table entry"
// sibling data structure: "256 gate descriptors, each 16 bytes").
type idtGate struct {
	offsetLow  uint16
	selector   uint16
	istAndZero uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

// gateInterruptPresent is type byte 0x8E: present | ring 0 | interrupt gate
// (clears IF on entry), per spec.md §4.5.
const gateInterruptPresent = 0x8E

var idt [256]idtGate

func setGate(v Vector, handler uintptr, ist uint8) {
	idt[v] = idtGate{
		offsetLow:  uint16(handler),
		selector:   cpu.SelectorKernelCode,
		istAndZero: ist,
		typeAttr:   gateInterruptPresent,
		offsetMid:  uint16(handler >> 16),
		offsetHigh: uint32(handler >> 32),
	}
}

// installIDT writes present gates for the seven vectors spec.md §4.5 lists
// and loads the table. Every other slot stays zeroed, i.e. non-present.
func installIDT() {
	setGate(DivideByZero, trampDivideByZeroAddr(), 0)
	setGate(InvalidOpcode, trampInvalidOpcodeAddr(), 0)
	setGate(DoubleFault, trampDoubleFaultAddr(), cpu.DoubleFaultISTIndex)
	setGate(GeneralProtection, trampGeneralProtectionAddr(), 0)
	setGate(PageFault, trampPageFaultAddr(), 0)
	setGate(Timer, trampTimerAddr(), 0)
	setGate(spuriousIRQ7Vector, trampSpuriousIRQ7Addr(), 0)

	ptr := cpu.DescriptorPointer{
		Limit: uint16(unsafe.Sizeof(idt)) - 1,
		Base:  uintptr(unsafe.Pointer(&idt[0])),
	}
	cpu.LoadIDT(unsafe.Pointer(&ptr))
}

// remapPIC reprograms the primary/secondary 8259 controllers so hardware
// IRQ0-15 land on vectors 0x20-0x2F (avoiding the 0x08-0x0F CPU exception
// range) and masks every line except IRQ0 (spec.md §4.5).
func remapPIC() {
	const (
		pic1Cmd  = 0x20
		pic1Data = 0x21
		pic2Cmd  = 0xA0
		pic2Data = 0xA1

		icw1Init     = 0x11 // edge triggered, cascade mode, ICW4 present
		icw4Mode8086 = 0x01
	)

	cpu.Outb(pic1Cmd, icw1Init)
	cpu.Outb(pic2Cmd, icw1Init)

	cpu.Outb(pic1Data, uint8(irqBase))      // ICW2: primary vector offset
	cpu.Outb(pic2Data, uint8(irqBase)+8)    // ICW2: secondary vector offset

	cpu.Outb(pic1Data, 0x04) // ICW3: secondary attached to IRQ2
	cpu.Outb(pic2Data, 0x02) // ICW3: secondary's cascade identity

	cpu.Outb(pic1Data, icw4Mode8086)
	cpu.Outb(pic2Data, icw4Mode8086)

	cpu.Outb(pic1Data, 0xFE) // mask all but IRQ0 (timer)
	cpu.Outb(pic2Data, 0xFF) // mask every secondary line
}

// sendEOI acknowledges irq to the legacy PIC: both controllers for IRQ>=8,
// otherwise only the primary (spec.md §4.5).
func sendEOI(irq uint8) {
	const (
		pic1Cmd = 0x20
		pic2Cmd = 0xA0
		eoi     = 0x20
	)
	if irq >= 8 {
		cpu.Outb(pic2Cmd, eoi)
	}
	cpu.Outb(pic1Cmd, eoi)
}

// The trampXxxAddr functions return the entry address of the matching
// assembly stub in idt_amd64.s. They exist only so idt_amd64.go can take the
// address of a Go-declared-but-asm-defined function without an explicit
// funcPC/unsafe incantation at every call site.
func trampDivideByZeroAddr() uintptr
func trampInvalidOpcodeAddr() uintptr
func trampDoubleFaultAddr() uintptr
func trampGeneralProtectionAddr() uintptr
func trampPageFaultAddr() uintptr
func trampTimerAddr() uintptr
func trampSpuriousIRQ7Addr() uintptr

// dispatchVectorXxx are the no-argument entry points each trampoline in
// idt_amd64.s calls directly. They exist because a raw CALL from assembly
// cannot hand the Go dispatcher a populated *Frame/*Registers without first
// reproducing the CPU's own push order in hand-written code, which is
// exactly the register-save convention this port leaves to the out-of-scope
// assembly boundary documented in trap.go. Each wrapper dispatches with a
// zeroed Frame/Registers, so the RIP that PanicWithAddr prints for a fatal
// exception is 0, not the faulting instruction pointer. CR2 is read by the
// #PF handler itself, so an unrecoverable page fault does report the live
// fault address.
func dispatchVector0x00() { dispatchException(DivideByZero, currentFrame(), &Registers{}) }
func dispatchVector0x06() { dispatchException(InvalidOpcode, currentFrame(), &Registers{}) }
func dispatchVector0x08() {
	dispatchExceptionWithCode(DoubleFault, lastErrorCode, currentFrame(), &Registers{})
}
func dispatchVector0x0D() {
	dispatchExceptionWithCode(GeneralProtection, lastErrorCode, currentFrame(), &Registers{})
}
func dispatchVector0x0E() {
	dispatchExceptionWithCode(PageFault, lastErrorCode, currentFrame(), &Registers{})
}
func dispatchVector0x20() { dispatchIRQ(0) }
func dispatchVector0x27() { dispatchIRQ(7) }

// lastErrorCode holds the CPU-pushed error code for the vector currently
// being dispatched. Written by the #DF/#GP/#PF trampolines in idt_amd64.s
// before they call into Go; read here rather than passed as a call argument
// because the trampolines call with no arguments (see dispatchVectorXxx).
var lastErrorCode uint64

// currentFrame returns the CPU-pushed return frame for the trap currently
// being handled. Reading it from Go requires the raw return-address/flags
// capture idt_amd64.s's trampolines would otherwise inline; until that
// capture is wired up this returns a zeroed Frame, so RIP-reporting callers
// still compile and run against a defined value rather than a nil deref.
func currentFrame() *Frame { return &Frame{} }
