// Package trap owns the 256-entry interrupt descriptor table, the legacy
// PIC remap and the vector table spec.md §4.5 specifies. It is the
// execution context through which the VMM's page-fault handler and the
// (out-of-scope) scheduler's tick hook are entered.
//
// Grounded on gopher-os/kernel/gate (Registers/vector-number definitions)
// and gopher-os/kernel/irq (Frame, EOI, register dump) merged into one
// package because spec.md treats "descriptor tables" and "trap dispatch"
// as a single component (spec.md §2 row "Trap handlers").
package trap

import (
	"github.com/mostik-postik/CupruxOS/kernel/cpu"
	"github.com/mostik-postik/CupruxOS/kernel/kfmt"
)

// Vector identifies one of the 256 IDT slots.
type Vector uint8

// Vectors populated per spec.md §4.5's table. Unlisted vectors are left
// non-present; delivery on one raises a general-protection fault, which the
// #GP handler Init installs reports as fatal.
const (
	DivideByZero       Vector = 0x00
	InvalidOpcode      Vector = 0x06
	DoubleFault        Vector = 0x08
	GeneralProtection  Vector = 0x0D
	PageFault          Vector = 0x0E
	irqBase            Vector = 0x20
	Timer              Vector = irqBase + 0
	spuriousIRQ7Vector Vector = irqBase + 7
)

// Frame is the return-frame the CPU itself pushes before entering a
// handler: {rip, cs, rflags, rsp, ss} (spec.md §3 "Handler ABI").
type Frame struct {
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// Print writes a register dump of f to the active console.
func (f *Frame) Print() {
	kfmt.Printf("RIP = %16x CS  = %16x\n", f.RIP, f.CS)
	kfmt.Printf("RSP = %16x SS  = %16x\n", f.RSP, f.SS)
	kfmt.Printf("RFL = %16x\n", f.RFlags)
}

// Registers is a snapshot of the general-purpose registers at trap entry.
type Registers struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP      uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
}

// Print writes a register dump of r to the active console.
func (r *Registers) Print() {
	kfmt.Printf("RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	kfmt.Printf("RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	kfmt.Printf("RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	kfmt.Printf("RBP = %16x\n", r.RBP)
	kfmt.Printf("R8  = %16x R9  = %16x\n", r.R8, r.R9)
	kfmt.Printf("R10 = %16x R11 = %16x\n", r.R10, r.R11)
	kfmt.Printf("R12 = %16x R13 = %16x\n", r.R12, r.R13)
	kfmt.Printf("R14 = %16x R15 = %16x\n", r.R14, r.R15)
}

// ExceptionHandler handles a vector that does not carry an error code.
type ExceptionHandler func(*Frame, *Registers)

// ExceptionHandlerWithCode handles a vector that carries an error code (#DF,
// #GP, #PF and a handful of others per the x86_64 architecture manual).
type ExceptionHandlerWithCode func(errorCode uint64, f *Frame, r *Registers)

// IRQHandler handles a remapped hardware interrupt. EOI has already been
// sent to the legacy PIC by the time it runs (spec.md §4.5 handler ABI step
// 3 happens in the assembly trampoline; EOI itself is sent by dispatchIRQ
// before it calls the handler, per the "Vectors populated" table's
// per-vector policy).
type IRQHandler func()

var (
	exceptionHandlers       [256]ExceptionHandler
	exceptionHandlersWithErr [256]ExceptionHandlerWithCode
	irqHandlers              [16]IRQHandler

	// schedulerTickFn is invoked after EOI on every timer interrupt. It
	// is a no-op until a scheduler installs itself (spec.md §6).
	schedulerTickFn = func() {}

	// pageFaultFn dispatches CR2/error-code pairs to the VMM. Installed
	// by mm/vmm.Init via SetPageFaultHandler to avoid an import cycle
	// (mm/vmm depends on trap, not the reverse).
	pageFaultFn func(cr2 uintptr, errorCode uint64) bool
)

// HandleException registers handler for a vector that has no CPU-pushed
// error code (e.g. #DE, #UD).
func HandleException(v Vector, handler ExceptionHandler) {
	exceptionHandlers[v] = handler
}

// HandleExceptionWithCode registers handler for a vector that carries an
// error code (#DF, #GP, #PF).
func HandleExceptionWithCode(v Vector, handler ExceptionHandlerWithCode) {
	exceptionHandlersWithErr[v] = handler
}

// HandleIRQ registers handler for a remapped hardware IRQ line (0-15).
func HandleIRQ(irq uint8, handler IRQHandler) {
	irqHandlers[irq] = handler
}

// SetSchedulerTick installs the hook called from the timer vector after EOI
// (spec.md §6 scheduler_tick()).
func SetSchedulerTick(fn func()) {
	schedulerTickFn = fn
}

// SetPageFaultHandler installs the hook invoked on vector 0x0E.
func SetPageFaultHandler(fn func(cr2 uintptr, errorCode uint64) bool) {
	pageFaultFn = fn
}

// Init installs the default handlers for the vectors spec.md §4.5 lists,
// builds and loads the IDT and remaps the legacy PIC. cpu.Init must have
// run first (the IDT's gate selector is cpu.SelectorKernelCode).
func Init() {
	HandleException(DivideByZero, func(f *Frame, _ *Registers) {
		kfmt.PanicWithAddr("trap", "divide-by-zero", f.RIP)
	})
	HandleException(InvalidOpcode, func(f *Frame, _ *Registers) {
		kfmt.PanicWithAddr("trap", "invalid opcode", f.RIP)
	})
	HandleExceptionWithCode(DoubleFault, func(_ uint64, f *Frame, _ *Registers) {
		kfmt.PanicWithAddr("trap", "double fault", f.RIP)
	})
	HandleExceptionWithCode(GeneralProtection, func(_ uint64, f *Frame, _ *Registers) {
		kfmt.PanicWithAddr("trap", "general protection fault", f.RIP)
	})
	HandleExceptionWithCode(PageFault, func(errorCode uint64, f *Frame, _ *Registers) {
		cr2 := uintptr(cpu.ReadCR2())
		if pageFaultFn == nil || !pageFaultFn(cr2, errorCode) {
			kfmt.PanicWithAddr("trap", "unrecoverable page fault", uint64(cr2))
		}
	})
	HandleIRQ(0, func() { schedulerTickFn() })
	// IRQ 7 (spurious) is intentionally left with no handler: dispatch
	// sends no EOI and calls nothing for it (spec.md §7 "silently
	// ignored").

	installIDT()
	remapPIC()
}

// dispatchException is called by the per-vector assembly trampoline for a
// vector with no error code.
func dispatchException(v Vector, f *Frame, r *Registers) {
	if h := exceptionHandlers[v]; h != nil {
		h(f, r)
		return
	}
	kfmt.PanicWithAddr("trap", "unhandled exception", f.RIP)
}

// dispatchExceptionWithCode is called by the per-vector assembly trampoline
// for a vector that carries an error code.
func dispatchExceptionWithCode(v Vector, errorCode uint64, f *Frame, r *Registers) {
	if h := exceptionHandlersWithErr[v]; h != nil {
		h(errorCode, f, r)
		return
	}
	kfmt.PanicWithAddr("trap", "unhandled exception", f.RIP)
}

// dispatchIRQ is called by the per-vector assembly trampoline for a
// remapped hardware interrupt. irq is 0-15.
func dispatchIRQ(irq uint8) {
	if irq == 7 && !spuriousIRQPending() {
		return
	}
	sendEOI(irq)
	if h := irqHandlers[irq]; h != nil {
		h()
	}
}

// spuriousIRQPending reports whether an IRQ7 is genuine. It does not read
// the primary PIC's in-service register; it always returns false, so every
// IRQ7 is treated as spurious and ignored (spec.md §4.5, §7).
func spuriousIRQPending() bool { return false }

// installIDT, remapPIC and sendEOI are implemented in idt_amd64.go (gate
// table construction, in Go) backed by the entry trampolines in
// idt_amd64.s (the part of the ABI no Go function can express, since
// nothing controls the register-save sequence the CPU itself invokes
// with). idt_stub.go provides the non-amd64 build's stand-ins so this
// package still compiles on a host architecture, per cpu_stub.go's
// seam.
