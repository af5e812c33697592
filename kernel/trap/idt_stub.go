//go:build !amd64

package trap

// This file is the aarch64/riscv64 seam spec.md §1 asks for, mirroring
// kernel/cpu's cpu_stub.go: idt_amd64.go's gate table, PIC remap and EOI
// are x86-specific by construction (8259 PIC, IDT gate byte layout), so a
// non-amd64 build needs its own stand-ins rather than failing to compile.
// A real port replaces this file with GICv3/PLIC vector-table setup.

func installIDT() {
	panic("trap: not implemented on this architecture")
}

func remapPIC() {
	panic("trap: not implemented on this architecture")
}

func sendEOI(irq uint8) {
	panic("trap: not implemented on this architecture")
}
