package kfmt

import (
	"github.com/mostik-postik/CupruxOS/kernel"
	"github.com/mostik-postik/CupruxOS/kernel/cpu"
)

var (
	// cpuHaltFn is indirected so tests can observe a panic without
	// actually halting the test process.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic prints err (if non-nil) to the active console and halts the CPU with
// interrupts disabled. Panic never returns. It is the fatal-error path for
// kernel.Error values, strings and errors (heap.Panic routes through it);
// the trap handlers for double fault, division error, invalid opcode, #GP
// and an unrecoverable page fault report through PanicWithAddr instead.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
}

func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}

// PanicWithAddr is a convenience wrapper for the trap handlers that need to
// report a faulting instruction pointer or CR2 value alongside the message
// (spec.md §7: "a panic prints the reason and faulting instruction pointer
// (and CR2 for page faults)").
func PanicWithAddr(module, message string, addr uint64) {
	Printf("\n-----------------------------------\n")
	Printf("[%s] unrecoverable error: %s (addr=%16x)\n", module, message, addr)
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")
	cpuHaltFn()
}
