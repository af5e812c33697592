package kernel

import (
	"github.com/mostik-postik/CupruxOS/kernel/boot"
	"github.com/mostik-postik/CupruxOS/kernel/console"
	"github.com/mostik-postik/CupruxOS/kernel/cpu"
	"github.com/mostik-postik/CupruxOS/kernel/kfmt"
	"github.com/mostik-postik/CupruxOS/kernel/trap"
	"github.com/mostik-postik/CupruxOS/mm"
	"github.com/mostik-postik/CupruxOS/mm/heap"
	"github.com/mostik-postik/CupruxOS/mm/pmm"
	"github.com/mostik-postik/CupruxOS/mm/vmm"
)

var errKmainReturned = &Error{Module: "kmain", Message: "Kmain returned"}

// Kmain is called by main in boot.go, which the rt0 assembly trampoline
// enters. It is invoked with interrupts disabled and the bootloader's
// multiboot2 info pointer in multibootInfoPtr, runs the initialization
// sequence spec.md §4.1 lists in order, and never returns.
//
// Grounded on gopher-os/kernel/kmain/kmain.go's Init-chain-of-errors shape;
// the chain here follows spec.md §4.1's own step order (console, cpu, trap,
// pmm, vmm, heap) rather than gopher-os's (terminal, pmm, vmm, goruntime).
//
//go:noinline
func Kmain(multibootInfoPtr uintptr) {
	boot.SetInfoPtr(multibootInfoPtr)

	uart := console.New(console.COM1)
	uart.Init()
	kfmt.SetOutputSink(uart)
	kfmt.Printf("CupruxOS booting\n")

	cpu.Init()
	trap.Init()

	if err := pmm.Init(); err != nil {
		kfmt.Panic(err)
	}
	kfmt.Printf("pmm: %d KiB total, %d KiB free\n", pmm.TotalMemory()/1024, pmm.FreeMemory()/1024)

	rootFrame := mm.PhysAddr(cpu.ActiveAddressSpace())
	if err := vmm.InitDirectMap(rootFrame); err != nil {
		kfmt.Panic(err)
	}
	if err := vmm.Init(); err != nil {
		kfmt.Panic(err)
	}
	vmm.SetActiveAddressSpace(vmm.KernelAddressSpace())

	if err := heap.Init(); err != nil {
		kfmt.Panic(err)
	}

	kfmt.Printf("CupruxOS init complete\n")

	// Use kfmt.Panic instead of a bare panic so the compiler cannot treat
	// this call as dead code and eliminate it; Kmain is never supposed to
	// reach here.
	kfmt.Panic(errKmainReturned)
}
