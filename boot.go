package main

import "github.com/mostik-postik/CupruxOS/kernel"

// multibootInfoPtr is populated by the rt0 assembly trampoline (outside this
// module's Go sources, built and linked by the kernel image's linker script)
// before jumping here. It is a package-level variable rather than a Kmain
// argument threaded through main so the compiler cannot inline main away and
// drop the real entrypoint from the generated object file.
var multibootInfoPtr uintptr

// main is the only Go symbol visible from the rt0 trampoline. It is invoked
// after the trampoline has set up a GDT sufficient to run Go code, a minimal
// g0 goroutine stack and long mode, and is not expected to return — if it
// does, the trampoline halts the CPU.
func main() {
	kernel.Kmain(multibootInfoPtr)
}
