// Package console drives the 16550-compatible serial UART that is
// CupruxOS's one console device. spec.md's ambient-stack expansion calls
// for a real output sink kfmt can bind to before the kernel heap (or any
// framebuffer driver) exists; the serial port is the only device every
// target VM exposes unconditionally, so it is the sole console rather than
// one of several the teacher's HAL would probe and rank.
//
// Grounded on gopher-os/kernel/hal.go's "first initialized console becomes
// the active sink, wired through kfmt.SetOutputSink" idiom, re-targeted at
// a single fixed serial port instead of a probed device list, and on
// cpu.Outb/cpu.Inb for the port I/O gopher-os's video/console package
// performs through MMIO instead.
package console

import "github.com/mostik-postik/CupruxOS/kernel/cpu"

// Port selects one of the PC platform's four fixed legacy COM port bases.
type Port uint16

// Standard PC COM port base addresses.
const (
	COM1 Port = 0x3F8
	COM2 Port = 0x2F8
	COM3 Port = 0x3E8
	COM4 Port = 0x2E8
)

const (
	regData        = 0
	regIntEnable   = 1
	regFIFOCtrl    = 2
	regLineCtrl    = 3
	regModemCtrl   = 4
	regLineStatus  = 5
	regDivisorLow  = 0
	regDivisorHigh = 1

	lineStatusTxEmpty = 1 << 5
	lineStatusRxReady = 1 << 0
)

// UART is a 16550-compatible serial port console. The zero value is not
// usable; construct one with New and call Init before use.
type UART struct {
	base Port
}

// New returns a UART bound to base. Init must be called before Write.
func New(base Port) *UART {
	return &UART{base: base}
}

// Init programs the line control, FIFO and baud-rate divisor registers for
// 38400 8N1 operation with interrupts disabled (the core polls; it installs
// no IRQ4/IRQ3 handler, matching spec.md's Non-goals around device
// interrupt routing beyond the timer).
func (u *UART) Init() {
	const baseClock = 115200
	const baud = 38400
	divisor := uint16(baseClock / baud)

	cpu.Outb(uint16(u.base)+regIntEnable, 0x00) // disable UART interrupts
	cpu.Outb(uint16(u.base)+regLineCtrl, 0x80)  // enable DLAB to set divisor
	cpu.Outb(uint16(u.base)+regDivisorLow, uint8(divisor))
	cpu.Outb(uint16(u.base)+regDivisorHigh, uint8(divisor>>8))
	cpu.Outb(uint16(u.base)+regLineCtrl, 0x03)   // 8 bits, no parity, one stop bit
	cpu.Outb(uint16(u.base)+regFIFOCtrl, 0xC7)   // enable+clear FIFOs, 14-byte trigger
	cpu.Outb(uint16(u.base)+regModemCtrl, 0x0B)  // DTR/RTS set, enable IRQ line (unused)
}

// Write implements io.Writer by polling the line-status register before
// each byte, satisfying the io.Writer kfmt.SetOutputSink expects.
func (u *UART) Write(p []byte) (int, error) {
	for _, b := range p {
		for cpu.Inb(uint16(u.base)+regLineStatus)&lineStatusTxEmpty == 0 {
		}
		if b == '\n' {
			cpu.Outb(uint16(u.base)+regData, '\r')
			for cpu.Inb(uint16(u.base)+regLineStatus)&lineStatusTxEmpty == 0 {
			}
		}
		cpu.Outb(uint16(u.base)+regData, b)
	}
	return len(p), nil
}

// ReadByte polls for and returns the next received byte. Unused by the
// core's boot path; exposed for a future shell/debug-console consumer.
func (u *UART) ReadByte() byte {
	for cpu.Inb(uint16(u.base)+regLineStatus)&lineStatusRxReady == 0 {
	}
	return cpu.Inb(uint16(u.base) + regData)
}
