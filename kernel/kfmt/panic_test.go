package kfmt

import (
	"bytes"
	"testing"

	"github.com/mostik-postik/CupruxOS/kernel"
)

func TestPanic(t *testing.T) {
	defer func() { cpuHaltFn = func() {} }()
	defer SetOutputSink(nil)

	var cpuHaltCalled bool
	cpuHaltFn = func() { cpuHaltCalled = true }

	t.Run("with error", func(t *testing.T) {
		cpuHaltCalled = false
		var buf bytes.Buffer
		SetOutputSink(&buf)

		err := &kernel.Error{Module: "test", Message: "panic test"}
		Panic(err)

		exp := "\n-----------------------------------\n[test] unrecoverable error: panic test\n*** kernel panic: system halted ***\n-----------------------------------\n"
		if got := buf.String(); got != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
		}
		if !cpuHaltCalled {
			t.Fatal("expected cpu halt to be invoked by Panic")
		}
	})

	t.Run("without error", func(t *testing.T) {
		cpuHaltCalled = false
		var buf bytes.Buffer
		SetOutputSink(&buf)

		Panic(nil)

		exp := "\n-----------------------------------\n*** kernel panic: system halted ***\n-----------------------------------\n"
		if got := buf.String(); got != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
		}
		if !cpuHaltCalled {
			t.Fatal("expected cpu halt to be invoked by Panic")
		}
	})

	t.Run("with string", func(t *testing.T) {
		cpuHaltCalled = false
		var buf bytes.Buffer
		SetOutputSink(&buf)

		Panic("raw string cause")

		exp := "\n-----------------------------------\n[rt] unrecoverable error: raw string cause\n*** kernel panic: system halted ***\n-----------------------------------\n"
		if got := buf.String(); got != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
		}
		if !cpuHaltCalled {
			t.Fatal("expected cpu halt to be invoked by Panic")
		}
	})
}

func TestPanicWithAddr(t *testing.T) {
	defer func() { cpuHaltFn = func() {} }()
	defer SetOutputSink(nil)

	var cpuHaltCalled bool
	cpuHaltFn = func() { cpuHaltCalled = true }

	var buf bytes.Buffer
	SetOutputSink(&buf)

	PanicWithAddr("trap", "page fault", 0xDEADBEEF)

	if !cpuHaltCalled {
		t.Fatal("expected cpu halt to be invoked by PanicWithAddr")
	}
	if buf.Len() == 0 {
		t.Fatal("expected PanicWithAddr to produce output")
	}
}
