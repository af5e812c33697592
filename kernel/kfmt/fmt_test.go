package kfmt

import (
	"bytes"
	"testing"
)

func TestPrintf(t *testing.T) {
	defer SetOutputSink(nil)

	printfn := Printf

	specs := []struct {
		fn        func()
		expOutput string
	}{
		{func() { printfn("no args") }, "no args"},
		{func() { printfn("%t", true) }, "true"},
		{func() { printfn("%s arg", "STRING") }, "STRING arg"},
		{func() { printfn("%s arg", []byte("BYTE SLICE")) }, "BYTE SLICE arg"},
		{func() { printfn("'%4s' arg with padding", "ABC") }, "' ABC' arg with padding"},
		{func() { printfn("uint arg: %d", uint8(10)) }, "uint arg: 10"},
		{func() { printfn("uint arg: %o", uint16(0777)) }, "uint arg: 777"},
		{func() { printfn("uint arg: 0x%x", uint32(0xbadf00d)) }, "uint arg: 0xbadf00d"},
		{func() { printfn("uint arg with padding: '%10d'", uint64(123)) }, "uint arg with padding: '       123'"},
		{func() { printfn("int arg: %d", int8(-10)) }, "int arg: -10"},
		{func() { printfn("int arg with padding: '%10d'", int64(-12345678)) }, "int arg with padding: ' -12345678'"},
		{func() { printfn("%%%s%d%t", "foo", 123, true) }, `%foo123true`},
		{func() { printfn("more args", "foo") }, `more args%!(EXTRA)`},
		{func() { printfn("missing args %s") }, `missing args (MISSING)`},
		{func() { printfn("bad verb %Q") }, `bad verb %!(NOVERB)`},
		{func() { printfn("not bool %t", "foo") }, `not bool %!(WRONGTYPE)`},
		{func() { printfn("not int %d", "foo") }, `not int %!(WRONGTYPE)`},
	}

	var buf bytes.Buffer
	SetOutputSink(&buf)

	for specIndex, spec := range specs {
		buf.Reset()
		spec.fn()

		if got := buf.String(); got != spec.expOutput {
			t.Errorf("[spec %d] expected output %q; got %q", specIndex, spec.expOutput, got)
		}
	}
}

func TestPrintfBeforeSinkInstalled(t *testing.T) {
	defer SetOutputSink(nil)
	earlyPrintBuffer = ringBuffer{}

	SetOutputSink(nil)
	Printf("buffered line\n")

	var buf bytes.Buffer
	SetOutputSink(&buf)

	if got := buf.String(); got != "buffered line\n" {
		t.Fatalf("expected replayed early output, got %q", got)
	}
}
