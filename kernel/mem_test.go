package kernel

import (
	"testing"
	"unsafe"
)

func TestMemset(t *testing.T) {
	buf := make([]byte, 37)
	for i := range buf {
		buf[i] = 0xff
	}

	Memset(uintptr(unsafe.Pointer(&buf[0])), 0xab, uintptr(len(buf)))

	for i, v := range buf {
		if v != 0xab {
			t.Fatalf("byte %d: expected 0xab, got %#x", i, v)
		}
	}
}

func TestMemsetZeroSize(t *testing.T) {
	buf := []byte{0x11, 0x22}
	Memset(uintptr(unsafe.Pointer(&buf[0])), 0, 0)

	if buf[0] != 0x11 || buf[1] != 0x22 {
		t.Fatal("Memset with size 0 must not touch the buffer")
	}
}

func TestMemcopy(t *testing.T) {
	src := []byte("the quick brown fox")
	dst := make([]byte, len(src))

	Memcopy(uintptr(unsafe.Pointer(&src[0])), uintptr(unsafe.Pointer(&dst[0])), uintptr(len(src)))

	if string(dst) != string(src) {
		t.Fatalf("expected %q, got %q", src, dst)
	}
}
