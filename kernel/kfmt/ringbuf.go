package kfmt

import "io"

// ringBufferSize is the number of bytes of Printf output retained while no
// sink is installed. Must be a power of two.
const ringBufferSize = 4096

// ringBuffer is a fixed-size, allocation-free io.ReadWriter used to retain
// Printf output produced before a real console is available. When a sink is
// installed via SetOutputSink its contents are copied out via io.Copy; it is
// not written to again while a non-nil sink stays installed.
type ringBuffer struct {
	buffer         [ringBufferSize]byte
	rIndex, wIndex int
}

// Write implements io.Writer. When the buffer is full, the oldest bytes are
// silently overwritten; losing the earliest boot chatter is preferable to
// panicking inside the logger itself.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) & (ringBufferSize - 1)
		if rb.rIndex == rb.wIndex {
			rb.rIndex = (rb.rIndex + 1) & (ringBufferSize - 1)
		}
	}

	return len(p), nil
}

// Read implements io.Reader, draining the buffer from the oldest byte
// onwards.
func (rb *ringBuffer) Read(p []byte) (n int, err error) {
	switch {
	case rb.rIndex < rb.wIndex:
		n = rb.wIndex - rb.rIndex
		if pLen := len(p); pLen < n {
			n = pLen
		}
		copy(p, rb.buffer[rb.rIndex:rb.rIndex+n])
		rb.rIndex += n
		return n, nil
	case rb.rIndex > rb.wIndex:
		n = len(rb.buffer) - rb.rIndex
		if pLen := len(p); pLen < n {
			n = pLen
		}
		copy(p, rb.buffer[rb.rIndex:rb.rIndex+n])
		rb.rIndex += n
		if rb.rIndex == len(rb.buffer) {
			rb.rIndex = 0
		}
		return n, nil
	default: // rIndex == wIndex: empty
		return 0, io.EOF
	}
}
