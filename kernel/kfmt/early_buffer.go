package kfmt

import "io"

// earlyBufferSize is large enough to hold a full 80x25 text screen. It must
// be a power of 2.
const earlyBufferSize = 2048

// earlyBuffer retains the most recent earlyBufferSize bytes written to it.
// Older bytes are silently overwritten. It captures Printf output produced
// before the terminal is initialized.
type earlyBuffer struct {
	data [earlyBufferSize]byte

	// head counts every byte ever written and tail every byte drained; the
	// buffered bytes live at [tail, head) modulo earlyBufferSize.
	head, tail uint64
}

// Len returns the number of buffered bytes.
func (b *earlyBuffer) Len() int {
	return int(b.head - b.tail)
}

// Write implements io.Writer. It never fails.
func (b *earlyBuffer) Write(p []byte) (int, error) {
	for _, ch := range p {
		b.data[b.head&(earlyBufferSize-1)] = ch
		b.head++
	}

	if b.head-b.tail > earlyBufferSize {
		b.tail = b.head - earlyBufferSize
	}

	return len(p), nil
}

// WriteTo implements io.WriterTo. It drains the buffered bytes into w using
// at most two writes.
func (b *earlyBuffer) WriteTo(w io.Writer) (int64, error) {
	var total int64

	for b.tail != b.head {
		start := int(b.tail & (earlyBufferSize - 1))
		end := start + b.Len()
		if end > earlyBufferSize {
			end = earlyBufferSize
		}

		n, err := w.Write(b.data[start:end])
		b.tail += uint64(n)
		total += int64(n)
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}

	return total, nil
}
