package execute

import (
	"bytes"
	"fmt"
)

// cappedBuffer keeps the first limit bytes written to it and counts the
// rest. Writes never fail, so the workload is not killed by a broken pipe
// when it overruns the cap.
type cappedBuffer struct {
	buf     bytes.Buffer
	limit   int
	dropped int64
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	switch {
	case room <= 0:
		b.dropped += int64(len(p))
	case len(p) > room:
		b.buf.Write(p[:room])
		b.dropped += int64(len(p) - room)
	default:
		b.buf.Write(p)
	}
	return len(p), nil
}

// Truncated reports whether any output was dropped.
func (b *cappedBuffer) Truncated() bool { return b.dropped > 0 }

// Dropped is the number of bytes past the cap.
func (b *cappedBuffer) Dropped() int64 { return b.dropped }

// String returns the kept output, followed by a marker when output was
// dropped.
func (b *cappedBuffer) String() string {
	if b.dropped == 0 {
		return b.buf.String()
	}
	return b.buf.String() + fmt.Sprintf("\n[output truncated: %d bytes dropped]", b.dropped)
}
