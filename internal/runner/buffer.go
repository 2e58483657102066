package runner

import "bytes"

const truncationMarker = "\n... [output truncated]"

// boundedBuffer captures process output up to a fixed cap. Writes past the
// cap are counted but discarded, so a chatty script cannot grow memory
// without bound.
type boundedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newBoundedBuffer(max int) *boundedBuffer {
	return &boundedBuffer{max: max}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.max - b.buf.Len()
	if remaining > 0 {
		if len(p) <= remaining {
			b.buf.Write(p)
			return len(p), nil
		}
		b.buf.Write(p[:remaining])
	}
	b.truncated = true
	// Report full length so the child never sees a short write.
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + truncationMarker
	}
	return b.buf.String()
}
