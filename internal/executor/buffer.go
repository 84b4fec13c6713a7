package executor

import (
	"sync"
)

// RollingBuffer is an io.Writer that retains at most max bytes, discarding
// the oldest output when the cap is exceeded. Safe for concurrent writers
// since stdout and stderr share one buffer.
type RollingBuffer struct {
	mu        sync.Mutex
	max       int
	buf       []byte
	truncated bool
}

// NewRollingBuffer creates a buffer capped at max bytes.
func NewRollingBuffer(max int) *RollingBuffer {
	return &RollingBuffer{max: max}
}

func (b *RollingBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
		b.truncated = true
	}
	return len(p), nil
}

// String returns the captured output, prefixed with a truncation marker when
// earlier output was discarded.
func (b *RollingBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.truncated {
		return "[output truncated]\n" + string(b.buf)
	}
	return string(b.buf)
}
