package agentsession

import (
	"strings"
	"sync"
	"time"
)

// softByteCap and softFlushInterval are the debouncing thresholds from
// spec.md 4.4: flush whichever of "buffer full" or "stale" comes first,
// and always flush before a non-text event so causal ordering holds.
const (
	softByteCap      = 4096
	softFlushInterval = 50 * time.Millisecond
)

// textCoalescer batches Text events into fewer, larger AgentMessage frames.
// Staleness is measured from the last flush, not from the last fragment,
// and is only checked when Add is called; there is no background timer, so
// a buffered tail waits for the next Add, Flush, or non-text event.
type textCoalescer struct {
	mu        sync.Mutex
	buf       strings.Builder
	lastFlush time.Time
	emit      func(text string)
}

func newTextCoalescer(emit func(text string)) *textCoalescer {
	return &textCoalescer{emit: emit, lastFlush: time.Now()}
}

// Add appends a text fragment, flushing immediately if the byte cap or the
// staleness interval has been crossed.
func (c *textCoalescer) Add(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.WriteString(text)
	if c.buf.Len() >= softByteCap || time.Since(c.lastFlush) >= softFlushInterval {
		c.flushLocked()
	}
}

// Flush drains any buffered text unconditionally. Called immediately before
// emitting any non-text event, per spec.md 4.4's ordering rule.
func (c *textCoalescer) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

func (c *textCoalescer) flushLocked() {
	if c.buf.Len() == 0 {
		return
	}
	text := c.buf.String()
	c.buf.Reset()
	c.lastFlush = time.Now()
	c.emit(text)
}
