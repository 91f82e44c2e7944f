// Package sigchan provides a coalescing notification channel. Emit never
// blocks; a full buffer drops the signal, which is fine because a pending
// signal already means "something changed, go look".
package sigchan

type Chan struct {
	c chan struct{}
}

func New(bufferSize int) *Chan {
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit signals without blocking. Dropped when the buffer is full.
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C exposes the channel for select loops.
func (c *Chan) C() <-chan struct{} {
	return c.c
}

// Close wakes every blocked receiver for good. The owner must make sure
// no Emit happens after Close.
func (c *Chan) Close() {
	close(c.c)
}
