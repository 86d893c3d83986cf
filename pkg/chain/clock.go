package chain

import "sync"

// Clock is a monotonic timepoint counter. On a live chain this is the block
// height; components read it to snapshot vote weight, open voting windows
// and gate timelock execution.
type Clock interface {
	Now() uint64
}

// Counter is an in-process Clock backed by a simple height counter.
type Counter struct {
	height uint64
	mutex  sync.RWMutex
}

// NewCounter creates a counter starting at the given height.
func NewCounter(height uint64) *Counter {
	return &Counter{height: height}
}

// Now returns the current timepoint.
func (c *Counter) Now() uint64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.height
}

// Advance moves the clock forward by n timepoints and returns the new
// current timepoint.
func (c *Counter) Advance(n uint64) uint64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.height += n
	return c.height
}
