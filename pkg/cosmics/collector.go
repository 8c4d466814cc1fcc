package cosmics

import (
	"sort"
	"sync"
)

// Collector keeps a bounded set of flagged pixel results for diagnostic
// plots. Whatever order workers offer results in, the retained set is the
// first Max flagged pixels in row-major order.
type Collector struct {
	max int

	mu      sync.Mutex
	results []PixelResult
	seen    int
}

// NewCollector returns a collector holding at most max results
func NewCollector(max int) *Collector {
	return &Collector{max: max}
}

// wants reports whether a result at p could still be kept, so that callers
// can skip copying buffers for results that would be dropped
func (c *Collector) wants(p Pixel) bool {
	if c == nil || c.max <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.results) < c.max {
		return true
	}
	return less(p, c.results[len(c.results)-1].Pixel)
}

// Offer records r if it flags at least one frame
func (c *Collector) Offer(r PixelResult) {
	if c == nil || c.max <= 0 {
		return
	}
	flagged := false
	for _, f := range r.Flags {
		if f {
			flagged = true
			break
		}
	}
	if !flagged {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen++
	c.results = append(c.results, r)
	sort.Slice(c.results, func(i, j int) bool {
		return less(c.results[i].Pixel, c.results[j].Pixel)
	})
	if len(c.results) > c.max {
		c.results = c.results[:c.max]
	}
}

// Results returns the retained results in row-major order
func (c *Collector) Results() []PixelResult {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PixelResult(nil), c.results...)
}

// Seen is the number of flagged results offered, kept or not
func (c *Collector) Seen() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen
}

func less(a, b Pixel) bool {
	if a.Row != b.Row {
		return a.Row < b.Row
	}
	return a.Col < b.Col
}
