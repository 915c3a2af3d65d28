// Package window holds the per-channel sample buffers of the current
// collection window and the flag that gates whether drivers may append.
//
// A single mutex guards every buffer and the flag together, so a drain
// always observes one consistent multi-channel window and no driver can
// append between the snapshot and the end of the window.
package window

import (
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/itohio/proprig/pkg/sensor"
)

// Snapshot is the reduced content of one window.
type Snapshot struct {
	Means  [sensor.Count]float64 // 0 for a channel with no samples
	Counts [sensor.Count]int
}

// Mean returns the window mean of a channel.
func (s Snapshot) Mean(id sensor.ID) float64 {
	return s.Means[id]
}

// Count returns the number of samples collected for a channel.
func (s Snapshot) Count(id sensor.ID) int {
	return s.Counts[id]
}

// Collector is the shared collection state between the sampling drivers and
// the control loop.
type Collector struct {
	mu         sync.Mutex
	collecting bool
	buffers    [sensor.Count][]float64
}

// New creates a Collector that is not collecting.
func New() *Collector {
	return &Collector{}
}

// TryAppend adds a sample to a channel's buffer if a window is open.
// It reports whether the sample was kept.
func (c *Collector) TryAppend(id sensor.ID, value float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.collecting || int(id) < 0 || int(id) >= sensor.Count {
		return false
	}
	c.buffers[id] = append(c.buffers[id], value)
	return true
}

// BeginWindow clears every buffer and opens a new window.
func (c *Collector) BeginWindow() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clear()
	c.collecting = true
}

// Discard closes the window and drops everything collected so far.
func (c *Collector) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.collecting = false
	c.clear()
}

// DrainWindow reduces every buffer to its mean, clears the buffers and closes
// the window, all in one critical section.
func (c *Collector) DrainWindow() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s Snapshot
	for id, buf := range c.buffers {
		s.Counts[id] = len(buf)
		if len(buf) > 0 {
			s.Means[id] = stat.Mean(buf, nil)
		}
	}

	c.collecting = false
	c.clear()
	return s
}

// Collecting reports whether a window is open.
func (c *Collector) Collecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collecting
}

func (c *Collector) clear() {
	for id := range c.buffers {
		c.buffers[id] = c.buffers[id][:0]
	}
}
