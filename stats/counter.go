// Package stats holds the process counters shared between event goroutines
// and the Prometheus instruments that mirror them.
package stats

import (
	"sort"
	"sync"
)

// CommandCounter counts invocations per command name.
type CommandCounter struct {
	counts map[string]uint64
	mutex  sync.Mutex
}

func NewCommandCounter() *CommandCounter {
	return &CommandCounter{
		counts: make(map[string]uint64),
	}
}

// Increment adds one to name and returns the new count.
func (c *CommandCounter) Increment(name string) uint64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.counts[name]++
	return c.counts[name]
}

func (c *CommandCounter) Count(name string) uint64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.counts[name]
}

// Snapshot returns a copy of all counts.
func (c *CommandCounter) Snapshot() map[string]uint64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	snapshot := make(map[string]uint64, len(c.counts))
	for name, count := range c.counts {
		snapshot[name] = count
	}
	return snapshot
}

// Names returns the counted command names in lexical order.
func (c *CommandCounter) Names() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	names := make([]string, 0, len(c.counts))
	for name := range c.counts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DurationCounter counts elapsed periods of a voice session.
type DurationCounter struct {
	ticks uint64
	mutex sync.Mutex
}

func NewDurationCounter() *DurationCounter {
	return &DurationCounter{}
}

func (d *DurationCounter) Increment() uint64 {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.ticks++
	return d.ticks
}

func (d *DurationCounter) Value() uint64 {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.ticks
}
