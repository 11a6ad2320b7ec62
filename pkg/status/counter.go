package status

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a named, lock-free counter. It starts its clock on the first
// increment and stops accepting increments once frozen.
type Counter struct {
	name   string
	start  atomic.Int64 // unix nanos, 0 until first increment
	value  atomic.Int64
	frozen atomic.Pointer[frozenValue]
}

type frozenValue struct {
	end   time.Time
	value int64
}

// NewCounter creates a new counter
func NewCounter(name string) *Counter {
	return &Counter{name: name}
}

// Name returns the counter name
func (c *Counter) Name() string {
	return c.name
}

// Increment adds one to the counter
func (c *Counter) Increment() {
	c.Add(1)
}

// Add adds n to the counter. It is a no-op once the counter is frozen.
func (c *Counter) Add(n int64) {
	if c.frozen.Load() != nil {
		return
	}
	c.start.CompareAndSwap(0, time.Now().UnixNano())
	c.value.Add(n)
}

// Value returns the current value, or the value captured by Freeze.
func (c *Counter) Value() int64 {
	if f := c.frozen.Load(); f != nil {
		return f.value
	}
	return c.value.Load()
}

// Freeze stops the clock and pins the value. Only the first call has effect.
func (c *Counter) Freeze() {
	c.frozen.CompareAndSwap(nil, &frozenValue{end: time.Now(), value: c.value.Load()})
}

// Frozen reports whether Freeze has been called
func (c *Counter) Frozen() bool {
	return c.frozen.Load() != nil
}

// Start returns the time of the first increment
func (c *Counter) Start() (time.Time, bool) {
	ns := c.start.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// End returns the time the counter was frozen
func (c *Counter) End() (time.Time, bool) {
	f := c.frozen.Load()
	if f == nil {
		return time.Time{}, false
	}
	return f.end, true
}

// Duration is the time between the first increment and the freeze (or now).
func (c *Counter) Duration() time.Duration {
	start, ok := c.Start()
	if !ok {
		return 0
	}
	end, ok := c.End()
	if !ok {
		end = time.Now()
	}
	return end.Sub(start)
}

// Rate returns the value per second over Duration.
func (c *Counter) Rate() float64 {
	d := c.Duration()
	if d <= 0 {
		return 0
	}
	return float64(c.Value()) / d.Seconds()
}

// CounterSet is a concurrent registry of counters keyed by name.
type CounterSet struct {
	counters sync.Map
}

// Get returns the named counter, creating it on first use.
func (s *CounterSet) Get(name string) *Counter {
	if c, ok := s.counters.Load(name); ok {
		return c.(*Counter)
	}
	c, _ := s.counters.LoadOrStore(name, NewCounter(name))
	return c.(*Counter)
}

// Lookup returns the named counter if it exists
func (s *CounterSet) Lookup(name string) (*Counter, bool) {
	c, ok := s.counters.Load(name)
	if !ok {
		return nil, false
	}
	return c.(*Counter), true
}

// Names returns the registered counter names in sorted order
func (s *CounterSet) Names() []string {
	var names []string
	s.counters.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// FreezeAll freezes every registered counter
func (s *CounterSet) FreezeAll() {
	s.counters.Range(func(_, value any) bool {
		value.(*Counter).Freeze()
		return true
	})
}

func (s *CounterSet) reset(preregistered []string) {
	s.counters.Range(func(key, _ any) bool {
		s.counters.Delete(key)
		return true
	})
	for _, name := range preregistered {
		s.Get(name)
	}
}
