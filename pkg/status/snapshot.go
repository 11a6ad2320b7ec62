package status

import "time"

// CounterSnapshot is a point-in-time copy of a counter
type CounterSnapshot struct {
	Name    string     `json:"name"`
	Value   int64      `json:"value"`
	Rate    float64    `json:"rate_per_second"`
	Started *time.Time `json:"started,omitempty"`
	Ended   *time.Time `json:"ended,omitempty"`
}

// ErrorSnapshot is a serialisable error record
type ErrorSnapshot struct {
	Time  time.Time `json:"time"`
	Item  string    `json:"item"`
	Error string    `json:"error"`
}

// PoolSnapshot mirrors PoolObserver
type PoolSnapshot struct {
	QueueSize     int `json:"queue_size"`
	QueueCapacity int `json:"queue_capacity"`
	Active        int `json:"active"`
	PoolSize      int `json:"pool_size"`
}

// Snapshot is the JSON view of a Status
type Snapshot struct {
	State              string            `json:"state"`
	Source             string            `json:"source"`
	Target             string            `json:"target"`
	DryRun             bool              `json:"dry_run"`
	BatchWeight        int               `json:"batch_weight"`
	CurrentlyScanning  string            `json:"currently_scanning,omitempty"`
	CurrentlyImporting string            `json:"currently_importing,omitempty"`
	StartTime          *time.Time        `json:"start_time,omitempty"`
	EndTime            *time.Time        `json:"end_time,omitempty"`
	DurationSeconds    float64           `json:"duration_seconds"`
	EstimatedRemaining *float64          `json:"estimated_remaining_seconds,omitempty"`
	Pool               *PoolSnapshot     `json:"pool,omitempty"`
	SourceCounters     []CounterSnapshot `json:"source_counters"`
	TargetCounters     []CounterSnapshot `json:"target_counters"`
	Errors             []ErrorSnapshot   `json:"errors"`
}

// Snapshot captures the current status
func (s *Status) Snapshot() Snapshot {
	snap := Snapshot{
		State:              s.State().String(),
		Source:             s.Source(),
		Target:             s.Target(),
		DryRun:             s.DryRun(),
		BatchWeight:        s.BatchWeight(),
		CurrentlyScanning:  s.CurrentlyScanning(),
		CurrentlyImporting: s.CurrentlyImporting(),
		DurationSeconds:    s.Duration().Seconds(),
		SourceCounters:     snapshotCounters(&s.sourceCounters),
		TargetCounters:     snapshotCounters(&s.targetCounters),
		Errors:             []ErrorSnapshot{},
	}
	if t, ok := s.StartTime(); ok {
		snap.StartTime = &t
	}
	if t, ok := s.EndTime(); ok {
		snap.EndTime = &t
	}
	if d, ok := s.EstimatedRemaining(); ok {
		secs := d.Seconds()
		snap.EstimatedRemaining = &secs
	}
	if p, ok := s.Pool(); ok {
		snap.Pool = &PoolSnapshot{
			QueueSize:     p.QueueSize(),
			QueueCapacity: p.QueueCapacity(),
			Active:        p.Active(),
			PoolSize:      p.PoolSize(),
		}
	}
	for _, e := range s.Errors() {
		snap.Errors = append(snap.Errors, ErrorSnapshot{Time: e.Time, Item: e.Item, Error: e.Message()})
	}
	return snap
}

func snapshotCounters(set *CounterSet) []CounterSnapshot {
	names := set.Names()
	out := make([]CounterSnapshot, 0, len(names))
	for _, name := range names {
		c := set.Get(name)
		cs := CounterSnapshot{Name: name, Value: c.Value(), Rate: c.Rate()}
		if t, ok := c.Start(); ok {
			cs.Started = &t
		}
		if t, ok := c.End(); ok {
			cs.Ended = &t
		}
		out = append(out, cs)
	}
	return out
}
