package metrics

import (
	"sort"
	"sync"
	"time"
)

// Collector aggregates in-process counters for event handling and replans.
type Collector struct {
	mu      sync.RWMutex
	started time.Time
	events  map[string]*EventMetrics

	triggers        uint64
	replans         uint64
	replanFailures  uint64
	renamesApplied  uint64
	renamesRejected uint64
	lastReplan      time.Time
	lastDuration    time.Duration
	lastError       string
}

// EventMetrics counts events seen for one kind and change.
type EventMetrics struct {
	Kind      string    `json:"kind"`
	Change    string    `json:"change"`
	Seen      uint64    `json:"seen"`
	Triggered uint64    `json:"triggered"`
	LastSeen  time.Time `json:"lastSeen,omitempty"`
}

// Totals aggregates replan counters.
type Totals struct {
	Events          uint64 `json:"events"`
	Triggers        uint64 `json:"triggers"`
	Replans         uint64 `json:"replans"`
	ReplanFailures  uint64 `json:"replanFailures"`
	RenamesApplied  uint64 `json:"renamesApplied"`
	RenamesRejected uint64 `json:"renamesRejected"`
}

// Snapshot is the serializable view of the current metrics state.
type Snapshot struct {
	Started            time.Time      `json:"started,omitempty"`
	Totals             Totals         `json:"totals"`
	LastReplan         time.Time      `json:"lastReplan,omitempty"`
	LastReplanDuration time.Duration  `json:"lastReplanDuration,omitempty"`
	LastError          string         `json:"lastError,omitempty"`
	Events             []EventMetrics `json:"events,omitempty"`
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		started: time.Now(),
		events:  make(map[string]*EventMetrics),
	}
}

// RecordEvent counts an incoming event and whether it triggered a replan.
func (c *Collector) RecordEvent(kind, change string, triggered bool) {
	if c == nil {
		return
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events == nil {
		c.events = make(map[string]*EventMetrics)
	}
	key := kind + ":" + change
	metrics, exists := c.events[key]
	if !exists {
		metrics = &EventMetrics{Kind: kind, Change: change}
		c.events[key] = metrics
	}
	metrics.Seen++
	metrics.LastSeen = now
	if triggered {
		metrics.Triggered++
		c.triggers++
	}
}

// RecordReplan records a finished replan cycle. A nil err counts as a
// success.
func (c *Collector) RecordReplan(started time.Time, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replans++
	c.lastReplan = started
	c.lastDuration = time.Since(started)
	if err != nil {
		c.replanFailures++
		c.lastError = err.Error()
		return
	}
	c.lastError = ""
}

// RecordRename counts one executed rename directive.
func (c *Collector) RecordRename(applied bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if applied {
		c.renamesApplied++
		return
	}
	c.renamesRejected++
}

// Snapshot returns the current counters for serialization or display.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{
		Started: c.started,
		Totals: Totals{
			Triggers:        c.triggers,
			Replans:         c.replans,
			ReplanFailures:  c.replanFailures,
			RenamesApplied:  c.renamesApplied,
			RenamesRejected: c.renamesRejected,
		},
		LastReplan:         c.lastReplan,
		LastReplanDuration: c.lastDuration,
		LastError:          c.lastError,
	}
	if len(c.events) == 0 {
		return snap
	}
	snap.Events = make([]EventMetrics, 0, len(c.events))
	for _, metrics := range c.events {
		if metrics == nil {
			continue
		}
		clone := *metrics
		snap.Events = append(snap.Events, clone)
		snap.Totals.Events += clone.Seen
	}
	sort.Slice(snap.Events, func(i, j int) bool {
		if snap.Events[i].Kind == snap.Events[j].Kind {
			return snap.Events[i].Change < snap.Events[j].Change
		}
		return snap.Events[i].Kind < snap.Events[j].Kind
	})
	return snap
}
