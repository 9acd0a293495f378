package metrics

import "sync/atomic"

// MetricID identifies a counter slot.
type MetricID uint8

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricMFARequired
	MetricMFAFailure
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshCoalesced
	MetricRequestSuccess
	MetricRequestFailure
	MetricRequestRetry
	MetricRequestRateLimited
	MetricSessionLoaded
	MetricSessionPersisted
	MetricPollTimeout

	// MetricIDCount is the number of defined counters, not a counter itself.
	MetricIDCount
)

// paddedCounter occupies a full cache line to keep adjacent counters from
// false-sharing under concurrent increments.
type paddedCounter struct {
	value atomic.Uint64
	_     [56]byte
}

// Config controls collection. When Enabled is false every operation is a
// no-op and Snapshot returns empty maps.
type Config struct {
	Enabled bool
}

// Metrics holds the counter slots. The zero value is unusable; construct
// through New.
type Metrics struct {
	enabled  bool
	counters [MetricIDCount]paddedCounter
}

// New creates a Metrics instance per cfg.
func New(cfg Config) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add adds n to the counter.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	m.counters[id].value.Add(n)
}

// Get returns the current value of one counter.
func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return 0
	}
	return m.counters[id].value.Load()
}

// Snapshot is a point-in-time deep copy of all counters.
type Snapshot struct {
	Counters map[MetricID]uint64
}

// Snapshot copies every counter value.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{Counters: make(map[MetricID]uint64, int(MetricIDCount))}
	if m == nil || !m.enabled {
		return snap
	}
	for id := MetricID(0); id < MetricIDCount; id++ {
		snap.Counters[id] = m.counters[id].value.Load()
	}
	return snap
}
