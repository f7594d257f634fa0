package utils

import (
	"sync"
	"time"

	"netsync/internal/domain/models"
)

// Remote call operations
const (
	OpList       = "list"
	OpBulkCreate = "bulk_create"
	OpBulkUpdate = "bulk_update"
	OpBulkDelete = "bulk_delete"
	OpCreate     = "create"
	OpUpdate     = "update"
	OpDelete     = "delete"
)

// CallStats holds counters for one kind and operation
type CallStats struct {
	Requests       int64
	Failures       int64
	TotalLatency   time.Duration
	AverageLatency time.Duration
}

type callKey struct {
	kind models.EntityKind
	op   string
}

// CallTracker counts remote calls per kind and operation
type CallTracker struct {
	mu    sync.Mutex
	stats map[callKey]*CallStats
}

// NewCallTracker creates an empty tracker
func NewCallTracker() *CallTracker {
	return &CallTracker{stats: make(map[callKey]*CallStats)}
}

// Track records one call
func (t *CallTracker) Track(kind models.EntityKind, op string, latency time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := callKey{kind: kind, op: op}
	stats, exists := t.stats[key]
	if !exists {
		stats = &CallStats{}
		t.stats[key] = stats
	}
	stats.Requests++
	stats.TotalLatency += latency
	if err != nil {
		stats.Failures++
	}
}

// Get returns the counters of one kind and operation
func (t *CallTracker) Get(kind models.EntityKind, op string) CallStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats, exists := t.stats[callKey{kind: kind, op: op}]
	if !exists {
		return CallStats{}
	}
	result := *stats
	if result.Requests > 0 {
		result.AverageLatency = result.TotalLatency / time.Duration(result.Requests)
	}
	return result
}

// Total returns the number of calls of every kind and operation
func (t *CallTracker) Total() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total int64
	for _, stats := range t.stats {
		total += stats.Requests
	}
	return total
}
