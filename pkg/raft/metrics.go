package raft

import (
	"encoding/csv"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MetricsEvent is a single replication or leadership event recorded
// for operational visibility. It intentionally carries no percentile
// math or aggregation: just enough to answer "what happened and when"
// from the /metrics/events surface.
type MetricsEvent struct {
	Id        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Term      Term      `json:"term"`
	Detail    string    `json:"detail"`
}

// MetricsCollector is a fixed-capacity ring buffer of MetricsEvent
// values. Once full, the oldest event is overwritten by the newest.
type MetricsCollector struct {
	mu       sync.Mutex
	capacity int
	events   []MetricsEvent
	next     int
	filled   bool
}

func NewMetricsCollector(capacity int) *MetricsCollector {
	if capacity <= 0 {
		capacity = 1024
	}

	return &MetricsCollector{
		capacity: capacity,
		events:   make([]MetricsEvent, capacity),
	}
}

func (c *MetricsCollector) Record(kind string, term Term, detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events[c.next] = MetricsEvent{
		Id:        uuid.NewString(),
		Timestamp: time.Now(),
		Kind:      kind,
		Term:      term,
		Detail:    detail,
	}

	c.next = (c.next + 1) % c.capacity
	if c.next == 0 {
		c.filled = true
	}
}

// Events returns every currently buffered event, oldest first.
func (c *MetricsCollector) Events() []MetricsEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.filled {
		out := make([]MetricsEvent, c.next)
		copy(out, c.events[:c.next])
		return out
	}

	out := make([]MetricsEvent, c.capacity)
	copy(out, c.events[c.next:])
	copy(out[c.capacity-c.next:], c.events[:c.next])

	return out
}

// WriteCSV renders every buffered event as CSV, for the
// /metrics/events.csv endpoint.
func (c *MetricsCollector) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"id", "timestamp", "kind", "term", "detail"}); err != nil {
		return err
	}

	for _, e := range c.Events() {
		record := []string{
			e.Id,
			e.Timestamp.Format(time.RFC3339Nano),
			e.Kind,
			strconv.FormatInt(int64(e.Term), 10),
			e.Detail,
		}

		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()

	return cw.Error()
}
