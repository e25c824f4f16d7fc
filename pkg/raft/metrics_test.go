package raft

import (
	"bytes"
	"strconv"
	"strings"
	"testing"
)

func TestMetricsCollectorRecordAndEventsOrder(t *testing.T) {
	c := NewMetricsCollector(4)

	c.Record("term_change", 1, "first")
	c.Record("term_change", 2, "second")
	c.Record("term_change", 3, "third")

	events := c.Events()
	if len(events) != 3 {
		t.Fatalf("Events() has %d entries, want 3", len(events))
	}

	if events[0].Detail != "first" || events[2].Detail != "third" {
		t.Fatalf("Events() out of order: %+v", events)
	}
}

func TestMetricsCollectorWrapsAtCapacity(t *testing.T) {
	c := NewMetricsCollector(3)

	for i := 0; i < 5; i++ {
		c.Record("event", Term(i), strconv.Itoa(i))
	}

	events := c.Events()
	if len(events) != 3 {
		t.Fatalf("Events() has %d entries, want 3 (ring buffer capacity)", len(events))
	}

	if events[0].Detail != "2" || events[2].Detail != "4" {
		t.Fatalf("Events() after wraparound = %+v, want oldest-first starting at 2", events)
	}
}

func TestMetricsCollectorWriteCSV(t *testing.T) {
	c := NewMetricsCollector(8)
	c.Record("election_won", 4, "became leader")

	var buf bytes.Buffer
	if err := c.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV() failed: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "id,timestamp,kind,term,detail\n") {
		t.Fatalf("WriteCSV() header = %q", out)
	}
	if !strings.Contains(out, "election_won") || !strings.Contains(out, "became leader") {
		t.Fatalf("WriteCSV() body missing recorded event: %q", out)
	}
}
