package raft

import "time"

// HeartbeatTicker is a thin wrapper over time.Ticker giving the leader
// replication loop a fixed-interval tick, matching the teacher's
// ticker-based approach but owned independently of Server so it can be
// created and torn down on role transitions without the server reaching
// into its own timer fields from multiple goroutines.
type HeartbeatTicker struct {
	interval time.Duration
	ticker   *time.Ticker
	C        <-chan time.Time
}

func NewHeartbeatTicker(interval time.Duration) *HeartbeatTicker {
	return &HeartbeatTicker{interval: interval}
}

// Start begins ticking; called when a node becomes leader.
func (t *HeartbeatTicker) Start() {
	t.ticker = time.NewTicker(t.interval)
	t.C = t.ticker.C
}

// Stop halts ticking; called when a node steps down from leader.
func (t *HeartbeatTicker) Stop() {
	if t.ticker != nil {
		t.ticker.Stop()
	}
}
