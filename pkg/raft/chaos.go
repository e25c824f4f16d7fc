package raft

import (
	"math/rand"
	"sync"
	"time"
)

// ChaosMonkey injects faults for integration tests. Nothing in the
// production RequestVote/AppendEntries/InstallSnapshot dispatch path
// consults it; it is exercised only from _test.go files and from the
// operational /chaos/* surface, which cmd/kvstore only registers when
// explicitly enabled in configuration.
type ChaosMonkey struct {
	mu sync.RWMutex

	crashed          bool
	partitioned      map[ServerId]bool
	latency          time.Duration
	packetLossRate   float64
	rnd              *rand.Rand
}

func NewChaosMonkey() *ChaosMonkey {
	return &ChaosMonkey{
		partitioned: make(map[ServerId]bool),
		rnd:         rand.New(rand.NewSource(1)),
	}
}

func (c *ChaosMonkey) Crash() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.crashed = true
}

func (c *ChaosMonkey) Recover() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.crashed = false
}

func (c *ChaosMonkey) IsCrashed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.crashed
}

// Partition marks peer as unreachable until Heal(peer) is called.
func (c *ChaosMonkey) Partition(peer ServerId) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.partitioned[peer] = true
}

func (c *ChaosMonkey) Heal(peer ServerId) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.partitioned, peer)
}

func (c *ChaosMonkey) HealAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.partitioned = make(map[ServerId]bool)
}

func (c *ChaosMonkey) IsPartitioned(peer ServerId) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.partitioned[peer]
}

// SetLatency configures an artificial delay applied to every outbound
// RPC by Delay.
func (c *ChaosMonkey) SetLatency(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.latency = d
}

func (c *ChaosMonkey) Delay() {
	c.mu.RLock()
	d := c.latency
	c.mu.RUnlock()

	if d > 0 {
		time.Sleep(d)
	}
}

// SetPacketLossRate configures the fraction, in [0, 1], of outbound
// RPCs that ShouldDrop reports should be silently dropped.
func (c *ChaosMonkey) SetPacketLossRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.packetLossRate = rate
}

func (c *ChaosMonkey) ShouldDrop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.packetLossRate <= 0 {
		return false
	}

	return c.rnd.Float64() < c.packetLossRate
}

func (c *ChaosMonkey) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.crashed = false
	c.partitioned = make(map[ServerId]bool)
	c.latency = 0
	c.packetLossRate = 0
}

// ChaosStatus is a snapshot of current fault injection state for the
// /chaos/status endpoint.
type ChaosStatus struct {
	Crashed        bool       `json:"crashed"`
	Partitioned    []ServerId `json:"partitioned"`
	LatencyMs      int64      `json:"latencyMs"`
	PacketLossRate float64    `json:"packetLossRate"`
}

func (c *ChaosMonkey) Status() ChaosStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	peers := make([]ServerId, 0, len(c.partitioned))
	for id := range c.partitioned {
		peers = append(peers, id)
	}

	return ChaosStatus{
		Crashed:        c.crashed,
		Partitioned:    peers,
		LatencyMs:      c.latency.Milliseconds(),
		PacketLossRate: c.packetLossRate,
	}
}
