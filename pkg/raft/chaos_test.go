package raft

import "testing"

func TestChaosMonkeyCrashRecover(t *testing.T) {
	c := NewChaosMonkey()

	if c.IsCrashed() {
		t.Fatal("new ChaosMonkey should not start crashed")
	}

	c.Crash()
	if !c.IsCrashed() {
		t.Fatal("IsCrashed() should be true after Crash()")
	}

	c.Recover()
	if c.IsCrashed() {
		t.Fatal("IsCrashed() should be false after Recover()")
	}
}

func TestChaosMonkeyPartitionHeal(t *testing.T) {
	c := NewChaosMonkey()

	c.Partition("node-2")
	if !c.IsPartitioned("node-2") {
		t.Fatal("IsPartitioned(node-2) should be true after Partition")
	}
	if c.IsPartitioned("node-3") {
		t.Fatal("IsPartitioned(node-3) should be false, it was never partitioned")
	}

	c.Heal("node-2")
	if c.IsPartitioned("node-2") {
		t.Fatal("IsPartitioned(node-2) should be false after Heal")
	}
}

func TestChaosMonkeyHealAll(t *testing.T) {
	c := NewChaosMonkey()

	c.Partition("node-2")
	c.Partition("node-3")
	c.HealAll()

	if c.IsPartitioned("node-2") || c.IsPartitioned("node-3") {
		t.Fatal("HealAll() should clear every partition")
	}
}

func TestChaosMonkeyPacketLossRateBounds(t *testing.T) {
	c := NewChaosMonkey()

	c.SetPacketLossRate(0)
	for i := 0; i < 100; i++ {
		if c.ShouldDrop() {
			t.Fatal("ShouldDrop() should never report true at a zero loss rate")
		}
	}

	c.SetPacketLossRate(1)
	if !c.ShouldDrop() {
		t.Fatal("ShouldDrop() should always report true at a loss rate of 1")
	}
}

func TestChaosMonkeyReset(t *testing.T) {
	c := NewChaosMonkey()

	c.Crash()
	c.Partition("node-2")
	c.SetPacketLossRate(1)

	c.Reset()

	if c.IsCrashed() || c.IsPartitioned("node-2") || c.ShouldDrop() {
		t.Fatal("Reset() should clear all fault injection state")
	}
}

func TestChaosMonkeyStatus(t *testing.T) {
	c := NewChaosMonkey()

	c.Crash()
	c.Partition("node-2")
	c.SetPacketLossRate(0.5)

	status := c.Status()

	if !status.Crashed {
		t.Error("Status().Crashed should be true")
	}
	if len(status.Partitioned) != 1 || status.Partitioned[0] != "node-2" {
		t.Errorf("Status().Partitioned = %v, want [node-2]", status.Partitioned)
	}
	if status.PacketLossRate != 0.5 {
		t.Errorf("Status().PacketLossRate = %v, want 0.5", status.PacketLossRate)
	}
}
