package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/galdor/go-service/pkg/shttp"
	"github.com/omkar110401/raftkv/pkg/raft"
)

// initChaosRoutes registers the fault-injection surface used by test
// harnesses to exercise leader crashes, network partitions and lossy
// links without tearing down real processes. It is only reachable when
// raft.chaos.enabled is set, and is never consulted by the RPC dispatch
// path in a deployment that leaves it off.
func (s *Service) initChaosRoutes() {
	s.Route("/chaos/status", "GET", s.hChaosStatusGET)
	s.Route("/chaos/crash", "POST", s.hChaosCrashPOST)
	s.Route("/chaos/recover", "POST", s.hChaosRecoverPOST)
	s.Route("/chaos/partition/:peer", "POST", s.hChaosPartitionPOST)
	s.Route("/chaos/heal/:peer", "POST", s.hChaosHealPOST)
	s.Route("/chaos/heal", "POST", s.hChaosHealAllPOST)
	s.Route("/chaos/latency/:ms", "POST", s.hChaosLatencyPOST)
	s.Route("/chaos/loss/:rate", "POST", s.hChaosLossPOST)
	s.Route("/chaos/reset", "POST", s.hChaosResetPOST)
}

func (s *Service) hChaosStatusGET(h *shttp.Handler) {
	h.ReplyJSON(http.StatusOK, s.chaos.Status())
}

func (s *Service) hChaosCrashPOST(h *shttp.Handler) {
	s.chaos.Crash()
	h.ReplyEmpty(http.StatusNoContent)
}

func (s *Service) hChaosRecoverPOST(h *shttp.Handler) {
	s.chaos.Recover()
	h.ReplyEmpty(http.StatusNoContent)
}

func (s *Service) hChaosPartitionPOST(h *shttp.Handler) {
	peer := raft.ServerId(h.PathVariable("peer"))
	s.chaos.Partition(peer)
	h.ReplyEmpty(http.StatusNoContent)
}

func (s *Service) hChaosHealPOST(h *shttp.Handler) {
	peer := raft.ServerId(h.PathVariable("peer"))
	s.chaos.Heal(peer)
	h.ReplyEmpty(http.StatusNoContent)
}

func (s *Service) hChaosHealAllPOST(h *shttp.Handler) {
	s.chaos.HealAll()
	h.ReplyEmpty(http.StatusNoContent)
}

func (s *Service) hChaosLatencyPOST(h *shttp.Handler) {
	ms, err := strconv.Atoi(h.PathVariable("ms"))
	if err != nil {
		h.ReplyError(http.StatusBadRequest, "invalid_latency", "%v", err)
		return
	}

	s.chaos.SetLatency(time.Duration(ms) * time.Millisecond)
	h.ReplyEmpty(http.StatusNoContent)
}

func (s *Service) hChaosLossPOST(h *shttp.Handler) {
	rate, err := strconv.ParseFloat(h.PathVariable("rate"), 64)
	if err != nil {
		h.ReplyError(http.StatusBadRequest, "invalid_rate", "%v", err)
		return
	}

	s.chaos.SetPacketLossRate(rate)
	h.ReplyEmpty(http.StatusNoContent)
}

func (s *Service) hChaosResetPOST(h *shttp.Handler) {
	s.chaos.Reset()
	h.ReplyEmpty(http.StatusNoContent)
}
