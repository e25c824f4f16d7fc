package main

import (
	"net/http"

	"github.com/galdor/go-service/pkg/shttp"
)

// initSnapshotRoutes exposes manual snapshot control and visibility.
// Automatic snapshotting already runs off SnapshotThreshold; these
// routes exist for operators forcing compaction ahead of a planned
// maintenance window and for tests asserting on snapshot state.
func (s *Service) initSnapshotRoutes() {
	s.Route("/snapshots/create", "POST", s.hSnapshotsCreatePOST)
	s.Route("/snapshots/latest", "GET", s.hSnapshotsLatestGET)
	s.Route("/snapshots/metrics", "GET", s.hSnapshotsMetricsGET)
}

func (s *Service) hSnapshotsCreatePOST(h *shttp.Handler) {
	if err := s.raftServer.CreateSnapshot(); err != nil {
		h.ReplyError(http.StatusInternalServerError, "snapshot_failed", "%v", err)
		return
	}

	h.ReplyEmpty(http.StatusNoContent)
}

func (s *Service) hSnapshotsLatestGET(h *shttp.Handler) {
	snap, err := s.raftServer.LatestSnapshot()
	if err != nil {
		h.ReplyError(http.StatusInternalServerError, "snapshot_read_failed", "%v", err)
		return
	}

	if snap == nil {
		h.ReplyError(http.StatusNotFound, "no_snapshot", "no snapshot has been taken yet")
		return
	}

	h.ReplyJSON(http.StatusOK, snap)
}

func (s *Service) hSnapshotsMetricsGET(h *shttp.Handler) {
	metrics, err := s.raftServer.SnapshotMetrics()
	if err != nil {
		h.ReplyError(http.StatusInternalServerError, "snapshot_metrics_failed", "%v", err)
		return
	}

	h.ReplyJSON(http.StatusOK, metrics)
}
