package main

import (
	"bytes"
	"net/http"

	"github.com/galdor/go-service/pkg/shttp"
)

// initMetricsRoutes exposes the in-memory ring buffer of raft events
// (election starts, becoming leader, replication acks, commit index
// advances, snapshot creation) for operators and
// for the test harnesses that assert on election/replication timing.
func (s *Service) initMetricsRoutes() {
	s.Route("/metrics/events", "GET", s.hMetricsEventsGET)
	s.Route("/metrics/events.csv", "GET", s.hMetricsEventsCSVGET)
}

func (s *Service) hMetricsEventsGET(h *shttp.Handler) {
	h.ReplyJSON(http.StatusOK, s.metrics.Events())
}

func (s *Service) hMetricsEventsCSVGET(h *shttp.Handler) {
	var buf bytes.Buffer

	if err := s.metrics.WriteCSV(&buf); err != nil {
		h.ReplyError(http.StatusInternalServerError, "csv_encode_failed", "%v", err)
		return
	}

	replyBytes(h, http.StatusOK, "text/csv", buf.Bytes())
}
