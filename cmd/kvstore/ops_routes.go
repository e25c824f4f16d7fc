package main

import (
	"net/http"
	"time"

	"github.com/galdor/go-service/pkg/shttp"
)

// clientRequestTimeout bounds how long a single vault write or read
// waits for the raft server to make progress before giving up and
// telling the client to retry.
const clientRequestTimeout = 5 * time.Second

func (s *Service) initOpsRoutes() {
	s.Route("/health", "GET", s.hHealthGET)
	s.Route("/raft/state", "GET", s.hRaftStateGET)
}

func (s *Service) hHealthGET(h *shttp.Handler) {
	h.ReplyJSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) hRaftStateGET(h *shttp.Handler) {
	h.ReplyJSON(http.StatusOK, s.raftServer.State())
}
