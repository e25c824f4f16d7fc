package main

import (
	"io"
	"net/http"

	"github.com/galdor/go-service/pkg/shttp"
	"github.com/omkar110401/raftkv/pkg/raft"
)

// initRaftRoutes wires the single endpoint peers use to exchange
// RequestVote, AppendEntries and InstallSnapshot messages. The message
// type is carried inside the encoded body, not the route, so this is
// the only peer-facing route the raft package needs.
func (s *Service) initRaftRoutes() {
	s.Route("/raft/rpc", "POST", s.hRaftRPCPOST)
}

func (s *Service) hRaftRPCPOST(h *shttp.Handler) {
	sourceId := raft.ServerId(h.Request.Header.Get("X-Raft-Source-Id"))

	data, err := io.ReadAll(h.Request.Body)
	if err != nil {
		h.ReplyError(http.StatusBadRequest, "invalid_body", "%v", err)
		return
	}

	res, err := s.raftServer.Dispatch(sourceId, data)
	if err != nil {
		h.ReplyError(http.StatusInternalServerError, "dispatch_failed", "%v", err)
		return
	}

	replyBytes(h, http.StatusOK, "application/octet-stream", res)
}
