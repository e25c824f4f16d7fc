package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/galdor/go-service/pkg/shttp"
	"github.com/omkar110401/raftkv/pkg/raft"
)

// initVaultRoutes wires the client-facing key/value surface described by
// the data model: writes go through the replicated log, reads are
// served once linearizability has been established (or immediately,
// under WeakReads).
func (s *Service) initVaultRoutes() {
	s.Route("/vault/all", "GET", s.hVaultAllGET)
	s.Route("/vault/key", "PUT", s.hVaultKeyPUT)
	s.Route("/vault/key/:key", "GET", s.hVaultKeyGET)
	s.Route("/vault/key/:key", "DELETE", s.hVaultKeyDELETE)
}

// vaultWriteResponse is the 202 body for a write submission: status is
// REPLICATED once Server.Write has blocked until the entry committed,
// PENDING if it returned before that (Write currently always blocks, so
// PENDING is unreachable today, but the field stays since a future
// fire-and-forget mode would use it).
type vaultWriteResponse struct {
	LeaderId raft.ServerId `json:"leaderId"`
	Term     raft.Term     `json:"term"`
	LogIndex raft.LogIndex `json:"logIndex"`
	Status   string        `json:"status"`
}

type vaultReadResponse struct {
	Value            string        `json:"value,omitempty"`
	Found            bool          `json:"found"`
	Term             raft.Term     `json:"term"`
	LeaderId         raft.ServerId `json:"leaderId"`
	CommitIndex      raft.LogIndex `json:"commitIndex"`
	LastAppliedIndex raft.LogIndex `json:"lastAppliedIndex"`
}

type vaultNotLeaderResponse struct {
	LeaderId raft.ServerId `json:"leaderId"`
	Term     raft.Term     `json:"term"`
	Message  string        `json:"message"`
}

func (s *Service) replyNotLeader(h *shttp.Handler, err *raft.NotLeaderError) {
	state := s.raftServer.State()

	h.ReplyJSON(http.StatusForbidden, &vaultNotLeaderResponse{
		LeaderId: err.LeaderHint,
		Term:     state.CurrentTerm,
		Message:  err.Error(),
	})
}

func (s *Service) hVaultKeyGET(h *shttp.Handler) {
	key := h.PathVariable("key")

	ctx, cancel := context.WithTimeout(h.Request.Context(), clientRequestTimeout)
	defer cancel()

	value, found, err := s.raftServer.Read(ctx, key)
	if err != nil {
		var notLeader *raft.NotLeaderError
		if errors.As(err, &notLeader) {
			s.replyNotLeader(h, notLeader)
			return
		}

		h.ReplyError(http.StatusServiceUnavailable, "read_failed", "%v", err)
		return
	}

	state := s.raftServer.State()

	if !found {
		h.ReplyError(http.StatusNotFound, "unknown_key", "no value for key %q", key)
		return
	}

	h.ReplyJSON(http.StatusOK, &vaultReadResponse{
		Value:            value,
		Found:            found,
		Term:             state.CurrentTerm,
		LeaderId:         state.CurrentLeader,
		CommitIndex:      state.CommitIndex,
		LastAppliedIndex: state.LastApplied,
	})
}

func (s *Service) hVaultAllGET(h *shttp.Handler) {
	state := s.raftServer.State()

	if state.Role != raft.RoleLeader {
		s.replyNotLeader(h, &raft.NotLeaderError{LeaderHint: state.CurrentLeader})
		return
	}

	h.ReplyJSON(http.StatusOK, s.raftServer.Vault().All())
}

type vaultPutBody struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Service) hVaultKeyPUT(h *shttp.Handler) {
	var body vaultPutBody
	if err := h.JSONRequestData(&body); err != nil {
		h.ReplyError(http.StatusBadRequest, "invalid_body", "%v", err)
		return
	}

	ctx, cancel := context.WithTimeout(h.Request.Context(), clientRequestTimeout)
	defer cancel()

	s.writeCommand(h, ctx, raft.Command{
		Type:  raft.CommandPut,
		Key:   body.Key,
		Value: body.Value,
	})
}

func (s *Service) hVaultKeyDELETE(h *shttp.Handler) {
	key := h.PathVariable("key")

	ctx, cancel := context.WithTimeout(h.Request.Context(), clientRequestTimeout)
	defer cancel()

	s.writeCommand(h, ctx, raft.Command{
		Type: raft.CommandDelete,
		Key:  key,
	})
}

// writeCommand submits cmd and replies per spec.md §6's exit codes:
// 202 on write submission (whether the entry is already REPLICATED or
// still PENDING), 403 if this node isn't the leader, and a real error
// status (not 202) when the entry never reached commitIndex in time or
// leadership was lost before it did.
func (s *Service) writeCommand(h *shttp.Handler, ctx context.Context, cmd raft.Command) {
	index, err := s.raftServer.Write(ctx, cmd)
	if err != nil {
		var notLeader *raft.NotLeaderError
		if errors.As(err, &notLeader) {
			s.replyNotLeader(h, notLeader)
			return
		}

		h.ReplyError(http.StatusGatewayTimeout, "not_replicated", "write not replicated: %v", err)
		return
	}

	state := s.raftServer.State()

	h.ReplyJSON(http.StatusAccepted, &vaultWriteResponse{
		LeaderId: state.CurrentLeader,
		Term:     state.CurrentTerm,
		LogIndex: index,
		Status:   "REPLICATED",
	})
}
