package raft

import (
	"context"
	"fmt"
)

// installSnapshotOn is called when a peer's nextIndex points at an
// entry this node has already compacted away: normal AppendEntries
// replication cannot repair that follower, so the full state is sent
// instead.
func (s *Server) installSnapshotOn(peerId ServerId, term Term) {
	snap, corrupt, err := s.snapshots.Latest()
	if err != nil {
		s.Log.Error("cannot load snapshot for %s: %v", peerId, err)
		return
	}

	for _, name := range corrupt {
		s.Log.Error("skipping corrupt snapshot generation %q while repairing %s", name, peerId)
	}

	if snap == nil {
		s.Log.Error("no snapshot available to repair %s", peerId)
		return
	}

	data, err := encodeSnapshotData(snap.StateData)
	if err != nil {
		s.Log.Error("cannot encode snapshot for %s: %v", peerId, err)
		return
	}

	req := &RPCInstallSnapshotRequest{
		Term:              term,
		LeaderId:          s.Id,
		LastIncludedIndex: snap.LastIncludedIndex,
		LastIncludedTerm:  snap.LastIncludedTerm,
		Offset:            0,
		Data:              data,
		Done:              true,
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Cfg.RPCTimeout)
	defer cancel()

	res, err := s.sendMsg(ctx, peerId, req)
	if err != nil {
		s.Log.Debug(2, "cannot send InstallSnapshot to %s: %v", peerId, err)
		return
	}

	snapRes, ok := res.(*RPCInstallSnapshotResponse)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if snapRes.Term > s.persistentState.CurrentTerm {
		pstate := PersistentState{CurrentTerm: snapRes.Term, VotedFor: ""}
		s.updatePersistentStateLocked(pstate)
		s.revertToFollowerLocked()
		return
	}

	if s.role != RoleLeader || term != s.persistentState.CurrentTerm {
		return
	}

	if req.LastIncludedIndex+1 > s.nextIndex[peerId] {
		s.nextIndex[peerId] = req.LastIncludedIndex + 1
	}

	if req.LastIncludedIndex > s.matchIndex[peerId] {
		s.matchIndex[peerId] = req.LastIncludedIndex
	}
}

// handleInstallSnapshot is the follower-side RPC handler. A snapshot
// whose lastIncludedIndex the follower already has with a matching
// term at that index retains whatever suffix of its log extends past
// it; otherwise the whole log is discarded, per spec.
func (s *Server) handleInstallSnapshot(sourceId ServerId, req *RPCInstallSnapshotRequest) *RPCInstallSnapshotResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Term < s.persistentState.CurrentTerm {
		return &RPCInstallSnapshotResponse{Term: s.persistentState.CurrentTerm}
	}

	if s.role == RoleCandidate {
		s.role = RoleFollower
	}

	s.currentLeader = req.LeaderId
	s.electionTimer.Arm()

	if !req.Done {
		// Chunked transfers beyond a single shot are not accumulated
		// across calls in this implementation; the leader is expected to
		// retry with Done=true once it has the full snapshot ready.
		return &RPCInstallSnapshotResponse{Term: s.persistentState.CurrentTerm}
	}

	stateData, err := decodeSnapshotData(req.Data)
	if err != nil {
		s.Log.Error("cannot decode snapshot from %s: %v", sourceId, err)
		return &RPCInstallSnapshotResponse{Term: s.persistentState.CurrentTerm}
	}

	term, haveEntry := s.log.TermAt(req.LastIncludedIndex)

	if haveEntry && term == req.LastIncludedTerm {
		s.log.CompactUpTo(req.LastIncludedIndex, req.LastIncludedTerm)
	} else {
		s.log.TruncateFrom(0)
		s.log.CompactUpTo(req.LastIncludedIndex, req.LastIncludedTerm)
	}

	if err := s.logFile.Reset(s.log.All()); err != nil {
		s.Log.Error("cannot rewrite log file after InstallSnapshot: %v", err)
	}

	s.vault.Restore(stateData)

	if err := s.snapshots.Create(Snapshot{
		LastIncludedIndex: req.LastIncludedIndex,
		LastIncludedTerm:  req.LastIncludedTerm,
		TermAtCreation:    req.Term,
		StateData:         stateData,
	}); err != nil {
		s.Log.Error("cannot persist installed snapshot: %v", err)
	}

	if req.LastIncludedIndex > LogIndex(s.commitIndex.Load()) {
		s.commitIndex.Store(int64(req.LastIncludedIndex))
	}

	s.applier.SetLastApplied(req.LastIncludedIndex)

	return &RPCInstallSnapshotResponse{Term: s.persistentState.CurrentTerm}
}

// maybeSnapshot takes a new snapshot once the live log has reached
// the configured threshold, then compacts the log up to what the
// applier has already applied. It is checked once per heartbeat tick
// while leading; followers snapshot reactively, via InstallSnapshot.
func (s *Server) maybeSnapshot() {
	threshold := s.Cfg.SnapshotThreshold

	s.mu.Lock()
	liveEntries := len(s.log.All())
	s.mu.Unlock()

	if !ShouldSnapshot(liveEntries, threshold) {
		return
	}

	s.takeSnapshot()
}

// CreateSnapshot forces an immediate snapshot regardless of the
// configured threshold, for the operational /snapshots/create endpoint.
func (s *Server) CreateSnapshot() error {
	return s.takeSnapshot()
}

// SnapshotMetrics reports the snapshot generations currently on disk,
// for the operational /snapshots/metrics endpoint.
func (s *Server) SnapshotMetrics() (SnapshotMetrics, error) {
	return s.snapshots.Metrics()
}

// LatestSnapshot returns the most recently persisted snapshot, if any,
// for the operational /snapshots/latest endpoint.
func (s *Server) LatestSnapshot() (*Snapshot, error) {
	snap, _, err := s.snapshots.Latest()
	return snap, err
}

func (s *Server) takeSnapshot() error {
	lastApplied := s.applier.LastApplied()

	term, ok := s.log.TermAt(lastApplied)
	if !ok {
		return fmt.Errorf("no log entry at index %d to anchor a snapshot", lastApplied)
	}

	snap := Snapshot{
		LastIncludedIndex: lastApplied,
		LastIncludedTerm:  term,
		StateData:         s.vault.Snapshot(),
	}

	s.mu.Lock()
	snap.TermAtCreation = s.persistentState.CurrentTerm
	s.mu.Unlock()

	if err := s.snapshots.Create(snap); err != nil {
		s.Log.Error("cannot create snapshot: %v", err)
		return fmt.Errorf("cannot create snapshot: %w", err)
	}

	s.mu.Lock()
	s.log.CompactUpTo(lastApplied, term)
	if err := s.logFile.Reset(s.log.All()); err != nil {
		s.Log.Error("cannot rewrite log file after compaction: %v", err)
	}
	s.mu.Unlock()

	s.Metrics.Record("snapshot_created", term, fmt.Sprintf("up to index %d", lastApplied))

	s.Log.Info("created snapshot up to index %d (term %d)", lastApplied, term)

	return nil
}
