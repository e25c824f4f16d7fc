package raft

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ServerCfg configures a Server. Zero-valued timing fields fall back to
// the reference numbers from the system design: a 500ms heartbeat
// interval and a 10-20s randomized election window, wide enough that a
// missed heartbeat or two over a real network never triggers a
// spurious election.
type ServerCfg struct {
	Id      ServerId
	Servers ServerSet

	DataDirectory string

	Logger Logger

	MinElectionTimeout time.Duration
	MaxElectionTimeout time.Duration

	HeartbeatInterval time.Duration
	RPCTimeout        time.Duration

	// SnapshotThreshold is the number of live (uncompacted) log entries
	// at which a leader becomes eligible to take a new snapshot. Zero
	// disables automatic snapshotting.
	SnapshotThreshold int

	// WeakReads serves client reads directly from the local state
	// machine without first confirming leadership against a majority.
	// This trades linearizability for lower read latency; see
	// DESIGN.md's Open Question resolution.
	WeakReads bool

	Metrics *MetricsCollector

	// Transport overrides the RoundTripper used for outbound peer RPCs.
	// Production callers leave it nil and get the default pooled
	// transport from newHTTPClient. Tests that need to simulate a
	// partitioned or lossy network set it to their own RoundTripper
	// instead of the coordinator branching on fault-injection state.
	Transport http.RoundTripper
}

// NotLeaderError is returned by Write/Read when this node cannot serve
// the request because it isn't the leader. LeaderHint, when non-empty,
// is this node's best guess at who is.
type NotLeaderError struct {
	LeaderHint ServerId
}

func (e *NotLeaderError) Error() string {
	if e.LeaderHint == "" {
		return "not leader: leader unknown"
	}

	return fmt.Sprintf("not leader: leader is %s", e.LeaderHint)
}

type Server struct {
	Cfg ServerCfg
	Log Logger

	Id            ServerId
	LocalAddress  ServerAddress
	PublicAddress ServerAddress

	mu            sync.Mutex
	role          NodeRole
	currentLeader ServerId

	persistentState PersistentState

	// Leader only.
	nextIndex  map[ServerId]LogIndex
	matchIndex map[ServerId]LogIndex

	// Candidate only.
	votes map[ServerId]bool

	commitIndex atomic.Int64

	persistentStore *PersistentStore
	log             *Log
	logFile         *LogFile
	vault           *KeyVault
	applier         *Applier
	snapshots       *SnapshotManager

	Metrics *MetricsCollector

	randGenerator *rand.Rand

	heartbeatTicker *HeartbeatTicker
	electionTimer   *ElectionTimer

	httpClient *http.Client

	rpcChan chan IncomingRPCMsg

	errorChan chan<- error
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

func NewServer(cfg ServerCfg) (*Server, error) {
	if cfg.Id == "" {
		return nil, fmt.Errorf("missing or empty server id")
	}

	sdata, found := cfg.Servers[cfg.Id]
	if !found {
		return nil, fmt.Errorf("unknown server id %q", cfg.Id)
	}

	if cfg.DataDirectory == "" {
		return nil, fmt.Errorf("missing or empty data directory")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("missing logger")
	}

	if cfg.MinElectionTimeout == 0 {
		cfg.MinElectionTimeout = 10 * time.Second
	}

	if cfg.MaxElectionTimeout == 0 {
		cfg.MaxElectionTimeout = 20 * time.Second
	}

	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 500 * time.Millisecond
	}

	if cfg.RPCTimeout == 0 {
		cfg.RPCTimeout = 2 * time.Second
	}

	if cfg.Metrics == nil {
		cfg.Metrics = NewMetricsCollector(1024)
	}

	randSource := rand.NewSource(time.Now().UnixNano())

	dataDirectory := filepath.Join(cfg.DataDirectory, string(cfg.Id))

	s := &Server{
		Cfg: cfg,
		Log: cfg.Logger,

		Id:            cfg.Id,
		LocalAddress:  sdata.LocalAddress,
		PublicAddress: sdata.PublicAddress,

		role: RoleFollower,

		persistentStore: NewPersistentStore(filepath.Join(dataDirectory, "state.json")),
		log:             NewLog(),
		logFile:         NewLogFile(filepath.Join(dataDirectory, "log.data")),
		vault:           NewKeyVault(),
		snapshots:       NewSnapshotManager(filepath.Join(dataDirectory, "snapshots")),

		Metrics: cfg.Metrics,

		randGenerator: rand.New(randSource),

		rpcChan: make(chan IncomingRPCMsg, 64),

		stopChan: make(chan struct{}),
	}

	s.electionTimer = NewElectionTimer(cfg.MinElectionTimeout, cfg.MaxElectionTimeout, s.randGenerator)
	s.heartbeatTicker = NewHeartbeatTicker(cfg.HeartbeatInterval)

	return s, nil
}

func (s *Server) Start(errorChan chan<- error) error {
	s.Log.Debug(1, "starting")

	s.errorChan = errorChan

	if err := os.MkdirAll(filepath.Join(s.Cfg.DataDirectory, string(s.Id)), 0700); err != nil {
		return fmt.Errorf("cannot create data directory: %w", err)
	}

	if err := s.persistentStore.Open(); err != nil {
		return fmt.Errorf("cannot open persistent store: %w", err)
	}

	if err := s.persistentStore.Read(&s.persistentState); err != nil {
		return fmt.Errorf("cannot read persistent state: %w", err)
	}

	s.Log.Debug(1, "initial persistent state: currentTerm %d, votedFor %q",
		s.persistentState.CurrentTerm, s.persistentState.VotedFor)

	if err := s.snapshots.Open(); err != nil {
		return fmt.Errorf("cannot open snapshot directory: %w", err)
	}

	var lastApplied LogIndex

	snap, corrupt, err := s.snapshots.Latest()
	if err != nil {
		return fmt.Errorf("cannot load latest snapshot: %w", err)
	}

	for _, name := range corrupt {
		s.Log.Error("snapshot generation %q is corrupt, falling back to an older one", name)
	}

	if snap == nil && len(corrupt) > 0 {
		s.Log.Error("no usable snapshot on disk, starting from an empty state machine and catching up via replication")
	}

	if snap != nil {
		s.vault.Restore(snap.StateData)
		s.log.CompactUpTo(snap.LastIncludedIndex, snap.LastIncludedTerm)
		lastApplied = snap.LastIncludedIndex

		s.Log.Info("restored snapshot covering up to index %d (term %d)",
			snap.LastIncludedIndex, snap.LastIncludedTerm)
	}

	if err := s.logFile.Open(); err != nil {
		return fmt.Errorf("cannot open log file: %w", err)
	}

	if err := s.logFile.Replay(func(entry LogEntry) error {
		if entry.Index <= s.log.Offset() {
			return nil
		}

		return s.log.Append(entry)
	}); err != nil {
		return fmt.Errorf("cannot replay log file: %w", err)
	}

	// commitIndex starts at whatever a snapshot already covers, not at
	// the end of the replayed log: entries recovered from the on-disk
	// log may never have reached a majority, and only a leader's
	// AppendEntries (or this node winning an election itself) is
	// allowed to advance commitIndex past that point.
	s.commitIndex.Store(int64(lastApplied))

	s.applier = NewApplier(s.log, s.vault, s.Log, &s.commitIndex)
	s.applier.SetLastApplied(lastApplied)
	s.applier.Start()
	s.applier.Notify()

	s.httpClient = newHTTPClient(s.Cfg.Transport)

	s.electionTimer.Arm()

	s.wg.Add(1)
	go s.main()

	s.Log.Debug(1, "started")

	return nil
}

func (s *Server) Stop() {
	s.Log.Debug(1, "stopping")

	close(s.stopChan)
	s.wg.Wait()

	s.Log.Debug(1, "stopped")
}

func (s *Server) main() {
	defer s.wg.Done()

	defer func() {
		if value := recover(); value != nil {
			msg := RecoverValueString(value)
			trace := StackTrace(10)
			s.Log.Error("panic: %s\n%s", msg, trace)

			s.errorChan <- fmt.Errorf("panic: %s", msg)
		}
	}()

	for {
		select {
		case <-s.stopChan:
			s.shutdown()
			return

		case <-s.heartbeatTicker.C:
			s.onHeartbeatTick()

		case <-s.electionTimer.C:
			s.onElectionTimeout()

		case incoming := <-s.rpcChan:
			s.onRPCMsg(incoming)
		}
	}
}

func (s *Server) shutdown() {
	s.Log.Debug(1, "shutting down")

	s.heartbeatTicker.Stop()
	s.electionTimer.Stop()

	s.applier.Stop()

	s.logFile.Close()
	s.persistentStore.Close()
}

// -- role transitions -------------------------------------------------

func (s *Server) updatePersistentStateLocked(state PersistentState) error {
	if err := s.persistentStore.Write(state); err != nil {
		s.Log.Error("cannot write persistent state: %v", err)
		return err
	}

	s.persistentState = state

	return nil
}

// becomeCandidateAndVoteLocked starts a new term, votes for ourselves,
// and returns the request to broadcast. Called with s.mu held.
func (s *Server) becomeCandidateAndVoteLocked() (*RPCRequestVoteRequest, error) {
	pstate := PersistentState{
		CurrentTerm: s.persistentState.CurrentTerm + 1,
		VotedFor:    s.Id,
	}

	if err := s.updatePersistentStateLocked(pstate); err != nil {
		return nil, err
	}

	s.role = RoleCandidate
	s.votes = map[ServerId]bool{s.Id: true}
	s.currentLeader = ""

	req := &RPCRequestVoteRequest{
		Term:         pstate.CurrentTerm,
		CandidateId:  s.Id,
		LastLogIndex: s.log.LastIndex(),
		LastLogTerm:  s.log.LastTerm(),
	}

	return req, nil
}

// becomeLeaderLocked transitions to leader, resets per-peer replication
// bookkeeping (never persisted: it is rebuilt from scratch on every
// promotion), and appends a NoOp entry in the new term so the leader has
// something of its own term to commit before serving linearizable
// reads. Called with s.mu held.
func (s *Server) becomeLeaderLocked() {
	s.role = RoleLeader
	s.currentLeader = s.Id
	s.votes = nil

	s.nextIndex = make(map[ServerId]LogIndex)
	s.matchIndex = make(map[ServerId]LogIndex)

	lastIndex := s.log.LastIndex()

	for id := range s.Cfg.Servers {
		if id == s.Id {
			continue
		}

		s.nextIndex[id] = lastIndex + 1
		s.matchIndex[id] = 0
	}

	s.electionTimer.Stop()

	entry := LogEntry{
		Index:     lastIndex + 1,
		Term:      s.persistentState.CurrentTerm,
		Command:   Command{Type: CommandNoOp},
		CreatedAt: time.Now(),
	}

	if err := s.log.Append(entry); err != nil {
		s.Log.Error("cannot append noop entry: %v", err)
	} else if err := s.logFile.Append(entry); err != nil {
		s.Log.Error("cannot persist noop entry: %v", err)
	}

	s.heartbeatTicker.Start()

	s.Metrics.Record("became_leader", s.persistentState.CurrentTerm,
		fmt.Sprintf("node %s became leader", s.Id))

	s.Log.Info("became leader for term %d", s.persistentState.CurrentTerm)
}

// revertToFollowerLocked clears leader/candidate bookkeeping and rearms
// the election timer. Called with s.mu held.
func (s *Server) revertToFollowerLocked() {
	if s.role == RoleLeader {
		s.heartbeatTicker.Stop()
	}

	s.role = RoleFollower
	s.nextIndex = nil
	s.matchIndex = nil
	s.votes = nil

	s.electionTimer.Arm()
}

// -- election -----------------------------------------------------------

func (s *Server) onElectionTimeout() {
	s.mu.Lock()

	if s.role == RoleLeader {
		s.mu.Unlock()
		return
	}

	s.Log.Debug(1, "election timeout, starting election for term %d",
		s.persistentState.CurrentTerm+1)

	req, err := s.becomeCandidateAndVoteLocked()
	if err != nil {
		s.electionTimer.Arm()
		s.mu.Unlock()
		return
	}

	s.electionTimer.Arm()

	term := s.persistentState.CurrentTerm

	s.mu.Unlock()

	s.Metrics.Record("election_started", term, fmt.Sprintf("candidate %s", s.Id))

	s.broadcastRequestVote(req)
}

func (s *Server) broadcastRequestVote(req *RPCRequestVoteRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), s.Cfg.MinElectionTimeout)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(8)

	for id := range s.Cfg.Servers {
		if id == s.Id {
			continue
		}

		id := id

		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(ctx, s.Cfg.RPCTimeout)
			defer cancel()

			res, err := s.sendMsg(reqCtx, id, req)
			if err != nil {
				s.Log.Debug(2, "cannot send RequestVote to %s: %v", id, err)
				return nil
			}

			voteRes, ok := res.(*RPCRequestVoteResponse)
			if !ok {
				return nil
			}

			s.handleVoteResult(id, req.Term, voteRes)

			return nil
		})
	}

	g.Wait()
}

func (s *Server) handleVoteResult(sourceId ServerId, requestTerm Term, res *RPCRequestVoteResponse) {
	s.mu.Lock()

	if res.Term > s.persistentState.CurrentTerm {
		pstate := PersistentState{CurrentTerm: res.Term, VotedFor: ""}
		s.updatePersistentStateLocked(pstate)
		s.revertToFollowerLocked()
		s.mu.Unlock()
		return
	}

	if s.role != RoleCandidate || requestTerm != s.persistentState.CurrentTerm {
		s.mu.Unlock()
		return
	}

	s.votes[sourceId] = res.VoteGranted

	count := 0
	for _, granted := range s.votes {
		if granted {
			count++
		}
	}

	if count*2 <= len(s.Cfg.Servers) {
		s.mu.Unlock()
		return
	}

	s.Log.Info("obtained %d/%d votes, becoming leader", count, len(s.Cfg.Servers))

	s.becomeLeaderLocked()

	s.mu.Unlock()

	s.replicateAll()
}

// -- replication ----------------------------------------------------------

func (s *Server) onHeartbeatTick() {
	s.mu.Lock()
	isLeader := s.role == RoleLeader
	s.mu.Unlock()

	if !isLeader {
		return
	}

	s.replicateAll()
	s.maybeSnapshot()
}

func (s *Server) replicateAll() {
	s.mu.Lock()
	if s.role != RoleLeader {
		s.mu.Unlock()
		return
	}

	peers := make([]ServerId, 0, len(s.Cfg.Servers))
	for id := range s.Cfg.Servers {
		if id != s.Id {
			peers = append(peers, id)
		}
	}
	s.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(8)

	for _, id := range peers {
		id := id

		g.Go(func() error {
			s.replicatePeer(id)
			return nil
		})
	}

	g.Wait()
}

func (s *Server) replicatePeer(peerId ServerId) {
	s.mu.Lock()

	if s.role != RoleLeader {
		s.mu.Unlock()
		return
	}

	term := s.persistentState.CurrentTerm
	next := s.nextIndex[peerId]
	offset := s.log.Offset()

	s.mu.Unlock()

	if next <= offset {
		s.installSnapshotOn(peerId, term)
		return
	}

	prevIndex := next - 1

	prevTerm, ok := s.log.TermAt(prevIndex)
	if !ok {
		s.installSnapshotOn(peerId, term)
		return
	}

	entries := s.log.Slice(next, s.log.LastIndex())

	s.mu.Lock()
	leaderCommit := LogIndex(s.commitIndex.Load())
	s.mu.Unlock()

	req := &RPCAppendEntriesRequest{
		Term:         term,
		LeaderId:     s.Id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: leaderCommit,
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Cfg.RPCTimeout)
	defer cancel()

	res, err := s.sendMsg(ctx, peerId, req)
	if err != nil {
		s.Log.Debug(2, "cannot send AppendEntries to %s: %v", peerId, err)
		return
	}

	appendRes, ok := res.(*RPCAppendEntriesResponse)
	if !ok {
		return
	}

	s.handleAppendEntriesResult(peerId, term, req, appendRes)
}

func (s *Server) handleAppendEntriesResult(peerId ServerId, requestTerm Term, req *RPCAppendEntriesRequest, res *RPCAppendEntriesResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res.Term > s.persistentState.CurrentTerm {
		pstate := PersistentState{CurrentTerm: res.Term, VotedFor: ""}
		s.updatePersistentStateLocked(pstate)
		s.revertToFollowerLocked()
		return
	}

	if s.role != RoleLeader || requestTerm != s.persistentState.CurrentTerm {
		return
	}

	if res.Success {
		matched := req.PrevLogIndex + LogIndex(len(req.Entries))

		if matched > s.matchIndex[peerId] {
			s.matchIndex[peerId] = matched
		}

		if matched+1 > s.nextIndex[peerId] {
			s.nextIndex[peerId] = matched + 1
		}

		s.Metrics.Record("replication_ack", requestTerm,
			fmt.Sprintf("%s matched index %d", peerId, matched))

		s.advanceCommitIndexLocked()

		return
	}

	// Conflict: back up nextIndex using the follower's hint, falling
	// back to a single-step decrement if it didn't supply one.
	if res.ConflictIndex > 0 {
		s.nextIndex[peerId] = res.ConflictIndex
	} else if s.nextIndex[peerId] > 1 {
		s.nextIndex[peerId]--
	}
}

// advanceCommitIndexLocked implements the commit-index advancement
// rule: commit the highest index replicated to a majority, but only if
// that entry was created in the leader's current term. Called with
// s.mu held.
func (s *Server) advanceCommitIndexLocked() {
	current := LogIndex(s.commitIndex.Load())
	lastIndex := s.log.LastIndex()

	for candidate := lastIndex; candidate > current; candidate-- {
		term, ok := s.log.TermAt(candidate)
		if !ok || term != s.persistentState.CurrentTerm {
			continue
		}

		count := 1 // the leader itself

		for id, matched := range s.matchIndex {
			if id == s.Id {
				continue
			}

			if matched >= candidate {
				count++
			}
		}

		if count*2 > len(s.Cfg.Servers) {
			s.commitIndex.Store(int64(candidate))
			s.applier.Notify()

			s.Metrics.Record("commit_advanced", s.persistentState.CurrentTerm,
				fmt.Sprintf("commitIndex=%d", candidate))

			return
		}
	}
}

// -- RPC dispatch -----------------------------------------------------

func (s *Server) onRPCMsg(incoming IncomingRPCMsg) {
	msg := incoming.Msg

	s.mu.Lock()
	if msg.GetTerm() > s.persistentState.CurrentTerm {
		s.Log.Debug(1, "received %v with higher term, reverting to follower", msg)

		pstate := PersistentState{CurrentTerm: msg.GetTerm(), VotedFor: ""}
		if err := s.updatePersistentStateLocked(pstate); err != nil {
			s.mu.Unlock()
			if incoming.ReplyChan != nil {
				incoming.ReplyChan <- nil
			}
			return
		}

		s.revertToFollowerLocked()
	}
	s.mu.Unlock()

	switch m := msg.(type) {
	case *RPCRequestVoteRequest:
		res := s.handleRequestVote(incoming.SourceId, m)
		if incoming.ReplyChan != nil {
			incoming.ReplyChan <- res
		}

	case *RPCAppendEntriesRequest:
		res := s.handleAppendEntries(incoming.SourceId, m)
		if incoming.ReplyChan != nil {
			incoming.ReplyChan <- res
		}

	case *RPCInstallSnapshotRequest:
		res := s.handleInstallSnapshot(incoming.SourceId, m)
		if incoming.ReplyChan != nil {
			incoming.ReplyChan <- res
		}

	default:
		s.Log.Error("unexpected inbound message %v from %s", msg, incoming.SourceId)
		if incoming.ReplyChan != nil {
			incoming.ReplyChan <- nil
		}
	}
}

func (s *Server) handleRequestVote(sourceId ServerId, req *RPCRequestVoteRequest) *RPCRequestVoteResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	pstate := s.persistentState

	if req.Term < pstate.CurrentTerm {
		return &RPCRequestVoteResponse{Term: pstate.CurrentTerm, VoteGranted: false}
	}

	noVoteYet := pstate.VotedFor == "" || pstate.VotedFor == req.CandidateId

	lastIndex := s.log.LastIndex()
	lastTerm := s.log.LastTerm()

	logUpToDate := req.LastLogTerm > lastTerm ||
		(req.LastLogTerm == lastTerm && req.LastLogIndex >= lastIndex)

	granted := noVoteYet && logUpToDate

	if granted {
		newState := PersistentState{CurrentTerm: pstate.CurrentTerm, VotedFor: req.CandidateId}
		if err := s.updatePersistentStateLocked(newState); err != nil {
			granted = false
		}
	}

	if granted {
		// Only a granted vote resets the timer: a denial must not give a
		// competing candidate's opponent extra time before its own
		// election times out.
		s.electionTimer.Arm()
	}

	return &RPCRequestVoteResponse{Term: s.persistentState.CurrentTerm, VoteGranted: granted}
}

func (s *Server) handleAppendEntries(sourceId ServerId, req *RPCAppendEntriesRequest) *RPCAppendEntriesResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	pstate := s.persistentState

	if req.Term < pstate.CurrentTerm {
		return &RPCAppendEntriesResponse{Term: pstate.CurrentTerm, Success: false}
	}

	if s.role == RoleCandidate {
		s.role = RoleFollower
	}

	if s.currentLeader != req.LeaderId {
		s.Log.Info("leader is %s", req.LeaderId)
		s.currentLeader = req.LeaderId
	}

	s.electionTimer.Arm()

	if req.PrevLogIndex > 0 {
		term, ok := s.log.TermAt(req.PrevLogIndex)
		if !ok {
			return &RPCAppendEntriesResponse{
				Term:          pstate.CurrentTerm,
				Success:       false,
				ConflictIndex: s.log.LastIndex() + 1,
			}
		}

		if term != req.PrevLogTerm {
			conflictTerm := term
			conflictIndex := req.PrevLogIndex

			for conflictIndex > s.log.Offset()+1 {
				t, ok := s.log.TermAt(conflictIndex - 1)
				if !ok || t != conflictTerm {
					break
				}
				conflictIndex--
			}

			return &RPCAppendEntriesResponse{
				Term:          pstate.CurrentTerm,
				Success:       false,
				ConflictIndex: conflictIndex,
				ConflictTerm:  conflictTerm,
			}
		}
	}

	for _, entry := range req.Entries {
		existingTerm, found := s.log.TermAt(entry.Index)

		if found && existingTerm != entry.Term {
			s.log.TruncateFrom(entry.Index)
			if err := s.logFile.Reset(s.log.All()); err != nil {
				s.Log.Error("cannot rewrite log file after truncation: %v", err)
			}
			found = false
		}

		if !found {
			if err := s.log.Append(entry); err != nil {
				s.Log.Error("cannot append entry %d: %v", entry.Index, err)
				break
			}

			if err := s.logFile.Append(entry); err != nil {
				s.Log.Error("cannot persist entry %d: %v", entry.Index, err)
			}
		}
	}

	if req.LeaderCommit > LogIndex(s.commitIndex.Load()) {
		lastNew := req.PrevLogIndex + LogIndex(len(req.Entries))
		newCommit := req.LeaderCommit

		if lastNew < newCommit {
			newCommit = lastNew
		}

		s.commitIndex.Store(int64(newCommit))
		s.applier.Notify()
	}

	return &RPCAppendEntriesResponse{Term: s.persistentState.CurrentTerm, Success: true}
}

// -- client API ---------------------------------------------------------

// Write appends cmd to the log as the leader and blocks until it has
// been durably committed (replicated to a majority), or ctx expires,
// or this node loses leadership in the meantime.
func (s *Server) Write(ctx context.Context, cmd Command) (LogIndex, error) {
	s.mu.Lock()

	if s.role != RoleLeader {
		leader := s.currentLeader
		s.mu.Unlock()
		return 0, &NotLeaderError{LeaderHint: leader}
	}

	term := s.persistentState.CurrentTerm
	entry := LogEntry{
		Index:     s.log.LastIndex() + 1,
		Term:      term,
		Command:   cmd,
		CreatedAt: time.Now(),
	}

	if err := s.log.Append(entry); err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("cannot append entry: %w", err)
	}

	if err := s.logFile.Append(entry); err != nil {
		s.Log.Error("cannot persist entry %d: %v", entry.Index, err)
	}

	s.matchIndex[s.Id] = entry.Index

	s.mu.Unlock()

	s.replicateAll()

	for {
		if LogIndex(s.commitIndex.Load()) >= entry.Index {
			s.mu.Lock()
			stillLeader := s.role == RoleLeader && s.persistentState.CurrentTerm == term
			s.mu.Unlock()

			if !stillLeader {
				return entry.Index, fmt.Errorf("lost leadership before entry %d committed", entry.Index)
			}

			return entry.Index, nil
		}

		select {
		case <-ctx.Done():
			return entry.Index, ctx.Err()
		case <-time.After(10 * time.Millisecond):
			s.mu.Lock()
			stillLeader := s.role == RoleLeader && s.persistentState.CurrentTerm == term
			s.mu.Unlock()

			if !stillLeader {
				return entry.Index, fmt.Errorf("lost leadership before entry %d committed", entry.Index)
			}
		}
	}
}

// Read serves a client read. By default it confirms leadership against
// a majority before answering (heartbeat-confirmed linearizable
// reads); with Cfg.WeakReads it answers immediately from the local
// state machine instead. See DESIGN.md's Open Question resolution.
func (s *Server) Read(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()

	if s.role != RoleLeader {
		leader := s.currentLeader
		s.mu.Unlock()
		return "", false, &NotLeaderError{LeaderHint: leader}
	}

	term := s.persistentState.CurrentTerm
	readIndex := LogIndex(s.commitIndex.Load())
	weak := s.Cfg.WeakReads

	s.mu.Unlock()

	if !weak {
		if err := s.confirmLeadership(ctx, term); err != nil {
			return "", false, err
		}
	}

	for s.applier.LastApplied() < readIndex {
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}

	value, found := s.vault.Get(key)

	return value, found, nil
}

// confirmLeadership pings every peer once (an AppendEntries request
// with no entries) and requires acknowledgement from a majority before
// a read is considered linearizable: this node cannot have been
// superseded without that majority having seen a higher term.
func (s *Server) confirmLeadership(ctx context.Context, term Term) error {
	var acked atomic.Int64
	var g errgroup.Group
	g.SetLimit(8)

	for id := range s.Cfg.Servers {
		if id == s.Id {
			continue
		}

		id := id

		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(ctx, s.Cfg.RPCTimeout)
			defer cancel()

			req := &RPCAppendEntriesRequest{Term: term, LeaderId: s.Id}

			res, err := s.sendMsg(reqCtx, id, req)
			if err != nil {
				return nil
			}

			if r, ok := res.(*RPCAppendEntriesResponse); ok && r.Term <= term {
				acked.Add(1)
			}

			return nil
		})
	}

	g.Wait()

	if acked.Load()+1 <= int64(len(s.Cfg.Servers))/2 {
		return fmt.Errorf("could not confirm leadership against a majority")
	}

	return nil
}

// State is a point-in-time snapshot of node state for the operational
// /raft/state endpoint.
type State struct {
	Id           ServerId `json:"id"`
	Role         NodeRole `json:"role"`
	CurrentTerm  Term     `json:"currentTerm"`
	CurrentLeader ServerId `json:"currentLeader"`
	CommitIndex  LogIndex `json:"commitIndex"`
	LastApplied  LogIndex `json:"lastApplied"`
	LastLogIndex LogIndex `json:"lastLogIndex"`
}

// Vault exposes the underlying state machine directly, for read-only
// operational endpoints (a full key listing) that don't need to go
// through the linearizable Read path.
func (s *Server) Vault() *KeyVault {
	return s.vault
}

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return State{
		Id:            s.Id,
		Role:          s.role,
		CurrentTerm:   s.persistentState.CurrentTerm,
		CurrentLeader: s.currentLeader,
		CommitIndex:   LogIndex(s.commitIndex.Load()),
		LastApplied:   s.applier.LastApplied(),
		LastLogIndex:  s.log.LastIndex(),
	}
}
