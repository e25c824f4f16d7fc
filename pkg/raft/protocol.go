package raft

import (
	"encoding/json"
	"fmt"
)

type RPCMsg interface {
	GetType() string
	GetTerm() Term

	fmt.Stringer
}

// IncomingRPCMsg is handed from an HTTP route to the coordinator
// goroutine. ReplyChan, when non-nil, is where the coordinator must
// send exactly one response so the originating HTTP handler can reply
// to the peer that made the request.
type IncomingRPCMsg struct {
	SourceId  ServerId
	Msg       RPCMsg
	ReplyChan chan RPCMsg
}

type RPCRequestVoteRequest struct {
	Term         Term
	CandidateId  ServerId
	LastLogIndex LogIndex
	LastLogTerm  Term
}

func (msg *RPCRequestVoteRequest) GetType() string { return "requestVoteRequest" }
func (msg *RPCRequestVoteRequest) GetTerm() Term    { return msg.Term }

func (msg *RPCRequestVoteRequest) String() string {
	return fmt.Sprintf("RequestVoteRequest{term: %d, candidateId: %q, "+
		"lastLogIndex: %d, lastLogTerm: %d}",
		msg.Term, msg.CandidateId, msg.LastLogIndex, msg.LastLogTerm)
}

type RPCRequestVoteResponse struct {
	Term        Term
	VoteGranted bool
}

func (msg *RPCRequestVoteResponse) GetType() string { return "requestVoteResponse" }
func (msg *RPCRequestVoteResponse) GetTerm() Term    { return msg.Term }

func (msg *RPCRequestVoteResponse) String() string {
	return fmt.Sprintf("RequestVoteResponse{term: %d, voteGranted: %v}",
		msg.Term, msg.VoteGranted)
}

type RPCAppendEntriesRequest struct {
	Term         Term
	LeaderId     ServerId
	PrevLogIndex LogIndex
	PrevLogTerm  Term
	Entries      []LogEntry
	LeaderCommit LogIndex
}

func (msg *RPCAppendEntriesRequest) GetType() string { return "appendEntriesRequest" }
func (msg *RPCAppendEntriesRequest) GetTerm() Term    { return msg.Term }

func (msg *RPCAppendEntriesRequest) String() string {
	return fmt.Sprintf("AppendEntriesRequest{term: %d, leaderId: %q, "+
		"prevLogIndex: %d, prevLogTerm: %d, %d entries, leaderCommit: %d}",
		msg.Term, msg.LeaderId, msg.PrevLogIndex, msg.PrevLogTerm,
		len(msg.Entries), msg.LeaderCommit)
}

// RPCAppendEntriesResponse carries a conflict hint so the leader can
// back up nextIndex by more than one entry per round trip when a
// follower's log diverges, instead of probing one index at a time.
type RPCAppendEntriesResponse struct {
	Term    Term
	Success bool

	ConflictIndex LogIndex
	ConflictTerm  Term
}

func (msg *RPCAppendEntriesResponse) GetType() string { return "appendEntriesResponse" }
func (msg *RPCAppendEntriesResponse) GetTerm() Term    { return msg.Term }

func (msg *RPCAppendEntriesResponse) String() string {
	return fmt.Sprintf("AppendEntriesResponse{term: %d, success: %v, "+
		"conflictIndex: %d, conflictTerm: %d}",
		msg.Term, msg.Success, msg.ConflictIndex, msg.ConflictTerm)
}

// RPCInstallSnapshotRequest transfers a full snapshot to a follower
// that has fallen too far behind for normal log replication to repair.
// Chunking is supported (Offset/Done) but a single-shot transfer with
// Done=true is the common case at this cluster's expected data sizes.
type RPCInstallSnapshotRequest struct {
	Term              Term
	LeaderId          ServerId
	LastIncludedIndex LogIndex
	LastIncludedTerm  Term
	Offset            int64
	Data              []byte
	Done              bool
}

func (msg *RPCInstallSnapshotRequest) GetType() string { return "installSnapshotRequest" }
func (msg *RPCInstallSnapshotRequest) GetTerm() Term    { return msg.Term }

func (msg *RPCInstallSnapshotRequest) String() string {
	return fmt.Sprintf("InstallSnapshotRequest{term: %d, leaderId: %q, "+
		"lastIncludedIndex: %d, lastIncludedTerm: %d, offset: %d, %d bytes, done: %v}",
		msg.Term, msg.LeaderId, msg.LastIncludedIndex, msg.LastIncludedTerm,
		msg.Offset, len(msg.Data), msg.Done)
}

type RPCInstallSnapshotResponse struct {
	Term Term
}

func (msg *RPCInstallSnapshotResponse) GetType() string { return "installSnapshotResponse" }
func (msg *RPCInstallSnapshotResponse) GetTerm() Term    { return msg.Term }

func (msg *RPCInstallSnapshotResponse) String() string {
	return fmt.Sprintf("InstallSnapshotResponse{term: %d}", msg.Term)
}

func EncodeRPCMsg(msg RPCMsg) ([]byte, error) {
	value := struct {
		Type  string `json:"type"`
		Value RPCMsg `json:"value"`
	}{
		Type:  msg.GetType(),
		Value: msg,
	}

	return json.Marshal(value)
}

func DecodeRPCMsg(data []byte) (RPCMsg, error) {
	var value struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}

	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}

	var msg RPCMsg

	switch value.Type {
	case "requestVoteRequest":
		msg = &RPCRequestVoteRequest{}

	case "requestVoteResponse":
		msg = &RPCRequestVoteResponse{}

	case "appendEntriesRequest":
		msg = &RPCAppendEntriesRequest{}

	case "appendEntriesResponse":
		msg = &RPCAppendEntriesResponse{}

	case "installSnapshotRequest":
		msg = &RPCInstallSnapshotRequest{}

	case "installSnapshotResponse":
		msg = &RPCInstallSnapshotResponse{}

	default:
		return nil, fmt.Errorf("unknown message type %q", value.Type)
	}

	if err := json.Unmarshal(value.Value, &msg); err != nil {
		return nil, err
	}

	return msg, nil
}
