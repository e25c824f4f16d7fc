package raft

import (
	"testing"
	"time"
)

func newSingleNodeServer(t *testing.T) *Server {
	t.Helper()

	servers := ServerSet{
		"solo": ServerData{LocalAddress: "127.0.0.1:0", PublicAddress: "127.0.0.1:0"},
	}

	cfg := ServerCfg{
		Id:      "solo",
		Servers: servers,

		DataDirectory: t.TempDir(),

		Logger: testLogger{},

		MinElectionTimeout: 50 * time.Millisecond,
		MaxElectionTimeout: 100 * time.Millisecond,
		HeartbeatInterval:  10 * time.Millisecond,
		RPCTimeout:         100 * time.Millisecond,
	}

	node, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}

	return node
}

func TestDispatchRejectsMalformedMessage(t *testing.T) {
	node := newSingleNodeServer(t)

	errorChan := make(chan error, 1)
	if err := node.Start(errorChan); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer node.Stop()

	if _, err := node.Dispatch("peer", []byte("not json")); err == nil {
		t.Fatal("Dispatch() with malformed payload should return an error")
	}
}

func TestDispatchAfterStopReturnsError(t *testing.T) {
	node := newSingleNodeServer(t)

	errorChan := make(chan error, 1)
	if err := node.Start(errorChan); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	node.Stop()

	msg := &RPCRequestVoteRequest{Term: 1, CandidateId: "peer"}
	encoded, err := EncodeRPCMsg(msg)
	if err != nil {
		t.Fatalf("EncodeRPCMsg() failed: %v", err)
	}

	if _, err := node.Dispatch("peer", encoded); err == nil {
		t.Fatal("Dispatch() on a stopped server should return an error")
	}
}

func TestDispatchRequestVoteFromSingleNodeGrantsVote(t *testing.T) {
	node := newSingleNodeServer(t)

	errorChan := make(chan error, 1)
	if err := node.Start(errorChan); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer node.Stop()

	msg := &RPCRequestVoteRequest{
		Term:        node.State().CurrentTerm + 1,
		CandidateId: "other",
	}

	encoded, err := EncodeRPCMsg(msg)
	if err != nil {
		t.Fatalf("EncodeRPCMsg() failed: %v", err)
	}

	resData, err := node.Dispatch("other", encoded)
	if err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}

	resMsg, err := DecodeRPCMsg(resData)
	if err != nil {
		t.Fatalf("DecodeRPCMsg() failed: %v", err)
	}

	res, ok := resMsg.(*RPCRequestVoteResponse)
	if !ok {
		t.Fatalf("Dispatch() reply = %T, want *RPCRequestVoteResponse", resMsg)
	}

	if !res.VoteGranted {
		t.Fatal("a node with no prior vote in a higher term should grant the vote")
	}
}
