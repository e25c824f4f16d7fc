package raft

import (
	"path/filepath"
	"testing"
)

func TestPersistentStoreOpenCreatesDefaultState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	store := NewPersistentStore(path)
	if err := store.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer store.Close()

	var state PersistentState
	if err := store.Read(&state); err != nil {
		t.Fatalf("Read() failed: %v", err)
	}

	if state.CurrentTerm != 0 || state.VotedFor != "" {
		t.Fatalf("default state = %+v, want zero value", state)
	}
}

func TestPersistentStoreWriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	store := NewPersistentStore(path)
	if err := store.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer store.Close()

	want := PersistentState{CurrentTerm: 5, VotedFor: "node-2"}
	if err := store.Write(want); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	var got PersistentState
	if err := store.Read(&got); err != nil {
		t.Fatalf("Read() failed: %v", err)
	}

	if got != want {
		t.Fatalf("Read() = %+v, want %+v", got, want)
	}
}

func TestPersistentStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	store := NewPersistentStore(path)
	if err := store.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	want := PersistentState{CurrentTerm: 3, VotedFor: "node-1"}
	if err := store.Write(want); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	store.Close()

	reopened := NewPersistentStore(path)
	if err := reopened.Open(); err != nil {
		t.Fatalf("Open() on reopen failed: %v", err)
	}
	defer reopened.Close()

	var got PersistentState
	if err := reopened.Read(&got); err != nil {
		t.Fatalf("Read() after reopen failed: %v", err)
	}

	if got != want {
		t.Fatalf("Read() after reopen = %+v, want %+v", got, want)
	}
}
