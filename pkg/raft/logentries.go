package raft

import (
	"fmt"
	"sync"
)

// Log is the in-memory replicated log. Entries are dense and 1-indexed;
// entries at or below the snapshot offset have been compacted away and
// are only reachable through the snapshot. It carries its own lock,
// separate from the node-wide coordinator mutex, because the applier
// goroutine reads committed entries concurrently with the coordinator
// appending or truncating new ones.
type Log struct {
	mu sync.RWMutex

	entries    []LogEntry // entries[i] has Index == offset+i+1
	offset     LogIndex   // last index included in the most recent snapshot
	offsetTerm Term       // term of the entry at offset, if any
}

func NewLog() *Log {
	return &Log{}
}

// LastIndex returns the index of the last entry in the log, or the
// snapshot offset if the log is empty.
func (l *Log) LastIndex() LogIndex {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.lastIndexLocked()
}

func (l *Log) lastIndexLocked() LogIndex {
	if len(l.entries) == 0 {
		return l.offset
	}

	return l.entries[len(l.entries)-1].Index
}

// LastTerm returns the term of the last entry in the log, or the
// snapshot's term if the log is empty.
func (l *Log) LastTerm() Term {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.entries) == 0 {
		return l.offsetTerm
	}

	return l.entries[len(l.entries)-1].Term
}

// TermAt returns the term of the entry at the given index, and whether
// that index is known to this node (either in the log or as the
// snapshot boundary).
func (l *Log) TermAt(index LogIndex) (Term, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index == l.offset {
		return l.offsetTerm, true
	}

	if index < l.offset || index > l.lastIndexLocked() {
		return 0, false
	}

	if index == 0 {
		return 0, true
	}

	return l.entries[index-l.offset-1].Term, true
}

// Get returns the entry at the given index.
func (l *Log) Get(index LogIndex) (LogEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index <= l.offset || index > l.lastIndexLocked() {
		return LogEntry{}, false
	}

	return l.entries[index-l.offset-1], true
}

// Slice returns entries in [from, to] inclusive.
func (l *Log) Slice(from, to LogIndex) []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if from <= l.offset {
		from = l.offset + 1
	}

	last := l.lastIndexLocked()
	if to > last {
		to = last
	}

	if from > to {
		return nil
	}

	start := from - l.offset - 1
	end := to - l.offset

	out := make([]LogEntry, end-start)
	copy(out, l.entries[start:end])

	return out
}

// Append adds a single entry, which must immediately follow the
// current last index.
func (l *Log) Append(entry LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	expected := l.lastIndexLocked() + 1
	if entry.Index != expected {
		return fmt.Errorf("out-of-order append: expected index %d, got %d",
			expected, entry.Index)
	}

	l.entries = append(l.entries, entry)

	return nil
}

// TruncateFrom drops every entry at or after index, used when a
// follower's log conflicts with the leader's and must be repaired.
func (l *Log) TruncateFrom(index LogIndex) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index <= l.offset {
		l.entries = nil
		return
	}

	cut := index - l.offset - 1
	if cut >= LogIndex(len(l.entries)) {
		return
	}

	l.entries = l.entries[:cut]
}

// CompactUpTo discards every entry at or before index, recording index
// and term as the new snapshot boundary. The caller is responsible for
// having durably persisted a snapshot covering those entries first.
func (l *Log) CompactUpTo(index LogIndex, term Term) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index <= l.offset {
		return
	}

	last := l.lastIndexLocked()

	if index > last {
		l.entries = nil
		l.offset = index
		l.offsetTerm = term
		return
	}

	cut := index - l.offset - 1
	l.entries = append([]LogEntry(nil), l.entries[cut+1:]...)
	l.offset = index
	l.offsetTerm = term
}

// Offset reports the last index covered by a snapshot, i.e. the
// smallest index this node can answer queries about without consulting
// the snapshot itself.
func (l *Log) Offset() LogIndex {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.offset
}

// All returns a copy of every live entry, used to rewrite the on-disk
// log file after a truncation or compaction.
func (l *Log) All() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)

	return out
}
