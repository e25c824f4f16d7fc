package raft

import (
	"sync"
	"sync/atomic"
)

// Applier advances the state machine to match the committed prefix of
// the log. It runs on its own goroutine, decoupled from AppendEntries
// handling: the coordinator only ever updates commitIndex and pings
// notifyChan, it never calls into the state machine directly. This
// mirrors the redesign the Design Notes call for, replacing the
// original implementation's inline application of each entry as soon
// as it was appended.
type Applier struct {
	log   *Log
	vault *KeyVault
	Log   Logger

	commitIndex *atomic.Int64
	lastApplied atomic.Int64

	notifyChan chan struct{}
	stopChan   chan struct{}
	wg         sync.WaitGroup

	// mu guards against re-applying an index twice if notifyChan
	// fires more than once for the same commit advancement.
	mu sync.Mutex
}

func NewApplier(log *Log, vault *KeyVault, logger Logger, commitIndex *atomic.Int64) *Applier {
	return &Applier{
		log:         log,
		vault:       vault,
		Log:         logger,
		commitIndex: commitIndex,
		notifyChan:  make(chan struct{}, 1),
		stopChan:    make(chan struct{}),
	}
}

// SetLastApplied seeds the applied-index watermark, used after loading
// a snapshot at startup so previously-applied entries are not replayed.
func (a *Applier) SetLastApplied(index LogIndex) {
	a.lastApplied.Store(int64(index))
}

func (a *Applier) LastApplied() LogIndex {
	return LogIndex(a.lastApplied.Load())
}

// Notify wakes the applier; called by the coordinator whenever
// commitIndex advances. It never blocks: the channel is buffered and a
// pending notification already covers any newly committed entries.
func (a *Applier) Notify() {
	select {
	case a.notifyChan <- struct{}{}:
	default:
	}
}

func (a *Applier) Start() {
	a.wg.Add(1)
	go a.run()
}

func (a *Applier) Stop() {
	close(a.stopChan)
	a.wg.Wait()
}

func (a *Applier) run() {
	defer a.wg.Done()

	for {
		select {
		case <-a.stopChan:
			return

		case <-a.notifyChan:
			a.applyUpTo(LogIndex(a.commitIndex.Load()))
		}
	}
}

func (a *Applier) applyUpTo(commitIndex LogIndex) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for {
		next := a.LastApplied() + 1
		if next > commitIndex {
			return
		}

		entry, found := a.log.Get(next)
		if !found {
			// The entry was compacted into a snapshot before the applier
			// got to it; the snapshot already reflects it.
			a.lastApplied.Store(int64(next))
			continue
		}

		applied := a.vault.Apply(entry.Command)
		a.lastApplied.Store(int64(entry.Index))

		if a.Log == nil {
			continue
		}

		if applied {
			a.Log.Debug(2, "applied entry %d (term %d): %v",
				entry.Index, entry.Term, entry.Command)
		} else if entry.Command.Type != CommandNoOp {
			a.Log.Error("skipped entry %d (term %d) with invalid command: %v",
				entry.Index, entry.Term, entry.Command)
		}
	}
}
