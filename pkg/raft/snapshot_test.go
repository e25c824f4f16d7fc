package raft

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSnapshotManagerCreateAndLatest(t *testing.T) {
	mgr := NewSnapshotManager(t.TempDir())
	if err := mgr.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	snap := Snapshot{
		LastIncludedIndex: 10,
		LastIncludedTerm:  2,
		StateData:         map[string]string{"a": "1"},
	}

	if err := mgr.Create(snap); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	latest, corrupt, err := mgr.Latest()
	if err != nil {
		t.Fatalf("Latest() failed: %v", err)
	}
	if len(corrupt) != 0 {
		t.Fatalf("Latest() corrupt = %v, want none", corrupt)
	}
	if latest == nil {
		t.Fatal("Latest() = nil, want a snapshot")
	}

	if latest.LastIncludedIndex != 10 || latest.LastIncludedTerm != 2 {
		t.Fatalf("Latest() = %+v, want index 10 term 2", latest)
	}

	if latest.StateData["a"] != "1" {
		t.Fatalf("Latest().StateData = %+v, want a=1", latest.StateData)
	}

	if latest.Timestamp.IsZero() {
		t.Error("Create() should stamp a non-zero Timestamp when none is set")
	}
}

func TestSnapshotManagerLatestWithNoSnapshots(t *testing.T) {
	mgr := NewSnapshotManager(t.TempDir())
	if err := mgr.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	latest, corrupt, err := mgr.Latest()
	if err != nil {
		t.Fatalf("Latest() failed: %v", err)
	}
	if latest != nil {
		t.Fatalf("Latest() = %+v, want nil", latest)
	}
	if len(corrupt) != 0 {
		t.Fatalf("Latest() corrupt = %v, want none", corrupt)
	}
}

// TestSnapshotManagerLatestFallsBackOnCorruption seeds two generations,
// corrupts the newer one directly on disk, and checks Latest falls back
// to the older generation instead of failing Start outright.
func TestSnapshotManagerLatestFallsBackOnCorruption(t *testing.T) {
	mgr := NewSnapshotManager(t.TempDir())
	if err := mgr.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	older := Snapshot{LastIncludedIndex: 10, LastIncludedTerm: 1, StateData: map[string]string{"a": "1"}}
	if err := mgr.Create(older); err != nil {
		t.Fatalf("Create(older) failed: %v", err)
	}

	newer := Snapshot{LastIncludedIndex: 20, LastIncludedTerm: 1, StateData: map[string]string{"a": "2"}}
	if err := mgr.Create(newer); err != nil {
		t.Fatalf("Create(newer) failed: %v", err)
	}

	names, err := mgr.list()
	if err != nil {
		t.Fatalf("list() failed: %v", err)
	}

	corruptPath := filepath.Join(mgr.dir, names[len(names)-1])
	if err := os.WriteFile(corruptPath, []byte("not a gzip stream"), 0600); err != nil {
		t.Fatalf("cannot corrupt %q: %v", corruptPath, err)
	}

	latest, corrupt, err := mgr.Latest()
	if err != nil {
		t.Fatalf("Latest() failed: %v", err)
	}
	if len(corrupt) != 1 {
		t.Fatalf("Latest() corrupt = %v, want exactly one skipped generation", corrupt)
	}
	if latest == nil || latest.LastIncludedIndex != 10 {
		t.Fatalf("Latest() = %+v, want the older index-10 generation", latest)
	}
}

// TestSnapshotManagerLatestAllCorruptStartsEmpty checks that when every
// generation on disk is unreadable, Latest reports no usable snapshot
// rather than an error, so Start can proceed with an empty state
// machine and catch up through replication.
func TestSnapshotManagerLatestAllCorruptStartsEmpty(t *testing.T) {
	mgr := NewSnapshotManager(t.TempDir())
	if err := mgr.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	snap := Snapshot{LastIncludedIndex: 10, LastIncludedTerm: 1, StateData: map[string]string{}}
	if err := mgr.Create(snap); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	names, err := mgr.list()
	if err != nil {
		t.Fatalf("list() failed: %v", err)
	}

	for _, name := range names {
		if err := os.WriteFile(filepath.Join(mgr.dir, name), []byte("garbage"), 0600); err != nil {
			t.Fatalf("cannot corrupt %q: %v", name, err)
		}
	}

	latest, corrupt, err := mgr.Latest()
	if err != nil {
		t.Fatalf("Latest() failed: %v", err)
	}
	if latest != nil {
		t.Fatalf("Latest() = %+v, want nil when every generation is corrupt", latest)
	}
	if len(corrupt) != len(names) {
		t.Fatalf("Latest() corrupt = %v, want all %d generations flagged", corrupt, len(names))
	}
}

func TestSnapshotManagerPrunesOldGenerations(t *testing.T) {
	mgr := NewSnapshotManager(t.TempDir())
	if err := mgr.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	mgr.keepBackups = 2

	for i := 1; i <= 5; i++ {
		snap := Snapshot{
			LastIncludedIndex: LogIndex(i * 10),
			LastIncludedTerm:  1,
			StateData:         map[string]string{},
		}
		if err := mgr.Create(snap); err != nil {
			t.Fatalf("Create(%d) failed: %v", i, err)
		}
	}

	names, err := mgr.list()
	if err != nil {
		t.Fatalf("list() failed: %v", err)
	}

	if len(names) != 2 {
		t.Fatalf("have %d snapshot files on disk, want 2 after pruning", len(names))
	}

	latest, _, err := mgr.Latest()
	if err != nil {
		t.Fatalf("Latest() failed: %v", err)
	}
	if latest.LastIncludedIndex != 50 {
		t.Fatalf("Latest().LastIncludedIndex = %d, want 50", latest.LastIncludedIndex)
	}
}

func TestSnapshotManagerMetrics(t *testing.T) {
	mgr := NewSnapshotManager(t.TempDir())
	if err := mgr.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	empty, err := mgr.Metrics()
	if err != nil {
		t.Fatalf("Metrics() failed: %v", err)
	}
	if empty.Count != 0 {
		t.Fatalf("Metrics().Count = %d, want 0", empty.Count)
	}

	snap := Snapshot{LastIncludedIndex: 7, LastIncludedTerm: 1, Timestamp: time.Now(), StateData: map[string]string{}}
	if err := mgr.Create(snap); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	metrics, err := mgr.Metrics()
	if err != nil {
		t.Fatalf("Metrics() failed: %v", err)
	}
	if metrics.Count != 1 || metrics.LatestIndex != 7 {
		t.Fatalf("Metrics() = %+v, want count 1, latestIndex 7", metrics)
	}
}

func TestShouldSnapshot(t *testing.T) {
	tests := []struct {
		liveEntries int
		threshold   int
		want        bool
	}{
		{0, 0, false},
		{100, 0, false},
		{5, 10, false},
		{10, 10, true},
		{11, 10, true},
	}

	for _, tt := range tests {
		if got := ShouldSnapshot(tt.liveEntries, tt.threshold); got != tt.want {
			t.Errorf("ShouldSnapshot(%d, %d) = %v, want %v",
				tt.liveEntries, tt.threshold, got, tt.want)
		}
	}
}

func TestEncodeDecodeSnapshotDataRoundTrip(t *testing.T) {
	data := map[string]string{"a": "1", "b": "2"}

	encoded, err := encodeSnapshotData(data)
	if err != nil {
		t.Fatalf("encodeSnapshotData() failed: %v", err)
	}

	decoded, err := decodeSnapshotData(encoded)
	if err != nil {
		t.Fatalf("decodeSnapshotData() failed: %v", err)
	}

	if len(decoded) != len(data) || decoded["a"] != "1" || decoded["b"] != "2" {
		t.Fatalf("decodeSnapshotData() = %+v, want %+v", decoded, data)
	}
}
