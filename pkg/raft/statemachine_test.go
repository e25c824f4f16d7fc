package raft

import "testing"

func TestKeyVaultApplyPutAndDelete(t *testing.T) {
	vault := NewKeyVault()

	vault.Apply(Command{Type: CommandPut, Key: "a", Value: "1"})
	vault.Apply(Command{Type: CommandPut, Key: "b", Value: "2"})

	if v, ok := vault.Get("a"); !ok || v != "1" {
		t.Fatalf("Get(a) = %q, %v, want 1, true", v, ok)
	}

	vault.Apply(Command{Type: CommandDelete, Key: "a"})

	if _, ok := vault.Get("a"); ok {
		t.Fatal("Get(a) after delete should report not found")
	}

	if got := vault.Size(); got != 1 {
		t.Fatalf("Size() = %d, want 1", got)
	}
}

func TestKeyVaultApplyNoOpIsIgnored(t *testing.T) {
	vault := NewKeyVault()
	vault.Apply(Command{Type: CommandPut, Key: "a", Value: "1"})
	vault.Apply(Command{Type: CommandNoOp})

	if got := vault.Size(); got != 1 {
		t.Fatalf("Size() after NoOp = %d, want 1", got)
	}
}

func TestKeyVaultApplyRejectsEmptyKey(t *testing.T) {
	vault := NewKeyVault()

	if applied := vault.Apply(Command{Type: CommandPut, Key: "", Value: "1"}); applied {
		t.Fatal("Apply(Put, empty key) should report false")
	}
	if got := vault.Size(); got != 0 {
		t.Fatalf("Size() after empty-key Put = %d, want 0", got)
	}

	vault.Apply(Command{Type: CommandPut, Key: "a", Value: "1"})

	if applied := vault.Apply(Command{Type: CommandDelete, Key: ""}); applied {
		t.Fatal("Apply(Delete, empty key) should report false")
	}
	if _, ok := vault.Get("a"); !ok {
		t.Fatal("an empty-key Delete should not touch unrelated keys")
	}
}

func TestKeyVaultApplyUnknownCommandIsSkipped(t *testing.T) {
	vault := NewKeyVault()

	if applied := vault.Apply(Command{Type: CommandType("bogus"), Key: "a", Value: "1"}); applied {
		t.Fatal("Apply(unknown command) should report false")
	}
	if got := vault.Size(); got != 0 {
		t.Fatalf("Size() after unknown command = %d, want 0", got)
	}
}

func TestKeyVaultSnapshotAndRestore(t *testing.T) {
	vault := NewKeyVault()
	vault.Apply(Command{Type: CommandPut, Key: "a", Value: "1"})
	vault.Apply(Command{Type: CommandPut, Key: "b", Value: "2"})

	snap := vault.Snapshot()

	other := NewKeyVault()
	other.Apply(Command{Type: CommandPut, Key: "stale", Value: "x"})
	other.Restore(snap)

	if _, ok := other.Get("stale"); ok {
		t.Fatal("Restore should wholesale replace prior contents")
	}

	if v, ok := other.Get("b"); !ok || v != "2" {
		t.Fatalf("Get(b) after Restore = %q, %v, want 2, true", v, ok)
	}

	all := other.All()
	if len(all) != 2 {
		t.Fatalf("All() has %d entries, want 2", len(all))
	}
}

func TestKeyVaultAllIsACopy(t *testing.T) {
	vault := NewKeyVault()
	vault.Apply(Command{Type: CommandPut, Key: "a", Value: "1"})

	snapshot := vault.All()
	snapshot["a"] = "mutated"

	if v, _ := vault.Get("a"); v != "1" {
		t.Fatalf("mutating All()'s result affected the vault: Get(a) = %q", v)
	}
}
