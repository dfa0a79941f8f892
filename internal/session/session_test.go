package session

import (
	"path/filepath"
	"testing"
)

func newTestKV(t *testing.T) (*FileKV, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "agent.json")
	kv, err := NewFileKV(path)
	if err != nil {
		t.Fatalf("NewFileKV failed: %v", err)
	}
	return kv, path
}

func TestFileKVRoundTrip(t *testing.T) {
	kv, _ := newTestKV(t)

	got, err := kv.Get("missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "" {
		t.Errorf("absent key should read as empty, got %q", got)
	}

	if err := kv.Set("k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, _ = kv.Get("k")
	if got != "v" {
		t.Errorf("expected v, got %q", got)
	}

	if err := kv.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, _ = kv.Get("k")
	if got != "" {
		t.Errorf("deleted key should read as empty, got %q", got)
	}

	// Deleting an absent key is fine.
	if err := kv.Delete("k"); err != nil {
		t.Errorf("Delete of absent key failed: %v", err)
	}
}

func TestFileKVPersists(t *testing.T) {
	kv, path := newTestKV(t)
	if err := kv.Set("k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	reopened, err := NewFileKV(path)
	if err != nil {
		t.Fatalf("NewFileKV failed: %v", err)
	}
	got, err := reopened.Get("k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "v" {
		t.Errorf("value should survive reopen, got %q", got)
	}
}

func TestSessionGroupSlot(t *testing.T) {
	kv, _ := newTestKV(t)
	sess := New(kv)

	id, err := sess.CurrentGroupID()
	if err != nil {
		t.Fatalf("CurrentGroupID failed: %v", err)
	}
	if id != "" {
		t.Errorf("fresh session should have no group, got %q", id)
	}

	if err := sess.SetCurrentGroupID("g1"); err != nil {
		t.Fatalf("SetCurrentGroupID failed: %v", err)
	}
	id, _ = sess.CurrentGroupID()
	if id != "g1" {
		t.Errorf("expected g1, got %q", id)
	}

	if err := sess.ClearGroup(); err != nil {
		t.Fatalf("ClearGroup failed: %v", err)
	}
	id, _ = sess.CurrentGroupID()
	if id != "" {
		t.Errorf("cleared slot should be empty, got %q", id)
	}

	// Setting an empty id is the same as clearing.
	if err := sess.SetCurrentGroupID("g2"); err != nil {
		t.Fatalf("SetCurrentGroupID failed: %v", err)
	}
	if err := sess.SetCurrentGroupID(""); err != nil {
		t.Fatalf("SetCurrentGroupID(\"\") failed: %v", err)
	}
	id, _ = sess.CurrentGroupID()
	if id != "" {
		t.Errorf("empty set should clear the slot, got %q", id)
	}
}
