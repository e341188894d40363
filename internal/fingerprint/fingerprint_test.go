package fingerprint

import (
	"testing"
	"time"
)

func TestRegisterReplacesPriorFingerprintForSession(t *testing.T) {
	r := NewRegistry()
	now := time.Unix(1700000000, 0)

	fp1, err := r.Register("session-1", "track-a", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fp2, err := r.Register("session-1", "track-b", now.Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Lookup(fp1) != nil {
		t.Fatalf("expected prior fingerprint to be replaced")
	}
	if r.Lookup(fp2) == nil {
		t.Fatalf("expected new fingerprint to be registered")
	}
}

func TestTouchUpdatesLastTouchAndIPs(t *testing.T) {
	r := NewRegistry()
	now := time.Unix(1700000000, 0)
	fp, _ := r.Register("session-1", "track-a", now)

	ok := r.Touch(fp, TouchUpdate{StreamIP: "1.2.3.4"}, now.Add(time.Minute))
	if !ok {
		t.Fatalf("expected touch to succeed")
	}
	entry := r.Lookup(fp)
	if !entry.StreamIPs["1.2.3.4"] {
		t.Fatalf("expected stream ip recorded")
	}
	if !entry.LastTouch.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected last touch updated")
	}
}

func TestPruneStaleRemovesOldEntries(t *testing.T) {
	r := NewRegistry()
	now := time.Unix(1700000000, 0)
	fp, _ := r.Register("session-1", "track-a", now)

	pruned := r.PruneStale(time.Hour, now.Add(2*time.Hour))
	if pruned != 1 {
		t.Fatalf("expected 1 entry pruned, got %d", pruned)
	}
	if r.Lookup(fp) != nil {
		t.Fatalf("expected entry removed after prune")
	}
}

func TestRemoveBySession(t *testing.T) {
	r := NewRegistry()
	now := time.Unix(1700000000, 0)
	fp, _ := r.Register("session-1", "track-a", now)

	r.RemoveBySession("session-1")
	if r.Lookup(fp) != nil {
		t.Fatalf("expected fingerprint removed after RemoveBySession")
	}
}
