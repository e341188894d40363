package mixdown

import "testing"

func TestGetMissIncrementsMisses(t *testing.T) {
	c, err := New(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.Get("/tracks/a.mp3"); ok {
		t.Fatalf("expected miss on empty cache")
	}
	if c.Stats().Misses != 1 {
		t.Fatalf("expected 1 miss recorded")
	}
}

func TestPutThenGetIsHit(t *testing.T) {
	c, _ := New(2)
	c.Put("/tracks/a.mp3", Entry{BPM: 120})
	entry, ok := c.Get("/tracks/a.mp3")
	if !ok {
		t.Fatalf("expected hit after put")
	}
	if entry.BPM != 120 {
		t.Fatalf("expected bpm 120, got %v", entry.BPM)
	}
	if c.Stats().Hits != 1 {
		t.Fatalf("expected 1 hit recorded")
	}
}

func TestEvictionAtCapacity(t *testing.T) {
	c, _ := New(2)
	c.Put("/tracks/a.mp3", Entry{BPM: 100})
	c.Put("/tracks/b.mp3", Entry{BPM: 110})
	c.Put("/tracks/c.mp3", Entry{BPM: 120})

	if c.Stats().Size > 2 {
		t.Fatalf("expected size capped at 2, got %d", c.Stats().Size)
	}
	if _, ok := c.Get("/tracks/a.mp3"); ok {
		t.Fatalf("expected oldest entry evicted")
	}
}

func TestClearRemovesAllEntries(t *testing.T) {
	c, _ := New(4)
	c.Put("/tracks/a.mp3", Entry{BPM: 100})
	c.Clear()
	if c.Stats().Size != 0 {
		t.Fatalf("expected empty cache after Clear")
	}
}

func TestStatsBasenames(t *testing.T) {
	c, _ := New(4)
	c.Put("/tracks/deep/path/a.mp3", Entry{BPM: 100})
	stats := c.Stats()
	if len(stats.Basenames) != 1 || stats.Basenames[0] != "a.mp3" {
		t.Fatalf("expected basename a.mp3, got %+v", stats.Basenames)
	}
}
