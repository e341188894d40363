package planner

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileHashIsStableAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.bin")
	if err := os.WriteFile(path, make([]byte, 4096), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	h1, err := fileHash(path)
	if err != nil {
		t.Fatalf("fileHash: %v", err)
	}
	h2, err := fileHash(path)
	if err != nil {
		t.Fatalf("fileHash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected stable hash, got %q then %q", h1, h2)
	}
}

func TestSaveAndLoadCachedAnalysisRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "nested", "x_analysis.json")

	ta := &TrackAnalysis{Filepath: "track.mp3", BPM: 128, Key: "Am", Duration: 210.5}
	if err := saveCachedAnalysis(cachePath, ta); err != nil {
		t.Fatalf("saveCachedAnalysis: %v", err)
	}

	loaded, err := loadCachedAnalysis(cachePath)
	if err != nil {
		t.Fatalf("loadCachedAnalysis: %v", err)
	}
	if loaded.BPM != ta.BPM || loaded.Key != ta.Key || loaded.Filepath != ta.Filepath {
		t.Fatalf("expected round-tripped analysis to match, got %+v", loaded)
	}
}

func TestDetectKeyOnShortBufferReturnsDefault(t *testing.T) {
	if k := detectKey(make([]float32, 10), 22050); k != "C" {
		t.Fatalf("expected fallback key %q, got %q", "C", k)
	}
}
