package workspace

import (
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(t.TempDir(), log.New(os.Stderr, "", 0))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return m
}

func TestCreateScratchAndCleanup(t *testing.T) {
	m := newTestManager(t)

	dir, err := m.CreateScratch("doc_123")
	if err != nil {
		t.Fatalf("CreateScratch returned error: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("scratch directory missing: %v", err)
	}

	if err := m.Cleanup(dir); err != nil {
		t.Fatalf("Cleanup returned error: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("scratch directory still exists after cleanup")
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	m := newTestManager(t)

	dir, err := m.CreateScratch("doc_twice")
	if err != nil {
		t.Fatalf("CreateScratch returned error: %v", err)
	}
	if err := m.Cleanup(dir); err != nil {
		t.Fatalf("first Cleanup returned error: %v", err)
	}
	if err := m.Cleanup(dir); err != nil {
		t.Fatalf("second Cleanup on removed path returned error: %v", err)
	}
}

func TestCreateScratchRequiresID(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.CreateScratch(""); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestSweepOlderThanRemovesStaleEntries(t *testing.T) {
	m := newTestManager(t)

	stale, err := m.CreateScratch("stale")
	if err != nil {
		t.Fatalf("CreateScratch returned error: %v", err)
	}
	fresh, err := m.CreateScratch("fresh")
	if err != nil {
		t.Fatalf("CreateScratch returned error: %v", err)
	}

	old := time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("failed to age directory: %v", err)
	}

	if err := m.SweepOlderThan(2 * time.Hour); err != nil {
		t.Fatalf("SweepOlderThan returned error: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale directory survived sweep")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh directory removed by sweep: %v", err)
	}
}

func TestNewCreatesProcessingDir(t *testing.T) {
	base := t.TempDir()
	m, err := New(base, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	want := filepath.Join(base, "processing_pdf")
	if m.ProcessingDir() != want {
		t.Fatalf("ProcessingDir = %s, want %s", m.ProcessingDir(), want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("processing dir not created: %v", err)
	}
}
