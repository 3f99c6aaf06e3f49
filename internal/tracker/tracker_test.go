package tracker

import (
	"testing"
	"time"
)

func TestApplyTrackCreatesProcessingRecord(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	record := applyTrack(nil, "doc.pdf", "/tmp/doc.pdf", "doc_1", now)

	if record.Status != StatusProcessing {
		t.Fatalf("status = %s, want %s", record.Status, StatusProcessing)
	}
	if !record.StartTime.Equal(now) {
		t.Fatalf("startTime = %s, want %s", record.StartTime, now)
	}
	if record.UniqueID != "doc_1" || record.Filename != "doc.pdf" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestApplyTrackKeepsProcessingRecordOnReentry(t *testing.T) {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	later := started.Add(5 * time.Minute)
	existing := &FileRecord{
		UniqueID:    "doc_1",
		Filename:    "doc.pdf",
		Status:      StatusProcessing,
		StartTime:   started,
		LastUpdated: started,
	}

	record := applyTrack(existing, "doc.pdf", "/tmp/doc.pdf", "doc_1", later)

	if record != existing {
		t.Fatal("re-entry should return the existing record")
	}
	if !record.StartTime.Equal(started) {
		t.Fatalf("startTime reset on re-entry: %s", record.StartTime)
	}
	if !record.LastUpdated.Equal(later) {
		t.Fatalf("lastUpdated not refreshed: %s", record.LastUpdated)
	}
}

func TestApplyTrackOverwritesTerminalRecord(t *testing.T) {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	later := started.Add(time.Hour)
	existing := &FileRecord{
		UniqueID:  "doc_1",
		Status:    StatusFailed,
		StartTime: started,
		Error:     "boom",
	}

	record := applyTrack(existing, "doc.pdf", "/tmp/doc.pdf", "doc_1", later)

	if record == existing {
		t.Fatal("terminal record should be replaced")
	}
	if record.Status != StatusProcessing {
		t.Fatalf("status = %s, want %s", record.Status, StatusProcessing)
	}
	if !record.StartTime.Equal(later) {
		t.Fatalf("startTime = %s, want fresh %s", record.StartTime, later)
	}
	if record.Error != "" {
		t.Fatalf("stale error carried over: %s", record.Error)
	}
}
