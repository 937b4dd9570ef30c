package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tjfontaine/feedfilter/internal/storage"
)

func TestSQLiteStore_Detections(t *testing.T) {
	// Use in-memory SQLite with shared cache for testing
	store, err := New("file:journal1?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for i, rec := range []storage.DetectionRecord{
		{Participant: "ext", TrackID: "t1", Mode: "closed_set", Confidence: 0.1, Description: "desk", Decision: "none"},
		{Participant: "ext", TrackID: "t2", Mode: "open_set", Confidence: 0.5, Decision: "none"},
		{Participant: "ext", TrackID: "t1", URL: "https://www.tiktok.com/", Mode: "closed_set", TriggerDetected: true,
			TriggerName: "spiders", Confidence: 0.93, Description: "a spider", Decision: "click_target"},
	} {
		if err := store.RecordDetection(ctx, &rec); err != nil {
			t.Fatalf("RecordDetection(%d) error = %v", i, err)
		}
		if rec.ID == 0 {
			t.Errorf("record %d has no id", i)
		}
	}

	got, err := store.ListDetections(ctx, storage.ListOptions{TrackID: "t1"})
	if err != nil {
		t.Fatalf("ListDetections() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	latest := got[0]
	if !latest.TriggerDetected || latest.TriggerName != "spiders" || latest.URL != "https://www.tiktok.com/" || latest.CreatedAt.IsZero() {
		t.Errorf("latest = %+v", latest)
	}
	if got[1].Description != "desk" {
		t.Errorf("oldest = %+v", got[1])
	}

	limited, err := store.ListDetections(ctx, storage.ListOptions{Limit: 1})
	if err != nil || len(limited) != 1 || limited[0].TrackID != "t1" {
		t.Errorf("ListDetections(limit 1) = %+v, %v", limited, err)
	}
}

func TestSQLiteStore_Commands(t *testing.T) {
	store, err := New("file:journal2?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	recs := []storage.CommandRecord{
		{Participant: "ext", TrackID: "t1", Type: "STATUS_UPDATE", Payload: `{"type":"STATUS_UPDATE"}`, Delivered: true},
		{Participant: "ext", TrackID: "t1", Type: "CLICK_ELEMENT", CommandID: 1, Payload: `{"type":"CLICK_ELEMENT"}`, Delivered: true},
		{Participant: "ext", TrackID: "t1", Type: "TRIGGER_DETECTED", Error: "destination disconnected"},
	}
	for i := range recs {
		if err := store.RecordCommand(ctx, &recs[i]); err != nil {
			t.Fatalf("RecordCommand(%d) error = %v", i, err)
		}
	}

	got, err := store.ListCommands(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListCommands() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Delivered || got[0].Error != "destination disconnected" {
		t.Errorf("skipped command = %+v", got[0])
	}
	if got[1].CommandID != 1 || got[1].Type != "CLICK_ELEMENT" {
		t.Errorf("click = %+v", got[1])
	}
	if got[2].CommandID != 0 {
		t.Errorf("status command id = %d", got[2].CommandID)
	}
}

func TestSQLiteStore_FilePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	store, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Reopening keeps the schema.
	store, err = New(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer store.Close()
	if _, err := store.ListCommands(context.Background(), storage.ListOptions{}); err != nil {
		t.Errorf("ListCommands() error = %v", err)
	}
}
