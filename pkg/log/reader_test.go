package log

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func createTestLogFile(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.plog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create test log: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	var read []Event
	for {
		event, err := r.Next()
		if err == io.EOF {
			return read
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		read = append(read, event)
	}
}

func TestReaderIteratesEvents(t *testing.T) {
	now := time.Now()
	path := createTestLogFile(t, []Event{
		{Timestamp: now, ConnectionID: "conn-1", Layer: LayerConnection, Category: CategoryState, LocalRole: RoleClient},
		{Timestamp: now, ConnectionID: "conn-2", Direction: DirectionOut, Layer: LayerTransport, Category: CategoryData, LocalRole: RoleClient},
		{Timestamp: now, ConnectionID: "conn-3", Direction: DirectionIn, Layer: LayerTransport, Category: CategoryData, LocalRole: RoleHost},
	})

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	read := readAll(t, reader)
	if len(read) != 3 {
		t.Fatalf("got %d events, want 3", len(read))
	}
	if read[0].ConnectionID != "conn-1" || read[2].ConnectionID != "conn-3" {
		t.Errorf("order: got %q..%q", read[0].ConnectionID, read[2].ConnectionID)
	}
}

func TestReaderFilters(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	path := createTestLogFile(t, []Event{
		{Timestamp: base, ConnectionID: "a", Category: CategoryState, LocalRole: RoleHost},
		{Timestamp: base.Add(time.Second), ConnectionID: "a", Direction: DirectionIn, Category: CategoryData, LocalRole: RoleHost},
		{Timestamp: base.Add(2 * time.Second), ConnectionID: "b", Direction: DirectionOut, Category: CategoryData, LocalRole: RoleClient},
		{Timestamp: base.Add(3 * time.Second), ConnectionID: "b", Category: CategoryError, LocalRole: RoleClient},
	})

	data := CategoryData
	client := RoleClient
	end := base.Add(2 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"All", Filter{}, 4},
		{"ByConnection", Filter{ConnectionID: "a"}, 2},
		{"ByCategory", Filter{Category: &data}, 2},
		{"ByRole", Filter{Role: &client}, 2},
		{"ByTimeEnd", Filter{TimeEnd: &end}, 2},
		{"Combined", Filter{Category: &data, Role: &client}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatalf("NewFilteredReader failed: %v", err)
			}
			defer reader.Close()

			if got := len(readAll(t, reader)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestReaderHandlesEmptyFile(t *testing.T) {
	path := createTestLogFile(t, nil)

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("Next() on empty file = %v, want io.EOF", err)
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "missing.plog")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReaderTruncatedTrace(t *testing.T) {
	path := createTestLogFile(t, []Event{
		{Timestamp: time.Now(), ConnectionID: "whole", Category: CategoryState},
		{Timestamp: time.Now(), ConnectionID: "cut", Category: CategoryState},
	})
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if err := os.Truncate(path, info.Size()-2); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	event, err := reader.Next()
	if err != nil || event.ConnectionID != "whole" {
		t.Fatalf("first event: got %q, %v", event.ConnectionID, err)
	}
	if _, err := reader.Next(); !errors.Is(err, ErrTruncatedTrace) {
		t.Errorf("Next() = %v, want ErrTruncatedTrace", err)
	}
}
