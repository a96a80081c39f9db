package store

import (
	"context"
	"testing"
	"time"

	"taskcron/internal/core"
	"taskcron/internal/store/storetest"
)

func openTestStore(t *testing.T, historyLimit int) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir(), historyLimit)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCatalogContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, historyLimit int) core.Catalog {
		return openTestStore(t, historyLimit)
	})
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	first, err := Open(ctx, dir, 0)
	if err != nil {
		t.Fatalf("first Open error: %v", err)
	}
	if first.HistoryLimit != DefaultHistoryLimit {
		t.Fatalf("HistoryLimit = %d, want %d", first.HistoryLimit, DefaultHistoryLimit)
	}
	task := &core.Task{ID: "t1", Name: "n", Command: "true", Schedule: "* * * * *", Status: core.TaskStatusActive}
	if err := first.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}
	first.Close()

	second, err := Open(ctx, dir, 0)
	if err != nil {
		t.Fatalf("second Open error: %v", err)
	}
	defer second.Close()
	if _, err := second.GetTask(ctx, "t1"); err != nil {
		t.Fatalf("GetTask after reopen error: %v", err)
	}
}

func TestStoredTimesSortAsText(t *testing.T) {
	t.Parallel()
	whole := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	fraction := whole.Add(500 * time.Millisecond)
	if !(formatTime(whole) < formatTime(fraction)) {
		t.Fatalf("%q does not sort before %q", formatTime(whole), formatTime(fraction))
	}
	got, err := parseTime(formatTime(fraction))
	if err != nil || !got.Equal(fraction) {
		t.Fatalf("parseTime round trip = %s, %v", got, err)
	}
}

func TestDeleteCascadesThroughForeignKey(t *testing.T) {
	s := openTestStore(t, 10)
	ctx := context.Background()
	var enabled int
	if err := s.DB.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&enabled); err != nil {
		t.Fatalf("read foreign_keys pragma: %v", err)
	}
	if enabled != 1 {
		t.Fatalf("foreign_keys = %d, want 1", enabled)
	}
}
