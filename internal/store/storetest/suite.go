// Package storetest holds the behavioural contract every core.Catalog
// implementation must satisfy.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"taskcron/internal/core"
)

// Factory returns an empty catalog that keeps at most historyLimit records per task.
type Factory func(t *testing.T, historyLimit int) core.Catalog

var taskOpts = cmp.Options{
	cmpopts.IgnoreFields(core.Task{}, "UpdatedAt"),
	cmpopts.EquateApproxTime(time.Millisecond),
}

// Run executes the catalog contract against catalogs produced by newCatalog.
func Run(t *testing.T, newCatalog Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newCatalog(t, 50)) })
	t.Run("ListTasks", func(t *testing.T) { testListTasks(t, newCatalog(t, 50)) })
	t.Run("UpdateTask", func(t *testing.T) { testUpdateTask(t, newCatalog(t, 50)) })
	t.Run("DeleteTaskCascades", func(t *testing.T) { testDeleteTask(t, newCatalog(t, 50)) })
	t.Run("AppendExecutionUnknownTask", func(t *testing.T) { testAppendUnknown(t, newCatalog(t, 50)) })
	t.Run("HistoryOrderAndRetention", func(t *testing.T) { testHistory(t, newCatalog(t, 3)) })
}

func baseTime() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func newTask(id string, created time.Time) *core.Task {
	next := created.Add(time.Hour)
	desc := "description of " + id
	return &core.Task{
		ID:          id,
		Name:        "task " + id,
		Command:     "echo " + id,
		Schedule:    "0 * * * *",
		Description: &desc,
		Status:      core.TaskStatusActive,
		NextRunAt:   &next,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func mustCreate(t *testing.T, c core.Catalog, task *core.Task) {
	t.Helper()
	if err := c.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask(%s) error: %v", task.ID, err)
	}
}

func testCreateAndGet(t *testing.T, c core.Catalog) {
	ctx := context.Background()
	want := newTask("t1", baseTime())
	mustCreate(t, c, want)

	got, err := c.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask error: %v", err)
	}
	if diff := cmp.Diff(want, got, taskOpts); diff != "" {
		t.Fatalf("GetTask mismatch (-want +got):\n%s", diff)
	}

	_, err = c.GetTask(ctx, "missing")
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("GetTask(missing) error = %v, want not found", err)
	}
}

func testListTasks(t *testing.T, c core.Catalog) {
	ctx := context.Background()
	mustCreate(t, c, newTask("old", baseTime()))
	mid := newTask("mid", baseTime().Add(time.Minute))
	mid.Status = core.TaskStatusInactive
	mid.NextRunAt = nil
	mustCreate(t, c, mid)
	mustCreate(t, c, newTask("new", baseTime().Add(2*time.Minute)))

	all, err := c.ListTasks(ctx, nil)
	if err != nil {
		t.Fatalf("ListTasks error: %v", err)
	}
	if diff := cmp.Diff([]string{"new", "mid", "old"}, taskIDs(all)); diff != "" {
		t.Fatalf("ListTasks order mismatch (-want +got):\n%s", diff)
	}

	active := core.TaskStatusActive
	got, err := c.ListTasks(ctx, &active)
	if err != nil {
		t.Fatalf("ListTasks(active) error: %v", err)
	}
	if diff := cmp.Diff([]string{"new", "old"}, taskIDs(got)); diff != "" {
		t.Fatalf("ListTasks(active) mismatch (-want +got):\n%s", diff)
	}
}

func testUpdateTask(t *testing.T, c core.Catalog) {
	ctx := context.Background()
	task := newTask("t1", baseTime())
	mustCreate(t, c, task)

	name, cmd, sched, empty := "renamed", "echo changed", "*/5 * * * *", ""
	inactive := core.TaskStatusInactive
	lastRun := baseTime().Add(30 * time.Minute)
	ok, err := c.UpdateTask(ctx, "t1", core.TaskPatch{
		Name:         &name,
		Command:      &cmd,
		Schedule:     &sched,
		Description:  &empty,
		Status:       &inactive,
		LastRunAt:    &lastRun,
		ClearNextRun: true,
	})
	if err != nil || !ok {
		t.Fatalf("UpdateTask = %v, %v", ok, err)
	}

	got, err := c.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask error: %v", err)
	}
	want := *task
	want.Name, want.Command, want.Schedule = name, cmd, sched
	want.Description = nil
	want.Status = inactive
	want.LastRunAt = &lastRun
	want.NextRunAt = nil
	if diff := cmp.Diff(&want, got, taskOpts); diff != "" {
		t.Fatalf("updated task mismatch (-want +got):\n%s", diff)
	}
	if got.UpdatedAt.Before(task.UpdatedAt) {
		t.Fatalf("UpdatedAt moved backwards: %s", got.UpdatedAt)
	}

	next := baseTime().Add(5 * time.Hour)
	if ok, err := c.UpdateTask(ctx, "t1", core.TaskPatch{NextRunAt: &next}); err != nil || !ok {
		t.Fatalf("UpdateTask(next) = %v, %v", ok, err)
	}
	got, _ = c.GetTask(ctx, "t1")
	if got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
		t.Fatalf("NextRunAt = %v, want %s", got.NextRunAt, next)
	}

	if ok, err := c.UpdateTask(ctx, "missing", core.TaskPatch{Name: &name}); err != nil || ok {
		t.Fatalf("UpdateTask(missing) = %v, %v", ok, err)
	}
}

func testDeleteTask(t *testing.T, c core.Catalog) {
	ctx := context.Background()
	mustCreate(t, c, newTask("t1", baseTime()))
	mustCreate(t, c, newTask("t2", baseTime()))
	appendExecutions(t, c, "t1", 2)
	appendExecutions(t, c, "t2", 1)

	ok, err := c.DeleteTask(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("DeleteTask = %v, %v", ok, err)
	}
	if hist, err := c.History(ctx, "t1", 10); err != nil || len(hist) != 0 {
		t.Fatalf("History after delete = %d records, %v", len(hist), err)
	}
	if hist, err := c.History(ctx, "t2", 10); err != nil || len(hist) != 1 {
		t.Fatalf("History of other task = %d records, %v", len(hist), err)
	}
	if ok, err := c.DeleteTask(ctx, "t1"); err != nil || ok {
		t.Fatalf("second DeleteTask = %v, %v", ok, err)
	}
}

func testAppendUnknown(t *testing.T, c core.Catalog) {
	err := c.AppendExecution(context.Background(), &core.Execution{
		ID:         core.NewID(),
		TaskID:     "missing",
		ExecutedAt: baseTime(),
		FinishedAt: baseTime(),
		Status:     core.ExecutionSuccess,
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("AppendExecution(missing) error = %v, want not found", err)
	}
}

func testHistory(t *testing.T, c core.Catalog) {
	ctx := context.Background()
	mustCreate(t, c, newTask("t1", baseTime()))
	appendExecutions(t, c, "t1", 5)

	hist, err := c.History(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	var outputs []string
	for _, e := range hist {
		if e.Output == nil {
			t.Fatalf("record %s lost its output", e.ID)
		}
		outputs = append(outputs, *e.Output)
	}
	if diff := cmp.Diff([]string{"run 4", "run 3", "run 2"}, outputs); diff != "" {
		t.Fatalf("History mismatch (-want +got):\n%s", diff)
	}

	first := hist[0]
	if first.Status != core.ExecutionFailed || first.Error == nil || *first.Error != "exit status 4" {
		t.Fatalf("record fields not stored: %+v", first)
	}
	if first.ExitCode == nil || *first.ExitCode != 4 || first.DurationMS != 1500 {
		t.Fatalf("record metadata not stored: %+v", first)
	}
	if hist[1].ExitCode == nil || *hist[1].ExitCode != 0 || hist[1].Error != nil {
		t.Fatalf("successful record mismatch: %+v", hist[1])
	}

	limited, err := c.History(ctx, "t1", 1)
	if err != nil || len(limited) != 1 || limited[0].ID != first.ID {
		t.Fatalf("History(limit 1) = %v, %v", limited, err)
	}
}

// appendExecutions adds n records one minute apart. Even records after the
// first fail with their index as exit code.
func appendExecutions(t *testing.T, c core.Catalog, taskID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		at := baseTime().Add(time.Duration(i) * time.Minute)
		code := 0
		exec := &core.Execution{
			ID:         core.NewID(),
			TaskID:     taskID,
			ExecutedAt: at,
			FinishedAt: at.Add(1500 * time.Millisecond),
			Status:     core.ExecutionSuccess,
			DurationMS: 1500,
		}
		output := fmt.Sprintf("run %d", i)
		exec.Output = &output
		if i%2 == 0 && i > 0 {
			code = i
			msg := fmt.Sprintf("exit status %d", i)
			exec.Status = core.ExecutionFailed
			exec.Error = &msg
		}
		exec.ExitCode = &code
		if err := c.AppendExecution(context.Background(), exec); err != nil {
			t.Fatalf("AppendExecution(%s #%d) error: %v", taskID, i, err)
		}
	}
}

func taskIDs(tasks []*core.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	return ids
}
