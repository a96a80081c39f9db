package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"taskcron/internal/core"
	"taskcron/internal/store/storetest"
	"taskcron/pkg/postgres"
)

func TestCatalogContract(t *testing.T) {
	dsn := os.Getenv("TASKCRON_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TASKCRON_TEST_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T, historyLimit int) core.Catalog {
		db, err := postgres.NewDB(postgres.Config{DSN: dsn, LogLevel: "Silent"})
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		if err := db.Migrator().DropTable(&ExecutionEntity{}, &TaskEntity{}); err != nil {
			t.Fatalf("drop tables: %v", err)
		}
		s, err := New(context.Background(), db.DB, historyLimit)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		return s
	})
}

func TestTaskEntityConversion(t *testing.T) {
	t.Parallel()
	local := time.FixedZone("UTC+7", 7*3600)
	created := time.Date(2024, 5, 1, 19, 0, 0, 0, local)
	next := created.Add(time.Hour)
	desc := "nightly"
	task := &core.Task{
		ID:          "t1",
		Name:        "backup",
		Command:     "tar czf /tmp/b.tgz /etc",
		Schedule:    "0 3 * * *",
		Description: &desc,
		Status:      core.TaskStatusActive,
		NextRunAt:   &next,
		CreatedAt:   created,
		UpdatedAt:   created,
	}

	e := toTaskEntity(task)
	if e.LastRunAt.Valid || !e.NextRunAt.Valid || !e.Description.Valid {
		t.Fatalf("nullable columns wrong: %+v", e)
	}
	got := e.toCore()
	if got.CreatedAt.Location() != time.UTC || got.NextRunAt.Location() != time.UTC {
		t.Fatalf("times not normalized to UTC: %+v", got)
	}
	if diff := cmp.Diff(task, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	empty := ""
	task.Description = &empty
	if toTaskEntity(task).Description.Valid {
		t.Fatal("empty description should be stored as NULL")
	}
}

func TestExecutionEntityConversion(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	code := 2
	msg := "boom"
	exec := &core.Execution{
		ID:         "e1",
		TaskID:     "t1",
		ExecutedAt: at,
		FinishedAt: at.Add(time.Second),
		Status:     core.ExecutionFailed,
		Error:      &msg,
		ExitCode:   &code,
		DurationMS: 1000,
	}
	e := toExecutionEntity(exec)
	if e.Output.Valid || !e.ExitCode.Valid || e.ExitCode.Int32 != 2 {
		t.Fatalf("nullable columns wrong: %+v", e)
	}
	if diff := cmp.Diff(exec, e.toCore()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}
