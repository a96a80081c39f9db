package mcp

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"taskcron/internal/core"
	"taskcron/internal/store"
)

type okRunner struct{}

func (okRunner) Run(ctx context.Context, command string, timeout time.Duration) core.Outcome {
	now := time.Now()
	code := 0
	return core.Outcome{Status: core.ExecutionSuccess, Stdout: "done", ExitCode: &code, StartedAt: now, FinishedAt: now}
}

func newTestMCPServer(t *testing.T) *MCPServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(context.Background(), t.TempDir(), 10)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	sched := core.NewScheduler(st, okRunner{}, logger, core.Options{})
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("start scheduler: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Stop(ctx)
	})
	return NewMCPServer(sched, logger)
}

func call(t *testing.T, handler server.ToolHandlerFunc, args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var b strings.Builder
	for _, c := range res.Content {
		switch tc := c.(type) {
		case mcp.TextContent:
			b.WriteString(tc.Text)
		case *mcp.TextContent:
			b.WriteString(tc.Text)
		}
	}
	return b.String(), res.IsError
}

func createdID(t *testing.T, text string) string {
	t.Helper()
	for _, line := range strings.Split(text, "\n") {
		if id, ok := strings.CutPrefix(line, "ID: "); ok {
			return id
		}
	}
	t.Fatalf("no task ID in %q", text)
	return ""
}

func TestToolsTaskLifecycle(t *testing.T) {
	s := newTestMCPServer(t)

	text, isErr := call(t, s.handleCreateTask, map[string]any{
		"name":     "report",
		"command":  "echo report",
		"schedule": "0 0 1 1 *",
	})
	if isErr {
		t.Fatalf("create failed: %s", text)
	}
	id := createdID(t, text)

	text, isErr = call(t, s.handleListTasks, map[string]any{"status": "active"})
	if isErr || !strings.Contains(text, id) {
		t.Fatalf("list = %q", text)
	}

	text, isErr = call(t, s.handleUpdateTask, map[string]any{
		"task_id":     id,
		"command":     "echo changed",
		"description": "monthly report",
	})
	if isErr || !strings.Contains(text, "Command: echo changed") || !strings.Contains(text, "Description: monthly report") {
		t.Fatalf("update = %q", text)
	}

	if text, isErr = call(t, s.handlePauseTask, map[string]any{"task_id": id}); isErr {
		t.Fatalf("pause failed: %s", text)
	}
	text, _ = call(t, s.handleGetTask, map[string]any{"task_id": id})
	if !strings.Contains(text, "Status: inactive") || strings.Contains(text, "Next run:") {
		t.Fatalf("paused task = %q", text)
	}
	if text, isErr = call(t, s.handleResumeTask, map[string]any{"task_id": id}); isErr || !strings.Contains(text, "Next run:") {
		t.Fatalf("resume = %q", text)
	}

	text, _ = call(t, s.handlePending, nil)
	if !strings.Contains(text, id) {
		t.Fatalf("pending = %q", text)
	}

	if text, isErr = call(t, s.handleRunTask, map[string]any{"task_id": id}); isErr {
		t.Fatalf("run failed: %s", text)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		text, isErr = call(t, s.handleHistory, map[string]any{"task_id": id})
		if isErr {
			t.Fatalf("history failed: %s", text)
		}
		if strings.Contains(text, "Found 1 execution") || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(text, "Found 1 execution") || !strings.Contains(text, "Output (4 B): done") {
		t.Fatalf("history = %q", text)
	}

	if text, isErr = call(t, s.handleDeleteTask, map[string]any{"task_id": id}); isErr {
		t.Fatalf("delete failed: %s", text)
	}
	if text, isErr = call(t, s.handleDeleteTask, map[string]any{"task_id": id}); !isErr || !strings.HasPrefix(text, "not_found") {
		t.Fatalf("second delete = %q, %v", text, isErr)
	}
}

func TestToolErrorsCarryKind(t *testing.T) {
	s := newTestMCPServer(t)
	tests := []struct {
		name    string
		handler server.ToolHandlerFunc
		args    map[string]any
		kind    core.Kind
	}{
		{"invalid schedule", s.handleCreateTask, map[string]any{"name": "n", "command": "true", "schedule": "* * *"}, core.KindInvalidSchedule},
		{"unknown task", s.handleGetTask, map[string]any{"task_id": "missing"}, core.KindNotFound},
		{"unknown status", s.handleListTasks, map[string]any{"status": "paused"}, core.KindInvalidInput},
		{"update unknown", s.handleUpdateTask, map[string]any{"task_id": "missing", "name": "x"}, core.KindNotFound},
		{"preview invalid", s.handleCronPreview, map[string]any{"schedule": "61 * * * *"}, core.KindInvalidSchedule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isErr := call(t, tt.handler, tt.args)
			if !isErr || !strings.HasPrefix(text, string(tt.kind)+":") {
				t.Fatalf("result = %q (error %v), want %s", text, isErr, tt.kind)
			}
		})
	}
}

func TestCronPreviewTool(t *testing.T) {
	s := newTestMCPServer(t)
	s.now = func() time.Time { return time.Date(2024, 1, 2, 10, 3, 0, 0, time.UTC) } // a Tuesday

	text, isErr := call(t, s.handleCronPreview, map[string]any{"schedule": "0 9 * * 1", "count": float64(2)})
	if isErr {
		t.Fatalf("preview failed: %s", text)
	}
	for _, want := range []string{"1. 2024-01-08 09:00:00", "2. 2024-01-15 09:00:00"} {
		if !strings.Contains(text, want) {
			t.Fatalf("preview = %q, missing %q", text, want)
		}
	}
}

func TestStringArg(t *testing.T) {
	args := map[string]any{"empty": "", "num": 3.0, "nil": nil}
	if v, ok := stringArg(args, "empty"); !ok || v != "" {
		t.Fatalf("empty = %q, %v", v, ok)
	}
	if _, ok := stringArg(args, "num"); ok {
		t.Fatal("non-string accepted")
	}
	if _, ok := stringArg(args, "nil"); ok {
		t.Fatal("nil accepted")
	}
	if _, ok := stringArg(args, "absent"); ok {
		t.Fatal("absent accepted")
	}
}
