package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"taskcron/internal/core"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	serverName    = "taskcron"
	serverVersion = "1.0.0"
)

// MCPServer exposes the scheduler as MCP tools.
type MCPServer struct {
	scheduler *core.Scheduler
	logger    *slog.Logger
	server    *server.MCPServer
	now       func() time.Time
}

// NewMCPServer creates a new MCP server instance with every tool registered.
func NewMCPServer(scheduler *core.Scheduler, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		scheduler: scheduler,
		logger:    logger,
		now:       time.Now,
	}
	s.server = server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
	)
	s.registerTools(s.server)
	return s
}

// Run serves MCP over stdio until stdin closes.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.server)
}

// Handler returns the streamable HTTP transport for mounting under /mcp.
func (s *MCPServer) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("cron_create_task",
		mcp.WithDescription("Create a recurring task that runs a shell command on a standard 5-field cron schedule (minute hour day-of-month month day-of-week, UTC)"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Task name"),
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("Shell command to run"),
		),
		mcp.WithString("schedule",
			mcp.Required(),
			mcp.Description("Cron expression, e.g. '0 9 * * 1-5' for 09:00 on weekdays"),
		),
		mcp.WithString("description",
			mcp.Description("Free-form description"),
		),
	), s.handleCreateTask)

	mcpServer.AddTool(mcp.NewTool("cron_list_tasks",
		mcp.WithDescription("List tasks, newest first"),
		mcp.WithString("status",
			mcp.Description("Only list tasks with this status"),
			mcp.Enum(string(core.TaskStatusActive), string(core.TaskStatusInactive)),
		),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("cron_get_task",
		mcp.WithDescription("Show one task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleGetTask)

	mcpServer.AddTool(mcp.NewTool("cron_update_task",
		mcp.WithDescription("Change a task. Omitted fields keep their value; an empty description clears it"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithString("name",
			mcp.Description("New name"),
		),
		mcp.WithString("command",
			mcp.Description("New shell command"),
		),
		mcp.WithString("schedule",
			mcp.Description("New cron expression"),
		),
		mcp.WithString("description",
			mcp.Description("New description"),
		),
		mcp.WithString("status",
			mcp.Description("New status"),
			mcp.Enum(string(core.TaskStatusActive), string(core.TaskStatusInactive)),
		),
	), s.handleUpdateTask)

	mcpServer.AddTool(mcp.NewTool("cron_delete_task",
		mcp.WithDescription("Delete a task and its execution history"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleDeleteTask)

	mcpServer.AddTool(mcp.NewTool("cron_pause_task",
		mcp.WithDescription("Set a task inactive so it stops firing"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handlePauseTask)

	mcpServer.AddTool(mcp.NewTool("cron_resume_task",
		mcp.WithDescription("Set a task active again and schedule its next firing"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleResumeTask)

	mcpServer.AddTool(mcp.NewTool("cron_run_task",
		mcp.WithDescription("Run a task immediately, outside its schedule"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleRunTask)

	mcpServer.AddTool(mcp.NewTool("cron_task_history",
		mcp.WithDescription("Show the most recent executions of a task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of records to return, default 10"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleHistory)

	mcpServer.AddTool(mcp.NewTool("cron_preview",
		mcp.WithDescription("Preview the next fire times of a cron expression"),
		mcp.WithString("schedule",
			mcp.Required(),
			mcp.Description("Cron expression"),
		),
		mcp.WithNumber("count",
			mcp.Description("Number of fire times, default 5"),
			mcp.Min(1),
			mcp.Max(10),
		),
	), s.handleCronPreview)

	mcpServer.AddTool(mcp.NewTool("cron_pending",
		mcp.WithDescription("List the armed timers in fire order"),
	), s.handlePending)

	s.logger.Info("MCP tools registered", "count", 11)
}

func (s *MCPServer) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := s.scheduler.AddTask(ctx, core.NewTask{
		Name:        mcp.ParseString(request, "name", ""),
		Command:     mcp.ParseString(request, "command", ""),
		Schedule:    mcp.ParseString(request, "schedule", ""),
		Description: mcp.ParseString(request, "description", ""),
	})
	if err != nil {
		return toolError("create task", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task created\nID: %s\nNext run: %s",
		task.ID, s.formatTime(task.NextRunAt))), nil
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var statusFilter *core.TaskStatus
	if status := mcp.ParseString(request, "status", ""); status != "" {
		st := core.TaskStatus(status)
		statusFilter = &st
	}
	tasks, err := s.scheduler.ListTasks(ctx, statusFilter)
	if err != nil {
		return toolError("list tasks", err), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d task(s):\n\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s %s (%s)\n", statusIcon(t.Status), t.Name, t.ID)
		fmt.Fprintf(&b, "  Schedule: %s\n", t.Schedule)
		fmt.Fprintf(&b, "  Command: %s\n", truncateString(t.Command, 60))
		if t.NextRunAt != nil {
			fmt.Fprintf(&b, "  Next run: %s\n", s.formatTime(t.NextRunAt))
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := s.scheduler.GetTask(ctx, mcp.ParseString(request, "task_id", ""))
	if err != nil {
		return toolError("get task", err), nil
	}
	return mcp.NewToolResultText(s.describeTask(task)), nil
}

func (s *MCPServer) handleUpdateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	var upd core.TaskUpdate
	if v, ok := stringArg(args, "name"); ok {
		upd.Name = &v
	}
	if v, ok := stringArg(args, "command"); ok {
		upd.Command = &v
	}
	if v, ok := stringArg(args, "schedule"); ok {
		upd.Schedule = &v
	}
	if v, ok := stringArg(args, "description"); ok {
		upd.Description = &v
	}
	if v, ok := stringArg(args, "status"); ok {
		st := core.TaskStatus(v)
		upd.Status = &st
	}

	task, err := s.scheduler.UpdateTask(ctx, mcp.ParseString(request, "task_id", ""), upd)
	if err != nil {
		return toolError("update task", err), nil
	}
	return mcp.NewToolResultText("Task updated\n" + s.describeTask(task)), nil
}

func (s *MCPServer) handleDeleteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	existed, err := s.scheduler.RemoveTask(ctx, taskID)
	if err != nil {
		return toolError("delete task", err), nil
	}
	if !existed {
		return mcp.NewToolResultError(fmt.Sprintf("not_found: task %s not found", taskID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task deleted: %s", taskID)), nil
}

func (s *MCPServer) handlePauseTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := s.scheduler.PauseTask(ctx, mcp.ParseString(request, "task_id", ""))
	if err != nil {
		return toolError("pause task", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task paused: %s", task.ID)), nil
}

func (s *MCPServer) handleResumeTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := s.scheduler.ResumeTask(ctx, mcp.ParseString(request, "task_id", ""))
	if err != nil {
		return toolError("resume task", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task resumed: %s\nNext run: %s", task.ID, s.formatTime(task.NextRunAt))), nil
}

func (s *MCPServer) handleRunTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	if err := s.scheduler.RunNow(ctx, taskID); err != nil {
		return toolError("run task", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task queued for immediate execution: %s", taskID)), nil
}

func (s *MCPServer) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	limit := int(mcp.ParseFloat64(request, "limit", 10))

	execs, err := s.scheduler.History(ctx, taskID, limit)
	if err != nil {
		return toolError("task history", err), nil
	}
	if len(execs) == 0 {
		return mcp.NewToolResultText("No executions recorded for this task"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d execution(s):\n\n", len(execs))
	for _, e := range execs {
		fmt.Fprintf(&b, "[%s] %s\n", executionIcon(e.Status), e.ID)
		fmt.Fprintf(&b, "    Started: %s\n", s.formatTime(&e.ExecutedAt))
		fmt.Fprintf(&b, "    Duration: %s\n", (time.Duration(e.DurationMS) * time.Millisecond).String())
		if e.ExitCode != nil {
			fmt.Fprintf(&b, "    Exit code: %d\n", *e.ExitCode)
		}
		if e.Output != nil {
			fmt.Fprintf(&b, "    Output (%s): %s\n", humanize.Bytes(uint64(len(*e.Output))), truncateString(*e.Output, 200))
		}
		if e.Error != nil {
			fmt.Fprintf(&b, "    Error: %s\n", truncateString(*e.Error, 200))
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleCronPreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expr := mcp.ParseString(request, "schedule", "")
	schedule, err := core.ParseCron(expr)
	if err != nil {
		return toolError("cron preview", err), nil
	}

	count := int(mcp.ParseFloat64(request, "count", 5))
	if count <= 0 || count > 10 {
		count = 5
	}
	nextTimes, err := core.NextOccurrences(schedule, s.now().UTC(), count)
	if err != nil {
		return toolError("cron preview", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Cron expression: %s\n", schedule)
	b.WriteString("Time zone: UTC\n\n")
	b.WriteString("Upcoming fire times:\n")
	for i, t := range nextTimes {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, t.Format("2006-01-02 15:04:05"))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handlePending(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pending := s.scheduler.Pending()
	if len(pending) == 0 {
		return mcp.NewToolResultText("No timers armed"), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d timer(s) armed:\n\n", len(pending))
	for _, p := range pending {
		fmt.Fprintf(&b, "%s  %s (%s)  %s\n", s.formatTime(&p.NextFire), p.Name, p.TaskID, p.Schedule)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) describeTask(task *core.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task ID: %s\n", task.ID)
	fmt.Fprintf(&b, "Name: %s\n", task.Name)
	fmt.Fprintf(&b, "Status: %s\n", task.Status)
	fmt.Fprintf(&b, "Command: %s\n", task.Command)
	fmt.Fprintf(&b, "Schedule: %s\n", task.Schedule)
	if task.Description != nil {
		fmt.Fprintf(&b, "Description: %s\n", *task.Description)
	}
	if task.LastRunAt != nil {
		fmt.Fprintf(&b, "Last run: %s\n", s.formatTime(task.LastRunAt))
	}
	if task.NextRunAt != nil {
		fmt.Fprintf(&b, "Next run: %s\n", s.formatTime(task.NextRunAt))
	}
	fmt.Fprintf(&b, "Created: %s\n", s.formatTime(&task.CreatedAt))
	return b.String()
}

// Helper functions

// toolError renders an engine error as "<kind>: <message>".
func toolError(op string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s failed: %v", core.KindOf(err), op, err))
}

// stringArg reports whether key was supplied at all, so an empty string can
// clear a field.
func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (s *MCPServer) formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprintf("%s UTC (%s)", t.UTC().Format("2006-01-02 15:04:05"), humanize.RelTime(*t, s.now(), "ago", "from now"))
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func statusIcon(status core.TaskStatus) string {
	if status == core.TaskStatusInactive {
		return "⏸️"
	}
	return "▶️"
}

func executionIcon(status core.ExecutionStatus) string {
	switch status {
	case core.ExecutionSuccess:
		return "✅"
	case core.ExecutionFailed:
		return "❌"
	default:
		return "❓"
	}
}
