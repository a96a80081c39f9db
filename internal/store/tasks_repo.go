package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskcron/internal/core"
)

const taskColumns = `id, name, command, schedule, description, status, last_run_at, next_run_at, created_at, updated_at`

func (s *Store) CreateTask(ctx context.Context, task *core.Task) error {
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = task.CreatedAt
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Name, task.Command, task.Schedule, nullableString(task.Description),
		task.Status, nullableTime(task.LastRunAt), nullableTime(task.NextRunAt),
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*core.Task, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &core.Error{Kind: core.KindNotFound, Msg: fmt.Sprintf("task %s not found", id)}
		}
		return nil, err
	}
	return task, nil
}

// ListTasks returns tasks newest first, optionally filtered by status.
func (s *Store) ListTasks(ctx context.Context, status *core.TaskStatus) ([]*core.Task, error) {
	var rows *sql.Rows
	var err error
	if status != nil {
		rows, err = s.DB.QueryContext(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			WHERE status = ?
			ORDER BY created_at DESC, id
		`, *status)
	} else {
		rows, err = s.DB.QueryContext(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			ORDER BY created_at DESC, id
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	var tasks []*core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTask applies the non-nil fields of patch. Only the columns named by
// TaskPatch can be written. It reports whether the task exists.
func (s *Store) UpdateTask(ctx context.Context, id string, patch core.TaskPatch) (bool, error) {
	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if patch.Name != nil {
		set("name", *patch.Name)
	}
	if patch.Command != nil {
		set("command", *patch.Command)
	}
	if patch.Schedule != nil {
		set("schedule", *patch.Schedule)
	}
	if patch.Description != nil {
		set("description", nullableString(patch.Description))
	}
	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	if patch.LastRunAt != nil {
		set("last_run_at", nullableTime(patch.LastRunAt))
	}
	switch {
	case patch.ClearNextRun:
		set("next_run_at", nil)
	case patch.NextRunAt != nil:
		set("next_run_at", nullableTime(patch.NextRunAt))
	}
	set("updated_at", formatTime(time.Now()))
	args = append(args, id)

	res, err := s.DB.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("update task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update task rows: %w", err)
	}
	return rows > 0, nil
}

// DeleteTask removes the task and its execution history in one transaction.
func (s *Store) DeleteTask(ctx context.Context, id string) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete task: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE task_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete task history: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete task: %w", err)
	}
	return rows > 0, nil
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*core.Task, error) {
	var (
		task        core.Task
		description sql.NullString
		status      string
		lastRun     sql.NullString
		nextRun     sql.NullString
		createdAt   string
		updatedAt   string
		err         error
	)
	if err := scanner.Scan(&task.ID, &task.Name, &task.Command, &task.Schedule, &description,
		&status, &lastRun, &nextRun, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task.Status = core.TaskStatus(status)
	if description.Valid {
		task.Description = &description.String
	}
	if task.LastRunAt, err = parseNullTime(lastRun); err != nil {
		return nil, err
	}
	if task.NextRunAt, err = parseNullTime(nextRun); err != nil {
		return nil, err
	}
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &task, nil
}
