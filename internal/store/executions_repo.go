package store

import (
	"context"
	"database/sql"
	"fmt"

	"taskcron/internal/core"
)

// AppendExecution stores one execution record and prunes the task's history to
// HistoryLimit entries. Records for unknown tasks are refused.
func (s *Store) AppendExecution(ctx context.Context, exec *core.Execution) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append execution: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO executions (id, task_id, executed_at, finished_at, status, output, error, exit_code, duration_ms)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM tasks WHERE id = ?)
	`, exec.ID, exec.TaskID, formatTime(exec.ExecutedAt), formatTime(exec.FinishedAt), exec.Status,
		nullableString(exec.Output), nullableString(exec.Error), nullableInt(exec.ExitCode), exec.DurationMS,
		exec.TaskID)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert execution rows: %w", err)
	}
	if rows == 0 {
		return &core.Error{Kind: core.KindNotFound, Msg: fmt.Sprintf("task %s not found", exec.TaskID)}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM executions
		WHERE task_id = ? AND id NOT IN (
			SELECT id FROM executions
			WHERE task_id = ?
			ORDER BY executed_at DESC, rowid DESC
			LIMIT ?
		)
	`, exec.TaskID, exec.TaskID, s.HistoryLimit); err != nil {
		return fmt.Errorf("prune executions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit execution: %w", err)
	}
	return nil
}

// History returns up to limit execution records of a task, newest first.
func (s *Store) History(ctx context.Context, taskID string, limit int) ([]*core.Execution, error) {
	if limit <= 0 {
		limit = s.HistoryLimit
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, task_id, executed_at, finished_at, status, output, error, exit_code, duration_ms
		FROM executions
		WHERE task_id = ?
		ORDER BY executed_at DESC, rowid DESC
		LIMIT ?
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()
	var execs []*core.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return execs, nil
}

func scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*core.Execution, error) {
	var (
		exec       core.Execution
		executedAt string
		finishedAt string
		status     string
		output     sql.NullString
		errMsg     sql.NullString
		exitCode   sql.NullInt64
		err        error
	)
	if err := scanner.Scan(&exec.ID, &exec.TaskID, &executedAt, &finishedAt, &status,
		&output, &errMsg, &exitCode, &exec.DurationMS); err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	exec.Status = core.ExecutionStatus(status)
	if exec.ExecutedAt, err = parseTime(executedAt); err != nil {
		return nil, err
	}
	if exec.FinishedAt, err = parseTime(finishedAt); err != nil {
		return nil, err
	}
	if output.Valid {
		exec.Output = &output.String
	}
	if errMsg.Valid {
		exec.Error = &errMsg.String
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		exec.ExitCode = &code
	}
	return &exec, nil
}
