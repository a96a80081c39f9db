package pgstore

import (
	"database/sql"
	"time"

	"taskcron/internal/core"
)

type TaskEntity struct {
	ID          string         `gorm:"primaryKey;type:varchar(64)"`
	Name        string         `gorm:"type:varchar(255);not null"`
	Command     string         `gorm:"type:text;not null"`
	Schedule    string         `gorm:"type:varchar(255);not null"`
	Description sql.NullString `gorm:"type:text"`
	Status      string         `gorm:"type:varchar(16);not null;index"`
	LastRunAt   sql.NullTime
	NextRunAt   sql.NullTime
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (TaskEntity) TableName() string {
	return "tasks"
}

// ExecutionEntity rows are ordered by ExecutedAt, ties broken by the
// insertion sequence.
type ExecutionEntity struct {
	ID         string         `gorm:"primaryKey;type:varchar(64)"`
	Seq        int64          `gorm:"autoIncrement;not null"`
	TaskID     string         `gorm:"type:varchar(64);not null;index:idx_executions_task_executed,priority:1"`
	ExecutedAt time.Time      `gorm:"not null;index:idx_executions_task_executed,priority:2,sort:desc"`
	FinishedAt time.Time      `gorm:"not null"`
	Status     string         `gorm:"type:varchar(16);not null"`
	Output     sql.NullString `gorm:"type:text"`
	Error      sql.NullString `gorm:"type:text"`
	ExitCode   sql.NullInt32
	DurationMS int64 `gorm:"column:duration_ms;not null;default:0"`
}

func (ExecutionEntity) TableName() string {
	return "executions"
}

func toTaskEntity(task *core.Task) *TaskEntity {
	return &TaskEntity{
		ID:          task.ID,
		Name:        task.Name,
		Command:     task.Command,
		Schedule:    task.Schedule,
		Description: nullString(task.Description),
		Status:      string(task.Status),
		LastRunAt:   nullTime(task.LastRunAt),
		NextRunAt:   nullTime(task.NextRunAt),
		CreatedAt:   task.CreatedAt.UTC(),
		UpdatedAt:   task.UpdatedAt.UTC(),
	}
}

func (e *TaskEntity) toCore() *core.Task {
	task := &core.Task{
		ID:        e.ID,
		Name:      e.Name,
		Command:   e.Command,
		Schedule:  e.Schedule,
		Status:    core.TaskStatus(e.Status),
		LastRunAt: timePtr(e.LastRunAt),
		NextRunAt: timePtr(e.NextRunAt),
		CreatedAt: e.CreatedAt.UTC(),
		UpdatedAt: e.UpdatedAt.UTC(),
	}
	if e.Description.Valid {
		desc := e.Description.String
		task.Description = &desc
	}
	return task
}

func toExecutionEntity(exec *core.Execution) *ExecutionEntity {
	e := &ExecutionEntity{
		ID:         exec.ID,
		TaskID:     exec.TaskID,
		ExecutedAt: exec.ExecutedAt.UTC(),
		FinishedAt: exec.FinishedAt.UTC(),
		Status:     string(exec.Status),
		Output:     nullString(exec.Output),
		Error:      nullString(exec.Error),
		DurationMS: exec.DurationMS,
	}
	if exec.ExitCode != nil {
		e.ExitCode = sql.NullInt32{Int32: int32(*exec.ExitCode), Valid: true}
	}
	return e
}

func (e *ExecutionEntity) toCore() *core.Execution {
	exec := &core.Execution{
		ID:         e.ID,
		TaskID:     e.TaskID,
		ExecutedAt: e.ExecutedAt.UTC(),
		FinishedAt: e.FinishedAt.UTC(),
		Status:     core.ExecutionStatus(e.Status),
		DurationMS: e.DurationMS,
	}
	if e.Output.Valid {
		out := e.Output.String
		exec.Output = &out
	}
	if e.Error.Valid {
		msg := e.Error.String
		exec.Error = &msg
	}
	if e.ExitCode.Valid {
		code := int(e.ExitCode.Int32)
		exec.ExitCode = &code
	}
	return exec
}

func nullString(v *string) sql.NullString {
	if v == nil || *v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
