package core

import (
	"time"
)

// TaskStatus describes the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusActive   TaskStatus = "active"
	TaskStatusInactive TaskStatus = "inactive"
)

// Valid reports whether the status is one the engine understands.
func (s TaskStatus) Valid() bool {
	return s == TaskStatusActive || s == TaskStatusInactive
}

// ExecutionStatus describes the outcome of a single firing.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// Task represents a recurring command definition.
type Task struct {
	ID          string
	Name        string
	Command     string
	Schedule    string
	Description *string
	Status      TaskStatus
	LastRunAt   *time.Time
	NextRunAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Execution is the append-only record of one firing.
type Execution struct {
	ID         string
	TaskID     string
	ExecutedAt time.Time
	FinishedAt time.Time
	Status     ExecutionStatus
	Output     *string
	Error      *string
	ExitCode   *int
	DurationMS int64
}

// NewTask carries the caller supplied fields of a task being added.
type NewTask struct {
	Name        string
	Command     string
	Schedule    string
	Description string
}

// TaskUpdate lists the fields a caller may change on an existing task.
// Nil fields are left untouched. An empty Description clears it.
type TaskUpdate struct {
	Name        *string     `json:"name"`
	Command     *string     `json:"command"`
	Schedule    *string     `json:"schedule"`
	Description *string     `json:"description"`
	Status      *TaskStatus `json:"status"`
}

// TaskPatch is the column-level change set handed to a Catalog.
type TaskPatch struct {
	Name         *string
	Command      *string
	Schedule     *string
	Description  *string
	Status       *TaskStatus
	LastRunAt    *time.Time
	NextRunAt    *time.Time
	ClearNextRun bool
}

// IsEmpty reports whether the patch changes nothing.
func (p TaskPatch) IsEmpty() bool {
	return p.Name == nil && p.Command == nil && p.Schedule == nil && p.Description == nil &&
		p.Status == nil && p.LastRunAt == nil && p.NextRunAt == nil && !p.ClearNextRun
}

// PendingTimer is a read-only view of one Timer Registry entry.
type PendingTimer struct {
	TaskID   string
	Name     string
	Schedule string
	NextFire time.Time
}

func ptrString(v string) *string {
	return &v
}

func ptrTime(v time.Time) *time.Time {
	return &v
}
