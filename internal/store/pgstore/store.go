// Package pgstore is a PostgreSQL task catalog built on GORM.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"taskcron/internal/core"
)

const defaultHistoryLimit = 50

type Store struct {
	db           *gorm.DB
	historyLimit int
}

// New migrates the schema and returns a catalog backed by db.
func New(ctx context.Context, db *gorm.DB, historyLimit int) (*Store, error) {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	if err := db.WithContext(ctx).AutoMigrate(&TaskEntity{}, &ExecutionEntity{}); err != nil {
		return nil, fmt.Errorf("migrate catalog schema: %w", err)
	}
	return &Store{db: db, historyLimit: historyLimit}, nil
}

func notFound(id string) error {
	return &core.Error{Kind: core.KindNotFound, Msg: fmt.Sprintf("task %s not found", id)}
}

func (s *Store) CreateTask(ctx context.Context, task *core.Task) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	task.UpdatedAt = task.CreatedAt
	if err := s.db.WithContext(ctx).Create(toTaskEntity(task)).Error; err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*core.Task, error) {
	var e TaskEntity
	err := s.db.WithContext(ctx).First(&e, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return e.toCore(), nil
}

func (s *Store) ListTasks(ctx context.Context, status *core.TaskStatus) ([]*core.Task, error) {
	var entities []TaskEntity
	db := s.db.WithContext(ctx).Order("created_at DESC, id")
	if status != nil {
		db = db.Where("status = ?", string(*status))
	}
	if err := db.Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	tasks := make([]*core.Task, 0, len(entities))
	for i := range entities {
		tasks = append(tasks, entities[i].toCore())
	}
	return tasks, nil
}

// UpdateTask writes only the columns named by core.TaskPatch.
func (s *Store) UpdateTask(ctx context.Context, id string, patch core.TaskPatch) (bool, error) {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Command != nil {
		updates["command"] = *patch.Command
	}
	if patch.Schedule != nil {
		updates["schedule"] = *patch.Schedule
	}
	if patch.Description != nil {
		updates["description"] = nullString(patch.Description)
	}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	if patch.LastRunAt != nil {
		updates["last_run_at"] = nullTime(patch.LastRunAt)
	}
	switch {
	case patch.ClearNextRun:
		updates["next_run_at"] = nil
	case patch.NextRunAt != nil:
		updates["next_run_at"] = nullTime(patch.NextRunAt)
	}
	res := s.db.WithContext(ctx).Model(&TaskEntity{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update task: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteTask removes the task and its execution history in one transaction.
func (s *Store) DeleteTask(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", id).Delete(&ExecutionEntity{}).Error; err != nil {
			return fmt.Errorf("delete task history: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&TaskEntity{})
		if res.Error != nil {
			return fmt.Errorf("delete task: %w", res.Error)
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}

// AppendExecution stores one record and prunes the task's history. The task
// row is share-locked so a concurrent delete cannot orphan the record.
func (s *Store) AppendExecution(ctx context.Context, exec *core.Execution) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task TaskEntity
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).Select("id").First(&task, "id = ?", exec.TaskID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(exec.TaskID)
		}
		if err != nil {
			return fmt.Errorf("lock task: %w", err)
		}
		if err := tx.Create(toExecutionEntity(exec)).Error; err != nil {
			return fmt.Errorf("insert execution: %w", err)
		}
		if err := tx.Exec(`
			DELETE FROM executions
			WHERE task_id = ? AND id NOT IN (
				SELECT id FROM executions
				WHERE task_id = ?
				ORDER BY executed_at DESC, seq DESC
				LIMIT ?
			)`, exec.TaskID, exec.TaskID, s.historyLimit).Error; err != nil {
			return fmt.Errorf("prune executions: %w", err)
		}
		return nil
	})
}

func (s *Store) History(ctx context.Context, taskID string, limit int) ([]*core.Execution, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}
	var entities []ExecutionEntity
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("executed_at DESC, seq DESC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	execs := make([]*core.Execution, 0, len(entities))
	for i := range entities {
		execs = append(execs, entities[i].toCore())
	}
	return execs, nil
}
