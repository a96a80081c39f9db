package api

import (
	"net/http"
	"strings"

	"taskcron/internal/core"

	"github.com/go-chi/chi/v5"
)

type createTaskRequest struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Schedule    string `json:"schedule"`
	Description string `json:"description"`
}

type taskResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Command     string  `json:"command"`
	Schedule    string  `json:"schedule"`
	Description *string `json:"description,omitempty"`
	Status      string  `json:"status"`
	LastRunAt   *string `json:"last_run_at,omitempty"`
	NextRunAt   *string `json:"next_run_at,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := s.scheduler.AddTask(r.Context(), core.NewTask{
		Name:        req.Name,
		Command:     req.Command,
		Schedule:    req.Schedule,
		Description: req.Description,
	})
	if err != nil {
		s.writeEngineError(w, "create task", err)
		return
	}
	writeJSON(w, http.StatusCreated, taskToResponse(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var statusFilter *core.TaskStatus
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		st := core.TaskStatus(status)
		statusFilter = &st
	}
	tasks, err := s.scheduler.ListTasks(r.Context(), statusFilter)
	if err != nil {
		s.writeEngineError(w, "list tasks", err)
		return
	}
	res := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, taskToResponse(t))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.scheduler.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeEngineError(w, "get task", err)
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

// handleUpdateTask accepts name, command, schedule, description and status.
// Any other key in the body is ignored.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var upd core.TaskUpdate
	if !decodeJSON(w, r, &upd) {
		return
	}
	task, err := s.scheduler.UpdateTask(r.Context(), chi.URLParam(r, "taskID"), upd)
	if err != nil {
		s.writeEngineError(w, "update task", err)
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.scheduler.PauseTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeEngineError(w, "pause task", err)
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.scheduler.ResumeTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeEngineError(w, "resume task", err)
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	existed, err := s.scheduler.RemoveTask(r.Context(), taskID)
	if err != nil {
		s.writeEngineError(w, "delete task", err)
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, string(core.KindNotFound), "task "+taskID+" not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.scheduler.RunNow(r.Context(), taskID); err != nil {
		s.writeEngineError(w, "run task now", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "status": "queued"})
}

func taskToResponse(task *core.Task) taskResponse {
	return taskResponse{
		ID:          task.ID,
		Name:        task.Name,
		Command:     task.Command,
		Schedule:    task.Schedule,
		Description: task.Description,
		Status:      string(task.Status),
		LastRunAt:   formatTimePtr(task.LastRunAt),
		NextRunAt:   formatTimePtr(task.NextRunAt),
		CreatedAt:   formatTime(task.CreatedAt),
		UpdatedAt:   formatTime(task.UpdatedAt),
	}
}
