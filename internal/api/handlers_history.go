package api

import (
	"net/http"

	"taskcron/internal/core"

	"github.com/go-chi/chi/v5"
)

type executionResponse struct {
	ID         string  `json:"id"`
	TaskID     string  `json:"task_id"`
	Status     string  `json:"status"`
	ExecutedAt string  `json:"executed_at"`
	FinishedAt string  `json:"finished_at"`
	DurationMS int64   `json:"duration_ms"`
	ExitCode   *int    `json:"exit_code,omitempty"`
	Output     *string `json:"output,omitempty"`
	Error      *string `json:"error,omitempty"`
}

type timerResponse struct {
	TaskID   string `json:"task_id"`
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	NextFire string `json:"next_fire"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), core.DefaultHistoryLimit)
	execs, err := s.scheduler.History(r.Context(), chi.URLParam(r, "taskID"), limit)
	if err != nil {
		s.writeEngineError(w, "task history", err)
		return
	}
	resp := make([]executionResponse, 0, len(execs))
	for _, e := range execs {
		resp = append(resp, executionResponse{
			ID:         e.ID,
			TaskID:     e.TaskID,
			Status:     string(e.Status),
			ExecutedAt: formatTime(e.ExecutedAt),
			FinishedAt: formatTime(e.FinishedAt),
			DurationMS: e.DurationMS,
			ExitCode:   e.ExitCode,
			Output:     e.Output,
			Error:      e.Error,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePendingTimers(w http.ResponseWriter, r *http.Request) {
	pending := s.scheduler.Pending()
	resp := make([]timerResponse, 0, len(pending))
	for _, p := range pending {
		resp = append(resp, timerResponse{
			TaskID:   p.TaskID,
			Name:     p.Name,
			Schedule: p.Schedule,
			NextFire: formatTime(p.NextFire),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
