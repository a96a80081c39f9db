package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"taskcron/internal/core"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}

// writeEngineError renders a scheduler error by kind. Internal errors are
// logged and replaced by a generic message.
func (s *Server) writeEngineError(w http.ResponseWriter, op string, err error) {
	kind := core.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		s.logger.Error(op, "err", err)
		writeError(w, status, string(core.KindInternal), "internal error")
		return
	}
	writeError(w, status, string(kind), err.Error())
}

func statusForKind(kind core.Kind) int {
	switch kind {
	case core.KindInvalidInput, core.KindInvalidSchedule, core.KindUnsatisfiable:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON body. Unknown keys are ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
	if err == nil {
		return true
	}
	msg := "invalid JSON payload"
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		msg = "invalid value for " + typeErr.Field
	}
	writeError(w, http.StatusBadRequest, "invalid_json", msg)
	return false
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := formatTime(*t)
	return &formatted
}
