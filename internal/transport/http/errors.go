package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pribylovaa/go-news-crawler/internal/service"
)

const headerRequestID = "X-Request-Id"

var errInternal = errors.New("internal")

// APIError — единый формат ошибки.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse — корневой объект ответа с ошибкой.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// toHTTP отображает доменные ошибки сервиса в HTTP-статус и безопасное сообщение.
func toHTTP(err error) (int, APIError) {
	switch {
	case errors.Is(err, service.ErrRunInProgress):
		return http.StatusConflict, APIError{Code: "run_in_progress", Message: "run in progress"}
	case errors.Is(err, service.ErrNoPipeline):
		return http.StatusServiceUnavailable, APIError{Code: "unavailable", Message: "pipeline is not configured"}
	case errors.Is(err, service.ErrBackupRequired):
		return http.StatusPreconditionFailed, APIError{Code: "backup_required", Message: "backup required"}
	case errors.Is(err, errNotFound):
		return http.StatusNotFound, APIError{Code: "not_found", Message: "not found"}
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, APIError{Code: "invalid_argument", Message: "invalid argument"}
	default:
		return http.StatusInternalServerError, APIError{Code: "internal", Message: "internal error"}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr := toHTTP(err)
	apiErr.RequestID = requestIDFrom(r.Context())
	if apiErr.RequestID == "" {
		apiErr.RequestID = r.Header.Get(headerRequestID)
	}

	writeJSON(w, status, ErrorResponse{Error: apiErr})
}

// writeJSON — единый ответ JSON с нужным Content-Type.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
