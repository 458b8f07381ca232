package errors

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HTTP statuses by category for the admin API. Anything else is a 500.
var httpStatuses = map[ErrorCategory]int{
	CategoryValidation: http.StatusBadRequest,
	CategoryConfig:     http.StatusBadRequest,
	CategoryPath:       http.StatusNotFound,
	CategoryNetwork:    http.StatusBadGateway,
	CategoryStorage:    http.StatusBadGateway,
	CategoryTimeout:    http.StatusGatewayTimeout,
	CategoryProcess:    http.StatusServiceUnavailable,
	CategoryCompanion:  http.StatusServiceUnavailable,
	CategoryWatcher:    http.StatusServiceUnavailable,
	CategoryRuntime:    http.StatusServiceUnavailable,
}

// HTTPErrorAdapter writes classified errors as JSON bodies.
type HTTPErrorAdapter struct {
	logger *slog.Logger
}

func NewHTTPErrorAdapter(logger *slog.Logger) *HTTPErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPErrorAdapter{logger: logger}
}

type HTTPErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

func (a *HTTPErrorAdapter) StatusCodeFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if status, ok := httpStatuses[GetCategory(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (a *HTTPErrorAdapter) FormatErrorResponse(err error) HTTPErrorResponse {
	if err == nil {
		return HTTPErrorResponse{}
	}
	c, ok := AsClassified(err)
	if !ok {
		return HTTPErrorResponse{Error: err.Error()}
	}
	return HTTPErrorResponse{
		Error:     c.Message(),
		Code:      string(c.Category()),
		Details:   c.Context(),
		Retryable: c.CanRetry(),
	}
}

// WriteErrorResponse writes err with its mapped status and logs it.
// 4xx responses log at warn, everything else at error.
func (a *HTTPErrorAdapter) WriteErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	status := a.StatusCodeFor(err)
	body, jerr := json.Marshal(a.FormatErrorResponse(err))
	if jerr != nil {
		body = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)

	level := slog.LevelError
	if status < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	a.logger.Log(r.Context(), level, "admin request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()))
}
