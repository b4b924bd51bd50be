package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jguan/picturebook/pkg/apperr"
	"github.com/jguan/picturebook/pkg/infra/logger"
)

const ContentTypeJSON = "application/json"

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool       `json:"success"`
	Error   *ErrorInfo `json:"error"`
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code string) int {
	switch code {
	case apperr.CodeInvalidRequest:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeConfiguration:
		return http.StatusServiceUnavailable
	case apperr.CodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToErrorInfo exposes the message of coded errors. Anything else is an
// internal error whose details stay in the log.
func ToErrorInfo(err error) *ErrorInfo {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return &ErrorInfo{Code: appErr.Code, Message: appErr.Error()}
	}
	return &ErrorInfo{Code: apperr.CodeInternal, Message: "internal error"}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	info := ToErrorInfo(err)
	status := StatusFor(info.Code)
	if status >= http.StatusInternalServerError {
		logger.WithContext(r.Context()).Error("request failed", "code", info.Code, "error", err)
	}
	writeJSON(w, status, errorResponse{Success: false, Error: info})
}
