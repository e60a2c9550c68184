package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fixora/sqlaudit/internal/domain"
)

type apiResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
	Code    string      `json:"code,omitempty"`
}

func writeSuccessResponse(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(apiResponse{Status: true, Message: message, Data: data})
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(apiResponse{Status: false, Message: message, Code: code})
}

// writeDomainError maps an error from the use cases to a status code
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRunNotFound), errors.Is(err, domain.ErrNoCompletedRun):
		writeErrorResponse(w, http.StatusNotFound, "run_not_found", err.Error())
	case errors.Is(err, domain.ErrActionNotFound):
		writeErrorResponse(w, http.StatusNotFound, "action_not_found", err.Error())
	case domain.IsPersistenceConflict(err):
		writeErrorResponse(w, http.StatusConflict, string(domain.ErrCodePersistenceConflict), "Store is busy, retry later")
	case domain.CodeOf(err) == domain.ErrCodeInvalidInput:
		writeErrorResponse(w, http.StatusBadRequest, string(domain.ErrCodeInvalidInput), err.Error())
	default:
		writeErrorResponse(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}
