package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/leslieo2/prononciation-gateway/internal/constants"
)

// ErrorResponse is the body of errors produced by the gateway itself.
type ErrorResponse struct {
	Status    string `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteError writes an ErrorResponse with the given status.
func WriteError(w http.ResponseWriter, status int, code, message, requestID string) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Status:    "error",
		Code:      code,
		Message:   message,
		RequestID: requestID,
	})
}
