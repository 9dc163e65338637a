package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/leslieo2/prononciation-gateway/internal/constants"
)

// fieldError is one entry of a 422 validation body.
type fieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

type validationError struct {
	Detail []fieldError `json:"detail"`
}

// detailError is the {"detail": "..."} body used for routing and parse errors.
type detailError struct {
	Detail string `json:"detail"`
}

func missingField(name string) fieldError {
	return fieldError{
		Loc:  []string{"body", name},
		Msg:  "field required",
		Type: "value_error.missing",
	}
}

// sendJSON writes body as JSON. Encoding does not escape HTML so upstream
// text excerpts reach clients as sent.
func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	buf, err := marshalJSON(body)
	if err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		status = http.StatusInternalServerError
		buf = []byte(`{"status":"error","code":"` + constants.ErrorCodeInternal + `","message":"failed to encode response"}`)
	}
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (s *Server) sendValidationError(w http.ResponseWriter, missing []string) {
	body := validationError{Detail: make([]fieldError, 0, len(missing))}
	for _, name := range missing {
		body.Detail = append(body.Detail, missingField(name))
	}
	s.sendJSON(w, http.StatusUnprocessableEntity, body)
}

func (s *Server) sendDetail(w http.ResponseWriter, status int, detail string) {
	s.sendJSON(w, status, detailError{Detail: detail})
}
