package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/leslieo2/prononciation-gateway/internal/constants"
)

// Recover turns a handler panic into a 500 JSON response.
func Recover(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := NewResponseWriter(w)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.Error("Handler panic",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("request_id", GetRequestID(r.Context())),
					zap.Stack("stack"),
				)

				if wrapped.WroteHeader() {
					return
				}
				WriteError(wrapped, http.StatusInternalServerError, constants.ErrorCodeInternal,
					"internal server error", GetRequestID(r.Context()))
			}()
			next.ServeHTTP(wrapped, r)
		})
	}
}
