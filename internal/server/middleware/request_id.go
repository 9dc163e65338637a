package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/leslieo2/prononciation-gateway/internal/constants"
)

type ctxKey int

const ctxRequestID ctxKey = iota

// maxRequestIDLength bounds ids accepted from clients.
const maxRequestIDLength = 128

// RequestID reuses the caller's X-Request-Id or generates one, echoes it in
// the response and stores it in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(constants.HeaderXRequestID))
		if id == "" || len(id) > maxRequestIDLength || !printable(id) {
			id = uuid.NewString()
		}

		w.Header().Set(constants.HeaderXRequestID, id)

		ctx := context.WithValue(r.Context(), ctxRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request id stored by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxRequestID).(string); ok {
		return v
	}
	return ""
}

func printable(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
