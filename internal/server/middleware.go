package server

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/leslieo2/prononciation-gateway/internal/server/middleware"
)

// applyMiddleware wraps the mux, outermost first: request id, logging,
// panic recovery, security headers, CORS, rate limit, body size limit.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	handler = middleware.RequestSizeLimitMiddleware(s.config.Server.MaxRequestSize)(handler)
	handler = s.rateLimiter.Middleware(handler)

	if s.config.Security.CORS.Enabled {
		handler = middleware.NewCORSMiddleware(s.config.Security.CORS).Handler(handler)
	}

	handler = middleware.SecurityHeadersMiddleware(s.config.Security.Headers)(handler)
	handler = middleware.Recover(s.logger.Logger)(handler)
	handler = middleware.LoggingMiddleware(s.logger.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}

// instrument records metrics and a server span for one route. route is the
// path template, which keeps metric labels bounded.
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx, span := s.tracer.StartSpan(r.Context(), "http.request",
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.String("http.user_agent", r.UserAgent()),
			attribute.String("request.id", middleware.GetRequestID(r.Context())),
		)
		defer span.End()

		s.metrics.ActiveConnections.Inc()
		defer s.metrics.ActiveConnections.Dec()

		wrapped := middleware.NewResponseWriter(w)
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		status := wrapped.StatusCode()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}

		requestSize := r.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}
		s.metrics.RecordRequest(r.Method, route, status, time.Since(start), requestSize, wrapped.BytesWritten())
	})
}
