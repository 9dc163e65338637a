package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/leslieo2/prononciation-gateway/internal/config"
	"github.com/leslieo2/prononciation-gateway/internal/constants"
)

const headerAccessControlRequestMethod = "Access-Control-Request-Method"
const headerAccessControlRequestHeaders = "Access-Control-Request-Headers"

// CORSMiddleware applies the configured cross-origin policy.
type CORSMiddleware struct {
	allowAllOrigins  bool
	allowedOrigins   map[string]struct{}
	allowedMethods   string
	allowAllHeaders  bool
	allowedHeaders   string
	allowCredentials bool
	maxAge           string
}

// NewCORSMiddleware creates a CORS middleware from configuration.
func NewCORSMiddleware(cfg config.CORSConfig) *CORSMiddleware {
	c := &CORSMiddleware{
		allowedOrigins:   make(map[string]struct{}, len(cfg.AllowedOrigins)),
		allowedMethods:   strings.Join(cfg.AllowedMethods, ", "),
		allowCredentials: cfg.AllowCredentials,
	}
	for _, origin := range cfg.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			c.allowAllOrigins = true
			continue
		}
		c.allowedOrigins[strings.ToLower(origin)] = struct{}{}
	}

	headers := make([]string, 0, len(cfg.AllowedHeaders))
	for _, h := range cfg.AllowedHeaders {
		if h == "*" {
			c.allowAllHeaders = true
			continue
		}
		headers = append(headers, h)
	}
	c.allowedHeaders = strings.Join(headers, ", ")

	if cfg.MaxAge > 0 {
		c.maxAge = strconv.Itoa(cfg.MaxAge)
	}
	return c
}

func (c *CORSMiddleware) originAllowed(origin string) bool {
	if c.allowAllOrigins {
		return true
	}
	_, ok := c.allowedOrigins[strings.ToLower(origin)]
	return ok
}

// Handler returns the CORS middleware handler. Preflight requests are
// answered here and never reach the routes.
func (c *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get(constants.HeaderOrigin)
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Add("Vary", constants.HeaderOrigin)

		preflight := r.Method == http.MethodOptions && r.Header.Get(headerAccessControlRequestMethod) != ""
		if !c.originAllowed(origin) {
			if preflight {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		// Credentials cannot be combined with a literal "*", so the origin is
		// always reflected.
		h.Set(constants.HeaderAccessControlAllowOrigin, origin)
		if c.allowCredentials {
			h.Set(constants.HeaderAccessControlAllowCredentials, "true")
		}

		if !preflight {
			next.ServeHTTP(w, r)
			return
		}

		if c.allowedMethods != "" {
			h.Set(constants.HeaderAccessControlAllowMethods, c.allowedMethods)
		}
		if requested := r.Header.Get(headerAccessControlRequestHeaders); c.allowAllHeaders && requested != "" {
			h.Set(constants.HeaderAccessControlAllowHeaders, requested)
		} else if c.allowedHeaders != "" {
			h.Set(constants.HeaderAccessControlAllowHeaders, c.allowedHeaders)
		}
		if c.maxAge != "" {
			h.Set(constants.HeaderAccessControlMaxAge, c.maxAge)
		}
		w.WriteHeader(http.StatusOK)
	})
}
