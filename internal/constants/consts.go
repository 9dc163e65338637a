package constants

import "time"

// Environment variable constants
const (
	// EnvUpstreamURL keeps the variable name used by the existing deployment.
	EnvUpstreamURL = "RENDER_URL"

	EnvHost             = "GATEWAY_HOST"
	EnvPort             = "GATEWAY_PORT"
	EnvMetricsPort      = "GATEWAY_METRICS_PORT"
	EnvReadTimeout      = "GATEWAY_READ_TIMEOUT"
	EnvWriteTimeout     = "GATEWAY_WRITE_TIMEOUT"
	EnvIdleTimeout      = "GATEWAY_IDLE_TIMEOUT"
	EnvMaxRequestSize   = "GATEWAY_MAX_REQUEST_SIZE"
	EnvShutdownTimeout  = "GATEWAY_SHUTDOWN_TIMEOUT"
	EnvUpstreamLabel    = "GATEWAY_UPSTREAM_LABEL"
	EnvLogLevel         = "GATEWAY_LOG_LEVEL"
	EnvLogFormat        = "GATEWAY_LOG_FORMAT"
	EnvRateLimitEnabled = "GATEWAY_RATE_LIMIT_ENABLED"
	EnvRateLimitRPS     = "GATEWAY_RATE_LIMIT_RPS"
	EnvHotReload        = "GATEWAY_HOT_RELOAD"
	EnvTLSEnabled       = "GATEWAY_TLS_ENABLED"
	EnvTLSCertFile      = "GATEWAY_TLS_CERT_FILE"
	EnvTLSKeyFile       = "GATEWAY_TLS_KEY_FILE"
)

// Upstream defaults
const (
	DefaultUpstreamURL   = "https://render-backend-f36w.onrender.com"
	DefaultUpstreamLabel = "Render Prononciation API"
	GatewayName          = "prononciation-gateway"
)

// HTTP header constants
const (
	HeaderContentType   = "Content-Type"
	HeaderAccept        = "Accept"
	HeaderOrigin        = "Origin"
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderXRealIP       = "X-Real-IP"
	HeaderXRequestID    = "X-Request-Id"
)

// Content type constants
const (
	ContentTypeJSON        = "application/json"
	ContentTypeForm        = "application/x-www-form-urlencoded"
	ContentTypeOctetStream = "application/octet-stream"
)

// CORS headers
const (
	HeaderAccessControlAllowOrigin      = "Access-Control-Allow-Origin"
	HeaderAccessControlAllowMethods     = "Access-Control-Allow-Methods"
	HeaderAccessControlAllowHeaders     = "Access-Control-Allow-Headers"
	HeaderAccessControlAllowCredentials = "Access-Control-Allow-Credentials"
	HeaderAccessControlMaxAge           = "Access-Control-Max-Age"
)

// Rate limiting headers
const (
	HeaderXRateLimitLimit     = "X-RateLimit-Limit"
	HeaderXRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderXRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter          = "Retry-After"
)

// Rate limiter internal constants
const (
	// RateLimitCleanupInterval is the interval for cleaning up rate limit cache
	RateLimitCleanupInterval = 5 * time.Minute
	// RateLimitMaxCacheSize is the maximum size of the rate limit cache
	RateLimitMaxCacheSize = 10000
)

// Error code constants
const (
	ErrorCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrorCodeRequestTooLarge   = "REQUEST_TOO_LARGE"
	ErrorCodeInternal          = "INTERNAL_ERROR"
)

// Inbound routes. Outbound paths mirror these.
const (
	PathRoot                 = "/"
	PathPing                 = "/ping"
	PathHealth               = "/health"
	PathLanguesSupportees    = "/langues-supportees"
	PathExercice             = "/exercice/{langue}"
	PathAjouterPhrase        = "/ajouter-phrase"
	PathAnalysePrononciation = "/analyse-prononciation"
	PathScore                = "/score"
	PathOpenAPI              = "/openapi.json"
	PathMetrics              = "/metrics"
)

// Form fields accepted by the upload and phrase routes
const (
	FieldFichier     = "fichier"
	FieldTexteCible  = "texte_cible"
	FieldLangueCible = "langue_cible"
	FieldAccent      = "accent"
	FieldLangue      = "langue"
	FieldPhrase      = "phrase"
)

// Upload defaults when the client omits filename or content type
const (
	DefaultUploadFilename = "audio.bin"
)
