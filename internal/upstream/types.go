package upstream

import (
	"net/http"
	"time"
)

// Field is one form field. Order is kept when encoding multipart bodies.
type Field struct {
	Name  string
	Value string
}

// File is one uploaded file part.
type File struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Request describes one call to the upstream. Path is appended to the base
// URL as is, so path parameters must already be escaped. Route is the path
// template used as the metrics label; it defaults to Path.
type Request struct {
	Method string
	Path   string
	Route  string
	Form   []Field
	Files  []File
	Header http.Header
}

func (r Request) route() string {
	if r.Route != "" {
		return r.Route
	}
	return r.Path
}

// Envelope is the normalized outcome of a forwarded call. StatusCode is what
// the gateway answers with; UpstreamStatus is 0 when no response arrived.
type Envelope struct {
	Success        bool
	StatusCode     int
	UpstreamStatus int
	Body           any
	Err            error
}

// Outcome labels for forwarded calls.
const (
	OutcomeSuccess       = "success"
	OutcomeUpstreamError = "upstream_error"
	OutcomeUnreachable   = "unreachable"
)

// LivenessOutcome is the terminal state of a liveness check.
type LivenessOutcome string

const (
	LivenessPrimary     LivenessOutcome = "primary"
	LivenessFallback    LivenessOutcome = "fallback"
	LivenessUnreachable LivenessOutcome = "unreachable"
)

// LivenessResult is computed fresh on every check.
type LivenessResult struct {
	Outcome    LivenessOutcome
	StatusCode int
	Body       any
}

// Recorder receives upstream measurements.
type Recorder interface {
	RecordUpstreamCall(path, outcome string, upstreamStatus int, duration time.Duration)
	RecordLiveness(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordUpstreamCall(string, string, int, time.Duration) {}
func (nopRecorder) RecordLiveness(string)                                 {}
