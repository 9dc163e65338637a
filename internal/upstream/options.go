package upstream

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

type options struct {
	logger     *zap.Logger
	tracer     trace.Tracer
	recorder   Recorder
	httpClient *http.Client
	now        func() time.Time
}

// Option configures a Forwarder or a Prober.
type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

func WithRecorder(recorder Recorder) Option {
	return func(o *options) { o.recorder = recorder }
}

// WithHTTPClient replaces the client built from the timeout budget.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithClock sets the time source used for fallback timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{
		logger:   zap.NewNop(),
		tracer:   noop.NewTracerProvider().Tracer("upstream"),
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
