package upstream

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/leslieo2/prononciation-gateway/internal/config"
)

// Forwarder relays one request to the upstream and normalizes the answer.
// It never retries.
type Forwarder struct {
	client   *client
	label    string
	logger   *zap.Logger
	tracer   trace.Tracer
	recorder Recorder
}

// NewForwarder creates a Forwarder using the forward timeout budget.
func NewForwarder(cfg config.UpstreamConfig, opts ...Option) *Forwarder {
	o := buildOptions(opts)
	return &Forwarder{
		client:   newClient(cfg, cfg.Forward, o.httpClient),
		label:    cfg.Label,
		logger:   o.logger,
		tracer:   o.tracer,
		recorder: o.recorder,
	}
}

// Forward sends req and returns an Envelope:
//   - no response: 502 with an "unreachable" error body
//   - non-2xx: 502 carrying upstream_status and the decoded body
//   - 2xx: upstream status and decoded body
//
// Bodies that are not JSON are replaced by a short text excerpt.
func (f *Forwarder) Forward(ctx context.Context, req Request) Envelope {
	ctx, span := f.tracer.Start(ctx, "upstream.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("upstream.path", req.Path),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := f.client.do(ctx, req)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unreachable")
		f.recorder.RecordUpstreamCall(req.route(), OutcomeUnreachable, 0, duration)
		f.logger.Warn("Upstream unreachable",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return Envelope{
			Success:    false,
			StatusCode: http.StatusBadGateway,
			Body: map[string]any{
				"status":  "error",
				"message": f.label + " unreachable",
				"detail":  err.Error(),
			},
			Err: err,
		}
	}

	span.SetAttributes(attribute.Int("upstream.status_code", resp.status))

	data, ok := resp.decoded()
	if !ok {
		data = nonJSONPlaceholder(resp.body)
		f.logger.Debug("Upstream returned a non-JSON body",
			zap.String("path", req.Path),
			zap.Int("status_code", resp.status),
			zap.Bool("truncated", resp.truncated),
		)
	}

	if resp.status < 200 || resp.status > 299 {
		span.SetStatus(codes.Error, "upstream error")
		f.recorder.RecordUpstreamCall(req.route(), OutcomeUpstreamError, resp.status, duration)
		f.logger.Warn("Upstream returned an error status",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Int("upstream_status", resp.status),
			zap.Duration("duration", duration),
		)
		return Envelope{
			Success:        false,
			StatusCode:     http.StatusBadGateway,
			UpstreamStatus: resp.status,
			Body: map[string]any{
				"status":          "error",
				"upstream_status": resp.status,
				"data":            data,
			},
		}
	}

	f.recorder.RecordUpstreamCall(req.route(), OutcomeSuccess, resp.status, duration)
	f.logger.Debug("Upstream call succeeded",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("upstream_status", resp.status),
		zap.Duration("duration", duration),
	)
	return Envelope{
		Success:        true,
		StatusCode:     resp.status,
		UpstreamStatus: resp.status,
		Body:           data,
	}
}
