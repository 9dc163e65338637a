package upstream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/leslieo2/prononciation-gateway/internal/config"
)

const (
	nonStructuredNote = "non-structured upstream response"
	fallbackTimeFmt   = "2006-01-02T15:04:05"
)

// fallbackTime formats t in UTC with microseconds and a trailing Z. The
// fraction is omitted when it is zero.
func fallbackTime(t time.Time) string {
	t = t.UTC()
	s := t.Format(fallbackTimeFmt)
	if us := t.Nanosecond() / 1000; us != 0 {
		s += fmt.Sprintf(".%06d", us)
	}
	return s + "Z"
}

// Prober answers liveness checks: the upstream ping endpoint first, then its
// health endpoint when the first answer is missing or not a 200.
type Prober struct {
	client     *client
	label      string
	pingPath   string
	healthPath string
	logger     *zap.Logger
	tracer     trace.Tracer
	recorder   Recorder
	now        func() time.Time
}

// NewProber creates a Prober using the probe timeout budget.
func NewProber(cfg config.UpstreamConfig, opts ...Option) *Prober {
	o := buildOptions(opts)
	return &Prober{
		client:     newClient(cfg, cfg.Probe, o.httpClient),
		label:      cfg.Label,
		pingPath:   cfg.PingPath,
		healthPath: cfg.HealthPath,
		logger:     o.logger,
		tracer:     o.tracer,
		recorder:   o.recorder,
		now:        o.now,
	}
}

// Check runs the two stages strictly in sequence. It answers 200 unless both
// fail to get any response.
func (p *Prober) Check(ctx context.Context) LivenessResult {
	ctx, span := p.tracer.Start(ctx, "upstream.liveness", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	result, ok := p.primary(ctx)
	if !ok {
		result = p.fallback(ctx)
	}

	span.SetAttributes(attribute.String("liveness.outcome", string(result.Outcome)))
	if result.Outcome == LivenessUnreachable {
		span.SetStatus(codes.Error, "upstream unreachable")
	}
	p.recorder.RecordLiveness(string(result.Outcome))
	return result
}

// primary reports ok=false when the fallback must run.
func (p *Prober) primary(ctx context.Context) (LivenessResult, bool) {
	start := time.Now()
	resp, err := p.client.do(ctx, Request{Method: http.MethodGet, Path: p.pingPath})
	if err != nil {
		p.logger.Debug("Primary liveness probe failed, trying fallback",
			zap.String("path", p.pingPath),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return LivenessResult{}, false
	}

	if resp.status != http.StatusOK {
		p.logger.Debug("Primary liveness probe inconclusive, trying fallback",
			zap.String("path", p.pingPath),
			zap.Int("upstream_status", resp.status),
		)
		return LivenessResult{}, false
	}

	body, structured := resp.decoded()
	if !structured {
		body = map[string]any{"status": "ok", "note": nonStructuredNote}
	}
	return LivenessResult{Outcome: LivenessPrimary, StatusCode: http.StatusOK, Body: body}, true
}

// fallback treats any HTTP answer as proof the upstream is reachable; its
// status code is not inspected.
func (p *Prober) fallback(ctx context.Context) LivenessResult {
	resp, err := p.client.do(ctx, Request{Method: http.MethodGet, Path: p.healthPath})
	if err != nil {
		p.logger.Warn("Upstream unreachable on both liveness probes",
			zap.String("path", p.healthPath),
			zap.Error(err),
		)
		return LivenessResult{
			Outcome:    LivenessUnreachable,
			StatusCode: http.StatusBadGateway,
			Body: map[string]any{
				"status":  "error",
				"message": "Upstream unreachable",
				"detail":  err.Error(),
			},
		}
	}

	body := map[string]any{
		"status":  "ok",
		"service": p.label + " (via fallback)",
		"time":    fallbackTime(p.now()),
	}

	decoded, _ := resp.decoded()
	if obj, isObject := decoded.(map[string]any); isObject {
		if status, present := obj["status"]; present && status != nil {
			body["status"] = status
		}
	} else {
		body["note"] = nonStructuredNote
	}

	p.logger.Debug("Liveness answered by fallback probe",
		zap.String("path", p.healthPath),
		zap.Int("upstream_status", resp.status),
	)
	return LivenessResult{Outcome: LivenessFallback, StatusCode: http.StatusOK, Body: body}
}
