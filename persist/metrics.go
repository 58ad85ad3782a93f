package persist

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName     = "prism-board/persist"
	commitSpanName = "persist.commit"
	commitLogEvent = "persist.commit.metrics"
)

type commitMetrics struct {
	logger         *log.Logger
	span           trace.Span
	commit         Commit
	start          time.Time
	updateDuration time.Duration
	upsertDuration time.Duration
	upserted       int
	errorStage     string
}

func newCommitMetrics(ctx context.Context, logger *log.Logger, c Commit) (*commitMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, commitSpanName, trace.WithAttributes(
		attribute.String("board.kind", string(c.Filter.Kind)),
		attribute.String("board.scope", c.Filter.Scope),
		attribute.String("persist.commit.id", c.ID),
		attribute.String("persist.commit.kind", string(c.Kind)),
		attribute.Int("persist.commit.writes", c.Writes()),
	))
	return &commitMetrics{logger: logger, span: span, commit: c, start: time.Now()}, ctx
}

func (m *commitMetrics) ObserveUpdate(d time.Duration) {
	if d > 0 {
		m.updateDuration += d
	}
}

func (m *commitMetrics) ObserveUpsert(d time.Duration, n int) {
	if d > 0 {
		m.upsertDuration += d
	}
	m.upserted += n
}

func (m *commitMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log ends the span and writes one structured log entry for the commit.
func (m *commitMetrics) Log(err error) {
	if m == nil {
		return
	}
	total := time.Since(m.start)
	m.span.SetAttributes(
		attribute.Float64("persist.commit.total_ms", durationToMillis(total)),
		attribute.Int("persist.commit.upserted", m.upserted),
	)
	if err != nil {
		m.span.RecordError(err)
		m.span.SetAttributes(attribute.String("persist.commit.error_stage", m.errorStage))
		m.span.SetStatus(codes.Error, err.Error())
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"commit":   m.commit.ID,
		"kind":     string(m.commit.Kind),
		"board":    m.commit.Filter.String(),
		"entity":   m.commit.EntityID,
		"writes":   m.commit.Writes(),
		"upserted": m.upserted,
		"total_ms": durationToMillis(total),
	}
	if m.updateDuration > 0 {
		fields["update_ms"] = durationToMillis(m.updateDuration)
	}
	if m.upsertDuration > 0 {
		fields["upsert_ms"] = durationToMillis(m.upsertDuration)
	}
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	if err != nil {
		fields["error_stage"] = m.errorStage
		m.logger.WithFields(fields).WithError(err).Error(commitLogEvent)
		return
	}
	m.logger.WithFields(fields).Info(commitLogEvent)
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
