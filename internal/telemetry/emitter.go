package telemetry

import (
	"context"
	"fmt"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Appender is the write side of the span log.
// Each call must land as a single atomic line.
type Appender interface {
	Append(line []byte) error
}

// AppendError reports a failed local append. It is always fatal to the
// caller: without its own log the harness cannot produce a trustworthy report.
type AppendError struct {
	Path string
	Err  error
}

func (e *AppendError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("append to span log %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("append to span log: %v", e.Err)
}

func (e *AppendError) Unwrap() error {
	return e.Err
}

// Emitter builds span and metric records and appends them to the span log.
type Emitter struct {
	log       Appender
	logPath   string
	forwarder Forwarder
	clock     clockz.Clock
	service   string
	parent    string
	newSpanID func() string
	logger    *zap.Logger
}

// NewEmitter creates an emitter that stamps spans with the given service name.
// A nil forwarder disables remote forwarding.
func NewEmitter(log Appender, forwarder Forwarder, service string, logger *zap.Logger) *Emitter {
	if forwarder == nil {
		forwarder = NopForwarder{}
	}
	return &Emitter{
		log:       log,
		forwarder: forwarder,
		clock:     clockz.RealClock,
		service:   service,
		newSpanID: NewSpanID,
		logger:    logger,
	}
}

// WithClock replaces the clock used for timestamps.
func (e *Emitter) WithClock(clock clockz.Clock) *Emitter {
	e.clock = clock
	return e
}

// WithParent sets the parent span id recorded on every emitted span.
func (e *Emitter) WithParent(spanID string) *Emitter {
	e.parent = spanID
	return e
}

// WithLogPath records the log path for error messages.
func (e *Emitter) WithLogPath(path string) *Emitter {
	e.logPath = path
	return e
}

// WithSpanIDs replaces the span id source.
func (e *Emitter) WithSpanIDs(gen func() string) *Emitter {
	e.newSpanID = gen
	return e
}

// EmitSpan records a finished span that ended now and lasted durationMs.
//
// Returns a validation error for incomplete input, or an *AppendError when
// the local log rejects the line. Forwarding never fails the call.
func (e *Emitter) EmitSpan(
	ctx context.Context,
	operation string,
	status Status,
	durationMs int64,
	traceID string,
	attrs map[string]any,
) (SpanRecord, error) {
	end := e.clock.Now()
	span := SpanRecord{
		TraceID:       traceID,
		SpanID:        e.newSpanID(),
		ParentSpanID:  e.parent,
		OperationName: operation,
		ServiceName:   e.service,
		StartTime:     end.UnixNano() - durationMs*1_000_000,
		DurationMs:    durationMs,
		Status:        status,
		Attributes:    attrs,
	}
	if err := span.Validate(); err != nil {
		return SpanRecord{}, err
	}

	if err := e.write(ctx, span); err != nil {
		return SpanRecord{}, err
	}

	e.logger.Debug("span emitted",
		zap.String("trace_id", span.TraceID),
		zap.String("span_id", span.SpanID),
		zap.String("operation", span.OperationName),
		zap.String("service", span.ServiceName),
	)
	return span, nil
}

// EmitMetric records a metric observed now.
func (e *Emitter) EmitMetric(ctx context.Context, name string, value float64, labels map[string]string) (MetricRecord, error) {
	metric := MetricRecord{
		MetricName: name,
		Value:      value,
		Labels:     labels,
		Timestamp:  e.clock.Now().UnixNano(),
	}
	if err := metric.Validate(); err != nil {
		return MetricRecord{}, err
	}

	if err := e.write(ctx, metric); err != nil {
		return MetricRecord{}, err
	}

	e.logger.Debug("metric emitted", zap.String("metric", name), zap.Float64("value", value))
	return metric, nil
}

func (e *Emitter) write(ctx context.Context, record any) error {
	line, err := EncodeLine(record)
	if err != nil {
		return err
	}
	if err := e.log.Append(line); err != nil {
		return &AppendError{Path: e.logPath, Err: err}
	}
	e.forwarder.Forward(ctx, line)
	return nil
}
