package telemetry

import (
	"encoding/hex"
	"fmt"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

// TraceIDAttribute lets an OTLP span carry a harness trace id that does not
// fit OTLP's 16-byte trace id. When present it replaces the hex trace id.
const TraceIDAttribute = "tracecheck.trace_id"

// UnknownService is used when a resource has no service.name attribute.
const UnknownService = "unknown_service"

// FromOTLP converts exported OTLP resource spans into span records.
func FromOTLP(resourceSpans []*tracepb.ResourceSpans) []SpanRecord {
	var spans []SpanRecord
	for _, rs := range resourceSpans {
		service := serviceName(rs)
		for _, ss := range rs.GetScopeSpans() {
			for _, s := range ss.GetSpans() {
				spans = append(spans, fromOTLPSpan(s, service))
			}
		}
	}
	return spans
}

func serviceName(rs *tracepb.ResourceSpans) string {
	for _, attr := range rs.GetResource().GetAttributes() {
		if attr.GetKey() == "service.name" {
			if name := attr.GetValue().GetStringValue(); name != "" {
				return name
			}
		}
	}
	return UnknownService
}

func fromOTLPSpan(s *tracepb.Span, service string) SpanRecord {
	attrs := make(map[string]any, len(s.GetAttributes()))
	for _, kv := range s.GetAttributes() {
		attrs[kv.GetKey()] = anyValue(kv.GetValue())
	}

	traceID := hex.EncodeToString(s.GetTraceId())
	if override, ok := attrs[TraceIDAttribute].(string); ok && override != "" {
		traceID = override
		delete(attrs, TraceIDAttribute)
	}
	if len(attrs) == 0 {
		attrs = nil
	}

	status := StatusOK
	if s.GetStatus().GetCode() == tracepb.Status_STATUS_CODE_ERROR {
		status = StatusError
	}

	var durationMs int64
	if end, start := s.GetEndTimeUnixNano(), s.GetStartTimeUnixNano(); end > start {
		durationMs = int64((end - start) / 1_000_000)
	}

	return SpanRecord{
		TraceID:       traceID,
		SpanID:        hex.EncodeToString(s.GetSpanId()),
		ParentSpanID:  hex.EncodeToString(s.GetParentSpanId()),
		OperationName: s.GetName(),
		ServiceName:   service,
		StartTime:     int64(s.GetStartTimeUnixNano()),
		DurationMs:    durationMs,
		Status:        status,
		Attributes:    attrs,
	}
}

// anyValue flattens an OTLP value into a string, number or bool.
func anyValue(v *commonpb.AnyValue) any {
	switch x := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return x.StringValue
	case *commonpb.AnyValue_BoolValue:
		return x.BoolValue
	case *commonpb.AnyValue_IntValue:
		return x.IntValue
	case *commonpb.AnyValue_DoubleValue:
		return x.DoubleValue
	case *commonpb.AnyValue_BytesValue:
		return hex.EncodeToString(x.BytesValue)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
