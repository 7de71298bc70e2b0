package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the outcome of a span.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// ParseStatus maps the status spellings seen in operation scripts onto the
// two-valued Status. An empty value means ok; anything that is not a known
// success spelling is an error.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ok", "success", "succeeded", "completed", "unset":
		return StatusOK
	default:
		return StatusError
	}
}

// SpanRecord is one emitted unit of traced work.
type SpanRecord struct {
	TraceID       string         `json:"trace_id"`
	SpanID        string         `json:"span_id"`
	ParentSpanID  string         `json:"parent_span_id,omitempty"`
	OperationName string         `json:"operation_name"`
	ServiceName   string         `json:"service_name"`
	StartTime     int64          `json:"start_time"` // unix nanoseconds
	DurationMs    int64          `json:"duration_ms"`
	Status        Status         `json:"status"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

// Validate checks the fields every span must carry.
func (s SpanRecord) Validate() error {
	switch {
	case s.TraceID == "":
		return fmt.Errorf("span: trace_id is required")
	case s.SpanID == "":
		return fmt.Errorf("span: span_id is required")
	case s.OperationName == "":
		return fmt.Errorf("span: operation_name is required")
	case s.ServiceName == "":
		return fmt.Errorf("span: service_name is required")
	case s.DurationMs < 0:
		return fmt.Errorf("span: duration_ms must be non-negative, got %d", s.DurationMs)
	}
	return normalizeAttributes(s.Attributes)
}

// MetricRecord is an aggregate measurement. It has no identity beyond its
// name and labels and never participates in trace correlation.
type MetricRecord struct {
	MetricName string            `json:"metric_name"`
	Value      float64           `json:"value"`
	Labels     map[string]string `json:"labels,omitempty"`
	Timestamp  int64             `json:"timestamp"` // unix nanoseconds
}

// Validate checks the fields every metric must carry.
func (m MetricRecord) Validate() error {
	if m.MetricName == "" {
		return fmt.Errorf("metric: metric_name is required")
	}
	return nil
}

// Kind classifies a decoded log line.
type Kind int

const (
	KindMalformed Kind = iota
	KindSpan
	KindMetric
)

func (k Kind) String() string {
	switch k {
	case KindSpan:
		return "span"
	case KindMetric:
		return "metric"
	default:
		return "malformed"
	}
}

// Record is one line of the span log after decoding. Raw always holds the
// original line bytes (without the trailing newline).
type Record struct {
	Kind   Kind
	Span   *SpanRecord
	Metric *MetricRecord
	Raw    []byte
}

// SpansOf returns the span records in order, skipping metrics and malformed lines.
func SpansOf(records []Record) []SpanRecord {
	spans := make([]SpanRecord, 0, len(records))
	for _, r := range records {
		if r.Kind == KindSpan && r.Span != nil {
			spans = append(spans, *r.Span)
		}
	}
	return spans
}

// MetricsOf returns the metric records in order.
func MetricsOf(records []Record) []MetricRecord {
	var metrics []MetricRecord
	for _, r := range records {
		if r.Kind == KindMetric && r.Metric != nil {
			metrics = append(metrics, *r.Metric)
		}
	}
	return metrics
}

// EncodeLine serializes a span or metric as a single log line without the
// trailing newline.
func EncodeLine(v any) ([]byte, error) {
	switch v.(type) {
	case SpanRecord, *SpanRecord, MetricRecord, *MetricRecord:
	default:
		return nil, fmt.Errorf("encode line: unsupported record type %T", v)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode line: %w", err)
	}
	return data, nil
}

// normalizeAttributes rejects attribute values outside string|number|bool.
func normalizeAttributes(attrs map[string]any) error {
	for k, v := range attrs {
		switch v.(type) {
		case string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
		default:
			return fmt.Errorf("span: attribute %q has unsupported type %T", k, v)
		}
	}
	return nil
}
