package telemetry

import (
	"bytes"
	"strconv"
	"time"

	"github.com/valyala/fastjson"
)

// Decoder turns span log lines into typed records.
// Safe for concurrent use; parsers are pooled.
type Decoder struct {
	parsers fastjson.ParserPool
}

// NewDecoder creates a decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode classifies and decodes one line. It never fails: lines that are not
// JSON objects, carry neither metric nor span identity, or are spans missing
// a required field come back as KindMalformed with Raw set. Reads apply the
// same SpanRecord.Validate the Emitter applies on write, so a span without a
// service can never count as a distinct service.
func (d *Decoder) Decode(line []byte) Record {
	line = bytes.TrimRight(line, "\r\n")
	raw := append([]byte(nil), line...)

	p := d.parsers.Get()
	defer d.parsers.Put(p)

	v, err := p.ParseBytes(line)
	if err != nil || v.Type() != fastjson.TypeObject {
		return Record{Kind: KindMalformed, Raw: raw}
	}

	if v.Exists("metric_name") {
		m := decodeMetric(v)
		if m.Validate() != nil {
			return Record{Kind: KindMalformed, Raw: raw}
		}
		return Record{Kind: KindMetric, Metric: &m, Raw: raw}
	}

	if v.Exists("trace_id") || v.Exists("span_id") {
		s := decodeSpan(v)
		if s.Validate() != nil {
			return Record{Kind: KindMalformed, Raw: raw}
		}
		return Record{Kind: KindSpan, Span: &s, Raw: raw}
	}

	return Record{Kind: KindMalformed, Raw: raw}
}

// DecodeAll decodes each line in order.
func (d *Decoder) DecodeAll(lines [][]byte) []Record {
	records := make([]Record, len(lines))
	for i, line := range lines {
		records[i] = d.Decode(line)
	}
	return records
}

func decodeSpan(v *fastjson.Value) SpanRecord {
	return SpanRecord{
		TraceID:       stringField(v, "trace_id"),
		SpanID:        stringField(v, "span_id"),
		ParentSpanID:  stringField(v, "parent_span_id"),
		OperationName: stringField(v, "operation_name"),
		ServiceName:   stringField(v, "service_name"),
		StartTime:     timeField(v, "start_time"),
		DurationMs:    intField(v, "duration_ms"),
		Status:        ParseStatus(stringField(v, "status")),
		Attributes:    attributesField(v, "attributes"),
	}
}

func decodeMetric(v *fastjson.Value) MetricRecord {
	m := MetricRecord{
		MetricName: stringField(v, "metric_name"),
		Timestamp:  timeField(v, "timestamp"),
	}
	if val := v.Get("value"); val != nil {
		switch val.Type() {
		case fastjson.TypeNumber:
			m.Value = val.GetFloat64()
		case fastjson.TypeString:
			m.Value, _ = strconv.ParseFloat(string(val.GetStringBytes()), 64)
		}
	}
	if obj := v.GetObject("labels"); obj != nil {
		m.Labels = make(map[string]string, obj.Len())
		obj.Visit(func(key []byte, lv *fastjson.Value) {
			m.Labels[string(key)] = scalarString(lv)
		})
	}
	return m
}

// stringField reads a string field. Numbers are accepted and kept in their
// JSON spelling since shell emitters do not always quote ids.
func stringField(v *fastjson.Value, key string) string {
	f := v.Get(key)
	if f == nil {
		return ""
	}
	switch f.Type() {
	case fastjson.TypeString:
		return string(f.GetStringBytes())
	case fastjson.TypeNumber:
		return f.String()
	default:
		return ""
	}
}

func intField(v *fastjson.Value, key string) int64 {
	f := v.Get(key)
	if f == nil {
		return 0
	}
	switch f.Type() {
	case fastjson.TypeNumber:
		if n, err := f.Int64(); err == nil {
			return n
		}
		return int64(f.GetFloat64())
	case fastjson.TypeString:
		n, _ := strconv.ParseInt(string(f.GetStringBytes()), 10, 64)
		return n
	default:
		return 0
	}
}

// timeField reads a timestamp as unix nanoseconds. Accepts integers,
// digit strings, and RFC 3339 strings.
func timeField(v *fastjson.Value, key string) int64 {
	f := v.Get(key)
	if f == nil || f.Type() != fastjson.TypeString {
		return intField(v, key)
	}
	s := string(f.GetStringBytes())
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UnixNano()
	}
	return 0
}

func attributesField(v *fastjson.Value, key string) map[string]any {
	obj := v.GetObject(key)
	if obj == nil || obj.Len() == 0 {
		return nil
	}
	attrs := make(map[string]any, obj.Len())
	obj.Visit(func(k []byte, av *fastjson.Value) {
		switch av.Type() {
		case fastjson.TypeString:
			attrs[string(k)] = string(av.GetStringBytes())
		case fastjson.TypeNumber:
			if n, err := av.Int64(); err == nil {
				attrs[string(k)] = n
			} else {
				attrs[string(k)] = av.GetFloat64()
			}
		case fastjson.TypeTrue:
			attrs[string(k)] = true
		case fastjson.TypeFalse:
			attrs[string(k)] = false
		default:
			// Nested values are outside the attribute contract; keep their text.
			attrs[string(k)] = av.String()
		}
	})
	return attrs
}

func scalarString(v *fastjson.Value) string {
	if v.Type() == fastjson.TypeString {
		return string(v.GetStringBytes())
	}
	return v.String()
}
