// Package telemetry defines the records that travel through the span log and
// the emitter that produces them.
//
// # Record Shapes
//
// Two record kinds share one line-delimited JSON log:
//
//	{"trace_id":"...","span_id":"...","parent_span_id":"...","operation_name":"work.claim",
//	 "service_name":"agent-a","start_time":1700000000000000000,"duration_ms":12,
//	 "status":"ok","attributes":{"work_item":"w-1"}}
//
//	{"metric_name":"tracecheck.iteration.success_rate","value":1,
//	 "labels":{"pattern":"sequential"},"timestamp":1700000000000000000}
//
// A line carrying "metric_name" is a metric. A line carrying "trace_id" or
// "span_id" is a span. Anything else decodes as a malformed record, which is
// still counted so that baseline/delta arithmetic stays exact.
//
// # Durability
//
// The local log is authoritative. Emitter.EmitSpan and Emitter.EmitMetric
// return an *AppendError when the local append fails; forwarding to a remote
// collector is best-effort and its failures are only logged.
package telemetry
