package telemetry

import (
	"crypto/rand"

	"go.opentelemetry.io/otel/trace"
)

// NewSpanID returns a fresh 64-bit span id as 16 lowercase hex characters,
// the same shape OpenTelemetry SDKs emit.
func NewSpanID() string {
	var id trace.SpanID
	for !id.IsValid() {
		_, _ = rand.Read(id[:])
	}
	return id.String()
}
