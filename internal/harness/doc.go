// Package harness runs a complete trace-propagation validation.
//
// A run is described by a plan naming validation operations (read-only
// checks) and coordination operations (commands that mutate shared state).
// The harness mints one master trace, exports it to every operation through
// the environment, drives the operations through the rotating permutation
// patterns, and then judges propagation purely from what landed in the span
// log. Operations' exit codes and stdout are recorded but never trusted as
// evidence of tracing.
//
// # Plan Format
//
// Plans are YAML or CUE files:
//
//	name: coordination-propagation
//	description: claim/progress/complete under one trace
//	iterations: 4
//	timeout: 30s
//	seed: 7
//	settle: {interval: 50ms, quiet: 200ms, max: 5s}
//	validation:
//	  - name: health
//	    command: ./ops/health.sh
//	coordination:
//	  - name: claim
//	    run: ["./ops/coord.sh", "claim"]
//	expectations:
//	  - type: min_spans
//	    count: 3
//	  - type: service_present
//	    service: agent-b
//
// Relative executables and working directories resolve against the plan's
// directory.
//
// # Phases
//
// Every run records, in order: "inject trace", one phase per iteration,
// "validate telemetry", "analyze patterns", and, when the plan has
// expectations, "evaluate expectations".
package harness
