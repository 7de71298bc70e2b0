// Package scheduler runs a fixed set of operations under rotating orderings
// so that ordering-dependent propagation bugs surface across iterations.
package scheduler

import (
	"fmt"
	"math/rand/v2"

	"github.com/roach88/tracecheck/internal/executor"
)

// OperationKind is the closed set of operation roles.
type OperationKind int

const (
	// Validation operations are read-only checks.
	Validation OperationKind = iota
	// Coordination operations mutate shared state (claim, progress, complete).
	Coordination
)

func (k OperationKind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Coordination:
		return "coordination"
	default:
		return fmt.Sprintf("OperationKind(%d)", int(k))
	}
}

// Operation is one named external invocation.
type Operation struct {
	Name       string
	Kind       OperationKind
	Invocation executor.Invocation
}

// Pattern is an ordering of validation and coordination operations.
type Pattern int

const (
	Sequential Pattern = iota
	Interleaved
	Reverse
	Random
)

// patternCount is the rotation length used by PatternFor.
const patternCount = 4

func (p Pattern) String() string {
	switch p {
	case Sequential:
		return "sequential"
	case Interleaved:
		return "interleaved"
	case Reverse:
		return "reverse"
	case Random:
		return "random"
	default:
		return fmt.Sprintf("Pattern(%d)", int(p))
	}
}

// PatternFor returns the pattern for a zero-based iteration index.
func PatternFor(iteration int) Pattern {
	return Pattern(((iteration % patternCount) + patternCount) % patternCount)
}

// Order arranges v (validation) and c (coordination) according to p.
// rng is only consulted for Random and must not be nil in that case.
func Order(p Pattern, v, c []Operation, rng *rand.Rand) []Operation {
	out := make([]Operation, 0, len(v)+len(c))
	switch p {
	case Sequential:
		out = append(out, v...)
		out = append(out, c...)
	case Interleaved:
		for i := 0; i < max(len(v), len(c)); i++ {
			if i < len(v) {
				out = append(out, v[i])
			}
			if i < len(c) {
				out = append(out, c[i])
			}
		}
	case Reverse:
		out = append(out, c...)
		out = append(out, v...)
	case Random:
		out = append(out, v...)
		out = append(out, c...)
		rng.Shuffle(len(out), func(i, j int) {
			out[i], out[j] = out[j], out[i]
		})
	default:
		panic(fmt.Sprintf("scheduler: unknown pattern %d", int(p)))
	}
	return out
}

// NewRand returns a deterministic source for Random orderings.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
