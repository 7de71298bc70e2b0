package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ops(kind OperationKind, names ...string) []Operation {
	out := make([]Operation, len(names))
	for i, n := range names {
		out[i] = Operation{Name: n, Kind: kind}
	}
	return out
}

func names(ops []Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.Name
	}
	return out
}

func TestPatternFor_CyclesAllPatterns(t *testing.T) {
	seen := map[Pattern]int{}
	for i := 0; i < 4; i++ {
		seen[PatternFor(i)]++
	}
	assert.Equal(t, map[Pattern]int{Sequential: 1, Interleaved: 1, Reverse: 1, Random: 1}, seen)

	assert.Equal(t, Sequential, PatternFor(4))
	assert.Equal(t, Random, PatternFor(7))
}

func TestOrder(t *testing.T) {
	v := ops(Validation, "v1", "v2", "v3")
	c := ops(Coordination, "c1", "c2")

	assert.Equal(t, []string{"v1", "v2", "v3", "c1", "c2"}, names(Order(Sequential, v, c, nil)))
	assert.Equal(t, []string{"v1", "c1", "v2", "c2", "v3"}, names(Order(Interleaved, v, c, nil)))
	assert.Equal(t, []string{"c1", "c2", "v1", "v2", "v3"}, names(Order(Reverse, v, c, nil)))
	assert.Equal(t, []string{"v1", "c1", "c2"}, names(Order(Interleaved, v[:1], c, nil)))
}

func TestOrder_RandomIsPermutationAndSeeded(t *testing.T) {
	v := ops(Validation, "v1", "v2", "v3")
	c := ops(Coordination, "c1", "c2", "c3")

	a := names(Order(Random, v, c, NewRand(42)))
	b := names(Order(Random, v, c, NewRand(42)))

	assert.Equal(t, a, b, "same seed, same order")
	assert.ElementsMatch(t, []string{"v1", "v2", "v3", "c1", "c2", "c3"}, a)
}

func TestOrder_EmptyInputs(t *testing.T) {
	assert.Empty(t, Order(Interleaved, nil, nil, nil))
	assert.Equal(t, []string{"c1"}, names(Order(Sequential, nil, ops(Coordination, "c1"), nil)))
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "interleaved", Interleaved.String())
	assert.Equal(t, "coordination", Coordination.String())
	assert.Equal(t, "reporting", StateReporting.String())
}
