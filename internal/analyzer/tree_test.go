package analyzer

import (
	"testing"

	"github.com/roach88/tracecheck/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTree(t *testing.T) {
	roots := BuildTree([]telemetry.SpanRecord{
		{SpanID: "child-1", ParentSpanID: "root", OperationName: "claim"},
		{SpanID: "root", OperationName: "inject"},
		{SpanID: "grandchild", ParentSpanID: "child-1", OperationName: "commit"},
		{SpanID: "orphan", ParentSpanID: "gone", OperationName: "analyze"},
		{SpanID: "child-2", ParentSpanID: "root", OperationName: "complete"},
	})

	require.Len(t, roots, 2)
	assert.Equal(t, "root", roots[0].Span.SpanID)
	assert.Equal(t, "orphan", roots[1].Span.SpanID)

	var visited []string
	var depths []int
	roots[0].Walk(func(n *TreeNode, depth int) {
		visited = append(visited, n.Span.SpanID)
		depths = append(depths, depth)
	})
	assert.Equal(t, []string{"root", "child-1", "grandchild", "child-2"}, visited)
	assert.Equal(t, []int{0, 1, 2, 1}, depths)
	assert.Equal(t, "root", roots[0].Children[0].Parent.Span.SpanID)
}

func TestBuildTree_SelfParentIsRoot(t *testing.T) {
	roots := BuildTree([]telemetry.SpanRecord{{SpanID: "a", ParentSpanID: "a"}})
	require.Len(t, roots, 1)
	assert.Empty(t, roots[0].Children)
}
