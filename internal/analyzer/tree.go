package analyzer

import "github.com/roach88/tracecheck/internal/telemetry"

// TreeNode is one span and the spans that name it as parent.
type TreeNode struct {
	Span     telemetry.SpanRecord
	Children []*TreeNode
	Parent   *TreeNode
}

// BuildTree links spans by parent_span_id. Spans without a parent, or whose
// parent is not among spans, become roots. Roots and children keep input
// order. Used for display only.
func BuildTree(spans []telemetry.SpanRecord) []*TreeNode {
	nodes := make(map[string]*TreeNode, len(spans))
	ordered := make([]*TreeNode, 0, len(spans))
	for _, span := range spans {
		node := &TreeNode{Span: span}
		ordered = append(ordered, node)
		if _, dup := nodes[span.SpanID]; !dup {
			nodes[span.SpanID] = node
		}
	}

	var roots []*TreeNode
	for _, node := range ordered {
		parent, ok := nodes[node.Span.ParentSpanID]
		if node.Span.ParentSpanID == "" || !ok || parent == node {
			roots = append(roots, node)
			continue
		}
		node.Parent = parent
		parent.Children = append(parent.Children, node)
	}
	return roots
}

// Walk visits n and its descendants depth first.
func (n *TreeNode) Walk(fn func(node *TreeNode, depth int)) {
	n.walk(fn, 0)
}

func (n *TreeNode) walk(fn func(*TreeNode, int), depth int) {
	fn(n, depth)
	for _, c := range n.Children {
		c.walk(fn, depth+1)
	}
}
