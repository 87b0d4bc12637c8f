package querysql

import "github.com/roach88/navsql/internal/expr"

type nodeKind uint8

const (
	leafNode nodeKind = iota + 1
	recordNode
	nestedNode
	nullNode
)

// node is the SQL shape of a value: one column expression for a scalar,
// named children for records and entities, or a nested result computed by
// a secondary statement.
type node struct {
	kind nodeKind

	sql    string // leaf
	window bool   // leaf uses a window function

	names  []string // record
	fields []*node
	t      *expr.Type

	nested *nestedQuery // nested
	corr   []*node
}

// nestedQuery is a compiled secondary statement. names[i] is the parameter
// bound to the value of corr[i] of the owning node.
type nestedQuery struct {
	sql    string
	params []any
	names  []string
	secs   []Secondary
}

func leaf(sql string) *node {
	return &node{kind: leafNode, sql: sql}
}

func (n *node) field(name string) (*node, bool) {
	for i, f := range n.names {
		if f == name {
			return n.fields[i], true
		}
	}
	return nil, false
}

func (n *node) hasWindow() bool {
	switch n.kind {
	case leafNode:
		return n.window
	case recordNode:
		for _, f := range n.fields {
			if f.hasWindow() {
				return true
			}
		}
	}
	return false
}

// leaves returns the scalar columns of n in order. ok is false when n holds
// a nested result.
func (n *node) leaves() (out []*node, ok bool) {
	switch n.kind {
	case leafNode:
		return []*node{n}, true
	case recordNode:
		for _, f := range n.fields {
			sub, ok := f.leaves()
			if !ok {
				return nil, false
			}
			out = append(out, sub...)
		}
		return out, true
	case nullNode:
		return nil, true
	}
	return nil, false
}

// env binds lambda parameters to the shapes of their values.
type env struct {
	p *expr.Parameter
	n *node

	// group is set for the rows parameter of a grouping clause; it holds
	// the shape of one source row.
	group *node

	// empty is the condition under which p is the missing inner row of a
	// left join.
	empty string

	parent *env
}

func (e *env) lookup(p *expr.Parameter) *env {
	for ; e != nil; e = e.parent {
		if e.p == p {
			return e
		}
	}
	return nil
}

func (e *env) bind(p *expr.Parameter, n *node) *env {
	return &env{p: p, n: n, parent: e}
}
