// Package expr provides the typed, immutable expression tree that every
// navsql rewrite pass consumes and produces.
//
// The tree is the abstraction boundary between query construction (the
// querytext parser, programmatic builders) and the downstream consumers (the
// querysql renderer, the eval reference evaluator).
//
// ARCHITECTURE:
//
//	[query text / builders] → [expr tree] → [rewrite passes] → [expr tree] → [SQL renderer]
//
// The same node vocabulary covers both sides of the rewrite:
//
//   - Standard nodes: Constant, Parameter, Source, Member, Unary, Binary,
//     Conditional, Lambda, New, Call
//   - Relational nodes: Join, NestedResult, GroupAggregate, RowNumber,
//     EmptyMarker
//
// Navigation rewriting turns navigation member accesses into relational
// nodes; after the pipeline converges no navigation member access to a
// described relationship remains.
//
// SEALED INTERFACE:
//
// Expr is a sealed interface using the marker method pattern. Only types in
// this package implement it, so every pass can switch exhaustively:
//
//	switch n := e.(type) {
//	case *Constant:
//	case *Member:
//	...
//	}
//
// Adding a node kind means adding a case to Children/rebuild, Equal, Format
// and Fingerprint; the compiler points at nothing, but the default branches
// of those four functions panic so a missing case fails the first test that
// builds the new node.
//
// IMMUTABILITY:
//
// Nodes are never mutated after construction. Rewrites return new nodes and
// share unchanged subtrees. Parameters have pointer identity: two Parameter
// values with the same name are different variables.
//
// TYPES:
//
// Every node carries a *Type. Entity types are created by the schema layer
// and compared by name; record, sequence and grouping types are compared
// structurally. A record type with Transparent set is a transparent
// identifier: a synthetic composite introduced to carry two values through
// one projection step.
package expr
