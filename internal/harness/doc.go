// Package harness provides conformance testing for query translations.
//
// The harness loads a schema, parses a query against it, runs the rewrite
// pipeline and the SQL renderer, and checks assertions on the rewritten
// tree and the generated SQL.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: filter_on_navigation
//	description: "A reference navigation in a filter becomes one join"
//	schema: northwind.cue
//	data: rows.yaml
//	query: Orders.Where(o => o.Customer.City == "Berlin")
//	assertions:
//	  - type: join_count
//	    entity: Customer
//	    count: 1
//	  - type: no_nested_result
//	  - type: sql_contains
//	    text: "INNER JOIN"
//	  - type: matches_evaluation
//
// A scenario may instead expect translation to fail:
//
//	strict: true
//	expect_error: "unresolved navigation"
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - join_count: Number of joins with an inner entity (or all joins)
//   - no_nested_result, has_nested_result: Presence of a nested result
//   - contains_node, not_contains_node: Presence of a node kind, optionally
//     a Call of one method
//   - sql_contains, sql_not_contains: Substring of the primary statement
//   - tree_contains: Substring of the rewritten tree text
//   - row_count: Rows returned by the primary statement (needs data)
//   - matches_evaluation: The SQL result agrees with evaluating the
//     original query in memory (needs data)
//
// # Deterministic Testing
//
// Every scenario runs with a fresh uncached translator, sequential
// translation IDs and, when it has data, its own in-memory SQLite
// database, so golden snapshots are reproducible.
//
// # Golden Files
//
// RunWithGolden compares the rewritten tree, the SQL and its parameters
// with testdata/golden/{name}.golden. Run with -update to regenerate.
package harness
