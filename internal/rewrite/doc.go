// Package rewrite implements the navigation-aware rewriting pipeline.
//
// The pipeline turns a typed query tree authored against the object graph
// (orders with a Customer, customers with Orders) into a tree over a small
// relational vocabulary: joins, correlated subqueries, row numbering and
// grouping clauses. SQL text is produced elsewhere.
//
// PASSES:
//
//	SplitOperators       Count(p) -> Where(p).Count(), Sum(s) -> Select(s).Sum()
//	PushDownSelectors    First().X -> Select(x => x.X).First()
//	RewriteKeyEquality   a.Customer == b.Customer -> a.CustomerID == b.CustomerID
//	MergeSelectors       collapse transparent identifiers into one selector
//	AnalyzeGroupings     classify each GroupBy as aggregate or intact
//	RewriteNavigations   o.Customer.City -> join against Customers
//
// Splitting and pushdown run once up front. The remaining passes iterate
// until the tree stops changing or Pipeline.MaxPasses is reached:
//
//	keyeq -> merge -> analyze -> navigations -> merge
//
// RESOLUTION RULES:
//
// A to-one navigation reached from a query row becomes a Join node against
// the navigation's source. The join is left when the outer key has a
// nullable member or the navigation starts from a row that may itself be
// null. Every access to the same (row, member) pair within one query source
// reuses the same join.
//
// A to-many navigation becomes a correlated Where over the related source.
// Under a terminal (Count, Any, Sum, ...) it stays a scalar subquery; in a
// value position it is wrapped in a NestedResult. As the collection of a
// SelectMany it becomes an inner join, or a left join carrying an $empty
// marker when guarded by DefaultIfEmpty.
//
// SkipWhile, TakeWhile and Zip number the rows first and then filter or
// join on the row number.
//
// Navigations without a descriptor are left in place. The passes never fail
// and never log; Diagnose reports what was left behind.
//
// CONCURRENCY:
//
// Every pass is a pure function of its input tree. Per-translation state
// (the AliasAllocator, join scopes) is created by the caller or by the pass
// and never shared, so independent translations may run concurrently over
// one descriptor.Set.
package rewrite
