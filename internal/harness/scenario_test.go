package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	s, err := LoadScenarioWithBasePath("testdata/scenarios/filter_on_navigation.yaml", "testdata/scenarios")
	require.NoError(t, err)

	assert.Equal(t, "filter_on_navigation", s.Name)
	assert.Equal(t, filepath.Join("testdata", "schema", "northwind.cue"), s.Schema)
	assert.Equal(t, filepath.Join("testdata", "data", "northwind_rows.yaml"), s.Data)
	assert.Equal(t, `Orders.Where(o => o.Customer.City == "Berlin")`, s.Query)
	require.Len(t, s.Assertions, 6)

	first := s.Assertions[0]
	assert.Equal(t, AssertJoinCount, first.Type)
	assert.Equal(t, "Customer", first.Entity)
	require.NotNil(t, first.Count)
	assert.Equal(t, 1, *first.Count)
	assert.Equal(t, AssertNoNestedResult, s.Assertions[1].Type)
}

func TestLoadScenario_ExpectError(t *testing.T) {
	s, err := LoadScenarioWithBasePath("testdata/scenarios/last_without_ordering.yaml", "testdata/scenarios")
	require.NoError(t, err)
	assert.Equal(t, "ordering", s.ExpectError)
	assert.Empty(t, s.Assertions)
	assert.Empty(t, s.Data)
}

func TestLoadScenario_AbsoluteSchema(t *testing.T) {
	dir := t.TempDir()
	schema, err := filepath.Abs("testdata/schema/northwind.cue")
	require.NoError(t, err)

	path := writeScenario(t, dir, `
name: abs
description: absolute schema path
schema: `+schema+`
query: Orders.Count()
assertions:
  - type: no_nested_result
`)
	s, err := LoadScenarioWithBasePath(path, dir)
	require.NoError(t, err)
	assert.Equal(t, schema, s.Schema)
}

func TestLoadScenario_FileNotFound(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, `
name: typo
description: misspelled assertions key
schema: ../schema/northwind.cue
query: Orders.Count()
assertion:
  - type: no_nested_result
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Invalid(t *testing.T) {
	schema, err := filepath.Abs("testdata/schema/northwind.cue")
	require.NoError(t, err)

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing name",
			content: "description: d\nschema: " + schema + "\nquery: Orders\nassertions:\n  - type: no_nested_result\n",
			want:    "name is required",
		},
		{
			name:    "missing description",
			content: "name: n\nschema: " + schema + "\nquery: Orders\nassertions:\n  - type: no_nested_result\n",
			want:    "description is required",
		},
		{
			name:    "missing schema",
			content: "name: n\ndescription: d\nquery: Orders\nassertions:\n  - type: no_nested_result\n",
			want:    "schema is required",
		},
		{
			name:    "schema not found",
			content: "name: n\ndescription: d\nschema: /nonexistent/schema.cue\nquery: Orders\nassertions:\n  - type: no_nested_result\n",
			want:    "schema not found",
		},
		{
			name:    "missing query",
			content: "name: n\ndescription: d\nschema: " + schema + "\nassertions:\n  - type: no_nested_result\n",
			want:    "query is required",
		},
		{
			name:    "no assertions",
			content: "name: n\ndescription: d\nschema: " + schema + "\nquery: Orders\n",
			want:    "assertions list is required",
		},
		{
			name:    "unknown assertion type",
			content: "name: n\ndescription: d\nschema: " + schema + "\nquery: Orders\nassertions:\n  - type: trace_count\n",
			want:    `unknown assertion type "trace_count"`,
		},
		{
			name:    "join_count without count",
			content: "name: n\ndescription: d\nschema: " + schema + "\nquery: Orders\nassertions:\n  - type: join_count\n    entity: Customer\n",
			want:    "count is required for join_count",
		},
		{
			name:    "negative count",
			content: "name: n\ndescription: d\nschema: " + schema + "\nquery: Orders\nassertions:\n  - type: join_count\n    count: -1\n",
			want:    "count must be non-negative",
		},
		{
			name:    "unknown node",
			content: "name: n\ndescription: d\nschema: " + schema + "\nquery: Orders\nassertions:\n  - type: contains_node\n    node: Frobnicate\n",
			want:    `unknown node kind "Frobnicate"`,
		},
		{
			name:    "method on non-call",
			content: "name: n\ndescription: d\nschema: " + schema + "\nquery: Orders\nassertions:\n  - type: contains_node\n    node: Join\n    method: Where\n",
			want:    "method requires node Call",
		},
		{
			name:    "sql_contains without text",
			content: "name: n\ndescription: d\nschema: " + schema + "\nquery: Orders\nassertions:\n  - type: sql_contains\n",
			want:    "text is required for sql_contains",
		},
		{
			name:    "row_count without data",
			content: "name: n\ndescription: d\nschema: " + schema + "\nquery: Orders\nassertions:\n  - type: row_count\n    count: 1\n",
			want:    "row_count requires a data file",
		},
		{
			name:    "data not found",
			content: "name: n\ndescription: d\nschema: " + schema + "\ndata: /nonexistent/rows.yaml\nquery: Orders\nassertions:\n  - type: matches_evaluation\n",
			want:    "data file not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScenario(t, t.TempDir(), tt.content)
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
