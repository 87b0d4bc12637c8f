package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../harness/testdata/scenarios"

// scenarioDir writes one Berlin filter scenario into a fresh directory,
// pointing at the shared schema and rows by absolute path.
func scenarioDir(t *testing.T, rowCount int) string {
	t.Helper()
	schemaPath, err := filepath.Abs(northwindSchema)
	require.NoError(t, err)
	dataPath, err := filepath.Abs("../harness/testdata/data/northwind_rows.yaml")
	require.NoError(t, err)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "berlin.yaml"), fmt.Sprintf(`name: berlin
description: "Orders shipped to Berlin customers"
schema: %s
data: %s
query: Orders.Where(o => o.Customer.City == "Berlin")
assertions:
  - type: join_count
    count: 1
  - type: row_count
    count: %d
`, schemaPath, dataPath, rowCount))
	return dir
}

func TestTestCommand_AllScenariosPass(t *testing.T) {
	stdout, _, err := execute(t, "test", scenariosDir)
	require.NoError(t, err, stdout)

	assert.Contains(t, stdout, "✓ filter_on_navigation\n")
	assert.Contains(t, stdout, "✓ last_without_ordering\n")
	assert.Contains(t, stdout, "Test Summary: 8 passed, 0 failed, 8 total\n")
	assert.Contains(t, stdout, "✓ All scenarios passed\n")
}

func TestTestCommand_Filter(t *testing.T) {
	stdout, _, err := execute(t, "test", scenariosDir, "--filter", "s*")
	require.NoError(t, err, stdout)

	assert.Contains(t, stdout, "✓ scalar_subquery\n")
	assert.Contains(t, stdout, "✓ select_many\n")
	assert.NotContains(t, stdout, "take_while")
	assert.Contains(t, stdout, "Test Summary: 2 passed, 0 failed, 2 total\n")
}

func TestTestCommand_JSON(t *testing.T) {
	stdout, _, err := execute(t, "--format", "json", "test", scenariosDir, "--filter", "filter_*")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "filter_on_navigation", resp.Data.Scenarios[0].Name)
	assert.Len(t, resp.Data.Scenarios[0].Assertions, 6)
}

func TestTestCommand_Failure(t *testing.T) {
	dir := scenarioDir(t, 5)

	stdout, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "✗ berlin\n")
	assert.Contains(t, stdout, "Test Summary: 0 passed, 1 failed, 1 total\n")

	stdout, _, err = execute(t, "--format", "json", "test", dir)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTestFailed, resp.Error.Code)
}

func TestTestCommand_GoldenUpdate(t *testing.T) {
	dir := scenarioDir(t, 2)
	golden := filepath.Join(dir, "golden", "berlin.golden")

	_, _, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)

	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), "scenario: berlin\n")
	assert.Contains(t, string(data), "INNER JOIN Customers")

	// The regenerated snapshot matches on the next run.
	_, _, err = execute(t, "test", dir)
	require.NoError(t, err)

	// A stale snapshot fails the scenario.
	writeFile(t, golden, "scenario: berlin\ntree: Orders\n")
	stdout, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, stdout, "snapshot does not match golden file")
}

func TestTestCommand_Errors(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		_, _, err := execute(t, "test", filepath.Join(t.TempDir(), "absent"))
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "scenarios directory not found")
	})

	t.Run("empty directory", func(t *testing.T) {
		stdout, _, err := execute(t, "test", t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, "No scenarios found.\n", stdout)
	})

	t.Run("invalid scenario", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "broken.yaml"), "name: broken\n")

		stdout, _, err := execute(t, "test", dir)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, stdout, "✗ broken.yaml\n")
		assert.Contains(t, stdout, "failed to load scenario")
	})
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("s", "golden", "berlin.golden"), goldenFilePath(filepath.Join("s", "berlin.yaml")))
	assert.Equal(t, filepath.Join("golden", "x.golden"), goldenFilePath("x.yml"))
}
