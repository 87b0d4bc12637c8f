package cli

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/navsql/internal/testutil"
)

const northwindSchema = "../harness/testdata/schema/northwind.cue"

func TestSchemaCommand_Text(t *testing.T) {
	stdout, _, err := execute(t, "schema", northwindSchema)
	require.NoError(t, err)

	assert.Contains(t, stdout, "Customer (Customers)\n  key: CustomerID\n")
	assert.Contains(t, stdout, "OrderDetail (OrderDetails)\n  key: OrderID, ProductID\n")
	assert.Contains(t, stdout, "  City string?\n")
	assert.Contains(t, stdout, "  Orders -> Order (many)\n")
	assert.Contains(t, stdout, "  Customer -> Customer (one)\n")
	assert.Contains(t, stdout, "  Manager -> Employee (optional)\n")
	assert.True(t, strings.HasSuffix(stdout, "\n7 entities\n"), stdout)
}

func TestSchemaCommand_JSON(t *testing.T) {
	stdout, _, err := execute(t, "--format", "json", "schema", northwindSchema)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   []EntityInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 7)

	names := make([]string, 0, len(resp.Data))
	for _, e := range resp.Data {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"Category", "Customer", "Employee", "Order", "OrderDetail", "Product", "Region"}, names)

	customer := resp.Data[1]
	assert.Equal(t, "Customers", customer.Table)
	assert.Equal(t, []string{"CustomerID"}, customer.Key)
	require.Len(t, customer.Navigations, 1)
	assert.Equal(t, NavigationInfo{Member: "Orders", Target: "Order", Many: true}, customer.Navigations[0])
}

func TestSchemaCommand_DDL(t *testing.T) {
	stdout, _, err := execute(t, "schema", "--ddl", northwindSchema)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 7)
	for _, l := range lines {
		assert.True(t, strings.HasPrefix(l, "CREATE TABLE "), l)
		assert.True(t, strings.HasSuffix(l, ");"), l)
	}
	assert.Contains(t, stdout, "CREATE TABLE Customers (")
}

func TestSchemaCommand_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "northwind.cue"), testutil.NorthwindCUE)

	stdout, _, err := execute(t, "schema", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "7 entities")
}

func TestSchemaCommand_Errors(t *testing.T) {
	t.Run("missing path", func(t *testing.T) {
		stdout, _, err := execute(t, "schema", filepath.Join(t.TempDir(), "absent"))
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, stdout, "Error [E_SCHEMA]: schema not found")
	})

	t.Run("invalid schema", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.cue")
		writeFile(t, path, `entity: Order: {table: "Orders", fields: {OrderID: "int"}, navigation: Customer: {target: "Nobody", outer: ["OrderID"]}}`)

		stdout, _, err := execute(t, "--format", "json", "schema", path)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))

		var resp CLIResponse
		require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeSchema, resp.Error.Code)
	})

	t.Run("no argument", func(t *testing.T) {
		_, _, err := execute(t, "schema")
		require.Error(t, err)
	})
}
