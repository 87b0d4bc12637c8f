package testutil

import (
	_ "embed"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/navsql/internal/schema"
)

// NorthwindCUE is the CUE source of the Northwind-like model shared by the
// package tests.
//
//go:embed northwind.cue
var NorthwindCUE string

// Northwind compiles the shared model.
func Northwind(t testing.TB) *schema.Model {
	t.Helper()
	m, err := schema.CompileString(NorthwindCUE, "northwind.cue")
	require.NoError(t, err)
	return m
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

// NorthwindRows returns a small data set for the model, keyed by entity
// name. Values use the constant representation of the expression tree
// (int64, float64, string, time.Time, nil).
//
// Notable shapes: customer FISSA has no orders, order 10251 has no
// employee, employee 2 has no manager, category 3 has no products.
func NorthwindRows() map[string][]map[string]any {
	return map[string][]map[string]any{
		"Region": {
			{"RegionID": int64(1), "RegionDescription": "Eastern"},
			{"RegionID": int64(2), "RegionDescription": "Western"},
		},
		"Employee": {
			{"EmployeeID": int64(1), "LastName": "Davolio", "City": "Seattle", "ReportsTo": int64(2), "RegionID": int64(1)},
			{"EmployeeID": int64(2), "LastName": "Fuller", "City": "Tacoma", "ReportsTo": nil, "RegionID": int64(1)},
			{"EmployeeID": int64(3), "LastName": "Leverling", "City": "Kirkland", "ReportsTo": int64(2), "RegionID": int64(2)},
		},
		"Customer": {
			{"CustomerID": "ALFKI", "CompanyName": "Alfreds Futterkiste", "City": "Berlin", "Country": "Germany"},
			{"CustomerID": "BONAP", "CompanyName": "Bon app'", "City": "Marseille", "Country": "France"},
			{"CustomerID": "BLAUS", "CompanyName": "Blauer See Delikatessen", "City": "Mannheim", "Country": "Germany"},
			{"CustomerID": "FISSA", "CompanyName": "FISSA Fabrica", "City": "Madrid", "Country": "Spain"},
			{"CustomerID": "PARIS", "CompanyName": "Paris specialites", "City": nil, "Country": "France"},
		},
		"Order": {
			{"OrderID": int64(10248), "CustomerID": "ALFKI", "EmployeeID": int64(1), "OrderDate": day("1996-07-04"), "Freight": 32.38, "ShipCity": "Berlin"},
			{"OrderID": int64(10249), "CustomerID": "BONAP", "EmployeeID": int64(2), "OrderDate": day("1996-07-05"), "Freight": 11.61, "ShipCity": "Marseille"},
			{"OrderID": int64(10250), "CustomerID": "ALFKI", "EmployeeID": int64(3), "OrderDate": day("1996-07-08"), "Freight": 65.83, "ShipCity": "Berlin"},
			{"OrderID": int64(10251), "CustomerID": "BLAUS", "EmployeeID": nil, "OrderDate": nil, "Freight": nil, "ShipCity": "Mannheim"},
			{"OrderID": int64(10252), "CustomerID": "BONAP", "EmployeeID": int64(1), "OrderDate": day("1996-07-09"), "Freight": 51.3, "ShipCity": "Marseille"},
		},
		"Category": {
			{"CategoryID": int64(1), "CategoryName": "Beverages"},
			{"CategoryID": int64(2), "CategoryName": "Condiments"},
			{"CategoryID": int64(3), "CategoryName": "Seafood"},
		},
		"Product": {
			{"ProductID": int64(1), "ProductName": "Chai", "UnitPrice": 18.0, "CategoryID": int64(1)},
			{"ProductID": int64(2), "ProductName": "Chang", "UnitPrice": 19.0, "CategoryID": int64(1)},
			{"ProductID": int64(3), "ProductName": "Aniseed Syrup", "UnitPrice": 10.0, "CategoryID": int64(2)},
		},
		"OrderDetail": {
			{"OrderID": int64(10248), "ProductID": int64(1), "UnitPrice": 14.0, "Quantity": int64(12), "Discount": 0.0},
			{"OrderID": int64(10248), "ProductID": int64(3), "UnitPrice": 9.8, "Quantity": int64(10), "Discount": 0.0},
			{"OrderID": int64(10249), "ProductID": int64(2), "UnitPrice": 18.6, "Quantity": int64(9), "Discount": 0.0},
			{"OrderID": int64(10250), "ProductID": int64(1), "UnitPrice": 7.7, "Quantity": int64(10), "Discount": 0.15},
			{"OrderID": int64(10250), "ProductID": int64(2), "UnitPrice": 42.4, "Quantity": int64(35), "Discount": 0.15},
			{"OrderID": int64(10251), "ProductID": int64(3), "UnitPrice": 16.8, "Quantity": int64(6), "Discount": 0.05},
			{"OrderID": int64(10252), "ProductID": int64(1), "UnitPrice": 16.8, "Quantity": int64(2), "Discount": 0.0},
		},
	}
}
