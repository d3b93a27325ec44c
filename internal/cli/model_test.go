package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribeModel(t *testing.T) {
	meta, err := LoadModel(shopModel)
	require.NoError(t, err)

	entities := DescribeModel(meta)
	require.Len(t, entities, 3)
	assert.Equal(t, "Customer", entities[0].Name)
	assert.Equal(t, "Order", entities[1].Name)
	assert.Equal(t, "Rush", entities[2].Name)

	customer := entities[0]
	assert.Equal(t, "customer", customer.Table)
	assert.Equal(t, []string{"email"}, customer.UniqueKeys)
	assert.Empty(t, customer.Inheritance)

	byName := func(e EntitySummary, name string) AttributeSummary {
		for _, a := range e.Attributes {
			if a.Name == name {
				return a
			}
		}
		t.Fatalf("%s has no attribute %s", e.Name, name)
		return AttributeSummary{}
	}
	assert.Equal(t, AttributeSummary{Name: "email", Kind: "basic", Type: "string", Columns: "email_address"}, byName(customer, "email"))
	orders := byName(customer, "orders")
	assert.Equal(t, "to-many", orders.Kind)
	assert.Equal(t, "Order", orders.Target)
	assert.Equal(t, "bag", orders.Collection)
	assert.Equal(t, "subselect", orders.Fetch)
	assert.Equal(t, "customer", orders.MappedBy)

	order := entities[1]
	assert.Equal(t, "single-table", order.Inheritance)
	assert.Equal(t, AttributeSummary{Name: "customer", Kind: "to-one", Target: "Customer", Fetch: "lazy", Columns: "customer_id"}, byName(order, "customer"))
	assert.Equal(t, "ship_street,ship_zip", byName(order, "shipTo").Columns)

	rush := entities[2]
	assert.Equal(t, "Order", rush.Super)
	assert.Equal(t, "orders", rush.Table)
	// Inherited attributes are listed with the subtype's own.
	byName(rush, "total")
	assert.Equal(t, "integer", byName(rush, "priority").Type)
}

func TestModel_Text(t *testing.T) {
	out, err := execute(t, nil, "model", "-m", shopModel)
	require.NoError(t, err)
	assert.Contains(t, out, "Customer (customer)\n")
	assert.Contains(t, out, "Rush (orders) extends Order [single-table]\n")
	assert.Regexp(t, `orders\s+to-many bag of Order \(subselect\)`, out)
	assert.Regexp(t, `customer\s+to-one Customer \(lazy\)`, out)
}

func TestModel_JSON(t *testing.T) {
	out, err := execute(t, nil, "--format", "json", "model", "-m", shopModel)
	require.NoError(t, err)

	var resp struct {
		Status string          `json:"status"`
		Data   []EntitySummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Len(t, resp.Data, 3)
}

func TestModel_MissingModel(t *testing.T) {
	out, err := execute(t, nil, "model", "-m", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "no CUE files found")
}
