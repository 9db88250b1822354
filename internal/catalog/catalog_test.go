package catalog

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alryyan1/salesync/internal/sale"
)

const validSource = `
catalog: products: [
	{id: 42, sku: "PARA-500", name: "Paracetamol 500mg", last_sale_price: "12.50", suggested_price: "15.00"},
	{id: 43, sku: "IBU-400", name: "Ibuprofen 400mg", last_sale_price: "0", suggested_price: "8.75"},
]
`

func TestCompileBasic(t *testing.T) {
	c, err := Compile([]byte(validSource))
	require.NoError(t, err)

	require.Equal(t, 2, c.Len())

	p, ok := c.BySKU("PARA-500")
	require.True(t, ok)
	assert.Equal(t, int64(42), p.ID)
	assert.Equal(t, "Paracetamol 500mg", p.Name)
	assert.True(t, p.LastSalePrice.Equal(decimal.RequireFromString("12.50")))
	assert.True(t, p.SuggestedPrice.Equal(decimal.RequireFromString("15.00")))

	byID, ok := c.ByID(43)
	require.True(t, ok)
	assert.Equal(t, "IBU-400", byID.SKU)
}

func TestCompilePreservesDeclarationOrder(t *testing.T) {
	c, err := Compile([]byte(validSource))
	require.NoError(t, err)

	products := c.Products()
	require.Len(t, products, 2)
	assert.Equal(t, "PARA-500", products[0].SKU)
	assert.Equal(t, "IBU-400", products[1].SKU)
}

func TestCompileUnsoldProductFallsBackToSuggestedPrice(t *testing.T) {
	c, err := Compile([]byte(validSource))
	require.NoError(t, err)

	p, ok := c.BySKU("IBU-400")
	require.True(t, ok)
	assert.True(t, p.UnitPrice().Equal(decimal.RequireFromString("8.75")))
}

func TestCompileMissingCatalog(t *testing.T) {
	_, err := Compile([]byte(`inventory: []`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog.products")
	assert.Contains(t, err.Error(), "required")
}

func TestCompileEmptyProductListIsValid(t *testing.T) {
	c, err := Compile([]byte(`catalog: products: []`))
	require.NoError(t, err)

	assert.Equal(t, 0, c.Len())
	assert.NotNil(t, c.Products())
}

func TestCompileRejectsFloatPrice(t *testing.T) {
	src := `
catalog: products: [
	{id: 1, sku: "PARA-500", name: "Paracetamol 500mg", last_sale_price: 12.50, suggested_price: "15.00"},
]
`
	_, err := Compile([]byte(src))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "float")
}

func TestCompileRejectsUnknownProductField(t *testing.T) {
	src := `
catalog: products: [
	{id: 1, sku: "PARA-500", name: "Paracetamol 500mg", last_sale_price: "12.50", suggested_price: "15.00", price: "9.99"},
]
`
	_, err := Compile([]byte(src))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestCompileRejectsIncompleteProduct(t *testing.T) {
	src := `
catalog: products: [
	{id: 1, sku: "PARA-500", last_sale_price: "12.50", suggested_price: "15.00"},
]
`
	_, err := Compile([]byte(src))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete")
}

func TestCompileRejectsNonPositiveID(t *testing.T) {
	src := `
catalog: products: [
	{id: 0, sku: "PARA-500", name: "Paracetamol 500mg", last_sale_price: "12.50", suggested_price: "15.00"},
]
`
	_, err := Compile([]byte(src))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of bound")
}

func TestCompileRejectsInvalidDecimal(t *testing.T) {
	src := `
catalog: products: [
	{id: 1, sku: "PARA-500", name: "Paracetamol 500mg", last_sale_price: "a lot", suggested_price: "15.00"},
]
`
	_, err := Compile([]byte(src))

	require.Error(t, err)
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "last_sale_price", compileErr.Field)
	assert.Equal(t, `invalid decimal "a lot"`, compileErr.Message)
}

func TestCompileRejectsNegativePrice(t *testing.T) {
	src := `
catalog: products: [
	{id: 1, sku: "PARA-500", name: "Paracetamol 500mg", last_sale_price: "12.50", suggested_price: "-1.00"},
]
`
	_, err := Compile([]byte(src))

	require.Error(t, err)
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "suggested_price", compileErr.Field)
	assert.Contains(t, err.Error(), "negative")
}

func TestCompileRejectsDuplicateSKU(t *testing.T) {
	src := `
catalog: products: [
	{id: 1, sku: "PARA-500", name: "Paracetamol 500mg", last_sale_price: "12.50", suggested_price: "15.00"},
	{id: 2, sku: "PARA-500", name: "Paracetamol 500mg box", last_sale_price: "99.00", suggested_price: "110.00"},
]
`
	_, err := Compile([]byte(src))

	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate sku "PARA-500"`)
}

func TestCompileRejectsDuplicateID(t *testing.T) {
	src := `
catalog: products: [
	{id: 1, sku: "PARA-500", name: "Paracetamol 500mg", last_sale_price: "12.50", suggested_price: "15.00"},
	{id: 1, sku: "IBU-400", name: "Ibuprofen 400mg", last_sale_price: "6.00", suggested_price: "8.75"},
]
`
	_, err := Compile([]byte(src))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate product id 1")
}

func TestCompileInvalidSyntax(t *testing.T) {
	_, err := Compile([]byte(`catalog: products: [`))
	require.Error(t, err)
}

func TestLoadReadsFile(t *testing.T) {
	c, err := Load(filepath.Join("testdata", "pharmacy.cue"))
	require.NoError(t, err)

	assert.Equal(t, 3, c.Len())
	p, ok := c.BySKU("AMOX-250")
	require.True(t, ok)
	assert.Equal(t, int64(44), p.ID)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "nope.cue"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading catalog")
}

func TestFromProducts(t *testing.T) {
	c, err := FromProducts([]sale.Product{
		{ID: 1, SKU: "PARA-500", Name: "Paracetamol 500mg", LastSalePrice: decimal.RequireFromString("12.50"), SuggestedPrice: decimal.RequireFromString("15.00")},
		{ID: 2, SKU: "IBU-400", Name: "Ibuprofen 400mg", SuggestedPrice: decimal.RequireFromString("8.75")},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
	p, ok := c.ByID(2)
	require.True(t, ok)
	assert.Equal(t, "IBU-400", p.SKU)
}

func TestFromProductsRejectsBadInput(t *testing.T) {
	base := sale.Product{ID: 1, SKU: "PARA-500", Name: "Paracetamol 500mg", SuggestedPrice: decimal.RequireFromString("15.00")}

	cases := []struct {
		name    string
		mutate  func(*sale.Product)
		wantMsg string
	}{
		{"zero id", func(p *sale.Product) { p.ID = 0 }, "id must be positive"},
		{"empty sku", func(p *sale.Product) { p.SKU = "" }, "sku must not be empty"},
		{"empty name", func(p *sale.Product) { p.Name = "" }, "name must not be empty"},
		{"negative price", func(p *sale.Product) { p.SuggestedPrice = decimal.RequireFromString("-1") }, "must not be negative"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			tc.mutate(&p)

			_, err := FromProducts([]sale.Product{p})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestFromProductsRejectsDuplicates(t *testing.T) {
	a := sale.Product{ID: 1, SKU: "PARA-500", Name: "Paracetamol 500mg", SuggestedPrice: decimal.RequireFromString("15.00")}

	dupID := a
	dupID.SKU = "IBU-400"
	_, err := FromProducts([]sale.Product{a, dupID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate product id 1")

	dupSKU := a
	dupSKU.ID = 2
	_, err = FromProducts([]sale.Product{a, dupSKU})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate sku "PARA-500"`)
}

func TestProductsReturnsCopy(t *testing.T) {
	c, err := Compile([]byte(validSource))
	require.NoError(t, err)

	got := c.Products()
	got[0].SKU = "MUTATED"

	again, ok := c.BySKU("PARA-500")
	require.True(t, ok)
	assert.Equal(t, "PARA-500", again.SKU)
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Field: "sku", Message: "duplicate sku"}
	assert.Equal(t, "sku: duplicate sku", err.Error())
}
