// Package catalog compiles the product catalog from CUE sources.
//
// Catalog files declare products under catalog.products and are
// validated against an embedded schema before decoding. Prices are
// decimal strings, never floats; a float literal fails compilation
// with its source position.
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/shopspring/decimal"

	"github.com/alryyan1/salesync/internal/sale"
)

//go:embed schema.cue
var schemaSource []byte

// Catalog is an immutable, validated set of products with lookup by
// SKU and by server identifier.
type Catalog struct {
	products []sale.Product
	bySKU    map[string]int
	byID     map[int64]int
}

// Load reads and compiles a catalog file. Error positions carry the
// given path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return compile(data, path)
}

// Compile compiles catalog source held in memory.
func Compile(data []byte) (*Catalog, error) {
	return compile(data, "catalog.cue")
}

func compile(data []byte, filename string) (*Catalog, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	val := ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	if !val.LookupPath(cue.ParsePath("catalog.products")).Exists() {
		return nil, &CompileError{
			Field:   "catalog.products",
			Message: "catalog.products is required",
			Pos:     val.Pos(),
		}
	}

	// Unification closes each product against #Product; Validate
	// surfaces type conflicts, missing fields, and unknown fields
	// with their positions.
	products := schema.Unify(val).LookupPath(cue.ParsePath("catalog.products"))
	if err := products.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	iter, err := products.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	c := newCatalog()
	for iter.Next() {
		p, err := parseProduct(iter.Value())
		if err != nil {
			return nil, err
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, &CompileError{
				Field:   "id",
				Message: fmt.Sprintf("duplicate product id %d", p.ID),
				Pos:     iter.Value().Pos(),
			}
		}
		if _, dup := c.bySKU[p.SKU]; dup {
			return nil, &CompileError{
				Field:   "sku",
				Message: fmt.Sprintf("duplicate sku %q", p.SKU),
				Pos:     iter.Value().Pos(),
			}
		}
		c.add(p)
	}
	return c, nil
}

// FromProducts builds a catalog from already-decoded products.
// Scenario files declare products inline rather than in CUE, but the
// same uniqueness rules apply.
func FromProducts(products []sale.Product) (*Catalog, error) {
	c := newCatalog()
	for _, p := range products {
		if p.ID <= 0 {
			return nil, fmt.Errorf("product %q: id must be positive", p.SKU)
		}
		if p.SKU == "" {
			return nil, fmt.Errorf("product %d: sku must not be empty", p.ID)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("product %q: name must not be empty", p.SKU)
		}
		if p.LastSalePrice.IsNegative() || p.SuggestedPrice.IsNegative() {
			return nil, fmt.Errorf("product %q: prices must not be negative", p.SKU)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate product id %d", p.ID)
		}
		if _, dup := c.bySKU[p.SKU]; dup {
			return nil, fmt.Errorf("duplicate sku %q", p.SKU)
		}
		c.add(p)
	}
	return c, nil
}

func newCatalog() *Catalog {
	return &Catalog{
		products: []sale.Product{},
		bySKU:    make(map[string]int),
		byID:     make(map[int64]int),
	}
}

func (c *Catalog) add(p sale.Product) {
	c.byID[p.ID] = len(c.products)
	c.bySKU[p.SKU] = len(c.products)
	c.products = append(c.products, p)
}

// Products returns the catalog entries in declaration order.
func (c *Catalog) Products() []sale.Product {
	out := make([]sale.Product, len(c.products))
	copy(out, c.products)
	return out
}

// BySKU returns the product with the given SKU.
func (c *Catalog) BySKU(sku string) (sale.Product, bool) {
	i, ok := c.bySKU[sku]
	if !ok {
		return sale.Product{}, false
	}
	return c.products[i], true
}

// ByID returns the product with the given server identifier.
func (c *Catalog) ByID(id int64) (sale.Product, bool) {
	i, ok := c.byID[id]
	if !ok {
		return sale.Product{}, false
	}
	return c.products[i], true
}

// Len returns the number of products.
func (c *Catalog) Len() int {
	return len(c.products)
}

func parseProduct(v cue.Value) (sale.Product, error) {
	var p sale.Product

	id, err := v.LookupPath(cue.ParsePath("id")).Int64()
	if err != nil {
		return p, formatCUEError(err)
	}
	p.ID = id

	sku, err := v.LookupPath(cue.ParsePath("sku")).String()
	if err != nil {
		return p, formatCUEError(err)
	}
	p.SKU = sku

	name, err := v.LookupPath(cue.ParsePath("name")).String()
	if err != nil {
		return p, formatCUEError(err)
	}
	p.Name = name

	p.LastSalePrice, err = parsePrice(v, "last_sale_price")
	if err != nil {
		return p, err
	}
	p.SuggestedPrice, err = parsePrice(v, "suggested_price")
	if err != nil {
		return p, err
	}
	return p, nil
}

// parsePrice decodes a decimal string price. The schema guarantees the
// field is a string; the decimal syntax is enforced here so the error
// can point at the field.
func parsePrice(v cue.Value, field string) (decimal.Decimal, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	s, err := fv.String()
	if err != nil {
		return decimal.Decimal{}, formatCUEError(err)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("invalid decimal %q", s),
			Pos:     fv.Pos(),
		}
	}
	if d.IsNegative() {
		return decimal.Decimal{}, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("price %s must not be negative", d),
			Pos:     fv.Pos(),
		}
	}
	return d, nil
}

// CompileError is a catalog validation failure with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
