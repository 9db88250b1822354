// Package facade defines the remote sale contract the sync engine
// calls, and ships two implementations of it: an HTTP/JSON binding
// (HTTP) and an in-memory reference implementation (Memory) that
// carries the authoritative server semantics for tests, the
// conformance harness, and the development server.
//
// The contract is normative for the engine: response shapes, the
// duplicate-item conflict-as-success signal, and the cancelled
// collapse on last-line removal are part of the interface, not
// implementation details.
package facade

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alryyan1/salesync/internal/sale"
)

// SaleService is the set of remote operations the engine depends on.
//
// All calls are synchronous from the caller's perspective and honor
// context cancellation. Failures are *sale.Error values; a duplicate
// item on AddSaleItem is NOT a failure (see AddItemResult).
type SaleService interface {
	// CreateEmptySale provisions a new zero-item sale for today's
	// order entry. The sale starts in draft status.
	CreateEmptySale(ctx context.Context, req CreateSaleRequest) (sale.Sale, error)

	// AddSaleItem appends a product line to the sale. If the product
	// is already a line on the sale, the server reports success with
	// AlreadyExists set and the sale unchanged; it never creates a
	// second line for the same product.
	AddSaleItem(ctx context.Context, saleID int64, req AddItemRequest) (AddItemResult, error)

	// UpdateSaleItem changes the quantity or unit price of an existing
	// line and returns the recomputed sale.
	UpdateSaleItem(ctx context.Context, saleID, lineID int64, req UpdateItemRequest) (sale.Sale, error)

	// DeleteSaleItem removes a line. Removing the last line collapses
	// the sale to cancelled; the resulting status is reported so the
	// caller can tell "one row gone" from "sale gone".
	DeleteSaleItem(ctx context.Context, saleID, lineID int64) (DeleteItemResult, error)

	// GetSale returns the canonical copy of a sale.
	GetSale(ctx context.Context, saleID int64) (sale.Sale, error)

	// GetTodaysSales lists the sales dated today, optionally filtered
	// to one operator. Ordered by ID ascending.
	GetTodaysSales(ctx context.Context, q TodayQuery) ([]sale.Sale, error)

	// UpdateSale changes header fields of the sale (currently the
	// sale date) and returns the updated sale.
	UpdateSale(ctx context.Context, saleID int64, req UpdateSaleRequest) (sale.Sale, error)

	// RecordPayment applies a payment. Business rejections (already
	// completed, exceeds amount due) come back as PaymentResult.Errors
	// with a nil error; the sale is untouched in that case.
	RecordPayment(ctx context.Context, saleID int64, req PaymentRequest) (PaymentResult, error)
}

// CreateSaleRequest provisions an empty sale.
type CreateSaleRequest struct {
	ClientID *int64 `json:"client_id,omitempty"`
	SaleDate string `json:"sale_date"`
	Notes    string `json:"notes,omitempty"`
}

// AddItemRequest appends one product line.
type AddItemRequest struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// UpdateItemRequest changes an existing line.
type UpdateItemRequest struct {
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// UpdateSaleRequest changes sale header fields.
type UpdateSaleRequest struct {
	SaleDate string `json:"sale_date"`
}

// PaymentRequest records money received against a sale.
type PaymentRequest struct {
	Method      sale.PaymentMethod `json:"method"`
	Amount      decimal.Decimal    `json:"amount"`
	PaymentDate string             `json:"payment_date,omitempty"`
	Reference   string             `json:"reference,omitempty"`
	Notes       string             `json:"notes,omitempty"`
}

// AddItemResult is the tagged outcome of AddSaleItem.
//
// AlreadyExists carries the duplicate-item conflict: a success response
// meaning "this product is already a line on this sale, nothing
// changed". Modeled as a bool rather than a sentinel message so the
// conflict path is type-checked.
type AddItemResult struct {
	Sale          sale.Sale
	AlreadyExists bool
}

// DeleteItemResult reports the outcome of a line removal.
type DeleteItemResult struct {
	Message    string
	SaleStatus sale.Status
}

// PaymentResult reports the outcome of RecordPayment.
// Errors non-empty means the payment was rejected by business rules
// and Sale is nil. On success Sale is the updated sale.
type PaymentResult struct {
	Sale   *sale.Sale
	Errors []string
}

// TodayQuery filters the today's-sales listing.
// A nil OperatorID means all operators.
type TodayQuery struct {
	OperatorID *int64
}
