package sale

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for sale and payment dates.
// Dates carry no time component and no timezone.
const DateLayout = "2006-01-02"

// Today returns the current date in wire format.
func Today() string {
	return time.Now().Format(DateLayout)
}

// ParseDate validates a wire-format date string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// Status describes the lifecycle state of a sale on the server.
type Status string

const (
	// StatusDraft is a freshly created sale with no items yet.
	StatusDraft Status = "draft"

	// StatusPending is a sale with items awaiting payment.
	StatusPending Status = "pending"

	// StatusCompleted is a fully paid sale. Completed sales are immutable.
	StatusCompleted Status = "completed"

	// StatusCancelled is a sale whose last item was removed.
	// The server cancels rather than deletes so the order number survives.
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Editable reports whether items may still be added, changed, or removed.
func (s Status) Editable() bool {
	return s == StatusDraft || s == StatusPending
}

// PaymentMethod identifies how a payment was made.
type PaymentMethod string

const (
	MethodCash PaymentMethod = "cash"
	MethodCard PaymentMethod = "card"
	MethodBank PaymentMethod = "bank"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodBank:
		return true
	}
	return false
}

// Item is a single line on a sale.
//
// LineID is the server-assigned identifier. A zero LineID marks a line
// that exists only locally and has not been acknowledged by the server;
// such lines must never be targeted by update or delete calls.
type Item struct {
	LineID    int64           `json:"line_id"`
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Sent reports whether the line has a server-assigned identifier.
func (it Item) Sent() bool {
	return it.LineID != 0
}

// Sale is the server's authoritative record of a cart/sale.
//
// TotalAmount, PaidAmount, and DueAmount are always the server-echoed
// values. Callers must not recompute them from Items.
type Sale struct {
	ID          int64           `json:"id"`
	OrderNumber string          `json:"order_number"`
	ClientID    *int64          `json:"client_id,omitempty"`
	OperatorID  int64           `json:"operator_id"`
	SaleDate    string          `json:"sale_date"`
	Status      Status          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	DueAmount   decimal.Decimal `json:"due_amount"`
	Notes       string          `json:"notes,omitempty"`
	Items       []Item          `json:"items"`
	Payments    []Payment       `json:"payments,omitempty"`
	CreatedAt   string          `json:"created_at,omitempty"`
}

// Clone returns a deep copy of the sale.
// Items, Payments, and the ClientID pointer are copied so the clone
// shares no mutable state with the original.
func (s Sale) Clone() Sale {
	out := s
	if s.ClientID != nil {
		id := *s.ClientID
		out.ClientID = &id
	}
	if s.Items != nil {
		out.Items = make([]Item, len(s.Items))
		copy(out.Items, s.Items)
	}
	if s.Payments != nil {
		out.Payments = make([]Payment, len(s.Payments))
		copy(out.Payments, s.Payments)
	}
	return out
}

// ItemByProduct returns the line for the given product, if present.
func (s Sale) ItemByProduct(productID int64) (Item, bool) {
	for _, it := range s.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return Item{}, false
}

// HasProduct reports whether the sale already carries a line for the product.
func (s Sale) HasProduct(productID int64) bool {
	_, ok := s.ItemByProduct(productID)
	return ok
}

// Payment records money received against a sale.
type Payment struct {
	ID          int64           `json:"id"`
	SaleID      int64           `json:"sale_id"`
	Method      PaymentMethod   `json:"method"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate string          `json:"payment_date"`
	Reference   string          `json:"reference,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	OperatorID  int64           `json:"operator_id"`
}

// Product is a catalog entry offered for sale.
//
// Two prices are tracked: the price the product last actually sold at,
// and the suggested retail price. UnitPrice resolves the effective
// price using the fallback chain last sale price, then suggested price.
type Product struct {
	ID             int64           `json:"id"`
	SKU            string          `json:"sku"`
	Name           string          `json:"name"`
	LastSalePrice  decimal.Decimal `json:"last_sale_price"`
	SuggestedPrice decimal.Decimal `json:"suggested_price"`
}

// UnitPrice returns the effective price for a new cart line.
// Prefers the last sale price; falls back to the suggested price when
// the product has never sold.
func (p Product) UnitPrice() decimal.Decimal {
	if p.LastSalePrice.IsPositive() {
		return p.LastSalePrice
	}
	return p.SuggestedPrice
}
