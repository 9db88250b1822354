package engine

import (
	"github.com/shopspring/decimal"

	"github.com/alryyan1/salesync/internal/sale"
)

// State describes where the local session is in its lifecycle.
type State string

const (
	// StateEmpty is a session with no sale. The first add provisions one.
	StateEmpty State = "empty"

	// StateProvisioning is the window between asking the server for a
	// sale and receiving it. Only the mutation that opened the window
	// observes this state; the queue keeps everyone else out.
	StateProvisioning State = "provisioning"

	// StateActive is a session bound to an editable server sale.
	StateActive State = "active"

	// StateCancelled is a session viewing a cancelled sale, e.g. one
	// picked from the registry. Cancelling the session's own sale by
	// removing its last line resets straight to StateEmpty instead.
	StateCancelled State = "cancelled"

	// StateSettled is a session holding a paid sale for the receipt.
	StateSettled State = "settled"
)

// DiscountType selects how a session discount is applied to the
// displayed total.
type DiscountType string

const (
	DiscountFixed   DiscountType = "fixed"
	DiscountPercent DiscountType = "percent"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountFixed || t == DiscountPercent
}

// Session is the engine's local view of one cart.
//
// Sale and Lines mirror the server; DiscountAmount, DiscountType, and
// ClientID are local until a sale is created or settled. Lines may
// briefly hold entries with a zero LineID: products the operator added
// that the server has not acknowledged yet.
type Session struct {
	State State

	// Sale is the server's record, nil until one is provisioned.
	Sale *sale.Sale

	// Lines is the working copy of the cart, in server order with any
	// unacknowledged lines appended.
	Lines []sale.Item

	// DiscountAmount and DiscountType shape the displayed total only;
	// the server total is never adjusted locally.
	DiscountAmount decimal.Decimal
	DiscountType   DiscountType

	// ClientID is the client the next created sale is attributed to,
	// nil for a walk-in.
	ClientID *int64

	// EditingExisting marks a session seeded from select_sale rather
	// than built from scratch. The finalizer uses it to decide what to
	// show after settling.
	EditingExisting bool
}

// newSession returns an empty session.
func newSession() Session {
	return Session{
		State:        StateEmpty,
		Lines:        []sale.Item{},
		DiscountType: DiscountFixed,
	}
}

// applySale replaces the server-mirrored parts of the session with the
// given sale. Local fields (discount, client, editing flag) are kept.
func (s *Session) applySale(sv sale.Sale) {
	clone := sv.Clone()
	s.Sale = &clone
	s.Lines = make([]sale.Item, len(clone.Items))
	copy(s.Lines, clone.Items)
	s.State = stateForSale(clone)
}

// stateForSale maps a server status to a session state.
func stateForSale(sv sale.Sale) State {
	switch sv.Status {
	case sale.StatusCompleted:
		return StateSettled
	case sale.StatusCancelled:
		return StateCancelled
	default:
		return StateActive
	}
}

// resetAfterCancel clears the sale but keeps the chosen client, so an
// operator who emptied a cart mid-visit does not re-enter the client.
func (s *Session) resetAfterCancel() {
	s.State = StateEmpty
	s.Sale = nil
	s.Lines = []sale.Item{}
	s.DiscountAmount = decimal.Decimal{}
	s.DiscountType = DiscountFixed
	s.EditingExisting = false
}

// resetForNewSale clears everything, client included.
func (s *Session) resetForNewSale() {
	s.resetAfterCancel()
	s.ClientID = nil
}

// Snapshot returns a deep copy safe to hand outside the engine.
func (s Session) Snapshot() Session {
	out := s
	if s.Sale != nil {
		clone := s.Sale.Clone()
		out.Sale = &clone
	}
	out.Lines = make([]sale.Item, len(s.Lines))
	copy(out.Lines, s.Lines)
	if s.ClientID != nil {
		id := *s.ClientID
		out.ClientID = &id
	}
	return out
}

// lineByProduct returns the working-copy line for the product.
func (s Session) lineByProduct(productID int64) (sale.Item, bool) {
	for _, ln := range s.Lines {
		if ln.ProductID == productID {
			return ln, true
		}
	}
	return sale.Item{}, false
}

// unsentLines returns the lines the server has not acknowledged.
func (s Session) unsentLines() []sale.Item {
	var out []sale.Item
	for _, ln := range s.Lines {
		if !ln.Sent() {
			out = append(out, ln)
		}
	}
	return out
}

// selectedID returns the bound sale's id, zero when none.
func (s Session) selectedID() int64 {
	if s.Sale == nil {
		return 0
	}
	return s.Sale.ID
}

// Total returns the server-echoed total, zero when no sale is bound.
func (s Session) Total() decimal.Decimal {
	if s.Sale == nil {
		return decimal.Decimal{}
	}
	return s.Sale.TotalAmount
}

var hundredPercent = decimal.NewFromInt(100)

// DisplayTotal returns the total after the session discount. Display
// only: the server's TotalAmount is the authoritative figure.
func (s Session) DisplayTotal() decimal.Decimal {
	total := s.Total()
	if s.DiscountAmount.IsZero() {
		return total
	}
	switch s.DiscountType {
	case DiscountPercent:
		return total.Mul(hundredPercent.Sub(s.DiscountAmount)).Div(hundredPercent)
	default:
		return total.Sub(s.DiscountAmount)
	}
}

// canonicalMap renders the session for canonical JSON encoding.
// Absent values are zero, never null, so hashes stay stable.
func (s Session) canonicalMap() map[string]any {
	var clientID int64
	if s.ClientID != nil {
		clientID = *s.ClientID
	}
	lines := make([]any, 0, len(s.Lines))
	for _, ln := range s.Lines {
		lines = append(lines, map[string]any{
			"line_id":    ln.LineID,
			"product_id": ln.ProductID,
			"name":       ln.Name,
			"quantity":   ln.Quantity,
			"unit_price": ln.UnitPrice,
			"line_total": ln.LineTotal,
		})
	}
	return map[string]any{
		"state":            string(s.State),
		"sale_id":          s.selectedID(),
		"client_id":        clientID,
		"discount_amount":  s.DiscountAmount,
		"discount_type":    string(s.DiscountType),
		"total_amount":     s.Total(),
		"lines":            lines,
		"editing_existing": s.EditingExisting,
	}
}

// sessionSnapshot is the decode shape for a journaled session. Field
// tags match canonicalMap keys.
type sessionSnapshot struct {
	State           string          `json:"state"`
	SaleID          int64           `json:"sale_id"`
	ClientID        int64           `json:"client_id"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	DiscountType    string          `json:"discount_type"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Lines           []lineSnapshot  `json:"lines"`
	EditingExisting bool            `json:"editing_existing"`
}

type lineSnapshot struct {
	LineID    int64           `json:"line_id"`
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}
