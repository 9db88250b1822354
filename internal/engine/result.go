package engine

import (
	"github.com/alryyan1/salesync/internal/finalizer"
	"github.com/alryyan1/salesync/internal/sale"
)

// Outcome names what a mutation did to the session. The same names
// tag journal records, so they are stable identifiers.
type Outcome string

const (
	// OutcomeCreated means the mutation provisioned a sale and added
	// its first line.
	OutcomeCreated Outcome = "created"

	// OutcomeAlreadyExists means the server already had the product
	// line; the session was not touched.
	OutcomeAlreadyExists Outcome = "already_exists"

	// OutcomeUpdated means the server applied the change and the
	// session now mirrors the server's view.
	OutcomeUpdated Outcome = "updated"

	// OutcomeRemoved means a line was removed and the sale stayed
	// open.
	OutcomeRemoved Outcome = "removed"

	// OutcomeCancelled means removing the last line cancelled the
	// sale server-side and the session was reset.
	OutcomeCancelled Outcome = "cancelled"

	// OutcomeSelected means an existing sale replaced the session
	// contents.
	OutcomeSelected Outcome = "selected"

	// OutcomeSettled means payment completed the sale.
	OutcomeSettled Outcome = "settled"

	// OutcomeReset means the session was cleared for a new sale.
	OutcomeReset Outcome = "reset"

	// OutcomeRehydrated means the session was restored from the
	// journal.
	OutcomeRehydrated Outcome = "rehydrated"
)

// Operation names, shared by results and journal records.
const (
	opAddProduct      = "add_product"
	opUpdateQuantity  = "update_quantity"
	opRemoveProduct   = "remove_product"
	opSelectSale      = "select_sale"
	opFinalizePayment = "finalize_payment"
	opChangeSaleDate  = "change_sale_date"
	opSetClient       = "set_client"
	opSetDiscount     = "set_discount"
	opStartNewSale    = "start_new_sale"
	opRehydrate       = "rehydrate"
)

// Result reports what one mutation did.
type Result struct {
	// Op is the operation name ("add_product", "remove_product", ...).
	Op string

	// Outcome says what happened.
	Outcome Outcome

	// Sale is the server's sale after the mutation. A settle reports
	// the completed sale even when the session was reset; nil when
	// there is no sale to report (reset, cancelled, empty rehydrate).
	Sale *sale.Sale

	// Session is a snapshot of the session after the mutation.
	Session Session

	// Decision is the finalizer's call on what to do with a settled
	// sale. Meaningful only when Outcome is OutcomeSettled.
	Decision finalizer.Decision
}
