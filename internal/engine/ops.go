package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alryyan1/salesync/internal/facade"
	"github.com/alryyan1/salesync/internal/finalizer"
	"github.com/alryyan1/salesync/internal/identity"
	"github.com/alryyan1/salesync/internal/journal"
	"github.com/alryyan1/salesync/internal/sale"
)

// Server calls run on a context detached from the caller's
// cancellation: once a mutation starts executing it runs to
// completion, so a caller timing out cannot leave the server and the
// session half-agreed. Identity values still flow through.

// requireEditable rejects mutations on sessions without an editable
// sale.
func requireEditable(op string, sess Session) error {
	if sess.Sale == nil {
		return sale.NewValidationError(op, "no active sale")
	}
	if sess.State == StateSettled {
		return sale.NewValidationError(op, "sale is settled; start a new sale first")
	}
	if sess.State != StateActive {
		return sale.NewValidationError(op, "sale is not editable")
	}
	return nil
}

// doAddProduct adds one unit of the product, provisioning a sale
// first when the session has none. Lines left unacknowledged by an
// earlier failure are replayed before the new product is added.
func (e *Engine) doAddProduct(m *mutation) (Result, error) {
	ctx := context.WithoutCancel(m.ctx)
	sess := e.Snapshot()
	p := m.product

	if p.ID <= 0 {
		return Result{}, sale.NewValidationError(m.op, "product id must be positive")
	}
	if sess.State == StateSettled {
		return Result{}, sale.NewValidationError(m.op, "sale is settled; start a new sale first")
	}
	if sess.Sale != nil && sess.State != StateActive {
		return Result{}, sale.NewValidationError(m.op, "sale is not editable")
	}

	unsent := sess.unsentLines()

	provisioned := false
	if sess.Sale == nil {
		// Expose the provisioning window so snapshots taken during the
		// create call are honest about what is happening.
		marker := sess.Snapshot()
		marker.State = StateProvisioning
		e.commit(marker)

		created, err := e.svc.CreateEmptySale(ctx, facade.CreateSaleRequest{
			ClientID: sess.ClientID,
			SaleDate: sale.Today(),
		})
		if err != nil {
			e.commit(sess)
			return Result{}, err
		}
		provisioned = true
		sess.applySale(created)
	}

	// Replay lines the server never acknowledged, oldest first. A
	// failure mid-replay keeps the rest queued as unsent so the next
	// add picks them up.
	for i, ln := range unsent {
		res, err := e.svc.AddSaleItem(ctx, sess.Sale.ID, facade.AddItemRequest{
			ProductID:   ln.ProductID,
			ProductName: ln.Name,
			Quantity:    ln.Quantity,
			UnitPrice:   ln.UnitPrice,
		})
		if err != nil {
			sess.Lines = append(sess.Lines, unsent[i:]...)
			e.commit(sess)
			return Result{}, err
		}
		if !res.AlreadyExists {
			sess.applySale(res.Sale)
		}
	}

	res, err := e.svc.AddSaleItem(ctx, sess.Sale.ID, facade.AddItemRequest{
		ProductID:   p.ID,
		ProductName: p.Name,
		Quantity:    1,
		UnitPrice:   p.UnitPrice(),
	})
	if err != nil {
		e.commit(sess)
		return Result{}, err
	}

	if res.AlreadyExists {
		// The server already carries this line. Nothing changed, so
		// nothing to refresh; the conflict is recorded as an applied op.
		e.commit(sess)
		e.journalApplied(m, OutcomeAlreadyExists, e.outcomeFor(sess), sess, sess.selectedID())
		echoed := res.Sale.Clone()
		return Result{
			Op:      m.op,
			Outcome: OutcomeAlreadyExists,
			Sale:    &echoed,
			Session: sess.Snapshot(),
		}, nil
	}

	sess.applySale(res.Sale)
	e.commit(sess)

	outcome := OutcomeUpdated
	if provisioned {
		outcome = OutcomeCreated
	}
	e.journalApplied(m, outcome, e.outcomeFor(sess), sess, sess.selectedID())
	e.refreshRegistry(ctx)

	return Result{
		Op:      m.op,
		Outcome: outcome,
		Sale:    sess.Sale,
		Session: sess.Snapshot(),
	}, nil
}

// doUpdateQuantity sets a line's quantity. Zero or less removes the
// line instead; the server never receives a non-positive quantity.
func (e *Engine) doUpdateQuantity(m *mutation) (Result, error) {
	if m.quantity <= 0 {
		return e.removeLine(m, m.productID)
	}

	ctx := context.WithoutCancel(m.ctx)
	sess := e.Snapshot()

	if err := requireEditable(m.op, sess); err != nil {
		return Result{}, err
	}
	ln, ok := sess.lineByProduct(m.productID)
	if !ok || !ln.Sent() {
		return Result{}, sale.NewItemNotFoundError(m.op, sess.selectedID(), m.productID)
	}

	updated, err := e.svc.UpdateSaleItem(ctx, sess.Sale.ID, ln.LineID, facade.UpdateItemRequest{
		Quantity:  m.quantity,
		UnitPrice: ln.UnitPrice,
	})
	if err != nil {
		return Result{}, err
	}

	sess.applySale(updated)
	e.commit(sess)
	e.journalApplied(m, OutcomeUpdated, e.outcomeFor(sess), sess, sess.selectedID())
	e.refreshRegistry(ctx)

	return Result{
		Op:      m.op,
		Outcome: OutcomeUpdated,
		Sale:    sess.Sale,
		Session: sess.Snapshot(),
	}, nil
}

// doRemoveProduct removes a line from the cart.
func (e *Engine) doRemoveProduct(m *mutation) (Result, error) {
	return e.removeLine(m, m.productID)
}

// removeLine is the shared removal path for remove_product and for
// update_quantity collapsing to a removal. Removing the last line
// cancels the sale server-side and resets the session.
func (e *Engine) removeLine(m *mutation, productID int64) (Result, error) {
	ctx := context.WithoutCancel(m.ctx)
	sess := e.Snapshot()

	if err := requireEditable(m.op, sess); err != nil {
		return Result{}, err
	}
	ln, ok := sess.lineByProduct(productID)
	if !ok || !ln.Sent() {
		return Result{}, sale.NewItemNotFoundError(m.op, sess.selectedID(), productID)
	}

	res, err := e.svc.DeleteSaleItem(ctx, sess.Sale.ID, ln.LineID)
	if err != nil {
		return Result{}, err
	}

	if res.SaleStatus == sale.StatusCancelled {
		cancelledID := sess.selectedID()
		sess.resetAfterCancel()
		e.commit(sess)
		e.journalApplied(m, OutcomeCancelled, map[string]any{
			"sale_id":      cancelledID,
			"state":        string(sale.StatusCancelled),
			"total_amount": sess.Total(),
		}, sess, cancelledID)
		e.refreshRegistry(ctx)

		return Result{
			Op:      m.op,
			Outcome: OutcomeCancelled,
			Session: sess.Snapshot(),
		}, nil
	}

	// The delete response carries no sale body; reload for the
	// recomputed totals.
	reload, err := e.svc.GetSale(ctx, sess.Sale.ID)
	if err != nil {
		return Result{}, fmt.Errorf("line removed but reload failed: %w", err)
	}

	sess.applySale(reload)
	e.commit(sess)
	e.journalApplied(m, OutcomeRemoved, e.outcomeFor(sess), sess, sess.selectedID())
	e.refreshRegistry(ctx)

	return Result{
		Op:      m.op,
		Outcome: OutcomeRemoved,
		Sale:    sess.Sale,
		Session: sess.Snapshot(),
	}, nil
}

// doSelectSale replaces the session with an existing sale. Previous
// contents are discarded, never merged.
func (e *Engine) doSelectSale(m *mutation) (Result, error) {
	if m.selected == nil || m.selected.ID == 0 {
		return Result{}, sale.NewValidationError(m.op, "sale id required")
	}

	fresh := newSession()
	fresh.applySale(*m.selected)
	if m.selected.ClientID != nil {
		id := *m.selected.ClientID
		fresh.ClientID = &id
	}
	fresh.EditingExisting = true

	e.commit(fresh)
	e.journalApplied(m, OutcomeSelected, e.outcomeFor(fresh), fresh, fresh.selectedID())

	return Result{
		Op:      m.op,
		Outcome: OutcomeSelected,
		Sale:    fresh.Sale,
		Session: fresh.Snapshot(),
	}, nil
}

// doFinalizePayment records a payment. Full settlement hands the
// outcome to the finalizer; a partial payment leaves the sale active.
func (e *Engine) doFinalizePayment(m *mutation) (Result, error) {
	ctx := context.WithoutCancel(m.ctx)
	sess := e.Snapshot()

	if err := requireEditable(m.op, sess); err != nil {
		return Result{}, err
	}
	if m.payment.PaymentDate == "" {
		m.payment.PaymentDate = sale.Today()
	}

	res, err := e.svc.RecordPayment(ctx, sess.Sale.ID, m.payment)
	if err != nil {
		return Result{}, err
	}
	if len(res.Errors) > 0 {
		return Result{}, &sale.Error{
			Kind:    sale.KindValidation,
			Message: strings.Join(res.Errors, "; "),
			Op:      m.op,
			SaleID:  sess.Sale.ID,
		}
	}

	// Refresh first: the registry supplies the settled sale when the
	// payment response does not echo it.
	e.refreshRegistry(ctx)

	settled, err := e.settledSale(ctx, sess, res)
	if err != nil {
		return Result{}, err
	}

	if settled.Status != sale.StatusCompleted {
		sess.applySale(settled)
		e.commit(sess)
		e.journalApplied(m, OutcomeUpdated, e.outcomeFor(sess), sess, sess.selectedID())

		return Result{
			Op:      m.op,
			Outcome: OutcomeUpdated,
			Sale:    sess.Sale,
			Session: sess.Snapshot(),
		}, nil
	}

	decision := e.fin.Decide(finalizer.Completion{
		Sale:       settled,
		WasEditing: sess.EditingExisting,
	})

	switch decision {
	case finalizer.StartFresh:
		sess.resetForNewSale()
	default:
		// The settled sale stays selected for the receipt, but the cart
		// itself is cleared; the receipt reads the sale's own items.
		sess.applySale(settled)
		sess.Lines = []sale.Item{}
		sess.DiscountAmount = decimal.Decimal{}
		sess.DiscountType = DiscountFixed
	}
	e.commit(sess)

	payload := e.outcomeFor(sess)
	payload["settled_sale_id"] = settled.ID
	payload["decision"] = decision.String()
	e.journalApplied(m, OutcomeSettled, payload, sess, settled.ID)

	receipt := settled.Clone()
	return Result{
		Op:       m.op,
		Outcome:  OutcomeSettled,
		Sale:     &receipt,
		Session:  sess.Snapshot(),
		Decision: decision,
	}, nil
}

// settledSale resolves the sale a successful payment applied to. Most
// bindings echo it in the payment response; when one does not, the
// refreshed registry supplies it: the sale being edited by id, a sale
// provisioned this session as the newest entry. A direct reload is the
// last resort.
func (e *Engine) settledSale(ctx context.Context, sess Session, res facade.PaymentResult) (sale.Sale, error) {
	if res.Sale != nil {
		return res.Sale.Clone(), nil
	}
	if e.registry != nil {
		if sess.EditingExisting {
			if s, ok := e.registry.Find(sess.Sale.ID); ok {
				return s, nil
			}
		} else if s, ok := e.registry.Latest(); ok {
			return s, nil
		}
	}
	reload, err := e.svc.GetSale(ctx, sess.Sale.ID)
	if err != nil {
		return sale.Sale{}, fmt.Errorf("payment recorded but reload failed: %w", err)
	}
	return reload, nil
}

// doChangeSaleDate re-dates the bound sale.
func (e *Engine) doChangeSaleDate(m *mutation) (Result, error) {
	ctx := context.WithoutCancel(m.ctx)
	sess := e.Snapshot()

	if err := requireEditable(m.op, sess); err != nil {
		return Result{}, err
	}
	if _, err := sale.ParseDate(m.date); err != nil {
		return Result{}, sale.NewValidationError(m.op, err.Error())
	}

	updated, err := e.svc.UpdateSale(ctx, sess.Sale.ID, facade.UpdateSaleRequest{
		SaleDate: m.date,
	})
	if err != nil {
		return Result{}, err
	}

	sess.applySale(updated)
	e.commit(sess)
	e.journalApplied(m, OutcomeUpdated, e.outcomeFor(sess), sess, sess.selectedID())
	e.refreshRegistry(ctx)

	return Result{
		Op:      m.op,
		Outcome: OutcomeUpdated,
		Sale:    sess.Sale,
		Session: sess.Snapshot(),
	}, nil
}

// doSetClient picks the client for the next provisioned sale. Local
// only; a sale already bound keeps its client.
func (e *Engine) doSetClient(m *mutation) (Result, error) {
	sess := e.Snapshot()

	sess.ClientID = nil
	if m.clientID != nil {
		id := *m.clientID
		sess.ClientID = &id
	}

	e.commit(sess)
	e.journalApplied(m, OutcomeUpdated, e.outcomeFor(sess), sess, sess.selectedID())

	return Result{
		Op:      m.op,
		Outcome: OutcomeUpdated,
		Sale:    sess.Sale,
		Session: sess.Snapshot(),
	}, nil
}

// doSetDiscount sets the session discount for the displayed total.
func (e *Engine) doSetDiscount(m *mutation) (Result, error) {
	sess := e.Snapshot()

	if !m.discountType.Valid() {
		return Result{}, sale.NewValidationError(m.op, fmt.Sprintf("unknown discount type %q", m.discountType))
	}
	if m.discount.IsNegative() {
		return Result{}, sale.NewValidationError(m.op, "discount must not be negative")
	}
	if m.discountType == DiscountPercent && m.discount.GreaterThan(hundredPercent) {
		return Result{}, sale.NewValidationError(m.op, "percent discount cannot exceed 100")
	}

	sess.DiscountAmount = m.discount
	sess.DiscountType = m.discountType

	e.commit(sess)
	e.journalApplied(m, OutcomeUpdated, e.outcomeFor(sess), sess, sess.selectedID())

	return Result{
		Op:      m.op,
		Outcome: OutcomeUpdated,
		Sale:    sess.Sale,
		Session: sess.Snapshot(),
	}, nil
}

// doStartNewSale clears the session, client included.
func (e *Engine) doStartNewSale(m *mutation) (Result, error) {
	sess := e.Snapshot()
	sess.resetForNewSale()

	e.commit(sess)
	e.journalApplied(m, OutcomeReset, e.outcomeFor(sess), sess, sess.selectedID())

	return Result{
		Op:      m.op,
		Outcome: OutcomeReset,
		Session: sess.Snapshot(),
	}, nil
}

// doRehydrate restores the session from the latest journal snapshot.
// The snapshot hash is verified, the sequence clock is advanced past
// everything journaled, and a bound sale is reloaded from the server
// so the restored session reflects current truth. Rehydration itself
// is not journaled.
func (e *Engine) doRehydrate(m *mutation) (Result, error) {
	if e.journal == nil {
		return Result{}, sale.NewValidationError(m.op, "no journal configured")
	}

	ctx := context.WithoutCancel(m.ctx)

	rec, found, err := e.journal.LastSnapshot(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("rehydrate: %w", err)
	}
	if !found {
		return Result{
			Op:      m.op,
			Outcome: OutcomeRehydrated,
			Session: e.Snapshot(),
		}, nil
	}

	if sale.SnapshotHashBytes(rec.Session) != rec.Hash {
		return Result{}, fmt.Errorf("rehydrate: snapshot hash mismatch at seq %d", rec.Seq)
	}

	var snap sessionSnapshot
	if err := json.Unmarshal(rec.Session, &snap); err != nil {
		return Result{}, fmt.Errorf("rehydrate: decode snapshot at seq %d: %w", rec.Seq, err)
	}

	lastSeq, err := e.journal.LastSeq(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("rehydrate: %w", err)
	}
	e.clock.AdvanceTo(lastSeq)

	fresh := newSession()
	if snap.ClientID != 0 {
		id := snap.ClientID
		fresh.ClientID = &id
	}

	if snap.SaleID != 0 {
		srv, err := e.svc.GetSale(ctx, snap.SaleID)
		switch {
		case sale.IsNotFound(err):
			// The sale vanished server-side; start over.
			fresh = newSession()
		case err != nil:
			return Result{}, err
		default:
			fresh.applySale(srv)
			// Lines the snapshot recorded as unacknowledged never
			// reached the server; carry them so the next add replays
			// them. Lines the server meanwhile knows about are not
			// duplicated.
			for _, ln := range snap.Lines {
				if ln.LineID != 0 {
					continue
				}
				if _, ok := fresh.lineByProduct(ln.ProductID); ok {
					continue
				}
				fresh.Lines = append(fresh.Lines, sale.Item{
					ProductID: ln.ProductID,
					Name:      ln.Name,
					Quantity:  ln.Quantity,
					UnitPrice: ln.UnitPrice,
				})
			}
			fresh.DiscountAmount = snap.DiscountAmount
			if dt := DiscountType(snap.DiscountType); dt.Valid() {
				fresh.DiscountType = dt
			}
			fresh.EditingExisting = snap.EditingExisting
		}
	} else {
		// No sale was bound; restore any unacknowledged lines so the
		// next add replays them.
		for _, ln := range snap.Lines {
			if ln.LineID != 0 {
				continue
			}
			fresh.Lines = append(fresh.Lines, sale.Item{
				ProductID: ln.ProductID,
				Name:      ln.Name,
				Quantity:  ln.Quantity,
				UnitPrice: ln.UnitPrice,
			})
		}
		fresh.DiscountAmount = snap.DiscountAmount
		if dt := DiscountType(snap.DiscountType); dt.Valid() {
			fresh.DiscountType = dt
		}
	}

	e.commit(fresh)
	e.refreshRegistry(ctx)

	slog.Info("session rehydrated",
		"seq", rec.Seq,
		"state", fresh.State,
		"sale_id", fresh.selectedID(),
		"lines", len(fresh.Lines),
	)

	return Result{
		Op:      m.op,
		Outcome: OutcomeRehydrated,
		Sale:    fresh.Sale,
		Session: fresh.Snapshot(),
	}, nil
}

// outcomeFor renders the common journal outcome payload.
func (e *Engine) outcomeFor(sess Session) map[string]any {
	return map[string]any{
		"sale_id":      sess.selectedID(),
		"state":        string(sess.State),
		"total_amount": sess.Total(),
	}
}

// journalApplied records an applied mutation and the resulting session
// snapshot. saleID is the sale the op affected, which is not always
// the sale the session ends up bound to: a cancel records the old id
// against a now-empty session. Journal failures are logged and
// swallowed; the session and the server already agree, and losing one
// audit row must not fail the mutation.
func (e *Engine) journalApplied(m *mutation, outcome Outcome, payload map[string]any, sess Session, saleID int64) {
	e.journalRecord(m, string(outcome), payload, sess, saleID)
}

// journalFailed records a failed mutation with the session it left
// behind.
func (e *Engine) journalFailed(m *mutation, opErr error, sess Session) {
	e.journalRecord(m, errorCase(opErr), map[string]any{
		"error": opErr.Error(),
	}, sess, sess.selectedID())
}

func (e *Engine) journalRecord(m *mutation, outputCase string, payload map[string]any, sess Session, saleID int64) {
	if e.journal == nil {
		return
	}
	ctx := context.WithoutCancel(m.ctx)
	seq := e.clock.Next()

	args, err := sale.MarshalCanonical(m.argsMap())
	if err != nil {
		slog.Warn("journal skipped: encode args", "op", m.op, "error", err)
		return
	}
	id, err := sale.OpID(m.token, m.op, m.argsMap(), seq)
	if err != nil {
		slog.Warn("journal skipped: op id", "op", m.op, "error", err)
		return
	}
	outcome, err := sale.MarshalCanonical(payload)
	if err != nil {
		slog.Warn("journal skipped: encode outcome", "op", m.op, "error", err)
		return
	}

	if _, err := e.journal.AppendOp(ctx, journal.OpRecord{
		ID:         id,
		Token:      m.token,
		Op:         m.op,
		Args:       args,
		OutputCase: outputCase,
		Outcome:    outcome,
		Seq:        seq,
		SaleID:     saleID,
		OperatorID: operatorID(m.ctx),
	}); err != nil {
		slog.Warn("journal append op failed", "op", m.op, "seq", seq, "error", err)
		return
	}

	session, err := sale.MarshalCanonical(sess.canonicalMap())
	if err != nil {
		slog.Warn("journal skipped: encode session", "op", m.op, "error", err)
		return
	}
	if _, err := e.journal.AppendSnapshot(ctx, journal.SnapshotRecord{
		Seq:     seq,
		OpID:    id,
		State:   string(sess.State),
		SaleID:  sess.selectedID(),
		Session: session,
		Hash:    sale.SnapshotHashBytes(session),
	}); err != nil {
		slog.Warn("journal append snapshot failed", "op", m.op, "seq", seq, "error", err)
	}
}

// errorCase maps an error to its journal output case.
func errorCase(err error) string {
	var se *sale.Error
	if errors.As(err, &se) {
		return string(se.Kind)
	}
	return "ERROR"
}

// operatorID extracts the operator attribution from the caller's
// context, zero when unauthenticated.
func operatorID(ctx context.Context) int64 {
	if op, ok := identity.FromContext(ctx); ok {
		return op.ID
	}
	return 0
}

// refreshRegistry reloads the shared sale registry after a server
// change. Failures are logged, not surfaced: the mutation itself
// succeeded and the registry reloads on its next tick.
func (e *Engine) refreshRegistry(ctx context.Context) {
	if e.registry == nil {
		return
	}
	if err := e.registry.Refresh(ctx); err != nil {
		slog.Warn("registry refresh failed", "error", err)
	}
}
