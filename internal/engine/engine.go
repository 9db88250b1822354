package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alryyan1/salesync/internal/facade"
	"github.com/alryyan1/salesync/internal/finalizer"
	"github.com/alryyan1/salesync/internal/journal"
	"github.com/alryyan1/salesync/internal/registry"
	"github.com/alryyan1/salesync/internal/sale"
)

// ErrStopped is returned by mutation methods after Stop, and delivered
// to mutations still queued when Run exits.
var ErrStopped = errors.New("engine stopped")

// Engine coordinates one point-of-sale session against a SaleService.
// See the package documentation for the execution model.
type Engine struct {
	svc      facade.SaleService
	registry *registry.Registry
	fin      *finalizer.Finalizer
	journal  *journal.Journal
	clock    *opClock
	tokens   TokenGenerator
	queue    *mutationQueue

	mu      sync.Mutex
	session Session
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry attaches a sale registry; the engine refreshes it after
// every mutation that changes server state.
func WithRegistry(r *registry.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithFinalizer overrides the default settle policy.
func WithFinalizer(f *finalizer.Finalizer) Option {
	return func(e *Engine) { e.fin = f }
}

// WithJournal attaches an op journal. Without one the engine runs
// journal-free and Rehydrate returns an error.
func WithJournal(j *journal.Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithTokenGenerator overrides op token generation, for deterministic
// journal ids in tests.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(e *Engine) { e.tokens = g }
}

// WithSession seeds the starting session.
func WithSession(s Session) Option {
	return func(e *Engine) { e.session = s.Snapshot() }
}

// WithClockAt starts the sequence clock after seq.
func WithClockAt(seq int64) Option {
	return func(e *Engine) { e.clock = newOpClockAt(seq) }
}

// New creates an engine bound to the given sale service. Call Run to
// start processing mutations.
func New(svc facade.SaleService, opts ...Option) *Engine {
	e := &Engine{
		svc:     svc,
		fin:     finalizer.New(),
		clock:   newOpClock(),
		tokens:  UUIDTokens{},
		queue:   newMutationQueue(),
		session: newSession(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// mutation is one queued cart change. Only the fields the op uses are
// set; argsMap selects them for journaling.
type mutation struct {
	op    string
	token string
	ctx   context.Context
	reply chan opReply

	product      sale.Product
	productID    int64
	quantity     int64
	selected     *sale.Sale
	payment      facade.PaymentRequest
	date         string
	clientID     *int64
	discount     decimal.Decimal
	discountType DiscountType
}

type opReply struct {
	result Result
	err    error
}

// argsMap renders the op arguments for the journal. Keys are stable:
// they feed the content-addressed op id.
func (m *mutation) argsMap() map[string]any {
	switch m.op {
	case opAddProduct:
		return map[string]any{
			"product_id": m.product.ID,
			"sku":        m.product.SKU,
			"quantity":   int64(1),
			"unit_price": m.product.UnitPrice(),
		}
	case opUpdateQuantity:
		return map[string]any{
			"product_id": m.productID,
			"quantity":   m.quantity,
		}
	case opRemoveProduct:
		return map[string]any{"product_id": m.productID}
	case opSelectSale:
		return map[string]any{"sale_id": m.selected.ID}
	case opFinalizePayment:
		return map[string]any{
			"method":       string(m.payment.Method),
			"amount":       m.payment.Amount,
			"payment_date": m.payment.PaymentDate,
			"reference":    m.payment.Reference,
		}
	case opChangeSaleDate:
		return map[string]any{"date": m.date}
	case opSetClient:
		var id int64
		if m.clientID != nil {
			id = *m.clientID
		}
		return map[string]any{"client_id": id}
	case opSetDiscount:
		return map[string]any{
			"amount": m.discount,
			"type":   string(m.discountType),
		}
	default:
		return map[string]any{}
	}
}

// AddProduct adds one unit of the product to the cart, provisioning a
// sale first if the session is empty. Adding a product the sale
// already carries resolves with OutcomeAlreadyExists and no change.
func (e *Engine) AddProduct(ctx context.Context, p sale.Product) (Result, error) {
	return e.submit(ctx, &mutation{op: opAddProduct, product: p})
}

// UpdateQuantity sets the quantity of the product's line. A quantity
// of zero or less removes the line instead; the server never sees a
// non-positive quantity update.
func (e *Engine) UpdateQuantity(ctx context.Context, productID, quantity int64) (Result, error) {
	return e.submit(ctx, &mutation{op: opUpdateQuantity, productID: productID, quantity: quantity})
}

// RemoveProduct removes the product's line. Removing the last line
// cancels the sale server-side and resets the session.
func (e *Engine) RemoveProduct(ctx context.Context, productID int64) (Result, error) {
	return e.submit(ctx, &mutation{op: opRemoveProduct, productID: productID})
}

// SelectSale replaces the session with an existing sale. Replacement
// is total: previous lines, discount, and editing flag are discarded,
// never merged.
func (e *Engine) SelectSale(ctx context.Context, s sale.Sale) (Result, error) {
	clone := s.Clone()
	return e.submit(ctx, &mutation{op: opSelectSale, selected: &clone})
}

// FinalizePayment records a payment against the bound sale. On full
// settlement the finalizer decides whether the session keeps the sale
// for the receipt or starts fresh.
func (e *Engine) FinalizePayment(ctx context.Context, req facade.PaymentRequest) (Result, error) {
	return e.submit(ctx, &mutation{op: opFinalizePayment, payment: req})
}

// ChangeSaleDate re-dates the bound sale.
func (e *Engine) ChangeSaleDate(ctx context.Context, date string) (Result, error) {
	return e.submit(ctx, &mutation{op: opChangeSaleDate, date: date})
}

// SetClient chooses the client for the next created sale. Nil selects
// a walk-in. Local until a sale is provisioned.
func (e *Engine) SetClient(ctx context.Context, clientID *int64) (Result, error) {
	return e.submit(ctx, &mutation{op: opSetClient, clientID: clientID})
}

// SetDiscount sets the session discount used for the displayed total.
// The server total is never adjusted.
func (e *Engine) SetDiscount(ctx context.Context, amount decimal.Decimal, dtype DiscountType) (Result, error) {
	return e.submit(ctx, &mutation{op: opSetDiscount, discount: amount, discountType: dtype})
}

// StartNewSale clears the session, client included.
func (e *Engine) StartNewSale(ctx context.Context) (Result, error) {
	return e.submit(ctx, &mutation{op: opStartNewSale})
}

// Rehydrate restores the session from the latest journal snapshot,
// verifying the snapshot hash and reloading the bound sale from the
// server. Requires a journal.
func (e *Engine) Rehydrate(ctx context.Context) (Result, error) {
	return e.submit(ctx, &mutation{op: opRehydrate})
}

// Snapshot returns a copy of the current session. Safe to call from
// any goroutine, including while mutations are in flight; the snapshot
// is the state as of the last committed mutation.
func (e *Engine) Snapshot() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Snapshot()
}

// QueueLen returns the number of mutations waiting to run.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Stop rejects further mutations. Run drains what is already queued
// and then returns.
func (e *Engine) Stop() {
	e.queue.Close()
}

// submit enqueues the mutation and waits for its result.
func (e *Engine) submit(ctx context.Context, m *mutation) (Result, error) {
	m.token = e.tokens.Generate()
	m.ctx = ctx
	m.reply = make(chan opReply, 1)

	if !e.queue.Enqueue(m) {
		return Result{}, ErrStopped
	}

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-m.reply:
		return r.result, r.err
	}
}

// Run processes mutations until ctx is cancelled or Stop is called.
// After Stop it drains the queue before returning; after cancellation
// it fails anything still queued with ErrStopped.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if m := e.queue.TryDequeue(); m != nil {
			e.process(m)
			continue
		}

		// Closed with a non-empty queue means a mutation slipped in
		// just before Close; go back and drain it.
		if e.queue.Closed() {
			if e.queue.Len() == 0 {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.queue.Close()
			e.failPending(ErrStopped)
			return ctx.Err()
		case <-e.queue.Wait():
		}
	}
}

// failPending drains the queue, replying err to every waiter.
func (e *Engine) failPending(err error) {
	for {
		m := e.queue.TryDequeue()
		if m == nil {
			return
		}
		m.reply <- opReply{err: err}
	}
}

// process runs one mutation and delivers its reply.
func (e *Engine) process(m *mutation) {
	// The caller may have given up while queued; do not touch the
	// server for a mutation nobody is waiting on.
	if err := m.ctx.Err(); err != nil {
		m.reply <- opReply{err: err}
		return
	}

	res, err := e.execute(m)
	if err != nil {
		slog.Error("mutation failed",
			"op", m.op,
			"token", m.token,
			"error", err,
		)
		// Failures are part of the audit trail too, with the session
		// they left behind. Rehydrate is exempt: when it fails the
		// journal itself is suspect.
		if m.op != opRehydrate {
			e.journalFailed(m, err, e.Snapshot())
		}
	} else {
		slog.Info("mutation applied",
			"op", m.op,
			"outcome", res.Outcome,
			"state", res.Session.State,
			"sale_id", res.Session.selectedID(),
			"token", m.token,
		)
	}
	m.reply <- opReply{result: res, err: err}
}

func (e *Engine) execute(m *mutation) (Result, error) {
	switch m.op {
	case opAddProduct:
		return e.doAddProduct(m)
	case opUpdateQuantity:
		return e.doUpdateQuantity(m)
	case opRemoveProduct:
		return e.doRemoveProduct(m)
	case opSelectSale:
		return e.doSelectSale(m)
	case opFinalizePayment:
		return e.doFinalizePayment(m)
	case opChangeSaleDate:
		return e.doChangeSaleDate(m)
	case opSetClient:
		return e.doSetClient(m)
	case opSetDiscount:
		return e.doSetDiscount(m)
	case opStartNewSale:
		return e.doStartNewSale(m)
	case opRehydrate:
		return e.doRehydrate(m)
	default:
		return Result{}, sale.NewValidationError(m.op, "unknown operation")
	}
}

// commit installs the session as the engine's current state.
func (e *Engine) commit(s Session) {
	e.mu.Lock()
	e.session = s
	e.mu.Unlock()
}
