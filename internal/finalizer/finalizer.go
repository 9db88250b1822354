// Package finalizer decides the post-settlement workflow.
//
// The decision is about workflow, not sale-state correctness: whether
// the terminal keeps the settled sale selected so a receipt can be
// printed, or resets for the next customer. Sale state itself is
// already final by the time the finalizer runs, which is why this
// logic stays out of the sync engine's mutation paths.
package finalizer

import (
	"log/slog"

	"github.com/alryyan1/salesync/internal/sale"
)

// Completion describes a just-settled sale.
type Completion struct {
	// Sale is the settled sale as returned by the server.
	Sale sale.Sale

	// WasEditing reports whether the operator had selected an existing
	// sale, as opposed to building a fresh one this session.
	WasEditing bool
}

// Decision is the finalizer's instruction to the engine.
type Decision int

const (
	// KeepForReceipt retains the settled sale as the session selection
	// with cart lines cleared, so the receipt can be printed.
	KeepForReceipt Decision = iota

	// StartFresh resets the session for the next customer.
	StartFresh
)

func (d Decision) String() string {
	switch d {
	case KeepForReceipt:
		return "keep_for_receipt"
	case StartFresh:
		return "start_fresh"
	}
	return "unknown"
}

// Finalizer picks between the receipt workflow and a fresh session.
type Finalizer struct {
	autoReceipt bool
}

// Option configures a Finalizer.
type Option func(*Finalizer)

// WithAutoReceipt controls whether a settled sale stays selected for
// receipt printing. Enabled unless turned off.
func WithAutoReceipt(enabled bool) Option {
	return func(f *Finalizer) {
		f.autoReceipt = enabled
	}
}

// New creates a finalizer. The receipt workflow is on unless
// WithAutoReceipt(false) is given.
func New(opts ...Option) *Finalizer {
	f := &Finalizer{autoReceipt: true}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Decide picks the workflow for a settled sale.
func (f *Finalizer) Decide(c Completion) Decision {
	if f.autoReceipt {
		slog.Debug("sale settled, keeping selection for receipt",
			"sale_id", c.Sale.ID, "order", c.Sale.OrderNumber, "was_editing", c.WasEditing)
		return KeepForReceipt
	}
	slog.Debug("sale settled, starting fresh session",
		"sale_id", c.Sale.ID, "order", c.Sale.OrderNumber)
	return StartFresh
}
