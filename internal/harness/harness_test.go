package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(n int) *int { return &n }

func pharmacyCatalog() []ProductDef {
	return []ProductDef{
		{ID: 42, SKU: "PARA-500", Name: "Paracetamol 500mg", LastSalePrice: "12.50", SuggestedPrice: "15.00"},
		{ID: 43, SKU: "IBU-400", Name: "Ibuprofen 400mg", SuggestedPrice: "8.75"},
	}
}

func runScenario(t *testing.T, scenario *Scenario) *Result {
	t.Helper()
	result, err := New().Run(context.Background(), scenario)
	require.NoError(t, err)
	return result
}

func TestRunShippedLifecycleScenario(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/idempotent_add_lifecycle.yaml")
	require.NoError(t, err)

	result := runScenario(t, scenario)

	require.Empty(t, result.Errors)
	assert.True(t, result.Pass)
	assert.Len(t, result.Trace, 8)
	assert.Equal(t, "empty", result.Final["state"])
	assert.Equal(t, 0, result.Final["lines"])
}

func TestRunTracesRealOutcomes(t *testing.T) {
	scenario := &Scenario{
		Name:        "duplicate_add",
		Description: "two adds of the same product yield created then already_exists",
		Catalog:     pharmacyCatalog(),
		Steps: []Step{
			{Op: OpAddProduct, Args: map[string]interface{}{"sku": "PARA-500"}},
			{Op: OpAddProduct, Args: map[string]interface{}{"sku": "PARA-500"}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Op: OpAddProduct, Count: 2},
		},
	}

	result := runScenario(t, scenario)

	require.Empty(t, result.Errors)
	require.Len(t, result.Trace, 4)

	first := result.Trace[1]
	assert.Equal(t, TraceOutcome, first.Type)
	assert.Equal(t, "created", first.Outcome)
	assert.Equal(t, "active", first.State)
	assert.Equal(t, int64(501), first.SaleID)
	assert.Equal(t, "12.5", first.Total)
	assert.Equal(t, int64(2), first.Seq)

	second := result.Trace[3]
	assert.Equal(t, "already_exists", second.Outcome)
	assert.Equal(t, "12.5", second.Total)
}

func TestRunExpectedFailureKeepsSession(t *testing.T) {
	scenario := &Scenario{
		Name:        "update_unknown_line",
		Description: "updating a product that was never added fails without touching the cart",
		Catalog:     pharmacyCatalog(),
		Steps: []Step{
			{Op: OpAddProduct, Args: map[string]interface{}{"sku": "PARA-500"}},
			{
				Op:     OpUpdateQuantity,
				Args:   map[string]interface{}{"sku": "IBU-400", "quantity": 2},
				Expect: &ExpectClause{Error: "ITEM_NOT_FOUND", State: "active", Lines: intp(1), Total: "12.50"},
			},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Expect: map[string]interface{}{
				"state": "active",
				"lines": 1,
				"total": "12.5",
			}},
		},
	}

	result := runScenario(t, scenario)

	require.Empty(t, result.Errors)
	assert.True(t, result.Pass)

	failure := result.Trace[3]
	assert.Equal(t, "ITEM_NOT_FOUND", failure.Error)
	assert.Equal(t, "active", failure.State)
}

func TestRunUnexpectedFailureFailsScenario(t *testing.T) {
	scenario := &Scenario{
		Name:        "update_without_sale",
		Description: "a bare update has no sale to act on",
		Catalog:     pharmacyCatalog(),
		Steps: []Step{
			{Op: OpUpdateQuantity, Args: map[string]interface{}{"sku": "PARA-500", "quantity": 2}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Op: OpUpdateQuantity, Count: 1},
		},
	}

	result := runScenario(t, scenario)

	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "steps[0]")
	assert.Contains(t, result.Errors[0], "update_quantity failed")
}

func TestRunWrongOutcomeReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_outcome",
		Description: "an expect mismatch is reported with both outcomes",
		Catalog:     pharmacyCatalog(),
		Steps: []Step{
			{
				Op:     OpAddProduct,
				Args:   map[string]interface{}{"sku": "PARA-500"},
				Expect: &ExpectClause{Outcome: "updated"},
			},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Op: OpAddProduct, Count: 1},
		},
	}

	result := runScenario(t, scenario)

	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "expected outcome updated, got created")
}

func TestRunSettlement(t *testing.T) {
	scenario := &Scenario{
		Name:        "full_settlement",
		Description: "a covering payment completes the sale and keeps it for the receipt",
		Verifies:    []string{"settlement"},
		Catalog:     pharmacyCatalog(),
		Steps: []Step{
			{Op: OpAddProduct, Args: map[string]interface{}{"sku": "PARA-500"}},
			{Op: OpAddProduct, Args: map[string]interface{}{"sku": "IBU-400"}},
			{
				Op:     OpFinalizePayment,
				Args:   map[string]interface{}{"method": "cash", "amount": "21.25"},
				Expect: &ExpectClause{Outcome: "settled", State: "settled", Lines: intp(0)},
			},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Expect: map[string]interface{}{
				"state":       "settled",
				"sale_status": "completed",
				"paid":        "21.25",
				"due":         "0",
			}},
		},
	}

	result := runScenario(t, scenario)
	require.Empty(t, result.Errors)
	assert.True(t, result.Pass)
}

func TestRunSettlementStartsFreshWithoutAutoReceipt(t *testing.T) {
	off := false
	scenario := &Scenario{
		Name:        "settlement_starts_fresh",
		Description: "with auto-receipt off, settling clears the session for the next customer",
		Catalog:     pharmacyCatalog(),
		AutoReceipt: &off,
		Steps: []Step{
			{Op: OpAddProduct, Args: map[string]interface{}{"sku": "PARA-500"}},
			{
				Op:     OpFinalizePayment,
				Args:   map[string]interface{}{"method": "cash", "amount": "12.50"},
				Expect: &ExpectClause{Outcome: "settled", State: "empty", Lines: intp(0)},
			},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Expect: map[string]interface{}{"state": "empty", "lines": 0}},
		},
	}

	result := runScenario(t, scenario)
	require.Empty(t, result.Errors)
}

func TestRunPartialPayment(t *testing.T) {
	scenario := &Scenario{
		Name:        "partial_payment",
		Description: "an undercovering payment leaves the sale pending with a balance",
		Verifies:    []string{"partial_payment"},
		Catalog:     pharmacyCatalog(),
		Steps: []Step{
			{Op: OpAddProduct, Args: map[string]interface{}{"sku": "PARA-500"}},
			{
				Op:     OpFinalizePayment,
				Args:   map[string]interface{}{"method": "bank", "amount": "5.00", "reference": "TRX-1009"},
				Expect: &ExpectClause{Outcome: "updated", State: "active"},
			},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Expect: map[string]interface{}{
				"sale_status": "pending",
				"paid":        "5",
				"due":         "7.5",
			}},
		},
	}

	result := runScenario(t, scenario)
	require.Empty(t, result.Errors)
}

func TestRunRejectedPayment(t *testing.T) {
	scenario := &Scenario{
		Name:        "overpayment_rejected",
		Description: "a payment above the amount due is refused and nothing is recorded",
		Verifies:    []string{"no_retry"},
		Catalog:     pharmacyCatalog(),
		Steps: []Step{
			{Op: OpAddProduct, Args: map[string]interface{}{"sku": "PARA-500"}},
			{
				Op:     OpFinalizePayment,
				Args:   map[string]interface{}{"method": "cash", "amount": "100.00"},
				Expect: &ExpectClause{Error: "VALIDATION_FAILURE", State: "active"},
			},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Expect: map[string]interface{}{
				"sale_status": "pending",
				"paid":        "0",
				"due":         "12.5",
			}},
		},
	}

	result := runScenario(t, scenario)
	require.Empty(t, result.Errors)
	assert.Equal(t, 1, countPayments(result))
}

// countPayments counts finalize_payment op events, a proxy for "the
// engine tried exactly once".
func countPayments(result *Result) int {
	n := 0
	for _, ev := range result.Trace {
		if ev.Type == TraceOp && ev.Op == OpFinalizePayment {
			n++
		}
	}
	return n
}

func TestRunSelectSaleResumesEditing(t *testing.T) {
	scenario := &Scenario{
		Name:        "resume_pending_sale",
		Description: "a pending sale abandoned for a new cart can be reselected",
		Catalog:     pharmacyCatalog(),
		Steps: []Step{
			{Op: OpAddProduct, Args: map[string]interface{}{"sku": "PARA-500"}},
			{Op: OpStartNewSale, Expect: &ExpectClause{Outcome: "reset", State: "empty"}},
			{
				Op:     OpSelectSale,
				Args:   map[string]interface{}{"sale_id": 501},
				Expect: &ExpectClause{Outcome: "selected", State: "active", Lines: intp(1)},
			},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Expect: map[string]interface{}{
				"sale_id":          501,
				"editing_existing": true,
			}},
		},
	}

	result := runScenario(t, scenario)
	require.Empty(t, result.Errors)
}

func TestRunSelectMissingSale(t *testing.T) {
	scenario := &Scenario{
		Name:        "select_missing_sale",
		Description: "selecting a sale the server never issued fails cleanly",
		Catalog:     pharmacyCatalog(),
		Steps: []Step{
			{
				Op:     OpSelectSale,
				Args:   map[string]interface{}{"sale_id": 999},
				Expect: &ExpectClause{Error: "NOT_FOUND", State: "empty"},
			},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Expect: map[string]interface{}{"state": "empty"}},
		},
	}

	result := runScenario(t, scenario)
	require.Empty(t, result.Errors)
}

func TestRunLocalAdjustments(t *testing.T) {
	scenario := &Scenario{
		Name:        "discount_and_client",
		Description: "discount and client shape the display without touching the server total",
		Verifies:    []string{"local_adjustments"},
		Catalog:     pharmacyCatalog(),
		Steps: []Step{
			{Op: OpAddProduct, Args: map[string]interface{}{"sku": "PARA-500"}},
			{
				Op:     OpSetDiscount,
				Args:   map[string]interface{}{"amount": "2.50", "type": "fixed"},
				Expect: &ExpectClause{Outcome: "updated", Total: "12.50"},
			},
			{Op: OpSetClient, Args: map[string]interface{}{"client_id": 12}, Expect: &ExpectClause{Outcome: "updated"}},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Expect: map[string]interface{}{
				"total":           "12.5",
				"discount_amount": "2.5",
				"discount_type":   "fixed",
				"display_total":   "10",
				"client_id":       12,
			}},
		},
	}

	result := runScenario(t, scenario)
	require.Empty(t, result.Errors)
}

func TestRunChangeSaleDate(t *testing.T) {
	scenario := &Scenario{
		Name:        "backdate_sale",
		Description: "a pending sale's business date can be corrected",
		Verifies:    []string{"date_repair"},
		Catalog:     pharmacyCatalog(),
		Steps: []Step{
			{Op: OpAddProduct, Args: map[string]interface{}{"sku": "PARA-500"}},
			{
				Op:     OpChangeSaleDate,
				Args:   map[string]interface{}{"date": "2025-06-01"},
				Expect: &ExpectClause{Outcome: "updated", State: "active"},
			},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Expect: map[string]interface{}{"sale_id": 501}},
		},
	}

	result := runScenario(t, scenario)
	require.Empty(t, result.Errors)
}

func TestRunUnknownProductAborts(t *testing.T) {
	scenario := &Scenario{
		Name:        "unknown_sku",
		Description: "a step referencing a product outside the catalog is a scenario bug",
		Catalog:     pharmacyCatalog(),
		Steps: []Step{
			{Op: OpAddProduct, Args: map[string]interface{}{"sku": "NOPE-1"}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Op: OpAddProduct, Count: 1},
		},
	}

	_, err := New().Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steps[0]")
	assert.Contains(t, err.Error(), "not in the scenario catalog")
}

func TestRunFloatArgRejected(t *testing.T) {
	scenario := &Scenario{
		Name:        "float_quantity",
		Description: "floats in args are refused to keep traces exact",
		Catalog:     pharmacyCatalog(),
		Steps: []Step{
			{Op: OpAddProduct, Args: map[string]interface{}{"sku": "PARA-500"}},
			{Op: OpUpdateQuantity, Args: map[string]interface{}{"sku": "PARA-500", "quantity": 1.5}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Op: OpAddProduct, Count: 1},
		},
	}

	_, err := New().Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steps[1]")
	assert.Contains(t, err.Error(), "floats are forbidden")
}

func TestRunInvalidScenarioRejected(t *testing.T) {
	scenario := &Scenario{Name: "nameless"}

	_, err := New().Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid scenario")
}

func TestRunIsRepeatable(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/idempotent_add_lifecycle.yaml")
	require.NoError(t, err)

	first := runScenario(t, scenario)
	second := runScenario(t, scenario)

	require.Empty(t, first.Errors)
	require.Empty(t, second.Errors)
	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Final, second.Final)
}
