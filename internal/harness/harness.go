package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alryyan1/salesync/internal/catalog"
	"github.com/alryyan1/salesync/internal/engine"
	"github.com/alryyan1/salesync/internal/facade"
	"github.com/alryyan1/salesync/internal/finalizer"
	"github.com/alryyan1/salesync/internal/identity"
	"github.com/alryyan1/salesync/internal/registry"
	"github.com/alryyan1/salesync/internal/sale"
	"github.com/alryyan1/salesync/internal/testutil"
)

// scenarioEpoch is the frozen wall clock every scenario runs at. Sale
// dates, payment dates, and created-at stamps all derive from it, so
// traces are identical across runs and machines.
var scenarioEpoch = time.Date(2025, time.June, 2, 9, 30, 0, 0, time.UTC)

// Harness executes scenarios against a real engine wired to the
// in-memory sale service. Every run gets a fresh service, registry,
// finalizer, and engine, so scenarios cannot contaminate each other.
type Harness struct {
	logger *slog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger used for step-level debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// New creates a harness. Logging is discarded unless WithLogger is
// given.
func New(opts ...Option) *Harness {
	h := &Harness{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes the scenario and returns its result. An error means the
// scenario itself is unusable (bad YAML, unknown product in a step);
// expectation and assertion failures land in the result instead.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	cat, err := buildCatalog(scenario.Catalog)
	if err != nil {
		return nil, err
	}

	svc := facade.NewMemory(facade.WithNow(func() time.Time { return scenarioEpoch }))
	autoReceipt := scenario.AutoReceipt == nil || *scenario.AutoReceipt
	eng := engine.New(svc,
		engine.WithRegistry(registry.New(svc)),
		engine.WithFinalizer(finalizer.New(finalizer.WithAutoReceipt(autoReceipt))),
		engine.WithTokenGenerator(testutil.NewSequenceTokens(scenario.TokenPrefix)),
	)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- eng.Run(runCtx)
	}()
	defer func() {
		eng.Stop()
		<-done
	}()

	if scenario.Operator != nil {
		ctx = identity.WithOperator(ctx, identity.Operator{
			ID:   scenario.Operator.ID,
			Name: scenario.Operator.Name,
			Role: scenario.Operator.Role,
		})
	}

	result := NewResult()
	clock := testutil.NewSequenceClock()

	for i, step := range scenario.Steps {
		call, err := bindStep(eng, cat, svc, step)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}

		h.logger.Debug("executing step", "index", i, "op", step.Op)
		result.AddOpTrace(step.Op, step.Args, clock.Next())

		res, opErr := call(ctx)
		sess := res.Session
		if opErr != nil {
			sess = eng.Snapshot()
			result.AddFailureTrace(errorKind(opErr), sess, clock.Next())
		} else {
			result.AddOutcomeTrace(string(res.Outcome), sess, clock.Next())
		}

		evaluateExpect(result, i, step, string(res.Outcome), sess, opErr)
	}

	result.Final = finalStateMap(eng.Snapshot())

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}

	return result, nil
}

// buildCatalog turns the scenario's product definitions into a frozen
// catalog.
func buildCatalog(defs []ProductDef) (*catalog.Catalog, error) {
	products := make([]sale.Product, 0, len(defs))
	for i, def := range defs {
		p := sale.Product{ID: def.ID, SKU: def.SKU, Name: def.Name}
		var err error
		if def.LastSalePrice != "" {
			if p.LastSalePrice, err = decimal.NewFromString(def.LastSalePrice); err != nil {
				return nil, fmt.Errorf("catalog[%d]: invalid last_sale_price: %w", i, err)
			}
		}
		if def.SuggestedPrice != "" {
			if p.SuggestedPrice, err = decimal.NewFromString(def.SuggestedPrice); err != nil {
				return nil, fmt.Errorf("catalog[%d]: invalid suggested_price: %w", i, err)
			}
		}
		products = append(products, p)
	}

	cat, err := catalog.FromProducts(products)
	if err != nil {
		return nil, fmt.Errorf("invalid scenario catalog: %w", err)
	}
	return cat, nil
}

// stepCall is a bound step, ready to run against the engine.
type stepCall func(ctx context.Context) (engine.Result, error)

// bindStep resolves a step's args against the catalog and returns the
// engine call to make. A bind error means the scenario is malformed,
// not that the operation failed.
func bindStep(eng *engine.Engine, cat *catalog.Catalog, svc facade.SaleService, step Step) (stepCall, error) {
	switch step.Op {
	case OpAddProduct:
		p, err := stepProduct(cat, step.Args)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (engine.Result, error) {
			return eng.AddProduct(ctx, p)
		}, nil

	case OpUpdateQuantity:
		p, err := stepProduct(cat, step.Args)
		if err != nil {
			return nil, err
		}
		qty, err := argInt(step.Args, "quantity")
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (engine.Result, error) {
			return eng.UpdateQuantity(ctx, p.ID, qty)
		}, nil

	case OpRemoveProduct:
		p, err := stepProduct(cat, step.Args)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (engine.Result, error) {
			return eng.RemoveProduct(ctx, p.ID)
		}, nil

	case OpSelectSale:
		id, err := argInt(step.Args, "sale_id")
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (engine.Result, error) {
			sv, err := svc.GetSale(ctx, id)
			if err != nil {
				return engine.Result{}, err
			}
			return eng.SelectSale(ctx, sv)
		}, nil

	case OpFinalizePayment:
		method, err := argString(step.Args, "method")
		if err != nil {
			return nil, err
		}
		amount, err := argDecimal(step.Args, "amount")
		if err != nil {
			return nil, err
		}
		req := facade.PaymentRequest{
			Method: sale.PaymentMethod(method),
			Amount: amount,
		}
		req.Reference, _ = optArgString(step.Args, "reference")
		req.Notes, _ = optArgString(step.Args, "notes")
		req.PaymentDate, _ = optArgString(step.Args, "payment_date")
		return func(ctx context.Context) (engine.Result, error) {
			return eng.FinalizePayment(ctx, req)
		}, nil

	case OpChangeSaleDate:
		date, err := argString(step.Args, "date")
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (engine.Result, error) {
			return eng.ChangeSaleDate(ctx, date)
		}, nil

	case OpSetClient:
		var clientID *int64
		if _, ok := step.Args["client_id"]; ok {
			id, err := argInt(step.Args, "client_id")
			if err != nil {
				return nil, err
			}
			clientID = &id
		}
		return func(ctx context.Context) (engine.Result, error) {
			return eng.SetClient(ctx, clientID)
		}, nil

	case OpSetDiscount:
		amount, err := argDecimal(step.Args, "amount")
		if err != nil {
			return nil, err
		}
		dtype := engine.DiscountFixed
		if s, ok := optArgString(step.Args, "type"); ok {
			dtype = engine.DiscountType(s)
		}
		return func(ctx context.Context) (engine.Result, error) {
			return eng.SetDiscount(ctx, amount, dtype)
		}, nil

	case OpStartNewSale:
		return func(ctx context.Context) (engine.Result, error) {
			return eng.StartNewSale(ctx)
		}, nil
	}

	return nil, fmt.Errorf("unknown op %q", step.Op)
}

// stepProduct resolves a step's product reference, by sku or by
// product_id, against the scenario catalog.
func stepProduct(cat *catalog.Catalog, args map[string]interface{}) (sale.Product, error) {
	if _, ok := args["sku"]; ok {
		sku, err := argString(args, "sku")
		if err != nil {
			return sale.Product{}, err
		}
		p, ok := cat.BySKU(sku)
		if !ok {
			return sale.Product{}, fmt.Errorf("sku %q is not in the scenario catalog", sku)
		}
		return p, nil
	}
	if _, ok := args["product_id"]; ok {
		id, err := argInt(args, "product_id")
		if err != nil {
			return sale.Product{}, err
		}
		p, ok := cat.ByID(id)
		if !ok {
			return sale.Product{}, fmt.Errorf("product id %d is not in the scenario catalog", id)
		}
		return p, nil
	}
	return sale.Product{}, fmt.Errorf("a sku or product_id arg is required")
}

func argString(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing arg %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("arg %q must be a string, got %T", key, v)
	}
	return s, nil
}

func optArgString(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func argInt(args map[string]interface{}, key string) (int64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing arg %q", key)
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return 0, fmt.Errorf("arg %q: floats are forbidden in scenarios, use an integer", key)
	default:
		return 0, fmt.Errorf("arg %q must be an integer, got %T", key, v)
	}
}

func argDecimal(args map[string]interface{}, key string) (decimal.Decimal, error) {
	v, ok := args[key]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("missing arg %q", key)
	}
	switch n := v.(type) {
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("arg %q: %w", key, err)
		}
		return d, nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case float64:
		return decimal.Decimal{}, fmt.Errorf("arg %q: floats are forbidden in scenarios, quote the amount as a string", key)
	default:
		return decimal.Decimal{}, fmt.Errorf("arg %q must be a quoted decimal string, got %T", key, v)
	}
}

// evaluateExpect checks a step's expectation against what actually
// happened. Session checks run even after an expected failure, so
// scenarios can pin the rolled-back state.
func evaluateExpect(result *Result, idx int, step Step, outcome string, sess engine.Session, opErr error) {
	exp := step.Expect
	if exp == nil {
		if opErr != nil {
			result.AddError(fmt.Sprintf("steps[%d]: %s failed: %v", idx, step.Op, opErr))
		}
		return
	}

	switch {
	case exp.Error != "" && opErr == nil:
		result.AddError(fmt.Sprintf("steps[%d]: expected error %s, got outcome %s", idx, exp.Error, outcome))
	case exp.Error != "":
		if kind := errorKind(opErr); kind != exp.Error {
			result.AddError(fmt.Sprintf("steps[%d]: expected error %s, got %s", idx, exp.Error, kind))
		}
	case opErr != nil:
		result.AddError(fmt.Sprintf("steps[%d]: %s failed: %v", idx, step.Op, opErr))
		return
	case exp.Outcome != "" && outcome != exp.Outcome:
		result.AddError(fmt.Sprintf("steps[%d]: expected outcome %s, got %s", idx, exp.Outcome, outcome))
	}

	if exp.State != "" && string(sess.State) != exp.State {
		result.AddError(fmt.Sprintf("steps[%d]: expected state %s, got %s", idx, exp.State, sess.State))
	}
	if exp.Lines != nil && len(sess.Lines) != *exp.Lines {
		result.AddError(fmt.Sprintf("steps[%d]: expected %d lines, got %d", idx, *exp.Lines, len(sess.Lines)))
	}
	if exp.Total != "" {
		want, err := decimal.NewFromString(exp.Total)
		switch {
		case err != nil:
			result.AddError(fmt.Sprintf("steps[%d]: invalid expected total %q", idx, exp.Total))
		case sess.Sale == nil:
			result.AddError(fmt.Sprintf("steps[%d]: expected total %s but session has no sale", idx, exp.Total))
		case !sess.Sale.TotalAmount.Equal(want):
			result.AddError(fmt.Sprintf("steps[%d]: expected total %s, got %s", idx, exp.Total, sess.Sale.TotalAmount))
		}
	}
}

// finalStateMap flattens the closing session snapshot into the map
// final_state assertions match against.
func finalStateMap(sess engine.Session) map[string]interface{} {
	m := map[string]interface{}{
		"state": string(sess.State),
		"lines": len(sess.Lines),
	}
	if sess.Sale != nil {
		m["sale_id"] = sess.Sale.ID
		m["order_number"] = sess.Sale.OrderNumber
		m["sale_status"] = string(sess.Sale.Status)
		m["total"] = sess.Sale.TotalAmount.String()
		m["paid"] = sess.Sale.PaidAmount.String()
		m["due"] = sess.Sale.DueAmount.String()
	}
	if sess.ClientID != nil {
		m["client_id"] = *sess.ClientID
	}
	if !sess.DiscountAmount.IsZero() {
		m["discount_amount"] = sess.DiscountAmount.String()
		m["discount_type"] = string(sess.DiscountType)
		m["display_total"] = sess.DisplayTotal().String()
	}
	if sess.EditingExisting {
		m["editing_existing"] = true
	}
	return m
}

// errorKind maps an op error to the stable kind scenarios match on.
// Errors outside the sale error model fall back to their message.
func errorKind(err error) string {
	var serr *sale.Error
	if errors.As(err, &serr) {
		return string(serr.Kind)
	}
	return err.Error()
}
