package harness

import (
	"bytes"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Op names accepted in scenario steps. They match the operation names
// the engine stamps on results and journal records.
const (
	OpAddProduct      = "add_product"
	OpUpdateQuantity  = "update_quantity"
	OpRemoveProduct   = "remove_product"
	OpSelectSale      = "select_sale"
	OpFinalizePayment = "finalize_payment"
	OpChangeSaleDate  = "change_sale_date"
	OpSetClient       = "set_client"
	OpSetDiscount     = "set_discount"
	OpStartNewSale    = "start_new_sale"
)

// Assertion types evaluated against a completed run.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Scenario is a declarative conformance test: a frozen catalog, a
// sequence of cart operations, and assertions over the resulting trace
// and session.
//
// Decimal amounts in scenarios are always quoted strings ("12.50");
// bare YAML floats are rejected at run time so traces stay exact.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description says what the scenario demonstrates.
	Description string `yaml:"description"`

	// Verifies lists the engine behaviors the scenario exercises.
	// Optional, but every entry must name a known behavior.
	Verifies []string `yaml:"verifies,omitempty"`

	// Catalog is the product set available to the steps.
	Catalog []ProductDef `yaml:"catalog"`

	// Operator, when set, runs the steps as an authenticated operator.
	Operator *OperatorDef `yaml:"operator,omitempty"`

	// AutoReceipt overrides the finalizer's auto-receipt default.
	AutoReceipt *bool `yaml:"auto_receipt,omitempty"`

	// TokenPrefix seeds the deterministic op-token generator.
	// Empty means "op", producing tokens like "op-000001".
	TokenPrefix string `yaml:"token_prefix,omitempty"`

	// Steps are executed in order through the engine.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after all steps complete.
	Assertions []Assertion `yaml:"assertions"`
}

// ProductDef declares one catalog product. Prices are decimal strings;
// a product with neither price sells at zero and is rejected by the
// engine, which some scenarios rely on.
type ProductDef struct {
	ID             int64  `yaml:"id"`
	SKU            string `yaml:"sku"`
	Name           string `yaml:"name"`
	LastSalePrice  string `yaml:"last_sale_price,omitempty"`
	SuggestedPrice string `yaml:"suggested_price,omitempty"`
}

// OperatorDef identifies the operator the scenario runs as.
type OperatorDef struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
	Role string `yaml:"role,omitempty"`
}

// Step is one cart operation with an optional expectation.
type Step struct {
	// Op is the operation to perform (see the Op* constants).
	Op string `yaml:"op"`

	// Args carry the operation's parameters, e.g. sku, quantity,
	// amount. Unused by start_new_sale.
	Args map[string]interface{} `yaml:"args,omitempty"`

	// Expect, when present, is checked against the real result. A step
	// without an expectation must simply succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause pins what a step must produce. Outcome and Error are
// mutually exclusive; the remaining fields check the session snapshot
// the step returned.
type ExpectClause struct {
	// Outcome is the expected result outcome ("created",
	// "already_exists", "updated", ...).
	Outcome string `yaml:"outcome,omitempty"`

	// Error is the expected error kind ("VALIDATION_FAILURE",
	// "NOT_FOUND", "ITEM_NOT_FOUND", "TRANSPORT_FAILURE").
	Error string `yaml:"error,omitempty"`

	// State is the expected session state after the step.
	State string `yaml:"state,omitempty"`

	// Lines is the expected number of cart lines after the step.
	Lines *int `yaml:"lines,omitempty"`

	// Total is the expected server total as a decimal string.
	// Compared numerically, so "37.50" matches a stored 37.5.
	Total string `yaml:"total,omitempty"`
}

// Assertion is one post-run check. Which fields apply depends on Type.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Op and Args select trace events for trace_contains and
	// trace_count. Args match as a subset.
	Op   string                 `yaml:"op,omitempty"`
	Args map[string]interface{} `yaml:"args,omitempty"`

	// Ops is the required relative order for trace_order.
	Ops []string `yaml:"ops,omitempty"`

	// Count is the exact occurrence count for trace_count.
	Count int `yaml:"count,omitempty"`

	// Expect holds the session fields final_state checks, matched as
	// a subset of the final state map.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// LoadScenario reads and validates a scenario YAML file.
// Unknown fields are rejected so fixture typos fail loudly instead of
// silently weakening a scenario.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks required fields and cross-field rules.
func validateScenario(scenario *Scenario) error {
	if scenario.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if scenario.Description == "" {
		return fmt.Errorf("scenario description is required")
	}

	for i, tag := range scenario.Verifies {
		if _, ok := KnownBehaviors[tag]; !ok {
			return &UnknownBehaviorError{Scenario: scenario.Name, Tag: tag, Index: i}
		}
	}

	if len(scenario.Catalog) == 0 {
		return fmt.Errorf("scenario must have at least one catalog product")
	}
	for i, p := range scenario.Catalog {
		if err := validateProductDef(p); err != nil {
			return fmt.Errorf("catalog[%d]: %w", i, err)
		}
	}

	if scenario.Operator != nil && scenario.Operator.ID <= 0 {
		return fmt.Errorf("operator id must be positive")
	}

	if len(scenario.Steps) == 0 {
		return fmt.Errorf("scenario must have at least one step")
	}
	for i, step := range scenario.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	if len(scenario.Assertions) == 0 {
		return fmt.Errorf("scenario must have at least one assertion")
	}
	for i, assertion := range scenario.Assertions {
		if err := validateAssertion(assertion); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}

	return nil
}

func validateProductDef(p ProductDef) error {
	if p.ID <= 0 {
		return fmt.Errorf("product id must be positive")
	}
	if p.SKU == "" {
		return fmt.Errorf("product sku is required")
	}
	if p.Name == "" {
		return fmt.Errorf("product name is required")
	}
	for _, price := range []string{p.LastSalePrice, p.SuggestedPrice} {
		if price == "" {
			continue
		}
		if _, err := decimal.NewFromString(price); err != nil {
			return fmt.Errorf("invalid price %q: %w", price, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	if step.Op == "" {
		return fmt.Errorf("op is required")
	}
	switch step.Op {
	case OpAddProduct, OpUpdateQuantity, OpRemoveProduct, OpSelectSale,
		OpFinalizePayment, OpChangeSaleDate, OpSetClient, OpSetDiscount,
		OpStartNewSale:
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}

	if step.Expect != nil {
		exp := step.Expect
		if exp.Outcome != "" && exp.Error != "" {
			return fmt.Errorf("expect cannot have both outcome and error")
		}
		if exp.Outcome == "" && exp.Error == "" && exp.State == "" &&
			exp.Lines == nil && exp.Total == "" {
			return fmt.Errorf("expect clause is empty")
		}
		if exp.Total != "" {
			if _, err := decimal.NewFromString(exp.Total); err != nil {
				return fmt.Errorf("invalid expected total %q: %w", exp.Total, err)
			}
		}
	}

	return nil
}

func validateAssertion(assertion Assertion) error {
	switch assertion.Type {
	case "":
		return fmt.Errorf("assertion type is required")

	case AssertTraceContains:
		if assertion.Op == "" {
			return fmt.Errorf("trace_contains requires an op")
		}

	case AssertTraceOrder:
		if len(assertion.Ops) < 2 {
			return fmt.Errorf("trace_order requires at least two ops")
		}

	case AssertTraceCount:
		if assertion.Op == "" {
			return fmt.Errorf("trace_count requires an op")
		}
		if assertion.Count < 0 {
			return fmt.Errorf("trace_count count cannot be negative")
		}

	case AssertFinalState:
		if len(assertion.Expect) == 0 {
			return fmt.Errorf("final_state requires a non-empty expect map")
		}

	default:
		return fmt.Errorf("unknown assertion type %q", assertion.Type)
	}

	return nil
}
