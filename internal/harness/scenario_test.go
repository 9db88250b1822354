package harness

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenarioFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenarioValid(t *testing.T) {
	path := writeScenarioFile(t, `
name: basic_add
description: Adding a product creates a sale.
verifies: [deferred_creation]
catalog:
  - {id: 42, sku: PARA-500, name: Paracetamol 500mg, last_sale_price: "12.50"}
operator:
  id: 7
  name: Amal
  role: cashier
token_prefix: basic
steps:
  - op: add_product
    args: {sku: PARA-500}
    expect: {outcome: created, state: active, lines: 1, total: "12.50"}
assertions:
  - type: trace_count
    op: add_product
    count: 1
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "basic_add", scenario.Name)
	assert.Equal(t, []string{"deferred_creation"}, scenario.Verifies)
	require.Len(t, scenario.Catalog, 1)
	assert.Equal(t, int64(42), scenario.Catalog[0].ID)
	assert.Equal(t, "12.50", scenario.Catalog[0].LastSalePrice)
	require.NotNil(t, scenario.Operator)
	assert.Equal(t, int64(7), scenario.Operator.ID)
	assert.Equal(t, "basic", scenario.TokenPrefix)
	require.Len(t, scenario.Steps, 1)
	require.NotNil(t, scenario.Steps[0].Expect)
	assert.Equal(t, "created", scenario.Steps[0].Expect.Outcome)
	require.NotNil(t, scenario.Steps[0].Expect.Lines)
	assert.Equal(t, 1, *scenario.Steps[0].Expect.Lines)
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, AssertTraceCount, scenario.Assertions[0].Type)
}

func TestLoadScenarioFileNotFound(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenarioMalformedYAML(t *testing.T) {
	path := writeScenarioFile(t, "name: [unclosed")
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse scenario YAML")
}

func TestLoadScenarioRejectsUnknownFields(t *testing.T) {
	path := writeScenarioFile(t, `
name: typo
description: A misspelled field must not be silently dropped.
catalog:
  - {id: 1, sku: X-1, name: X, last_sale_price: "1.00"}
steps:
  - op: add_product
    args: {sku: X-1}
    expects: {outcome: created}
assertions:
  - type: trace_count
    op: add_product
    count: 1
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field expects not found")
}

func validScenario() *Scenario {
	return &Scenario{
		Name:        "minimal",
		Description: "a minimal valid scenario",
		Catalog: []ProductDef{
			{ID: 42, SKU: "PARA-500", Name: "Paracetamol 500mg", LastSalePrice: "12.50"},
		},
		Steps: []Step{
			{Op: OpAddProduct, Args: map[string]interface{}{"sku": "PARA-500"}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Op: OpAddProduct, Count: 1},
		},
	}
}

func TestValidateScenario(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Scenario)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(s *Scenario) {},
		},
		{
			name:    "missing name",
			mutate:  func(s *Scenario) { s.Name = "" },
			wantErr: "scenario name is required",
		},
		{
			name:    "missing description",
			mutate:  func(s *Scenario) { s.Description = "" },
			wantErr: "scenario description is required",
		},
		{
			name:    "unknown behavior tag",
			mutate:  func(s *Scenario) { s.Verifies = []string{"telepathy"} },
			wantErr: `unknown behavior "telepathy"`,
		},
		{
			name:    "empty catalog",
			mutate:  func(s *Scenario) { s.Catalog = nil },
			wantErr: "at least one catalog product",
		},
		{
			name:    "catalog product without id",
			mutate:  func(s *Scenario) { s.Catalog[0].ID = 0 },
			wantErr: "catalog[0]: product id must be positive",
		},
		{
			name:    "catalog product without sku",
			mutate:  func(s *Scenario) { s.Catalog[0].SKU = "" },
			wantErr: "catalog[0]: product sku is required",
		},
		{
			name:    "catalog product with bad price",
			mutate:  func(s *Scenario) { s.Catalog[0].LastSalePrice = "twelve" },
			wantErr: `catalog[0]: invalid price "twelve"`,
		},
		{
			name:    "non-positive operator",
			mutate:  func(s *Scenario) { s.Operator = &OperatorDef{ID: 0, Name: "x"} },
			wantErr: "operator id must be positive",
		},
		{
			name:    "no steps",
			mutate:  func(s *Scenario) { s.Steps = nil },
			wantErr: "at least one step",
		},
		{
			name:    "step without op",
			mutate:  func(s *Scenario) { s.Steps[0].Op = "" },
			wantErr: "steps[0]: op is required",
		},
		{
			name:    "step with unknown op",
			mutate:  func(s *Scenario) { s.Steps[0].Op = "teleport" },
			wantErr: `steps[0]: unknown op "teleport"`,
		},
		{
			name: "expect with outcome and error",
			mutate: func(s *Scenario) {
				s.Steps[0].Expect = &ExpectClause{Outcome: "created", Error: "NOT_FOUND"}
			},
			wantErr: "steps[0]: expect cannot have both outcome and error",
		},
		{
			name: "empty expect",
			mutate: func(s *Scenario) {
				s.Steps[0].Expect = &ExpectClause{}
			},
			wantErr: "steps[0]: expect clause is empty",
		},
		{
			name: "expect with bad total",
			mutate: func(s *Scenario) {
				s.Steps[0].Expect = &ExpectClause{Outcome: "created", Total: "lots"}
			},
			wantErr: `steps[0]: invalid expected total "lots"`,
		},
		{
			name:    "no assertions",
			mutate:  func(s *Scenario) { s.Assertions = nil },
			wantErr: "at least one assertion",
		},
		{
			name:    "assertion without type",
			mutate:  func(s *Scenario) { s.Assertions[0].Type = "" },
			wantErr: "assertions[0]: assertion type is required",
		},
		{
			name:    "unknown assertion type",
			mutate:  func(s *Scenario) { s.Assertions[0].Type = "vibes" },
			wantErr: `assertions[0]: unknown assertion type "vibes"`,
		},
		{
			name: "trace_contains without op",
			mutate: func(s *Scenario) {
				s.Assertions[0] = Assertion{Type: AssertTraceContains}
			},
			wantErr: "trace_contains requires an op",
		},
		{
			name: "trace_order with one op",
			mutate: func(s *Scenario) {
				s.Assertions[0] = Assertion{Type: AssertTraceOrder, Ops: []string{OpAddProduct}}
			},
			wantErr: "trace_order requires at least two ops",
		},
		{
			name: "trace_count with negative count",
			mutate: func(s *Scenario) {
				s.Assertions[0] = Assertion{Type: AssertTraceCount, Op: OpAddProduct, Count: -1}
			},
			wantErr: "count cannot be negative",
		},
		{
			name: "final_state without expect",
			mutate: func(s *Scenario) {
				s.Assertions[0] = Assertion{Type: AssertFinalState}
			},
			wantErr: "final_state requires a non-empty expect map",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario := validScenario()
			tt.mutate(scenario)

			err := validateScenario(scenario)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBehaviorTagsSorted(t *testing.T) {
	tags := BehaviorTags()
	require.NotEmpty(t, tags)
	assert.True(t, sort.StringsAreSorted(tags))
	for _, tag := range tags {
		assert.NotEmpty(t, KnownBehaviors[tag])
	}
}

func TestShippedScenariosAreValid(t *testing.T) {
	matches, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	for _, path := range matches {
		t.Run(filepath.Base(path), func(t *testing.T) {
			_, err := LoadScenario(path)
			assert.NoError(t, err)
		})
	}
}
