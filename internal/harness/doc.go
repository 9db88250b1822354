// Package harness executes declarative YAML scenarios against a real
// engine wired to the in-memory sale service, producing deterministic
// traces suitable for golden-file testing.
//
// # Scenario format
//
// A scenario freezes a catalog, runs a sequence of cart operations,
// and asserts over the resulting trace and final session:
//
//	name: idempotent_add
//	description: A duplicate add reports already_exists.
//	verifies: [conflict_as_success]
//	catalog:
//	  - {id: 42, sku: PARA-500, name: Paracetamol 500mg, last_sale_price: "12.50"}
//	steps:
//	  - op: add_product
//	    args: {sku: PARA-500}
//	    expect: {outcome: created, lines: 1}
//	  - op: add_product
//	    args: {sku: PARA-500}
//	    expect: {outcome: already_exists, lines: 1}
//	assertions:
//	  - type: trace_count
//	    op: add_product
//	    count: 2
//
// Decimal amounts are always quoted strings; bare YAML floats are
// rejected. Unknown fields are rejected at load time.
//
// # Assertion types
//
//   - trace_contains: an op with the given args (subset match) ran
//   - trace_order: first occurrences of the listed ops are in order
//   - trace_count: an op ran exactly N times
//   - final_state: the closing session matches the expected fields
//
// # Determinism
//
// Every run gets a fresh in-memory service with fixed numbering, a
// frozen wall clock, and sequential op tokens, so the same scenario
// always yields byte-identical canonical traces. Golden files live in
// testdata/golden and are regenerated with `go test -update`.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/idempotent_add.yaml")
//	if err != nil {
//		...
//	}
//	result, err := harness.New().Run(ctx, scenario)
package harness
