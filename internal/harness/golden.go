package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/alryyan1/salesync/internal/sale"
)

// TraceSnapshot is the canonical-JSON form of a scenario trace, the
// unit golden files pin. Two runs of the same scenario must produce
// byte-identical snapshots.
type TraceSnapshot struct {
	ScenarioName string
	TokenPrefix  string
	Trace        []TraceEvent
}

// NewTraceSnapshot builds a snapshot from a completed run.
func NewTraceSnapshot(scenario *Scenario, result *Result) *TraceSnapshot {
	return &TraceSnapshot{
		ScenarioName: scenario.Name,
		TokenPrefix:  scenario.TokenPrefix,
		Trace:        result.Trace,
	}
}

// MarshalCanonical serializes the snapshot using the engine's canonical
// JSON rules: sorted keys, no floats, byte-stable output.
func (s *TraceSnapshot) MarshalCanonical() ([]byte, error) {
	return sale.MarshalCanonical(s.toCanonicalMap())
}

// toCanonicalMap flattens the snapshot, omitting empty fields so the
// golden bytes carry no noise.
func (s *TraceSnapshot) toCanonicalMap() map[string]interface{} {
	events := make([]interface{}, 0, len(s.Trace))
	for _, ev := range s.Trace {
		events = append(events, eventMap(ev))
	}

	m := map[string]interface{}{
		"scenario_name": s.ScenarioName,
		"trace":         events,
	}
	if s.TokenPrefix != "" {
		m["token_prefix"] = s.TokenPrefix
	}
	return m
}

func eventMap(ev TraceEvent) map[string]interface{} {
	m := map[string]interface{}{
		"type": ev.Type,
		"seq":  ev.Seq,
	}
	if ev.Op != "" {
		m["op"] = ev.Op
	}
	if len(ev.Args) > 0 {
		m["args"] = ev.Args
	}
	if ev.Outcome != "" {
		m["outcome"] = ev.Outcome
	}
	if ev.Error != "" {
		m["error"] = ev.Error
	}
	if ev.State != "" {
		m["state"] = ev.State
	}
	if ev.SaleID != 0 {
		m["sale_id"] = ev.SaleID
	}
	if ev.Total != "" {
		m["total"] = ev.Total
	}
	return m
}

// AssertGolden compares the run's trace against the golden file named
// after the scenario. Regenerate fixtures with `go test -update`.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) {
	t.Helper()

	snapshot := NewTraceSnapshot(scenario, result)
	data, err := snapshot.MarshalCanonical()
	require.NoError(t, err, "failed to marshal trace snapshot")

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
}

// RunWithGolden runs the scenario and asserts its trace against the
// golden file.
func (h *Harness) RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := h.Run(context.Background(), scenario)
	require.NoError(t, err, "scenario execution failed")

	AssertGolden(t, scenario, result)
	return result
}
