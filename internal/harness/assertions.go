package harness

import (
	"fmt"
	"strings"
)

// AssertionError describes a failed assertion with enough context to
// debug it: what was expected, what actually happened, and the full
// trace.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&b, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&b, "  Actual: %s\n", e.Actual)
	b.WriteString("\nFull trace:\n")
	for _, ev := range e.Trace {
		switch ev.Type {
		case TraceOp:
			fmt.Fprintf(&b, "  [%d] %s %v\n", ev.Seq, ev.Op, ev.Args)
		case TraceOutcome:
			if ev.Error != "" {
				fmt.Fprintf(&b, "  [%d] -> error %s\n", ev.Seq, ev.Error)
			} else {
				fmt.Fprintf(&b, "  [%d] -> %s\n", ev.Seq, ev.Outcome)
			}
		}
	}
	return b.String()
}

// EvaluateAssertions runs every assertion against the result and
// returns the failures. An empty slice means all assertions held.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for _, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result, assertion)
		case AssertFinalState:
			err = assertFinalState(result, assertion)
		default:
			err = fmt.Errorf("unknown assertion type %q", assertion.Type)
		}
		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

// assertTraceContains checks that some op event matches the given op
// and, when present, the given args as a subset.
func assertTraceContains(result *Result, assertion Assertion) error {
	for _, ev := range result.Trace {
		if ev.Type != TraceOp || ev.Op != assertion.Op {
			continue
		}
		if matchArgs(ev.Args, assertion.Args) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("trace contains %s with args %v", assertion.Op, assertion.Args),
		Actual:   "no matching op event",
		Trace:    result.Trace,
	}
}

// assertTraceOrder checks that the listed ops each appear and that
// their first occurrences are in the given relative order.
func assertTraceOrder(result *Result, assertion Assertion) error {
	position := make(map[string]int)
	idx := 0
	for _, ev := range result.Trace {
		if ev.Type != TraceOp {
			continue
		}
		idx++
		if _, seen := position[ev.Op]; !seen {
			position[ev.Op] = idx
		}
	}

	for _, op := range assertion.Ops {
		if _, ok := position[op]; !ok {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("trace contains %s", op),
				Actual:   "op never executed",
				Trace:    result.Trace,
			}
		}
	}

	for i := 1; i < len(assertion.Ops); i++ {
		before, after := assertion.Ops[i-1], assertion.Ops[i]
		if position[before] >= position[after] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("%s before %s", before, after),
				Actual:   fmt.Sprintf("%s at position %d, %s at position %d", before, position[before], after, position[after]),
				Trace:    result.Trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks the exact number of op events matching the
// given op and args subset. A count of zero asserts the op never ran.
func assertTraceCount(result *Result, assertion Assertion) error {
	count := 0
	for _, ev := range result.Trace {
		if ev.Type == TraceOp && ev.Op == assertion.Op && matchArgs(ev.Args, assertion.Args) {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertFinalState checks the expected fields as a subset of the final
// session state map.
func assertFinalState(result *Result, assertion Assertion) error {
	for key, want := range assertion.Expect {
		got, ok := result.Final[key]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s = %v", key, want),
				Actual:   fmt.Sprintf("final state has no %q", key),
				Trace:    result.Trace,
			}
		}
		if !valuesEqual(got, want) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s = %v", key, want),
				Actual:   fmt.Sprintf("%s = %v", key, got),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

// matchArgs reports whether every expected key/value pair appears in
// the actual args. Extra actual args are ignored.
func matchArgs(actual, expected map[string]interface{}) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares scalar values across the int widths YAML
// decoding produces.
func valuesEqual(a, b interface{}) bool {
	if ai, ok := asInt64(a); ok {
		if bi, ok := asInt64(b); ok {
			return ai == bi
		}
		return false
	}
	return a == b
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	}
	return 0, false
}
