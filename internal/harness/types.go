package harness

import (
	"github.com/alryyan1/salesync/internal/engine"
)

// Trace event types.
const (
	// TraceOp records an operation entering the engine.
	TraceOp = "op"

	// TraceOutcome records what the operation did, or the error kind
	// it failed with.
	TraceOutcome = "outcome"
)

// TraceEvent is a single entry in a scenario's execution trace.
// Op events carry the operation and its args; outcome events carry the
// result plus the session view the operator would see afterwards.
type TraceEvent struct {
	Type    string                 `json:"type"`
	Op      string                 `json:"op,omitempty"`
	Args    map[string]interface{} `json:"args,omitempty"`
	Outcome string                 `json:"outcome,omitempty"`
	Error   string                 `json:"error,omitempty"`
	State   string                 `json:"state,omitempty"`
	SaleID  int64                  `json:"sale_id,omitempty"`
	Total   string                 `json:"total,omitempty"`
	Seq     int64                  `json:"seq"`
}

// Result holds the outcome of running a scenario.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace is the ordered record of ops and outcomes.
	Trace []TraceEvent `json:"trace"`

	// Errors collects expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Final is the session state after the last step, as checked by
	// final_state assertions.
	Final map[string]interface{} `json:"final,omitempty"`
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(err string) {
	r.Pass = false
	r.Errors = append(r.Errors, err)
}

// AddOpTrace appends an op event.
func (r *Result) AddOpTrace(op string, args map[string]interface{}, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type: TraceOp,
		Op:   op,
		Args: args,
		Seq:  seq,
	})
}

// AddOutcomeTrace appends an outcome event carrying the post-step
// session view.
func (r *Result) AddOutcomeTrace(outcome string, sess engine.Session, seq int64) {
	ev := TraceEvent{
		Type:    TraceOutcome,
		Outcome: outcome,
		State:   string(sess.State),
		Seq:     seq,
	}
	if sess.Sale != nil {
		ev.SaleID = sess.Sale.ID
		ev.Total = sess.Sale.TotalAmount.String()
	}
	r.Trace = append(r.Trace, ev)
}

// AddFailureTrace appends an outcome event for a failed op. The session
// view is the state the engine rolled back to.
func (r *Result) AddFailureTrace(kind string, sess engine.Session, seq int64) {
	ev := TraceEvent{
		Type:  TraceOutcome,
		Error: kind,
		State: string(sess.State),
		Seq:   seq,
	}
	if sess.Sale != nil {
		ev.SaleID = sess.Sale.ID
		ev.Total = sess.Sale.TotalAmount.String()
	}
	r.Trace = append(r.Trace, ev)
}
