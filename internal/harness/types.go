package harness

import "github.com/roach88/savepipe/internal/model"

// Trace event types.
const (
	EventDebugView = "debug_view"
	EventSave      = "save"
)

// TraceEvent records one observable outcome of a step.
type TraceEvent struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Step    int    `json:"step"`

	// View is the rendered debug view (debug_view).
	View string `json:"view,omitempty"`

	// Operations were sent to storage by a save, in execution order.
	Operations []model.Operation `json:"-"`
	// Count is the number of rows the save reported written.
	Count int `json:"count,omitempty"`
	// Error is the engine error code of a failed save.
	Error string `json:"error,omitempty"`
}

// RecordedOp is an operation tagged with the session that sent it.
type RecordedOp struct {
	Session string
	Op      model.Operation
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Policy is the replacement policy the sessions ran with.
	Policy string `json:"policy"`

	// Trace contains debug views and saves in execution order. Used for
	// golden comparison.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Operations returns every recorded operation in execution order.
func (r *Result) Operations() []RecordedOp {
	var ops []RecordedOp
	for _, e := range r.Trace {
		for _, op := range e.Operations {
			ops = append(ops, RecordedOp{Session: e.Session, Op: op})
		}
	}
	return ops
}
