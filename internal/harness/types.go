package harness

import (
	"fmt"
	"strings"
)

// TraceEvent is one executed step and the state it left behind.
type TraceEvent struct {
	Seq    int    `json:"seq"`
	Op     string `json:"op"`
	Args   string `json:"args,omitempty"`
	Result string `json:"result"`
}

func (e TraceEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%02d %s", e.Seq, e.Op)
	if e.Args != "" {
		b.WriteString(" ")
		b.WriteString(e.Args)
	}
	b.WriteString(" -> ")
	b.WriteString(e.Result)
	return b.String()
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step to the trace.
func (r *Result) AddTrace(op, args, result string) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    len(r.Trace) + 1,
		Op:     op,
		Args:   args,
		Result: result,
	})
}
