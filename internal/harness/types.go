package harness

// TraceEvent records one executed step and the state it left behind.
type TraceEvent struct {
	Seq    int    `json:"seq"`
	Op     string `json:"op"`
	Record string `json:"record,omitempty"`

	// Action is the record's sync action after the step settled, or
	// "absent" when no managed record exists.
	Action string `json:"action,omitempty"`

	// Detail carries op-specific output such as a count or an error.
	Detail string `json:"detail,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Records is the controller dump after the last step.
	Records []string `json:"records"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Records: []string{},
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step event.
func (r *Result) AddTrace(e TraceEvent) {
	e.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, e)
}
