package logic

// TraceStep records one stage of a selection along with stage specific details.
type TraceStep struct {
	Stage   string            `json:"stage"`
	Details map[string]string `json:"details,omitempty"`
}

// SelectionTrace captures the ordered list of steps performed by a selector.
type SelectionTrace struct {
	Steps []TraceStep `json:"steps"`
}

// AddStep appends a trace entry for the given stage. Calling it on a nil trace
// is a no-op so callers need not check whether tracing is enabled.
func (t *SelectionTrace) AddStep(stage string, details map[string]string) {
	if t == nil {
		return
	}
	t.Steps = append(t.Steps, TraceStep{Stage: stage, Details: details})
}
