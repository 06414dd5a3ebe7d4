package importing

// TimeContextScope says where a time context may be offered.
type TimeContextScope string

const (
	ScopeInput         TimeContextScope = "input"
	ScopeQuery         TimeContextScope = "query"
	ScopeInputAndQuery TimeContextScope = "input_and_query"
)

// TimeContext is a named validity window, used to default an import job's
// valid-from/valid-to when no explicit dates are supplied. Dates use the
// server's YYYY-MM-DD text form and may be "infinity".
type TimeContext struct {
	Ident         string           `json:"ident"`
	NameWhenInput *string          `json:"name_when_input"`
	NameWhenQuery *string          `json:"name_when_query"`
	Scope         TimeContextScope `json:"scope"`
	ValidFrom     string           `json:"valid_from"`
	ValidTo       string           `json:"valid_to"`
	ValidOn       *string          `json:"valid_on"`
}

// IsInputScoped reports whether the context can be attached to an import.
func (tc TimeContext) IsInputScoped() bool {
	return tc.Scope == ScopeInput || tc.Scope == ScopeInputAndQuery
}

// InputTimeContexts keeps the contexts that can be attached to an import, in
// their original order.
func InputTimeContexts(all []TimeContext) []TimeContext {
	out := make([]TimeContext, 0, len(all))
	for _, tc := range all {
		if tc.IsInputScoped() {
			out = append(out, tc)
		}
	}
	return out
}
