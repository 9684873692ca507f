package bpmn

import (
	"context"
	"maps"
	"slices"

	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
)

// Variables reads and writes scoped variables. Writes are VARIABLE_DOCUMENT
// UPDATED events, one per scope that receives variables.
type Variables struct {
	state *state.State
}

// NewVariables returns the variable store of st.
func NewVariables(st *state.State) *Variables {
	return &Variables{state: st}
}

// VisibleVariables returns the variables visible from scopeKey.
func (v *Variables) VisibleVariables(scopeKey int64) map[string]any {
	return v.state.VisibleVariables(scopeKey)
}

// UpdateVariables writes variables to scopeKey when local is set. Otherwise
// each variable goes to the nearest enclosing scope that already defines it,
// or to the root scope.
func (v *Variables) UpdateVariables(w *processing.Writers, scopeKey int64, variables map[string]any, local bool) error {
	if local || len(variables) == 0 {
		_, err := w.AppendEvent(scopeKey, protocol.VariableDocumentUpdated, protocol.VariableDocumentRecord{
			ScopeKey:  scopeKey,
			Local:     true,
			Variables: variables,
		})
		return err
	}

	byScope := make(map[int64]map[string]any)
	for _, name := range slices.Sorted(maps.Keys(variables)) {
		target := v.state.FindVariableScope(scopeKey, name)
		if byScope[target] == nil {
			byScope[target] = make(map[string]any)
		}
		byScope[target][name] = variables[name]
	}
	for _, target := range slices.Sorted(maps.Keys(byScope)) {
		if _, err := w.AppendEvent(target, protocol.VariableDocumentUpdated, protocol.VariableDocumentRecord{
			ScopeKey:  target,
			Local:     true,
			Variables: byScope[target],
		}); err != nil {
			return err
		}
	}
	return nil
}

// updateVariables handles VARIABLE_DOCUMENT UPDATE.
func (e *Engine) updateVariables(_ context.Context, cmd protocol.Record, w *processing.Writers) error {
	doc, ok := cmd.Value.(protocol.VariableDocumentRecord)
	if !ok {
		return processing.NewRejection(protocol.RejectionInvalidArgument,
			"Expected a variable document value, but got %s", cmd.ValueType)
	}
	el, ok := e.state.ElementInstance(doc.ScopeKey)
	if !ok || !el.IsActive() {
		return processing.NewRejection(protocol.RejectionNotFound,
			"Expected to update variables for element with key '%d', but no such element was found", doc.ScopeKey)
	}
	variables := doc.Variables
	if variables == nil {
		variables = map[string]any{}
	}
	return e.vars.UpdateVariables(w, doc.ScopeKey, variables, doc.Local)
}
