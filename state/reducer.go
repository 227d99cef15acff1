package state

import "maps"

// Reducer folds a node's delta for one key into the prior value for that
// key. Reducers must be commutative and associative when the key can be
// written by more than one node of a fan-out; the compiler rejects plans
// where a non-commutative-reducer key is reachable from more than one
// branch of a parallel node.
type Reducer func(prev, delta any) any

type entry struct {
	reducer     Reducer
	commutative bool
}

// ReducerTable maps state key to the reducer used to fold deltas into it,
// along with whether that reducer tolerates concurrent writers. It is
// immutable once built; WithSchema returns an extended copy.
type ReducerTable struct {
	entries map[string]entry
}

// Commutative reports whether key's reducer tolerates concurrent writers.
// Keys absent from the table (i.e. not yet classified) are treated as
// non-commutative, the conservative default.
func (t ReducerTable) Commutative(key string) bool {
	return t.entries[key].commutative
}

// Has reports whether the table declares a reducer for key.
func (t ReducerTable) Has(key string) bool {
	_, ok := t.entries[key]
	return ok
}

// BaseTable returns the reducer table for the seven reserved keys, per
// the original's workflows/state.py (_merge_dicts, _take_last, add_messages).
func BaseTable() ReducerTable {
	return ReducerTable{entries: map[string]entry{
		KeyInput:        {takeFirst, false},      // written once, before any node runs
		KeyMessages:     {appendMessages, true},   // append is order-independent for merge purposes
		KeyIntermediate: {mergeDicts, true},       // shallow-merge by node id
		KeyOutput:       {takeLast, false},        // last-write-wins
		KeyCurrentNode:  {takeLast, false},        // last-write-wins
		KeyError:        {takeLast, false},        // last-write-wins
		KeyMetadata:     {mergeDicts, true},       // shallow-merge
	}}
}

// WithSchema returns a table extending base with one reducer per key
// declared in schema, a JSON-schema "properties" map. The reducer is
// chosen from the declared type: array -> append, object -> shallow
// merge, anything else -> last-write-wins. Base keys are not overridable.
func WithSchema(base ReducerTable, schema map[string]any) ReducerTable {
	out := make(map[string]entry, len(base.entries))
	maps.Copy(out, base.entries)

	props, _ := schema["properties"].(map[string]any)
	for key, rawProp := range props {
		if _, exists := out[key]; exists {
			continue
		}
		prop, _ := rawProp.(map[string]any)
		switch prop["type"] {
		case "array":
			out[key] = entry{appendSlice, true}
		case "object":
			out[key] = entry{mergeDicts, true}
		default:
			out[key] = entry{takeLast, false}
		}
	}
	return ReducerTable{entries: out}
}

// Fold applies delta's keys into s using t, skipping keys delta doesn't
// set. Unknown keys (not in t) are folded with last-write-wins.
func (t ReducerTable) Fold(s *State, delta Delta) {
	for k, dv := range delta {
		e, ok := t.entries[k]
		reducer := takeLast
		if ok {
			reducer = e.reducer
		}
		prev := s.values[k]
		s.values[k] = reducer(prev, dv)
	}
}

func takeLast(_, delta any) any { return delta }

func takeFirst(prev, delta any) any {
	// New seeds input with an empty map; that placeholder does not count
	// as the first write.
	if m, ok := prev.(map[string]any); ok && len(m) == 0 {
		return delta
	}
	if prev != nil {
		return prev
	}
	return delta
}

func mergeDicts(prev, delta any) any {
	prevMap, _ := prev.(map[string]any)
	deltaMap, _ := delta.(map[string]any)
	out := make(map[string]any, len(prevMap)+len(deltaMap))
	maps.Copy(out, prevMap)
	maps.Copy(out, deltaMap)
	return out
}

func appendSlice(prev, delta any) any {
	prevSlice, _ := prev.([]any)
	switch d := delta.(type) {
	case []any:
		out := make([]any, 0, len(prevSlice)+len(d))
		out = append(out, prevSlice...)
		out = append(out, d...)
		return out
	default:
		out := make([]any, 0, len(prevSlice)+1)
		out = append(out, prevSlice...)
		return append(out, d)
	}
}

func appendMessages(prev, delta any) any {
	prevMsgs, _ := prev.([]Message)
	switch d := delta.(type) {
	case []Message:
		out := make([]Message, 0, len(prevMsgs)+len(d))
		out = append(out, prevMsgs...)
		return append(out, d...)
	case Message:
		out := make([]Message, 0, len(prevMsgs)+1)
		out = append(out, prevMsgs...)
		return append(out, d)
	default:
		return prevMsgs
	}
}
