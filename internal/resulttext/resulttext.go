// Package resulttext models the text shapes tool results arrive in as an
// explicit sum type: a bare string, a map with a top-level "text" field, or
// a list of strings. Guards that inspect or rewrite textual output match on
// the variant instead of silently no-opping on unrecognized shapes.
package resulttext

// Kind tags the recognized result variants.
type Kind int

const (
	// Scalar is a bare string result.
	Scalar Kind = iota
	// Keyed is a map result with a string "text" field.
	Keyed
	// Sequence is a list of strings, handled element-wise.
	Sequence
)

// Value is one recognized text-shaped result.
type Value struct {
	kind   Kind
	scalar string
	keyed  map[string]any
	seq    []string
	seqAny bool // original sequence was []any, rebuild in kind
}

// FromResult classifies result. ok is false for any shape that is not
// text-bearing; callers must pass such results through untouched.
func FromResult(result any) (Value, bool) {
	switch r := result.(type) {
	case string:
		return Value{kind: Scalar, scalar: r}, true
	case map[string]any:
		if text, ok := r["text"].(string); ok {
			return Value{kind: Keyed, keyed: r, scalar: text}, true
		}
	case []string:
		return Value{kind: Sequence, seq: r}, true
	case []any:
		seq := make([]string, len(r))
		for i, item := range r {
			s, ok := item.(string)
			if !ok {
				return Value{}, false
			}
			seq[i] = s
		}
		return Value{kind: Sequence, seq: seq, seqAny: true}, true
	}
	return Value{}, false
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// Strings returns the texts carried by the value: one element for Scalar
// and Keyed, the items in order for Sequence.
func (v Value) Strings() []string {
	if v.kind == Sequence {
		return v.seq
	}
	return []string{v.scalar}
}

// Rebuild reconstructs a result of the original shape from replacement
// texts, which must be what Strings returned (possibly rewritten). Keyed
// maps are copied, not mutated.
func (v Value) Rebuild(texts []string) any {
	switch v.kind {
	case Scalar:
		return texts[0]
	case Keyed:
		out := make(map[string]any, len(v.keyed))
		for k, val := range v.keyed {
			out[k] = val
		}
		out["text"] = texts[0]
		return out
	case Sequence:
		if v.seqAny {
			out := make([]any, len(texts))
			for i, t := range texts {
				out[i] = t
			}
			return out
		}
		out := make([]string, len(texts))
		copy(out, texts)
		return out
	}
	return nil
}
