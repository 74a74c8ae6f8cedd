package plugins

import (
	"context"
	"encoding/json"
)

// Func implements one plugin function
type Func func(ctx context.Context, in *Input) (interface{}, error)

// Mux routes calls by function name. Unknown functions answer 404 so the
// host treats them as not applicable.
type Mux map[string]Func

// Handle registers fn under name
func (m Mux) Handle(name string, fn Func) {
	m[name] = fn
}

// Call implements Handler
func (m Mux) Call(ctx context.Context, function string, arg []byte) ([]byte, error) {
	fn, ok := m[function]
	if !ok {
		return nil, NotFound("function %s not implemented", function)
	}

	in := &Input{}
	if len(arg) > 0 {
		if err := json.Unmarshal(arg, in); err != nil {
			return nil, Errorf(CodeBadRequest, "invalid call envelope: %v", err)
		}
	}

	result, err := fn(ctx, in)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, Errorf(CodeInternal, "failed to encode result: %v", err)
	}
	return out, nil
}
