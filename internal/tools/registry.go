package tools

import "fmt"

// Registry is the closed catalog of tools the reasoner may request. It is
// built once and never mutated, so it is safe for concurrent use without
// locking.
type Registry struct {
	defs  []ToolDefinition
	index map[string]int
}

func NewRegistry(defs ...ToolDefinition) (*Registry, error) {
	r := &Registry{
		defs:  make([]ToolDefinition, 0, len(defs)),
		index: make(map[string]int, len(defs)),
	}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if _, exists := r.index[d.Name]; exists {
			return nil, fmt.Errorf("tool %q already registered", d.Name)
		}
		seen := make(map[string]bool, len(d.Parameters))
		for _, p := range d.Parameters {
			if p.Name == "" {
				return nil, fmt.Errorf("tool %q: parameter with empty name", d.Name)
			}
			if seen[p.Name] {
				return nil, fmt.Errorf("tool %q: duplicate parameter %q", d.Name, p.Name)
			}
			if !p.Type.valid() {
				return nil, fmt.Errorf("tool %q: parameter %q has unsupported type %q", d.Name, p.Name, p.Type)
			}
			seen[p.Name] = true
		}
		d.Parameters = append(ParameterSchema(nil), d.Parameters...)
		r.index[d.Name] = len(r.defs)
		r.defs = append(r.defs, d)
	}
	return r, nil
}

// MustRegistry is NewRegistry for statically declared catalogs.
func MustRegistry(defs ...ToolDefinition) *Registry {
	r, err := NewRegistry(defs...)
	if err != nil {
		panic(err)
	}
	return r
}

// List returns the tools in declaration order. The slice is a copy.
func (r *Registry) List() []ToolDefinition {
	out := make([]ToolDefinition, len(r.defs))
	for i, d := range r.defs {
		d.Parameters = append(ParameterSchema(nil), d.Parameters...)
		out[i] = d
	}
	return out
}

func (r *Registry) Lookup(name string) (ToolDefinition, bool) {
	i, ok := r.index[name]
	if !ok {
		return ToolDefinition{}, false
	}
	return r.defs[i], true
}

func (r *Registry) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

func (r *Registry) Len() int { return len(r.defs) }

// Validate checks call against its tool's schema and returns a copy of the
// call with scalar arguments normalized to their declared types. Arguments
// the schema does not declare are dropped. Null or empty-string values count
// as absent.
func (r *Registry) Validate(call Call) (Call, error) {
	def, ok := r.Lookup(call.Name)
	if !ok {
		return call, fmt.Errorf("tool %q not registered", call.Name)
	}
	out := Call{Name: call.Name, Args: make(map[string]any, len(def.Parameters))}
	for _, p := range def.Parameters {
		v, present := call.Args[p.Name]
		if s, isStr := v.(string); isStr && s == "" {
			present = false
		}
		if !present || v == nil {
			if p.Required {
				return out, &ValidationError{Tool: call.Name, Param: p.Name, Missing: true}
			}
			continue
		}
		nv, err := normalize(p.Type, v)
		if err != nil {
			return out, &ValidationError{Tool: call.Name, Param: p.Name, Reason: err.Error()}
		}
		out.Args[p.Name] = nv
	}
	return out, nil
}
