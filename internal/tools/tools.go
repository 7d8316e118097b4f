package tools

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
)

func (t ParamType) valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean:
		return true
	}
	return false
}

type Parameter struct {
	Name        string    `json:"name" yaml:"name"`
	Type        ParamType `json:"type" yaml:"type"`
	Description string    `json:"description" yaml:"description"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
}

// ParameterSchema is kept as a slice so declaration order survives into the
// schema sent to the reasoner.
type ParameterSchema []Parameter

func (s ParameterSchema) Get(name string) (Parameter, bool) {
	for _, p := range s {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

func (s ParameterSchema) RequiredNames() []string {
	var names []string
	for _, p := range s {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// JSONSchema renders the parameters as a JSON-schema object, the shape every
// supported reasoning backend accepts for function declarations.
func (s ParameterSchema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s))
	for _, p := range s {
		props[p.Name] = map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if req := s.RequiredNames(); len(req) > 0 {
		schema["required"] = req
	}
	return schema
}

type ToolDefinition struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Parameters  ParameterSchema `json:"parameters" yaml:"parameters"`
}

// Call is a tool invocation requested by the reasoner.
type Call struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// String returns a trimmed, non-empty string argument.
func (c Call) String(name string) (string, bool) {
	v, ok := c.Args[name]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func (c Call) Number(name string) (float64, bool) {
	v, ok := c.Args[name]
	if !ok || v == nil {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func (c Call) Bool(name string) (bool, bool) {
	v, ok := c.Args[name]
	if !ok || v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// ValidationError reports arguments that do not satisfy a tool's schema.
type ValidationError struct {
	Tool    string
	Param   string
	Missing bool
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.Missing {
		return fmt.Sprintf("tool %q: missing required argument %q", e.Tool, e.Param)
	}
	return fmt.Sprintf("tool %q: argument %q: %s", e.Tool, e.Param, e.Reason)
}

// IsMissingArgument reports whether err is a ValidationError for an absent
// required parameter.
func IsMissingArgument(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Missing
}

// normalize coerces v to the declared type when the conversion is lossless.
func normalize(t ParamType, v any) (any, error) {
	switch t {
	case TypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		}
	case TypeNumber:
		switch x := v.(type) {
		case float64:
			if finite(x) {
				return x, nil
			}
		case float32:
			if f := float64(x); finite(f) {
				return f, nil
			}
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err == nil && finite(f) {
				return f, nil
			}
		}
	case TypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err == nil {
				return b, nil
			}
		}
	}
	return nil, fmt.Errorf("expected %s, got %T", t, v)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
