// Package schema holds the structural contracts for node payloads: the
// versioned FD.* registry, the validator, and candidate-set resolution for
// polymorphic nodes. Compilation happens once at package load; lookups and
// validation after that are read-only.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/fhierr"
)

// FieldType is the value class a field accepts.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "bool"
	TypeArray  FieldType = "array"
	TypeObject FieldType = "object"
)

// Field is one declared payload field.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Enum     []string // non-empty restricts string values to membership
	Min      *float64 // inclusive, numbers only
	Max      *float64 // inclusive, numbers only
}

// Schema is a compiled structural contract.
type Schema struct {
	ID            string
	Node          ecosystem.Node
	Discriminator string // field whose presence selects this variant, "" if monomorphic
	Strict        bool   // reject undeclared fields
	Fields        []Field

	byName map[string]*Field
}

// compile builds the field index. Called once per schema at registration.
func (s *Schema) compile() *Schema {
	s.byName = make(map[string]*Field, len(s.Fields))
	for i := range s.Fields {
		s.byName[s.Fields[i].Name] = &s.Fields[i]
	}
	return s
}

// ViolationKind classifies one validation failure.
type ViolationKind string

const (
	KindMissing    ViolationKind = "missing"
	KindType       ViolationKind = "type"
	KindEnum       ViolationKind = "enum"
	KindRange      ViolationKind = "range"
	KindUnexpected ViolationKind = "unexpected"
)

// Violation is one field-level failure.
type Violation struct {
	Field   string        `json:"field"`
	Kind    ViolationKind `json:"kind"`
	Message string        `json:"message"`
}

// Result is the outcome of validating one payload.
type Result struct {
	SchemaOK   bool        `json:"schema_ok"`
	Violations []Violation `json:"violations,omitempty"`
}

// Err converts a failed result into an error value, nil when valid.
func (r Result) Err(schemaID string) error {
	if r.SchemaOK {
		return nil
	}
	msgs := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		msgs[i] = fmt.Sprintf("%s: %s", v.Field, v.Message)
	}
	return &fhierr.SchemaValidationError{SchemaID: schemaID, Violations: msgs}
}

// Validate checks payload against the compiled contract. Field order in the
// result follows declaration order, then lexicographic for strict rejects.
func (s *Schema) Validate(payload map[string]any) Result {
	var out []Violation

	for i := range s.Fields {
		f := &s.Fields[i]
		v, present := payload[f.Name]
		if !present {
			if f.Required {
				out = append(out, Violation{f.Name, KindMissing, "required field absent"})
			}
			continue
		}
		got, ok := valueType(v)
		if !ok || got != f.Type {
			out = append(out, Violation{f.Name, KindType,
				fmt.Sprintf("expected %s, got %s", f.Type, describeType(v))})
			continue
		}
		switch f.Type {
		case TypeString:
			if len(f.Enum) > 0 && !enumHas(f.Enum, v.(string)) {
				out = append(out, Violation{f.Name, KindEnum,
					fmt.Sprintf("%q not one of [%s]", v, strings.Join(f.Enum, ", "))})
			}
		case TypeNumber:
			n, _ := toFloat(v)
			if f.Min != nil && n < *f.Min {
				out = append(out, Violation{f.Name, KindRange,
					fmt.Sprintf("%v below minimum %v", n, *f.Min)})
			}
			if f.Max != nil && n > *f.Max {
				out = append(out, Violation{f.Name, KindRange,
					fmt.Sprintf("%v above maximum %v", n, *f.Max)})
			}
		}
	}

	if s.Strict {
		var extras []string
		for k := range payload {
			if _, declared := s.byName[k]; !declared {
				extras = append(extras, k)
			}
		}
		sort.Strings(extras)
		for _, k := range extras {
			out = append(out, Violation{k, KindUnexpected, "undeclared field on a strict schema"})
		}
	}

	return Result{SchemaOK: len(out) == 0, Violations: out}
}

func enumHas(enum []string, v string) bool {
	for _, e := range enum {
		if e == v {
			return true
		}
	}
	return false
}

// valueType maps a Go value to its field type. Payloads arrive both as
// decoded JSON (float64, []any, map[string]any) and as values built in
// process, so numeric and container kinds are matched broadly.
func valueType(v any) (FieldType, bool) {
	switch v.(type) {
	case string:
		return TypeString, true
	case bool:
		return TypeBool, true
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return TypeNumber, true
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return TypeArray, true
	case reflect.Map:
		return TypeObject, true
	}
	return "", false
}

func describeType(v any) string {
	if v == nil {
		return "null"
	}
	if t, ok := valueType(v); ok {
		return string(t)
	}
	return reflect.TypeOf(v).String()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
