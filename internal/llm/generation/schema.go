package generation

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Schema is the subset of JSON Schema used for response shapes.
type Schema struct {
	Type                 string             `json:"type,omitempty"`
	Description          string             `json:"description,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Enum                 []any              `json:"enum,omitempty"`
	Minimum              *float64           `json:"minimum,omitempty"`
	Maximum              *float64           `json:"maximum,omitempty"`
	MinItems             *int               `json:"minItems,omitempty"`
	AdditionalProperties *bool              `json:"additionalProperties,omitempty"`
}

// SchemaFor derives a schema from a payload struct. Every exported field is
// required; the desc, enum, min and max struct tags refine the property.
func SchemaFor(v any) *Schema {
	return schemaFromType(reflect.TypeOf(v), "")
}

func schemaFromType(t reflect.Type, tag reflect.StructTag) *Schema {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	s := &Schema{Description: tag.Get("desc")}
	switch t.Kind() {
	case reflect.String:
		s.Type = "string"
		if enum := tag.Get("enum"); enum != "" {
			for _, e := range strings.Split(enum, "|") {
				s.Enum = append(s.Enum, e)
			}
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		s.Type = "integer"
	case reflect.Float32, reflect.Float64:
		s.Type = "number"
	case reflect.Bool:
		s.Type = "boolean"
	case reflect.Slice, reflect.Array:
		s.Type = "array"
		s.Items = schemaFromType(t.Elem(), "")
		if n, err := strconv.Atoi(tag.Get("min")); err == nil {
			s.MinItems = &n
		}
	case reflect.Struct:
		closed := false
		s.Type = "object"
		s.AdditionalProperties = &closed
		s.Properties = make(map[string]*Schema, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name := field.Name
			if jsonTag := field.Tag.Get("json"); jsonTag != "" {
				if jsonTag == "-" {
					continue
				}
				if n, _, _ := strings.Cut(jsonTag, ","); n != "" {
					name = n
				}
			}
			s.Properties[name] = schemaFromType(field.Type, field.Tag)
			s.Required = append(s.Required, name)
		}
	case reflect.Map:
		s.Type = "object"
	}

	if s.Type == "integer" || s.Type == "number" {
		if f, err := strconv.ParseFloat(tag.Get("min"), 64); err == nil {
			s.Minimum = &f
		}
		if f, err := strconv.ParseFloat(tag.Get("max"), 64); err == nil {
			s.Maximum = &f
		}
	}
	return s
}

// JSON returns the schema encoded for a provider request.
func (s *Schema) JSON() json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

// Validate checks decoded JSON data against s and returns every violation.
func (s *Schema) Validate(data any) []string {
	var errs []string
	s.validate(data, "", &errs)
	return errs
}

func (s *Schema) validate(value any, path string, errs *[]string) {
	if s == nil {
		return
	}

	if s.Type != "" && !checkType(s.Type, value) {
		*errs = append(*errs, fmt.Sprintf("%s: expected type %s, got %T", pathOrRoot(path), s.Type, value))
		return
	}

	switch s.Type {
	case "object":
		obj, _ := value.(map[string]any)
		for _, req := range s.Required {
			if _, ok := obj[req]; !ok {
				*errs = append(*errs, fmt.Sprintf("%s: missing required field '%s'", pathOrRoot(path), req))
			}
		}
		for name, prop := range s.Properties {
			if v, ok := obj[name]; ok {
				prop.validate(v, joinPath(path, name), errs)
			}
		}
	case "array":
		items, _ := value.([]any)
		if s.MinItems != nil && len(items) < *s.MinItems {
			*errs = append(*errs, fmt.Sprintf("%s: %d items is less than minimum %d", pathOrRoot(path), len(items), *s.MinItems))
		}
		for i, item := range items {
			s.Items.validate(item, fmt.Sprintf("%s[%d]", path, i), errs)
		}
	case "number", "integer":
		num, _ := value.(float64)
		if s.Minimum != nil && num < *s.Minimum {
			*errs = append(*errs, fmt.Sprintf("%s: value %v is less than minimum %v", pathOrRoot(path), num, *s.Minimum))
		}
		if s.Maximum != nil && num > *s.Maximum {
			*errs = append(*errs, fmt.Sprintf("%s: value %v is greater than maximum %v", pathOrRoot(path), num, *s.Maximum))
		}
	}

	if len(s.Enum) > 0 {
		for _, option := range s.Enum {
			if reflect.DeepEqual(option, value) {
				return
			}
		}
		*errs = append(*errs, fmt.Sprintf("%s: value %v is not one of %v", pathOrRoot(path), value, s.Enum))
	}
}

// checkType matches values produced by encoding/json decoding into any.
func checkType(schemaType string, value any) bool {
	switch schemaType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "null":
		return value == nil
	}
	return false
}

func pathOrRoot(path string) string {
	if path == "" {
		return "root"
	}
	return path
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}

// extractJSON returns the first balanced JSON object in text, for providers
// that wrap structured output in prose or code fences.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escape {
			escape = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escape = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}
