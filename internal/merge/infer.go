package merge

import (
	"math"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
)

// InferSchema derives a schema from a decoded JSON value captured at
// runtime. Objects recurse into their properties, arrays sample their first
// element, and integral numbers map to integer because JSON decoding erases
// the int/float distinction. A null value becomes a nullable string since
// nothing better is known.
func InferSchema(v any) *openapi3.SchemaRef {
	schema := &openapi3.Schema{}
	switch val := v.(type) {
	case nil:
		schema.Type = &openapi3.Types{"string"}
		schema.Nullable = true
	case bool:
		schema.Type = &openapi3.Types{"boolean"}
	case string:
		schema.Type = &openapi3.Types{"string"}
	case float64:
		if val == math.Trunc(val) {
			schema.Type = &openapi3.Types{"integer"}
		} else {
			schema.Type = &openapi3.Types{"number"}
		}
	case int:
		schema.Type = &openapi3.Types{"integer"}
	case int64:
		schema.Type = &openapi3.Types{"integer"}
	case map[string]any:
		schema.Type = &openapi3.Types{"object"}
		schema.Properties = openapi3.Schemas{}
		for name, child := range val {
			schema.Properties[name] = InferSchema(child)
		}
	case []any:
		schema.Type = &openapi3.Types{"array"}
		if len(val) > 0 {
			schema.Items = InferSchema(val[0])
		} else {
			schema.Items = openapi3.NewSchemaRef("", &openapi3.Schema{})
		}
	default:
		schema.Type = &openapi3.Types{"string"}
	}
	return openapi3.NewSchemaRef("", schema)
}

// inferQueryType guesses a scalar type from a captured query string value.
func inferQueryType(value string) *openapi3.SchemaRef {
	schema := &openapi3.Schema{Type: &openapi3.Types{"string"}}
	if _, err := strconv.Atoi(value); err == nil {
		schema.Type = &openapi3.Types{"integer"}
	} else if _, err := strconv.ParseFloat(value, 64); err == nil {
		schema.Type = &openapi3.Types{"number"}
	} else if value == "true" || value == "false" {
		schema.Type = &openapi3.Types{"boolean"}
	}
	return openapi3.NewSchemaRef("", schema)
}
