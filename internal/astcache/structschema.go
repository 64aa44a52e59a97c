package astcache

import (
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/routelens/routelens/internal/domain"
)

// maxStructDepth bounds recursion through nested struct references.
const maxStructDepth = 8

// StructSchema builds an object schema for a struct recorded in a digest.
// Named field types resolve against the same digest; unknown names degrade
// to a permissive object. Returns nil when the type is not in the digest.
func StructSchema(d *domain.SourceDigest, typeName string) *openapi3.SchemaRef {
	sd, ok := d.Struct(strings.TrimPrefix(typeName, "*"))
	if !ok {
		return nil
	}
	seen := map[string]bool{sd.Name: true}
	return structRef(d, sd, seen, 0)
}

func structRef(d *domain.SourceDigest, sd domain.StructDigest, seen map[string]bool, depth int) *openapi3.SchemaRef {
	schema := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: openapi3.Schemas{},
	}
	for _, f := range sd.Fields {
		name := f.JSONName
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		schema.Properties[name] = fieldRef(d, f.GoType, seen, depth+1)
		if !f.Optional || strings.Contains(f.Validate, "required") {
			schema.Required = append(schema.Required, name)
		}
	}
	sort.Strings(schema.Required)
	return openapi3.NewSchemaRef("", schema)
}

func fieldRef(d *domain.SourceDigest, goType string, seen map[string]bool, depth int) *openapi3.SchemaRef {
	goType = strings.TrimPrefix(goType, "*")
	switch {
	case goType == "[]byte":
		return openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "byte"})
	case strings.HasPrefix(goType, "[]"):
		return openapi3.NewSchemaRef("", &openapi3.Schema{
			Type:  &openapi3.Types{"array"},
			Items: fieldRef(d, goType[2:], seen, depth+1),
		})
	case strings.HasPrefix(goType, "map["):
		return openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"object"}})
	}
	if s, ok := scalarSchema(goType); ok {
		return openapi3.NewSchemaRef("", s)
	}
	if depth >= maxStructDepth || seen[goType] {
		return openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"object"}})
	}
	if sd, ok := d.Struct(goType); ok {
		seen[goType] = true
		ref := structRef(d, sd, seen, depth)
		delete(seen, goType)
		return ref
	}
	return openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"object"}})
}

func scalarSchema(goType string) (*openapi3.Schema, bool) {
	switch goType {
	case "string":
		return &openapi3.Schema{Type: &openapi3.Types{"string"}}, true
	case "bool":
		return &openapi3.Schema{Type: &openapi3.Types{"boolean"}}, true
	case "int", "int8", "int16", "int32", "uint", "uint8", "uint16", "uint32":
		return &openapi3.Schema{Type: &openapi3.Types{"integer"}}, true
	case "int64", "uint64":
		return &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}, true
	case "float32", "float64":
		return &openapi3.Schema{Type: &openapi3.Types{"number"}}, true
	case "time.Time":
		return &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}, true
	case "time.Duration":
		return &openapi3.Schema{Type: &openapi3.Types{"string"}}, true
	case "uuid.UUID":
		return &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "uuid"}, true
	case "json.RawMessage", "any", "interface{}":
		return &openapi3.Schema{}, true
	}
	return nil, false
}
