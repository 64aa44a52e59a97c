// Package schemareg deduplicates inferred schemas: structurally identical
// payloads across endpoints collapse into one named component definition.
package schemareg

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/routelens/routelens/internal/domain"
)

// Fingerprint computes the content identity of a schema node. Reference
// nodes identify as their target; inline nodes hash their normalized
// canonical JSON, so schemas differing only in prose (descriptions, examples,
// titles) or in property and enum ordering fingerprint alike.
func Fingerprint(ref *openapi3.SchemaRef) string {
	if ref == nil {
		return ""
	}
	if ref.Ref != "" {
		return "ref:" + ref.Ref
	}
	norm := domain.CloneSchemaRef(ref)
	stripProse(norm)
	data, err := norm.MarshalJSON()
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// stripProse removes non-structural fields and orders the order-free lists.
// Nested reference nodes stay as references; their targets are someone
// else's identity.
func stripProse(ref *openapi3.SchemaRef) {
	if ref == nil || ref.Ref != "" || ref.Value == nil {
		return
	}
	s := ref.Value
	s.Description = ""
	s.Title = ""
	s.Example = nil
	sort.Strings(s.Required)
	sortEnum(s)

	stripProse(s.Items)
	stripProse(s.Not)
	for _, p := range s.Properties {
		stripProse(p)
	}
	for _, x := range s.OneOf {
		stripProse(x)
	}
	for _, x := range s.AnyOf {
		stripProse(x)
	}
	for _, x := range s.AllOf {
		stripProse(x)
	}
	if s.AdditionalProperties.Schema != nil {
		stripProse(s.AdditionalProperties.Schema)
	}
}

// sortEnum orders enum values by their JSON encoding so declaration order
// never leaks into the fingerprint.
func sortEnum(s *openapi3.Schema) {
	if len(s.Enum) < 2 {
		return
	}
	keys := make([]string, len(s.Enum))
	for i, v := range s.Enum {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		keys[i] = string(data)
	}
	sort.Sort(&enumSorter{keys: keys, vals: s.Enum})
}

type enumSorter struct {
	keys []string
	vals []interface{}
}

func (e *enumSorter) Len() int           { return len(e.keys) }
func (e *enumSorter) Less(i, j int) bool { return e.keys[i] < e.keys[j] }
func (e *enumSorter) Swap(i, j int) {
	e.keys[i], e.keys[j] = e.keys[j], e.keys[i]
	e.vals[i], e.vals[j] = e.vals[j], e.vals[i]
}
