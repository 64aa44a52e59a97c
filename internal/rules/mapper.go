package rules

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Result is the outcome of mapping one rule map: an object (or array, for
// rule maps rooted at "*") schema, plus whether any field takes a file
// upload, which switches the request to multipart encoding.
type Result struct {
	Schema    *openapi3.SchemaRef
	Multipart bool
}

// Mapper converts rule maps into schema trees. Stateless; one instance
// serves the whole process.
type Mapper struct {
	logger *slog.Logger
}

// NewMapper creates a Mapper.
func NewMapper(logger *slog.Logger) *Mapper {
	return &Mapper{logger: logger.With("component", "rule_mapper")}
}

// Map builds the schema for a rule map. Field paths use dots for nesting and
// "*" for array items ("tags.*.id"). Unknown rule keywords are ignored.
// Mapping is deterministic: fields weave in sorted path order, so parents
// land before their children.
func (m *Mapper) Map(ruleMap map[string]RuleSet) *Result {
	root := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: openapi3.Schemas{},
	}
	res := &Result{}

	paths := make([]string, 0, len(ruleMap))
	for p := range ruleMap {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		field, required, file := m.buildField(ruleMap[path])
		if file {
			res.Multipart = true
		}
		m.weave(root, path, field, required)
	}

	finalizeSchema(root)
	res.Schema = openapi3.NewSchemaRef("", root)
	return res
}

// buildField resolves one rule set into a schema node. Type keywords win in
// left-to-right order and default to string; size keywords are interpreted
// against the resolved base type afterwards.
func (m *Mapper) buildField(rs RuleSet) (schema *openapi3.Schema, required, file bool) {
	toks := make([]token, 0, len(rs))
	for _, raw := range rs {
		toks = append(toks, parseToken(raw))
	}

	base, format := "", ""
	for _, t := range toks {
		switch t.name {
		case "string":
			base, format = "string", ""
		case "integer", "int":
			base, format = "integer", ""
		case "numeric", "number":
			base, format = "number", ""
		case "boolean", "bool", "accepted", "declined":
			base, format = "boolean", ""
		case "array":
			base, format = "array", ""
		case "object", "json":
			base, format = "object", ""
		case "email":
			base, format = "string", "email"
		case "url", "active_url":
			base, format = "string", "uri"
		case "uuid":
			base, format = "string", "uuid"
		case "ip":
			base, format = "string", "ip"
		case "ipv4":
			base, format = "string", "ipv4"
		case "ipv6":
			base, format = "string", "ipv6"
		case "date":
			base, format = "string", "date"
		case "date_format", "datetime":
			base, format = "string", "date-time"
		case "digits", "digits_between":
			base, format = "integer", ""
		case "file", "image":
			base, format = "string", "binary"
			file = true
		}
	}
	if base == "" {
		base = "string"
	}

	s := &openapi3.Schema{Type: &openapi3.Types{base}, Format: format}
	for _, t := range toks {
		switch t.name {
		case "required":
			required = true
		case "nullable":
			s.Nullable = true
		case "min":
			applyMin(s, base, t.arg(0))
		case "max":
			applyMax(s, base, t.arg(0))
		case "between":
			applyMin(s, base, t.arg(0))
			applyMax(s, base, t.arg(1))
		case "size":
			applyMin(s, base, t.arg(0))
			applyMax(s, base, t.arg(0))
		case "in":
			s.Enum = enumValues(base, t.args)
		case "regex":
			s.Pattern = stripRegexDelimiters(t.rawArg)
		case "sometimes", "confirmed", "filled", "present", "bail",
			"distinct", "exists", "unique", "not_in",
			"digits", "digits_between", "accepted", "declined",
			"string", "integer", "int", "numeric", "number", "boolean",
			"bool", "array", "object", "json", "email", "url",
			"active_url", "uuid", "ip", "ipv4", "ipv6", "date",
			"date_format", "datetime", "file", "image":
			// type keywords were handled above, the rest carry no
			// schema meaning
		default:
			if m.logger != nil {
				m.logger.Debug("Ignoring unknown rule keyword.", slog.String("keyword", t.name))
			}
		}
	}
	return s, required, file
}

// weave places a field schema at its dotted path under root, creating
// intermediate objects and arrays on demand. A trailing "*" targets array
// items; requiredness is recorded on the owning object only, never
// inherited.
func (m *Mapper) weave(root *openapi3.Schema, path string, field *openapi3.Schema, required bool) {
	cur := root
	segs := strings.Split(path, ".")
	for i, seg := range segs {
		last := i == len(segs)-1
		if seg == "*" {
			cur = ensureArrayItems(cur)
			if last {
				mergeInto(cur, field)
			}
			continue
		}
		ensureObject(cur)
		if !last {
			cur = ensureChild(cur, seg)
			continue
		}
		if existing, ok := cur.Properties[seg]; ok && existing != nil && existing.Value != nil {
			mergeInto(existing.Value, field)
		} else {
			cur.Properties[seg] = openapi3.NewSchemaRef("", field)
		}
		if required {
			cur.Required = appendUnique(cur.Required, seg)
		}
	}
}

// ensureObject makes the node able to carry named properties. A bare
// "array" declaration whose children arrive through dotted paths describes
// an associative structure, so it converts to an object and sheds its item
// counts. Arrays built through "*" keep their shape.
func ensureObject(s *openapi3.Schema) {
	if s.Properties == nil {
		s.Properties = openapi3.Schemas{}
	}
	if typeIs(s, "array") {
		if s.Items != nil {
			return
		}
		s.MinItems = 0
		s.MaxItems = nil
	}
	if !typeIs(s, "object") {
		s.Type = &openapi3.Types{"object"}
	}
}

// ensureChild returns the named property, creating an empty object node when
// absent. An existing node of any type is reused so array fields keep their
// declared rules when deeper paths arrive.
func ensureChild(cur *openapi3.Schema, seg string) *openapi3.Schema {
	if ref, ok := cur.Properties[seg]; ok && ref != nil && ref.Value != nil {
		return ref.Value
	}
	child := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: openapi3.Schemas{},
	}
	cur.Properties[seg] = openapi3.NewSchemaRef("", child)
	return child
}

// ensureArrayItems turns the node into an array (unless it already carries
// named children) and returns its items node.
func ensureArrayItems(s *openapi3.Schema) *openapi3.Schema {
	if !typeIs(s, "array") {
		if len(s.Properties) > 0 {
			return s
		}
		s.Type = &openapi3.Types{"array"}
	}
	if s.Items == nil || s.Items.Value == nil {
		s.Items = openapi3.NewSchemaRef("", &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Properties: openapi3.Schemas{},
		})
	}
	return s.Items.Value
}

// mergeInto applies a field schema onto an existing node. A node that
// already carries children keeps them; the incoming rules only contribute
// annotations. Anything else adopts the incoming schema wholesale.
func mergeInto(dst, src *openapi3.Schema) {
	if len(dst.Properties) > 0 {
		dst.Nullable = dst.Nullable || src.Nullable
		if src.Description != "" {
			dst.Description = src.Description
		}
		return
	}
	*dst = *src
}

// finalizeSchema fills the gaps mapping leaves behind: arrays declared by a
// bare "array" rule get a permissive items node.
func finalizeSchema(s *openapi3.Schema) {
	if typeIs(s, "array") && s.Items == nil {
		s.Items = openapi3.NewSchemaRef("", &openapi3.Schema{})
	}
	if s.Items != nil && s.Items.Value != nil {
		finalizeSchema(s.Items.Value)
	}
	for _, ref := range s.Properties {
		if ref != nil && ref.Value != nil {
			finalizeSchema(ref.Value)
		}
	}
}

func typeIs(s *openapi3.Schema, t string) bool {
	return s.Type != nil && len(*s.Type) > 0 && (*s.Type)[0] == t
}

func applyMin(s *openapi3.Schema, base, raw string) {
	if raw == "" {
		return
	}
	switch base {
	case "integer", "number":
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			s.Min = &f
		}
	case "array":
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			s.MinItems = n
		}
	default:
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			s.MinLength = n
		}
	}
}

func applyMax(s *openapi3.Schema, base, raw string) {
	if raw == "" {
		return
	}
	switch base {
	case "integer", "number":
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			s.Max = &f
		}
	case "array":
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			s.MaxItems = &n
		}
	default:
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			s.MaxLength = &n
		}
	}
}

func enumValues(base string, args []string) []interface{} {
	out := make([]interface{}, 0, len(args))
	for _, a := range args {
		switch base {
		case "integer":
			if n, err := strconv.ParseInt(a, 10, 64); err == nil {
				out = append(out, n)
				continue
			}
		case "number":
			if f, err := strconv.ParseFloat(a, 64); err == nil {
				out = append(out, f)
				continue
			}
		case "boolean":
			if b, err := strconv.ParseBool(a); err == nil {
				out = append(out, b)
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

// stripRegexDelimiters removes the /.../flags wrapping rule authors carry
// over from PCRE-style validators.
func stripRegexDelimiters(p string) string {
	if len(p) < 2 || !strings.HasPrefix(p, "/") {
		return p
	}
	end := strings.LastIndex(p, "/")
	if end <= 0 {
		return p
	}
	return p[1:end]
}

func appendUnique(list []string, v string) []string {
	for _, e := range list {
		if e == v {
			return list
		}
	}
	return append(list, v)
}
