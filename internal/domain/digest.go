package domain

import "time"

// SourceDigest is the serializable product of parsing one source file: the
// facts extractors consume, detached from AST positions so the digest can be
// cached on disk between runs. Built by the source cache, one per file.
type SourceDigest struct {
	Path    string
	ModTime time.Time
	// Funcs is keyed by "Receiver.Name" for methods and "Name" for free
	// functions.
	Funcs   map[string]FuncDigest
	Structs map[string]StructDigest
}

// FuncFor resolves the digest entry for a handler reference, preferring the
// method key when the reference names a receiver type.
func (d *SourceDigest) FuncFor(ref HandlerRef) (FuncDigest, bool) {
	if d == nil || ref.Func == "" {
		return FuncDigest{}, false
	}
	if ref.Type != "" {
		if f, ok := d.Funcs[ref.Type+"."+ref.Func]; ok {
			return f, true
		}
	}
	f, ok := d.Funcs[ref.Func]
	return f, ok
}

// Struct resolves a struct digest by type name.
func (d *SourceDigest) Struct(name string) (StructDigest, bool) {
	if d == nil {
		return StructDigest{}, false
	}
	s, ok := d.Structs[name]
	return s, ok
}

// FuncDigest summarizes one function or method declaration.
type FuncDigest struct {
	Name     string
	Receiver string
	Line     int
	// Directives are the apidoc: annotations from the doc comment.
	Directives []Annotation
	// RuleLiterals are validation rule maps declared in the body.
	RuleLiterals []RuleLiteral
	// BindTargets are type names the body decodes a request into
	// (json.Decode, Bind, Unmarshal call arguments).
	BindTargets []string
	// QueryKeys are query parameter reads observed in the body.
	QueryKeys []QueryKey
	// ResponseHints are response-writing calls observed in the body.
	ResponseHints []ResponseHint
	// ReturnTypes are the declared result type names, for handlers that
	// return their view instead of writing it.
	ReturnTypes []string
}

// RuleLiteral is one validation rule map found in source. Values keep the
// declared form: list entries stay as-is, a pipe string arrives as a single
// element and is split downstream.
type RuleLiteral struct {
	Line  int
	Rules map[string][]string
}

// QueryKey records one query-parameter read, e.g. r.URL.Query().Get("page").
type QueryKey struct {
	Name string
	Line int
	// Default is the fallback literal for DefaultQuery-style reads.
	Default string
	// Type is the scalar type implied by the call ("integer" for an
	// atoi-wrapped read); empty means string.
	Type string
}

// ResponseHint records one response-writing call site.
type ResponseHint struct {
	Line int
	// Status is the resolved HTTP status, 0 when not statically known.
	Status int
	// TypeName names the payload type when the payload is a named struct
	// (or a slice of one, with Array set).
	TypeName string
	Array    bool
	// Fields carries inline object keys for map and anonymous struct
	// payloads, with guessed scalar types.
	Fields []HintField
}

// HintField is one key of an inline response payload.
type HintField struct {
	Name string
	Type string
}

// StructDigest summarizes an exported struct declaration.
type StructDigest struct {
	Name   string
	Line   int
	Fields []FieldDigest
}

// FieldDigest is one exported struct field with its wire metadata.
type FieldDigest struct {
	Name     string
	JSONName string
	GoType   string
	// Optional is set for pointer fields and ",omitempty" tags.
	Optional bool
	Validate string
}
