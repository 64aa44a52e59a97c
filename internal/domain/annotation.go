package domain

import "strings"

// AnnotationPrefix introduces a machine-readable doc-comment directive on a
// handler declaration, e.g. "//apidoc:summary List active users".
const AnnotationPrefix = "apidoc:"

// Annotation is one parsed directive. Raw is the full argument string after
// the name; Args is Raw split on whitespace for directives with positional
// arguments ("response 201 UserView created").
type Annotation struct {
	Name string   `json:"name"`
	Raw  string   `json:"raw,omitempty"`
	Args []string `json:"args,omitempty"`
}

// AnnotationSet groups the directives resolved for one handler, keyed by
// directive name. Directives are repeatable, so every name maps to a slice in
// source order.
type AnnotationSet map[string][]Annotation

// Has reports whether at least one directive with the given name exists.
func (s AnnotationSet) Has(name string) bool {
	return len(s[name]) > 0
}

// First returns the first directive with the given name.
func (s AnnotationSet) First(name string) (Annotation, bool) {
	if list := s[name]; len(list) > 0 {
		return list[0], true
	}
	return Annotation{}, false
}

// All returns every directive with the given name, in source order.
func (s AnnotationSet) All(name string) []Annotation {
	return s[name]
}

// Add appends a directive, allocating the set on first use.
func (s *AnnotationSet) Add(a Annotation) {
	if *s == nil {
		*s = AnnotationSet{}
	}
	(*s)[a.Name] = append((*s)[a.Name], a)
}

// ParseAnnotation parses a single comment line into a directive. The line may
// still carry the comment marker. Returns false for ordinary prose comments.
func ParseAnnotation(line string) (Annotation, bool) {
	text := strings.TrimSpace(line)
	text = strings.TrimPrefix(text, "//")
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, AnnotationPrefix) {
		return Annotation{}, false
	}
	text = text[len(AnnotationPrefix):]
	name, raw, _ := strings.Cut(text, " ")
	name = strings.TrimSpace(name)
	if name == "" {
		return Annotation{}, false
	}
	raw = strings.TrimSpace(raw)
	a := Annotation{Name: name, Raw: raw}
	if raw != "" {
		a.Args = strings.Fields(raw)
	}
	return a, true
}
