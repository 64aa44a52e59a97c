package schemareg

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/routelens/routelens/internal/domain"
)

// RefPrefix is where registered definitions live in the output document.
const RefPrefix = "#/components/schemas/"

// Registry owns the shared schema catalogue for one documentation build.
// Registering a schema whose fingerprint is already known returns a
// reference to the existing definition instead of a second copy.
type Registry struct {
	mu            sync.RWMutex
	logger        *slog.Logger
	byFingerprint map[string]string
	schemas       map[string]*openapi3.SchemaRef
	counter       int
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger:        logger.With("component", "schema_registry"),
		byFingerprint: make(map[string]string),
		schemas:       make(map[string]*openapi3.SchemaRef),
	}
}

// Register stores the schema under a name derived from hint and returns a
// reference node pointing at it. A schema with a known fingerprint reuses
// the existing name; reference nodes and unhashable schemas come back
// unchanged.
func (r *Registry) Register(hint string, ref *openapi3.SchemaRef) *openapi3.SchemaRef {
	if ref == nil || ref.Ref != "" {
		return ref
	}
	fp := Fingerprint(ref)
	if fp == "" {
		return ref
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if name, ok := r.byFingerprint[fp]; ok {
		r.logger.Debug("Reusing registered schema.", slog.String("name", name))
		return openapi3.NewSchemaRef(RefPrefix+name, nil)
	}
	name := r.allocateName(hint)
	r.schemas[name] = domain.CloneSchemaRef(ref)
	r.byFingerprint[fp] = name
	r.logger.Debug("Registered schema.", slog.String("name", name), slog.String("hint", hint))
	return openapi3.NewSchemaRef(RefPrefix+name, nil)
}

// RegisterIfComplex registers only schemas worth naming; scalars and flat
// objects stay inline where they were inferred.
func (r *Registry) RegisterIfComplex(hint string, ref *openapi3.SchemaRef) *openapi3.SchemaRef {
	if !Complex(ref) {
		return ref
	}
	return r.Register(hint, ref)
}

// Complex reports whether a schema is structured enough to deserve a shared
// definition: an object with at least one structured property, or an array
// of objects.
func Complex(ref *openapi3.SchemaRef) bool {
	if ref == nil || ref.Ref != "" || ref.Value == nil {
		return false
	}
	s := ref.Value
	switch {
	case typeIs(s, "object"):
		for _, p := range s.Properties {
			if p == nil {
				continue
			}
			if p.Ref != "" {
				return true
			}
			if p.Value != nil && (typeIs(p.Value, "object") || typeIs(p.Value, "array")) {
				return true
			}
		}
	case typeIs(s, "array"):
		if s.Items == nil {
			return false
		}
		if s.Items.Ref != "" {
			return true
		}
		return s.Items.Value != nil && typeIs(s.Items.Value, "object")
	}
	return false
}

// Find returns the stored definition for a component name.
func (r *Registry) Find(name string) (*openapi3.SchemaRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.schemas[name]
	return ref, ok
}

// Schemas returns a snapshot of the catalogue for the build result.
func (r *Registry) Schemas() map[string]*openapi3.SchemaRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*openapi3.SchemaRef, len(r.schemas))
	for name, ref := range r.schemas {
		out[name] = ref
	}
	return out
}

// Len reports how many definitions the catalogue holds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas)
}

// Reset clears the catalogue at a build boundary.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byFingerprint = make(map[string]string)
	r.schemas = make(map[string]*openapi3.SchemaRef)
	r.counter = 0
	r.logger.Debug("Schema registry reset.")
}

// allocateName turns the hint into an unused component name. Callers hold
// r.mu.
func (r *Registry) allocateName(hint string) string {
	base := sanitizeComponentName(hint)
	if base == "" {
		r.counter++
		base = fmt.Sprintf("Schema%d", r.counter)
	}
	name := base
	for i := 2; ; i++ {
		if _, taken := r.schemas[name]; !taken {
			return name
		}
		name = fmt.Sprintf("%s%d", base, i)
	}
}

// sanitizeComponentName keeps letters and digits, capitalizing the pieces in
// between, so "user view" and "user-view" both become "UserView".
func sanitizeComponentName(hint string) string {
	var b strings.Builder
	upper := true
	for _, r := range hint {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	out := b.String()
	if out != "" && unicode.IsDigit(rune(out[0])) {
		out = "Schema" + out
	}
	return out
}

func typeIs(s *openapi3.Schema, t string) bool {
	return s.Type != nil && len(*s.Type) > 0 && (*s.Type)[0] == t
}
