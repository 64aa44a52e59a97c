package schemareg_test

import (
	"log/slog"
	"os"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routelens/routelens/internal/schemareg"
)

func newTestRegistry(t *testing.T) *schemareg.Registry {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return schemareg.New(logger)
}

func objectSchema(props map[string]*openapi3.Schema, required ...string) *openapi3.SchemaRef {
	properties := openapi3.Schemas{}
	for name, s := range props {
		properties[name] = openapi3.NewSchemaRef("", s)
	}
	return openapi3.NewSchemaRef("", &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: properties,
		Required:   required,
	})
}

func stringSchema() *openapi3.Schema {
	return &openapi3.Schema{Type: &openapi3.Types{"string"}}
}

func TestFingerprintIgnoresProseAndOrder(t *testing.T) {
	assert := assert.New(t)

	tests := []struct {
		name string
		a    *openapi3.SchemaRef
		b    *openapi3.SchemaRef
		same bool
	}{
		{
			name: "Descriptions and examples do not count",
			a: openapi3.NewSchemaRef("", &openapi3.Schema{
				Type:        &openapi3.Types{"string"},
				Description: "a user name",
				Example:     "alice",
			}),
			b:    openapi3.NewSchemaRef("", stringSchema()),
			same: true,
		},
		{
			name: "Enum order does not count",
			a: openapi3.NewSchemaRef("", &openapi3.Schema{
				Type: &openapi3.Types{"string"},
				Enum: []interface{}{"a", "b", "c"},
			}),
			b: openapi3.NewSchemaRef("", &openapi3.Schema{
				Type: &openapi3.Types{"string"},
				Enum: []interface{}{"c", "a", "b"},
			}),
			same: true,
		},
		{
			name: "Required order does not count",
			a:    objectSchema(map[string]*openapi3.Schema{"x": stringSchema(), "y": stringSchema()}, "x", "y"),
			b:    objectSchema(map[string]*openapi3.Schema{"x": stringSchema(), "y": stringSchema()}, "y", "x"),
			same: true,
		},
		{
			name: "Type changes count",
			a:    openapi3.NewSchemaRef("", stringSchema()),
			b:    openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"integer"}}),
			same: false,
		},
		{
			name: "Property set changes count",
			a:    objectSchema(map[string]*openapi3.Schema{"x": stringSchema()}),
			b:    objectSchema(map[string]*openapi3.Schema{"x": stringSchema(), "y": stringSchema()}),
			same: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa, fb := schemareg.Fingerprint(tt.a), schemareg.Fingerprint(tt.b)
			assert.NotEmpty(fa)
			if tt.same {
				assert.Equal(fa, fb)
			} else {
				assert.NotEqual(fa, fb)
			}
		})
	}
}

func TestFingerprintOfReferenceNodes(t *testing.T) {
	assert := assert.New(t)
	ref := openapi3.NewSchemaRef(schemareg.RefPrefix+"UserView", nil)
	assert.Equal("ref:"+schemareg.RefPrefix+"UserView", schemareg.Fingerprint(ref))
}

func TestFingerprintDoesNotMutateInput(t *testing.T) {
	assert := assert.New(t)
	in := openapi3.NewSchemaRef("", &openapi3.Schema{
		Type:        &openapi3.Types{"string"},
		Description: "keep me",
		Enum:        []interface{}{"b", "a"},
	})
	_ = schemareg.Fingerprint(in)
	assert.Equal("keep me", in.Value.Description)
	assert.Equal([]interface{}{"b", "a"}, in.Value.Enum)
}

func TestRegisterDeduplicatesByContent(t *testing.T) {
	assert := assert.New(t)
	reg := newTestRegistry(t)

	nested := func(desc string) *openapi3.SchemaRef {
		inner := objectSchema(map[string]*openapi3.Schema{"street": stringSchema()})
		return openapi3.NewSchemaRef("", &openapi3.Schema{
			Type:        &openapi3.Types{"object"},
			Description: desc,
			Properties:  openapi3.Schemas{"address": inner},
		})
	}

	first := reg.Register("UserView", nested("first copy"))
	second := reg.Register("SomethingElse", nested("second copy, same shape"))

	assert.Equal(schemareg.RefPrefix+"UserView", first.Ref)
	assert.Equal(first.Ref, second.Ref)
	assert.Equal(1, reg.Len())

	stored, ok := reg.Find("UserView")
	assert.True(ok)
	// the catalogue keeps the first registration's prose
	assert.Equal("first copy", stored.Value.Description)
}

func TestRegisterAllocatesDistinctNames(t *testing.T) {
	assert := assert.New(t)
	reg := newTestRegistry(t)

	a := objectSchema(map[string]*openapi3.Schema{
		"x": {Type: &openapi3.Types{"object"}, Properties: openapi3.Schemas{"v": openapi3.NewSchemaRef("", stringSchema())}},
	})
	b := objectSchema(map[string]*openapi3.Schema{
		"y": {Type: &openapi3.Types{"object"}, Properties: openapi3.Schemas{"v": openapi3.NewSchemaRef("", stringSchema())}},
	})

	first := reg.Register("user view", a)
	second := reg.Register("user view", b)

	assert.Equal(schemareg.RefPrefix+"UserView", first.Ref)
	assert.Equal(schemareg.RefPrefix+"UserView2", second.Ref)
	assert.Equal(2, reg.Len())
}

func TestRegisterPassesThroughRefsAndNil(t *testing.T) {
	assert := assert.New(t)
	reg := newTestRegistry(t)

	ref := openapi3.NewSchemaRef(schemareg.RefPrefix+"Existing", nil)
	assert.Same(ref, reg.Register("hint", ref))
	assert.Nil(reg.Register("hint", nil))
	assert.Equal(0, reg.Len())
}

func TestRegisterIfComplex(t *testing.T) {
	assert := assert.New(t)

	flat := objectSchema(map[string]*openapi3.Schema{
		"name": stringSchema(),
		"age":  {Type: &openapi3.Types{"integer"}},
	})
	nested := objectSchema(map[string]*openapi3.Schema{
		"address": {Type: &openapi3.Types{"object"}, Properties: openapi3.Schemas{"street": openapi3.NewSchemaRef("", stringSchema())}},
	})
	withList := objectSchema(map[string]*openapi3.Schema{
		"tags": {Type: &openapi3.Types{"array"}, Items: openapi3.NewSchemaRef("", stringSchema())},
	})
	arrayOfObjects := openapi3.NewSchemaRef("", &openapi3.Schema{
		Type:  &openapi3.Types{"array"},
		Items: objectSchema(map[string]*openapi3.Schema{"id": {Type: &openapi3.Types{"integer"}}}),
	})
	scalar := openapi3.NewSchemaRef("", stringSchema())

	tests := []struct {
		name     string
		in       *openapi3.SchemaRef
		register bool
	}{
		{"Flat object stays inline", flat, false},
		{"Nested object registers", nested, true},
		{"Object with array property registers", withList, true},
		{"Array of objects registers", arrayOfObjects, true},
		{"Scalar stays inline", scalar, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newTestRegistry(t)
			out := reg.RegisterIfComplex("Thing", tt.in)
			if tt.register {
				assert.NotEmpty(out.Ref)
				assert.Equal(1, reg.Len())
			} else {
				assert.Same(tt.in, out)
				assert.Equal(0, reg.Len())
			}
		})
	}
}

func TestResetClearsCatalogue(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	reg := newTestRegistry(t)

	nested := objectSchema(map[string]*openapi3.Schema{
		"inner": {Type: &openapi3.Types{"object"}, Properties: openapi3.Schemas{"v": openapi3.NewSchemaRef("", stringSchema())}},
	})
	out := reg.Register("Thing", nested)
	require.Equal(schemareg.RefPrefix+"Thing", out.Ref)

	reg.Reset()
	assert.Equal(0, reg.Len())

	// after reset the same content allocates fresh
	again := reg.Register("Other", nested)
	assert.Equal(schemareg.RefPrefix+"Other", again.Ref)
}
