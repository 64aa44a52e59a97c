package rules_test

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/routelens/routelens/internal/rules"
)

func newTestMapper(t *testing.T) *rules.Mapper {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return rules.NewMapper(logger)
}

func schemaType(s *openapi3.Schema) string {
	if s == nil || s.Type == nil || len(*s.Type) == 0 {
		return ""
	}
	return (*s.Type)[0]
}

func prop(t *testing.T, s *openapi3.Schema, name string) *openapi3.Schema {
	t.Helper()
	ref, ok := s.Properties[name]
	require.True(t, ok, "property %q missing", name)
	require.NotNil(t, ref.Value, "property %q has no inline value", name)
	return ref.Value
}

func TestRuleSetForms(t *testing.T) {
	assert := assert.New(t)

	tests := []struct {
		name string
		in   any
		want rules.RuleSet
	}{
		{
			name: "Pipe string splits on bars",
			in:   "required|string|max:255",
			want: rules.RuleSet{"required", "string", "max:255"},
		},
		{
			name: "List form stays verbatim",
			in:   []string{"required", "regex:/^a|b$/"},
			want: rules.RuleSet{"required", "regex:/^a|b$/"},
		},
		{
			name: "Whitespace and empty tokens dropped",
			in:   " required | string ||max:10",
			want: rules.RuleSet{"required", "string", "max:10"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rules.Parse(tt.in)
			assert.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
}

func TestRuleSetDecoding(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var fromJSON struct {
		Name rules.RuleSet `json:"name"`
		Tags rules.RuleSet `json:"tags"`
	}
	require.NoError(json.Unmarshal([]byte(`{"name":"required|string","tags":["array","min:1"]}`), &fromJSON))
	assert.Equal(rules.RuleSet{"required", "string"}, fromJSON.Name)
	assert.Equal(rules.RuleSet{"array", "min:1"}, fromJSON.Tags)

	var fromYAML struct {
		Name rules.RuleSet `yaml:"name"`
		Tags rules.RuleSet `yaml:"tags"`
	}
	require.NoError(yaml.Unmarshal([]byte("name: required|string\ntags:\n  - array\n  - min:1\n"), &fromYAML))
	assert.Equal(fromJSON.Name, fromYAML.Name)
	assert.Equal(fromJSON.Tags, fromYAML.Tags)
}

// The string form and its expanded list form describe the same field, so
// both must map to identical schemas.
func TestStringAndListFormsMapAlike(t *testing.T) {
	require := require.New(t)
	m := newTestMapper(t)

	asString := m.Map(map[string]rules.RuleSet{
		"email": rules.Split("required|email|max:120"),
	})
	asList := m.Map(map[string]rules.RuleSet{
		"email": {"required", "email", "max:120"},
	})

	wantJSON, err := asString.Schema.MarshalJSON()
	require.NoError(err)
	gotJSON, err := asList.Schema.MarshalJSON()
	require.NoError(err)
	require.JSONEq(string(wantJSON), string(gotJSON))
}

func TestMapScalarFields(t *testing.T) {
	assert := assert.New(t)
	m := newTestMapper(t)

	res := m.Map(map[string]rules.RuleSet{
		"name":   rules.Split("required|string|max:255"),
		"age":    rules.Split("integer|between:18,99"),
		"score":  rules.Split("numeric|min:0"),
		"role":   rules.Split("in:admin,editor,viewer"),
		"level":  rules.Split("integer|in:1,2,3"),
		"email":  rules.Split("required|email"),
		"active": rules.Split("boolean"),
		"bio":    rules.Split("nullable|string"),
		"ref":    rules.Split("regex:/^[A-Z]{3}-[0-9]+$/"),
	})

	root := res.Schema.Value
	assert.Equal("object", schemaType(root))
	assert.False(res.Multipart)

	name := prop(t, root, "name")
	assert.Equal("string", schemaType(name))
	if assert.NotNil(name.MaxLength) {
		assert.Equal(uint64(255), *name.MaxLength)
	}

	age := prop(t, root, "age")
	assert.Equal("integer", schemaType(age))
	if assert.NotNil(age.Min) && assert.NotNil(age.Max) {
		assert.Equal(float64(18), *age.Min)
		assert.Equal(float64(99), *age.Max)
	}

	score := prop(t, root, "score")
	assert.Equal("number", schemaType(score))
	if assert.NotNil(score.Min) {
		assert.Equal(float64(0), *score.Min)
	}

	role := prop(t, root, "role")
	assert.Equal([]interface{}{"admin", "editor", "viewer"}, role.Enum)

	level := prop(t, root, "level")
	assert.Equal([]interface{}{int64(1), int64(2), int64(3)}, level.Enum)

	email := prop(t, root, "email")
	assert.Equal("email", email.Format)

	assert.Equal("boolean", schemaType(prop(t, root, "active")))
	assert.True(prop(t, root, "bio").Nullable)
	assert.Equal("^[A-Z]{3}-[0-9]+$", prop(t, root, "ref").Pattern)

	// requiredness comes only from each field's own token
	assert.ElementsMatch([]string{"name", "email"}, root.Required)
}

// A parent path and its child paths reconstruct one nested object, with the
// parent's own rules applied to the object node.
func TestMapNestedPaths(t *testing.T) {
	assert := assert.New(t)
	m := newTestMapper(t)

	res := m.Map(map[string]rules.RuleSet{
		"address":         rules.Split("required|array"),
		"address.street":  rules.Split("required|string"),
		"address.city":    rules.Split("string"),
		"address.zip":     rules.Split("required|string|size:5"),
		"profile.twitter": rules.Split("url"),
	})

	root := res.Schema.Value
	assert.ElementsMatch([]string{"address"}, root.Required)

	address := prop(t, root, "address")
	// the dotted children win over the bare "array" declaration
	assert.Equal("object", schemaType(address))
	assert.ElementsMatch([]string{"street", "zip"}, address.Required)

	zip := prop(t, address, "zip")
	if assert.NotNil(zip.MaxLength) {
		assert.Equal(uint64(5), *zip.MaxLength)
	}
	assert.Equal(uint64(5), zip.MinLength)

	profile := prop(t, root, "profile")
	assert.Equal("object", schemaType(profile))
	assert.Empty(profile.Required)
	assert.Equal("uri", prop(t, profile, "twitter").Format)
}

func TestMapWildcardArrays(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	m := newTestMapper(t)

	res := m.Map(map[string]rules.RuleSet{
		"tags":        rules.Split("required|array|min:1"),
		"tags.*.id":   rules.Split("required|integer"),
		"tags.*.name": rules.Split("string"),
		"codes.*":     rules.Split("integer"),
	})

	root := res.Schema.Value

	tags := prop(t, root, "tags")
	assert.Equal("array", schemaType(tags))
	assert.Equal(uint64(1), tags.MinItems)
	require.NotNil(tags.Items)
	require.NotNil(tags.Items.Value)
	item := tags.Items.Value
	assert.Equal("object", schemaType(item))
	assert.Equal("integer", schemaType(prop(t, item, "id")))
	assert.ElementsMatch([]string{"id"}, item.Required)

	codes := prop(t, root, "codes")
	assert.Equal("array", schemaType(codes))
	require.NotNil(codes.Items)
	require.NotNil(codes.Items.Value)
	assert.Equal("integer", schemaType(codes.Items.Value))
}

func TestMapRootWildcard(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	m := newTestMapper(t)

	res := m.Map(map[string]rules.RuleSet{
		"*.id":   rules.Split("required|integer"),
		"*.name": rules.Split("string"),
	})

	root := res.Schema.Value
	assert.Equal("array", schemaType(root))
	require.NotNil(root.Items)
	require.NotNil(root.Items.Value)
	item := root.Items.Value
	assert.Equal("integer", schemaType(prop(t, item, "id")))
	assert.ElementsMatch([]string{"id"}, item.Required)
}

func TestMapFileRulesFlagMultipart(t *testing.T) {
	assert := assert.New(t)
	m := newTestMapper(t)

	res := m.Map(map[string]rules.RuleSet{
		"title":  rules.Split("required|string"),
		"avatar": rules.Split("required|image|max:2048"),
	})

	assert.True(res.Multipart)
	avatar := prop(t, res.Schema.Value, "avatar")
	assert.Equal("string", schemaType(avatar))
	assert.Equal("binary", avatar.Format)
}

func TestMapIgnoresUnknownKeywords(t *testing.T) {
	assert := assert.New(t)
	m := newTestMapper(t)

	res := m.Map(map[string]rules.RuleSet{
		"name": rules.Split("required|string|made_up_rule:42|exists:users,id"),
	})

	name := prop(t, res.Schema.Value, "name")
	assert.Equal("string", schemaType(name))
	assert.ElementsMatch([]string{"name"}, res.Schema.Value.Required)
}

func TestMapDateAndFormatRules(t *testing.T) {
	assert := assert.New(t)
	m := newTestMapper(t)

	res := m.Map(map[string]rules.RuleSet{
		"born":    rules.Split("date"),
		"seen":    {"date_format:Y-m-d H:i:s"},
		"website": rules.Split("url"),
		"id":      rules.Split("uuid"),
	})

	root := res.Schema.Value
	assert.Equal("date", prop(t, root, "born").Format)
	assert.Equal("date-time", prop(t, root, "seen").Format)
	assert.Equal("uri", prop(t, root, "website").Format)
	assert.Equal("uuid", prop(t, root, "id").Format)
}

func TestMapDeterministicAcrossOrderings(t *testing.T) {
	require := require.New(t)
	m := newTestMapper(t)

	// same rule map built twice; map iteration order must not leak into
	// the result
	build := func() string {
		res := m.Map(map[string]rules.RuleSet{
			"b.x": rules.Split("required|string"),
			"a":   rules.Split("integer"),
			"b":   rules.Split("required"),
			"c.*": rules.Split("string"),
		})
		data, err := res.Schema.MarshalJSON()
		require.NoError(err)
		return string(data)
	}

	first := build()
	for i := 0; i < 10; i++ {
		require.JSONEq(first, build())
	}
}
