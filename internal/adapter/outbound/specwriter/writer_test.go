package specwriter_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/routelens/routelens/internal/adapter/outbound/specwriter"
	"github.com/routelens/routelens/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func userSchema() *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("", &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"id":   openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"integer"}}),
			"name": openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"string"}}),
		},
	})
}

func sampleResult() *domain.BuildResult {
	showRoute := domain.RouteInfo{
		URI:     "/users/{id}",
		Methods: []string{"GET"},
		PathParams: []domain.PathParam{
			{Name: "id", Constraint: "[0-9]+"},
		},
	}
	createRoute := domain.RouteInfo{
		URI:     "/users",
		Methods: []string{"POST"},
	}
	return &domain.BuildResult{
		Title:   "Notes API",
		Version: "1.2.0",
		Schemas: map[string]*openapi3.SchemaRef{
			"UserView": userSchema(),
		},
		Endpoints: []domain.EndpointDoc{
			{
				Route:       createRoute,
				Method:      "POST",
				OperationID: "createUser",
				Summary:     "Create a user",
				Tags:        []string{"users"},
				RequestBody: &domain.SchemaResult{
					Schema:      openapi3.NewSchemaRef("#/components/schemas/UserView", nil),
					ContentType: "application/json",
					Required:    true,
				},
				Responses: []domain.ResponseResult{
					{Status: 201, Schema: openapi3.NewSchemaRef("#/components/schemas/UserView", nil)},
					{Status: 422, Description: "Validation failed"},
				},
			},
			{
				Route:   showRoute,
				Method:  "GET",
				Summary: "Show a user",
				Parameters: []domain.ParameterResult{
					{Name: "expand", In: domain.ParamInQuery, Description: "Relations to embed"},
				},
				Responses: []domain.ResponseResult{
					{
						Status:  200,
						Schema:  openapi3.NewSchemaRef("#/components/schemas/UserView", nil),
						Headers: map[string]string{"X-Request-Id": "Correlation id"},
					},
					{Status: 404},
				},
				Security: &domain.SecurityResult{
					Name:         "bearerAuth",
					Type:         "http",
					Scheme:       "bearer",
					BearerFormat: "JWT",
				},
			},
		},
	}
}

func TestAssembleBuildsDocument(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	doc := specwriter.Assemble(sampleResult())

	assert.Equal("3.0.3", doc.OpenAPI)
	require.NotNil(doc.Info)
	assert.Equal("Notes API", doc.Info.Title)
	assert.Equal("1.2.0", doc.Info.Version)
	require.Contains(doc.Components.Schemas, "UserView")

	show := doc.Paths.Value("/users/{id}")
	require.NotNil(show)
	require.NotNil(show.Get)
	require.Len(show.Get.Parameters, 2)
	idParam := show.Get.Parameters[0].Value
	assert.Equal("id", idParam.Name)
	assert.Equal("path", idParam.In)
	assert.True(idParam.Required)
	assert.Equal("[0-9]+", idParam.Schema.Value.Pattern)
	expand := show.Get.Parameters[1].Value
	assert.Equal("expand", expand.Name)
	assert.Equal("query", expand.In)
	assert.False(expand.Required)

	ok := show.Get.Responses.Value("200")
	require.NotNil(ok)
	require.Contains(ok.Value.Content, "application/json")
	require.Contains(ok.Value.Headers, "X-Request-Id")
	missing := show.Get.Responses.Value("404")
	require.NotNil(missing)
	assert.Equal("Not Found", *missing.Value.Description)

	require.NotNil(show.Get.Security)
	require.Contains(doc.Components.SecuritySchemes, "bearerAuth")
	scheme := doc.Components.SecuritySchemes["bearerAuth"].Value
	assert.Equal("http", scheme.Type)
	assert.Equal("bearer", scheme.Scheme)
	assert.Equal("JWT", scheme.BearerFormat)

	create := doc.Paths.Value("/users")
	require.NotNil(create)
	require.NotNil(create.Post)
	assert.Equal("createUser", create.Post.OperationID)
	require.NotNil(create.Post.RequestBody)
	assert.True(create.Post.RequestBody.Value.Required)
	require.Contains(create.Post.RequestBody.Value.Content, "application/json")
	created := create.Post.Responses.Value("201")
	require.NotNil(created)
	assert.Equal("Created", *created.Value.Description)
}

func TestAssembleDefaultsEmptyResponses(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	result := &domain.BuildResult{
		Title:   "Bare",
		Version: "0.1.0",
		Endpoints: []domain.EndpointDoc{
			{Route: domain.RouteInfo{URI: "/ping"}, Method: "GET"},
		},
	}

	doc := specwriter.Assemble(result)

	ping := doc.Paths.Value("/ping")
	require.NotNil(ping)
	require.NotNil(ping.Get)
	ok := ping.Get.Responses.Value("200")
	require.NotNil(ok)
	assert.Equal("Successful response.", *ok.Value.Description)
}

func TestWriteFormats(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		format string
		decode func(t *testing.T, data []byte) map[string]any
	}{
		{
			name:   "json",
			format: "json",
			decode: func(t *testing.T, data []byte) map[string]any {
				var tree map[string]any
				require.NoError(t, json.Unmarshal(data, &tree))
				return tree
			},
		},
		{
			name:   "yaml",
			format: "yaml",
			decode: func(t *testing.T, data []byte) map[string]any {
				var tree map[string]any
				require.NoError(t, yaml.Unmarshal(data, &tree))
				return tree
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "openapi."+tt.format)
			w, err := specwriter.New(newTestLogger(), path, tt.format)
			require.NoError(t, err)

			require.NoError(t, w.Write(ctx, sampleResult()))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			tree := tt.decode(t, data)
			assert.Equal(t, "3.0.3", tree["openapi"])
			paths, ok := tree["paths"].(map[string]any)
			require.True(t, ok)
			assert.Contains(t, paths, "/users/{id}")
			assert.Contains(t, paths, "/users")
		})
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := specwriter.New(newTestLogger(), "out.json", "toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "toml")
}

func TestWriteFailsOnMissingDirectory(t *testing.T) {
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "nope", "openapi.json")
	w, err := specwriter.New(newTestLogger(), path, "json")
	require.NoError(t, err)

	err = w.Write(ctx, sampleResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write")
}
