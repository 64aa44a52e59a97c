// Package specwriter assembles an OpenAPI 3 document from a build result
// and writes it as JSON or YAML.
package specwriter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"

	"github.com/routelens/routelens/internal/domain"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Writer implements the spec writer port. Path "-" or "" writes to stdout.
type Writer struct {
	logger *slog.Logger
	path   string
	format string
}

// New creates a Writer. The format must be json or yaml.
func New(logger *slog.Logger, path, format string) (*Writer, error) {
	switch format {
	case FormatJSON, FormatYAML:
	case "":
		format = FormatJSON
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
	return &Writer{
		logger: logger.With("component", "specwriter"),
		path:   path,
		format: format,
	}, nil
}

// Write assembles the document and persists it.
func (w *Writer) Write(ctx context.Context, result *domain.BuildResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := Assemble(result)
	data, err := w.encode(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	if w.path == "" || w.path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(w.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", w.path, err)
	}
	w.logger.Info("Wrote documentation.",
		slog.String("path", w.path),
		slog.String("format", w.format),
		slog.Int("endpoints", len(result.Endpoints)),
		slog.Int("schemas", len(result.Schemas)))
	return nil
}

func (w *Writer) encode(doc *openapi3.T) ([]byte, error) {
	raw, err := doc.MarshalJSON()
	if err != nil {
		return nil, err
	}
	if w.format == FormatYAML {
		var tree map[string]any
		if err := json.Unmarshal(raw, &tree); err != nil {
			return nil, err
		}
		return yaml.Marshal(tree)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return nil, err
	}
	pretty.WriteByte('\n')
	return []byte(pretty.String()), nil
}

// Assemble builds the openapi3 document. Exported so watch mode and tests
// can render without touching the filesystem.
func Assemble(result *domain.BuildResult) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:   result.Title,
			Version: result.Version,
		},
		Paths: openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas:         openapi3.Schemas{},
			SecuritySchemes: openapi3.SecuritySchemes{},
		},
	}
	names := make([]string, 0, len(result.Schemas))
	for name := range result.Schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		doc.Components.Schemas[name] = result.Schemas[name]
	}

	for _, ep := range result.Endpoints {
		op := operationFor(ep)
		if ep.Security != nil {
			registerSecurity(doc, op, ep.Security)
		}
		item := doc.Paths.Value(ep.Route.URI)
		if item == nil {
			item = &openapi3.PathItem{}
			doc.Paths.Set(ep.Route.URI, item)
		}
		item.SetOperation(ep.Method, op)
	}
	return doc
}

func operationFor(ep domain.EndpointDoc) *openapi3.Operation {
	op := &openapi3.Operation{
		OperationID: ep.OperationID,
		Summary:     ep.Summary,
		Description: ep.Description,
		Tags:        ep.Tags,
		Deprecated:  ep.Deprecated,
		Responses:   responsesFor(ep),
	}
	for _, pp := range ep.Route.PathParams {
		op.Parameters = append(op.Parameters, pathParameter(pp))
	}
	for _, pr := range ep.Parameters {
		op.Parameters = append(op.Parameters, parameterFor(pr))
	}
	if body := ep.RequestBody; body != nil && body.Schema != nil {
		op.RequestBody = requestBodyFor(body)
	}
	return op
}

func pathParameter(pp domain.PathParam) *openapi3.ParameterRef {
	schema := &openapi3.Schema{Type: &openapi3.Types{"string"}}
	if pp.Constraint != "" {
		schema.Pattern = pp.Constraint
	}
	return &openapi3.ParameterRef{Value: &openapi3.Parameter{
		Name:     pp.Name,
		In:       openapi3.ParameterInPath,
		Required: true,
		Schema:   openapi3.NewSchemaRef("", schema),
	}}
}

func parameterFor(pr domain.ParameterResult) *openapi3.ParameterRef {
	param := &openapi3.Parameter{
		Name:        pr.Name,
		In:          pr.In,
		Required:    pr.Required || pr.In == openapi3.ParameterInPath,
		Description: pr.Description,
		Schema:      pr.Schema,
		Example:     pr.Example,
	}
	if param.Schema == nil {
		param.Schema = openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"string"}})
	}
	if pr.Default != nil && param.Schema.Value != nil {
		param.Schema.Value.Default = pr.Default
	}
	return &openapi3.ParameterRef{Value: param}
}

func requestBodyFor(body *domain.SchemaResult) *openapi3.RequestBodyRef {
	ct := body.ContentType
	if ct == "" {
		ct = "application/json"
	}
	mt := openapi3.NewMediaType().WithSchemaRef(body.Schema)
	mt.Example = body.Example
	rb := openapi3.NewRequestBody().WithRequired(body.Required)
	rb.Description = body.Description
	rb.Content = openapi3.Content{ct: mt}
	return &openapi3.RequestBodyRef{Value: rb}
}

func responsesFor(ep domain.EndpointDoc) *openapi3.Responses {
	if len(ep.Responses) == 0 {
		desc := "Successful response."
		return openapi3.NewResponses(openapi3.WithStatus(200, &openapi3.ResponseRef{
			Value: &openapi3.Response{Description: &desc},
		}))
	}
	responses := openapi3.NewResponsesWithCapacity(len(ep.Responses))
	for _, rr := range ep.Responses {
		desc := rr.Description
		if desc == "" {
			desc = http.StatusText(rr.Status)
		}
		response := &openapi3.Response{Description: &desc}
		if rr.Schema != nil {
			ct := rr.ContentType
			if ct == "" {
				ct = "application/json"
			}
			mt := openapi3.NewMediaType().WithSchemaRef(rr.Schema)
			mt.Example = rr.Example
			response.Content = openapi3.Content{ct: mt}
		}
		for name, describe := range rr.Headers {
			if response.Headers == nil {
				response.Headers = openapi3.Headers{}
			}
			response.Headers[name] = &openapi3.HeaderRef{Value: &openapi3.Header{
				Parameter: openapi3.Parameter{
					Description: describe,
					Schema:      openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"string"}}),
				},
			}}
		}
		responses.Set(strconv.Itoa(rr.Status), &openapi3.ResponseRef{Value: response})
	}
	return responses
}

func registerSecurity(doc *openapi3.T, op *openapi3.Operation, sec *domain.SecurityResult) {
	scheme := &openapi3.SecurityScheme{
		Type:        sec.Type,
		Description: sec.Description,
	}
	switch sec.Type {
	case "http":
		scheme.Scheme = sec.Scheme
		scheme.BearerFormat = sec.BearerFormat
	case "apiKey":
		scheme.In = sec.In
		scheme.Name = sec.ParamName
	}
	doc.Components.SecuritySchemes[sec.Name] = &openapi3.SecuritySchemeRef{Value: scheme}
	op.Security = openapi3.NewSecurityRequirements().
		With(openapi3.NewSecurityRequirement().Authenticate(sec.Name))
}
