// Package protodesc documents proto-origin routes from their message
// descriptors: the input message becomes the request body, the output
// message the 200 response.
package protodesc

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/jhump/protoreflect/desc"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/routelens/routelens/internal/analysis"
	"github.com/routelens/routelens/internal/domain"
)

// Priority sits between rule maps and AST inference; explicit directives
// still win.
const Priority = 120

// maxMessageDepth bounds recursion through nested message types.
const maxMessageDepth = 8

// MethodLookup resolves a full RPC method name ("/pkg.Service/Method") to
// its descriptor. The proto route source implements it.
type MethodLookup interface {
	MethodDescriptor(fullMethod string) (*desc.MethodDescriptor, bool)
}

// MultiLookup queries several lookups in order, for builds that load more
// than one proto input.
type MultiLookup []MethodLookup

func (m MultiLookup) MethodDescriptor(fullMethod string) (*desc.MethodDescriptor, bool) {
	for _, l := range m {
		if md, ok := l.MethodDescriptor(fullMethod); ok {
			return md, true
		}
	}
	return nil, false
}

// Plugin registers descriptor-based extraction for proto-origin routes.
type Plugin struct {
	logger *slog.Logger
	lookup MethodLookup
}

// New creates the plugin. The lookup is required.
func New(logger *slog.Logger, lookup MethodLookup) *Plugin {
	return &Plugin{logger: logger.With("component", "protodesc"), lookup: lookup}
}

func (p *Plugin) Name() string { return "protodesc" }

// Boot wires the extractor into the registry.
func (p *Plugin) Boot(b *analysis.Binder) error {
	if p.lookup == nil {
		return errors.New("no method lookup configured")
	}
	e := &extractor{logger: p.logger, lookup: p.lookup}
	b.RequestBody(e, Priority)
	b.Responses(e, Priority)
	b.Transformer(e, Priority)
	return nil
}

type extractor struct {
	logger *slog.Logger
	lookup MethodLookup
}

func (e *extractor) Name() string { return "protodesc" }

func (e *extractor) method(ac *domain.AnalysisContext) (*desc.MethodDescriptor, bool) {
	if ac.Route.Origin != domain.RouteOriginProto || ac.Route.ProtoMethod == "" {
		return nil, false
	}
	md, ok := e.lookup.MethodDescriptor(ac.Route.ProtoMethod)
	if !ok {
		e.logger.Debug("No descriptor for proto route.",
			slog.String("method", ac.Route.ProtoMethod))
	}
	return md, ok
}

// ExtractRequestBody maps the input message to the request body schema.
func (e *extractor) ExtractRequestBody(ac *domain.AnalysisContext) (*domain.SchemaResult, error) {
	md, ok := e.method(ac)
	if !ok {
		return nil, nil
	}
	return &domain.SchemaResult{
		Schema:      MessageSchema(md.GetInputType()),
		ContentType: "application/json",
		Required:    true,
	}, nil
}

// ExtractResponses maps the output message to a 200 response.
func (e *extractor) ExtractResponses(ac *domain.AnalysisContext) ([]domain.ResponseResult, error) {
	md, ok := e.method(ac)
	if !ok {
		return nil, nil
	}
	return []domain.ResponseResult{{
		Status:      200,
		Schema:      MessageSchema(md.GetOutputType()),
		ContentType: "application/json",
	}}, nil
}

// TransformOperation fills the summary from the method's leading comments
// when no other source has set one.
func (e *extractor) TransformOperation(ac *domain.AnalysisContext, doc domain.EndpointDoc) (domain.EndpointDoc, error) {
	md, ok := e.method(ac)
	if !ok || doc.Summary != "" {
		return doc, nil
	}
	doc.Summary = methodSummary(md)
	return doc, nil
}

func methodSummary(md *desc.MethodDescriptor) string {
	comments := strings.TrimSpace(md.GetSourceInfo().GetLeadingComments())
	if comments != "" {
		line, _, _ := strings.Cut(comments, "\n")
		return strings.TrimSpace(line)
	}
	return fmt.Sprintf("Calls the %s RPC.", md.GetName())
}

// MessageSchema converts a message descriptor into an object schema.
func MessageSchema(msg *desc.MessageDescriptor) *openapi3.SchemaRef {
	return messageRef(msg, map[string]bool{}, 0)
}

func messageRef(msg *desc.MessageDescriptor, seen map[string]bool, depth int) *openapi3.SchemaRef {
	schema := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: openapi3.Schemas{},
	}
	if msg == nil {
		return openapi3.NewSchemaRef("", schema)
	}
	for _, field := range msg.GetFields() {
		name := field.GetJSONName()
		if name == "" {
			name = field.GetName()
		}
		schema.Properties[name] = fieldRef(field, seen, depth+1)
		if field.IsRequired() {
			schema.Required = append(schema.Required, name)
		}
	}
	sort.Strings(schema.Required)
	return openapi3.NewSchemaRef("", schema)
}

func fieldRef(field *desc.FieldDescriptor, seen map[string]bool, depth int) *openapi3.SchemaRef {
	if field.IsMap() {
		return openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"object"}})
	}
	if field.IsRepeated() {
		return openapi3.NewSchemaRef("", &openapi3.Schema{
			Type:  &openapi3.Types{"array"},
			Items: valueRef(field, seen, depth),
		})
	}
	return valueRef(field, seen, depth)
}

func valueRef(field *desc.FieldDescriptor, seen map[string]bool, depth int) *openapi3.SchemaRef {
	switch field.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE:
		msg := field.GetMessageType()
		if ref, ok := wellKnownSchema(msg.GetFullyQualifiedName()); ok {
			return ref
		}
		fqn := msg.GetFullyQualifiedName()
		if depth >= maxMessageDepth || seen[fqn] {
			return openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"object"}})
		}
		seen[fqn] = true
		ref := messageRef(msg, seen, depth)
		delete(seen, fqn)
		return ref
	case descriptorpb.FieldDescriptorProto_TYPE_ENUM:
		values := field.GetEnumType().GetValues()
		enum := make([]any, 0, len(values))
		for _, v := range values {
			enum = append(enum, v.GetName())
		}
		return openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"string"}, Enum: enum})
	}
	return openapi3.NewSchemaRef("", scalarSchema(field.GetType()))
}

func wellKnownSchema(fqn string) (*openapi3.SchemaRef, bool) {
	switch fqn {
	case "google.protobuf.Timestamp":
		return openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}), true
	case "google.protobuf.Duration":
		return openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"string"}}), true
	case "google.protobuf.Struct":
		return openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"object"}}), true
	}
	return nil, false
}

func scalarSchema(protoType descriptorpb.FieldDescriptorProto_Type) *openapi3.Schema {
	switch protoType {
	case descriptorpb.FieldDescriptorProto_TYPE_DOUBLE,
		descriptorpb.FieldDescriptorProto_TYPE_FLOAT:
		return &openapi3.Schema{Type: &openapi3.Types{"number"}}

	case descriptorpb.FieldDescriptorProto_TYPE_INT64,
		descriptorpb.FieldDescriptorProto_TYPE_UINT64,
		descriptorpb.FieldDescriptorProto_TYPE_INT32,
		descriptorpb.FieldDescriptorProto_TYPE_UINT32,
		descriptorpb.FieldDescriptorProto_TYPE_FIXED64,
		descriptorpb.FieldDescriptorProto_TYPE_FIXED32,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED32,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED64,
		descriptorpb.FieldDescriptorProto_TYPE_SINT32,
		descriptorpb.FieldDescriptorProto_TYPE_SINT64:
		return &openapi3.Schema{Type: &openapi3.Types{"integer"}}

	case descriptorpb.FieldDescriptorProto_TYPE_BOOL:
		return &openapi3.Schema{Type: &openapi3.Types{"boolean"}}

	case descriptorpb.FieldDescriptorProto_TYPE_BYTES:
		return &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "byte"}
	}
	return &openapi3.Schema{Type: &openapi3.Types{"string"}}
}
