// Package protoroutes derives a route table from protobuf service
// definitions, either a .proto source file or a compiled
// FileDescriptorSet. Every service method becomes one POST route at
// /package.Service/Method, the path a gRPC or Connect gateway would serve.
package protoroutes

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/routelens/routelens/internal/domain"
)

// Source implements the route source port over proto definitions. It keeps
// the parsed method descriptors so the descriptor-based extractor can
// resolve schemas for the routes it produced.
type Source struct {
	logger      *slog.Logger
	path        string
	importPaths []string
	methods     map[string]*desc.MethodDescriptor
}

// Option configures a Source.
type Option func(*Source)

// WithImportPaths adds directories searched for proto imports, ahead of
// the file's own directory.
func WithImportPaths(dirs []string) Option {
	return func(s *Source) { s.importPaths = append(s.importPaths, dirs...) }
}

// New creates a Source for the given .proto file or descriptor set.
func New(logger *slog.Logger, path string, opts ...Option) *Source {
	s := &Source{
		logger:  logger.With("component", "protoroutes"),
		path:    path,
		methods: make(map[string]*desc.MethodDescriptor),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name identifies the source in logs and stats.
func (s *Source) Name() string { return "protoroutes" }

// Routes parses the proto input and returns one POST route per service
// method, in declaration order.
func (s *Source) Routes(ctx context.Context) ([]domain.RouteInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	files, err := s.loadDescriptors()
	if err != nil {
		return nil, err
	}

	s.methods = make(map[string]*desc.MethodDescriptor)
	var routes []domain.RouteInfo
	for _, file := range files {
		for _, service := range file.GetServices() {
			for _, method := range service.GetMethods() {
				fullMethod := fmt.Sprintf("/%s/%s", service.GetFullyQualifiedName(), method.GetName())
				s.methods[fullMethod] = method
				routes = append(routes, domain.RouteInfo{
					URI:     fullMethod,
					Methods: []string{"POST"},
					Name:    service.GetFullyQualifiedName() + "." + method.GetName(),
					Handler: domain.HandlerRef{
						Package: file.GetPackage(),
						Type:    service.GetName(),
						Func:    method.GetName(),
					},
					Groups:      []string{service.GetName()},
					Origin:      domain.RouteOriginProto,
					ProtoMethod: fullMethod,
				})
			}
		}
	}
	s.logger.Info("Loaded proto services.",
		slog.String("path", s.path),
		slog.Int("routes", len(routes)))
	return routes, nil
}

// MethodDescriptor resolves a method parsed by the last Routes call. The
// descriptor extractor uses it to build request and response schemas.
func (s *Source) MethodDescriptor(fullMethod string) (*desc.MethodDescriptor, bool) {
	method, ok := s.methods[fullMethod]
	return method, ok
}

func (s *Source) loadDescriptors() ([]*desc.FileDescriptor, error) {
	if strings.EqualFold(filepath.Ext(s.path), ".proto") {
		parser := protoparse.Parser{
			ImportPaths:           append(append([]string{}, s.importPaths...), filepath.Dir(s.path)),
			IncludeSourceCodeInfo: true,
		}
		files, err := parser.ParseFiles(filepath.Base(s.path))
		if err != nil {
			return nil, fmt.Errorf("failed to parse proto file %s: %w", s.path, err)
		}
		return files, nil
	}

	// Anything else is treated as a compiled descriptor set, the output of
	// protoc --descriptor_set_out.
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor set %s: %w", s.path, err)
	}
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to decode descriptor set %s: %w", s.path, err)
	}
	byName, err := desc.CreateFileDescriptorsFromSet(&set)
	if err != nil {
		return nil, fmt.Errorf("failed to link descriptor set %s: %w", s.path, err)
	}
	files := make([]*desc.FileDescriptor, 0, len(byName))
	for _, fd := range set.GetFile() {
		if linked, ok := byName[fd.GetName()]; ok {
			files = append(files, linked)
		}
	}
	return files, nil
}
