package protodesc_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routelens/routelens/internal/adapter/extractor/protodesc"
	"github.com/routelens/routelens/internal/adapter/outbound/protoroutes"
	"github.com/routelens/routelens/internal/analysis"
	"github.com/routelens/routelens/internal/domain"
)

const notesProto = `syntax = "proto3";

package notes.v1;

import "google/protobuf/timestamp.proto";

service NoteService {
  // Creates a note and returns it.
  //
  // Notes are scoped to the caller.
  rpc CreateNote(CreateNoteRequest) returns (Note);
}

message CreateNoteRequest {
  string title = 1;
  string body = 2;
  repeated string tags = 3;
  Visibility visibility = 4;
  Author author = 5;
  map<string, string> labels = 6;
}

message Author {
  string name = 1;
  int64 id = 2;
}

message Note {
  string id = 1;
  string title = 2;
  google.protobuf.Timestamp created_at = 3;
  bytes checksum = 4;
  double score = 5;
  bool archived = 6;
}

enum Visibility {
  VISIBILITY_UNSPECIFIED = 0;
  PRIVATE = 1;
  PUBLIC = 2;
}
`

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func protoFixture(t *testing.T) (*analysis.Pipeline, *domain.AnalysisContext) {
	t.Helper()
	ctx := context.Background()
	logger := newTestLogger()

	path := filepath.Join(t.TempDir(), "notes.proto")
	require.NoError(t, os.WriteFile(path, []byte(notesProto), 0o644))

	src := protoroutes.New(logger, path)
	routes, err := src.Routes(ctx)
	require.NoError(t, err)
	require.Len(t, routes, 1)

	reg := analysis.NewRegistry(logger)
	require.NoError(t, reg.Use(protodesc.New(logger, src)))

	ac := &domain.AnalysisContext{Route: routes[0], Method: "POST"}
	return analysis.NewPipeline(reg, logger), ac
}

func TestRequestBodyFromInputMessage(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	p, ac := protoFixture(t)
	res := p.RequestBody(ctx, ac)
	require.NotNil(res)
	assert.Equal("protodesc", res.Source)
	assert.True(res.Required)

	root := res.Schema.Value
	require.NotNil(root)
	assert.Equal("object", (*root.Type)[0])

	require.Contains(root.Properties, "title")
	assert.Equal("string", (*root.Properties["title"].Value.Type)[0])

	require.Contains(root.Properties, "tags")
	tags := root.Properties["tags"].Value
	assert.Equal("array", (*tags.Type)[0])
	assert.Equal("string", (*tags.Items.Value.Type)[0])

	require.Contains(root.Properties, "visibility")
	vis := root.Properties["visibility"].Value
	assert.Equal("string", (*vis.Type)[0])
	assert.Len(vis.Enum, 3)
	assert.Contains(vis.Enum, "PUBLIC")

	require.Contains(root.Properties, "author")
	author := root.Properties["author"].Value
	assert.Equal("object", (*author.Type)[0])
	require.Contains(author.Properties, "id")
	assert.Equal("integer", (*author.Properties["id"].Value.Type)[0])

	require.Contains(root.Properties, "labels")
	assert.Equal("object", (*root.Properties["labels"].Value.Type)[0])
}

func TestResponseFromOutputMessage(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	p, ac := protoFixture(t)
	out := p.Responses(ctx, ac)
	require.Len(out, 1)
	assert.Equal(200, out[0].Status)

	note := out[0].Schema.Value
	require.Contains(note.Properties, "createdAt")
	created := note.Properties["createdAt"].Value
	assert.Equal("string", (*created.Type)[0])
	assert.Equal("date-time", created.Format)

	require.Contains(note.Properties, "checksum")
	assert.Equal("byte", note.Properties["checksum"].Value.Format)

	require.Contains(note.Properties, "score")
	assert.Equal("number", (*note.Properties["score"].Value.Type)[0])

	require.Contains(note.Properties, "archived")
	assert.Equal("boolean", (*note.Properties["archived"].Value.Type)[0])
}

func TestSummaryFromLeadingComments(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	p, ac := protoFixture(t)
	doc := p.Transform(ctx, ac, domain.EndpointDoc{Route: ac.Route, Method: ac.Method})
	assert.Equal("Creates a note and returns it.", doc.Summary)

	// An already-set summary is left alone.
	doc = p.Transform(ctx, ac, domain.EndpointDoc{Summary: "From a directive"})
	assert.Equal("From a directive", doc.Summary)
}

func TestNonProtoRoutesAreIgnored(t *testing.T) {
	ctx := context.Background()

	p, _ := protoFixture(t)
	ac := &domain.AnalysisContext{
		Route:  domain.RouteInfo{URI: "/users", Origin: domain.RouteOriginScan},
		Method: "GET",
	}
	assert.Nil(t, p.RequestBody(ctx, ac))
	assert.Empty(t, p.Responses(ctx, ac))
}

func TestMultiLookupQueriesSourcesInOrder(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	logger := newTestLogger()

	dir := t.TempDir()
	notesPath := filepath.Join(dir, "notes.proto")
	require.NoError(os.WriteFile(notesPath, []byte(notesProto), 0o644))
	tagsPath := filepath.Join(dir, "tags.proto")
	require.NoError(os.WriteFile(tagsPath, []byte(`syntax = "proto3";

package tags.v1;

service TagService {
  rpc ListTags(ListTagsRequest) returns (ListTagsResponse);
}

message ListTagsRequest {}

message ListTagsResponse {
  repeated string tags = 1;
}
`), 0o644))

	notes := protoroutes.New(logger, notesPath)
	tags := protoroutes.New(logger, tagsPath)
	_, err := notes.Routes(ctx)
	require.NoError(err)
	_, err = tags.Routes(ctx)
	require.NoError(err)

	lookup := protodesc.MultiLookup{notes, tags}

	md, ok := lookup.MethodDescriptor("/notes.v1.NoteService/CreateNote")
	require.True(ok)
	assert.Equal("CreateNote", md.GetName())

	md, ok = lookup.MethodDescriptor("/tags.v1.TagService/ListTags")
	require.True(ok)
	assert.Equal("ListTags", md.GetName())

	_, ok = lookup.MethodDescriptor("/tags.v1.TagService/DeleteTag")
	assert.False(ok)
}
