package astinfer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routelens/routelens/internal/adapter/extractor/astinfer"
	"github.com/routelens/routelens/internal/analysis"
	"github.com/routelens/routelens/internal/astcache"
	"github.com/routelens/routelens/internal/domain"
)

func newPipeline(t *testing.T, errorHandler string) *analysis.Pipeline {
	t.Helper()
	logger := newTestLogger()
	reg := analysis.NewRegistry(logger)
	cache := astcache.New(logger, nil)
	require.NoError(t, reg.Use(astinfer.New(logger, cache, errorHandler)))
	return analysis.NewPipeline(reg, logger)
}

func handlerContext(fd domain.FuncDigest, structs map[string]domain.StructDigest) *domain.AnalysisContext {
	fd.Name = "List"
	fd.Receiver = "NoteHandler"
	return &domain.AnalysisContext{
		Route: domain.RouteInfo{
			URI:     "/notes",
			Handler: domain.HandlerRef{Type: "NoteHandler", Func: "List"},
		},
		Method: "GET",
		Digest: &domain.SourceDigest{
			Funcs:   map[string]domain.FuncDigest{"NoteHandler.List": fd},
			Structs: structs,
		},
	}
}

func noteStructs() map[string]domain.StructDigest {
	return map[string]domain.StructDigest{
		"NoteView": {
			Name: "NoteView",
			Fields: []domain.FieldDigest{
				{Name: "ID", JSONName: "id", GoType: "int64"},
				{Name: "Title", JSONName: "title", GoType: "string"},
			},
		},
	}
}

func TestResponsesFromHints(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	p := newPipeline(t, "")
	ac := handlerContext(domain.FuncDigest{
		ResponseHints: []domain.ResponseHint{
			{Status: 201, TypeName: "NoteView"},
			{Status: 0, Fields: []domain.HintField{{Name: "count", Type: "integer"}}},
			{Status: 201, TypeName: "NoteView"},
		},
	}, noteStructs())

	out := p.Responses(ctx, ac)
	require.Len(out, 2)

	assert.Equal(200, out[0].Status)
	require.Contains(out[0].Schema.Value.Properties, "count")
	assert.Equal("integer", (*out[0].Schema.Value.Properties["count"].Value.Type)[0])

	assert.Equal(201, out[1].Status)
	assert.Equal("astinfer", out[1].Source)
	require.Contains(out[1].Schema.Value.Properties, "id")
}

func TestArrayHintAndReturnTypeFallback(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	p := newPipeline(t, "")

	hinted := handlerContext(domain.FuncDigest{
		ResponseHints: []domain.ResponseHint{{Status: 200, TypeName: "NoteView", Array: true}},
	}, noteStructs())
	out := p.Responses(ctx, hinted)
	require.Len(out, 1)
	assert.Equal("array", (*out[0].Schema.Value.Type)[0])
	require.Contains(out[0].Schema.Value.Items.Value.Properties, "title")

	returning := handlerContext(domain.FuncDigest{
		ReturnTypes: []string{"error", "[]NoteView"},
	}, noteStructs())
	out = p.Responses(ctx, returning)
	require.Len(out, 1)
	assert.Equal(200, out[0].Status)
	assert.Equal("array", (*out[0].Schema.Value.Type)[0])
}

func TestErrorHandlerResponses(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	p := newPipeline(t, writeErrHandler(t)+":WriteError")
	ac := handlerContext(domain.FuncDigest{
		BindTargets:   []string{"CreateNoteRequest"},
		ResponseHints: []domain.ResponseHint{{Status: 201, TypeName: "NoteView"}},
	}, noteStructs())
	ac.Method = "POST"
	ac.Route.PathParams = []domain.PathParam{{Name: "id"}}
	ac.Route.Middleware = []string{"auth:bearer"}

	out := p.Responses(ctx, ac)
	statuses := make([]int, 0, len(out))
	byStatus := map[int]domain.ResponseResult{}
	for _, rr := range out {
		statuses = append(statuses, rr.Status)
		byStatus[rr.Status] = rr
	}
	assert.Equal([]int{201, 401, 404, 409, 422, 500}, statuses)

	envelope := byStatus[500].Schema.Value
	require.Contains(envelope.Properties, "message")
	require.Contains(envelope.Properties, "status")
	assert.NotContains(envelope.Properties, "errors")
	assert.Contains(envelope.Required, "message")

	validation := byStatus[422].Schema.Value
	require.Contains(validation.Properties, "errors")
	assert.NotContains(validation.Required, "errors")
	assert.Equal("Validation failed.", byStatus[422].Description)
}

func TestNoErrorResponsesWithoutAnalyzer(t *testing.T) {
	ctx := context.Background()

	p := newPipeline(t, "")
	ac := handlerContext(domain.FuncDigest{
		BindTargets:   []string{"CreateNoteRequest"},
		ResponseHints: []domain.ResponseHint{{Status: 201, TypeName: "NoteView"}},
	}, noteStructs())

	out := p.Responses(ctx, ac)
	require.Len(t, out, 1)
	assert.Equal(t, 201, out[0].Status)
}

func TestQueryParamsFromObservedReads(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	p := newPipeline(t, "")
	ac := handlerContext(domain.FuncDigest{
		QueryKeys: []domain.QueryKey{
			{Name: "page", Type: "integer", Default: "1"},
			{Name: "q"},
			{Name: "page", Type: "integer"},
			{Name: "verbose", Type: "boolean", Default: "false"},
		},
	}, nil)

	params := p.QueryParams(ctx, ac)
	require.Len(params, 3)
	assert.Equal("page", params[0].Name)
	assert.Equal("integer", (*params[0].Schema.Value.Type)[0])
	assert.Equal(1, params[0].Default)
	assert.Equal("q", params[1].Name)
	assert.Equal("string", (*params[1].Schema.Value.Type)[0])
	assert.Nil(params[1].Default)
	assert.Equal(false, params[2].Default)
}

func TestNoDigestMeansNoContribution(t *testing.T) {
	ctx := context.Background()

	p := newPipeline(t, "")
	ac := &domain.AnalysisContext{Route: domain.RouteInfo{URI: "/opaque"}, Method: "GET"}
	assert.Empty(t, p.Responses(ctx, ac))
	assert.Empty(t, p.QueryParams(ctx, ac))
}
