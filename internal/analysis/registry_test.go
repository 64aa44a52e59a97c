package analysis_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routelens/routelens/internal/analysis"
	"github.com/routelens/routelens/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func objectRef() *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"object"}})
}

type bodyFunc struct {
	name string
	fn   func(*domain.AnalysisContext) (*domain.SchemaResult, error)
}

func (b bodyFunc) Name() string { return b.name }
func (b bodyFunc) ExtractRequestBody(ac *domain.AnalysisContext) (*domain.SchemaResult, error) {
	return b.fn(ac)
}

type responsesFunc struct {
	name string
	fn   func(*domain.AnalysisContext) ([]domain.ResponseResult, error)
}

func (r responsesFunc) Name() string { return r.name }
func (r responsesFunc) ExtractResponses(ac *domain.AnalysisContext) ([]domain.ResponseResult, error) {
	return r.fn(ac)
}

type queryFunc struct {
	name string
	fn   func(*domain.AnalysisContext) ([]domain.ParameterResult, error)
}

func (q queryFunc) Name() string { return q.name }
func (q queryFunc) ExtractQueryParams(ac *domain.AnalysisContext) ([]domain.ParameterResult, error) {
	return q.fn(ac)
}

type securityFunc struct {
	name string
	fn   func(*domain.AnalysisContext) (*domain.SecurityResult, error)
}

func (s securityFunc) Name() string { return s.name }
func (s securityFunc) DetectSecurity(ac *domain.AnalysisContext) (*domain.SecurityResult, error) {
	return s.fn(ac)
}

type transformFunc struct {
	name string
	fn   func(*domain.AnalysisContext, domain.EndpointDoc) (domain.EndpointDoc, error)
}

func (t transformFunc) Name() string { return t.name }
func (t transformFunc) TransformOperation(ac *domain.AnalysisContext, doc domain.EndpointDoc) (domain.EndpointDoc, error) {
	return t.fn(ac, doc)
}

type bootPlugin struct {
	name string
	boot func(*analysis.Binder) error
}

func (p bootPlugin) Name() string { return p.name }

func (p bootPlugin) Boot(b *analysis.Binder) error { return p.boot(b) }

func namedBody(name string) bodyFunc {
	return bodyFunc{name: name, fn: func(*domain.AnalysisContext) (*domain.SchemaResult, error) {
		return &domain.SchemaResult{Schema: objectRef(), Description: name}, nil
	}}
}

func nilBody(name string) bodyFunc {
	return bodyFunc{name: name, fn: func(*domain.AnalysisContext) (*domain.SchemaResult, error) {
		return nil, nil
	}}
}

func testContext() *domain.AnalysisContext {
	return &domain.AnalysisContext{
		Method: "POST",
		Route:  domain.RouteInfo{URI: "/users", Methods: []string{"POST"}},
	}
}

func TestRegistrationOrderBreaksPriorityTies(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)

	reg := analysis.NewRegistry(newTestLogger())
	reg.RegisterRequestBody(namedBody("first"), analysis.DefaultPriority)
	reg.RegisterRequestBody(namedBody("second"), analysis.DefaultPriority)
	reg.RegisterRequestBody(nilBody("silent"), 200)

	p := analysis.NewPipeline(reg, newTestLogger())
	res := p.RequestBody(ctx, testContext())

	assert.NotNil(res)
	assert.Equal("first", res.Description)
	assert.Equal("first", res.Source)
}

func TestHigherPriorityRunsFirst(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)

	reg := analysis.NewRegistry(newTestLogger())
	reg.RegisterRequestBody(namedBody("low"), 50)
	reg.RegisterRequestBody(namedBody("high"), 200)

	p := analysis.NewPipeline(reg, newTestLogger())
	res := p.RequestBody(ctx, testContext())

	assert.NotNil(res)
	assert.Equal("high", res.Description)
}

func TestSetPriorityReorders(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)
	require := require.New(t)

	reg := analysis.NewRegistry(newTestLogger())
	reg.RegisterRequestBody(namedBody("a"), analysis.DefaultPriority)
	hb := reg.RegisterRequestBody(namedBody("b"), analysis.DefaultPriority)

	p := analysis.NewPipeline(reg, newTestLogger())
	res := p.RequestBody(ctx, testContext())
	require.NotNil(res)
	assert.Equal("a", res.Description)

	require.NoError(reg.SetPriority(hb, 250))
	assert.Equal(250, reg.Priority(hb))

	res = p.RequestBody(ctx, testContext())
	require.NotNil(res)
	assert.Equal("b", res.Description)
}

func TestSetPriorityUnknownHandle(t *testing.T) {
	reg := analysis.NewRegistry(newTestLogger())
	err := reg.SetPriority(analysis.Handle(404), 10)
	assert.ErrorIs(t, err, analysis.ErrUnknownHandle)
}

func TestPluginBootRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)
	require := require.New(t)

	reg := analysis.NewRegistry(newTestLogger())
	bootErr := errors.New("license check failed")
	err := reg.Use(bootPlugin{name: "broken", boot: func(b *analysis.Binder) error {
		b.RequestBody(namedBody("from-broken"), 300)
		b.QueryParams(queryFunc{name: "from-broken", fn: func(*domain.AnalysisContext) ([]domain.ParameterResult, error) {
			return []domain.ParameterResult{{Name: "page"}}, nil
		}}, 300)
		return bootErr
	}})
	require.ErrorIs(err, bootErr)

	p := analysis.NewPipeline(reg, newTestLogger())
	assert.Nil(p.RequestBody(ctx, testContext()))
	assert.Empty(p.QueryParams(ctx, testContext()))
}

func TestPluginBootRegistersOnSuccess(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)
	require := require.New(t)

	reg := analysis.NewRegistry(newTestLogger())
	err := reg.Use(bootPlugin{name: "good", boot: func(b *analysis.Binder) error {
		b.RequestBody(namedBody("from-good"), analysis.DefaultPriority)
		return nil
	}})
	require.NoError(err)

	p := analysis.NewPipeline(reg, newTestLogger())
	res := p.RequestBody(ctx, testContext())
	require.NotNil(res)
	assert.Equal("from-good", res.Description)
}

func TestResetClearsRegistrationsButNotHandles(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)

	reg := analysis.NewRegistry(newTestLogger())
	before := reg.RegisterRequestBody(namedBody("a"), analysis.DefaultPriority)
	reg.Reset()

	p := analysis.NewPipeline(reg, newTestLogger())
	assert.Nil(p.RequestBody(ctx, testContext()))

	after := reg.RegisterRequestBody(namedBody("b"), analysis.DefaultPriority)
	assert.Greater(uint64(after), uint64(before))
}
