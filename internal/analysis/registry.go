// Package analysis runs registered extractors over analysis contexts and
// folds their contributions into per-endpoint results. Extractors are
// independent plugins; a failing one never takes the build down.
package analysis

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/routelens/routelens/internal/domain"
)

// DefaultPriority is assumed when a handle has no recorded priority. Higher
// priorities run first.
const DefaultPriority = 100

// ErrUnknownHandle is returned when adjusting the priority of a handle that
// was never issued or has been removed.
var ErrUnknownHandle = errors.New("unknown extractor handle")

// Handle identifies one registration. Handles are monotonic and never
// reused, so a stale handle is harmless.
type Handle uint64

// RequestBodyExtractor infers the request body schema. The first extractor
// (in priority order) returning a non-nil result wins the endpoint.
type RequestBodyExtractor interface {
	Name() string
	ExtractRequestBody(ac *domain.AnalysisContext) (*domain.SchemaResult, error)
}

// ResponseExtractor contributes response descriptions. Contributions from
// all extractors merge by status code.
type ResponseExtractor interface {
	Name() string
	ExtractResponses(ac *domain.AnalysisContext) ([]domain.ResponseResult, error)
}

// QueryParamExtractor contributes query parameters, merged by name with
// first-writer-wins semantics.
type QueryParamExtractor interface {
	Name() string
	ExtractQueryParams(ac *domain.AnalysisContext) ([]domain.ParameterResult, error)
}

// SecurityExtractor detects the endpoint's authentication scheme. The first
// non-nil detection wins.
type SecurityExtractor interface {
	Name() string
	DetectSecurity(ac *domain.AnalysisContext) (*domain.SecurityResult, error)
}

// OperationTransformer rewrites the assembled endpoint document. All
// transformers run as a left fold in priority order; a failing transformer
// is skipped and the accumulator passes through unchanged.
type OperationTransformer interface {
	Name() string
	TransformOperation(ac *domain.AnalysisContext, doc domain.EndpointDoc) (domain.EndpointDoc, error)
}

// Plugin bundles related extractors so they register and fail as one unit.
type Plugin interface {
	Name() string
	Boot(b *Binder) error
}

type registration struct {
	handle Handle
	name   string
	impl   any
}

// Registry tracks extractor registrations per capability with their
// priorities. All bookkeeping keys on the issued Handle, never on the
// extractor value itself.
type Registry struct {
	mu     sync.Mutex
	logger *slog.Logger

	next       Handle
	priorities map[Handle]int

	bodies     []registration
	responses  []registration
	queries    []registration
	securities []registration
	transforms []registration
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:     logger.With("component", "extractor_registry"),
		priorities: make(map[Handle]int),
	}
}

// RegisterRequestBody registers a request body extractor.
func (r *Registry) RegisterRequestBody(e RequestBodyExtractor, priority int) Handle {
	return r.add(&r.bodies, e.Name(), e, priority)
}

// RegisterResponses registers a response extractor.
func (r *Registry) RegisterResponses(e ResponseExtractor, priority int) Handle {
	return r.add(&r.responses, e.Name(), e, priority)
}

// RegisterQueryParams registers a query parameter extractor.
func (r *Registry) RegisterQueryParams(e QueryParamExtractor, priority int) Handle {
	return r.add(&r.queries, e.Name(), e, priority)
}

// RegisterSecurity registers a security scheme detector.
func (r *Registry) RegisterSecurity(e SecurityExtractor, priority int) Handle {
	return r.add(&r.securities, e.Name(), e, priority)
}

// RegisterTransformer registers an operation transformer.
func (r *Registry) RegisterTransformer(e OperationTransformer, priority int) Handle {
	return r.add(&r.transforms, e.Name(), e, priority)
}

func (r *Registry) add(list *[]registration, name string, impl any, priority int) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	h := r.next
	*list = append(*list, registration{handle: h, name: name, impl: impl})
	r.priorities[h] = priority
	r.logger.Debug("Registered extractor.",
		slog.String("extractor", name), slog.Uint64("handle", uint64(h)), slog.Int("priority", priority))
	return h
}

// SetPriority adjusts the priority of an existing registration.
func (r *Registry) SetPriority(h Handle, priority int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.priorities[h]; !ok {
		return fmt.Errorf("setting priority for handle %d: %w", h, ErrUnknownHandle)
	}
	r.priorities[h] = priority
	return nil
}

// Priority reports the priority recorded for a handle, falling back to
// DefaultPriority for unknown handles.
func (r *Registry) Priority(h Handle) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.priorities[h]; ok {
		return p
	}
	return DefaultPriority
}

// Use boots a plugin. When Boot fails, every registration the plugin made is
// rolled back and the error is returned; other plugins are unaffected.
func (r *Registry) Use(p Plugin) error {
	b := &Binder{reg: r}
	if err := p.Boot(b); err != nil {
		for _, h := range b.handles {
			r.remove(h)
		}
		r.logger.Warn("Plugin failed to boot, rolled back its registrations.",
			slog.String("plugin", p.Name()), slog.Int("rolled_back", len(b.handles)), slog.Any("error", err))
		return fmt.Errorf("booting plugin %s: %w", p.Name(), err)
	}
	r.logger.Info("Plugin booted.", slog.String("plugin", p.Name()), slog.Int("registrations", len(b.handles)))
	return nil
}

// Reset drops every registration. Handles stay monotonic across resets.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.priorities = make(map[Handle]int)
	r.bodies, r.responses, r.queries, r.securities, r.transforms = nil, nil, nil, nil, nil
}

func (r *Registry) remove(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.priorities, h)
	for _, list := range []*[]registration{&r.bodies, &r.responses, &r.queries, &r.securities, &r.transforms} {
		kept := (*list)[:0]
		for _, reg := range *list {
			if reg.handle != h {
				kept = append(kept, reg)
			}
		}
		*list = kept
	}
}

// sorted returns a copy of the list in execution order: descending priority,
// registration order breaking ties.
func (r *Registry) sorted(list *[]registration) []registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]registration, len(*list))
	copy(out, *list)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := r.priorityLocked(out[i].handle), r.priorityLocked(out[j].handle)
		if pi != pj {
			return pi > pj
		}
		return out[i].handle < out[j].handle
	})
	return out
}

func (r *Registry) sortedBodies() []registration     { return r.sorted(&r.bodies) }
func (r *Registry) sortedResponses() []registration  { return r.sorted(&r.responses) }
func (r *Registry) sortedQueries() []registration    { return r.sorted(&r.queries) }
func (r *Registry) sortedSecurities() []registration { return r.sorted(&r.securities) }
func (r *Registry) sortedTransforms() []registration { return r.sorted(&r.transforms) }

func (r *Registry) priorityLocked(h Handle) int {
	if p, ok := r.priorities[h]; ok {
		return p
	}
	return DefaultPriority
}

// Binder is handed to a plugin's Boot so its registrations can be rolled
// back as a unit on failure.
type Binder struct {
	reg     *Registry
	handles []Handle
}

// RequestBody registers a request body extractor through the binder.
func (b *Binder) RequestBody(e RequestBodyExtractor, priority int) Handle {
	return b.track(b.reg.RegisterRequestBody(e, priority))
}

// Responses registers a response extractor through the binder.
func (b *Binder) Responses(e ResponseExtractor, priority int) Handle {
	return b.track(b.reg.RegisterResponses(e, priority))
}

// QueryParams registers a query parameter extractor through the binder.
func (b *Binder) QueryParams(e QueryParamExtractor, priority int) Handle {
	return b.track(b.reg.RegisterQueryParams(e, priority))
}

// Security registers a security detector through the binder.
func (b *Binder) Security(e SecurityExtractor, priority int) Handle {
	return b.track(b.reg.RegisterSecurity(e, priority))
}

// Transformer registers an operation transformer through the binder.
func (b *Binder) Transformer(e OperationTransformer, priority int) Handle {
	return b.track(b.reg.RegisterTransformer(e, priority))
}

func (b *Binder) track(h Handle) Handle {
	b.handles = append(b.handles, h)
	return h
}
