// Package merge reconciles statically-inferred endpoint documentation with
// runtime-captured traffic for the same endpoint.
package merge

import (
	"log/slog"
	"mime"
	"sort"
	"strings"

	"github.com/routelens/routelens/internal/domain"
)

// Strategy selects which side wins when static analysis and captured
// traffic disagree about the same field.
type Strategy string

const (
	// StrategyStaticFirst keeps the static result and uses captures to fill
	// gaps and contribute examples.
	StrategyStaticFirst Strategy = "static_first"
	// StrategyCapturedFirst is the inverse: observed traffic wins, static
	// analysis fills gaps.
	StrategyCapturedFirst Strategy = "captured_first"
)

// SourceCapture tags results synthesized from captured traffic.
const SourceCapture = "capture"

// Merger folds captures into endpoint documents. The zero strategy falls
// back to static-first.
type Merger struct {
	logger   *slog.Logger
	strategy Strategy
}

// New creates a Merger. An unrecognized strategy is logged and replaced
// with static-first.
func New(logger *slog.Logger, strategy Strategy) *Merger {
	switch strategy {
	case StrategyStaticFirst, StrategyCapturedFirst:
	default:
		if strategy != "" {
			logger.Warn("Unknown merge strategy, using static_first.",
				slog.String("strategy", string(strategy)))
		}
		strategy = StrategyStaticFirst
	}
	return &Merger{
		logger:   logger.With("component", "merger"),
		strategy: strategy,
	}
}

// MergeEndpoint combines a statically-built endpoint document with one
// captured observation of the same endpoint. A nil capture returns the
// document unchanged.
func (m *Merger) MergeEndpoint(doc domain.EndpointDoc, cap *domain.Capture) domain.EndpointDoc {
	if cap == nil {
		return doc
	}
	doc.RequestBody = m.mergeBody(doc.RequestBody, bodyFromCapture(cap))
	doc.Responses = m.mergeResponses(doc.Responses, responsesFromCapture(cap))
	doc.Parameters = m.mergeParams(doc.Parameters, paramsFromCapture(cap))
	return doc
}

func (m *Merger) mergeBody(static, captured *domain.SchemaResult) *domain.SchemaResult {
	winner, loser := m.order(static, captured)
	if winner == nil {
		return loser
	}
	if loser == nil {
		return winner
	}
	out := *winner
	if out.Schema == nil {
		out.Schema = loser.Schema
	}
	if out.Example == nil {
		out.Example = loser.Example
	}
	if out.Description == "" {
		out.Description = loser.Description
	}
	return &out
}

// mergeResponses merges per status code. A status present on one side only
// is adopted as-is; on both sides the winner keeps its schema and prose and
// the loser fills whatever the winner lacks.
func (m *Merger) mergeResponses(static, captured []domain.ResponseResult) []domain.ResponseResult {
	winner, loser := static, captured
	if m.strategy == StrategyCapturedFirst {
		winner, loser = captured, static
	}

	byStatus := make(map[int]domain.ResponseResult, len(winner)+len(loser))
	for _, rr := range winner {
		byStatus[rr.Status] = rr
	}
	for _, rr := range loser {
		kept, ok := byStatus[rr.Status]
		if !ok {
			byStatus[rr.Status] = rr
			continue
		}
		if kept.Schema == nil {
			kept.Schema = rr.Schema
		}
		if kept.Example == nil {
			kept.Example = rr.Example
		}
		if kept.Description == "" {
			kept.Description = rr.Description
		}
		byStatus[rr.Status] = kept
	}

	statuses := make([]int, 0, len(byStatus))
	for s := range byStatus {
		statuses = append(statuses, s)
	}
	sort.Ints(statuses)
	out := make([]domain.ResponseResult, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, byStatus[s])
	}
	return out
}

// mergeParams merges per parameter name, preserving the winner's order and
// appending names only the loser saw.
func (m *Merger) mergeParams(static, captured []domain.ParameterResult) []domain.ParameterResult {
	winner, loser := static, captured
	if m.strategy == StrategyCapturedFirst {
		winner, loser = captured, static
	}

	out := make([]domain.ParameterResult, len(winner))
	copy(out, winner)
	index := make(map[string]int, len(out))
	for i, pr := range out {
		index[pr.Name] = i
	}
	for _, pr := range loser {
		i, ok := index[pr.Name]
		if !ok {
			index[pr.Name] = len(out)
			out = append(out, pr)
			continue
		}
		if out[i].Example == nil {
			out[i].Example = pr.Example
		}
		if out[i].Schema == nil {
			out[i].Schema = pr.Schema
		}
		if out[i].Description == "" {
			out[i].Description = pr.Description
		}
	}
	return out
}

func (m *Merger) order(static, captured *domain.SchemaResult) (winner, loser *domain.SchemaResult) {
	if m.strategy == StrategyCapturedFirst {
		return captured, static
	}
	return static, captured
}

func bodyFromCapture(cap *domain.Capture) *domain.SchemaResult {
	if cap.RequestBody == nil {
		return nil
	}
	return &domain.SchemaResult{
		Schema:      InferSchema(cap.RequestBody),
		ContentType: contentTypeFrom(cap.RequestHeaders),
		Example:     cap.RequestBody,
		Source:      SourceCapture,
	}
}

func responsesFromCapture(cap *domain.Capture) []domain.ResponseResult {
	if cap.Status == 0 {
		return nil
	}
	rr := domain.ResponseResult{
		Status:      cap.Status,
		ContentType: contentTypeFrom(cap.ResponseHeaders),
		Example:     cap.ResponseBody,
		Source:      SourceCapture,
	}
	if cap.ResponseBody != nil {
		rr.Schema = InferSchema(cap.ResponseBody)
	}
	return []domain.ResponseResult{rr}
}

func paramsFromCapture(cap *domain.Capture) []domain.ParameterResult {
	if len(cap.Query) == 0 {
		return nil
	}
	names := make([]string, 0, len(cap.Query))
	for name := range cap.Query {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]domain.ParameterResult, 0, len(names))
	for _, name := range names {
		value := cap.Query[name]
		out = append(out, domain.ParameterResult{
			Name:    name,
			In:      domain.ParamInQuery,
			Schema:  inferQueryType(value),
			Example: value,
			Source:  SourceCapture,
		})
	}
	return out
}

func contentTypeFrom(headers map[string]string) string {
	for name, value := range headers {
		if !strings.EqualFold(name, "Content-Type") {
			continue
		}
		if mt, _, err := mime.ParseMediaType(value); err == nil {
			return mt
		}
		return value
	}
	return "application/json"
}
