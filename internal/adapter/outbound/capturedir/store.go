// Package capturedir reads runtime-captured request/response recordings
// from a directory of JSON files, one file per (method, route). Files are
// validated against an embedded JSON Schema and sensitive values are
// redacted before anything reaches the merge pipeline.
package capturedir

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/routelens/routelens/internal/domain"
	"github.com/routelens/routelens/internal/usecase"
)

// captureSchema validates the shape a recording middleware is expected to
// export.
const captureSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["method", "path", "status"],
	"properties": {
		"method": {"type": "string", "minLength": 1},
		"path": {"type": "string", "pattern": "^/"},
		"status": {"type": "integer", "minimum": 100, "maximum": 599},
		"request_headers": {"type": "object", "additionalProperties": {"type": "string"}},
		"response_headers": {"type": "object", "additionalProperties": {"type": "string"}},
		"request_body": {},
		"response_body": {},
		"query": {"type": "object", "additionalProperties": {"type": "string"}},
		"recorded_at": {"type": "string"}
	},
	"additionalProperties": false
}`

// sensitiveKeys are matched as substrings of lower-cased field and header
// names; matching values never leave the store.
var sensitiveKeys = []string{
	"password", "passwd", "secret", "token", "authorization",
	"cookie", "api_key", "apikey", "access_key", "private",
}

const redacted = "[redacted]"

// Store implements the capture store port over a directory.
type Store struct {
	logger *slog.Logger
	dir    string
	schema *jsonschema.Schema
}

// New creates a Store for the given directory. The embedded schema is
// compiled once; a compilation failure is a programming error and panics.
func New(logger *slog.Logger, dir string) *Store {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(captureSchema))
	if err != nil {
		panic(fmt.Sprintf("capturedir: embedded schema is not JSON: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("capture.schema.json", doc); err != nil {
		panic(fmt.Sprintf("capturedir: embedded schema rejected: %v", err))
	}
	schema, err := compiler.Compile("capture.schema.json")
	if err != nil {
		panic(fmt.Sprintf("capturedir: embedded schema does not compile: %v", err))
	}
	return &Store{
		logger: logger.With("component", "capturedir"),
		dir:    dir,
		schema: schema,
	}
}

// Find loads, validates, and redacts the capture recorded for an endpoint.
// Returns ErrNoCapture when no file exists for the (method, path) pair.
func (s *Store) Find(ctx context.Context, method, path string) (*domain.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := FileName(method, path)
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", usecase.ErrNoCapture, domain.EndpointKey(method, path))
		}
		return nil, fmt.Errorf("failed to read capture %s: %w", name, err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("capture %s is not JSON: %w", name, err)
	}
	if err := s.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("capture %s failed validation: %w", name, err)
	}

	var capture domain.Capture
	if err := json.Unmarshal(data, &capture); err != nil {
		return nil, fmt.Errorf("failed to decode capture %s: %w", name, err)
	}
	redactCapture(&capture)
	s.logger.Debug("Loaded capture.",
		slog.String("file", name),
		slog.Int("status", capture.Status))
	return &capture, nil
}

// FileName maps an endpoint to its capture file, e.g.
// ("GET", "/users/{id}") -> "GET_users_id.json".
func FileName(method, path string) string {
	return strings.ToUpper(method) + "_" + slug(path) + ".json"
}

func slug(path string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range path {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.TrimSuffix(b.String(), "_")
	if out == "" {
		return "root"
	}
	return out
}

func redactCapture(c *domain.Capture) {
	redactStringMap(c.RequestHeaders)
	redactStringMap(c.ResponseHeaders)
	redactStringMap(c.Query)
	c.RequestBody = redactValue(c.RequestBody)
	c.ResponseBody = redactValue(c.ResponseBody)
}

func redactStringMap(m map[string]string) {
	for k := range m {
		if sensitiveKey(k) {
			m[k] = redacted
		}
	}
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			if sensitiveKey(k) {
				val[k] = redacted
				continue
			}
			val[k] = redactValue(child)
		}
		return val
	case []any:
		for i, child := range val {
			val[i] = redactValue(child)
		}
		return val
	default:
		return v
	}
}

func sensitiveKey(name string) bool {
	lower := strings.ToLower(name)
	for _, key := range sensitiveKeys {
		if strings.Contains(lower, key) {
			return true
		}
	}
	return false
}
