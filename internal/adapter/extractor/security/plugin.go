// Package security detects authentication schemes from route middleware
// names like "auth:bearer", "auth.basic" or "apikey:header:X-API-Key".
package security

import (
	"log/slog"
	"strings"

	"github.com/routelens/routelens/internal/analysis"
	"github.com/routelens/routelens/internal/domain"
)

const Priority = 100

// Plugin registers the middleware-based security detector.
type Plugin struct {
	logger *slog.Logger
}

// New creates the plugin.
func New(logger *slog.Logger) *Plugin {
	return &Plugin{logger: logger.With("component", "security")}
}

func (p *Plugin) Name() string { return "security" }

// Boot wires the detector into the registry.
func (p *Plugin) Boot(b *analysis.Binder) error {
	b.Security(&detector{logger: p.logger}, Priority)
	return nil
}

type detector struct {
	logger *slog.Logger
}

func (d *detector) Name() string { return "security" }

// DetectSecurity scans the route's middleware stack; the first name that
// parses as an auth scheme wins.
func (d *detector) DetectSecurity(ac *domain.AnalysisContext) (*domain.SecurityResult, error) {
	for _, mw := range ac.Route.Middleware {
		if sec, ok := ParseScheme(mw); ok {
			return sec, nil
		}
	}
	return nil, nil
}

// ParseScheme interprets one middleware or directive token as a security
// scheme. Session-style guards ("auth:web", "auth:session") are not API
// schemes and report false.
func ParseScheme(token string) (*domain.SecurityResult, bool) {
	parts := strings.FieldsFunc(strings.ToLower(token), func(r rune) bool {
		return r == ':' || r == '.'
	})
	if len(parts) == 0 {
		return nil, false
	}
	// Keep the original casing for apiKey parameter names.
	rawParts := strings.FieldsFunc(token, func(r rune) bool {
		return r == ':' || r == '.'
	})

	switch parts[0] {
	case "auth", "authenticate":
		if len(parts) == 1 {
			return bearer(""), true
		}
		switch parts[1] {
		case "basic":
			return &domain.SecurityResult{Name: "basicAuth", Type: "http", Scheme: "basic"}, true
		case "bearer", "api", "token", "sanctum":
			return bearer(""), true
		case "jwt":
			return bearer("JWT"), true
		default:
			return nil, false
		}
	case "jwt":
		return bearer("JWT"), true
	case "token", "bearer":
		return bearer(""), true
	case "basic":
		return &domain.SecurityResult{Name: "basicAuth", Type: "http", Scheme: "basic"}, true
	case "apikey", "api_key", "api-key":
		sec := &domain.SecurityResult{
			Name:      "apiKeyAuth",
			Type:      "apiKey",
			In:        "header",
			ParamName: "X-API-Key",
		}
		if len(parts) > 1 {
			switch parts[1] {
			case "header", "query", "cookie":
				sec.In = parts[1]
			}
		}
		if len(rawParts) > 2 {
			sec.ParamName = rawParts[2]
		}
		return sec, true
	}
	return nil, false
}

func bearer(format string) *domain.SecurityResult {
	return &domain.SecurityResult{
		Name:         "bearerAuth",
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: format,
	}
}
