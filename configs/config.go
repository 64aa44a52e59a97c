package configs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/routelens/routelens/internal/discovery"
)

// Duration wraps time.Duration so YAML and environment values can use
// strings like "30s" or "168h".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for envconfig.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the application configuration. Values layer as
// defaults < YAML file < ROUTELENS_* environment variables.
type Config struct {
	// Route inputs. At least one must be configured.
	RouteDump       string   `yaml:"route_dump" envconfig:"ROUTE_DUMP"`
	RouteScanDir    string   `yaml:"route_scan_dir" envconfig:"ROUTE_SCAN_DIR"`
	ProtoFiles      []string `yaml:"proto_files" envconfig:"PROTO_FILES"`
	ProtoImportDirs []string `yaml:"proto_import_dirs" envconfig:"PROTO_IMPORT_DIRS"`

	// CaptureDir points at recorded request/response JSON files merged
	// into the static analysis. Empty disables merging.
	CaptureDir string `yaml:"capture_dir" envconfig:"CAPTURE_DIR"`

	// Output. An empty or "-" path writes to stdout.
	OutputPath   string `yaml:"output_path" envconfig:"OUTPUT_PATH"`
	OutputFormat string `yaml:"output_format" envconfig:"OUTPUT_FORMAT" validate:"omitempty,oneof=json yaml"`
	Title        string `yaml:"title" envconfig:"TITLE"`
	Version      string `yaml:"version" envconfig:"VERSION"`

	// Route filtering.
	ExcludedRoutes       []string `yaml:"excluded_routes" envconfig:"EXCLUDED_ROUTES"`
	ExcludedMethods      []string `yaml:"excluded_methods" envconfig:"EXCLUDED_METHODS"`
	IncludeVendorRoutes  bool     `yaml:"include_vendor_routes" envconfig:"INCLUDE_VENDOR_ROUTES"`
	IncludeClosureRoutes *bool    `yaml:"include_closure_routes" envconfig:"INCLUDE_CLOSURE_ROUTES"`
	AutoDetectAPIRoutes  bool     `yaml:"auto_detect_api_routes" envconfig:"AUTO_DETECT_API_ROUTES"`

	// Source cache persistence.
	DiskCache bool     `yaml:"disk_cache" envconfig:"DISK_CACHE"`
	CacheDir  string   `yaml:"cache_dir" envconfig:"CACHE_DIR"`
	CacheTTL  Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`

	MergeStrategy string `yaml:"merge_strategy" envconfig:"MERGE_STRATEGY" validate:"omitempty,oneof=static_first captured_first"`

	// ErrorHandler names the service's central error renderer as
	// "relative/path/file.go:FuncName" for error-response inference.
	ErrorHandler string `yaml:"error_handler" envconfig:"ERROR_HANDLER"`

	// Watch mode.
	PollInterval Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
	WatchPaths   []string `yaml:"watch_paths" envconfig:"WATCH_PATHS"`

	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn warning error"`

	OtelExporterOtlpEndpoint string `yaml:"otel_exporter_otlp_endpoint" envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelExporterOtlpInsecure *bool  `yaml:"otel_exporter_otlp_insecure" envconfig:"OTEL_EXPORTER_OTLP_INSECURE"`
}

var validate = validator.New()

// Load resolves the configuration. path is the explicit config file; when
// empty, ROUTELENS_CONFIG_FILE is consulted. With neither set, the
// configuration comes from environment variables alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv("ROUTELENS_CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		slog.Info("Loaded configuration file.", slog.String("path", path))
	}

	if err := envconfig.Process("routelens", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.OutputFormat == "" {
		c.OutputFormat = "json"
	}
	if c.Title == "" {
		c.Title = "API Documentation"
	}
	if c.Version == "" {
		c.Version = "1.0.0"
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = Duration(7 * 24 * time.Hour)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = Duration(2 * time.Second)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MergeStrategy == "" {
		c.MergeStrategy = "static_first"
	}
}

// Validate checks field constraints and that at least one route source is
// configured.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.RouteDump == "" && c.RouteScanDir == "" && len(c.ProtoFiles) == 0 {
		return errors.New("no route sources configured: set route_dump, route_scan_dir or proto_files")
	}
	return nil
}

// ClosureRoutesIncluded resolves the tri-state include_closure_routes
// setting; unset means included.
func (c *Config) ClosureRoutesIncluded() bool {
	return c.IncludeClosureRoutes == nil || *c.IncludeClosureRoutes
}

// OtlpInsecure resolves the tri-state exporter transport setting; unset
// means insecure.
func (c *Config) OtlpInsecure() bool {
	return c.OtelExporterOtlpInsecure == nil || *c.OtelExporterOtlpInsecure
}

// DiscoveryConfig narrows the configuration to what route filtering needs.
func (c *Config) DiscoveryConfig() discovery.Config {
	return discovery.Config{
		ExcludedRoutes:       c.ExcludedRoutes,
		ExcludedMethods:      c.ExcludedMethods,
		IncludeVendorRoutes:  c.IncludeVendorRoutes,
		IncludeClosureRoutes: c.ClosureRoutesIncluded(),
		AutoDetectAPIRoutes:  c.AutoDetectAPIRoutes,
	}
}

// ParsedLogLevel returns the slog.Level for the configured LogLevel.
func (c *Config) ParsedLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		fallthrough
	default:
		return slog.LevelInfo
	}
}
