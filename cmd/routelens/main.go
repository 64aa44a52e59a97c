package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/routelens/routelens/configs"
	"github.com/routelens/routelens/internal/adapter/extractor/astinfer"
	"github.com/routelens/routelens/internal/adapter/extractor/directive"
	"github.com/routelens/routelens/internal/adapter/extractor/protodesc"
	"github.com/routelens/routelens/internal/adapter/extractor/rulemap"
	"github.com/routelens/routelens/internal/adapter/extractor/security"
	"github.com/routelens/routelens/internal/adapter/outbound/capturedir"
	"github.com/routelens/routelens/internal/adapter/outbound/goscan"
	"github.com/routelens/routelens/internal/adapter/outbound/protoroutes"
	"github.com/routelens/routelens/internal/adapter/outbound/routedump"
	"github.com/routelens/routelens/internal/adapter/outbound/specwriter"
	"github.com/routelens/routelens/internal/analysis"
	"github.com/routelens/routelens/internal/astcache"
	"github.com/routelens/routelens/internal/discovery"
	"github.com/routelens/routelens/internal/domain"
	"github.com/routelens/routelens/internal/merge"
	"github.com/routelens/routelens/internal/schemareg"
	"github.com/routelens/routelens/internal/usecase"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

func main() {
	// === Command Line Flags ===
	var (
		mode       string
		configPath string
		onlyRoute  string
	)
	flag.StringVar(&mode, "mode", "generate", "Run mode: generate, watch or route")
	flag.StringVar(&configPath, "config", "", "Path to the configuration file")
	flag.StringVar(&onlyRoute, "route", "", `Limit the build to one endpoint, e.g. "GET /users"`)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === Configuration ===
	cfg, err := configs.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// === Logging ===
	// Logs go to stderr; stdout is reserved for the generated document
	// when output_path is "-".
	logLevel := cfg.ParsedLogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	logger.Info("Logger initialized.", slog.String("level", logLevel.String()), slog.String("mode", mode))

	// === OpenTelemetry Initialization ===
	shutdownOtel, err := initOtelProvider(cfg)
	if err != nil {
		logger.Error("Failed to initialize OpenTelemetry.", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			logger.Error("Failed to shutdown OpenTelemetry TracerProvider.", slog.Any("error", err))
		}
	}()

	// === Dependency Injection ===
	logger.Info("Initializing dependencies...")

	// --- Source cache ---
	var disk *astcache.DiskTier
	if cfg.DiskCache {
		dir := cfg.CacheDir
		if dir == "" {
			if base, err := os.UserCacheDir(); err == nil {
				dir = filepath.Join(base, "routelens")
			}
		}
		if dir != "" {
			disk, err = astcache.NewDiskTier(dir, cfg.CacheTTL.Std(), logger)
			if err != nil {
				logger.Warn("Disk cache unavailable, continuing in memory.", slog.Any("error", err))
				disk = nil
			}
		}
	}
	cache := astcache.New(logger, disk)

	// --- Route sources ---
	var sources []usecase.RouteSource
	var discoverOpts []discovery.Option
	if cfg.RouteDump != "" {
		sources = append(sources, routedump.New(logger, cfg.RouteDump))
	}
	if cfg.RouteScanDir != "" {
		scanner := goscan.New(logger, cache, cfg.RouteScanDir)
		sources = append(sources, scanner)
		discoverOpts = append(discoverOpts, discovery.WithFileResolver(scanner))
	}
	var protoLookup protodesc.MultiLookup
	for _, path := range cfg.ProtoFiles {
		src := protoroutes.New(logger, path, protoroutes.WithImportPaths(cfg.ProtoImportDirs))
		sources = append(sources, src)
		protoLookup = append(protoLookup, src)
	}
	logger.Debug("Route sources configured.", slog.Int("count", len(sources)))

	// --- Extractor plugins ---
	registry := analysis.NewRegistry(logger)
	plugins := []analysis.Plugin{
		directive.New(logger),
		rulemap.New(logger),
		astinfer.New(logger, cache, cfg.ErrorHandler),
		security.New(logger),
	}
	if len(protoLookup) > 0 {
		plugins = append(plugins, protodesc.New(logger, protoLookup))
	}
	for _, p := range plugins {
		if err := registry.Use(p); err != nil {
			logger.Error("Extractor plugin failed to boot, continuing without it.",
				slog.String("plugin", p.Name()), slog.Any("error", err))
		}
	}
	pipeline := analysis.NewPipeline(registry, logger)

	// --- Remaining collaborators ---
	discoverer := discovery.New(logger, cache, cfg.DiscoveryConfig(), discoverOpts...)
	schemas := schemareg.New(logger)
	merger := merge.New(logger, merge.Strategy(cfg.MergeStrategy))

	var captures usecase.CaptureStore
	if cfg.CaptureDir != "" {
		captures = capturedir.New(logger, cfg.CaptureDir)
	}

	writer, err := specwriter.New(logger, cfg.OutputPath, cfg.OutputFormat)
	if err != nil {
		logger.Error("Failed to configure output.", slog.Any("error", err))
		os.Exit(1)
	}

	generateUC := usecase.NewGenerateDocsUseCase(
		sources, discoverer, pipeline, cache, schemas, merger,
		captures, writer, cfg.Title, cfg.Version, logger)

	// === Run Mode Selection ===
	switch mode {
	case "generate":
		if _, err := generateUC.Execute(ctx, executeOpts(onlyRoute)...); err != nil {
			logger.Error("Documentation build failed.", slog.Any("error", err))
			os.Exit(1)
		}

	case "watch":
		watchUC := usecase.NewWatchUseCase(generateUC, watchPaths(cfg), cfg.PollInterval.Std(), logger)
		if err := watchUC.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Watch mode failed.", slog.Any("error", err))
			os.Exit(1)
		}

	case "route":
		if err := printRoutes(ctx, sources, discoverer); err != nil {
			logger.Error("Route listing failed.", slog.Any("error", err))
			os.Exit(1)
		}

	default:
		logger.Error("Invalid run mode.", slog.String("mode", mode))
		os.Exit(1)
	}
}

func executeOpts(onlyRoute string) []usecase.ExecuteOption {
	if onlyRoute == "" {
		return nil
	}
	return []usecase.ExecuteOption{usecase.WithOnlyRoute(onlyRoute)}
}

// watchPaths collects the configured inputs worth watching for changes.
func watchPaths(cfg *configs.Config) []string {
	candidates := []string{cfg.RouteDump, cfg.RouteScanDir, cfg.CaptureDir}
	candidates = append(candidates, cfg.ProtoFiles...)
	candidates = append(candidates, cfg.WatchPaths...)
	paths := make([]string, 0, len(candidates))
	for _, p := range candidates {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

type routeRow struct {
	Method  string `json:"method"`
	URI     string `json:"uri"`
	Handler string `json:"handler,omitempty"`
	Name    string `json:"name,omitempty"`
	Origin  string `json:"origin,omitempty"`
}

// printRoutes lists the filtered route table on stdout, one row per
// endpoint that a build would document.
func printRoutes(ctx context.Context, sources []usecase.RouteSource, discoverer *discovery.Discoverer) error {
	var routes []domain.RouteInfo
	for _, src := range sources {
		loaded, err := src.Routes(ctx)
		if err != nil {
			return fmt.Errorf("failed to load routes from %s: %w", src.Name(), err)
		}
		routes = append(routes, loaded...)
	}
	contexts, err := discoverer.Discover(ctx, routes)
	if err != nil {
		return err
	}
	rows := make([]routeRow, 0, len(contexts))
	for i := range contexts {
		ac := &contexts[i]
		rows = append(rows, routeRow{
			Method:  ac.Method,
			URI:     ac.Route.URI,
			Handler: ac.Route.Handler.String(),
			Name:    ac.Route.Name,
			Origin:  string(ac.Route.Origin),
		})
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// initOtelProvider initializes the OpenTelemetry SDK and sets up the OTLP
// trace exporter. It returns a shutdown function to be called on exit.
func initOtelProvider(cfg *configs.Config) (func(context.Context) error, error) {
	ctx := context.Background()

	if cfg.OtelExporterOtlpEndpoint == "" {
		slog.Info("OTLP endpoint not configured, OpenTelemetry tracing disabled.")
		return func(context.Context) error { return nil }, nil
	}

	slog.Info("Initializing OTLP exporter.", slog.String("endpoint", cfg.OtelExporterOtlpEndpoint))

	grpcOpts := []grpc.DialOption{}
	if cfg.OtlpInsecure() {
		grpcOpts = append(grpcOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		slog.Warn("Using insecure connection for OTLP exporter.")
	} else {
		grpcOpts = append(grpcOpts, grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}

	conn, err := grpc.NewClient(cfg.OtelExporterOtlpEndpoint, grpcOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to OTLP endpoint: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("routelens"),
		),
	)
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(r),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	slog.Info("OpenTelemetry TracerProvider configured.")

	return func(ctx context.Context) error {
		providerErr := tp.Shutdown(ctx)
		connErr := conn.Close()
		return errors.Join(providerErr, connErr)
	}, nil
}
