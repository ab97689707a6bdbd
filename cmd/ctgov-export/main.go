// Command ctgov-export fetches registry studies for a list of identifiers,
// flattens them and writes one CSV row per study.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/clinical-trials-client/internal/config"
	"github.com/Sternrassler/clinical-trials-client/internal/input"
	"github.com/Sternrassler/clinical-trials-client/pkg/cache"
	"github.com/Sternrassler/clinical-trials-client/pkg/client"
	"github.com/Sternrassler/clinical-trials-client/pkg/export"
	"github.com/Sternrassler/clinical-trials-client/pkg/fetch"
	"github.com/Sternrassler/clinical-trials-client/pkg/logging"
	"github.com/Sternrassler/clinical-trials-client/pkg/metrics"
	"github.com/Sternrassler/clinical-trials-client/pkg/pipeline"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one export and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ctgov-export", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", getEnv("CTGOV_CONFIG", ""), "path to YAML config file")
	inputPath := fs.String("input", "", "identifier CSV file")
	outputPath := fs.String("output", "", "CSV output file (default stdout)")
	jsonPath := fs.String("json-output", "", "optional JSON dump of the augmented studies")
	batchSize := fs.Int("batch-size", 0, "identifiers per registry query")
	concurrency := fs.Int("concurrency", 0, "chunks queried in parallel")
	policy := fs.String("policy", "", "failed chunk policy: skip or abort")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")
	pretty := fs.Bool("pretty", false, "human-readable console logs")
	metricsFile := fs.String("metrics-file", "", "write Prometheus metrics in textfile format")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "ctgov-export: %v\n", err)
		return 1
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(stderr, "ctgov-export: %v\n", err)
		return 1
	}

	// Flags override file and environment only when given.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			cfg.Input.Path = *inputPath
		case "output":
			cfg.Output.CSVPath = *outputPath
		case "json-output":
			cfg.Output.JSONPath = *jsonPath
		case "batch-size":
			cfg.Fetch.BatchSize = *batchSize
		case "concurrency":
			cfg.Fetch.Concurrency = *concurrency
		case "policy":
			cfg.Fetch.Policy = *policy
		case "log-level":
			cfg.Logging.Level = *logLevel
		case "pretty":
			cfg.Logging.Pretty = *pretty
		case "metrics-file":
			cfg.Output.MetricsFile = *metricsFile
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "ctgov-export: invalid configuration: %v\n", err)
		return 1
	}
	if cfg.Input.Path == "" {
		fmt.Fprintln(stderr, "ctgov-export: -input is required")
		return 1
	}

	logCfg := cfg.LoggingConfig()
	logCfg.Output = stderr
	logging.Setup(logCfg)
	logger := logging.NewLogger("ctgov-export")

	code := runExport(ctx, cfg, stdout, stderr, logger)

	if cfg.Output.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.Output.MetricsFile); err != nil {
			logger.Error().Err(err).Str("path", cfg.Output.MetricsFile).Msg("Failed to write metrics")
			code = 1
		}
	}

	return code
}

// runExport runs the pipeline and writes its outputs. Partial results of an
// aborted run are still written.
func runExport(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer, logger zerolog.Logger) int {
	records, err := input.ReadIdentifiersFile(cfg.Input.Path, cfg.Columns())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read identifiers")
		return 1
	}
	logger.Info().Int("identifiers", len(records)).Str("path", cfg.Input.Path).Msg("Loaded identifiers")

	cacheManager, closeCache := setupCache(ctx, cfg, logger)
	defer closeCache()

	clientCfg := cfg.ClientConfig()
	clientCfg.Cache = cacheManager
	registry, err := client.New(clientCfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create registry client")
		return 1
	}
	defer registry.Close()

	fetcher, err := fetch.New(registry, cfg.FetchConfig())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create batch fetcher")
		return 1
	}

	p, err := pipeline.New(fetcher, cfg.FlattenOptions())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create pipeline")
		return 1
	}

	code := 0
	result, err := p.Run(ctx, records)
	if err != nil {
		logger.Error().Err(err).Msg("Export run failed")
		code = 1
	}
	if result == nil {
		return 1
	}

	if err := writeCSV(cfg.Output.CSVPath, stdout, result); err != nil {
		logger.Error().Err(err).Msg("Failed to write CSV")
		return 1
	}
	if cfg.Output.JSONPath != "" {
		if err := writeJSON(cfg.Output.JSONPath, result); err != nil {
			logger.Error().Err(err).Msg("Failed to write JSON")
			return 1
		}
	}

	printSummary(stderr, result)
	return code
}

// setupCache connects to Redis when an address is configured. An unreachable
// server disables caching for the run instead of failing it.
func setupCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*cache.Manager, func()) {
	if cfg.Cache.RedisAddr == "" {
		return nil, func() {}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("Redis unavailable; caching disabled")
		redisClient.Close()
		return nil, func() {}
	}
	logger.Info().Str("addr", cfg.Cache.RedisAddr).Msg("Connected to Redis")

	return cache.NewManager(redisClient), func() { redisClient.Close() }
}

func writeCSV(path string, stdout io.Writer, result *pipeline.Result) error {
	if path == "" {
		return export.WriteCSV(stdout, result.Schema, result.Records)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteCSV(f, result.Schema, result.Records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeJSON(path string, result *pipeline.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteJSON(f, result.Studies); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printSummary(w io.Writer, result *pipeline.Result) {
	s := result.Report.Summary()
	fmt.Fprintf(w, "run %s: requested=%d fetched=%d flattened=%d unmatched=%d misses=%d duplicates=%d failed_chunks=%d skipped=%d columns=%d\n",
		result.RunID, s.Requested, s.Fetched, s.Flattened, s.Unmatched, s.Misses, s.Duplicates, s.FailedChunks, s.Skipped, len(result.Schema))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
