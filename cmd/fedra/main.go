// Package main provides the entry point for the fedra query engine CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TFMV/fedra/cmd/fedra/config"
	"github.com/TFMV/fedra/pkg/aggregate"
	chbackend "github.com/TFMV/fedra/pkg/backends/clickhouse"
	mongobackend "github.com/TFMV/fedra/pkg/backends/mongo"
	"github.com/TFMV/fedra/pkg/executor"
	"github.com/TFMV/fedra/pkg/infrastructure/metrics"
	"github.com/TFMV/fedra/pkg/models"
	"github.com/TFMV/fedra/pkg/optimizer"
	"github.com/TFMV/fedra/pkg/render"
	"github.com/TFMV/fedra/pkg/schema"
	"github.com/TFMV/fedra/pkg/validator"
)

var (
	// Version information (set by build flags)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "fedra",
	Short: "Fedra federated query engine",
	Long: `A federated query engine over MongoDB and ClickHouse.

Fedra executes structured query plans against either store, or
federated multi-step plans that combine results from both in memory.`,
}

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Execute a query plan",
	Long: `Execute a query plan from a JSON file.

Example:
  fedra exec --plan plan.json
  fedra exec --plan plan.json --optimize --format table`,
	RunE: runExec,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect and refresh the schema cache",
}

var schemaRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rebuild the schema cache from both stores",
	RunE:  runSchemaRefresh,
}

var schemaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached collections and tables",
	RunE:  runSchemaList,
}

func init() {
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.AddCommand(schemaRefreshCmd)
	schemaCmd.AddCommand(schemaListCmd)

	for _, cmd := range []*cobra.Command{execCmd, schemaRefreshCmd, schemaListCmd} {
		cmd.Flags().StringP("config", "c", "", "config file path")
		cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
		cmd.Flags().String("mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI")
		cmd.Flags().String("mongo-database", "fedra", "MongoDB database name")
		cmd.Flags().String("clickhouse-addr", "localhost:9000", "ClickHouse native protocol address")
		cmd.Flags().String("clickhouse-database", "default", "ClickHouse database name")
		cmd.Flags().String("clickhouse-username", "default", "ClickHouse username")
		cmd.Flags().String("clickhouse-password", "", "ClickHouse password")
		cmd.Flags().Duration("query-timeout", 30*time.Second, "per-query timeout")
		cmd.Flags().Bool("enable-writes", false, "permit write operations")
		cmd.Flags().Bool("metrics", false, "enable Prometheus metrics")
		cmd.Flags().String("metrics-address", ":9090", "metrics server address")
	}

	execCmd.Flags().StringP("plan", "p", "", "query plan file (JSON)")
	execCmd.Flags().BoolP("optimize", "O", false, "apply heuristic plan optimization")
	execCmd.Flags().StringP("format", "f", "json", "output format (json, table, csv)")
	execCmd.Flags().Int("max-rows", 0, "truncate table/csv output after this many rows (0 = all)")
	_ = execCmd.MarkFlagRequired("plan")

	schemaRefreshCmd.Flags().String("snapshot", "fedra_schema.snap", "schema snapshot path")
	schemaListCmd.Flags().String("snapshot", "fedra_schema.snap", "schema snapshot path")
	schemaListCmd.Flags().String("backend", "", "limit listing to one backend (mongodb, clickhouse)")

	viper.SetEnvPrefix("FEDRA")
	viper.AutomaticEnv()

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Fedra Federated Query Engine\n")
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Commit:     %s\n", commit)
			fmt.Printf("Build Date: %s\n", buildDate)
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runExec(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := setupLogging(cfg.LogLevel)

	planPath, _ := cmd.Flags().GetString("plan")
	data, err := os.ReadFile(planPath)
	if err != nil {
		return fmt.Errorf("failed to read plan: %w", err)
	}
	plan, err := models.ParsePlan(data)
	if err != nil {
		return err
	}

	collector, metricsServer := setupMetrics(cfg, logger)
	defer stopMetrics(metricsServer, logger)

	engine := buildEngine(cfg, collector, logger)

	if optimize, _ := cmd.Flags().GetBool("optimize"); optimize {
		plan = optimizer.New(logger).OptimizePlan(plan)
	}

	ctx, cancel := signalContext()
	defer cancel()

	result := engine.Execute(ctx, plan)

	format, _ := cmd.Flags().GetString("format")
	maxRows, _ := cmd.Flags().GetInt("max-rows")
	if err := render.Render(os.Stdout, result, format, maxRows); err != nil {
		return err
	}
	if !result.Success {
		os.Exit(1)
	}
	return nil
}

func runSchemaRefresh(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := setupLogging(cfg.LogLevel)

	cache := buildSchemaCache(cmd, cfg, logger)

	ctx, cancel := signalContext()
	defer cancel()

	if err := cache.Refresh(ctx); err != nil {
		return fmt.Errorf("schema refresh incomplete: %w", err)
	}
	fmt.Printf("Schema cache refreshed at %s\n", cache.LastRefresh().Format(time.RFC3339))
	return nil
}

func runSchemaList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := setupLogging(cfg.LogLevel)

	cache := buildSchemaCache(cmd, cfg, logger)

	ctx, cancel := signalContext()
	defer cancel()

	if err := cache.Initialize(ctx); err != nil {
		logger.Warn().Err(err).Msg("schema cache partially initialized")
	}

	only, _ := cmd.Flags().GetString("backend")
	if only == "" || only == string(models.BackendMongo) {
		fmt.Println("MongoDB collections:")
		for _, name := range cache.Names(models.BackendMongo) {
			fmt.Printf("  %s\n", name)
		}
	}
	if only == "" || only == string(models.BackendClickHouse) {
		fmt.Println("ClickHouse tables:")
		for _, name := range cache.Names(models.BackendClickHouse) {
			fmt.Printf("  %s\n", name)
		}
	}
	return nil
}

func buildEngine(cfg *config.Config, collector metrics.Collector, logger zerolog.Logger) *executor.Engine {
	v := validator.New(validator.Policy{
		MaxQuerySize:      cfg.Policy.MaxQuerySize,
		AllowedOperations: cfg.Policy.AllowedOperations,
		EnableWrites:      cfg.Policy.EnableWrites,
		QueryTimeout:      cfg.Policy.QueryTimeout,
	}, logger)

	docs := mongobackend.NewClient(mongobackend.Config{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
		Timeout:  cfg.Mongo.Timeout,
	}, logger)

	columnar := chbackend.NewClient(chbackend.Config{
		Addr:     cfg.ClickHouse.Addr,
		Database: cfg.ClickHouse.Database,
		Username: cfg.ClickHouse.Username,
		Password: cfg.ClickHouse.Password,
		Timeout:  cfg.ClickHouse.Timeout,
	}, logger)

	return executor.NewEngine(v, aggregate.New(logger), docs, columnar, collector, logger)
}

func buildSchemaCache(cmd *cobra.Command, cfg *config.Config, logger zerolog.Logger) *schema.Cache {
	snapshotPath := cfg.Schema.SnapshotPath
	if flagPath, err := cmd.Flags().GetString("snapshot"); err == nil && flagPath != "" {
		snapshotPath = flagPath
	}

	docs := mongobackend.NewClient(mongobackend.Config{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
		Timeout:  cfg.Mongo.Timeout,
	}, logger)
	columnar := chbackend.NewClient(chbackend.Config{
		Addr:     cfg.ClickHouse.Addr,
		Database: cfg.ClickHouse.Database,
		Username: cfg.ClickHouse.Username,
		Password: cfg.ClickHouse.Password,
		Timeout:  cfg.ClickHouse.Timeout,
	}, logger)

	return schema.NewCache(schema.Config{
		RefreshInterval: cfg.Schema.RefreshInterval,
		SnapshotPath:    snapshotPath,
		SampleSize:      cfg.Schema.SampleSize,
	}, docs, columnar, logger)
}

func setupMetrics(cfg *config.Config, logger zerolog.Logger) (metrics.Collector, *metrics.MetricsServer) {
	if !cfg.Metrics.Enabled {
		return metrics.NewNoOpCollector(), nil
	}
	collector := metrics.NewPrometheusCollector()
	server := metrics.NewMetricsServer(cfg.Metrics.Address)
	go func() {
		logger.Info().Str("address", cfg.Metrics.Address).Msg("Starting metrics server")
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start metrics server")
		}
	}()
	return collector, server
}

func stopMetrics(server *metrics.MetricsServer, logger zerolog.Logger) {
	if server == nil {
		return
	}
	if err := server.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}
}

// loadConfig merges the optional config file, environment and flags.
// The invoked command's flags are bound at call time so commands with
// overlapping flag names never shadow each other.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := config.DefaultConfig()
	cfg.LogLevel = viper.GetString("log-level")
	cfg.Mongo.URI = viper.GetString("mongo-uri")
	cfg.Mongo.Database = viper.GetString("mongo-database")
	cfg.ClickHouse.Addr = viper.GetString("clickhouse-addr")
	cfg.ClickHouse.Database = viper.GetString("clickhouse-database")
	cfg.ClickHouse.Username = viper.GetString("clickhouse-username")
	cfg.ClickHouse.Password = viper.GetString("clickhouse-password")
	cfg.Policy.QueryTimeout = viper.GetDuration("query-timeout")
	cfg.Policy.EnableWrites = viper.GetBool("enable-writes")
	cfg.Metrics.Enabled = viper.GetBool("metrics")
	cfg.Metrics.Address = viper.GetString("metrics-address")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(level string) zerolog.Logger {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(logLevel).
		With().
		Timestamp().
		Logger()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
