package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"

	"github.com/JQX369/tellyads-rag-sub000/internal/api"
	"github.com/JQX369/tellyads-rag-sub000/internal/config"
	"github.com/JQX369/tellyads-rag-sub000/internal/importer"
	"github.com/JQX369/tellyads-rag-sub000/internal/logger"
	"github.com/JQX369/tellyads-rag-sub000/internal/mcp"
	"github.com/JQX369/tellyads-rag-sub000/internal/searcher"
	"github.com/JQX369/tellyads-rag-sub000/internal/storage"
	"github.com/JQX369/tellyads-rag-sub000/internal/telemetry"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "adsearch",
		Usage:   "Hybrid semantic and keyword search over TV commercial fragments",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Logging level (debug, info, warn, error); overrides LOG_LEVEL",
			},
			&cli.StringFlag{
				Name:  "db-driver",
				Usage: "Storage backend (sqlite, postgres); overrides ADSEARCH_DB_DRIVER",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "SQLite database path; overrides ADSEARCH_DB_PATH",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the HTTP search API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address; overrides HTTP_ADDR",
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdio",
				Action: mcpCommand,
			},
			{
				Name:      "import",
				Usage:     "Import ad documents from a JSON file",
				ArgsUsage: "<file.json>",
				Action:    importCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent documents; overrides IMPORT_WORKERS",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Texts per embedding request",
						Value: 50,
					},
				},
			},
			{
				Name:  "migrate",
				Usage: "Manage the database schema",
				Subcommands: []*cli.Command{
					{
						Name:   "up",
						Usage:  "Apply pending migrations",
						Action: migrateUpCommand,
					},
					{
						Name:   "rollback",
						Usage:  "Roll back the most recent migration",
						Action: migrateRollbackCommand,
					},
				},
			},
			{
				Name:   "counts",
				Usage:  "Print per-ad fragment counts",
				Action: countsCommand,
				Flags: []cli.Flag{
					&cli.Int64SliceFlag{
						Name:  "ad-id",
						Usage: "Ad id to count (repeatable); all ads when omitted",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Print index health",
				Action: statusCommand,
			},
			{
				Name:      "search",
				Usage:     "Run one admin search and print the results",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results",
						Value: storage.DefaultLimit,
					},
					&cli.StringSliceFlag{
						Name:  "item-type",
						Usage: "Restrict to an item type (repeatable)",
					},
					&cli.BoolFlag{
						Name:  "public",
						Usage: "Apply the publish gate as an anonymous caller would",
					},
				},
			},
			{
				Name:   "version",
				Usage:  "Print version and build information",
				Action: versionCommand,
			},
		},
	}
}

// setup loads configuration and installs the logger. Logs go to stderr so
// stdout stays clean for MCP and command output.
func setup(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := c.String("db-driver"); v != "" {
		cfg.DBDriver = strings.ToLower(v)
	}
	if v := c.String("db"); v != "" {
		cfg.DBPath = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.App.Metadata = map[string]interface{}{"config": cfg}
	logger.Init(cfg.LogLevel, os.Stderr)
	return nil
}

func configFrom(c *cli.Context) *config.Config {
	cfg, _ := c.App.Metadata["config"].(*config.Config)
	return cfg
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func serveCommand(c *cli.Context) error {
	cfg := configFrom(c)
	ctx, stop := signalContext(c.Context)
	defer stop()

	shutdown, err := telemetry.InitTracer(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.OTELServiceName,
		Version:     version,
		SampleRatio: cfg.OTELSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	comp, err := buildComponents(ctx, cfg, logger.Logger)
	if err != nil {
		return err
	}
	defer comp.Close()

	addr := cfg.HTTPAddr
	if v := c.String("addr"); v != "" {
		addr = v
	}

	gin.SetMode(cfg.GinMode)
	router := api.NewRouter(api.Config{
		Searcher:    comp.searcher,
		Reporter:    comp.store,
		JWTSecret:   cfg.JWTSecret,
		ServiceName: cfg.OTELServiceName,
		Logger:      logger.Logger,
	})
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; admin routes will reject every request")
	}

	return api.Run(ctx, addr, router, logger.Logger)
}

func mcpCommand(c *cli.Context) error {
	cfg := configFrom(c)
	ctx, stop := signalContext(c.Context)
	defer stop()

	comp, err := buildComponents(ctx, cfg, logger.Logger)
	if err != nil {
		return err
	}
	defer comp.Close()

	logger.Info("adsearch MCP server starting",
		"version", version,
		"build_mode", storage.BuildMode,
		"driver", storage.DriverName,
		"vector_extension", storage.VectorExtensionAvailable,
	)
	return mcp.NewServer(comp.searcher, comp.store, logger.Logger).Serve(ctx)
}

func importCommand(c *cli.Context) error {
	cfg := configFrom(c)
	if c.NArg() != 1 {
		return fmt.Errorf("import takes exactly one file argument")
	}
	ctx, stop := signalContext(c.Context)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	emb, err := newEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer func() { _ = emb.Close() }()

	workers := cfg.ImportWorkers
	if v := c.Int("workers"); v > 0 {
		workers = v
	}

	imp := importer.New(store, emb,
		importer.WithWorkers(workers),
		importer.WithBatchSize(c.Int("batch-size")),
		importer.WithLogger(logger.Logger),
	)
	stats, err := imp.ImportFile(ctx, c.Args().First())
	if stats != nil {
		printImportStats(c.App.Writer, stats)
	}
	if err != nil {
		return err
	}
	if stats.AdsFailed > 0 {
		return cli.Exit(fmt.Sprintf("%d ads failed to import", stats.AdsFailed), 2)
	}
	return nil
}

func printImportStats(w io.Writer, stats *importer.Statistics) {
	fmt.Fprintf(w, "Imported:        %d ads\n", stats.AdsImported)
	fmt.Fprintf(w, "Failed:          %d ads\n", stats.AdsFailed)
	fmt.Fprintf(w, "Items written:   %d\n", stats.ItemsWritten)
	fmt.Fprintf(w, "Items embedded:  %d\n", stats.ItemsEmbedded)
	fmt.Fprintf(w, "Vectors reused:  %d\n", stats.ItemsReused)
	fmt.Fprintf(w, "Duration:        %s\n", stats.Duration.Round(time.Millisecond))
	for _, msg := range stats.ErrorMessages {
		fmt.Fprintf(w, "  error: %s\n", msg)
	}
}

func migrateUpCommand(c *cli.Context) error {
	return runMigration(c, storage.ApplyMigrations, storage.ApplyPostgresMigrations)
}

func migrateRollbackCommand(c *cli.Context) error {
	return runMigration(c, storage.RollbackMigration, storage.RollbackPostgresMigration)
}

// runMigration applies fn for the configured driver and prints the
// resulting schema version
func runMigration(c *cli.Context, sqliteFn, postgresFn func(context.Context, *sql.DB) error) error {
	cfg := configFrom(c)
	db, err := openRawDB(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	fn := sqliteFn
	if cfg.DBDriver == "postgres" {
		fn = postgresFn
	}
	if err := fn(c.Context, db); err != nil {
		return err
	}

	v, err := storage.SchemaVersion(c.Context, db)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Schema version: %s\n", v)
	return nil
}

func countsCommand(c *cli.Context) error {
	cfg := configFrom(c)
	store, err := openStore(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	counts, err := store.AdCounts(c.Context, c.Int64Slice("ad-id"))
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, counts)
}

func statusCommand(c *cli.Context) error {
	cfg := configFrom(c)
	store, err := openStore(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	status, err := store.GetStatus(c.Context)
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, status)
}

func searchCommand(c *cli.Context) error {
	cfg := configFrom(c)
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("search requires a query argument")
	}

	comp, err := buildComponents(c.Context, cfg, logger.Logger)
	if err != nil {
		return err
	}
	defer comp.Close()

	resp, err := comp.searcher.Search(c.Context, searcher.Request{
		Query:     query,
		Limit:     c.Int("limit"),
		SessionID: "cli",
		ItemTypes: c.StringSlice("item-type"),
		Admin:     !c.Bool("public"),
	})
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, resp)
}

func versionCommand(c *cli.Context) error {
	w := c.App.Writer
	fmt.Fprintf(w, "adsearch\n")
	fmt.Fprintf(w, "Version: %s\n", version)
	fmt.Fprintf(w, "Build Time: %s\n", buildTime)
	fmt.Fprintf(w, "Build Mode: %s\n", storage.BuildMode)
	fmt.Fprintf(w, "SQLite Driver: %s\n", storage.DriverName)
	fmt.Fprintf(w, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
	fmt.Fprintf(w, "Schema Version: %s\n", storage.CurrentSchemaVersion)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
