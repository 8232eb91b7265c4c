// cmd/replenish/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/andresuchdata/replenish/internal/app"
	"github.com/andresuchdata/replenish/internal/config"
	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/andresuchdata/replenish/internal/ingest"
	"github.com/andresuchdata/replenish/internal/repository/postgres"
	"github.com/andresuchdata/replenish/internal/storage"
	"github.com/andresuchdata/replenish/migrations"
	"github.com/andresuchdata/replenish/pkg/logger"
	"github.com/urfave/cli/v2"
)

func newStoreDriverFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "store",
		Usage:   "Metrics store backend: postgres or memory",
		EnvVars: []string{"STORE_DRIVER"},
	}
}

func newFeedFileFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "snapshots",
			Usage: "Stock snapshot CSV to load before running",
		},
		&cli.StringFlag{
			Name:  "orders",
			Usage: "Order history CSV to load before running",
		},
	}
}

func newFilterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "warehouse", Usage: "Only rows for this warehouse"},
		&cli.StringFlag{Name: "cluster", Usage: "Only rows for this cluster"},
		&cli.StringFlag{Name: "source", Usage: "Only rows for this marketplace source"},
		&cli.StringSliceFlag{Name: "status", Usage: "Liquidity statuses to include (critical, low, normal, excess)"},
		&cli.BoolFlag{Name: "active-only", Usage: "Only products that sold in the window or have stock"},
		&cli.BoolFlag{Name: "needs-replenishment", Usage: "Only rows with a positive replenishment need"},
		&cli.StringFlag{Name: "sort-field", Usage: "Sort column", Value: string(domain.SortReplenishmentNeed)},
		&cli.StringFlag{Name: "sort-direction", Usage: "asc or desc", Value: string(domain.SortDesc)},
	}
}

func main() {
	cliApp := &cli.App{
		Name:  "replenish",
		Usage: "Operate the warehouse replenishment metrics cache",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Before: func(c *cli.Context) error {
			// stdout is reserved for command output
			logger.SetOutput(os.Stderr)
			logger.SetLevel(c.String("log-level"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Apply pending SQL migrations",
				Action: runMigrate,
			},
			{
				Name:   "seed",
				Usage: "Load stock snapshot and order history exports into Postgres",
				Flags: append([]cli.Flag{
					&cli.BoolFlag{Name: "from-bucket", Usage: "Read --snapshots and --orders as keys or prefixes in the archive bucket"},
				}, newFeedFileFlags()...),
				Action: runSeed,
			},
			{
				Name:  "refresh",
				Usage: "Run one refresh pass and print its summary",
				Flags: append([]cli.Flag{
					newStoreDriverFlag(),
					&cli.BoolFlag{Name: "no-hooks", Usage: "Skip cache invalidation and export archiving"},
				}, newFeedFileFlags()...),
				Action: runRefresh,
			},
			{
				Name:  "export",
				Usage: "Export the metrics cache as CSV or XLSX",
				Flags: append(append([]cli.Flag{
					newStoreDriverFlag(),
					&cli.StringFlag{Name: "format", Usage: "csv or xlsx", Value: "csv"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (default stdout)"},
				}, newFeedFileFlags()...), newFilterFlags()...),
				Action: runExport,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("command failed")
	}
}

// buildApp loads config, applies the store override and wires components. With the
// memory store the feed files are loaded and a pass is run first, since nothing
// else populates the cache.
func buildApp(c *cli.Context, opts app.Options) (*app.App, error) {
	cfg := *config.Load()
	if driver := c.String("store"); driver != "" {
		cfg.App.StoreDriver = driver
	}

	a, err := app.Build(c.Context, &cfg, opts)
	if err != nil {
		return nil, err
	}

	if a.MemoryFeed != nil {
		if c.String("snapshots") == "" {
			a.Close()
			return nil, fmt.Errorf("--snapshots is required with the memory store")
		}
		if _, err := ingest.LoadFiles(c.Context, a.MemoryFeed, c.String("snapshots"), c.String("orders")); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func runMigrate(c *cli.Context) error {
	cfg := config.Load()
	pool, err := postgres.NewPool(c.Context, cfg.Database, 2)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := postgres.Migrate(c.Context, pool, migrations.FS)
	if err != nil {
		return err
	}
	logger.Log.Info().Int("applied", len(applied)).Strs("files", applied).Msg("migrations complete")
	return nil
}

func runSeed(c *cli.Context) error {
	if c.String("snapshots") == "" && c.String("orders") == "" {
		return fmt.Errorf("nothing to seed: pass --snapshots and/or --orders")
	}
	cfg := config.Load()
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	repo := postgres.NewIngestRepository(db)

	if !c.Bool("from-bucket") {
		stats, err := ingest.LoadFiles(c.Context, repo, c.String("snapshots"), c.String("orders"))
		if err != nil {
			return err
		}
		return printJSON(stats)
	}

	objects, err := storage.NewMinioClient(c.Context, storage.MinioConfig{
		Endpoint:  cfg.Archive.Endpoint,
		AccessKey: cfg.Archive.AccessKey,
		SecretKey: cfg.Archive.SecretKey,
		Bucket:    cfg.Archive.Bucket,
		UseSSL:    cfg.Archive.UseSSL,
	})
	if err != nil {
		return err
	}
	stats, err := ingest.LoadObjects(c.Context, repo, objects, c.String("snapshots"), c.String("orders"))
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runRefresh(c *cli.Context) error {
	a, err := buildApp(c, app.Options{DisableHooks: c.Bool("no-hooks")})
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.Scheduler.TryRun(c.Context)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runExport(c *cli.Context) error {
	a, err := buildApp(c, app.Options{DisableHooks: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.MemoryFeed != nil {
		if _, err := a.Scheduler.TryRun(c.Context); err != nil {
			return err
		}
	}

	filter, err := filterFromFlags(c)
	if err != nil {
		return err
	}

	out := os.Stdout
	if path := c.String("out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		defer f.Close()
		out = f
	}

	var rows int
	switch strings.ToLower(c.String("format")) {
	case "csv":
		rows, err = a.Dashboard.ExportCSV(c.Context, filter, out)
	case "xlsx":
		rows, err = a.Dashboard.ExportXLSX(c.Context, filter, out)
	default:
		return fmt.Errorf("unknown export format %q", c.String("format"))
	}
	if err != nil {
		return err
	}
	logger.Log.Info().Int("rows", rows).Str("format", c.String("format")).Msg("export written")
	return nil
}

func filterFromFlags(c *cli.Context) (domain.FilterSpec, error) {
	filter := domain.FilterSpec{
		Warehouse:          c.String("warehouse"),
		Cluster:            c.String("cluster"),
		Source:             c.String("source"),
		ActiveOnly:         c.Bool("active-only"),
		NeedsReplenishment: c.Bool("needs-replenishment"),
		SortField:          domain.SortField(c.String("sort-field")),
		SortDirection:      domain.SortDirection(c.String("sort-direction")),
	}
	for _, raw := range c.StringSlice("status") {
		status, err := domain.ParseLiquidityStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	return filter, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
