package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/roadmaptools/roadmap-search/internal/config"
	"github.com/roadmaptools/roadmap-search/internal/query"
	"github.com/roadmaptools/roadmap-search/internal/roadmap"
	"github.com/roadmaptools/roadmap-search/internal/search"
	"github.com/roadmaptools/roadmap-search/internal/storage"
	syncctl "github.com/roadmaptools/roadmap-search/internal/sync"
	"github.com/roadmaptools/roadmap-search/internal/web"
)

func main() {
	app := &cli.Command{
		Name:  "roadmap-search",
		Usage: "Local search mirror for a product roadmap update feed",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Configuration file path",
				Value: defaultConfigPath(),
			},
		},
		Commands: []*cli.Command{
			syncCommand(),
			searchCommand(),
			statusCommand(),
			statsCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "roadmap-search.toml"
	}
	return filepath.Join(home, ".config", "roadmap-search", "config.toml")
}

// app bundles the opened collaborators for one command invocation.
type app struct {
	cfg        *config.Config
	db         *storage.DB
	index      *search.Index
	engine     *search.Engine
	controller *syncctl.Controller
}

func openApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := storage.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	idx, err := search.Open(cfg.IndexPath())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening index: %w", err)
	}

	client := roadmap.NewClient(cfg.FeedURL)
	controller := syncctl.NewController(client, db, idx, syncctl.Config{
		StalenessThresholdHours: cfg.StalenessThresholdHours,
		BatchSize:               cfg.BatchSize,
		MaxRetries:              cfg.MaxRetries,
	})

	return &app{
		cfg:        cfg,
		db:         db,
		index:      idx,
		engine:     search.NewEngine(idx, db),
		controller: controller,
	}, nil
}

func (a *app) close() {
	if err := a.index.Close(); err != nil {
		log.Printf("Error closing index: %v", err)
	}
	if err := a.db.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Refresh the local mirror from the upstream feed",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Sync even if the mirror is not stale",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := openApp(c.String("config"))
			if err != nil {
				return err
			}
			defer a.close()

			var stats *syncctl.Stats
			if c.Bool("force") {
				stats, err = a.controller.Sync(ctx)
			} else {
				stats, err = a.controller.SyncIfStale(ctx)
			}
			if errors.Is(err, storage.ErrSyncInProgress) {
				fmt.Println("A sync is already in progress")
				return nil
			}
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			if stats == nil {
				cp, _ := a.db.Checkpoint()
				fmt.Printf("Mirror is fresh (%s), nothing to do\n", syncctl.Freshness(cp, time.Now()))
				return nil
			}

			fmt.Printf("Synced %d records: %d new, %d updated, %d unchanged in %v\n",
				stats.TotalRecords, stats.Inserted, stats.Updated, stats.Skipped,
				stats.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search the mirrored updates",
		ArgsUsage: "[terms...]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of results", Value: query.DefaultLimit},
			&cli.IntFlag{Name: "offset", Usage: "Results to skip"},
			&cli.StringFlag{Name: "sort", Usage: "Sort order (e.g. modified:desc)"},
			&cli.StringFlag{Name: "status", Usage: "Filter by status"},
			&cli.StringFlag{Name: "ring", Usage: "Filter by availability ring"},
			&cli.StringSliceFlag{Name: "tag", Usage: "Require a tag (repeatable)"},
			&cli.StringSliceFlag{Name: "product", Usage: "Require a product (repeatable)"},
			&cli.StringSliceFlag{Name: "category", Usage: "Require a product category (repeatable)"},
			&cli.StringFlag{Name: "from", Usage: "Modified on or after (YYYY-MM-DD)"},
			&cli.StringFlag{Name: "to", Usage: "Modified on or before (YYYY-MM-DD)"},
			&cli.StringFlag{Name: "retire-from", Usage: "Retirement on or after (YYYY-MM-DD)"},
			&cli.StringFlag{Name: "retire-to", Usage: "Retirement on or before (YYYY-MM-DD)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := openApp(c.String("config"))
			if err != nil {
				return err
			}
			defer a.close()

			input := buildSearchInput(c)
			q, errs := query.Validate(input)
			if len(errs) > 0 {
				for _, fe := range errs {
					fmt.Fprintf(os.Stderr, "invalid %s: %s\n", fe.Field, fe.Message)
				}
				return fmt.Errorf("invalid search request")
			}

			results, md, err := a.engine.Search(q)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			fmt.Printf("Found %d results (showing %d, offset %d) in %dms\n\n",
				md.TotalResults, md.ReturnedResults, md.Offset, md.QueryTimeMs)

			for i, r := range results {
				u := r.Update
				fmt.Printf("%d. %s\n", md.Offset+i+1, u.Title)
				fmt.Printf("   id=%s modified=%s", u.ID, u.Modified.Format("2006-01-02"))
				if u.Status != nil {
					fmt.Printf(" status=%q", *u.Status)
				}
				if r.Score != nil {
					fmt.Printf(" score=%.3f", *r.Score)
				}
				fmt.Println()
				if len(u.Tags) > 0 {
					fmt.Printf("   tags: %s\n", strings.Join(u.Tags, ", "))
				}
				if i < len(results)-1 {
					fmt.Println()
				}
			}

			if md.HasMore {
				fmt.Printf("\nMore results available (use --offset %d)\n", md.Offset+md.ReturnedResults)
			}
			return nil
		},
	}
}

// buildSearchInput assembles the untyped request that the validator accepts;
// the CLI goes through the same front door as API callers.
func buildSearchInput(c *cli.Command) map[string]any {
	input := map[string]any{
		"limit":  c.Int("limit"),
		"offset": c.Int("offset"),
	}
	if terms := strings.Join(c.Args().Slice(), " "); terms != "" {
		input["query"] = terms
	}
	if s := c.String("sort"); s != "" {
		input["sortBy"] = s
	}

	filters := map[string]any{}
	if s := c.String("status"); s != "" {
		filters["status"] = s
	}
	if s := c.String("ring"); s != "" {
		filters["availabilityRing"] = s
	}
	if v := c.StringSlice("tag"); len(v) > 0 {
		filters["tags"] = v
	}
	if v := c.StringSlice("product"); len(v) > 0 {
		filters["products"] = v
	}
	if v := c.StringSlice("category"); len(v) > 0 {
		filters["productCategories"] = v
	}
	if s := c.String("from"); s != "" {
		filters["dateFrom"] = s
	}
	if s := c.String("to"); s != "" {
		filters["dateTo"] = s
	}
	if s := c.String("retire-from"); s != "" {
		filters["retirementDateFrom"] = s
	}
	if s := c.String("retire-to"); s != "" {
		filters["retirementDateTo"] = s
	}
	if len(filters) > 0 {
		input["filters"] = filters
	}
	return input
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show sync checkpoint state and mirror freshness",
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := openApp(c.String("config"))
			if err != nil {
				return err
			}
			defer a.close()

			cp, err := a.db.Checkpoint()
			if err != nil {
				return fmt.Errorf("read checkpoint: %w", err)
			}

			now := time.Now()
			fmt.Printf("Freshness: %s\n", syncctl.Freshness(cp, now))
			if cp == nil {
				return nil
			}

			fmt.Printf("Status: %s\n", cp.Status)
			if cp.LastSync != nil {
				fmt.Printf("Last sync: %s\n", cp.LastSync.Format(time.RFC3339))
			}
			if h := syncctl.HoursSince(cp, now); h != nil {
				fmt.Printf("Hours since last sync: %.1f\n", *h)
			}
			fmt.Printf("Records synced: %d\n", cp.RecordCount)
			fmt.Printf("Duration: %dms\n", cp.DurationMs)
			if cp.ErrorMessage != nil {
				fmt.Printf("Error: %s\n", *cp.ErrorMessage)
			}
			if next := syncctl.NextSyncTime(cp, a.cfg.StalenessThresholdHours); next != nil {
				fmt.Printf("Next eligible sync: %s\n", next.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show mirror statistics",
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := openApp(c.String("config"))
			if err != nil {
				return err
			}
			defer a.close()

			dbCount, err := a.db.Count()
			if err != nil {
				return fmt.Errorf("count records: %w", err)
			}
			indexCount, err := a.index.Count()
			if err != nil {
				return fmt.Errorf("count indexed: %w", err)
			}

			fmt.Printf("Records in database: %d\n", dbCount)
			fmt.Printf("Records in index: %d\n", indexCount)
			fmt.Printf("Data directory: %s\n", a.cfg.DataDir)
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the search API over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides config)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := openApp(c.String("config"))
			if err != nil {
				return err
			}
			defer a.close()

			addr := a.cfg.ListenAddr
			if s := c.String("addr"); s != "" {
				addr = s
			}

			server := web.NewServer(a.db, a.engine, a.controller, a.cfg.StalenessThresholdHours)
			log.Printf("Listening on http://%s", addr)
			return http.ListenAndServe(addr, server.Handler())
		},
	}
}
