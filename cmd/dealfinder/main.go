// Command dealfinder runs scrapes and prints deal reports from the
// command line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vehicle-deal-tracker/internal/config"
	"vehicle-deal-tracker/internal/database"
	"vehicle-deal-tracker/internal/export"
	"vehicle-deal-tracker/internal/fetch"
	"vehicle-deal-tracker/internal/merge"
	"vehicle-deal-tracker/internal/models"
	"vehicle-deal-tracker/internal/notify"
	"vehicle-deal-tracker/internal/query"
	"vehicle-deal-tracker/internal/scheduler"
	"vehicle-deal-tracker/internal/search"
)

const usage = `usage: dealfinder [-config path] <command> [flags]

commands:
  scrape [filter flags]               fetch all sources and merge the results
  deals  [-make -model -n] [filter flags]
                                      cheapest listings passing the filters
  drops  [-days N]                    recent price drops
  filters [filter flags]              show the effective filters
  export [-out path] [-days N]        write listings and price changes to .xlsx
  report [-out path] [-days N] [filter flags]
                                      write an HTML deal report
  email  -id N [-template direct|competitive|multi] [-competitor-price P]
                                      draft a quote request for a listing

filter flags:
  -price-min N -price-max N -year N   override the configured bounds
  -trim a,b -dealer a,b               only these trims or dealers
  -no-filter                          start from no filters at all
`

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "config/dealfinder.yaml"), "config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config from %s: %v", *configPath, err)
	}

	if err := run(ctx, cfg, flag.Arg(0), flag.Args()[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.Config, cmd string, args []string, out io.Writer) error {
	if cmd == "filters" {
		fs := flag.NewFlagSet("filters", flag.ExitOnError)
		ff := addFilterFlags(fs)
		fs.Parse(args)

		printFilters(out, ff.apply(cfg.Filters))
		return nil
	}

	store, err := database.Open(cfg.Database, cfg.Logging.GormLogLevel())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	qs := query.NewService(store, cfg.Filters)

	switch cmd {
	case "scrape":
		fs := flag.NewFlagSet("scrape", flag.ExitOnError)
		ff := addFilterFlags(fs)
		fs.Parse(args)

		return scrape(ctx, cfg, store, qs, ff.apply(cfg.Filters), out)
	case "deals":
		fs := flag.NewFlagSet("deals", flag.ExitOnError)
		makeName := fs.String("make", "", "vehicle make (default: every configured vehicle)")
		model := fs.String("model", "", "vehicle model")
		n := fs.Int("n", 5, "listings per vehicle")
		ff := addFilterFlags(fs)
		fs.Parse(args)

		vehicles := cfg.Vehicles
		if *makeName != "" || *model != "" {
			vehicles = []config.Vehicle{{Make: *makeName, Model: *model}}
		}
		return deals(ctx, qs, vehicles, ff.apply(cfg.Filters), *n, out)
	case "drops":
		fs := flag.NewFlagSet("drops", flag.ExitOnError)
		days := fs.Int("days", 7, "window in days")
		fs.Parse(args)

		drops, err := qs.PriceDrops(ctx, *days)
		if err != nil {
			return err
		}
		printDrops(out, drops, *days)
		return nil
	case "export":
		fs := flag.NewFlagSet("export", flag.ExitOnError)
		path := fs.String("out", cfg.Export.Path, "output .xlsx path")
		days := fs.Int("days", 30, "price changes window in days")
		fs.Parse(args)

		listings, err := qs.List(ctx, "", "")
		if err != nil {
			return err
		}
		changes, err := qs.PriceChanges(ctx, *days)
		if err != nil {
			return err
		}
		if err := export.WriteWorkbook(*path, listings, changes); err != nil {
			return err
		}
		fmt.Fprintf(out, "Exported %d listings and %d price changes to %s\n", len(listings), len(changes), *path)
		return nil
	case "report":
		fs := flag.NewFlagSet("report", flag.ExitOnError)
		path := fs.String("out", cfg.Export.ReportPath, "output .html path")
		days := fs.Int("days", 7, "price drops window in days")
		ff := addFilterFlags(fs)
		fs.Parse(args)

		return report(ctx, qs, cfg.Vehicles, ff.apply(cfg.Filters), *days, *path, out)
	case "email":
		fs := flag.NewFlagSet("email", flag.ExitOnError)
		id := fs.Uint("id", 0, "listing ID")
		tmpl := fs.String("template", notify.TemplateDirect, "direct, competitive or multi")
		competitor := fs.Int("competitor-price", 0, "competing OTD quote (competitive template)")
		fs.Parse(args)

		if *id == 0 {
			return errors.New("email: -id is required")
		}
		sender := notify.Sender{Name: cfg.Email.SenderName, Phone: cfg.Email.SenderPhone}
		return draftEmail(ctx, qs, *id, *tmpl, *competitor, sender, out)
	default:
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
}

func scrape(ctx context.Context, cfg *config.Config, store database.Store, qs *query.Service, spec query.FilterSpec, out io.Writer) error {
	engine := merge.NewEngineWithConfig(store, merge.EngineConfig{
		MaxConflictRetries: cfg.Merge.MaxConflictRetries,
	})

	var indexer scheduler.Indexer
	if client := search.NewClient(cfg.Search.Meilisearch); client != nil {
		if err := client.InitIndex(); err != nil {
			log.Printf("Warning: Failed to initialize search index: %v", err)
		}
		indexer = client
	}

	runner := scheduler.NewRunner(store, engine, fetch.NewFetchers(cfg.Scraper), indexer, cfg)
	run, err := runner.Run(ctx, models.TriggerManual)
	if run != nil {
		printRunSummary(out, run, spec)
	}
	if err != nil {
		return err
	}
	return deals(ctx, qs, cfg.Vehicles, spec, 5, out)
}

func deals(ctx context.Context, qs *query.Service, vehicles []config.Vehicle, spec query.FilterSpec, n int, out io.Writer) error {
	for _, v := range vehicles {
		listings, err := qs.Search(ctx, v.Make, v.Model, spec)
		if err != nil {
			return err
		}
		printDeals(out, v, listings, n)
	}
	return nil
}

func report(ctx context.Context, qs *query.Service, vehicles []config.Vehicle, spec query.FilterSpec, days int, path string, out io.Writer) error {
	r := export.Report{
		GeneratedAt: time.Now(),
		Filters:     spec.Summary(),
		DropDays:    days,
	}
	for _, v := range vehicles {
		listings, err := qs.Search(ctx, v.Make, v.Model, spec)
		if err != nil {
			return err
		}
		r.Sections = append(r.Sections, export.ReportSection{Title: vehicleTitle(v), Listings: listings})
	}
	drops, err := qs.PriceDrops(ctx, days)
	if err != nil {
		return err
	}
	r.Drops = drops

	if err := export.SaveHTMLReport(path, r); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote report with %d listings and %d price drops to %s\n", r.TotalListings(), len(drops), path)
	return nil
}

func draftEmail(ctx context.Context, qs *query.Service, id uint, tmpl string, competitorPrice int, sender notify.Sender, out io.Writer) error {
	l, err := qs.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("listing %d: %w", id, err)
	}

	var others []models.Listing
	if tmpl == notify.TemplateMulti {
		if others, err = qs.List(ctx, l.Make, l.Model); err != nil {
			return err
		}
	}

	email, err := notify.Draft(tmpl, l, others, competitorPrice, sender)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "To: %s\n", orDefault(l.DealerName, "dealer"))
	if l.DealerPhone != nil {
		fmt.Fprintf(out, "Dealer phone: %s\n", *l.DealerPhone)
	}
	fmt.Fprint(out, email.String())
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
