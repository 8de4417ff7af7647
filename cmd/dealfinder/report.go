package main

import (
	"fmt"
	"io"
	"strings"

	"vehicle-deal-tracker/internal/config"
	"vehicle-deal-tracker/internal/models"
	"vehicle-deal-tracker/internal/query"
)

const rule = "============================================================"

func printRunSummary(w io.Writer, run *models.ScrapeRun, filters query.FilterSpec) {
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "SUMMARY")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Candidates fetched: %d\n", run.Candidates)
	fmt.Fprintf(w, "New listings found: %d\n", run.Inserted)
	fmt.Fprintf(w, "Price changes detected: %d\n", run.PriceChanges)
	fmt.Fprintf(w, "Unchanged: %d\n", run.Unchanged)
	if run.Rejected > 0 || run.Failed > 0 {
		fmt.Fprintf(w, "Rejected: %d, failed: %d\n", run.Rejected, run.Failed)
	}
	if run.SourceErrors != "" {
		fmt.Fprintf(w, "Source errors: %s\n", run.SourceErrors)
	}
	if summary := filters.Summary(); summary != "None" {
		fmt.Fprintf(w, "\nActive filters: %s\n", summary)
	}
}

// printDeals lists the n cheapest of listings; the header carries the
// full count.
func printDeals(w io.Writer, v config.Vehicle, listings []models.Listing, n int) {
	fmt.Fprintf(w, "\n--- Top %d %s (%d total) ---\n", n, vehicleTitle(v), len(listings))
	if n > len(listings) {
		n = len(listings)
	}
	for i := 0; i < n; i++ {
		l := &listings[i]
		fmt.Fprintf(w, "%d. [ID:%d] %s - %d %s\n", i+1, l.ID, query.FormatPrice(l.Price), l.Year, orDefault(l.Trim, "N/A"))
		fmt.Fprintf(w, "   Dealer: %s\n", orDefault(l.DealerName, "Unknown"))
		fmt.Fprintf(w, "   URL: %s\n", orDefault(l.ListingURL, "N/A"))
	}
}

func vehicleTitle(v config.Vehicle) string {
	title := strings.TrimSpace(v.Make + " " + v.Model)
	if title == "" {
		return "listings"
	}
	return title
}

func printDrops(w io.Writer, drops []models.PriceChangeDetail, days int) {
	if len(drops) == 0 {
		fmt.Fprintf(w, "No price drops in the last %d days.\n", days)
		return
	}

	fmt.Fprintf(w, "\n--- Price Drops (Last %d Days) ---\n", days)
	for i := range drops {
		d := &drops[i]
		fmt.Fprintf(w, "%d %s %s %s\n", d.Year, d.Make, d.Model, orDefault(d.Trim, ""))
		fmt.Fprintf(w, "  %s -> %s (save %s)\n",
			query.FormatPrice(&d.OldPrice), query.FormatPrice(&d.NewPrice), query.FormatPrice(intPtr(d.Savings())))
		fmt.Fprintf(w, "  Dealer: %s\n\n", orDefault(d.DealerName, "N/A"))
	}
}

func printFilters(w io.Writer, f query.FilterSpec) {
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "CURRENT FILTERS")
	fmt.Fprintln(w, rule)

	fmt.Fprintf(w, "Price range: %s\n", bounds(f.PriceMin, f.PriceMax, query.FormatPrice))
	fmt.Fprintf(w, "Mileage max: %s\n", orNoLimit(f.MileageMax))
	fmt.Fprintf(w, "Year range: %s\n", bounds(f.YearMin, f.YearMax, func(n *int) string { return fmt.Sprint(*n) }))

	fmt.Fprintf(w, "\nTrim include: %s\n", list(f.TrimsInclude, "All trims"))
	fmt.Fprintf(w, "Trim exclude: %s\n", list(f.TrimsExclude, "None"))
	fmt.Fprintf(w, "Dealer include: %s\n", list(f.DealersInclude, "All dealers"))
	fmt.Fprintf(w, "Dealer exclude: %s\n", list(f.DealersExclude, "None"))
	fmt.Fprintf(w, "Keywords exclude: %s\n", list(f.KeywordsExclude, "None"))
	if f.MinDiscountPercent != nil {
		fmt.Fprintf(w, "Min discount from MSRP: %g%%\n", *f.MinDiscountPercent)
	} else {
		fmt.Fprintln(w, "Min discount from MSRP: None")
	}
	fmt.Fprintf(w, "Only price drops: %t\n", f.OnlyPriceDrops)

	fmt.Fprintf(w, "\nActive: %s\n", f.Summary())
}

func bounds(lo, hi *int, format func(*int) string) string {
	if lo == nil && hi == nil {
		return "No limit"
	}
	from, to := "Any", "Any"
	if lo != nil {
		from = format(lo)
	}
	if hi != nil {
		to = format(hi)
	}
	return from + " - " + to
}

func orNoLimit(n *int) string {
	if n == nil {
		return "No limit"
	}
	return fmt.Sprint(*n)
}

func list(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, ", ")
}

func orDefault(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

func intPtr(n int) *int { return &n }
