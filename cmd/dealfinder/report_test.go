package main

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"gorm.io/gorm/logger"

	"vehicle-deal-tracker/internal/config"
	"vehicle-deal-tracker/internal/database"
	"vehicle-deal-tracker/internal/merge"
	"vehicle-deal-tracker/internal/models"
	"vehicle-deal-tracker/internal/query"
)

func TestPrintDrops(t *testing.T) {
	var buf bytes.Buffer
	printDrops(&buf, nil, 7)
	if got := buf.String(); got != "No price drops in the last 7 days.\n" {
		t.Errorf("empty output = %q", got)
	}

	buf.Reset()
	printDrops(&buf, []models.PriceChangeDetail{{
		OldPrice:   52000,
		NewPrice:   49500,
		Year:       2025,
		Make:       "Toyota",
		Model:      "Tundra",
		Trim:       models.StringPtr("SR5"),
		DealerName: models.StringPtr("Austin Toyota"),
	}}, 7)
	out := buf.String()
	for _, want := range []string{
		"--- Price Drops (Last 7 Days) ---",
		"2025 Toyota Tundra SR5",
		"$52,000 -> $49,500 (save $2,500)",
		"Dealer: Austin Toyota",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintDeals(t *testing.T) {
	listings := []models.Listing{
		{ID: 3, Year: 2025, Price: models.IntPtr(48000), Trim: models.StringPtr("SR5")},
		{ID: 1, Year: 2024, Price: models.IntPtr(52000)},
		{ID: 2, Year: 2025},
	}

	var buf bytes.Buffer
	printDeals(&buf, config.Vehicle{Make: "toyota", Model: "tundra"}, listings, 2)
	out := buf.String()

	if !strings.Contains(out, "--- Top 2 toyota tundra (3 total) ---") {
		t.Errorf("missing header:\n%s", out)
	}
	if !strings.Contains(out, "1. [ID:3] $48,000 - 2025 SR5") {
		t.Errorf("missing first deal:\n%s", out)
	}
	if !strings.Contains(out, "2. [ID:1] $52,000 - 2024 N/A") {
		t.Errorf("missing second deal:\n%s", out)
	}
	if strings.Contains(out, "[ID:2]") {
		t.Errorf("printed more than n deals:\n%s", out)
	}
}

func TestPrintFilters(t *testing.T) {
	maxPrice := 60000
	pct := 5.0
	var buf bytes.Buffer
	printFilters(&buf, query.FilterSpec{
		PriceMax:           &maxPrice,
		TrimsExclude:       []string{"TRD Pro"},
		MinDiscountPercent: &pct,
	})
	out := buf.String()
	for _, want := range []string{
		"Price range: Any - $60,000",
		"Mileage max: No limit",
		"Year range: No limit",
		"Trim include: All trims",
		"Trim exclude: TRD Pro",
		"Min discount from MSRP: 5%",
		"Only price drops: false",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "deals.db")

	var buf bytes.Buffer
	if err := run(context.Background(), cfg, "bogus", nil, &buf); err == nil {
		t.Error("run accepted an unknown command")
	}
}

func TestRun_ExportEmptyStore(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Database.SQLite.Path = filepath.Join(dir, "deals.db")
	out := filepath.Join(dir, "deals.xlsx")

	var buf bytes.Buffer
	if err := run(context.Background(), cfg, "export", []string{"-out", out}, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(buf.String(), "Exported 0 listings and 0 price changes") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestFilterFlags_Apply(t *testing.T) {
	maxPrice, maxMiles := 65000, 100
	defaults := query.FilterSpec{
		PriceMax:     &maxPrice,
		MileageMax:   &maxMiles,
		TrimsExclude: []string{"TRD Pro"},
	}

	tests := []struct {
		name string
		args []string
		want query.FilterSpec
	}{
		{"no flags", nil, defaults},
		{"price bounds", []string{"-price-min", "40000", "-price-max", "50000"}, query.FilterSpec{
			PriceMin: intPtr(40000), PriceMax: intPtr(50000), MileageMax: &maxMiles, TrimsExclude: []string{"TRD Pro"},
		}},
		{"trim dealer year", []string{"-trim", "SR5, Limited", "-dealer", "Pacific", "-year", "2025"}, query.FilterSpec{
			PriceMax: &maxPrice, MileageMax: &maxMiles, YearMin: intPtr(2025),
			TrimsInclude: []string{"SR5", "Limited"}, TrimsExclude: []string{"TRD Pro"}, DealersInclude: []string{"Pacific"},
		}},
		{"no filter", []string{"-no-filter"}, query.FilterSpec{}},
		{"no filter with override", []string{"-no-filter", "-price-max", "50000"}, query.FilterSpec{PriceMax: intPtr(50000)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			ff := addFilterFlags(fs)
			if err := fs.Parse(tt.args); err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if got := ff.apply(defaults); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("apply() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// seededConfig returns a config on a fresh SQLite file holding three
// Tundras from two dealers.
func seededConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "deals.db")
	cfg.Vehicles = []config.Vehicle{{Make: "toyota", Model: "tundra"}}
	maxPrice := 60000
	cfg.Filters = query.FilterSpec{PriceMax: &maxPrice}
	cfg.Email = config.EmailConfig{SenderName: "Jamie Buyer", SenderPhone: "555-0100"}

	store, err := database.Open(cfg.Database, logger.Silent)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	engine := merge.NewEngine(store)
	for _, c := range []models.Candidate{
		{Source: "carscom", SourceListingID: "a", Make: "Toyota", Model: "Tundra", Year: 2025,
			Trim: models.StringPtr("SR5"), Price: models.IntPtr(48000), MSRP: models.IntPtr(52000),
			DealerName: models.StringPtr("Pacific Toyota"), StockNumber: models.StringPtr("P100")},
		{Source: "carscom", SourceListingID: "b", Make: "Toyota", Model: "Tundra", Year: 2025,
			Trim: models.StringPtr("Limited"), Price: models.IntPtr(58000),
			DealerName: models.StringPtr("Pacific Toyota"), StockNumber: models.StringPtr("P200")},
		{Source: "cargurus", SourceListingID: "c", Make: "Toyota", Model: "Tundra", Year: 2024,
			Trim: models.StringPtr("Platinum"), Price: models.IntPtr(64000),
			DealerName: models.StringPtr("Mission Toyota")},
	} {
		if _, _, err := engine.Merge(context.Background(), c); err != nil {
			t.Fatalf("seed %s: %v", c.SourceListingID, err)
		}
	}
	return cfg
}

func TestRun_DealsFilterFlags(t *testing.T) {
	cfg := seededConfig(t)

	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant []string
	}{
		{"configured filters", nil, []string{"(2 total)", "$48,000", "$58,000"}, []string{"$64,000"}},
		{"no filter", []string{"-no-filter"}, []string{"(3 total)", "$64,000"}, nil},
		{"price max", []string{"-price-max", "50000"}, []string{"(1 total)", "$48,000"}, []string{"$58,000"}},
		{"price min", []string{"-no-filter", "-price-min", "60000"}, []string{"(1 total)", "$64,000"}, nil},
		{"trim", []string{"-trim", "limited"}, []string{"(1 total)", "$58,000"}, []string{"$48,000"}},
		{"dealer", []string{"-no-filter", "-dealer", "mission"}, []string{"(1 total)", "Mission Toyota"}, []string{"Pacific"}},
		{"year", []string{"-no-filter", "-year", "2025"}, []string{"(2 total)"}, []string{"$64,000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := run(context.Background(), cfg, "deals", tt.args, &buf); err != nil {
				t.Fatalf("deals: %v", err)
			}
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("output has %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestRun_FiltersWithFlags(t *testing.T) {
	cfg := config.DefaultConfig()

	var buf bytes.Buffer
	if err := run(context.Background(), cfg, "filters", []string{"-no-filter", "-dealer", "Pacific"}, &buf); err != nil {
		t.Fatalf("filters: %v", err)
	}
	if !strings.Contains(buf.String(), "Dealer include: Pacific") {
		t.Errorf("output = %s", buf.String())
	}
}

func TestRun_Email(t *testing.T) {
	cfg := seededConfig(t)

	var buf bytes.Buffer
	if err := run(context.Background(), cfg, "email", []string{"-id", "1"}, &buf); err != nil {
		t.Fatalf("email: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"To: Pacific Toyota\n",
		"Subject: OTD Price Request - 2025 Toyota Tundra SR5",
		"Stock #: P100",
		"Listed Price: $48,000",
		"Thank you,\nJamie Buyer\n555-0100\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("direct email missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := run(context.Background(), cfg, "email", []string{"-id", "1", "-template", "multi"}, &buf); err != nil {
		t.Fatalf("multi email: %v", err)
	}
	out = buf.String()
	if !strings.Contains(out, "1. 2025 Toyota Tundra SR5 (Stock #P100)") ||
		!strings.Contains(out, "2. 2025 Toyota Tundra Limited (Stock #P200)") {
		t.Errorf("multi email should list both Pacific Toyota listings:\n%s", out)
	}
	if strings.Contains(out, "Platinum") {
		t.Errorf("multi email includes another dealer's listing:\n%s", out)
	}

	buf.Reset()
	if err := run(context.Background(), cfg, "email", []string{"-id", "1", "-template", "competitive", "-competitor-price", "46500"}, &buf); err != nil {
		t.Fatalf("competitive email: %v", err)
	}
	if !strings.Contains(buf.String(), "out-the-door quote of $46,500") {
		t.Errorf("competitive email:\n%s", buf.String())
	}

	if err := run(context.Background(), cfg, "email", []string{"-id", "99"}, &buf); err == nil {
		t.Error("email for a missing listing succeeded")
	}
	if err := run(context.Background(), cfg, "email", nil, &buf); err == nil {
		t.Error("email without -id succeeded")
	}
}

func TestRun_Report(t *testing.T) {
	cfg := seededConfig(t)
	path := filepath.Join(t.TempDir(), "report.html")

	var buf bytes.Buffer
	if err := run(context.Background(), cfg, "report", []string{"-out", path}, &buf); err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(buf.String(), "Wrote report with 2 listings and 0 price drops") {
		t.Errorf("output = %q", buf.String())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	html := string(data)
	for _, want := range []string{"<h2>toyota tundra (2)</h2>", "$48,000", "Pacific Toyota", "Active filters: Price &lt;= $60,000"} {
		if !strings.Contains(html, want) {
			t.Errorf("report missing %q", want)
		}
	}
	if strings.Contains(html, "$64,000") {
		t.Error("report includes a listing above the price filter")
	}
}
