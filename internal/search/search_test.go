package search

import (
	"strings"
	"testing"
	"time"

	"vehicle-deal-tracker/internal/config"
	"vehicle-deal-tracker/internal/models"
	"vehicle-deal-tracker/internal/query"
)

func TestBuildFilter(t *testing.T) {
	pct := 7.5
	f := query.FilterSpec{
		PriceMin:           models.IntPtr(40000),
		MileageMax:         models.IntPtr(100),
		YearMin:            models.IntPtr(2025),
		TrimsInclude:       []string{"SR5"},
		MinDiscountPercent: &pct,
		OnlyPriceDrops:     true,
	}

	got := strings.Join(BuildFilter(f), " AND ")
	want := "(price >= 40000 OR price NOT EXISTS) AND (mileage <= 100 OR mileage NOT EXISTS) AND " +
		"year >= 2025 AND discount_percent >= 7.5 AND has_price_drop = true"
	if got != want {
		t.Errorf("BuildFilter() =\n%s\nwant\n%s", got, want)
	}

	if n := len(BuildFilter(query.FilterSpec{TrimsExclude: []string{"TRD"}})); n != 0 {
		t.Errorf("substring-only spec produced %d filters, want 0", n)
	}
}

func TestNewDocument(t *testing.T) {
	l := &models.Listing{
		ID:        42,
		Source:    "cars.com",
		Make:      "Toyota",
		Model:     "Tundra",
		Year:      2025,
		Trim:      models.StringPtr("SR5"),
		Price:     models.IntPtr(45000),
		MSRP:      models.IntPtr(50000),
		LastSeen:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		FirstSeen: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	l.AppendPriceHistory(models.PricePoint{Price: 47000, Date: l.FirstSeen})

	doc := NewDocument(l)
	if doc.Title != "2025 Toyota Tundra SR5" {
		t.Errorf("Title = %q", doc.Title)
	}
	if !doc.HasPriceDrop {
		t.Error("HasPriceDrop = false")
	}
	if doc.DiscountPercent == nil || *doc.DiscountPercent != 10 {
		t.Errorf("DiscountPercent = %v, want 10", doc.DiscountPercent)
	}
	if doc.LastSeen != l.LastSeen.Unix() {
		t.Errorf("LastSeen = %d", doc.LastSeen)
	}

	l.MSRP = nil
	if NewDocument(l).DiscountPercent != nil {
		t.Error("DiscountPercent should be nil without msrp")
	}
}

func TestNewClient_DisabledWithoutHost(t *testing.T) {
	if c := NewClient(config.MeilisearchConfig{}); c != nil {
		t.Error("NewClient without host should be nil")
	}
	c := NewClient(config.MeilisearchConfig{Host: "http://localhost:7700"})
	if c == nil || c.index != "listings" {
		t.Errorf("NewClient() = %+v", c)
	}
}

func TestResultIDs(t *testing.T) {
	r := &Result{Hits: []Document{{ID: 3}, {ID: 1}, {ID: 2}}}
	got := r.IDs()
	if len(got) != 3 || got[0] != 3 || got[1] != 1 || got[2] != 2 {
		t.Errorf("IDs() = %v", got)
	}
}
