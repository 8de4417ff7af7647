// Package query is the read side: ordered listing views, filters and
// windowed price-change reports.
package query

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"vehicle-deal-tracker/internal/models"
)

// FilterSpec narrows a listing view. Unset options (nil pointers, empty
// lists, false) impose nothing. All options are independent conjunctions.
type FilterSpec struct {
	PriceMin   *int `yaml:"price_min" json:"price_min,omitempty"`
	PriceMax   *int `yaml:"price_max" json:"price_max,omitempty"`
	MileageMax *int `yaml:"mileage_max" json:"mileage_max,omitempty"`
	YearMin    *int `yaml:"year_min" json:"year_min,omitempty"`
	YearMax    *int `yaml:"year_max" json:"year_max,omitempty"`

	TrimsInclude    []string `yaml:"trims_include" json:"trims_include,omitempty"`
	TrimsExclude    []string `yaml:"trims_exclude" json:"trims_exclude,omitempty"`
	DealersInclude  []string `yaml:"dealers_include" json:"dealers_include,omitempty"`
	DealersExclude  []string `yaml:"dealers_exclude" json:"dealers_exclude,omitempty"`
	KeywordsExclude []string `yaml:"keywords_exclude" json:"keywords_exclude,omitempty"`

	// Listings lacking msrp or price are excluded while this is set.
	MinDiscountPercent *float64 `yaml:"min_discount_percent" json:"min_discount_percent,omitempty"`

	OnlyPriceDrops bool `yaml:"only_price_drops" json:"only_price_drops"`
}

// IsZero reports whether no option is enabled.
func (f FilterSpec) IsZero() bool {
	return f.PriceMin == nil && f.PriceMax == nil && f.MileageMax == nil &&
		f.YearMin == nil && f.YearMax == nil &&
		len(f.TrimsInclude) == 0 && len(f.TrimsExclude) == 0 &&
		len(f.DealersInclude) == 0 && len(f.DealersExclude) == 0 &&
		len(f.KeywordsExclude) == 0 && f.MinDiscountPercent == nil && !f.OnlyPriceDrops
}

// Override returns f with every option that o enables replaced by o's value.
func (f FilterSpec) Override(o FilterSpec) FilterSpec {
	if o.PriceMin != nil {
		f.PriceMin = o.PriceMin
	}
	if o.PriceMax != nil {
		f.PriceMax = o.PriceMax
	}
	if o.MileageMax != nil {
		f.MileageMax = o.MileageMax
	}
	if o.YearMin != nil {
		f.YearMin = o.YearMin
	}
	if o.YearMax != nil {
		f.YearMax = o.YearMax
	}
	if len(o.TrimsInclude) > 0 {
		f.TrimsInclude = o.TrimsInclude
	}
	if len(o.TrimsExclude) > 0 {
		f.TrimsExclude = o.TrimsExclude
	}
	if len(o.DealersInclude) > 0 {
		f.DealersInclude = o.DealersInclude
	}
	if len(o.DealersExclude) > 0 {
		f.DealersExclude = o.DealersExclude
	}
	if len(o.KeywordsExclude) > 0 {
		f.KeywordsExclude = o.KeywordsExclude
	}
	if o.MinDiscountPercent != nil {
		f.MinDiscountPercent = o.MinDiscountPercent
	}
	if o.OnlyPriceDrops {
		f.OnlyPriceDrops = true
	}
	return f
}

// Filter returns the listings of in that satisfy every enabled option,
// preserving order. in is not modified.
func Filter(in []models.Listing, f FilterSpec) []models.Listing {
	out := make([]models.Listing, 0, len(in))
	for i := range in {
		if f.Match(&in[i]) {
			out = append(out, in[i])
		}
	}
	return out
}

// Match reports whether l satisfies every enabled option.
func (f FilterSpec) Match(l *models.Listing) bool {
	// Unknown price, mileage or year never violates a bound.
	if l.Price != nil {
		if f.PriceMin != nil && *l.Price < *f.PriceMin {
			return false
		}
		if f.PriceMax != nil && *l.Price > *f.PriceMax {
			return false
		}
	}
	if f.MileageMax != nil && l.Mileage != nil && *l.Mileage > *f.MileageMax {
		return false
	}
	if l.Year > 0 {
		if f.YearMin != nil && l.Year < *f.YearMin {
			return false
		}
		if f.YearMax != nil && l.Year > *f.YearMax {
			return false
		}
	}

	trim := lower(l.Trim)
	if len(f.TrimsInclude) > 0 && !containsAny(trim, f.TrimsInclude) {
		return false
	}
	if containsAny(trim, f.TrimsExclude) {
		return false
	}

	dealer := lower(l.DealerName)
	if len(f.DealersInclude) > 0 && !containsAny(dealer, f.DealersInclude) {
		return false
	}
	if containsAny(dealer, f.DealersExclude) {
		return false
	}

	if len(f.KeywordsExclude) > 0 {
		text := strings.ToLower(trim + " " + l.Make + " " + l.Model)
		if containsAny(text, f.KeywordsExclude) {
			return false
		}
	}

	if f.MinDiscountPercent != nil {
		// NaN and infinities cannot be compared as decimals; nothing passes.
		threshold := *f.MinDiscountPercent
		if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
			return false
		}
		pct, ok := DiscountPercent(l)
		if !ok || pct.LessThan(decimal.NewFromFloat(threshold)) {
			return false
		}
	}

	if f.OnlyPriceDrops && !l.HasPriceDrop() {
		return false
	}

	return true
}

// DiscountPercent returns (msrp - price) / msrp * 100 when both are known
// and msrp is positive.
func DiscountPercent(l *models.Listing) (decimal.Decimal, bool) {
	if l.MSRP == nil || l.Price == nil || *l.MSRP <= 0 {
		return decimal.Zero, false
	}
	msrp := decimal.NewFromInt(int64(*l.MSRP))
	off := msrp.Sub(decimal.NewFromInt(int64(*l.Price)))
	return off.Div(msrp).Mul(decimal.NewFromInt(100)), true
}

func lower(s *string) string {
	if s == nil {
		return ""
	}
	return strings.ToLower(*s)
}

// containsAny reports whether text (already lower-cased) contains any of
// the needles, case-insensitively. Blank needles are ignored.
func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" && strings.Contains(text, n) {
			return true
		}
	}
	return false
}
