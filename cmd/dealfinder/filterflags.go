package main

import (
	"flag"
	"strings"

	"vehicle-deal-tracker/internal/query"
)

// filterFlags are the command-line overrides of the configured filters.
// Zero values mean "not given".
type filterFlags struct {
	priceMin int
	priceMax int
	year     int
	trim     string
	dealer   string
	noFilter bool
}

func addFilterFlags(fs *flag.FlagSet) *filterFlags {
	ff := &filterFlags{}
	fs.IntVar(&ff.priceMin, "price-min", 0, "minimum price")
	fs.IntVar(&ff.priceMax, "price-max", 0, "maximum price")
	fs.IntVar(&ff.year, "year", 0, "minimum model year")
	fs.StringVar(&ff.trim, "trim", "", "comma-separated trims to include")
	fs.StringVar(&ff.dealer, "dealer", "", "comma-separated dealer names to include")
	fs.BoolVar(&ff.noFilter, "no-filter", false, "ignore the configured filters")
	return ff
}

// apply returns defaults (or the empty spec with -no-filter) overridden by
// whatever flags were given.
func (ff *filterFlags) apply(defaults query.FilterSpec) query.FilterSpec {
	spec := defaults
	if ff.noFilter {
		spec = query.FilterSpec{}
	}

	var o query.FilterSpec
	if ff.priceMin > 0 {
		o.PriceMin = intPtr(ff.priceMin)
	}
	if ff.priceMax > 0 {
		o.PriceMax = intPtr(ff.priceMax)
	}
	if ff.year > 0 {
		o.YearMin = intPtr(ff.year)
	}
	o.TrimsInclude = splitList(ff.trim)
	o.DealersInclude = splitList(ff.dealer)
	return spec.Override(o)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
