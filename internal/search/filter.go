package search

import (
	"fmt"
	"strconv"

	"vehicle-deal-tracker/internal/query"
)

// BuildFilter translates the options of f that Meilisearch can evaluate
// exactly into filter expressions. Unknown price, mileage and year pass
// their bounds, as in query.FilterSpec.Match. Substring options (trims,
// dealers, keywords) are left to the caller.
func BuildFilter(f query.FilterSpec) []string {
	var filters []string

	if f.PriceMin != nil {
		filters = append(filters, nullableBound("price", ">=", *f.PriceMin))
	}
	if f.PriceMax != nil {
		filters = append(filters, nullableBound("price", "<=", *f.PriceMax))
	}
	if f.MileageMax != nil {
		filters = append(filters, nullableBound("mileage", "<=", *f.MileageMax))
	}
	if f.YearMin != nil {
		filters = append(filters, fmt.Sprintf("year >= %d", *f.YearMin))
	}
	if f.YearMax != nil {
		filters = append(filters, fmt.Sprintf("year <= %d", *f.YearMax))
	}
	if f.MinDiscountPercent != nil {
		filters = append(filters, "discount_percent >= "+strconv.FormatFloat(*f.MinDiscountPercent, 'f', -1, 64))
	}
	if f.OnlyPriceDrops {
		filters = append(filters, "has_price_drop = true")
	}

	return filters
}

func nullableBound(field, op string, v int) string {
	return fmt.Sprintf("(%s %s %d OR %s NOT EXISTS)", field, op, v, field)
}
