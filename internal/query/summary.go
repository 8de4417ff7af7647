package query

import (
	"strconv"
	"strings"
)

// Summary renders the enabled options for humans, e.g.
// "Price >= $40,000 | Trims: SR5, Limited". It returns "None" when nothing
// is enabled.
func (f FilterSpec) Summary() string {
	var active []string

	if f.PriceMin != nil {
		active = append(active, "Price >= $"+thousands(*f.PriceMin))
	}
	if f.PriceMax != nil {
		active = append(active, "Price <= $"+thousands(*f.PriceMax))
	}
	if f.MileageMax != nil {
		active = append(active, "Mileage <= "+thousands(*f.MileageMax))
	}
	if f.YearMin != nil {
		active = append(active, "Year >= "+strconv.Itoa(*f.YearMin))
	}
	if f.YearMax != nil {
		active = append(active, "Year <= "+strconv.Itoa(*f.YearMax))
	}
	if len(f.TrimsInclude) > 0 {
		active = append(active, "Trims: "+strings.Join(f.TrimsInclude, ", "))
	}
	if len(f.TrimsExclude) > 0 {
		active = append(active, "Excluding trims: "+strings.Join(f.TrimsExclude, ", "))
	}
	if len(f.DealersInclude) > 0 {
		active = append(active, "Dealers: "+strings.Join(f.DealersInclude, ", "))
	}
	if len(f.DealersExclude) > 0 {
		active = append(active, "Excluding dealers: "+strings.Join(f.DealersExclude, ", "))
	}
	if len(f.KeywordsExclude) > 0 {
		active = append(active, "Excluding: "+strings.Join(f.KeywordsExclude, ", "))
	}
	if f.MinDiscountPercent != nil {
		active = append(active, "Min "+strconv.FormatFloat(*f.MinDiscountPercent, 'f', -1, 64)+"% off MSRP")
	}
	if f.OnlyPriceDrops {
		active = append(active, "Only price drops")
	}

	if len(active) == 0 {
		return "None"
	}
	return strings.Join(active, " | ")
}

// thousands formats n with comma separators: 45000 -> "45,000".
func thousands(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 && !(neg && b.Len() == 1) {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatPrice renders a whole-dollar price, "N/A" when unknown.
func FormatPrice(p *int) string {
	if p == nil {
		return "N/A"
	}
	return "$" + thousands(*p)
}
