package export

import (
	"fmt"
	"html/template"
	"io"
	"os"
	"time"

	"vehicle-deal-tracker/internal/models"
	"vehicle-deal-tracker/internal/query"
)

// Report is the data behind the HTML deal report.
type Report struct {
	GeneratedAt time.Time
	Filters     string
	DropDays    int
	Drops       []models.PriceChangeDetail
	Sections    []ReportSection
}

// ReportSection is one vehicle's filtered listings, cheapest first.
type ReportSection struct {
	Title    string
	Listings []models.Listing
}

// TotalListings counts listings across all sections.
func (r Report) TotalListings() int {
	n := 0
	for _, s := range r.Sections {
		n += len(s.Listings)
	}
	return n
}

// BestPrice is the lowest known price in the section.
func (s ReportSection) BestPrice() *int {
	var best *int
	for i := range s.Listings {
		p := s.Listings[i].Price
		if p != nil && (best == nil || *p < *best) {
			best = p
		}
	}
	return best
}

var reportFuncs = template.FuncMap{
	"price": query.FormatPrice,
	"amount": func(n int) string {
		return query.FormatPrice(&n)
	},
	"str": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
	"date": func(t time.Time) string {
		return t.UTC().Format(timeLayout)
	},
	"discount": func(l models.Listing) string {
		pct, ok := query.DiscountPercent(&l)
		if !ok {
			return ""
		}
		return pct.StringFixed(1) + "%"
	},
}

var reportTemplate = template.Must(template.New("report").Funcs(reportFuncs).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Vehicle Deal Report</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
.cards { display: flex; gap: 1em; margin-bottom: 2em; }
.card { border: 1px solid #ccc; border-radius: 6px; padding: 1em 1.5em; }
.card .value { font-size: 1.6em; font-weight: bold; }
table { border-collapse: collapse; width: 100%; margin-bottom: 2em; }
th, td { border-bottom: 1px solid #ddd; padding: 0.4em 0.6em; text-align: left; }
th { background: #f4f4f4; }
.savings { color: #1a7f37; font-weight: bold; }
</style>
</head>
<body>
<h1>Vehicle Deal Report</h1>
<p>Generated {{date .GeneratedAt}}. Active filters: {{.Filters}}</p>

<div class="cards">
<div class="card"><div>Total listings</div><div class="value">{{.TotalListings}}</div></div>
{{- range .Sections}}
<div class="card"><div>Best {{.Title}}</div><div class="value">{{price .BestPrice}}</div></div>
{{- end}}
</div>

<h2>Recent Price Drops (Last {{.DropDays}} Days)</h2>
{{- if .Drops}}
<table>
<tr><th>Vehicle</th><th>Dealer</th><th>Old Price</th><th>New Price</th><th>Savings</th><th>Date</th></tr>
{{- range .Drops}}
<tr><td>{{.Year}} {{.Make}} {{.Model}} {{str .Trim}}</td><td>{{str .DealerName}}</td><td>{{amount .OldPrice}}</td><td>{{amount .NewPrice}}</td><td class="savings">{{amount .Savings}}</td><td>{{date .ChangedAt}}</td></tr>
{{- end}}
</table>
{{- else}}
<p>No price drops.</p>
{{- end}}

{{- range .Sections}}
<h2>{{.Title}} ({{len .Listings}})</h2>
{{- if .Listings}}
<table>
<tr><th>Year</th><th>Trim</th><th>Price</th><th>MSRP</th><th>Discount</th><th>Dealer</th><th>Link</th></tr>
{{- range .Listings}}
<tr><td>{{.Year}}</td><td>{{str .Trim}}</td><td>{{price .Price}}</td><td>{{price .MSRP}}</td><td>{{discount .}}</td><td>{{str .DealerName}}</td><td>{{with str .ListingURL}}<a href="{{.}}">View</a>{{end}}</td></tr>
{{- end}}
</table>
{{- else}}
<p>No listings match the filters.</p>
{{- end}}
{{- end}}
</body>
</html>
`))

// WriteHTMLReport renders r as a standalone HTML page.
func WriteHTMLReport(w io.Writer, r Report) error {
	return reportTemplate.Execute(w, r)
}

// SaveHTMLReport renders r to path.
func SaveHTMLReport(path string, r Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report %s: %w", path, err)
	}
	if err := WriteHTMLReport(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to render report: %w", err)
	}
	return f.Close()
}
