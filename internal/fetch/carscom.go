package fetch

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"vehicle-deal-tracker/internal/config"
	"vehicle-deal-tracker/internal/models"
)

const carsComRoot = "https://www.cars.com"

var carsComVehicleRe = regexp.MustCompile(`/vehicle/(\d+)/`)

// CarsCom fetches the cars.com search results.
type CarsCom struct {
	*base
	cfg     config.ScraperConfig
	baseURL string
}

// NewCarsCom creates a cars.com fetcher.
func NewCarsCom(cfg config.ScraperConfig, b *base) *CarsCom {
	return &CarsCom{base: b, cfg: cfg, baseURL: carsComRoot}
}

// Source implements Fetcher.
func (f *CarsCom) Source() string { return SourceCarsCom }

// Fetch implements Fetcher.
func (f *CarsCom) Fetch(ctx context.Context, v config.Vehicle) ([]models.Candidate, error) {
	return f.crawl(ctx, v, f.cfg.MaxPages,
		func(page int) string { return f.searchURL(v, page) },
		func(html string) ([]models.Candidate, bool, error) { return parseCarsComPage(html, v) },
	)
}

func (f *CarsCom) searchURL(v config.Vehicle, page int) string {
	stockType := "new"
	switch f.cfg.Condition {
	case "used", "all":
		stockType = f.cfg.Condition
	}

	q := url.Values{}
	q.Set("stock_type", stockType)
	q.Set("makes[]", strings.ToLower(v.Make))
	q.Set("models[]", strings.ToLower(v.Make+"-"+v.Model))
	q.Set("list_price_max", "")
	q.Set("maximum_distance", strconv.Itoa(f.cfg.Radius))
	q.Set("zip", f.cfg.ZipCode)
	q.Set("year_min", strconv.Itoa(v.YearMin))
	q.Set("year_max", strconv.Itoa(v.YearMax))
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", "20")
	q.Set("sort", "best_match_desc")
	return f.baseURL + "/shopping/results/?" + q.Encode()
}

// parseCarsComPage parses one results page. Cards without an ID, a
// matching model or a price are skipped.
func parseCarsComPage(html string, v config.Vehicle) ([]models.Candidate, bool, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, false, err
	}

	cards := cardsOrFallback(doc,
		"div.vehicle-card, div[data-listing-id], .vehicle-card-content",
		"[class*='vehicle-card']")

	var out []models.Candidate
	cards.Each(func(_ int, card *goquery.Selection) {
		if c, ok := parseCarsComCard(card, v); ok {
			out = append(out, c)
		}
	})

	more := doc.Find("a[aria-label='Next page'], .next-page").Length() > 0
	return out, more, nil
}

func parseCarsComCard(card *goquery.Selection, v config.Vehicle) (models.Candidate, bool) {
	link := card.Find("a.vehicle-card-link, a.image-gallery-link").First()
	href, _ := link.Attr("href")

	id := firstAttr(card, "data-listing-id")
	if id == "" {
		id = strings.TrimPrefix(firstAttr(card, "id"), "listing-")
	}
	if id == "" {
		if m := carsComVehicleRe.FindStringSubmatch(href); m != nil {
			id = m[1]
		}
	}
	if id == "" {
		return models.Candidate{}, false
	}

	title := firstText(card, "h2.title, h2.vehicle-card-title, .title")
	if !matchesModel(title, v.Model) {
		return models.Candidate{}, false
	}

	price := parseNumber(firstText(card, ".primary-price"))
	if price == nil {
		return models.Candidate{}, false
	}

	c := newCandidate(SourceCarsCom, id, v.Make, v.Model, title)
	c.Price = price
	c.MSRP = parseNumber(firstText(card, ".price-section .secondary-price, .msrp"))
	c.Mileage = parseNumber(firstText(card, ".mileage, .vehicle-card-mileage"))
	c.DealerName = models.StringPtr(firstText(card, ".dealer-name a, .dealer-name"))
	c.DealerAddress = models.StringPtr(firstText(card, ".dealer-address, .miles-from"))
	c.ListingURL = absoluteURL(carsComRoot, href)

	details := card.Find(".vehicle-details, .stock-type").First().Text()
	c.StockNumber = parseStock(details)
	c.VIN = parseVIN(details, true)
	return c, true
}
