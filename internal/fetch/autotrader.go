package fetch

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"vehicle-deal-tracker/internal/config"
	"vehicle-deal-tracker/internal/models"
)

const (
	autotraderRoot     = "https://www.autotrader.com"
	autotraderPageSize = 25
)

var (
	autotraderDetailRe  = regexp.MustCompile(`vehicledetails\.xhtml\?listingId=(\d+)`)
	autotraderListingRe = regexp.MustCompile(`/listing/(\d+)`)
)

// Autotrader fetches the autotrader.com search results.
type Autotrader struct {
	*base
	cfg     config.ScraperConfig
	baseURL string
}

// NewAutotrader creates an autotrader.com fetcher.
func NewAutotrader(cfg config.ScraperConfig, b *base) *Autotrader {
	return &Autotrader{base: b, cfg: cfg, baseURL: autotraderRoot}
}

// Source implements Fetcher.
func (f *Autotrader) Source() string { return SourceAutotrader }

// Fetch implements Fetcher. A bot-protection page ends the walk with
// ErrBlocked and whatever earlier pages produced.
func (f *Autotrader) Fetch(ctx context.Context, v config.Vehicle) ([]models.Candidate, error) {
	return f.crawl(ctx, v, f.cfg.MaxPages,
		func(page int) string { return f.searchURL(v, page) },
		func(html string) ([]models.Candidate, bool, error) { return parseAutotraderPage(html, v) },
	)
}

func (f *Autotrader) searchURL(v config.Vehicle, page int) string {
	condition := "new-cars"
	switch f.cfg.Condition {
	case "used":
		condition = "used-cars"
	case "all":
		condition = "all-cars"
	}

	q := url.Values{}
	q.Set("zip", f.cfg.ZipCode)
	q.Set("searchRadius", strconv.Itoa(f.cfg.Radius))
	q.Set("startYear", strconv.Itoa(v.YearMin))
	q.Set("endYear", strconv.Itoa(v.YearMax))
	q.Set("isNewSearch", "false")
	q.Set("marketExtension", "include")
	q.Set("sortBy", "relevance")
	q.Set("numRecords", strconv.Itoa(autotraderPageSize))
	q.Set("firstRecord", strconv.Itoa((page-1)*autotraderPageSize))

	return fmt.Sprintf("%s/cars-for-sale/%s/%s/%s?%s", f.baseURL, condition,
		url.PathEscape(strings.ToLower(v.Make)), url.PathEscape(strings.ToLower(v.Model)), q.Encode())
}

// isAutotraderBlockPage detects the "page unavailable / incident number"
// bot wall, which is served with a 200.
func isAutotraderBlockPage(html string) bool {
	return containsFold(html, "unavailable") && containsFold(html, "incident")
}

func parseAutotraderPage(html string, v config.Vehicle) ([]models.Candidate, bool, error) {
	if isAutotraderBlockPage(html) {
		return nil, false, ErrBlocked
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, false, err
	}

	cards := cardsOrFallback(doc,
		"[data-cmp='inventoryListing'], .inventory-listing, [class*='listing-'], [data-qaid='cntnr-listings-tier']",
		"article, [class*='result-item']")

	var out []models.Candidate
	cards.Each(func(_ int, card *goquery.Selection) {
		if c, ok := parseAutotraderCard(card, v); ok {
			out = append(out, c)
		}
	})
	return out, true, nil
}

// parseAutotraderCard reads one card. The listing ID comes from
// data-listing-id, the element id or the detail link; data-cmp names the
// component type and is the same on every card, so it is not an ID.
func parseAutotraderCard(card *goquery.Selection, v config.Vehicle) (models.Candidate, bool) {
	link := card.Find("a[href*='/cars-for-sale/'], a[href*='vehicledetails']").First()
	href, _ := link.Attr("href")

	id := firstAttr(card, "data-listing-id", "id")
	if id == "" {
		if m := autotraderDetailRe.FindStringSubmatch(href); m != nil {
			id = m[1]
		} else if m := autotraderListingRe.FindStringSubmatch(href); m != nil {
			id = m[1]
		}
	}
	if id == "" {
		return models.Candidate{}, false
	}

	title := firstText(card, "h2, h3, [data-cmp='heading'], .inventory-listing-title")
	if !matchesModel(title, v.Model) {
		return models.Candidate{}, false
	}

	price := parseNumber(firstText(card, "[data-cmp='firstPrice'], .first-price, .primary-price, .price-value"))
	if price == nil {
		return models.Candidate{}, false
	}

	c := newCandidate(SourceAutotrader, id, v.Make, v.Model, title)
	c.Price = price
	c.MSRP = parseNumber(firstText(card, ".msrp, .original-price"))
	c.Mileage = parseNumber(firstText(card, "[data-cmp='mileage'], .mileage, .miles"))
	c.DealerName = models.StringPtr(firstText(card, "[data-cmp='dealerName'], .dealer-name, .seller-name"))
	c.DealerAddress = models.StringPtr(firstText(card, ".dealer-address, .dealer-location, .seller-location"))
	c.ListingURL = absoluteURL(autotraderRoot, href)
	c.VIN = parseVIN(firstText(card, ".vin, [data-cmp='vin']"), false)
	return c, true
}
