package fetch

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"vehicle-deal-tracker/internal/config"
	"vehicle-deal-tracker/internal/models"
)

const cargurusRoot = "https://www.cargurus.com"

// cargurusModelCodes maps "make-model" to the entity code CarGurus uses
// in its search URLs.
var cargurusModelCodes = map[string]string{
	"toyota-tundra": "295",
	"ford-f-150":    "333",
}

var cargurusLinkRe = regexp.MustCompile(`listing[=/](\d+)|vehicle[=/](\d+)`)

// minCarGurusPrice filters out monthly payments and deal badges that
// match the price selectors.
const minCarGurusPrice = 10000

// Renderer loads a page in a real browser and returns the rendered HTML.
type Renderer func(ctx context.Context, url string) (string, error)

// CarGurus fetches the CarGurus search page. The results are rendered
// client-side, so it goes through a headless browser.
type CarGurus struct {
	*base
	cfg      config.ScraperConfig
	baseURL  string
	renderer Renderer
}

// NewCarGurus creates a CarGurus fetcher. A nil renderer uses headless
// Chrome.
func NewCarGurus(cfg config.ScraperConfig, b *base, renderer Renderer) *CarGurus {
	if renderer == nil {
		renderer = NewChromeRenderer(cfg.ChromePath, b.session.UserAgent, 8*time.Second)
	}
	return &CarGurus{base: b, cfg: cfg, baseURL: cargurusRoot, renderer: renderer}
}

// Source implements Fetcher.
func (f *CarGurus) Source() string { return SourceCarGurus }

// Fetch implements Fetcher. CarGurus has one results page per search.
func (f *CarGurus) Fetch(ctx context.Context, v config.Vehicle) ([]models.Candidate, error) {
	code, ok := cargurusModelCodes[strings.ToLower(v.Make+"-"+v.Model)]
	if !ok {
		log.Printf("[%s] Unknown model code for %s, skipping", f.source, v)
		return nil, nil
	}

	pageURL := f.searchURL(v, code)
	log.Printf("[%s] %s: %s", f.source, v, pageURL)

	html, err := f.load(ctx, pageURL, f.render)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.source, err)
	}

	cands, err := parseCarGurusPage(html, v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.source, err)
	}
	log.Printf("[%s] Total: %d listings for %s", f.source, len(cands), v)
	return cands, nil
}

// render paces the browser like any other request to the host.
func (f *CarGurus) render(ctx context.Context, pageURL string) (string, error) {
	if l := f.session.limiter; l != nil {
		if err := l.Acquire(ctx); err != nil {
			return "", err
		}
		defer l.Release()
	}
	html, err := f.renderer(ctx, pageURL)
	f.session.observe(err == nil)
	return html, err
}

func (f *CarGurus) searchURL(v config.Vehicle, code string) string {
	q := url.Values{}
	q.Set("sourceContext", "carGurusHomePageModel")
	q.Set("entitySelectingHelper.selectedEntity", "d"+code)
	q.Set("zip", f.cfg.ZipCode)
	q.Set("distance", strconv.Itoa(f.cfg.Radius))
	q.Set("minYear", strconv.Itoa(v.YearMin))
	q.Set("maxYear", strconv.Itoa(v.YearMax))
	q.Set("showNegotiable", "true")
	q.Set("sortDir", "ASC")
	q.Set("sortType", "DEAL_SCORE")
	if f.cfg.Condition == "new" {
		q.Set("inventorySearchWidgetType", "NEW")
	}
	return f.baseURL + "/Cars/inventorylisting/viewDetailsFilterViewInventoryListing.action?" + q.Encode()
}

func parseCarGurusPage(html string, v config.Vehicle) ([]models.Candidate, error) {
	if len(html) < 2000 {
		return nil, ErrBlocked
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	if len(html) < 5000 && strings.EqualFold(strings.TrimSpace(doc.Find("title").Text()), "cargurus.com") {
		return nil, ErrBlocked
	}

	text := strings.ToLower(doc.Text())
	if !strings.Contains(text, strings.ToLower(strings.ReplaceAll(v.Model, "-", " "))) &&
		!strings.Contains(text, strings.ToLower(v.Make)) {
		log.Printf("[%s] Page does not mention %s, probably redirected", SourceCarGurus, v)
		return nil, nil
	}

	cards := cardsOrFallback(doc,
		"[data-testid='srp-tile'], [data-listing-id], article[class*='result'], [class*='ResultCard'], [class*='listing-row']",
		"article, [role='listitem']")

	var out []models.Candidate
	seen := make(map[string]bool)
	cards.Each(func(_ int, card *goquery.Selection) {
		c, ok := parseCarGurusCard(card, v)
		if !ok || seen[c.SourceListingID] {
			return
		}
		seen[c.SourceListingID] = true
		out = append(out, c)
	})
	return out, nil
}

func parseCarGurusCard(card *goquery.Selection, v config.Vehicle) (models.Candidate, bool) {
	id := firstAttr(card, "data-listing-id")
	if id == "" {
		id = strings.TrimPrefix(firstAttr(card, "id"), "listing-")
	}
	if id == "" {
		id = firstAttr(card, "data-cg-listing-id")
	}
	if id == "" {
		href, _ := card.Find("a[href*='listing'], a[href*='vehicle']").First().Attr("href")
		if m := cargurusLinkRe.FindStringSubmatch(href); m != nil {
			id = m[1]
			if id == "" {
				id = m[2]
			}
		}
	}
	if id == "" {
		if href, ok := card.Find("a[href]").First().Attr("href"); ok && href != "" {
			id = hashID(href)
		}
	}
	if id == "" {
		return models.Candidate{}, false
	}

	title := cargurusTitle(card)
	if title != "" && !matchesModel(title, v.Model) {
		return models.Candidate{}, false
	}

	price := cargurusPrice(card)
	if price == nil {
		return models.Candidate{}, false
	}

	c := newCandidate(SourceCarGurus, id, v.Make, v.Model, title)
	c.Price = price
	c.Mileage = parseNumber(firstText(card,
		"[data-testid='srp-tile-mileage']", "[class*='mileage']", ".mileage"))
	c.DealerName = models.StringPtr(firstText(card,
		"[data-testid='srp-tile-dealer-name']", "[class*='dealer']", ".dealer-name", "[data-cg-ft='listing-dealer-name']"))

	href, _ := card.Find("a[href*='listing'], a[href*='vehicle'], a[href*='/Cars/']").First().Attr("href")
	c.ListingURL = absoluteURL(cargurusRoot, href)
	return c, true
}

// cargurusTitle prefers the first candidate heading that contains a year.
func cargurusTitle(card *goquery.Selection) string {
	title := ""
	for _, sel := range []string{"h4", "h2", "h3", "[data-testid='srp-tile-title']", ".listing-title", "[class*='title']", "a[class*='title']"} {
		text := strings.TrimSpace(card.Find(sel).First().Text())
		if text == "" {
			continue
		}
		title = text
		if yearRe.MatchString(text) {
			break
		}
	}
	return title
}

func cargurusPrice(card *goquery.Selection) *int {
	for _, sel := range []string{"[data-testid='srp-tile-price']", "[class*='price']", ".price", "[data-cg-ft='listing-price']", "span[class*='Price']"} {
		if p := parseNumber(card.Find(sel).First().Text()); p != nil && *p > minCarGurusPrice {
			return p
		}
	}
	return nil
}

// NewChromeRenderer returns a Renderer backed by a fresh headless Chrome
// per page. chromePath may be empty to use the default lookup; settle is
// how long to let scripts run after the body is visible.
func NewChromeRenderer(chromePath string, userAgent func() string, settle time.Duration) Renderer {
	return func(ctx context.Context, pageURL string) (string, error) {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.WindowSize(1920, 1080),
			chromedp.UserAgent(userAgent()),
		)
		if chromePath != "" {
			opts = append(opts, chromedp.ExecPath(chromePath))
		}

		allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
		defer allocCancel()

		browserCtx, cancel := chromedp.NewContext(allocCtx)
		defer cancel()

		browserCtx, cancel = context.WithTimeout(browserCtx, settle+60*time.Second)
		defer cancel()

		var html string
		err := chromedp.Run(browserCtx,
			chromedp.Navigate(pageURL),
			chromedp.WaitVisible(`body`, chromedp.ByQuery),
			chromedp.Sleep(settle),
			chromedp.OuterHTML(`html`, &html, chromedp.ByQuery),
		)
		if err != nil {
			return "", fmt.Errorf("chromedp error: %w", err)
		}
		log.Printf("[HeadlessBrowser] Fetched %s (%d bytes)", pageURL, len(html))
		return html, nil
	}
}
