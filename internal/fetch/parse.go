package fetch

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"vehicle-deal-tracker/internal/models"
)

var (
	numberRe   = regexp.MustCompile(`\$?([\d,]+)`)
	yearRe     = regexp.MustCompile(`(\d{4})`)
	leadYearRe = regexp.MustCompile(`^\d{4}\s+`)
	stockRe    = regexp.MustCompile(`(?i)Stock[:\s#]*(\w+)`)
	labeledVIN = regexp.MustCompile(`(?i)VIN[:\s]*([A-HJ-NPR-Z0-9]{17})`)
	bareVIN    = regexp.MustCompile(`(?i)([A-HJ-NPR-Z0-9]{17})`)
)

// parseNumber returns the first run of digits (commas allowed) in text,
// e.g. "$45,000" -> 45000. Nil if there is none.
func parseNumber(text string) *int {
	m := numberRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return nil
	}
	return &n
}

// parseYear returns the first four-digit number in a title, or 0.
func parseYear(title string) int {
	m := yearRe.FindStringSubmatch(title)
	if m == nil {
		return 0
	}
	y, _ := strconv.Atoi(m[1])
	return y
}

// modelPattern matches model as a whole word, treating a hyphen as
// optional punctuation so "f-150" also matches "F 150" and "F150".
func modelPattern(model string) string {
	parts := strings.Split(model, "-")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return strings.Join(parts, `[-\s]?`)
}

func matchesModel(title, model string) bool {
	re, err := regexp.Compile(`(?i)\b` + modelPattern(model) + `\b`)
	if err != nil {
		return false
	}
	return re.MatchString(title)
}

// parseTrim strips the leading year and "make model" from a title and
// returns what is left, or nil.
func parseTrim(title, makeName, model string) *string {
	if title == "" {
		return nil
	}
	rest := leadYearRe.ReplaceAllString(title, "")
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(makeName) + `\s+` + modelPattern(model) + `\s*`)
	if err == nil {
		rest = re.ReplaceAllString(rest, "")
	}
	return models.StringPtr(strings.TrimSpace(rest))
}

// titleCase upper-cases every letter that follows a non-letter and
// lower-cases the rest: "ford" -> "Ford", "f-150" -> "F-150".
func titleCase(s string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}

func normalizeMake(makeName string) string {
	return titleCase(makeName)
}

func normalizeModel(model string) string {
	if strings.EqualFold(model, "f-150") {
		return strings.ToUpper(model)
	}
	return titleCase(model)
}

// absoluteURL resolves href against the site root. Non-http results are
// dropped.
func absoluteURL(siteRoot, href string) *string {
	href = strings.TrimSpace(href)
	if href == "" {
		return nil
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil
	}
	if ref.IsAbs() {
		if ref.Scheme != "http" && ref.Scheme != "https" {
			return nil
		}
		return models.StringPtr(ref.String())
	}
	root, err := url.Parse(siteRoot)
	if err != nil {
		return nil
	}
	return models.StringPtr(root.ResolveReference(ref).String())
}

// parseStock returns the dealer stock number from free text.
func parseStock(text string) *string {
	if m := stockRe.FindStringSubmatch(text); m != nil {
		return models.StringPtr(m[1])
	}
	return nil
}

// parseVIN returns a 17-character VIN. labeled requires a "VIN" prefix.
func parseVIN(text string, labeled bool) *string {
	re := bareVIN
	if labeled {
		re = labeledVIN
	}
	if m := re.FindStringSubmatch(text); m != nil {
		return models.StringPtr(strings.ToUpper(m[1]))
	}
	return nil
}

// hashID derives a stable short ID from a URL for cards that carry none.
func hashID(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// firstText returns the trimmed text of the first selector that yields a
// non-empty element.
func firstText(card *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(card.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// firstAttr returns the first non-empty value among attrs on card.
func firstAttr(card *goquery.Selection, attrs ...string) string {
	for _, a := range attrs {
		if v, ok := card.Attr(a); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// cardsOrFallback runs the primary selector and, if it finds nothing,
// the fallback.
func cardsOrFallback(doc *goquery.Document, primary, fallback string) *goquery.Selection {
	cards := doc.Find(primary)
	if cards.Length() == 0 {
		cards = doc.Find(fallback)
	}
	return cards
}

// newCandidate fills the identity and vehicle fields shared by all sites.
func newCandidate(source, id, makeName, model, title string) models.Candidate {
	return models.Candidate{
		Source:          source,
		SourceListingID: id,
		Make:            normalizeMake(makeName),
		Model:           normalizeModel(model),
		Year:            parseYear(title),
		Trim:            parseTrim(title, makeName, model),
	}
}
