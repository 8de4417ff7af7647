// Package notify drafts quote-request emails to dealers from stored
// listings. Nothing is sent; callers copy the text into their own mail
// client.
package notify

import (
	"errors"
	"fmt"
	"strings"

	"vehicle-deal-tracker/internal/models"
	"vehicle-deal-tracker/internal/query"
)

// Template names accepted by Draft.
const (
	TemplateDirect      = "direct"
	TemplateCompetitive = "competitive"
	TemplateMulti       = "multi"
)

// ErrUnknownTemplate is returned by Draft for a template it does not know.
var ErrUnknownTemplate = errors.New("unknown email template")

// Sender signs every email. Empty fields are left out.
type Sender struct {
	Name  string
	Phone string
}

// Email is a drafted message.
type Email struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// String renders the email the way the CLI prints it.
func (e Email) String() string {
	return "Subject: " + e.Subject + "\n\n" + e.Body
}

// DirectOTD asks the listing's dealer for an out-the-door price.
func DirectOTD(l *models.Listing, s Sender) Email {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello,\n\nI am interested in the %s currently listed on your website.\n\n", l.Title())
	if v := value(l.StockNumber); v != "" {
		fmt.Fprintf(&b, "Stock #: %s\n", v)
	}
	if v := value(l.VIN); v != "" {
		fmt.Fprintf(&b, "VIN: %s\n", v)
	}
	if l.Price != nil {
		fmt.Fprintf(&b, "Listed Price: %s\n", query.FormatPrice(l.Price))
	}
	b.WriteString("\nCould you please provide your best out-the-door price including all taxes, fees, " +
		"and any available incentives/rebates? I have financing arranged externally.\n\n")
	b.WriteString("I am a serious buyer looking to make a purchase decision within the next week.\n\n")
	s.sign(&b)

	return Email{
		Subject: "OTD Price Request - " + l.Title(),
		Body:    b.String(),
	}
}

// Competitive asks the dealer to match an out-the-door quote from a
// competitor.
func Competitive(l *models.Listing, competitorPrice int, s Sender) Email {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello,\n\nI am looking to purchase a %s.\n\n", l.Title())
	fmt.Fprintf(&b, "I have received an out-the-door quote of %s from another dealer in the area "+
		"for a comparably equipped vehicle.\n\n", query.FormatPrice(&competitorPrice))
	if v := value(l.StockNumber); v != "" {
		fmt.Fprintf(&b, "Regarding your Stock #%s, ", v)
	} else {
		b.WriteString("For the vehicle you have listed, ")
	}
	b.WriteString("can you match or beat this price? Please provide your best OTD price including all taxes and fees.\n\n")
	b.WriteString("I am ready to make a decision this week and would prefer to work with your dealership " +
		"if the numbers work out.\n\n")
	s.sign(&b)

	return Email{
		Subject: fmt.Sprintf("Price Match Request - %d %s %s", l.Year, l.Make, l.Model),
		Body:    b.String(),
	}
}

// MultiVehicle asks one dealer to quote several listings at once. The
// make and model come from the first listing; no listings yields the zero
// Email.
func MultiVehicle(dealerName string, listings []models.Listing, s Sender) Email {
	if len(listings) == 0 {
		return Email{}
	}
	first := &listings[0]

	greeting := dealerName
	if greeting == "" {
		greeting = "Sales Team"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", greeting)
	fmt.Fprintf(&b, "I am in the market for a %s %s and noticed you have several in stock that interest me. "+
		"Could you please provide out-the-door pricing for each of the following vehicles?\n\n", first.Make, first.Model)
	for i := range listings {
		l := &listings[i]
		fmt.Fprintf(&b, "%d. %s", i+1, l.Title())
		if v := value(l.StockNumber); v != "" {
			fmt.Fprintf(&b, " (Stock #%s)", v)
		}
		if l.Price != nil {
			fmt.Fprintf(&b, " - Listed at %s", query.FormatPrice(l.Price))
		}
		b.WriteString("\n")
	}
	b.WriteString("\nPlease include all taxes, fees, and any available incentives/rebates in your OTD quotes. " +
		"I have outside financing arranged.\n\n")
	s.sign(&b)

	return Email{
		Subject: fmt.Sprintf("Quote Request - %s %s Inventory", first.Make, first.Model),
		Body:    b.String(),
	}
}

// Draft picks a template by name. competitorPrice is only read by the
// competitive template and must be positive there; others lists the rest
// of the dealer's inventory for the multi template.
func Draft(template string, l *models.Listing, others []models.Listing, competitorPrice int, s Sender) (Email, error) {
	switch template {
	case TemplateDirect, "":
		return DirectOTD(l, s), nil
	case TemplateCompetitive:
		if competitorPrice <= 0 {
			return Email{}, errors.New("competitive template needs a positive competitor price")
		}
		return Competitive(l, competitorPrice, s), nil
	case TemplateMulti:
		return MultiVehicle(value(l.DealerName), SameDealer(l, others), s), nil
	default:
		return Email{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, template)
	}
}

// SameDealer returns l followed by every other listing in candidates with
// the same make, model and dealer name (case-insensitive). A listing
// without a dealer only matches itself.
func SameDealer(l *models.Listing, candidates []models.Listing) []models.Listing {
	out := []models.Listing{*l}
	dealer := value(l.DealerName)
	if dealer == "" {
		return out
	}
	for i := range candidates {
		c := &candidates[i]
		if c.ID == l.ID {
			continue
		}
		if strings.EqualFold(value(c.DealerName), dealer) &&
			strings.EqualFold(c.Make, l.Make) && strings.EqualFold(c.Model, l.Model) {
			out = append(out, *c)
		}
	}
	return out
}

func (s Sender) sign(b *strings.Builder) {
	b.WriteString("Thank you,\n")
	if s.Name != "" {
		b.WriteString(s.Name + "\n")
	}
	if s.Phone != "" {
		b.WriteString(s.Phone + "\n")
	}
}

func value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
