package notify

import (
	"errors"
	"strings"
	"testing"

	"vehicle-deal-tracker/internal/models"
)

func tundra(id uint, price int, stock string) models.Listing {
	return models.Listing{
		ID: id, Source: "carscom", SourceListingID: stock,
		Make: "Toyota", Model: "Tundra", Year: 2025,
		Trim:        models.StringPtr("SR5"),
		Price:       models.IntPtr(price),
		DealerName:  models.StringPtr("Pacific Toyota"),
		StockNumber: models.StringPtr(stock),
	}
}

func assertContains(t *testing.T, text string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(text, w) {
			t.Errorf("missing %q in:\n%s", w, text)
		}
	}
}

func TestDirectOTD(t *testing.T) {
	l := tundra(1, 48500, "T1234")
	l.VIN = models.StringPtr("5TFLA5DB1RX000001")

	e := DirectOTD(&l, Sender{Name: "Jamie Buyer", Phone: "555-0100"})
	if e.Subject != "OTD Price Request - 2025 Toyota Tundra SR5" {
		t.Errorf("Subject = %q", e.Subject)
	}
	assertContains(t, e.Body,
		"I am interested in the 2025 Toyota Tundra SR5 currently listed",
		"Stock #: T1234\n",
		"VIN: 5TFLA5DB1RX000001\n",
		"Listed Price: $48,500\n",
		"best out-the-door price",
		"Thank you,\nJamie Buyer\n555-0100\n",
	)
}

func TestDirectOTD_SparseListing(t *testing.T) {
	l := models.Listing{ID: 1, Make: "Ford", Model: "F-150", Year: 2024}

	e := DirectOTD(&l, Sender{})
	if e.Subject != "OTD Price Request - 2024 Ford F-150" {
		t.Errorf("Subject = %q", e.Subject)
	}
	for _, absent := range []string{"Stock #", "VIN:", "Listed Price"} {
		if strings.Contains(e.Body, absent) {
			t.Errorf("body has %q for a listing without it:\n%s", absent, e.Body)
		}
	}
	if !strings.HasSuffix(e.Body, "Thank you,\n") {
		t.Errorf("unsigned body should end at the closing, got:\n%s", e.Body)
	}
}

func TestCompetitive(t *testing.T) {
	l := tundra(1, 48500, "T1234")
	e := Competitive(&l, 46250, Sender{Name: "Jamie Buyer"})

	if e.Subject != "Price Match Request - 2025 Toyota Tundra" {
		t.Errorf("Subject = %q", e.Subject)
	}
	assertContains(t, e.Body,
		"I am looking to purchase a 2025 Toyota Tundra SR5.",
		"out-the-door quote of $46,250 from another dealer",
		"Regarding your Stock #T1234, can you match or beat this price?",
		"Thank you,\nJamie Buyer\n",
	)

	l.StockNumber = nil
	e = Competitive(&l, 46250, Sender{})
	assertContains(t, e.Body, "For the vehicle you have listed, can you match")
}

func TestMultiVehicle(t *testing.T) {
	a, b := tundra(1, 48500, "T1"), tundra(2, 51000, "T2")
	b.Price = nil

	e := MultiVehicle("Pacific Toyota", []models.Listing{a, b}, Sender{Phone: "555-0100"})
	if e.Subject != "Quote Request - Toyota Tundra Inventory" {
		t.Errorf("Subject = %q", e.Subject)
	}
	assertContains(t, e.Body,
		"Hello Pacific Toyota,",
		"in the market for a Toyota Tundra",
		"1. 2025 Toyota Tundra SR5 (Stock #T1) - Listed at $48,500\n",
		"2. 2025 Toyota Tundra SR5 (Stock #T2)\n",
		"Thank you,\n555-0100\n",
	)

	if e := MultiVehicle("", []models.Listing{a}, Sender{}); !strings.HasPrefix(e.Body, "Hello Sales Team,") {
		t.Errorf("anonymous dealer greeting:\n%s", e.Body)
	}
	if e := MultiVehicle("Pacific Toyota", nil, Sender{}); e != (Email{}) {
		t.Errorf("no listings = %+v, want zero Email", e)
	}
}

func TestSameDealer(t *testing.T) {
	l := tundra(1, 48500, "T1")
	sibling := tundra(2, 49000, "T2")
	sibling.DealerName = models.StringPtr("PACIFIC TOYOTA")
	otherDealer := tundra(3, 47000, "T3")
	otherDealer.DealerName = models.StringPtr("Mission Toyota")
	otherModel := tundra(4, 39000, "T4")
	otherModel.Model = "Tacoma"

	got := SameDealer(&l, []models.Listing{l, sibling, otherDealer, otherModel})
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Errorf("SameDealer = %v, want listings 1 and 2", got)
	}

	l.DealerName = nil
	if got := SameDealer(&l, []models.Listing{sibling}); len(got) != 1 {
		t.Errorf("listing without dealer matched %d listings, want itself only", len(got))
	}
}

func TestDraft(t *testing.T) {
	l := tundra(1, 48500, "T1")
	others := []models.Listing{tundra(2, 49000, "T2")}
	s := Sender{Name: "Jamie Buyer"}

	tests := []struct {
		template    string
		competitor  int
		wantSubject string
		wantErr     bool
	}{
		{"", 0, "OTD Price Request - 2025 Toyota Tundra SR5", false},
		{TemplateDirect, 0, "OTD Price Request - 2025 Toyota Tundra SR5", false},
		{TemplateCompetitive, 45000, "Price Match Request - 2025 Toyota Tundra", false},
		{TemplateCompetitive, 0, "", true},
		{TemplateMulti, 0, "Quote Request - Toyota Tundra Inventory", false},
		{"fax", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			e, err := Draft(tt.template, &l, others, tt.competitor, s)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Draft() error = %v, wantErr %v", err, tt.wantErr)
			}
			if e.Subject != tt.wantSubject {
				t.Errorf("Subject = %q, want %q", e.Subject, tt.wantSubject)
			}
		})
	}

	if _, err := Draft("fax", &l, nil, 0, s); !errors.Is(err, ErrUnknownTemplate) {
		t.Errorf("unknown template error = %v, want ErrUnknownTemplate", err)
	}
}

func TestEmail_String(t *testing.T) {
	e := Email{Subject: "Hi", Body: "Body\n"}
	if got := e.String(); got != "Subject: Hi\n\nBody\n" {
		t.Errorf("String() = %q", got)
	}
}
