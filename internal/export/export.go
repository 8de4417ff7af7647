// Package export writes listings and price changes to an .xlsx workbook.
package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"vehicle-deal-tracker/internal/models"
	"vehicle-deal-tracker/internal/query"
)

// Sheet names.
const (
	ListingsSheet     = "Listings"
	PriceChangesSheet = "Price Changes"
)

const timeLayout = "2006-01-02 15:04"

var listingHeader = []interface{}{
	"ID", "Source", "Year", "Make", "Model", "Trim", "Price", "MSRP", "Discount %",
	"Mileage", "Dealer", "URL", "First Seen", "Last Seen", "Price Changes",
}

var priceChangeHeader = []interface{}{
	"Date", "Listing ID", "Vehicle", "Dealer", "Old Price", "New Price", "Change",
}

// NewWorkbook builds the workbook in memory. The caller closes it.
func NewWorkbook(listings []models.Listing, changes []models.PriceChangeDetail) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", ListingsSheet); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(PriceChangesSheet); err != nil {
		f.Close()
		return nil, err
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}

	rows := make([][]interface{}, 0, len(listings))
	for i := range listings {
		rows = append(rows, listingRow(&listings[i]))
	}
	if err := writeSheet(f, ListingsSheet, listingHeader, rows, header); err != nil {
		f.Close()
		return nil, err
	}

	rows = rows[:0]
	for i := range changes {
		rows = append(rows, priceChangeRow(&changes[i]))
	}
	if err := writeSheet(f, PriceChangesSheet, priceChangeHeader, rows, header); err != nil {
		f.Close()
		return nil, err
	}

	return f, nil
}

// WriteWorkbook builds the workbook and saves it to path.
func WriteWorkbook(path string, listings []models.Listing, changes []models.PriceChangeDetail) error {
	f, err := NewWorkbook(listings, changes)
	if err != nil {
		return fmt.Errorf("failed to build workbook: %w", err)
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", path, err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, header []interface{}, rows [][]interface{}, headerStyle int) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return err
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := row
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func listingRow(l *models.Listing) []interface{} {
	discount := interface{}("")
	if pct, ok := query.DiscountPercent(l); ok {
		discount, _ = pct.Round(1).Float64()
	}
	return []interface{}{
		l.ID, l.Source, l.Year, l.Make, l.Model, str(l.Trim),
		num(l.Price), num(l.MSRP), discount, num(l.Mileage),
		str(l.DealerName), str(l.ListingURL),
		formatTime(l.FirstSeen), formatTime(l.LastSeen), len(l.PriceHistory),
	}
}

func priceChangeRow(d *models.PriceChangeDetail) []interface{} {
	vehicle := fmt.Sprintf("%d %s %s", d.Year, d.Make, d.Model)
	if d.Trim != nil && *d.Trim != "" {
		vehicle += " " + *d.Trim
	}
	return []interface{}{
		formatTime(d.ChangedAt), d.ListingID, vehicle, str(d.DealerName),
		d.OldPrice, d.NewPrice, d.NewPrice - d.OldPrice,
	}
}

func str(s *string) interface{} {
	if s == nil {
		return ""
	}
	return *s
}

func num(n *int) interface{} {
	if n == nil {
		return ""
	}
	return *n
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
