package models

// Candidate is a single, possibly partial observation of a listing as
// produced by a fetcher. Nil pointer fields mean "not observed".
type Candidate struct {
	Source          string `json:"source"`
	SourceListingID string `json:"source_listing_id"`

	Make  string `json:"make"`
	Model string `json:"model"`
	Year  int    `json:"year"`

	Trim          *string `json:"trim,omitempty"`
	Price         *int    `json:"price,omitempty"`
	MSRP          *int    `json:"msrp,omitempty"`
	Mileage       *int    `json:"mileage,omitempty"`
	DealerName    *string `json:"dealer_name,omitempty"`
	DealerPhone   *string `json:"dealer_phone,omitempty"`
	DealerAddress *string `json:"dealer_address,omitempty"`
	ListingURL    *string `json:"listing_url,omitempty"`
	VIN           *string `json:"vin,omitempty"`
	StockNumber   *string `json:"stock_number,omitempty"`
}

// StringPtr returns nil for the empty string, otherwise a pointer to s.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}
