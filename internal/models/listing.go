package models

import (
	"strconv"
	"time"

	"gorm.io/datatypes"
)

// Listing is the durable state of one vehicle listing, keyed by
// (source, source_listing_id).
type Listing struct {
	// Identity
	ID              uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Source          string `gorm:"type:varchar(50);not null;uniqueIndex:idx_listing_identity" json:"source"`
	SourceListingID string `gorm:"type:varchar(255);not null;uniqueIndex:idx_listing_identity" json:"source_listing_id"`

	// Vehicle
	Make  string  `gorm:"type:varchar(64);not null;index:idx_listings_make_model" json:"make"`
	Model string  `gorm:"type:varchar(64);not null;index:idx_listings_make_model" json:"model"`
	Year  int     `gorm:"type:int;not null" json:"year"`
	Trim  *string `gorm:"type:varchar(255)" json:"trim,omitempty"`

	// Price and condition
	Price   *int `gorm:"type:int;index:idx_listings_price" json:"price,omitempty"`
	MSRP    *int `gorm:"type:int" json:"msrp,omitempty"`
	Mileage *int `gorm:"type:int" json:"mileage,omitempty"`

	// Dealer
	DealerName    *string `gorm:"type:varchar(255)" json:"dealer_name,omitempty"`
	DealerPhone   *string `gorm:"type:varchar(64)" json:"dealer_phone,omitempty"`
	DealerAddress *string `gorm:"type:text" json:"dealer_address,omitempty"`

	ListingURL  *string `gorm:"type:text" json:"listing_url,omitempty"`
	VIN         *string `gorm:"type:varchar(17)" json:"vin,omitempty"`
	StockNumber *string `gorm:"type:varchar(64)" json:"stock_number,omitempty"`

	// Every price this listing had before it was superseded, oldest first.
	PriceHistory datatypes.JSONSlice[PricePoint] `json:"price_history"`

	// Timestamps
	FirstSeen time.Time `gorm:"not null" json:"first_seen"`
	LastSeen  time.Time `gorm:"not null;index:idx_listings_last_seen" json:"last_seen"`

	// Optimistic concurrency token, bumped on every write.
	Version int `gorm:"not null;default:1" json:"-"`
}

// TableName pins the table name.
func (Listing) TableName() string {
	return "listings"
}

// HasPriceDrop reports whether the listing ever had its price superseded.
func (l *Listing) HasPriceDrop() bool {
	return len(l.PriceHistory) > 0
}

// DiscountFromMSRP returns msrp - price when both are known.
func (l *Listing) DiscountFromMSRP() (int, bool) {
	if l.MSRP == nil || l.Price == nil {
		return 0, false
	}
	return *l.MSRP - *l.Price, true
}

// Title is the display name used in reports, e.g. "2025 Toyota Tundra SR5".
func (l *Listing) Title() string {
	title := strconv.Itoa(l.Year) + " " + l.Make + " " + l.Model
	if l.Trim != nil && *l.Trim != "" {
		title += " " + *l.Trim
	}
	return title
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (l *Listing) Clone() *Listing {
	c := *l
	c.Trim = cloneString(l.Trim)
	c.Price = cloneInt(l.Price)
	c.MSRP = cloneInt(l.MSRP)
	c.Mileage = cloneInt(l.Mileage)
	c.DealerName = cloneString(l.DealerName)
	c.DealerPhone = cloneString(l.DealerPhone)
	c.DealerAddress = cloneString(l.DealerAddress)
	c.ListingURL = cloneString(l.ListingURL)
	c.VIN = cloneString(l.VIN)
	c.StockNumber = cloneString(l.StockNumber)
	if l.PriceHistory != nil {
		c.PriceHistory = make(datatypes.JSONSlice[PricePoint], len(l.PriceHistory))
		copy(c.PriceHistory, l.PriceHistory)
	}
	return &c
}
