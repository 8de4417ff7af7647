package models

import "time"

// PriceChange records one detected known-price to known-price transition.
// Rows are append-only; only Notified is ever updated afterwards.
type PriceChange struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ListingID uint      `gorm:"not null;index:idx_price_changes_listing" json:"listing_id"`
	OldPrice  int       `gorm:"type:int;not null" json:"old_price"`
	NewPrice  int       `gorm:"type:int;not null" json:"new_price"`
	ChangedAt time.Time `gorm:"not null;index:idx_price_changes_changed_at,sort:desc" json:"changed_at"`
	Notified  bool      `gorm:"not null;default:false;index" json:"notified"`
}

// TableName specifies the table name
func (PriceChange) TableName() string {
	return "price_changes"
}

// IsDrop reports whether the price went down.
func (c *PriceChange) IsDrop() bool {
	return c.NewPrice < c.OldPrice
}

// PriceChangeDetail is a price change joined with the listing's current
// descriptive fields (not the fields at the time of the change).
type PriceChangeDetail struct {
	ID        uint      `json:"id"`
	ListingID uint      `json:"listing_id"`
	OldPrice  int       `json:"old_price"`
	NewPrice  int       `json:"new_price"`
	ChangedAt time.Time `json:"changed_at"`
	Notified  bool      `json:"notified"`

	Source       string  `json:"source"`
	Make         string  `json:"make"`
	Model        string  `json:"model"`
	Year         int     `json:"year"`
	Trim         *string `json:"trim,omitempty"`
	DealerName   *string `json:"dealer_name,omitempty"`
	ListingURL   *string `json:"listing_url,omitempty"`
	CurrentPrice *int    `json:"current_price,omitempty"`
}

// Savings is old minus new; negative for a price increase.
func (d *PriceChangeDetail) Savings() int {
	return d.OldPrice - d.NewPrice
}

// IsDrop reports whether the price went down.
func (d *PriceChangeDetail) IsDrop() bool {
	return d.NewPrice < d.OldPrice
}
