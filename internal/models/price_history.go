package models

import (
	"time"

	"gorm.io/datatypes"
)

// PricePoint is a price that was current until Date, when it was superseded.
type PricePoint struct {
	Price int       `json:"price"`
	Date  time.Time `json:"date"`
}

// AppendPriceHistory adds p to the tail of the ledger. Entries are never
// removed; callers pass non-decreasing dates.
func (l *Listing) AppendPriceHistory(p PricePoint) {
	if l.PriceHistory == nil {
		l.PriceHistory = datatypes.JSONSlice[PricePoint]{}
	}
	l.PriceHistory = append(l.PriceHistory, p)
}

// LastPriceChange returns the most recent superseded price, if any.
func (l *Listing) LastPriceChange() (PricePoint, bool) {
	if len(l.PriceHistory) == 0 {
		return PricePoint{}, false
	}
	return l.PriceHistory[len(l.PriceHistory)-1], true
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(n *int) *int {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}
