// Package search mirrors listings into a Meilisearch index for free-text
// lookup. The store stays the source of truth; the index only ranks.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meilisearch/meilisearch-go"

	"vehicle-deal-tracker/internal/config"
	"vehicle-deal-tracker/internal/models"
	"vehicle-deal-tracker/internal/query"
)

// Client wraps one Meilisearch index of listings.
type Client struct {
	client *meilisearch.Client
	index  string
}

// NewClient creates a client, or returns nil when no host is configured.
func NewClient(cfg config.MeilisearchConfig) *Client {
	if cfg.Host == "" {
		return nil
	}
	index := cfg.Index
	if index == "" {
		index = "listings"
	}
	return &Client{
		client: meilisearch.NewClient(meilisearch.ClientConfig{
			Host:   cfg.Host,
			APIKey: cfg.APIKey,
		}),
		index: index,
	}
}

// Document is the indexed form of a listing.
type Document struct {
	ID              uint     `json:"id"`
	Source          string   `json:"source"`
	SourceListingID string   `json:"source_listing_id"`
	Title           string   `json:"title"`
	Make            string   `json:"make"`
	Model           string   `json:"model"`
	Year            int      `json:"year"`
	Trim            *string  `json:"trim,omitempty"`
	Price           *int     `json:"price,omitempty"`
	MSRP            *int     `json:"msrp,omitempty"`
	Mileage         *int     `json:"mileage,omitempty"`
	DealerName      *string  `json:"dealer_name,omitempty"`
	DealerAddress   *string  `json:"dealer_address,omitempty"`
	ListingURL      *string  `json:"listing_url,omitempty"`
	VIN             *string  `json:"vin,omitempty"`
	HasPriceDrop    bool     `json:"has_price_drop"`
	DiscountPercent *float64 `json:"discount_percent,omitempty"`
	LastSeen        int64    `json:"last_seen"`
}

// NewDocument flattens l for indexing.
func NewDocument(l *models.Listing) Document {
	doc := Document{
		ID:              l.ID,
		Source:          l.Source,
		SourceListingID: l.SourceListingID,
		Title:           l.Title(),
		Make:            l.Make,
		Model:           l.Model,
		Year:            l.Year,
		Trim:            l.Trim,
		Price:           l.Price,
		MSRP:            l.MSRP,
		Mileage:         l.Mileage,
		DealerName:      l.DealerName,
		DealerAddress:   l.DealerAddress,
		ListingURL:      l.ListingURL,
		VIN:             l.VIN,
		HasPriceDrop:    l.HasPriceDrop(),
		LastSeen:        l.LastSeen.Unix(),
	}
	if pct, ok := query.DiscountPercent(l); ok {
		f, _ := pct.Round(2).Float64()
		doc.DiscountPercent = &f
	}
	return doc
}

// InitIndex creates the index and its attribute settings.
func (c *Client) InitIndex() error {
	_, err := c.client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        c.index,
		PrimaryKey: "id",
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return err
	}

	idx := c.client.Index(c.index)
	if _, err := idx.UpdateSearchableAttributes(&[]string{
		"title", "trim", "dealer_name", "dealer_address", "vin", "make", "model",
	}); err != nil {
		return err
	}
	if _, err := idx.UpdateFilterableAttributes(&[]string{
		"source", "make", "model", "year", "price", "mileage", "has_price_drop", "discount_percent",
	}); err != nil {
		return err
	}
	if _, err := idx.UpdateSortableAttributes(&[]string{
		"price", "mileage", "discount_percent", "last_seen",
	}); err != nil {
		return err
	}
	return nil
}

// IndexListings adds or replaces the documents of listings.
func (c *Client) IndexListings(ctx context.Context, listings []models.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	docs := make([]Document, len(listings))
	for i := range listings {
		docs[i] = NewDocument(&listings[i])
	}
	_, err := c.client.Index(c.index).AddDocuments(docs)
	return err
}

// Request is a search over the listing index.
type Request struct {
	Query  string
	Filter query.FilterSpec
	Sort   []string
	Limit  int64
	Offset int64
}

// Result holds the matching documents in rank order.
type Result struct {
	Hits           []Document `json:"hits"`
	TotalHits      int64      `json:"total_hits"`
	ProcessingTime int64      `json:"processing_time_ms"`
}

// IDs returns the listing IDs of the hits in rank order.
func (r *Result) IDs() []uint {
	ids := make([]uint, len(r.Hits))
	for i, h := range r.Hits {
		ids[i] = h.ID
	}
	return ids
}

// Search runs req. The numeric parts of req.Filter are pushed down to
// the index; callers apply the full filter to the stored listings.
func (c *Client) Search(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Limit == 0 {
		req.Limit = 20
	}

	searchReq := &meilisearch.SearchRequest{
		Limit:  req.Limit,
		Offset: req.Offset,
	}
	if filters := BuildFilter(req.Filter); len(filters) > 0 {
		searchReq.Filter = strings.Join(filters, " AND ")
	}
	if len(req.Sort) > 0 {
		searchReq.Sort = req.Sort
	}

	res, err := c.client.Index(c.index).Search(req.Query, searchReq)
	if err != nil {
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	docs := make([]Document, 0, len(res.Hits))
	for _, hit := range res.Hits {
		raw, err := json.Marshal(hit)
		if err != nil {
			continue
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		docs = append(docs, doc)
	}

	return &Result{
		Hits:           docs,
		TotalHits:      res.EstimatedTotalHits,
		ProcessingTime: res.ProcessingTimeMs,
	}, nil
}
