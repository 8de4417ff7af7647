// Package handlers exposes the listing store over HTTP.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"vehicle-deal-tracker/internal/database"
	"vehicle-deal-tracker/internal/export"
	"vehicle-deal-tracker/internal/merge"
	"vehicle-deal-tracker/internal/models"
	"vehicle-deal-tracker/internal/query"
	"vehicle-deal-tracker/internal/ratelimit"
	"vehicle-deal-tracker/internal/search"
)

// Searcher is the full-text index used by /api/search.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Result, error)
	IndexListings(ctx context.Context, listings []models.Listing) error
}

// API serves the listing, price-change and candidate endpoints.
type API struct {
	store   database.Store
	query   *query.Service
	engine  *merge.Engine
	search  Searcher
	limiter *ratelimit.RateLimiter
}

// NewAPI creates the API. searcher may be nil, in which case /api/search
// answers 503.
func NewAPI(store database.Store, qs *query.Service, engine *merge.Engine, searcher Searcher, limiter *ratelimit.RateLimiter) *API {
	return &API{
		store:   store,
		query:   qs,
		engine:  engine,
		search:  searcher,
		limiter: limiter,
	}
}

// Register mounts the routes on r.
func (a *API) Register(r gin.IRouter) {
	r.GET("/health", a.Health)

	api := r.Group("/api")
	api.GET("/listings", a.GetListings)
	api.GET("/listings/:id", a.GetListing)
	api.GET("/price-changes", a.GetPriceChanges)
	api.GET("/price-changes/pending", a.GetPendingPriceChanges)
	api.POST("/price-changes/notified", a.MarkNotified)
	api.POST("/candidates", a.limiter.Middleware(), a.PostCandidates)
	api.GET("/filters", a.GetFilters)
	api.GET("/search", a.Search)
	api.POST("/search/reindex", a.Reindex)
	api.GET("/export", a.Export)
	api.GET("/ratelimit/stats", a.GetRateLimitStats)
}

// Health checks the store connection.
func (a *API) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetListings returns listings for make/model, cheapest first, filtered by
// the configured defaults (filters=none drops them) and any per-request
// overrides.
func (a *API) GetListings(c *gin.Context) {
	spec, err := a.requestFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	listings, err := a.query.Search(c.Request.Context(), c.Query("make"), c.Query("model"), spec)
	if err != nil {
		log.Printf("API: list listings failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if n, _ := strconv.Atoi(c.Query("limit")); n > 0 && len(listings) > n {
		listings = listings[:n]
	}

	c.JSON(http.StatusOK, gin.H{
		"listings": listings,
		"count":    len(listings),
		"filters":  spec.Summary(),
	})
}

// GetListing returns one listing with its price history.
func (a *API) GetListing(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid listing id"})
		return
	}

	listing, err := a.query.Get(c.Request.Context(), uint(id))
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, listing)
}

// priceChangeView adds the computed savings to a price change.
type priceChangeView struct {
	models.PriceChangeDetail
	Savings int `json:"savings"`
}

func priceChangeViews(changes []models.PriceChangeDetail) []priceChangeView {
	views := make([]priceChangeView, len(changes))
	for i := range changes {
		views[i] = priceChangeView{PriceChangeDetail: changes[i], Savings: changes[i].Savings()}
	}
	return views
}

// GetPriceChanges returns the price changes of the last `days` days
// (default 7), newest first. drops_only=true keeps decreases only.
func (a *API) GetPriceChanges(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a non-negative integer"})
		return
	}

	var changes []models.PriceChangeDetail
	if c.Query("drops_only") == "true" {
		changes, err = a.query.PriceDrops(c.Request.Context(), days)
	} else {
		changes, err = a.query.PriceChanges(c.Request.Context(), days)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"days":          days,
		"price_changes": priceChangeViews(changes),
		"count":         len(changes),
	})
}

// GetPendingPriceChanges returns the changes nobody was notified about
// yet, oldest first.
func (a *API) GetPendingPriceChanges(c *gin.Context) {
	changes, err := a.store.PendingPriceChanges(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"price_changes": priceChangeViews(changes),
		"count":         len(changes),
	})
}

// MarkNotified flags price changes as delivered.
func (a *API) MarkNotified(c *gin.Context) {
	var req struct {
		IDs []uint `json:"ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := a.store.MarkNotified(c.Request.Context(), req.IDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// candidateResult is the per-candidate answer of PostCandidates.
type candidateResult struct {
	Index     int    `json:"index"`
	Identity  string `json:"identity,omitempty"`
	ListingID uint   `json:"listing_id,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PostCandidates merges a batch of candidates in request order and reports
// each outcome. Rejected candidates do not fail the request.
func (a *API) PostCandidates(c *gin.Context) {
	var req struct {
		Candidates []models.Candidate `json:"candidates" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	results, stats := a.engine.MergeBatch(ctx, req.Candidates)

	out := make([]candidateResult, len(results))
	var touched []uint
	for i, r := range results {
		out[i] = candidateResult{Index: r.Index, ListingID: r.ListingID}
		if r.Identity.Source != "" {
			out[i].Identity = r.Identity.String()
		}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
			continue
		}
		out[i].Outcome = r.Outcome.String()
		touched = append(touched, r.ListingID)
	}

	if a.search != nil && len(touched) > 0 {
		if listings, err := a.store.ListingsByIDs(ctx, touched); err != nil {
			log.Printf("API: failed to load listings for indexing: %v", err)
		} else if err := a.search.IndexListings(ctx, listings); err != nil {
			log.Printf("API: failed to index listings: %v", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"results": out, "stats": stats})
}

// GetFilters describes the configured default filter.
func (a *API) GetFilters(c *gin.Context) {
	defaults := a.query.Defaults()
	c.JSON(http.StatusOK, gin.H{
		"summary": defaults.Summary(),
		"filters": defaults,
	})
}

// Search ranks listings by free text through the index, then applies the
// request filter to the stored listings.
func (a *API) Search(c *gin.Context) {
	if a.search == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search is not configured"})
		return
	}

	spec, err := a.requestFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)

	ctx := c.Request.Context()
	res, err := a.search.Search(ctx, search.Request{Query: c.Query("q"), Filter: spec, Limit: limit})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	listings, err := a.store.ListingsByIDs(ctx, res.IDs())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	listings = query.Filter(inRankOrder(listings, res.IDs()), spec)

	c.JSON(http.StatusOK, gin.H{
		"query":    c.Query("q"),
		"listings": listings,
		"count":    len(listings),
	})
}

// Reindex pushes every stored listing to the search index.
func (a *API) Reindex(c *gin.Context) {
	if a.search == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search is not configured"})
		return
	}

	ctx := c.Request.Context()
	listings, err := a.store.ListListings(ctx, "", "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Printf("[Reindex] Indexing %d listings", len(listings))
	if err := a.search.IndexListings(ctx, listings); err != nil {
		log.Printf("[Reindex] Failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Reindex complete",
		"indexed": len(listings),
	})
}

// inRankOrder reorders listings to follow ids; ids the store no longer
// has are dropped.
func inRankOrder(listings []models.Listing, ids []uint) []models.Listing {
	byID := make(map[uint]models.Listing, len(listings))
	for _, l := range listings {
		byID[l.ID] = l
	}
	out := make([]models.Listing, 0, len(ids))
	for _, id := range ids {
		if l, ok := byID[id]; ok {
			out = append(out, l)
		}
	}
	return out
}

// Export streams an .xlsx workbook of all listings and the price changes
// of the last `days` days (default 30).
func (a *API) Export(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a non-negative integer"})
		return
	}

	ctx := c.Request.Context()
	listings, err := a.query.List(ctx, "", "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	changes, err := a.query.PriceChanges(ctx, days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	f, err := export.NewWorkbook(listings, changes)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="vehicle_deals_%s.xlsx"`, time.Now().UTC().Format("20060102")))
	if err := f.Write(c.Writer); err != nil {
		log.Printf("API: export write failed: %v", err)
	}
}

// GetRateLimitStats returns the candidate endpoint's limiter state.
func (a *API) GetRateLimitStats(c *gin.Context) {
	c.JSON(http.StatusOK, a.limiter.GetStats())
}

// requestFilter builds the filter for a request: the configured defaults
// (or nothing with filters=none) overridden by query parameters.
func (a *API) requestFilter(c *gin.Context) (query.FilterSpec, error) {
	var spec query.FilterSpec
	if c.Query("filters") != "none" {
		spec = a.query.Defaults()
	}

	var o query.FilterSpec
	ints := []struct {
		param string
		dst   **int
	}{
		{"price_min", &o.PriceMin},
		{"price_max", &o.PriceMax},
		{"mileage_max", &o.MileageMax},
		{"year_min", &o.YearMin},
		{"year_max", &o.YearMax},
	}
	for _, p := range ints {
		v := c.Query(p.param)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return query.FilterSpec{}, fmt.Errorf("%s must be an integer", p.param)
		}
		*p.dst = &n
	}

	o.TrimsInclude = csvParam(c, "trims_include")
	o.TrimsExclude = csvParam(c, "trims_exclude")
	o.DealersInclude = csvParam(c, "dealers_include")
	o.DealersExclude = csvParam(c, "dealers_exclude")
	o.KeywordsExclude = csvParam(c, "keywords_exclude")

	if v := c.Query("min_discount_percent"); v != "" {
		pct, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(pct) || math.IsInf(pct, 0) {
			return query.FilterSpec{}, errors.New("min_discount_percent must be a finite number")
		}
		o.MinDiscountPercent = &pct
	}
	o.OnlyPriceDrops = c.Query("only_price_drops") == "true"

	return spec.Override(o), nil
}

// csvParam reads a comma-separated list parameter.
func csvParam(c *gin.Context, name string) []string {
	v := c.Query(name)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
