package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"vehicle-deal-tracker/internal/database"
	"vehicle-deal-tracker/internal/models"
	"vehicle-deal-tracker/internal/scheduler"
)

// RunController starts scrape runs.
type RunController interface {
	RunAsync(ctx context.Context, trigger string) (string, error)
	Running() bool
}

// AdminHandler handles admin-related requests
type AdminHandler struct {
	store  database.Store
	runner RunController
	// runs outlive the request that started them
	runCtx context.Context
}

// NewAdminHandler creates a new admin handler. runner may be nil when
// scraping is disabled.
func NewAdminHandler(ctx context.Context, store database.Store, runner RunController) *AdminHandler {
	return &AdminHandler{
		store:  store,
		runner: runner,
		runCtx: ctx,
	}
}

// Register mounts the admin routes on r.
func (h *AdminHandler) Register(r gin.IRouter) {
	admin := r.Group("/api/admin")
	admin.GET("/stats", h.GetStats)
	admin.GET("/sources", h.GetSourceStates)
	admin.GET("/price-distribution", h.GetPriceDistribution)

	r.POST("/api/scrape/run", h.TriggerScraping)
	r.GET("/api/scrape/status", h.GetScrapingStatus)
}

// GetStats returns system statistics
func (h *AdminHandler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()
	stats := make(map[string]interface{})

	listings, err := h.store.ListListings(ctx, "", "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	last24h := time.Now().UTC().AddDate(0, 0, -1)
	var priced, withDrops, seenLast24h int
	bySource := make(map[string]int)
	for i := range listings {
		l := &listings[i]
		bySource[l.Source]++
		if l.Price != nil {
			priced++
		}
		if l.HasPriceDrop() {
			withDrops++
		}
		if !l.LastSeen.Before(last24h) {
			seenLast24h++
		}
	}
	stats["listings"] = map[string]interface{}{
		"total":           len(listings),
		"priced":          priced,
		"with_price_drop": withDrops,
		"seen_last_24h":   seenLast24h,
		"by_source":       bySource,
	}

	// Price changes (last 7 days)
	changes, err := h.store.PriceChangesSince(ctx, time.Now().UTC().AddDate(0, 0, -7))
	if err != nil {
		log.Printf("Admin: failed to load price changes: %v", err)
	} else {
		drops := 0
		for i := range changes {
			if changes[i].IsDrop() {
				drops++
			}
		}
		stats["price_changes"] = map[string]interface{}{
			"last_7_days": len(changes),
			"drops":       drops,
		}
	}

	pending, err := h.store.PendingPriceChanges(ctx)
	if err != nil {
		log.Printf("Admin: failed to load pending price changes: %v", err)
	} else {
		stats["pending_notifications"] = len(pending)
	}

	c.JSON(http.StatusOK, stats)
}

// GetSourceStates returns fetch health per source
func (h *AdminHandler) GetSourceStates(c *gin.Context) {
	states, err := h.store.ListSourceStates(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	out := make([]gin.H, 0, len(states))
	for i := range states {
		out = append(out, gin.H{
			"state":     states[i],
			"can_fetch": states[i].CanFetch(now),
		})
	}
	c.JSON(http.StatusOK, gin.H{"sources": out, "count": len(out)})
}

// priceBuckets are the upper bounds (exclusive) of the distribution buckets.
var priceBuckets = []struct {
	label string
	upper int
}{
	{"under_40k", 40000},
	{"40k_50k", 50000},
	{"50k_60k", 60000},
	{"60k_70k", 70000},
}

// GetPriceDistribution returns listing counts by price range
func (h *AdminHandler) GetPriceDistribution(c *gin.Context) {
	listings, err := h.store.ListListings(c.Request.Context(), c.Query("make"), c.Query("model"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	dist := map[string]int{"70k_plus": 0, "unknown": 0}
	for _, b := range priceBuckets {
		dist[b.label] = 0
	}
	for i := range listings {
		dist[priceBucket(listings[i].Price)]++
	}

	c.JSON(http.StatusOK, gin.H{
		"distribution": dist,
		"total":        len(listings),
	})
}

func priceBucket(price *int) string {
	if price == nil {
		return "unknown"
	}
	for _, b := range priceBuckets {
		if *price < b.upper {
			return b.label
		}
	}
	return "70k_plus"
}

// TriggerScraping manually triggers scraping
func (h *AdminHandler) TriggerScraping(c *gin.Context) {
	if h.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Scraping is not enabled",
		})
		return
	}

	log.Println("Admin: Manual scraping trigger requested")

	runID, err := h.runner.RunAsync(h.runCtx, models.TriggerAPI)
	if errors.Is(err, scheduler.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": "running"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Scraping job started",
		"status":  "running",
		"run_id":  runID,
	})
}

// GetScrapingStatus returns whether a run is active plus the latest run records
func (h *AdminHandler) GetScrapingStatus(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit <= 0 {
		limit = 10
	}

	runs, err := h.store.RecentScrapeRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := "idle"
	if h.runner != nil && h.runner.Running() {
		status = "running"
	}
	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"runs":   runs,
	})
}
