// Command probe checks that each configured source can still be fetched
// and parsed, and writes the findings to a JSON file.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"vehicle-deal-tracker/internal/config"
	"vehicle-deal-tracker/internal/fetch"
	"vehicle-deal-tracker/internal/models"
)

// ProbeResult is the verdict of one check against one source.
type ProbeResult struct {
	Source    string    `json:"source"`
	CheckName string    `json:"check_name"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Details   any       `json:"details,omitempty"`
}

// ProbeResults is the report written to disk.
type ProbeResults struct {
	Vehicle        string        `json:"vehicle"`
	Results        []ProbeResult `json:"results"`
	OverallSuccess bool          `json:"overall_success"`
	ExecutedAt     time.Time     `json:"executed_at"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/dealfinder.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	// one page is enough to judge a source
	cfg.Scraper.MaxPages = 1

	vehicle := cfg.Vehicles[0]
	results := &ProbeResults{
		Vehicle:    vehicle.String(),
		ExecutedAt: time.Now(),
	}

	log.Println("============================================")
	log.Printf("Probing sources for %s", vehicle)
	log.Println("============================================")

	ctx := context.Background()
	for _, f := range fetch.NewFetchers(cfg.Scraper) {
		candidates, stability := checkStability(ctx, f, vehicle, 2)
		results.Results = append(results.Results, stability)
		if stability.Success {
			results.Results = append(results.Results, checkFieldCoverage(f.Source(), candidates))
		}
	}

	results.OverallSuccess = len(results.Results) > 0
	for _, result := range results.Results {
		if !result.Success {
			results.OverallSuccess = false
			break
		}
	}

	log.Println("============================================")
	log.Println("Probe summary")
	log.Println("============================================")
	for i, result := range results.Results {
		status := "PASS"
		if !result.Success {
			status = "FAIL"
		}
		log.Printf("%d. [%s] %s: %s", i+1, result.Source, result.CheckName, status)
		log.Printf("   %s", result.Message)
	}

	saveResults(results)

	if !results.OverallSuccess {
		os.Exit(1)
	}
}

// checkStability fetches the first page attempts times in a row; every
// attempt must return listings.
func checkStability(ctx context.Context, f fetch.Fetcher, v config.Vehicle, attempts int) ([]models.Candidate, ProbeResult) {
	result := ProbeResult{
		Source:    f.Source(),
		CheckName: "fetch stability",
		Timestamp: time.Now(),
	}

	var last []models.Candidate
	counts := make([]int, 0, attempts)
	for i := 1; i <= attempts; i++ {
		log.Printf("[%s] attempt %d/%d...", f.Source(), i, attempts)
		candidates, err := f.Fetch(ctx, v)
		if err != nil {
			result.Message = fmt.Sprintf("attempt %d failed: %v", i, err)
			result.Details = map[string]interface{}{"counts": counts}
			return nil, result
		}
		if len(candidates) == 0 {
			result.Message = fmt.Sprintf("attempt %d returned no listings", i)
			result.Details = map[string]interface{}{"counts": counts}
			return nil, result
		}
		counts = append(counts, len(candidates))
		last = candidates
	}

	result.Success = true
	result.Message = fmt.Sprintf("%d consecutive fetches returned listings", attempts)
	result.Details = map[string]interface{}{"counts": counts}
	return last, result
}

// checkFieldCoverage reports how many candidates carry the fields the
// reports depend on. At least half must have a dealer and a listing URL.
func checkFieldCoverage(source string, candidates []models.Candidate) ProbeResult {
	result := ProbeResult{
		Source:    source,
		CheckName: "field coverage",
		Timestamp: time.Now(),
	}

	coverage := map[string]int{}
	for _, c := range candidates {
		if c.Trim != nil {
			coverage["trim"]++
		}
		if c.Mileage != nil {
			coverage["mileage"]++
		}
		if c.MSRP != nil {
			coverage["msrp"]++
		}
		if c.DealerName != nil {
			coverage["dealer_name"]++
		}
		if c.ListingURL != nil {
			coverage["listing_url"]++
		}
		if c.VIN != nil {
			coverage["vin"]++
		}
	}

	half := (len(candidates) + 1) / 2
	result.Success = coverage["dealer_name"] >= half && coverage["listing_url"] >= half
	result.Message = fmt.Sprintf("%d listings, %d with dealer, %d with URL",
		len(candidates), coverage["dealer_name"], coverage["listing_url"])
	result.Details = coverage
	return result
}

func saveResults(results *ProbeResults) {
	filename := fmt.Sprintf("probe-results-%s.json", results.ExecutedAt.Format("20060102-150405"))

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		log.Printf("[ERROR] Failed to marshal results: %v", err)
		return
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		log.Printf("[ERROR] Failed to write results file: %v", err)
		return
	}

	log.Printf("Results saved to %s", filename)
}
