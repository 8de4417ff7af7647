// Package fetch produces listing candidates from the external listing
// sites. Each Fetcher owns its own session, pacing, retry policy and
// circuit breaker; nothing here touches the store.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"vehicle-deal-tracker/internal/config"
	"vehicle-deal-tracker/internal/models"
	"vehicle-deal-tracker/internal/ratelimit"
)

var (
	// ErrBlocked means the site answered with a bot-protection page or a
	// 403. Retrying immediately will not help.
	ErrBlocked = errors.New("blocked by bot protection")

	// ErrCircuitOpen means the source's breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// StatusError is a non-2xx HTTP answer.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Fetcher fetches every current listing of one vehicle from one source.
// The returned slice is finite and the call is not restartable; on a
// mid-run failure it holds the candidates parsed before the error.
type Fetcher interface {
	Source() string
	Fetch(ctx context.Context, v config.Vehicle) ([]models.Candidate, error)
}

// Source names.
const (
	SourceCarsCom    = "cars.com"
	SourceCarGurus   = "cargurus"
	SourceAutotrader = "autotrader"
)

// NewFetchers builds a fetcher for every enabled source in cfg. Unknown
// source names are logged and skipped.
func NewFetchers(cfg config.ScraperConfig) []Fetcher {
	var fetchers []Fetcher
	for _, name := range cfg.Sources {
		switch strings.ToLower(name) {
		case SourceCarsCom:
			fetchers = append(fetchers, NewCarsCom(cfg, newBase(SourceCarsCom, cfg)))
		case SourceAutotrader:
			fetchers = append(fetchers, NewAutotrader(cfg, newBase(SourceAutotrader, cfg)))
		case SourceCarGurus:
			fetchers = append(fetchers, NewCarGurus(cfg, newBase(SourceCarGurus, cfg), nil))
		default:
			log.Printf("Fetch: unknown source %q in config, skipping", name)
		}
	}
	return fetchers
}

// base is the plumbing shared by every fetcher.
type base struct {
	source  string
	session *Session
	retry   RetryPolicy
	breaker *CircuitBreaker
}

func newBase(source string, cfg config.ScraperConfig) *base {
	minDelay, maxDelay := cfg.GetRequestDelayRange()
	limiter := ratelimit.NewHostLimiter(cfg.MaxInFlight, minDelay, maxDelay)
	return &base{
		source:  source,
		session: NewSession(cfg.GetTimeout(), cfg.UserAgents, limiter),
		retry:   DefaultRetryPolicy(cfg.MaxRetries, cfg.GetRetryDelay()),
		breaker: NewCircuitBreaker(cfg.CircuitBreakerThreshold, cfg.GetCircuitBreakerReset()),
	}
}

// get downloads url through the breaker and the retry policy.
func (b *base) get(ctx context.Context, url string) (string, error) {
	return b.load(ctx, url, b.session.Get)
}

// load is get with a custom page loader, e.g. a headless browser.
func (b *base) load(ctx context.Context, url string, loader func(context.Context, string) (string, error)) (string, error) {
	var body string
	err := b.retry.Do(ctx, func(attempt int) error {
		if err := b.breaker.Allow(); err != nil {
			return err
		}
		if attempt > 1 {
			log.Printf("[%s] Retry %d/%d: %s", b.source, attempt, b.retry.MaxAttempts, url)
		}

		var err error
		body, err = loader(ctx, url)
		if err != nil {
			b.breaker.RecordFailure(statusCode(err))
			return err
		}
		b.breaker.RecordSuccess()
		return nil
	})
	return body, err
}

func statusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// pageParser turns one result page into candidates and reports whether
// another page should be requested.
type pageParser func(html string) (cands []models.Candidate, more bool, err error)

// crawl walks result pages 1..maxPages, stopping early when parse says
// so. Candidates repeated across or within pages are kept once. On error
// the candidates collected so far are returned with it.
func (b *base) crawl(ctx context.Context, v config.Vehicle, maxPages int, pageURL func(page int) string, parse pageParser) ([]models.Candidate, error) {
	if maxPages < 1 {
		maxPages = 1
	}

	var all []models.Candidate
	seen := make(map[string]bool)
	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return all, err
		}

		url := pageURL(page)
		log.Printf("[%s] %s page %d: %s", b.source, v, page, url)

		html, err := b.get(ctx, url)
		if err != nil {
			return all, fmt.Errorf("%s page %d: %w", b.source, page, err)
		}

		cands, more, err := parse(html)
		added := 0
		for _, c := range cands {
			if seen[c.SourceListingID] {
				continue
			}
			seen[c.SourceListingID] = true
			all = append(all, c)
			added++
		}
		log.Printf("[%s] Found %d listings on page %d", b.source, added, page)
		if err != nil {
			return all, fmt.Errorf("%s page %d: %w", b.source, page, err)
		}
		if !more || len(cands) == 0 {
			break
		}
	}

	log.Printf("[%s] Total: %d listings for %s", b.source, len(all), v)
	return all, nil
}
