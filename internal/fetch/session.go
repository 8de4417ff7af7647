package fetch

import (
	"context"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"vehicle-deal-tracker/internal/ratelimit"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Session is a browser-like HTTP client for one site. Every request picks
// a random user agent and waits for the host limiter.
type Session struct {
	client     *resty.Client
	userAgents []string
	limiter    *ratelimit.HostLimiter

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSession creates a session. A nil limiter disables pacing.
func NewSession(timeout time.Duration, userAgents []string, limiter *ratelimit.HostLimiter) *Session {
	if len(userAgents) == 0 {
		userAgents = []string{defaultUserAgent}
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeaders(browserHeaders)

	return &Session{
		client:     client,
		userAgents: userAgents,
		limiter:    limiter,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// browserHeaders mimic a desktop Chrome navigation.
var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"DNT":                       "1",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-User":            "?1",
	"Cache-Control":             "max-age=0",
	"sec-ch-ua":                 `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
	"sec-ch-ua-mobile":          "?0",
	"sec-ch-ua-platform":        `"Windows"`,
}

// UserAgent returns a random configured user agent.
func (s *Session) UserAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userAgents[s.rnd.Intn(len(s.userAgents))]
}

// Get fetches url and returns the body. 403 yields ErrBlocked, any other
// non-2xx a *StatusError.
func (s *Session) Get(ctx context.Context, url string) (string, error) {
	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx); err != nil {
			return "", err
		}
		defer s.limiter.Release()
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("User-Agent", s.UserAgent()).
		Get(url)
	if err != nil {
		s.observe(false)
		return "", err
	}

	code := resp.StatusCode()
	s.observe(code < 500 && code != http.StatusForbidden && code != http.StatusTooManyRequests)

	switch {
	case code == http.StatusForbidden:
		return "", &blockedError{status: &StatusError{URL: url, Code: code}}
	case code < 200 || code > 299:
		return "", &StatusError{URL: url, Code: code}
	}
	return resp.String(), nil
}

// blockedError is a 403: it is ErrBlocked and still carries the status
// for the circuit breaker.
type blockedError struct {
	status *StatusError
}

func (e *blockedError) Error() string {
	return ErrBlocked.Error() + ": " + e.status.Error()
}

func (e *blockedError) Is(target error) bool { return target == ErrBlocked }

func (e *blockedError) Unwrap() error { return e.status }

// containsFold reports whether s contains substr, ignoring case.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// observe feeds a request outcome to the host limiter's pacing.
func (s *Session) observe(healthy bool) {
	if s.limiter != nil {
		s.limiter.Observe(healthy)
	}
}
