// Package crawlertest provides deterministic collaborators for tests.
package crawlertest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/listing-tracker/internal/crawler"
)

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// IDs yields sequential IDs with a fixed prefix.
type IDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewIDs returns a sequential ID generator.
func NewIDs(prefix string) *IDs {
	return &IDs{prefix: prefix}
}

// NewID returns the next ID.
func (g *IDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n), nil
}

// Page is a canned fetch result.
// An empty ContentType answers as HTML.
type Page struct {
	Status      int
	Body        string
	ContentType string
	Err         error
}

// Fetcher serves canned pages keyed by URL and records every request.
type Fetcher struct {
	mu    sync.Mutex
	pages map[string]Page
	calls []string
}

// NewFetcher returns an empty Fetcher. Unknown URLs answer 404.
func NewFetcher() *Fetcher {
	return &Fetcher{pages: make(map[string]Page)}
}

// Set registers the page served for url.
func (f *Fetcher) Set(url string, page Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if page.Status == 0 && page.Err == nil {
		page.Status = http.StatusOK
	}
	f.pages[url] = page
}

// Fetch implements crawler.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := ctx.Err(); err != nil {
		return crawler.FetchResponse{}, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, req.URL)
	page, ok := f.pages[req.URL]
	f.mu.Unlock()
	if !ok {
		page = Page{Status: http.StatusNotFound}
	}
	if page.Err != nil {
		return crawler.FetchResponse{}, page.Err
	}
	contentType := page.ContentType
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	return crawler.FetchResponse{
		URL:         req.URL,
		StatusCode:  page.Status,
		Body:        []byte(page.Body),
		ContentType: contentType,
		Headers:     http.Header{},
	}, nil
}

// Calls returns the URLs fetched so far.
func (f *Fetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Count returns how many times url was fetched.
func (f *Fetcher) Count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == url {
			n++
		}
	}
	return n
}
