// Package listing applies the hierarchy set to listing and detail pages of the
// tracked site.
package listing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/listing-tracker/internal/extract"
	"github.com/JakeFAU/listing-tracker/internal/normalize"
)

// Config describes how offer links are recognised and made absolute.
type Config struct {
	Domain          string
	OfferLinkPrefix string
	PageParam       string
}

// Pagination is the paging metadata embedded in a listing page.
type Pagination struct {
	TotalPages   int
	ItemsPerPage int
	CurrentPage  int
}

// Parser extracts pagination, offer links and offer fields from raw pages.
type Parser struct {
	set extract.Set
	cfg Config
}

// NewParser builds a Parser.
func NewParser(set extract.Set, cfg Config) *Parser {
	if cfg.PageParam == "" {
		cfg.PageParam = "page"
	}
	return &Parser{set: set, cfg: cfg}
}

// Pagination extracts the paging metadata. Every attribute named by the
// pagination hierarchy must be present. A search without results reports
// zero pages.
func (p *Parser) Pagination(body []byte) (Pagination, error) {
	root, err := extract.ParseHTML(body)
	if err != nil {
		return Pagination{}, err
	}
	node, err := extract.Extract(root, p.set.Pagination)
	if err != nil {
		return Pagination{}, fmt.Errorf("extract pagination: %w", err)
	}
	v := node.Value()
	for _, key := range p.set.Pagination.Attributes {
		if !v.Has(key) {
			return Pagination{}, fmt.Errorf("pagination missing key %q", key)
		}
	}
	total, ok := v.Get("totalPages").Int()
	if !ok || total < 0 {
		return Pagination{}, fmt.Errorf("pagination totalPages invalid: %q", v.Get("totalPages").Text())
	}
	perPage, _ := v.Get("itemsPerPage").Int()
	current, _ := v.Get("currentPage").Int()
	return Pagination{TotalPages: total, ItemsPerPage: perPage, CurrentPage: current}, nil
}

// OfferLinks returns the absolute offer URLs found in the listing container,
// query strings stripped, in document order.
func (p *Parser) OfferLinks(body []byte) ([]string, error) {
	root, err := extract.ParseHTML(body)
	if err != nil {
		return nil, err
	}
	node, err := extract.Extract(root, p.set.OfferLinks)
	if err != nil {
		return nil, fmt.Errorf("extract offer links: %w", err)
	}
	if !node.IsMarkup() {
		return nil, fmt.Errorf("extract offer links: hierarchy must end on markup")
	}
	var links []string
	node.Selection().Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !strings.HasPrefix(href, p.cfg.OfferLinkPrefix) {
			return
		}
		if idx := strings.IndexByte(href, '?'); idx >= 0 {
			href = href[:idx]
		}
		links = append(links, p.cfg.Domain+href)
	})
	return links, nil
}

// Offer extracts every configured field from a detail page.
func (p *Parser) Offer(body []byte) (normalize.Fields, error) {
	root, err := extract.ParseHTML(body)
	if err != nil {
		return nil, err
	}
	details, err := extract.Extract(root, p.set.OfferDetails)
	if err != nil {
		return nil, fmt.Errorf("extract offer details: %w", err)
	}
	fields := make(normalize.Fields, len(p.set.Fields))
	for _, name := range p.set.FieldNames() {
		node, err := extract.Extract(details, p.set.Fields[name])
		if err != nil {
			return nil, fmt.Errorf("extract field %s: %w", name, err)
		}
		fields[name] = node.Value()
	}
	return fields, nil
}

// PageURL builds the URL of listing page n. The first page is the base URL.
func (p *Parser) PageURL(base string, n int) string {
	if n <= 1 {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + p.cfg.PageParam + "=" + strconv.Itoa(n)
}
