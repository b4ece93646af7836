package listing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-tracker/internal/extract"
	"github.com/JakeFAU/listing-tracker/internal/listing/listingtest"
	"github.com/JakeFAU/listing-tracker/internal/normalize"
)

func newParser(t *testing.T) *Parser {
	t.Helper()
	set, err := extract.DefaultSet()
	require.NoError(t, err)
	return NewParser(set, Config{Domain: "https://www.otodom.pl", OfferLinkPrefix: "/pl/oferta/"})
}

func TestPagination(t *testing.T) {
	t.Parallel()

	p := newParser(t)
	got, err := p.Pagination([]byte(listingtest.ListingPage(3, 2, "/pl/oferta/a-ID1")))
	require.NoError(t, err)
	assert.Equal(t, Pagination{TotalPages: 3, ItemsPerPage: 36, CurrentPage: 2}, got)
}

func TestPaginationAcceptsEmptySearch(t *testing.T) {
	t.Parallel()

	p := newParser(t)
	got, err := p.Pagination([]byte(listingtest.ListingPage(0, 1)))
	require.NoError(t, err)
	assert.Zero(t, got.TotalPages)

	_, err = p.Pagination([]byte(listingtest.ListingPage(-1, 1)))
	require.ErrorContains(t, err, "totalPages invalid")
}

func TestPaginationMissingKey(t *testing.T) {
	t.Parallel()

	p := newParser(t)
	page := `<html><body><script id="__NEXT_DATA__">{"props":{"pageProps":{"data":{"searchAds":{"pagination":{"totalPages":2}}}}}}</script></body></html>`
	_, err := p.Pagination([]byte(page))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing key "itemsPerPage"`)
}

func TestPaginationWithoutScriptIsStructural(t *testing.T) {
	t.Parallel()

	p := newParser(t)
	_, err := p.Pagination([]byte(`<html><body><p>maintenance</p></body></html>`))
	var structural *extract.StructuralError
	require.True(t, errors.As(err, &structural))
}

func TestOfferLinks(t *testing.T) {
	t.Parallel()

	p := newParser(t)
	page := listingtest.ListingPage(1, 1, "/pl/oferta/dom-ID1?ref=list", "/pl/oferta/dom-ID2", "/pl/wyniki/other")
	links, err := p.OfferLinks([]byte(page))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://www.otodom.pl/pl/oferta/dom-ID1",
		"https://www.otodom.pl/pl/oferta/dom-ID2",
	}, links)
}

func TestOfferLinksLayoutChange(t *testing.T) {
	t.Parallel()

	p := newParser(t)
	_, err := p.OfferLinks([]byte(`<html><body><div><a href="/pl/oferta/x-ID9">x</a></div></body></html>`))
	var structural *extract.StructuralError
	require.True(t, errors.As(err, &structural))
	assert.Equal(t, 0, structural.Stage)
	assert.Equal(t, 2, structural.Step)
}

func TestOfferFields(t *testing.T) {
	t.Parallel()

	p := newParser(t)
	fields, err := p.Offer([]byte(listingtest.DetailPage("Głogów", "450000")))
	require.NoError(t, err)

	offer, errs := normalize.Normalize(fields, 200)
	require.Empty(t, errs)
	assert.Equal(t, "Głogów", *offer.City)
	assert.InDelta(t, 450000, *offer.Price, 0)
	assert.Equal(t, 4, offer.Rooms)
	assert.Equal(t, "Polna 5", *offer.Street)
	assert.Equal(t, []string{"https://img/1.jpg"}, offer.Images)
	assert.Equal(t, `["prąd"]`, string(offer.Features.Media))
}

func TestPageURL(t *testing.T) {
	t.Parallel()

	p := newParser(t)
	base := "https://www.otodom.pl/pl/wyniki/sprzedaz/dom/glogow?areaMin=80"
	assert.Equal(t, base, p.PageURL(base, 1))
	assert.Equal(t, base+"&page=3", p.PageURL(base, 3))
	assert.Equal(t, "https://x/list?page=2", p.PageURL("https://x/list", 2))
}
