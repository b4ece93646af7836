package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-tracker/internal/crawler"
	"github.com/JakeFAU/listing-tracker/internal/crawler/crawlertest"
	"github.com/JakeFAU/listing-tracker/internal/extract"
	"github.com/JakeFAU/listing-tracker/internal/hash/sha256"
	"github.com/JakeFAU/listing-tracker/internal/listing"
	"github.com/JakeFAU/listing-tracker/internal/listing/listingtest"
	"github.com/JakeFAU/listing-tracker/internal/policy/ratelimit"
	"github.com/JakeFAU/listing-tracker/internal/storage/memory"
)

const (
	domain   = "https://www.otodom.pl"
	entity   = "houses"
	startURL = domain + "/pl/wyniki/sprzedaz/dom/lubuskie"
)

func href(id string) string     { return "/pl/oferta/dom-na-sprzedaz-" + id }
func offerURL(id string) string { return domain + href(id) }

type harness struct {
	store     *memory.StateStore
	artifacts crawler.ArtifactStore
	fetcher   *crawlertest.Fetcher
	clock     *crawlertest.Clock
	orch      *Orchestrator
}

type option func(*Config, *Deps)

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	set, err := extract.DefaultSet()
	require.NoError(t, err)

	h := &harness{
		store:     memory.NewStateStore(),
		artifacts: memory.NewArtifactStore(),
		fetcher:   crawlertest.NewFetcher(),
		clock:     crawlertest.NewClock(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)),
	}
	cfg := Config{StartURLs: map[string]string{entity: startURL}}
	deps := Deps{
		Store:     h.store,
		Artifacts: h.artifacts,
		Fetcher:   h.fetcher,
		Parser:    listing.NewParser(set, listing.Config{Domain: domain, OfferLinkPrefix: "/pl/oferta/"}),
		Hasher:    sha256.New(),
		Clock:     h.clock,
		IDs:       crawlertest.NewIDs("id"),
		Logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	h.artifacts = deps.Artifacts
	h.orch, err = New(cfg, deps)
	require.NoError(t, err)
	return h
}

// listing serves a single listing page carrying ids.
func (h *harness) listing(ids ...string) {
	hrefs := make([]string, 0, len(ids))
	for _, id := range ids {
		hrefs = append(hrefs, href(id))
	}
	h.fetcher.Set(startURL, crawlertest.Page{Body: listingtest.ListingPage(1, 1, hrefs...)})
}

func (h *harness) detail(id, price string) {
	h.fetcher.Set(offerURL(id), crawlertest.Page{Body: listingtest.DetailPage("Głogów", price)})
}

func (h *harness) run(t *testing.T) Report {
	t.Helper()
	h.clock.Advance(time.Hour)
	report, err := h.orch.Run(context.Background(), entity)
	require.NoError(t, err)
	require.True(t, report.Success)
	return report
}

func (h *harness) entry(t *testing.T, runID, resourceID string) crawler.AuditEntry {
	t.Helper()
	entries, err := h.store.ListAuditEntries(context.Background(), runID)
	require.NoError(t, err)
	for _, e := range entries {
		if e.ResourceID == resourceID {
			return e
		}
	}
	t.Fatalf("no audit entry for %s in run %s", resourceID, runID)
	return crawler.AuditEntry{}
}

func (h *harness) lastRun(t *testing.T) crawler.Run {
	t.Helper()
	runs, err := h.store.ListRuns(context.Background(), entity, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	return runs[0]
}

func activeIDs(t *testing.T, store *memory.StateStore) []string {
	t.Helper()
	active, err := store.ActiveResources(context.Background(), entity)
	require.NoError(t, err)
	ids := make([]string, 0, len(active))
	for _, r := range active {
		ids = append(ids, r.ID)
	}
	return ids
}

type pacerFunc func(context.Context, ratelimit.Class) error

func (f pacerFunc) Wait(ctx context.Context, class ratelimit.Class) error { return f(ctx, class) }

func TestFreshRunCreatesActiveRowsAndPendingEntries(t *testing.T) {
	t.Parallel()

	// Detail fetches are refused so the entries stay where creation left them.
	h := newHarness(t, func(_ *Config, d *Deps) {
		d.Pacer = pacerFunc(func(_ context.Context, class ratelimit.Class) error {
			if class == ratelimit.ClassDetail {
				return errors.New("stop before downloads")
			}
			return nil
		})
	})
	h.listing("A", "B")

	report, err := h.orch.Run(context.Background(), entity)
	require.Error(t, err)
	assert.Equal(t, 2, report.New)
	assert.Equal(t, []string{"A", "B"}, activeIDs(t, h.store))

	run := h.lastRun(t)
	assert.False(t, run.Success)
	entries, err := h.store.ListAuditEntries(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, crawler.AuditPending, e.State())
		assert.Equal(t, h.artifacts.Path(e.ResourceID, run.StartedAt), e.ArtifactPath)
	}
}

func TestFreshRunParsesEverything(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.listing("A", "B")
	h.detail("A", "450000")
	h.detail("B", "520000")

	report := h.run(t)
	assert.Equal(t, 2, report.Observed)
	assert.Equal(t, 2, report.New)
	assert.Equal(t, 2, report.Visited)
	assert.Equal(t, 2, report.Parsed)
	assert.True(t, h.lastRun(t).Success)

	offers, err := h.store.OfferHistory(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, 1, offers[0].Version)
	assert.Equal(t, report.RunID, offers[0].RunID)
	require.NotNil(t, offers[0].Price)
	assert.InDelta(t, 450000, *offers[0].Price, 0.001)
}

func TestNotFoundExpiresResource(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.listing("A", "B")
	h.fetcher.Set(offerURL("A"), crawlertest.Page{Status: http.StatusNotFound})
	h.detail("B", "1")

	report := h.run(t)
	assert.Equal(t, 1, report.DownloadFailed)
	assert.Equal(t, []string{"B"}, activeIDs(t, h.store))

	history, err := h.store.ResourceHistory(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, crawler.StatusHistorical, history[0].Status)
	assert.Equal(t, report.RunID, history[0].ExpiredRunID)

	e := h.entry(t, report.RunID, "A")
	assert.NotNil(t, e.VisitedAt)
	assert.Nil(t, e.ParsedAt)
	assert.Equal(t, crawler.StepDownload, e.ErrorStep)
	assert.Equal(t, http.StatusNotFound, e.StatusCode)
	assert.Equal(t, crawler.AuditDownloadFailed, e.State())

	// A later run never parses it.
	h.listing("B")
	h.run(t)
	e = h.entry(t, report.RunID, "A")
	assert.Nil(t, e.ParsedAt)
}

func TestReparseWritesNewVersion(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.listing("B")
	h.detail("B", "450000")
	h.run(t)
	h.detail("B", "430000")
	h.run(t)

	offers, err := h.store.OfferHistory(context.Background(), "B")
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, crawler.StatusHistorical, offers[0].Status)
	assert.InDelta(t, 450000, *offers[0].Price, 0.001)
	assert.Equal(t, crawler.StatusActive, offers[1].Status)
	assert.Equal(t, 2, offers[1].Version)
	assert.InDelta(t, 430000, *offers[1].Price, 0.001)
}

func TestIdenticalContentStillVersions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.listing("B")
	h.detail("B", "450000")
	h.run(t)
	h.run(t)

	offers, err := h.store.OfferHistory(context.Background(), "B")
	require.NoError(t, err)
	assert.Len(t, offers, 2)
}

func TestAbsentResourceStaysActiveWhenRefetchSucceeds(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.listing("A", "B", "C")
	for _, id := range []string{"A", "B", "C"} {
		h.detail(id, "1")
	}
	h.run(t)

	h.listing("A", "B")
	report := h.run(t)
	assert.Equal(t, 1, report.Absent)
	assert.Zero(t, report.Expired)
	assert.Equal(t, []string{"A", "B", "C"}, activeIDs(t, h.store))
	assert.Equal(t, crawler.AuditParsed, h.entry(t, report.RunID, "C").State())
	assert.Equal(t, 2, h.fetcher.Count(offerURL("C")))
}

func TestAbsentResourceExpiresOnConfirmedNotFound(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.listing("A", "C")
	h.detail("A", "1")
	h.detail("C", "1")
	h.run(t)

	h.listing("A")
	h.fetcher.Set(offerURL("C"), crawlertest.Page{Status: http.StatusGone})
	report := h.run(t)
	assert.Equal(t, []string{"A"}, activeIDs(t, h.store))
	assert.Equal(t, crawler.AuditDownloadFailed, h.entry(t, report.RunID, "C").State())
}

func TestEmptyListingStillConfirmsExpiry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.listing("A")
	h.detail("A", "1")
	h.run(t)

	h.fetcher.Set(startURL, crawlertest.Page{Body: listingtest.ListingPage(0, 1)})
	h.fetcher.Set(offerURL("A"), crawlertest.Page{Status: http.StatusNotFound})
	report := h.run(t)
	assert.Equal(t, 1, report.Pages)
	assert.Zero(t, report.Observed)
	assert.Equal(t, 1, report.Absent)
	assert.Empty(t, activeIDs(t, h.store))
	assert.Equal(t, crawler.AuditDownloadFailed, h.entry(t, report.RunID, "A").State())
	assert.True(t, h.lastRun(t).Success)
}

func TestExpireOnAbsenceToggle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *Config, _ *Deps) { c.ExpireOnAbsence = true })
	h.listing("A", "C")
	h.detail("A", "1")
	h.detail("C", "1")
	h.run(t)

	h.listing("A")
	report := h.run(t)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, []string{"A"}, activeIDs(t, h.store))
	assert.Equal(t, 1, h.fetcher.Count(offerURL("C")))
}

func TestRevivedResource(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.listing("A")
	h.fetcher.Set(offerURL("A"), crawlertest.Page{Status: http.StatusNotFound})
	h.run(t)
	assert.Empty(t, activeIDs(t, h.store))

	h.detail("A", "1")
	report := h.run(t)
	assert.Equal(t, 1, report.Revived)
	assert.Equal(t, []string{"A"}, activeIDs(t, h.store))
}

// droppingArtifacts loses the artifact of one resource right after writing it.
type droppingArtifacts struct {
	*memory.ArtifactStore
	drop string
}

func (d droppingArtifacts) Write(ctx context.Context, id string, started time.Time, body []byte) (string, error) {
	key, err := d.ArtifactStore.Write(ctx, id, started, body)
	if id == d.drop {
		d.Delete(key)
	}
	return key, err
}

func TestMissingArtifactFailsParse(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(_ *Config, d *Deps) {
		d.Artifacts = droppingArtifacts{ArtifactStore: memory.NewArtifactStore(), drop: "E"}
	})
	h.listing("D", "E")
	h.detail("D", "1")
	h.detail("E", "1")

	report := h.run(t)
	assert.Equal(t, 1, report.Parsed)
	assert.Equal(t, 1, report.ParseFailed)

	e := h.entry(t, report.RunID, "E")
	assert.Equal(t, crawler.AuditParseFailed, e.State())
	assert.Equal(t, crawler.StepParse, e.ErrorStep)
	assert.Contains(t, e.ErrorMessage, "artifact missing")

	_, err := h.store.OfferHistory(context.Background(), "E")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestLayoutChangeFailsParseOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.listing("A")
	h.fetcher.Set(offerURL("A"), crawlertest.Page{Body: "<html><body>redesigned</body></html>"})

	report := h.run(t)
	e := h.entry(t, report.RunID, "A")
	assert.Equal(t, crawler.AuditParseFailed, e.State())
	assert.Contains(t, e.ErrorMessage, "not found")
	assert.Equal(t, []string{"A"}, activeIDs(t, h.store))
}

func TestServerErrorKeepsResourceActive(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.listing("A")
	h.fetcher.Set(offerURL("A"), crawlertest.Page{Status: http.StatusServiceUnavailable, Body: "busy"})

	report := h.run(t)
	e := h.entry(t, report.RunID, "A")
	assert.Equal(t, http.StatusServiceUnavailable, e.StatusCode)
	assert.Equal(t, crawler.StepParse, e.ErrorStep)
	assert.Equal(t, []string{"A"}, activeIDs(t, h.store))
}

func TestTransportErrorIsDownloadFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.listing("A")
	h.fetcher.Set(offerURL("A"), crawlertest.Page{Err: errors.New("connection reset")})

	report := h.run(t)
	e := h.entry(t, report.RunID, "A")
	assert.Equal(t, crawler.AuditDownloadFailed, e.State())
	assert.Zero(t, e.StatusCode)
	assert.Equal(t, "connection reset", e.ErrorMessage)
	assert.Equal(t, []string{"A"}, activeIDs(t, h.store))
}

func TestPaginationWalksEveryPage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetcher.Set(startURL, crawlertest.Page{Body: listingtest.ListingPage(3, 1, href("A"), href("B"))})
	h.fetcher.Set(startURL+"?page=2", crawlertest.Page{Body: listingtest.ListingPage(3, 2, href("B"), href("C"))})
	h.fetcher.Set(startURL+"?page=3", crawlertest.Page{Status: http.StatusInternalServerError})
	for _, id := range []string{"A", "B", "C"} {
		h.detail(id, "1")
	}

	report := h.run(t)
	assert.Equal(t, 2, report.Pages)
	assert.Equal(t, 3, report.Observed)
	assert.Equal(t, 1, h.fetcher.Count(offerURL("B")))
}

func TestFirstListingFailureAbortsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetcher.Set(startURL, crawlertest.Page{Status: http.StatusServiceUnavailable})

	_, err := h.orch.Run(context.Background(), entity)
	var serverErr *crawler.FetchServerError
	require.True(t, errors.As(err, &serverErr))
	run := h.lastRun(t)
	assert.False(t, run.Open())
	assert.False(t, run.Success)
}

func TestUnknownEntity(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.orch.Run(context.Background(), "castles")
	require.Error(t, err)
	runs, err := h.store.ListRuns(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

type panickingFetcher struct{}

func (panickingFetcher) Fetch(context.Context, crawler.FetchRequest) (crawler.FetchResponse, error) {
	panic("fetcher exploded")
}

func TestPanicClosesRunAsFailed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(_ *Config, d *Deps) { d.Fetcher = panickingFetcher{} })
	_, err := h.orch.Run(context.Background(), entity)
	require.ErrorContains(t, err, "panicked")
	run := h.lastRun(t)
	assert.False(t, run.Open())
	assert.False(t, run.Success)
}

func TestCanceledRunStillCloses(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.listing("A")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.Run(ctx, entity)
	require.ErrorIs(t, err, context.Canceled)
	run := h.lastRun(t)
	assert.False(t, run.Open())
	assert.False(t, run.Success)
}

func TestResumesVisitedEntriesOfInterruptedRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	started := time.Date(2024, 5, 31, 8, 0, 0, 0, time.UTC)
	require.NoError(t, h.store.CreateRun(ctx, crawler.Run{ID: "crashed", Entity: entity, StartedAt: started}))
	path, err := h.artifacts.Write(ctx, "Z", started, []byte(listingtest.DetailPage("Nowa Sól", "99")))
	require.NoError(t, err)
	require.NoError(t, h.store.CreateAuditEntries(ctx, []crawler.AuditEntry{
		{ID: "old-1", RunID: "crashed", ResourceID: "Z", ArtifactPath: path},
	}))
	require.NoError(t, h.store.RecordVisit(ctx, "old-1", started, http.StatusOK, crawler.StepNone, ""))

	h.listing()
	report := h.run(t)
	assert.Equal(t, 1, report.Parsed)

	e, err := h.store.GetAuditEntry(ctx, "old-1")
	require.NoError(t, err)
	assert.Equal(t, crawler.AuditParsed, e.State())
	offers, err := h.store.OfferHistory(ctx, "Z")
	require.NoError(t, err)
	assert.Equal(t, "crashed", offers[0].RunID)
}

func TestConcurrentWorkers(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *Config, _ *Deps) { c.Concurrency = 4 })
	ids := make([]string, 0, 12)
	for i := range 12 {
		id := fmt.Sprintf("ID%02d", i)
		ids = append(ids, id)
		h.detail(id, "1")
	}
	h.listing(ids...)

	report := h.run(t)
	assert.Equal(t, 12, report.Parsed)
	assert.Len(t, activeIDs(t, h.store), 12)
}

type fakeGeocoder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *fakeGeocoder) ReverseGeocode(_ context.Context, c crawler.Coordinates) (crawler.Address, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return crawler.Address{}, g.err
	}
	return crawler.Address{City: "Głogów", Street: "Polna", StreetNumber: "5", MapsURL: "maps?" + c.String()}, nil
}

func TestGeocodeStage(t *testing.T) {
	t.Parallel()

	geo := &fakeGeocoder{}
	h := newHarness(t, func(_ *Config, d *Deps) { d.Geocoder = geo })
	h.listing("A")
	h.detail("A", "1")

	report := h.run(t)
	assert.Equal(t, 1, report.Addresses)
	addrs := h.store.Addresses()
	require.Len(t, addrs, 1)
	assert.Equal(t, "A", addrs[0].ResourceID)
	assert.InDelta(t, 51.66, addrs[0].Coordinates.Lat, 1e-9)

	report = h.run(t)
	assert.Zero(t, report.Addresses)
	assert.Equal(t, 1, geo.calls)
}

func TestGeocodeWithoutAddressIsNotRepeated(t *testing.T) {
	t.Parallel()

	geo := &fakeGeocoder{err: fmt.Errorf("lookup: %w", crawler.ErrNotFound)}
	h := newHarness(t, func(_ *Config, d *Deps) { d.Geocoder = geo })
	h.listing("A")
	h.detail("A", "1")

	report := h.run(t)
	assert.Zero(t, report.Addresses)
	assert.Equal(t, 1, report.Unresolved)
	addrs := h.store.Addresses()
	require.Len(t, addrs, 1)
	assert.Empty(t, addrs[0].Street)
	assert.Empty(t, addrs[0].City)
	assert.Equal(t, "https://www.google.com/maps/search/?api=1&query=51.66,16.08", addrs[0].MapsURL)

	report = h.run(t)
	assert.Zero(t, report.Unresolved)
	assert.Equal(t, 1, geo.calls)
}

func TestGeocodeTransportErrorsAreRetried(t *testing.T) {
	t.Parallel()

	geo := &fakeGeocoder{err: errors.New("connection reset")}
	h := newHarness(t, func(_ *Config, d *Deps) { d.Geocoder = geo })
	h.listing("A")
	h.detail("A", "1")

	report := h.run(t)
	assert.Equal(t, 1, report.GeocodeFailed)
	assert.Empty(t, h.store.Addresses())

	h.run(t)
	assert.Equal(t, 2, geo.calls)
}

// flakyAddressStore fails the first address insert.
type flakyAddressStore struct {
	*memory.StateStore
	mu     sync.Mutex
	failed bool
}

func (s *flakyAddressStore) InsertAddress(ctx context.Context, addr crawler.Address) (bool, error) {
	s.mu.Lock()
	fail := !s.failed
	s.failed = true
	s.mu.Unlock()
	if fail {
		return false, errors.New("connection refused")
	}
	return s.StateStore.InsertAddress(ctx, addr)
}

func TestGeocodeContinuesAfterStoreFailure(t *testing.T) {
	t.Parallel()

	geo := &fakeGeocoder{}
	var flaky *flakyAddressStore
	h := newHarness(t, func(_ *Config, d *Deps) {
		flaky = &flakyAddressStore{StateStore: d.Store.(*memory.StateStore)}
		d.Store = flaky
		d.Geocoder = geo
	})
	h.listing("A", "B")
	h.detail("A", "1")
	h.detail("B", "2")

	report := h.run(t)
	assert.Equal(t, 1, report.GeocodeFailed)
	assert.Equal(t, 1, report.Addresses)
	assert.Equal(t, 2, geo.calls)
	assert.Len(t, h.store.Addresses(), 1)
	assert.True(t, h.lastRun(t).Success)
}

type shortHasher struct{}

func (shortHasher) Hash([]byte) (string, error) { return "abc", nil }

func TestUnhashableLinksAreSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(_ *Config, d *Deps) { d.Hasher = shortHasher{} })
	h.fetcher.Set(startURL, crawlertest.Page{Body: listingtest.ListingPage(1, 1, "/pl/oferta/dom-", href("A"))})
	h.detail("A", "1")

	report := h.run(t)
	assert.Equal(t, 1, report.Observed)
	assert.Equal(t, []string{"A"}, activeIDs(t, h.store))
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{})
	require.Error(t, err)
}
