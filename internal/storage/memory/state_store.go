// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/listing-tracker/internal/crawler"
)

// StateStore implements crawler.StateStore in memory.
type StateStore struct {
	mu        sync.RWMutex
	runs      map[string]crawler.Run
	runOrder  []string
	resources map[string][]crawler.Resource
	audit     map[string]crawler.AuditEntry
	auditSeq  []string
	offers    map[string][]crawler.Offer
	addresses map[addressKey]crawler.Address
	images    map[imageKey]crawler.Image
}

type imageKey struct {
	resourceID, imageID string
}

type addressKey struct {
	resourceID string
	lat, lon   float64
}

// NewStateStore constructs an empty StateStore.
func NewStateStore() *StateStore {
	return &StateStore{
		runs:      make(map[string]crawler.Run),
		resources: make(map[string][]crawler.Resource),
		audit:     make(map[string]crawler.AuditEntry),
		offers:    make(map[string][]crawler.Offer),
		addresses: make(map[addressKey]crawler.Address),
		images:    make(map[imageKey]crawler.Image),
	}
}

var _ crawler.StateStore = (*StateStore)(nil)

// CreateRun stores a new open run.
func (s *StateStore) CreateRun(_ context.Context, run crawler.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	s.runOrder = append(s.runOrder, run.ID)
	return nil
}

// FinishRun closes an open run.
func (s *StateStore) FinishRun(_ context.Context, runID string, finishedAt time.Time, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return crawler.ErrNotFound
	}
	if !run.Open() {
		return crawler.ErrRunClosed
	}
	run.FinishedAt = &finishedAt
	run.Success = success
	s.runs[runID] = run
	return nil
}

// GetRun returns a run by ID.
func (s *StateStore) GetRun(_ context.Context, runID string) (crawler.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return crawler.Run{}, crawler.ErrNotFound
	}
	return run, nil
}

// ListRuns returns the latest runs first.
func (s *StateStore) ListRuns(_ context.Context, entity string, limit int) ([]crawler.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Run
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		run := s.runs[s.runOrder[i]]
		if entity != "" && run.Entity != entity {
			continue
		}
		out = append(out, run)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ActiveResources returns the Active rows of entity ordered by ID.
func (s *StateStore) ActiveResources(_ context.Context, entity string) ([]crawler.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Resource
	for _, rows := range s.resources {
		for _, row := range rows {
			if row.Status == crawler.StatusActive && row.Entity == entity {
				out = append(out, row)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InsertIfNotActive inserts res unless an Active row exists for res.ID.
func (s *StateStore) InsertIfNotActive(_ context.Context, res crawler.Resource) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.resources[res.ID]
	for _, row := range rows {
		if row.Status == crawler.StatusActive {
			return false, false, nil
		}
	}
	res.Status = crawler.StatusActive
	if res.UpdatedRunID == "" {
		res.UpdatedRunID = res.CreatedRunID
	}
	s.resources[res.ID] = append(rows, res)
	return true, len(rows) > 0, nil
}

// ExpireResource moves the Active row of resourceID to Historical.
func (s *StateStore) ExpireResource(_ context.Context, resourceID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.resources[resourceID]
	for i := range rows {
		if rows[i].Status == crawler.StatusActive {
			rows[i].Status = crawler.StatusHistorical
			rows[i].ExpiredRunID = runID
			rows[i].UpdatedRunID = runID
			return nil
		}
	}
	return crawler.ErrNotFound
}

// TouchResource stamps the Active row of resourceID with runID.
func (s *StateStore) TouchResource(_ context.Context, resourceID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.resources[resourceID]
	for i := range rows {
		if rows[i].Status == crawler.StatusActive {
			rows[i].UpdatedRunID = runID
			return nil
		}
	}
	return crawler.ErrNotFound
}

// ResourceHistory returns every row of resourceID, oldest first.
func (s *StateStore) ResourceHistory(_ context.Context, resourceID string) ([]crawler.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.resources[resourceID]
	if len(rows) == 0 {
		return nil, crawler.ErrNotFound
	}
	return append([]crawler.Resource(nil), rows...), nil
}

// CreateAuditEntries stores entries in Pending state.
func (s *StateStore) CreateAuditEntries(_ context.Context, entries []crawler.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if _, exists := s.audit[e.ID]; exists {
			return errors.New("audit entry already exists")
		}
	}
	for _, e := range entries {
		e.VisitedAt, e.ParsedAt = nil, nil
		e.ErrorStep, e.ErrorMessage = crawler.StepNone, ""
		s.audit[e.ID] = e
		s.auditSeq = append(s.auditSeq, e.ID)
	}
	return nil
}

// RecordVisit records a download outcome on a Pending entry.
func (s *StateStore) RecordVisit(
	_ context.Context,
	id string,
	visitedAt time.Time,
	statusCode int,
	step crawler.ErrorStep,
	message string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.audit[id]
	if !ok {
		return crawler.ErrNotFound
	}
	if e.State() != crawler.AuditPending {
		return crawler.ErrInvalidTransition
	}
	e.VisitedAt = &visitedAt
	e.StatusCode = statusCode
	e.ErrorStep = step
	e.ErrorMessage = message
	s.audit[id] = e
	return nil
}

// RecordParse records a parse outcome on a Visited entry.
func (s *StateStore) RecordParse(
	_ context.Context,
	id string,
	parsedAt time.Time,
	step crawler.ErrorStep,
	message string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.audit[id]
	if !ok {
		return crawler.ErrNotFound
	}
	if e.State() != crawler.AuditVisited {
		return crawler.ErrInvalidTransition
	}
	e.ParsedAt = &parsedAt
	e.ErrorStep = step
	e.ErrorMessage = message
	s.audit[id] = e
	return nil
}

// GetAuditEntry returns an entry by ID.
func (s *StateStore) GetAuditEntry(_ context.Context, id string) (crawler.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.audit[id]
	if !ok {
		return crawler.AuditEntry{}, crawler.ErrNotFound
	}
	return e, nil
}

// ListAuditEntries returns the entries of a run in creation order.
func (s *StateStore) ListAuditEntries(_ context.Context, runID string) ([]crawler.AuditEntry, error) {
	return s.filterAudit(func(e crawler.AuditEntry) bool { return e.RunID == runID }), nil
}

// PendingDownloads returns the unvisited entries of a run.
func (s *StateStore) PendingDownloads(_ context.Context, runID string) ([]crawler.AuditEntry, error) {
	return s.filterAudit(func(e crawler.AuditEntry) bool {
		return e.RunID == runID && e.State() == crawler.AuditPending
	}), nil
}

// PendingParses returns visited, unparsed, error-free entries of any run of entity.
func (s *StateStore) PendingParses(_ context.Context, entity string) ([]crawler.AuditEntry, error) {
	s.mu.RLock()
	runs := make(map[string]string, len(s.runs))
	for id, run := range s.runs {
		runs[id] = run.Entity
	}
	s.mu.RUnlock()
	return s.filterAudit(func(e crawler.AuditEntry) bool {
		return runs[e.RunID] == entity && e.State() == crawler.AuditVisited
	}), nil
}

func (s *StateStore) filterAudit(keep func(crawler.AuditEntry) bool) []crawler.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.AuditEntry
	for _, id := range s.auditSeq {
		if e := s.audit[id]; keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// InsertOfferVersion demotes the Active version and appends offer as the next
// one, Active unless the offer carries a status.
func (s *StateStore) InsertOfferVersion(_ context.Context, offer crawler.Offer) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.offers[offer.ResourceID]
	for i := range versions {
		versions[i].Status = crawler.StatusHistorical
	}
	offer.Version = len(versions) + 1
	if offer.Status == 0 {
		offer.Status = crawler.StatusActive
	}
	s.offers[offer.ResourceID] = append(versions, offer)
	return offer.Version, nil
}

// OfferHistory returns every version of an offer, oldest first.
func (s *StateStore) OfferHistory(_ context.Context, resourceID string) ([]crawler.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.offers[resourceID]
	if len(versions) == 0 {
		return nil, crawler.ErrNotFound
	}
	return append([]crawler.Offer(nil), versions...), nil
}

// ActiveOffersWithoutAddress returns Active offers of entity with coordinates
// but no stored address for them.
func (s *StateStore) ActiveOffersWithoutAddress(_ context.Context, entity string) ([]crawler.Offer, error) {
	return s.activeOffers(func(o crawler.Offer) bool {
		if o.Entity != entity || o.Coordinates == nil {
			return false
		}
		_, ok := s.addresses[addressKey{o.ResourceID, o.Coordinates.Lat, o.Coordinates.Lon}]
		return !ok
	}), nil
}

// ActiveOffersSince returns Active offers created at or after since.
func (s *StateStore) ActiveOffersSince(_ context.Context, since time.Time) ([]crawler.Offer, error) {
	return s.activeOffers(func(o crawler.Offer) bool { return !o.CreatedAt.Before(since) }), nil
}

func (s *StateStore) activeOffers(keep func(crawler.Offer) bool) []crawler.Offer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Offer
	for _, versions := range s.offers {
		for _, o := range versions {
			if o.Status == crawler.StatusActive && keep(o) {
				out = append(out, o)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out
}

// InsertAddress stores addr unless one exists for its resource and coordinates.
func (s *StateStore) InsertAddress(_ context.Context, addr crawler.Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := addressKey{addr.ResourceID, addr.Coordinates.Lat, addr.Coordinates.Lon}
	if _, exists := s.addresses[key]; exists {
		return false, nil
	}
	s.addresses[key] = addr
	return true, nil
}

// Addresses returns every stored address.
func (s *StateStore) Addresses() []crawler.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Address, 0, len(s.addresses))
	for _, a := range s.addresses {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out
}

// ActiveOffersWithImages returns Active offers of entity that list images.
func (s *StateStore) ActiveOffersWithImages(_ context.Context, entity string) ([]crawler.Offer, error) {
	return s.activeOffers(func(o crawler.Offer) bool {
		return o.Entity == entity && len(o.Images) > 0
	}), nil
}

// ImageExists reports whether the image of a resource was already recorded.
func (s *StateStore) ImageExists(_ context.Context, resourceID, imageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.images[imageKey{resourceID, imageID}]
	return ok, nil
}

// InsertImage records img unless the resource already has that image.
func (s *StateStore) InsertImage(_ context.Context, img crawler.Image) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := imageKey{img.ResourceID, img.ImageID}
	if _, exists := s.images[key]; exists {
		return false, nil
	}
	s.images[key] = img
	return true, nil
}

// Images returns every recorded image ordered by resource and image id.
func (s *StateStore) Images() []crawler.Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Image, 0, len(s.images))
	for _, img := range s.images {
		out = append(out, img)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ResourceID != out[j].ResourceID {
			return out[i].ResourceID < out[j].ResourceID
		}
		return out[i].ImageID < out[j].ImageID
	})
	return out
}
