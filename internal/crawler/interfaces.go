package crawler

import (
	"context"
	"time"
)

// RunStore persists run ledger rows.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	// FinishRun closes an open run. It returns ErrRunClosed when the run was
	// already closed and ErrNotFound when it does not exist.
	FinishRun(ctx context.Context, runID string, finishedAt time.Time, success bool) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context, entity string, limit int) ([]Run, error)
}

// ResourceStore persists the resource registry.
type ResourceStore interface {
	ActiveResources(ctx context.Context, entity string) ([]Resource, error)
	// InsertIfNotActive inserts res as Active unless an Active row already
	// exists for res.ID. revived reports that a Historical row existed.
	InsertIfNotActive(ctx context.Context, res Resource) (inserted bool, revived bool, err error)
	ExpireResource(ctx context.Context, resourceID, runID string) error
	TouchResource(ctx context.Context, resourceID, runID string) error
	ResourceHistory(ctx context.Context, resourceID string) ([]Resource, error)
}

// AuditStore persists audit entries. Record methods are conditional updates
// that return ErrInvalidTransition when the entry is not in the expected state.
type AuditStore interface {
	CreateAuditEntries(ctx context.Context, entries []AuditEntry) error
	RecordVisit(ctx context.Context, id string, visitedAt time.Time, statusCode int, step ErrorStep, message string) error
	RecordParse(ctx context.Context, id string, parsedAt time.Time, step ErrorStep, message string) error
	GetAuditEntry(ctx context.Context, id string) (AuditEntry, error)
	ListAuditEntries(ctx context.Context, runID string) ([]AuditEntry, error)
	PendingDownloads(ctx context.Context, runID string) ([]AuditEntry, error)
	PendingParses(ctx context.Context, entity string) ([]AuditEntry, error)
}

// OfferStore persists versioned offers.
type OfferStore interface {
	// InsertOfferVersion demotes the current Active version (if any) and
	// inserts offer as the next Active version, atomically.
	InsertOfferVersion(ctx context.Context, offer Offer) (int, error)
	OfferHistory(ctx context.Context, resourceID string) ([]Offer, error)
	ActiveOffersWithoutAddress(ctx context.Context, entity string) ([]Offer, error)
	ActiveOffersSince(ctx context.Context, since time.Time) ([]Offer, error)
}

// AddressStore persists derived addresses keyed by resource and coordinates.
type AddressStore interface {
	InsertAddress(ctx context.Context, addr Address) (bool, error)
}

// ImageStore records downloaded offer images, one row per resource and image.
type ImageStore interface {
	ActiveOffersWithImages(ctx context.Context, entity string) ([]Offer, error)
	ImageExists(ctx context.Context, resourceID, imageID string) (bool, error)
	// InsertImage stores img unless a row exists for its resource and image id.
	InsertImage(ctx context.Context, img Image) (bool, error)
}

// StateStore is the full persistence surface used by the orchestrator.
type StateStore interface {
	RunStore
	ResourceStore
	AuditStore
	OfferStore
	AddressStore
	ImageStore
}

// ArtifactStore keeps raw fetched pages.
type ArtifactStore interface {
	// Path returns the deterministic artifact path for a resource and run.
	Path(resourceID string, runStartedAt time.Time) string
	Write(ctx context.Context, resourceID string, runStartedAt time.Time, body []byte) (string, error)
	// Put stores body under key verbatim and returns the key.
	Put(ctx context.Context, key string, body []byte) (string, error)
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Geocoder resolves coordinates into a street address.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, coords Coordinates) (Address, error)
}

// Notifier delivers a message to a recipient and returns the provider message ID.
type Notifier interface {
	Send(ctx context.Context, message, recipient string) (string, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and audit IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
