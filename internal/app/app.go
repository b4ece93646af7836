// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-tracker/internal/api"
	"github.com/JakeFAU/listing-tracker/internal/audit"
	"github.com/JakeFAU/listing-tracker/internal/clock/system"
	"github.com/JakeFAU/listing-tracker/internal/config"
	"github.com/JakeFAU/listing-tracker/internal/crawler"
	"github.com/JakeFAU/listing-tracker/internal/extract"
	collyfetcher "github.com/JakeFAU/listing-tracker/internal/fetcher/colly"
	"github.com/JakeFAU/listing-tracker/internal/geocode"
	"github.com/JakeFAU/listing-tracker/internal/images"
	"github.com/JakeFAU/listing-tracker/internal/hash/sha256"
	"github.com/JakeFAU/listing-tracker/internal/id/uuid"
	"github.com/JakeFAU/listing-tracker/internal/ledger"
	"github.com/JakeFAU/listing-tracker/internal/listing"
	"github.com/JakeFAU/listing-tracker/internal/notify"
	"github.com/JakeFAU/listing-tracker/internal/orchestrator"
	"github.com/JakeFAU/listing-tracker/internal/policy/ratelimit"
	"github.com/JakeFAU/listing-tracker/internal/storage/gcs"
	"github.com/JakeFAU/listing-tracker/internal/storage/local"
	"github.com/JakeFAU/listing-tracker/internal/storage/memory"
	"github.com/JakeFAU/listing-tracker/internal/storage/postgres"
)

// ErrPruneUnsupported is returned by Prune for backends without retention.
var ErrPruneUnsupported = errors.New("artifact retention is only supported by the local backend")

// App holds all the shared, long-lived services for the application.
// It is built once per command from an explicit Config and closed when the
// command finishes.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store     crawler.StateStore
	pg        *postgres.Store
	artifacts crawler.ArtifactStore
	local     *local.BlobStore
	gcsClient *gcsstorage.Client
	fetcher   crawler.Fetcher
	geocoder  crawler.Geocoder
	clock     crawler.Clock
	ids       crawler.IDGenerator

	ledger *ledger.Ledger
	trail  *audit.Trail
	orch   *orchestrator.Orchestrator
	images *images.Downloader
}

// Option overrides a collaborator, mainly for tests.
type Option func(*App)

// WithFetcher replaces the Colly fetcher.
func WithFetcher(f crawler.Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithStateStore replaces the configured state store.
func WithStateStore(s crawler.StateStore) Option {
	return func(a *App) { a.store = s }
}

// WithGeocoder replaces the Google Maps geocoder.
func WithGeocoder(g crawler.Geocoder) Option {
	return func(a *App) { a.geocoder = g }
}

// WithClock replaces the system clock.
func WithClock(c crawler.Clock) Option {
	return func(a *App) { a.clock = c }
}

// New builds every service named by cfg. It fails fast when a backend cannot
// be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New(), ids: uuid.New()}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initArtifacts(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initOrchestrator(); err != nil {
		a.Close()
		return nil, err
	}
	a.ledger = ledger.New(a.store, a.ids, a.clock, logger.Named("ledger"))
	a.trail = audit.New(a.store, a.ids, a.clock, logger.Named("audit"))
	logger.Info("application services initialized",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("postgres", a.pg != nil),
		zap.Bool("geocode", a.geocoder != nil),
	)
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("db.dsn is empty; using the in-memory state store")
		a.store = memory.NewStateStore()
		return nil
	}
	pg, err := postgres.New(ctx, postgres.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	a.pg = pg
	a.store = pg
	return nil
}

func (a *App) initArtifacts(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.BaseDir, PathTemplate: a.cfg.Storage.PathTemplate})
		if err != nil {
			return fmt.Errorf("init local artifacts: %w", err)
		}
		a.local = store
		a.artifacts = store
	case config.BackendGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.gcsClient = client
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket, PathTemplate: a.cfg.Storage.PathTemplate})
		if err != nil {
			return fmt.Errorf("init gcs artifacts: %w", err)
		}
		a.artifacts = store
	case config.BackendMemory:
		a.artifacts = memory.NewArtifactStore()
	default:
		return fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
	return nil
}

func (a *App) initOrchestrator() error {
	set, err := extract.LoadSet(a.cfg.Crawler.HierarchiesFile)
	if err != nil {
		return fmt.Errorf("load hierarchies: %w", err)
	}
	parser := listing.NewParser(set, listing.Config{
		Domain:          a.cfg.Site.Domain,
		OfferLinkPrefix: a.cfg.Site.OfferLinkPrefix,
		PageParam:       a.cfg.Site.PageParam,
	})
	if a.fetcher == nil {
		a.fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:     a.cfg.Crawler.UserAgent,
			RespectRobots: a.cfg.Crawler.RespectRobots,
			Timeout:       a.cfg.Crawler.RequestTimeout,
			Headers:       a.cfg.Site.HTTPHeader(),
		})
	}
	if a.geocoder == nil && a.cfg.Geocode.Enabled {
		g, err := geocode.New(geocode.Config{APIKey: a.cfg.Geocode.APIKey})
		if err != nil {
			return fmt.Errorf("init geocoder: %w", err)
		}
		a.geocoder = g
	}
	c := a.cfg.Crawler
	pacer := ratelimit.New(ratelimit.Config{
		MaxRPS: c.MaxRPS,
		Delays: map[ratelimit.Class]ratelimit.Delay{
			ratelimit.ClassListing: {Min: c.ListingDelayMin, Max: c.ListingDelayMax},
			ratelimit.ClassDetail:  {Min: c.DetailDelayMin, Max: c.DetailDelayMax},
			ratelimit.ClassGeocode: {Min: a.cfg.Geocode.Delay, Max: a.cfg.Geocode.Delay},
			ratelimit.ClassImage:   {Min: c.ImageDelay, Max: c.ImageDelay},
		},
	})
	orch, err := orchestrator.New(orchestrator.Config{
		StartURLs:       a.cfg.Site.StartURLs,
		Concurrency:     c.Concurrency,
		ExpireOnAbsence: c.ExpireOnAbsence,
	}, orchestrator.Deps{
		Store:     a.store,
		Artifacts: a.artifacts,
		Fetcher:   a.fetcher,
		Parser:    parser,
		Pacer:     pacer,
		Geocoder:  a.geocoder,
		Hasher:    sha256.New(),
		Clock:     a.clock,
		IDs:       a.ids,
		Logger:    a.logger.Named("orchestrator"),
	})
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}
	a.orch = orch
	downloader, err := images.New(images.Deps{
		Store:     a.store,
		Artifacts: a.artifacts,
		Fetcher:   a.fetcher,
		Pacer:     pacer,
		Hasher:    sha256.New(),
		Clock:     a.clock,
		Logger:    a.logger.Named("images"),
	})
	if err != nil {
		return fmt.Errorf("init image downloader: %w", err)
	}
	a.images = downloader
	return nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Store returns the state store.
func (a *App) Store() crawler.StateStore {
	return a.store
}

// Orchestrator returns the run orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}

// Images returns the offer image downloader.
func (a *App) Images() *images.Downloader {
	return a.images
}

// Server builds the read-only HTTP API over the App's stores.
func (a *App) Server() *api.Server {
	return api.NewServer(api.Deps{
		Runs:   a.ledger,
		Audits: a.trail,
		Offers: a.store,
		Ready:  a.Ping,
	}, a.logger.Named("api"))
}

// Ping checks the state store when it is remote.
func (a *App) Ping(ctx context.Context) error {
	if a.pg == nil {
		return nil
	}
	return a.pg.Ping(ctx)
}

// Watchdog builds the notification watchdog for the configured backend. The
// returned close function releases the notifier's resources.
func (a *App) Watchdog(ctx context.Context) (*notify.Watchdog, func(), error) {
	n := a.cfg.Notify
	var (
		notifier crawler.Notifier
		closeFn  = func() {}
	)
	switch n.Backend {
	case config.BackendSMS:
		sms, err := notify.NewSMS(notify.SMSConfig{
			URL:      n.SMS.URL,
			Key:      n.SMS.Key,
			Password: n.SMS.Password,
			From:     n.SMS.From,
			Timeout:  n.SMS.Timeout,
		}, nil)
		if err != nil {
			return nil, nil, err
		}
		notifier = sms
	case config.BackendPubSub:
		topic, err := notify.OpenTopic(ctx, n.PubSub.ProjectID, n.PubSub.TopicID)
		if err != nil {
			return nil, nil, err
		}
		closeFn = func() {
			if err := topic.Close(); err != nil {
				a.logger.Warn("close pubsub topic", zap.Error(err))
			}
		}
		ps, err := notify.NewPubSub(topic)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		notifier = ps
	default:
		return nil, nil, fmt.Errorf("notify.backend %q cannot send notifications", n.Backend)
	}
	w, err := notify.NewWatchdog(a.store, notifier, n.Backend, n.Recipients, notify.Filter{
		Entities: n.Filter.Entities,
		MaxPrice: n.Filter.MaxPrice,
		MinRooms: n.Filter.MinRooms,
		MinArea:  n.Filter.MinArea,
	}, a.clock, a.logger.Named("watchdog"))
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return w, closeFn, nil
}

// Prune keeps the newest keep artifacts per resource in the local store.
func (a *App) Prune(ctx context.Context, keep int) (int, error) {
	if a.local == nil {
		return 0, ErrPruneUnsupported
	}
	return a.local.Prune(ctx, keep)
}

// Close releases every backend connection.
func (a *App) Close() {
	if a.pg != nil {
		a.pg.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("error closing gcs client", zap.Error(err))
		}
	}
}
