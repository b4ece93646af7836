// Package orchestrator sequences one crawl run: discovery, reconciliation,
// download, parse and geocoding.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-tracker/internal/audit"
	"github.com/JakeFAU/listing-tracker/internal/crawler"
	"github.com/JakeFAU/listing-tracker/internal/logging"
	"github.com/JakeFAU/listing-tracker/internal/ledger"
	"github.com/JakeFAU/listing-tracker/internal/listing"
	"github.com/JakeFAU/listing-tracker/internal/metrics"
	"github.com/JakeFAU/listing-tracker/internal/policy/ratelimit"
	"github.com/JakeFAU/listing-tracker/internal/registry"
)

// hashIDLength is the length of identities derived from a URL digest.
const hashIDLength = 12

// Pacer gates outbound requests.
type Pacer interface {
	Wait(ctx context.Context, class ratelimit.Class) error
}

// Config controls a run.
type Config struct {
	// StartURLs maps an entity to the first page of its listing.
	StartURLs       map[string]string
	Concurrency     int
	ExpireOnAbsence bool
}

// Deps are the collaborators of an Orchestrator. Geocoder may be nil.
type Deps struct {
	Store     crawler.StateStore
	Artifacts crawler.ArtifactStore
	Fetcher   crawler.Fetcher
	Parser    *listing.Parser
	Pacer     Pacer
	Geocoder  crawler.Geocoder
	Hasher    crawler.Hasher
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
	Logger    *zap.Logger
}

// Report summarizes a run.
type Report struct {
	RunID          string `json:"run_id"`
	Entity         string `json:"entity"`
	Pages          int    `json:"pages"`
	Observed       int    `json:"observed"`
	New            int    `json:"new"`
	Revived        int    `json:"revived"`
	Known          int    `json:"known"`
	Untracked      int    `json:"untracked"`
	Absent         int    `json:"absent"`
	Expired        int    `json:"expired"`
	Visited        int    `json:"visited"`
	DownloadFailed int    `json:"download_failed"`
	Parsed         int    `json:"parsed"`
	ParseFailed    int    `json:"parse_failed"`
	Addresses      int    `json:"addresses"`
	Unresolved     int    `json:"unresolved_addresses"`
	GeocodeFailed  int    `json:"geocode_failed"`
	Success        bool   `json:"success"`
}

// Orchestrator runs the crawl pipeline.
type Orchestrator struct {
	cfg       Config
	store     crawler.StateStore
	artifacts crawler.ArtifactStore
	fetcher   crawler.Fetcher
	parser    *listing.Parser
	pacer     Pacer
	geocoder  crawler.Geocoder
	hasher    crawler.Hasher
	clock     crawler.Clock
	registry  *registry.Registry
	ledger    *ledger.Ledger
	trail     *audit.Trail
	logger    *zap.Logger
}

// New wires an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("state store is required")
	case deps.Artifacts == nil:
		return nil, errors.New("artifact store is required")
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Parser == nil:
		return nil, errors.New("parser is required")
	case deps.Hasher == nil || deps.Clock == nil || deps.IDs == nil:
		return nil, errors.New("hasher, clock and id generator are required")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if deps.Pacer == nil {
		deps.Pacer = ratelimit.New(ratelimit.Config{})
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Orchestrator{
		cfg:       cfg,
		store:     deps.Store,
		artifacts: deps.Artifacts,
		fetcher:   deps.Fetcher,
		parser:    deps.Parser,
		pacer:     deps.Pacer,
		geocoder:  deps.Geocoder,
		hasher:    deps.Hasher,
		clock:     deps.Clock,
		registry:  registry.New(deps.Store, deps.Clock, registry.Config{ExpireOnAbsence: cfg.ExpireOnAbsence}, logger),
		ledger:    ledger.New(deps.Store, deps.IDs, deps.Clock, logger),
		trail:     audit.New(deps.Store, deps.IDs, deps.Clock, logger),
		logger:    logger,
	}, nil
}

// Run executes one run for entity. The run is closed exactly once; it
// succeeds only when Run returns a nil error. A panic anywhere in the
// pipeline closes the run as failed and is returned as an error.
func (o *Orchestrator) Run(ctx context.Context, entity string) (report Report, err error) {
	startURL, ok := o.cfg.StartURLs[entity]
	if !ok {
		return Report{}, fmt.Errorf("no start url configured for entity %q", entity)
	}
	run, err := o.ledger.Open(ctx, entity)
	if err != nil {
		return Report{}, err
	}
	report = Report{RunID: run.ID, Entity: entity}
	logger := logging.ForRun(o.logger, run.ID, entity)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("run panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("run %s panicked: %v", run.ID, r)
		}
		report.Success = err == nil
		if closeErr := o.ledger.Close(context.WithoutCancel(ctx), run.ID, report.Success); closeErr != nil {
			logger.Error("failed to close run", zap.Error(closeErr))
			err = errors.Join(err, closeErr)
			report.Success = false
		}
		metrics.ObserveRun(entity, report.Success)
	}()

	links, pages, err := o.discover(ctx, logger, startURL)
	report.Pages = pages
	if err != nil {
		return report, err
	}

	observed := o.observations(logger, links)
	report.Observed = len(observed)
	prior, err := o.registry.Active(ctx, entity)
	if err != nil {
		return report, err
	}
	rec, err := o.registry.Reconcile(ctx, observed, run.ID, entity)
	if err != nil {
		return report, err
	}
	report.New, report.Revived, report.Known = len(rec.New), len(rec.Revived), len(rec.Known)
	report.Untracked = len(rec.Failed)
	untracked := make(map[string]struct{}, len(rec.Failed))
	for _, obs := range rec.Failed {
		untracked[obs.ResourceID] = struct{}{}
	}

	ids := make([]string, 0, len(observed))
	for _, obs := range observed {
		ids = append(ids, obs.ResourceID)
	}
	absence, err := o.registry.MarkAbsentAsHistorical(ctx, prior, ids, run.ID)
	if err != nil {
		return report, err
	}
	report.Absent, report.Expired = absence.Count(), absence.Expired

	urls := make(map[string]string, len(observed)+absence.Count())
	targets := make([]audit.Target, 0, len(observed)+absence.Count())
	for _, obs := range observed {
		if _, skip := untracked[obs.ResourceID]; skip {
			continue
		}
		urls[obs.ResourceID] = obs.URL
		targets = append(targets, audit.Target{
			ResourceID:   obs.ResourceID,
			ArtifactPath: o.artifacts.Path(obs.ResourceID, run.StartedAt),
		})
	}
	if !o.cfg.ExpireOnAbsence {
		// Absent resources are re-fetched; only a 4xx confirms expiry.
		for _, res := range absence.Candidates {
			urls[res.ID] = res.URL
			targets = append(targets, audit.Target{
				ResourceID:   res.ID,
				ArtifactPath: o.artifacts.Path(res.ID, run.StartedAt),
			})
		}
	}
	if _, err := o.trail.CreateEntries(ctx, run.ID, targets); err != nil {
		return report, err
	}

	if err := o.downloadStage(ctx, logger, run, urls, &report); err != nil {
		return report, err
	}
	if err := o.parseStage(ctx, logger, entity, &report); err != nil {
		return report, err
	}
	if o.geocoder != nil {
		geo, err := o.Geocode(ctx, entity)
		report.Addresses, report.Unresolved, report.GeocodeFailed = geo.Stored, geo.Unresolved, geo.Failed
		if err != nil {
			return report, err
		}
	}

	logger.Info("run finished",
		zap.Int("observed", report.Observed),
		zap.Int("new", report.New),
		zap.Int("revived", report.Revived),
		zap.Int("absent", report.Absent),
		zap.Int("parsed", report.Parsed),
		zap.Int("parse_failed", report.ParseFailed),
		zap.Int("download_failed", report.DownloadFailed),
	)
	return report, nil
}

// observations derives resource identities from offer URLs, keeping the
// first occurrence of each.
func (o *Orchestrator) observations(logger *zap.Logger, links []string) []crawler.Observation {
	seen := make(map[string]struct{}, len(links))
	out := make([]crawler.Observation, 0, len(links))
	for _, link := range links {
		id, err := o.resourceID(link)
		if err != nil {
			logger.Warn("skipping offer link", zap.String("url", link), zap.Error(err))
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, crawler.Observation{ResourceID: id, URL: link})
	}
	return out
}

// resourceID derives the identity of an offer URL: its short id, or a digest
// prefix when the URL carries none.
func (o *Orchestrator) resourceID(link string) (string, error) {
	if id := crawler.ShortID(link); id != "" {
		return id, nil
	}
	sum, err := o.hasher.Hash([]byte(link))
	if err != nil {
		return "", fmt.Errorf("hash offer url: %w", err)
	}
	if len(sum) < hashIDLength {
		return "", fmt.Errorf("hash offer url: digest %q shorter than %d", sum, hashIDLength)
	}
	return sum[:hashIDLength], nil
}
