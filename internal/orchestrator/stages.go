package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/listing-tracker/internal/audit"
	"github.com/JakeFAU/listing-tracker/internal/crawler"
	"github.com/JakeFAU/listing-tracker/internal/logging"
	"github.com/JakeFAU/listing-tracker/internal/metrics"
	"github.com/JakeFAU/listing-tracker/internal/normalize"
	"github.com/JakeFAU/listing-tracker/internal/policy/ratelimit"
)

// discover walks every listing page and returns the offer links in page
// order. Failing to read the first page or its pagination aborts the run;
// later pages that fail are skipped.
func (o *Orchestrator) discover(ctx context.Context, logger *zap.Logger, startURL string) ([]string, int, error) {
	first, err := o.fetchListing(ctx, startURL)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch first listing page: %w", err)
	}
	pagination, err := o.parser.Pagination(first)
	if err != nil {
		return nil, 1, fmt.Errorf("read pagination: %w", err)
	}
	links, err := o.parser.OfferLinks(first)
	if err != nil {
		return nil, 1, fmt.Errorf("read offer links: %w", err)
	}
	pages := 1
	for n := 2; n <= pagination.TotalPages; n++ {
		pageURL := o.parser.PageURL(startURL, n)
		body, err := o.fetchListing(ctx, pageURL)
		if err == nil {
			var more []string
			if more, err = o.parser.OfferLinks(body); err == nil {
				links = append(links, more...)
				pages++
				continue
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, pages, ctxErr
		}
		logger.Warn("skipping listing page", zap.String("url", pageURL), zap.Int("page", n), zap.Error(err))
	}
	logger.Info("listing discovered",
		zap.Int("pages", pages),
		zap.Int("total_pages", pagination.TotalPages),
		zap.Int("links", len(links)),
	)
	return links, pages, nil
}

func (o *Orchestrator) fetchListing(ctx context.Context, url string) ([]byte, error) {
	if err := o.pacer.Wait(ctx, ratelimit.ClassListing); err != nil {
		return nil, err
	}
	resp, err := o.fetcher.Fetch(ctx, crawler.FetchRequest{URL: url})
	if err != nil {
		metrics.ObserveFetch(url, string(ratelimit.ClassListing), 0, 0)
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	metrics.ObserveFetch(url, string(ratelimit.ClassListing), resp.StatusCode, len(resp.Body))
	if err := crawler.ClassifyStatus(url, resp.StatusCode); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// downloadStage fetches every pending resource of the run and records the
// outcome on its audit entry.
func (o *Orchestrator) downloadStage(
	ctx context.Context,
	logger *zap.Logger,
	run crawler.Run,
	urls map[string]string,
	report *Report,
) error {
	entries, err := o.trail.PendingDownloads(ctx, run.ID)
	if err != nil {
		return err
	}
	c := &counter{report: report}
	return forEach(ctx, o.cfg.Concurrency, entries, func(ctx context.Context, entry crawler.AuditEntry) error {
		return o.downloadOne(ctx, logger, run, urls[entry.ResourceID], entry, c)
	})
}

func (o *Orchestrator) downloadOne(
	ctx context.Context,
	logger *zap.Logger,
	run crawler.Run,
	url string,
	entry crawler.AuditEntry,
	c *counter,
) error {
	logger = logging.ForEntry(logger, entry.ResourceID, entry.ID)
	if err := o.pacer.Wait(ctx, ratelimit.ClassDetail); err != nil {
		return err
	}
	outcome := audit.DownloadOutcome{}
	resp, err := o.fetcher.Fetch(ctx, crawler.FetchRequest{URL: url})
	outcome.VisitedAt = o.clock.Now()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		metrics.ObserveFetch(url, string(ratelimit.ClassDetail), 0, 0)
		logger.Warn("fetch failed", zap.String("url", url), zap.Error(err))
		outcome.Step, outcome.Message = crawler.StepDownload, err.Error()
		return o.recordDownload(ctx, logger, entry, outcome, c)
	}
	metrics.ObserveFetch(url, string(ratelimit.ClassDetail), resp.StatusCode, len(resp.Body))
	outcome.StatusCode = resp.StatusCode

	var clientErr *crawler.FetchClientError
	var serverErr *crawler.FetchServerError
	switch classified := crawler.ClassifyStatus(url, resp.StatusCode); {
	case errors.As(classified, &clientErr):
		if err := o.registry.Expire(ctx, entry.ResourceID, run.ID); err != nil {
			logger.Error("failed to expire resource", zap.Error(err))
		}
		outcome.Step, outcome.Message = crawler.StepDownload, clientErr.Error()
		return o.recordDownload(ctx, logger, entry, outcome, c)
	case errors.As(classified, &serverErr):
		// Transient: the resource stays Active and the page is kept for parsing.
		logger.Warn("server error", zap.String("url", url), zap.Int("status", resp.StatusCode))
	default:
		if err := o.registry.Touch(ctx, entry.ResourceID, run.ID); err != nil {
			logger.Error("failed to touch resource", zap.Error(err))
		}
	}

	if _, err := o.artifacts.Write(ctx, entry.ResourceID, run.StartedAt, resp.Body); err != nil {
		logger.Error("failed to store artifact", zap.Error(err))
		outcome.Step, outcome.Message = crawler.StepStore, err.Error()
	}
	return o.recordDownload(ctx, logger, entry, outcome, c)
}

func (o *Orchestrator) recordDownload(
	ctx context.Context,
	logger *zap.Logger,
	entry crawler.AuditEntry,
	outcome audit.DownloadOutcome,
	c *counter,
) error {
	if err := o.trail.RecordDownloadOutcome(ctx, entry.ID, outcome); err != nil {
		logger.Error("failed to record download outcome", zap.Error(err))
		return nil
	}
	state := crawler.AuditVisited
	if outcome.Step != crawler.StepNone {
		state = crawler.AuditDownloadFailed
	}
	metrics.ObserveAuditOutcome(string(state))
	c.add(func(r *Report) {
		if state == crawler.AuditVisited {
			r.Visited++
		} else {
			r.DownloadFailed++
		}
	})
	return nil
}

// parseStage parses every visited, unparsed entry of the entity, including
// entries left behind by interrupted runs.
func (o *Orchestrator) parseStage(ctx context.Context, logger *zap.Logger, entity string, report *Report) error {
	entries, err := o.trail.PendingParses(ctx, entity)
	if err != nil {
		return err
	}
	c := &counter{report: report}
	return forEach(ctx, o.cfg.Concurrency, entries, func(ctx context.Context, entry crawler.AuditEntry) error {
		o.parseOne(ctx, logger, entity, entry, c)
		return ctx.Err()
	})
}

func (o *Orchestrator) parseOne(
	ctx context.Context,
	logger *zap.Logger,
	entity string,
	entry crawler.AuditEntry,
	c *counter,
) {
	logger = logging.ForEntry(logger, entry.ResourceID, entry.ID)
	step, message := o.parseAndStore(ctx, logger, entity, entry)
	outcome := audit.ParseOutcome{ParsedAt: o.clock.Now(), Step: step, Message: message}
	if err := o.trail.RecordParseOutcome(ctx, entry.ID, outcome); err != nil {
		logger.Error("failed to record parse outcome", zap.Error(err))
		return
	}
	state := crawler.AuditParsed
	if step != crawler.StepNone {
		state = crawler.AuditParseFailed
		logger.Warn("parse failed", zap.String("step", string(step)), zap.String("message", message))
	}
	metrics.ObserveAuditOutcome(string(state))
	c.add(func(r *Report) {
		if state == crawler.AuditParsed {
			r.Parsed++
		} else {
			r.ParseFailed++
		}
	})
}

// parseAndStore returns the error step and message to record, both empty on
// success.
func (o *Orchestrator) parseAndStore(
	ctx context.Context,
	logger *zap.Logger,
	entity string,
	entry crawler.AuditEntry,
) (crawler.ErrorStep, string) {
	exists, err := o.artifacts.Exists(ctx, entry.ArtifactPath)
	if err != nil {
		return crawler.StepParse, err.Error()
	}
	if !exists {
		return crawler.StepParse, (&crawler.ArtifactMissingError{Path: entry.ArtifactPath}).Error()
	}
	body, err := o.artifacts.Read(ctx, entry.ArtifactPath)
	if err != nil {
		return crawler.StepParse, err.Error()
	}
	fields, err := o.parser.Offer(body)
	if err != nil {
		return crawler.StepParse, err.Error()
	}
	statusCode := entry.StatusCode
	if statusCode == 0 {
		statusCode = http.StatusOK
	}
	offer, coercions := normalize.Normalize(fields, statusCode)
	for _, ce := range coercions {
		logger.Warn("field coercion failed", zap.String("field", ce.Field), zap.Error(ce.Err))
	}
	offer.ResourceID = entry.ResourceID
	offer.Entity = entity
	offer.RunID = entry.RunID
	offer.CreatedAt = o.clock.Now()
	version, err := o.store.InsertOfferVersion(ctx, offer)
	if err != nil {
		return crawler.StepStore, (&crawler.PersistenceError{Op: "insert offer " + entry.ResourceID, Err: err}).Error()
	}
	metrics.ObserveOfferVersion(entity)
	logger.Debug("offer version stored", zap.Int("version", version))
	return crawler.StepNone, ""
}

// GeocodeResult counts the outcome of one geocoding pass.
type GeocodeResult struct {
	// Stored counts addresses resolved and stored.
	Stored int `json:"stored"`
	// Unresolved counts empty addresses stored for coordinates without a
	// street address, so they are not looked up again.
	Unresolved int `json:"unresolved"`
	// Failed counts offers skipped after a lookup or store error; they are
	// retried on the next pass.
	Failed int `json:"failed"`
}

// Geocode derives addresses for the entity's Active offers that have
// coordinates but no address yet. Each (resource, coordinates) pair is looked
// up once: a lookup without a street address stores an empty address. Other
// per-offer failures are logged and skipped.
func (o *Orchestrator) Geocode(ctx context.Context, entity string) (GeocodeResult, error) {
	var res GeocodeResult
	if o.geocoder == nil {
		return res, errors.New("geocoder is not configured")
	}
	offers, err := o.store.ActiveOffersWithoutAddress(ctx, entity)
	if err != nil {
		return res, fmt.Errorf("list offers without address: %w", err)
	}
	for _, offer := range offers {
		logger := logging.ForResource(o.logger, offer.ResourceID).With(zap.Stringer("coordinates", offer.Coordinates))
		if err := o.pacer.Wait(ctx, ratelimit.ClassGeocode); err != nil {
			return res, err
		}
		unresolved := false
		addr, err := o.geocoder.ReverseGeocode(ctx, *offer.Coordinates)
		switch {
		case err == nil:
		case errors.Is(err, crawler.ErrNotFound):
			metrics.ObserveGeocode("no_address")
			logger.Info("no street address for coordinates", zap.Error(err))
			addr = crawler.Address{MapsURL: offer.Coordinates.MapsURL()}
			unresolved = true
		default:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			metrics.ObserveGeocode("error")
			logger.Warn("reverse geocoding failed", zap.Error(err))
			res.Failed++
			continue
		}
		addr.ResourceID = offer.ResourceID
		addr.Coordinates = *offer.Coordinates
		addr.CreatedAt = o.clock.Now()
		inserted, err := o.store.InsertAddress(ctx, addr)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			logger.Error("failed to store address",
				zap.Error(&crawler.PersistenceError{Op: "insert address " + offer.ResourceID, Err: err}))
			res.Failed++
			continue
		}
		if !unresolved {
			metrics.ObserveGeocode("ok")
		}
		switch {
		case !inserted:
		case unresolved:
			res.Unresolved++
		default:
			res.Stored++
		}
	}
	return res, nil
}

// forEach runs fn over items on a bounded pool. fn errors abort the stage; a
// panicking fn is reported as an error.
func forEach[T any](ctx context.Context, limit int, items []T, fn func(context.Context, T) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, item := range items {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("worker panicked: %v", r)
				}
			}()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			return fn(gctx, item)
		})
	}
	return g.Wait()
}

// counter guards Report updates made by concurrent workers.
type counter struct {
	mu     sync.Mutex
	report *Report
}

func (c *counter) add(f func(*Report)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f(c.report)
}
