// Package registry owns resource identity and Active/Historical status.
package registry

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-tracker/internal/crawler"
	"github.com/JakeFAU/listing-tracker/internal/logging"
)

// Config controls registry behavior.
type Config struct {
	// ExpireOnAbsence expires resources missing from the listing immediately
	// instead of waiting for a 4xx re-fetch.
	ExpireOnAbsence bool
}

// Registry reconciles observed resources with the persisted registry.
type Registry struct {
	store  crawler.ResourceStore
	clock  crawler.Clock
	cfg    Config
	logger *zap.Logger
}

// Reconciliation splits the observed resources of a run. Failed holds the
// observations whose registry write failed; they are not tracked this run.
type Reconciliation struct {
	New     []crawler.Observation
	Revived []crawler.Observation
	Known   []crawler.Observation
	Failed  []crawler.Observation
}

// Absence lists resources Active before the run but missing from its listing.
type Absence struct {
	Candidates []crawler.Resource
	Expired    int
}

// Count returns the number of absence candidates.
func (a Absence) Count() int {
	return len(a.Candidates)
}

// New constructs a Registry.
func New(store crawler.ResourceStore, clock crawler.Clock, cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: store, clock: clock, cfg: cfg, logger: logger}
}

// Active returns the Active resources of an entity.
func (r *Registry) Active(ctx context.Context, entity string) ([]crawler.Resource, error) {
	res, err := r.store.ActiveResources(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("list active resources: %w", err)
	}
	return res, nil
}

// Reconcile inserts an Active row for every observed resource that is not
// already Active. Repeated observations of one resource are collapsed. A
// failed write is logged and recorded in Failed; the rest of the batch is
// still reconciled. Only cancellation aborts the batch.
func (r *Registry) Reconcile(
	ctx context.Context,
	observed []crawler.Observation,
	runID string,
	entity string,
) (Reconciliation, error) {
	var out Reconciliation
	seen := make(map[string]struct{}, len(observed))
	for _, obs := range observed {
		if _, dup := seen[obs.ResourceID]; dup {
			continue
		}
		seen[obs.ResourceID] = struct{}{}

		inserted, revived, err := r.store.InsertIfNotActive(ctx, crawler.Resource{
			ID:           obs.ResourceID,
			URL:          obs.URL,
			Entity:       entity,
			Status:       crawler.StatusActive,
			CreatedRunID: runID,
			CreatedAt:    r.clock.Now(),
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Reconciliation{}, ctxErr
			}
			logging.ForResource(r.logger, obs.ResourceID).Error("failed to reconcile resource",
				zap.String(logging.KeyRunID, runID),
				zap.Error(&crawler.PersistenceError{Op: "insert resource " + obs.ResourceID, Err: err}),
			)
			out.Failed = append(out.Failed, obs)
			continue
		}
		switch {
		case inserted && revived:
			logging.ForResource(r.logger, obs.ResourceID).Info("resource revived", zap.String(logging.KeyRunID, runID))
			out.Revived = append(out.Revived, obs)
		case inserted:
			logging.ForResource(r.logger, obs.ResourceID).Debug("resource discovered", zap.String(logging.KeyRunID, runID))
			out.New = append(out.New, obs)
		default:
			out.Known = append(out.Known, obs)
		}
	}
	return out, nil
}

// MarkAbsentAsHistorical returns the prior Active resources missing from the
// observed set. They are candidates for re-fetch; only when ExpireOnAbsence is
// set are they expired here.
func (r *Registry) MarkAbsentAsHistorical(
	ctx context.Context,
	priorActive []crawler.Resource,
	observed []string,
	runID string,
) (Absence, error) {
	current := make(map[string]struct{}, len(observed))
	for _, id := range observed {
		current[id] = struct{}{}
	}
	var out Absence
	for _, res := range priorActive {
		if _, ok := current[res.ID]; ok {
			continue
		}
		out.Candidates = append(out.Candidates, res)
		if !r.cfg.ExpireOnAbsence {
			continue
		}
		if err := r.Expire(ctx, res.ID, runID); err != nil {
			return Absence{}, err
		}
		out.Expired++
	}
	if n := len(out.Candidates); n > 0 {
		r.logger.Info("resources absent from listing",
			zap.String(logging.KeyRunID, runID),
			zap.Int("candidates", n),
			zap.Int("expired", out.Expired),
		)
	}
	return out, nil
}

// Expire transitions the Active row of a resource to Historical. Expiring a
// resource with no Active row is a no-op.
func (r *Registry) Expire(ctx context.Context, resourceID, runID string) error {
	err := r.store.ExpireResource(ctx, resourceID, runID)
	if errors.Is(err, crawler.ErrNotFound) {
		return nil
	}
	if err != nil {
		return &crawler.PersistenceError{Op: "expire resource " + resourceID, Err: err}
	}
	logging.ForResource(r.logger, resourceID).Info("resource expired", zap.String(logging.KeyRunID, runID))
	return nil
}

// Touch records that the resource was re-visited in runID.
func (r *Registry) Touch(ctx context.Context, resourceID, runID string) error {
	if err := r.store.TouchResource(ctx, resourceID, runID); err != nil && !errors.Is(err, crawler.ErrNotFound) {
		return &crawler.PersistenceError{Op: "touch resource " + resourceID, Err: err}
	}
	return nil
}
