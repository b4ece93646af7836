// Package ledger owns run identity and open/close bookkeeping.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-tracker/internal/crawler"
	"github.com/JakeFAU/listing-tracker/internal/logging"
)

// Ledger opens and closes runs.
type Ledger struct {
	store  crawler.RunStore
	ids    crawler.IDGenerator
	clock  crawler.Clock
	logger *zap.Logger
}

// New constructs a Ledger.
func New(store crawler.RunStore, ids crawler.IDGenerator, clock crawler.Clock, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, ids: ids, clock: clock, logger: logger}
}

// Open starts a run for entity.
func (l *Ledger) Open(ctx context.Context, entity string) (crawler.Run, error) {
	if entity == "" {
		return crawler.Run{}, errors.New("entity is required")
	}
	id, err := l.ids.NewID()
	if err != nil {
		return crawler.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	run := crawler.Run{ID: id, Entity: entity, StartedAt: l.clock.Now()}
	if err := l.store.CreateRun(ctx, run); err != nil {
		return crawler.Run{}, &crawler.PersistenceError{Op: "create run", Err: err}
	}
	logging.ForRun(l.logger, id, entity).Info("run opened")
	return run, nil
}

// Close finishes a run exactly once. Closing a closed run returns
// crawler.ErrRunClosed.
func (l *Ledger) Close(ctx context.Context, runID string, success bool) error {
	err := l.store.FinishRun(ctx, runID, l.clock.Now(), success)
	switch {
	case errors.Is(err, crawler.ErrRunClosed), errors.Is(err, crawler.ErrNotFound):
		return fmt.Errorf("close run %s: %w", runID, err)
	case err != nil:
		return &crawler.PersistenceError{Op: "finish run " + runID, Err: err}
	}
	l.logger.Info("run closed", zap.String(logging.KeyRunID, runID), zap.Bool("success", success))
	return nil
}

// Get returns a run by ID.
func (l *Ledger) Get(ctx context.Context, runID string) (crawler.Run, error) {
	run, err := l.store.GetRun(ctx, runID)
	if err != nil {
		return crawler.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// Recent lists the latest runs, optionally filtered by entity.
func (l *Ledger) Recent(ctx context.Context, entity string, limit int) ([]crawler.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	runs, err := l.store.ListRuns(ctx, entity, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}
