// Package audit records per-resource, per-run stage outcomes.
package audit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-tracker/internal/crawler"
	"github.com/JakeFAU/listing-tracker/internal/logging"
)

// ErrMessageWithoutStep rejects an outcome carrying a message but no error step.
var ErrMessageWithoutStep = errors.New("error message requires an error step")

// Trail creates audit entries and records their transitions.
type Trail struct {
	store  crawler.AuditStore
	ids    crawler.IDGenerator
	clock  crawler.Clock
	logger *zap.Logger
}

// Target is one resource to audit in a run.
type Target struct {
	ResourceID   string
	ArtifactPath string
}

// DownloadOutcome is the result of a fetch attempt.
type DownloadOutcome struct {
	VisitedAt  time.Time
	StatusCode int
	Step       crawler.ErrorStep
	Message    string
}

// ParseOutcome is the result of a parse attempt.
type ParseOutcome struct {
	ParsedAt time.Time
	Step     crawler.ErrorStep
	Message  string
}

// Summary counts the entries of a run per state.
type Summary struct {
	RunID  string                     `json:"run_id"`
	Total  int                        `json:"total"`
	States map[crawler.AuditState]int `json:"states"`
}

// New constructs a Trail.
func New(store crawler.AuditStore, ids crawler.IDGenerator, clock crawler.Clock, logger *zap.Logger) *Trail {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trail{store: store, ids: ids, clock: clock, logger: logger}
}

// CreateEntries creates one Pending entry per target and returns their IDs in
// target order.
func (t *Trail) CreateEntries(ctx context.Context, runID string, targets []Target) ([]string, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	now := t.clock.Now()
	entries := make([]crawler.AuditEntry, 0, len(targets))
	ids := make([]string, 0, len(targets))
	for _, target := range targets {
		id, err := t.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate audit id: %w", err)
		}
		entries = append(entries, crawler.AuditEntry{
			ID:           id,
			RunID:        runID,
			ResourceID:   target.ResourceID,
			ArtifactPath: target.ArtifactPath,
			CreatedAt:    now,
		})
		ids = append(ids, id)
	}
	if err := t.store.CreateAuditEntries(ctx, entries); err != nil {
		return nil, &crawler.PersistenceError{Op: "create audit entries", Err: err}
	}
	t.logger.Debug("audit entries created", zap.String(logging.KeyRunID, runID), zap.Int("count", len(ids)))
	return ids, nil
}

// RecordDownloadOutcome moves a Pending entry to Visited (or DownloadFailed).
func (t *Trail) RecordDownloadOutcome(ctx context.Context, auditID string, o DownloadOutcome) error {
	if o.Message != "" && o.Step == crawler.StepNone {
		return ErrMessageWithoutStep
	}
	if o.Step == crawler.StepNone && o.StatusCode >= http.StatusBadRequest && o.StatusCode < http.StatusInternalServerError {
		return fmt.Errorf("status %d requires the download error step", o.StatusCode)
	}
	if err := t.store.RecordVisit(ctx, auditID, o.VisitedAt, o.StatusCode, o.Step, o.Message); err != nil {
		return fmt.Errorf("record download outcome %s: %w", auditID, err)
	}
	return nil
}

// RecordParseOutcome moves a Visited entry to Parsed (or ParseFailed).
func (t *Trail) RecordParseOutcome(ctx context.Context, auditID string, o ParseOutcome) error {
	if o.Message != "" && o.Step == crawler.StepNone {
		return ErrMessageWithoutStep
	}
	if err := t.store.RecordParse(ctx, auditID, o.ParsedAt, o.Step, o.Message); err != nil {
		return fmt.Errorf("record parse outcome %s: %w", auditID, err)
	}
	return nil
}

// PendingDownloads returns the run's entries that have not been visited.
func (t *Trail) PendingDownloads(ctx context.Context, runID string) ([]crawler.AuditEntry, error) {
	entries, err := t.store.PendingDownloads(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("pending downloads: %w", err)
	}
	return entries, nil
}

// PendingParses returns visited, unparsed entries without a download error
// across every run of entity, so work left by an interrupted run is resumed.
func (t *Trail) PendingParses(ctx context.Context, entity string) ([]crawler.AuditEntry, error) {
	entries, err := t.store.PendingParses(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("pending parses: %w", err)
	}
	return entries, nil
}

// Entries returns every entry of a run.
func (t *Trail) Entries(ctx context.Context, runID string) ([]crawler.AuditEntry, error) {
	entries, err := t.store.ListAuditEntries(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

// Summarize counts a run's entries per state.
func (t *Trail) Summarize(ctx context.Context, runID string) (Summary, error) {
	entries, err := t.Entries(ctx, runID)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{RunID: runID, Total: len(entries), States: make(map[crawler.AuditState]int)}
	for _, e := range entries {
		s.States[e.State()]++
	}
	return s, nil
}
