package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-tracker/internal/crawler"
	"github.com/JakeFAU/listing-tracker/internal/crawler/crawlertest"
	"github.com/JakeFAU/listing-tracker/internal/storage/memory"
)

func newTrail(t *testing.T) (*Trail, *memory.StateStore) {
	t.Helper()
	store := memory.NewStateStore()
	require.NoError(t, store.CreateRun(context.Background(), crawler.Run{ID: "r1", Entity: "houses"}))
	clock := crawlertest.NewClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	return New(store, crawlertest.NewIDs("audit"), clock, zap.NewNop()), store
}

func TestTrailStages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	trail, _ := newTrail(t)
	now := time.Date(2024, 6, 1, 0, 1, 0, 0, time.UTC)

	ids, err := trail.CreateEntries(ctx, "r1", []Target{
		{ResourceID: "A", ArtifactPath: "A/1.html"},
		{ResourceID: "B", ArtifactPath: "B/1.html"},
		{ResourceID: "C", ArtifactPath: "C/1.html"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"audit-0001", "audit-0002", "audit-0003"}, ids)

	pending, err := trail.PendingDownloads(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	// Parsing before the visit is rejected.
	err = trail.RecordParseOutcome(ctx, ids[0], ParseOutcome{ParsedAt: now})
	require.ErrorIs(t, err, crawler.ErrInvalidTransition)

	require.NoError(t, trail.RecordDownloadOutcome(ctx, ids[0], DownloadOutcome{VisitedAt: now, StatusCode: 200}))
	require.NoError(t, trail.RecordDownloadOutcome(ctx, ids[1], DownloadOutcome{
		VisitedAt: now, StatusCode: 410, Step: crawler.StepDownload, Message: "gone",
	}))
	require.NoError(t, trail.RecordDownloadOutcome(ctx, ids[2], DownloadOutcome{VisitedAt: now, StatusCode: 503}))

	parses, err := trail.PendingParses(ctx, "houses")
	require.NoError(t, err)
	require.Len(t, parses, 2)

	require.NoError(t, trail.RecordParseOutcome(ctx, ids[0], ParseOutcome{ParsedAt: now}))
	require.NoError(t, trail.RecordParseOutcome(ctx, ids[2], ParseOutcome{
		ParsedAt: now, Step: crawler.StepParse, Message: "layout changed",
	}))

	summary, err := trail.Summarize(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.States[crawler.AuditParsed])
	assert.Equal(t, 1, summary.States[crawler.AuditDownloadFailed])
	assert.Equal(t, 1, summary.States[crawler.AuditParseFailed])
}

func TestTrailRejectsInconsistentOutcomes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	trail, _ := newTrail(t)
	ids, err := trail.CreateEntries(ctx, "r1", []Target{{ResourceID: "A"}})
	require.NoError(t, err)

	err = trail.RecordDownloadOutcome(ctx, ids[0], DownloadOutcome{Message: "oops"})
	require.ErrorIs(t, err, ErrMessageWithoutStep)
	err = trail.RecordDownloadOutcome(ctx, ids[0], DownloadOutcome{StatusCode: 404})
	require.Error(t, err)
	err = trail.RecordParseOutcome(ctx, ids[0], ParseOutcome{Message: "oops"})
	require.ErrorIs(t, err, ErrMessageWithoutStep)

	none, err := trail.CreateEntries(ctx, "r1", nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}
