// Package postgres provides the Postgres-backed state store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/listing-tracker/internal/crawler"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error)
	Ping(context.Context) error
	Close()
}

// Store implements crawler.StateStore on Postgres.
type Store struct {
	pool pool
}

var _ crawler.StateStore = (*Store)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// CreateRun inserts an open run.
func (s *Store) CreateRun(ctx context.Context, run crawler.Run) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (run_id, entity, started_at) VALUES ($1, $2, $3)`,
		run.ID, run.Entity, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun closes an open run.
func (s *Store) FinishRun(ctx context.Context, runID string, finishedAt time.Time, success bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET finished_at = $2, success = $3 WHERE run_id = $1 AND finished_at IS NULL`,
		runID, finishedAt, success,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	exists, err := s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM runs WHERE run_id = $1)`, runID)
	if err != nil {
		return err
	}
	if exists {
		return crawler.ErrRunClosed
	}
	return crawler.ErrNotFound
}

const runColumns = `run_id, entity, started_at, finished_at, success`

// GetRun returns a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (crawler.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Run{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the latest runs first, optionally filtered by entity.
func (s *Store) ListRuns(ctx context.Context, entity string, limit int) ([]crawler.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT `+runColumns+` FROM runs
WHERE ($1 = '' OR entity = $1)
ORDER BY started_at DESC
LIMIT $2`, entity, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []crawler.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(row pgx.Row) (crawler.Run, error) {
	var run crawler.Run
	err := row.Scan(&run.ID, &run.Entity, &run.StartedAt, &run.FinishedAt, &run.Success)
	return run, err
}

const resourceColumns = `resource_id, url, entity, status, created_run_id, updated_run_id, expired_run_id, created_at`

// ActiveResources returns the Active rows of entity.
func (s *Store) ActiveResources(ctx context.Context, entity string) ([]crawler.Resource, error) {
	return s.queryResources(ctx, `SELECT `+resourceColumns+` FROM urls
WHERE entity = $1 AND status = 1
ORDER BY resource_id`, entity)
}

// ResourceHistory returns every row of a resource, oldest first.
func (s *Store) ResourceHistory(ctx context.Context, resourceID string) ([]crawler.Resource, error) {
	out, err := s.queryResources(ctx, `SELECT `+resourceColumns+` FROM urls
WHERE resource_id = $1
ORDER BY row_id`, resourceID)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, crawler.ErrNotFound
	}
	return out, nil
}

func (s *Store) queryResources(ctx context.Context, query string, args ...any) ([]crawler.Resource, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query resources: %w", err)
	}
	defer rows.Close()
	var out []crawler.Resource
	for rows.Next() {
		var (
			res              crawler.Resource
			status           int16
			updated, expired *string
		)
		if err := rows.Scan(&res.ID, &res.URL, &res.Entity, &status, &res.CreatedRunID,
			&updated, &expired, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		res.Status = crawler.ResourceStatus(status)
		res.UpdatedRunID = deref(updated)
		res.ExpiredRunID = deref(expired)
		out = append(out, res)
	}
	return out, rows.Err()
}

// InsertIfNotActive inserts res unless an Active row exists. The partial
// unique index on Active rows arbitrates concurrent inserts.
func (s *Store) InsertIfNotActive(ctx context.Context, res crawler.Resource) (bool, bool, error) {
	var inserted, existed bool
	err := s.pool.QueryRow(ctx, `WITH prior AS (
	SELECT count(*) AS n FROM urls WHERE resource_id = $1
), ins AS (
	INSERT INTO urls (resource_id, url, entity, status, created_run_id, updated_run_id, created_at)
	VALUES ($1, $2, $3, 1, $4, $4, $5)
	ON CONFLICT (resource_id) WHERE status = 1 DO NOTHING
	RETURNING 1
)
SELECT EXISTS (SELECT 1 FROM ins), (SELECT n FROM prior) > 0`,
		res.ID, res.URL, res.Entity, res.CreatedRunID, res.CreatedAt,
	).Scan(&inserted, &existed)
	if err != nil {
		return false, false, fmt.Errorf("insert resource: %w", err)
	}
	return inserted, inserted && existed, nil
}

// ExpireResource moves the Active row of a resource to Historical.
func (s *Store) ExpireResource(ctx context.Context, resourceID, runID string) error {
	return s.updateActive(ctx,
		`UPDATE urls SET status = 2, expired_run_id = $2, updated_run_id = $2 WHERE resource_id = $1 AND status = 1`,
		resourceID, runID)
}

// TouchResource stamps the Active row of a resource with runID.
func (s *Store) TouchResource(ctx context.Context, resourceID, runID string) error {
	return s.updateActive(ctx,
		`UPDATE urls SET updated_run_id = $2 WHERE resource_id = $1 AND status = 1`,
		resourceID, runID)
}

func (s *Store) updateActive(ctx context.Context, query, resourceID, runID string) error {
	tag, err := s.pool.Exec(ctx, query, resourceID, runID)
	if err != nil {
		return fmt.Errorf("update resource: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

var auditCopyColumns = []string{"audit_id", "run_id", "resource_id", "artifact_path", "created_at"}

// CreateAuditEntries bulk-inserts Pending entries.
func (s *Store) CreateAuditEntries(ctx context.Context, entries []crawler.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{e.ID, e.RunID, e.ResourceID, e.ArtifactPath, e.CreatedAt})
	}
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{"audit_logs"}, auditCopyColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy audit entries: %w", err)
	}
	if int(n) != len(entries) {
		return fmt.Errorf("copy audit entries: wrote %d of %d", n, len(entries))
	}
	return nil
}

// RecordVisit records a download outcome on a Pending entry.
func (s *Store) RecordVisit(
	ctx context.Context,
	id string,
	visitedAt time.Time,
	statusCode int,
	step crawler.ErrorStep,
	message string,
) error {
	tag, err := s.pool.Exec(ctx, `UPDATE audit_logs
SET visited_at = $2, status_code = $3, error_step = $4, error_message = $5
WHERE audit_id = $1 AND visited_at IS NULL`,
		id, visitedAt, nullInt(statusCode), nullString(string(step)), nullString(message),
	)
	if err != nil {
		return fmt.Errorf("record visit: %w", err)
	}
	return s.checkTransition(ctx, tag, id)
}

// RecordParse records a parse outcome on a Visited entry.
func (s *Store) RecordParse(
	ctx context.Context,
	id string,
	parsedAt time.Time,
	step crawler.ErrorStep,
	message string,
) error {
	tag, err := s.pool.Exec(ctx, `UPDATE audit_logs
SET parsed_at = $2, error_step = $3, error_message = $4
WHERE audit_id = $1 AND visited_at IS NOT NULL AND parsed_at IS NULL AND error_step IS NULL`,
		id, parsedAt, nullString(string(step)), nullString(message),
	)
	if err != nil {
		return fmt.Errorf("record parse: %w", err)
	}
	return s.checkTransition(ctx, tag, id)
}

func (s *Store) checkTransition(ctx context.Context, tag pgconn.CommandTag, id string) error {
	if tag.RowsAffected() == 1 {
		return nil
	}
	exists, err := s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM audit_logs WHERE audit_id = $1)`, id)
	if err != nil {
		return err
	}
	if exists {
		return crawler.ErrInvalidTransition
	}
	return crawler.ErrNotFound
}

const auditColumns = `a.audit_id, a.run_id, a.resource_id, a.artifact_path, a.created_at,
a.visited_at, a.parsed_at, a.status_code, a.error_step, a.error_message`

// GetAuditEntry returns an entry by ID.
func (s *Store) GetAuditEntry(ctx context.Context, id string) (crawler.AuditEntry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_logs a WHERE a.audit_id = $1`, id)
	e, err := scanAudit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.AuditEntry{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.AuditEntry{}, fmt.Errorf("get audit entry: %w", err)
	}
	return e, nil
}

// ListAuditEntries returns the entries of a run in creation order.
func (s *Store) ListAuditEntries(ctx context.Context, runID string) ([]crawler.AuditEntry, error) {
	return s.queryAudit(ctx, `SELECT `+auditColumns+` FROM audit_logs a
WHERE a.run_id = $1
ORDER BY a.created_at, a.audit_id`, runID)
}

// PendingDownloads returns the unvisited entries of a run.
func (s *Store) PendingDownloads(ctx context.Context, runID string) ([]crawler.AuditEntry, error) {
	return s.queryAudit(ctx, `SELECT `+auditColumns+` FROM audit_logs a
WHERE a.run_id = $1 AND a.visited_at IS NULL
ORDER BY a.created_at, a.audit_id`, runID)
}

// PendingParses returns visited, unparsed, error-free entries of every run of entity.
func (s *Store) PendingParses(ctx context.Context, entity string) ([]crawler.AuditEntry, error) {
	return s.queryAudit(ctx, `SELECT `+auditColumns+` FROM audit_logs a
JOIN runs r ON r.run_id = a.run_id
WHERE r.entity = $1 AND a.visited_at IS NOT NULL AND a.parsed_at IS NULL AND a.error_step IS NULL
ORDER BY a.created_at, a.audit_id`, entity)
}

func (s *Store) queryAudit(ctx context.Context, query string, args ...any) ([]crawler.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	var out []crawler.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanAudit(row pgx.Row) (crawler.AuditEntry, error) {
	var (
		e             crawler.AuditEntry
		statusCode    *int32
		step, message *string
	)
	err := row.Scan(&e.ID, &e.RunID, &e.ResourceID, &e.ArtifactPath, &e.CreatedAt,
		&e.VisitedAt, &e.ParsedAt, &statusCode, &step, &message)
	if err != nil {
		return crawler.AuditEntry{}, err
	}
	if statusCode != nil {
		e.StatusCode = int(*statusCode)
	}
	e.ErrorStep = crawler.ErrorStep(deref(step))
	e.ErrorMessage = deref(message)
	return e, nil
}

// InsertAddress stores addr unless one exists for its resource and coordinates.
func (s *Store) InsertAddress(ctx context.Context, addr crawler.Address) (bool, error) {
	tag, err := s.pool.Exec(ctx, `INSERT INTO normalized_addresses
(resource_id, lat, lon, city, postal_code, street, street_number, maps_url, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (resource_id, lat, lon) DO NOTHING`,
		addr.ResourceID, addr.Coordinates.Lat, addr.Coordinates.Lon,
		nullString(addr.City), nullString(addr.PostalCode), nullString(addr.Street),
		nullString(addr.StreetNumber), nullString(addr.MapsURL), addr.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert address: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("check existence: %w", err)
	}
	return ok, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func nullJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
