package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wordsmithlab/lexguard/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const jobCols = `id, name, status, model, service_tier, reasoning_effort,
	total_items, submitted_items, processed_items, succeeded_items, failed_items, flagged_items,
	started_at, completed_at, deleted_at, created_at, updated_at`

const workItemCols = `id, job_id, synset_id, sense_id, definition_id, example_id, status, prompt,
	provider_task_id, response_payload, flagged, last_error, attempt_count,
	prompt_tokens, completion_tokens, started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.Name, &j.Status, &j.Model, &j.ServiceTier, &j.ReasoningEffort,
		&j.TotalItems, &j.SubmittedItems, &j.ProcessedItems, &j.SucceededItems, &j.FailedItems,
		&j.FlaggedItems, &j.StartedAt, &j.CompletedAt, &j.DeletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func scanWorkItem(row pgx.Row) (*models.WorkItem, error) {
	var w models.WorkItem
	err := row.Scan(&w.ID, &w.JobID, &w.SynsetID, &w.SenseID, &w.DefinitionID, &w.ExampleID,
		&w.Status, &w.Prompt, &w.ProviderTaskID, &w.ResponsePayload, &w.Flagged, &w.LastError,
		&w.AttemptCount, &w.PromptTokens, &w.CompletionTokens, &w.StartedAt, &w.CompletedAt,
		&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, name, status, model, service_tier, reasoning_effort, total_items, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.Name, job.Status, job.Model, job.ServiceTier, job.ReasoningEffort,
		job.TotalItems, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobCols+` FROM jobs WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListActiveJobs returns queued and running jobs oldest-first. Queued jobs
// are included so that empty jobs (zero items) resolve to completed on the
// first aggregation pass.
func (s *PostgresStore) ListActiveJobs(ctx context.Context) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobCols+` FROM jobs
		 WHERE status IN ('queued', 'running') AND deleted_at IS NULL
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) ListCancelledJobsWithOpenItems(ctx context.Context) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobCols+` FROM jobs j
		 WHERE j.status = 'cancelled' AND j.deleted_at IS NULL
		   AND EXISTS (
		     SELECT 1 FROM work_items wi
		     WHERE wi.job_id = j.id AND wi.status NOT IN ('succeeded', 'failed', 'skipped'))
		 ORDER BY j.created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list cancelled jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) MarkJobCancelled(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'cancelled', updated_at = NOW()
		 WHERE id = $1 AND status IN ('queued', 'running') AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddSubmittedItems(ctx context.Context, id uuid.UUID, delta int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET submitted_items = submitted_items + $2, updated_at = NOW() WHERE id = $1`,
		id, delta)
	if err != nil {
		return fmt.Errorf("add submitted items: %w", err)
	}
	return nil
}

// GetJobItemCounts computes the aggregate view of a job's items in one
// query. Submitted means past the submission boundary (processing or
// terminal) — items that failed before a provider task existed and skipped
// items count too, which keeps submitted >= processed. Flagged counts only
// succeeded items to keep the counter stable under re-aggregation.
func (s *PostgresStore) GetJobItemCounts(ctx context.Context, jobID uuid.UUID) (models.JobCounts, error) {
	var c models.JobCounts
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status NOT IN ('queued', 'submitting')),
		        COUNT(*) FILTER (WHERE status IN ('succeeded', 'failed', 'skipped')),
		        COUNT(*) FILTER (WHERE status = 'succeeded'),
		        COUNT(*) FILTER (WHERE status = 'failed'),
		        COUNT(*) FILTER (WHERE status = 'succeeded' AND flagged)
		 FROM work_items WHERE job_id = $1`, jobID,
	).Scan(&c.Total, &c.Submitted, &c.Processed, &c.Succeeded, &c.Failed, &c.Flagged)
	if err != nil {
		return models.JobCounts{}, fmt.Errorf("get job item counts: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) UpdateJobAggregates(ctx context.Context, id uuid.UUID, counts models.JobCounts, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET
		   total_items = $2, submitted_items = $3, processed_items = $4,
		   succeeded_items = $5, failed_items = $6, flagged_items = $7,
		   status = $8,
		   completed_at = CASE WHEN $8 IN ('completed', 'failed', 'cancelled')
		                       THEN COALESCE(completed_at, NOW()) ELSE completed_at END,
		   updated_at = NOW()
		 WHERE id = $1`,
		id, counts.Total, counts.Submitted, counts.Processed,
		counts.Succeeded, counts.Failed, counts.Flagged, status)
	if err != nil {
		return fmt.Errorf("update job aggregates: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FailExpiredJobs force-fails active jobs older than the cutoff along with
// their open items. Returns the affected job ids so the caller can reconcile
// counters; the status stays failed (aggregation never re-derives terminal
// jobs).
func (s *PostgresStore) FailExpiredJobs(ctx context.Context, cutoff time.Time, itemReason string) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE jobs SET status = 'failed', completed_at = COALESCE(completed_at, NOW()), updated_at = NOW()
		 WHERE status IN ('queued', 'running') AND deleted_at IS NULL AND created_at < $1
		 RETURNING id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("fail expired jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE work_items SET status = 'failed', last_error = $2, completed_at = NOW(), updated_at = NOW()
		 WHERE job_id = ANY($1) AND status NOT IN ('succeeded', 'failed', 'skipped')`,
		ids, itemReason)
	if err != nil {
		return ids, fmt.Errorf("fail items of expired jobs: %w", err)
	}
	return ids, nil
}

// --- Work items ---

func (s *PostgresStore) CreateWorkItems(ctx context.Context, items []*models.WorkItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(
			`INSERT INTO work_items (job_id, synset_id, sense_id, definition_id, example_id, status, prompt, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
			item.JobID, item.SynsetID, item.SenseID, item.DefinitionID, item.ExampleID,
			item.Status, item.Prompt, item.CreatedAt, item.UpdatedAt)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, item := range items {
		if err := br.QueryRow().Scan(&item.ID); err != nil {
			return fmt.Errorf("create work item: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetWorkItem(ctx context.Context, id int64) (*models.WorkItem, error) {
	w, err := scanWorkItem(s.pool.QueryRow(ctx,
		`SELECT `+workItemCols+` FROM work_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get work item: %w", err)
	}
	return w, nil
}

// ClaimQueuedItems moves up to limit queued items to submitting. The
// conditional UPDATE is the atomicity boundary: candidates stolen by a
// concurrent invocation between the SELECT and the UPDATE simply do not
// return, and claiming fewer rows than selected is a normal outcome. Claimed
// jobs transition queued -> running exactly once via their own conditional
// update.
func (s *PostgresStore) ClaimQueuedItems(ctx context.Context, limit int) ([]*ClaimedItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT wi.id FROM work_items wi
		 JOIN jobs j ON j.id = wi.job_id
		 WHERE wi.status = 'queued' AND wi.provider_task_id IS NULL
		   AND j.status IN ('queued', 'running') AND j.deleted_at IS NULL
		 ORDER BY wi.id ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select claim candidates: %w", err)
	}
	defer rows.Close()

	var candidates []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan claim candidate: %w", err)
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	claimed, err := s.pool.Query(ctx,
		`UPDATE work_items
		 SET status = 'submitting', started_at = NOW(), updated_at = NOW()
		 WHERE id = ANY($1) AND status = 'queued' AND provider_task_id IS NULL
		 RETURNING `+workItemCols, candidates)
	if err != nil {
		return nil, fmt.Errorf("claim work items: %w", err)
	}
	defer claimed.Close()

	var items []*models.WorkItem
	for claimed.Next() {
		w, err := scanWorkItem(claimed)
		if err != nil {
			return nil, fmt.Errorf("scan claimed item: %w", err)
		}
		items = append(items, w)
	}
	if err := claimed.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	jobIDs := make([]uuid.UUID, 0, 4)
	seen := make(map[uuid.UUID]bool)
	for _, it := range items {
		if !seen[it.JobID] {
			seen[it.JobID] = true
			jobIDs = append(jobIDs, it.JobID)
		}
	}

	jobRows, err := s.pool.Query(ctx,
		`SELECT id, name, model, service_tier, reasoning_effort FROM jobs WHERE id = ANY($1)`, jobIDs)
	if err != nil {
		return nil, fmt.Errorf("load claimed job config: %w", err)
	}
	defer jobRows.Close()

	type jobInfo struct {
		name   string
		model  string
		tier   *string
		effort *string
	}
	jobs := make(map[uuid.UUID]jobInfo, len(jobIDs))
	for jobRows.Next() {
		var id uuid.UUID
		var info jobInfo
		if err := jobRows.Scan(&id, &info.name, &info.model, &info.tier, &info.effort); err != nil {
			return nil, fmt.Errorf("scan claimed job config: %w", err)
		}
		jobs[id] = info
	}
	if err := jobRows.Err(); err != nil {
		return nil, err
	}

	for _, jobID := range jobIDs {
		_, err := s.pool.Exec(ctx,
			`UPDATE jobs SET status = 'running', started_at = COALESCE(started_at, NOW()), updated_at = NOW()
			 WHERE id = $1 AND status = 'queued'`, jobID)
		if err != nil {
			return nil, fmt.Errorf("start job %s: %w", jobID, err)
		}
	}

	result := make([]*ClaimedItem, 0, len(items))
	for _, it := range items {
		info := jobs[it.JobID]
		result = append(result, &ClaimedItem{
			Item:            it,
			JobName:         info.name,
			Model:           info.model,
			ServiceTier:     info.tier,
			ReasoningEffort: info.effort,
		})
	}
	return result, nil
}

func (s *PostgresStore) ListOpenItems(ctx context.Context, jobID uuid.UUID, limit int) ([]*models.WorkItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+workItemCols+` FROM work_items
		 WHERE job_id = $1 AND status NOT IN ('succeeded', 'failed', 'skipped')
		 ORDER BY id ASC
		 LIMIT $2`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list open items: %w", err)
	}
	defer rows.Close()

	var items []*models.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan open item: %w", err)
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// CountPendingItems counts claimable backlog: queued items on active jobs.
// The chain decision keys off this.
func (s *PostgresStore) CountPendingItems(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM work_items wi
		 JOIN jobs j ON j.id = wi.job_id
		 WHERE wi.status = 'queued' AND wi.provider_task_id IS NULL
		   AND j.status IN ('queued', 'running') AND j.deleted_at IS NULL`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending items: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) MarkItemProcessing(ctx context.Context, id int64, taskID string, attempts int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE work_items
		 SET status = 'processing', provider_task_id = $2, attempt_count = $3, started_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'submitting'`,
		id, taskID, attempts)
	if err != nil {
		return fmt.Errorf("mark item processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkItemSucceeded lands a verdict. A zero row count means another
// invocation already finished the item; the call reports success so the
// outcome stays immutable.
func (s *PostgresStore) MarkItemSucceeded(ctx context.Context, id int64, flagged bool, usage models.TokenUsage, payload []byte) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE work_items
		 SET status = 'succeeded', flagged = $2, prompt_tokens = $3, completion_tokens = $4,
		     response_payload = COALESCE($5, response_payload), last_error = NULL,
		     completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status NOT IN ('succeeded', 'failed', 'skipped')`,
		id, flagged, usage.PromptTokens, usage.CompletionTokens, payload)
	if err != nil {
		return fmt.Errorf("mark item succeeded: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkItemFailed(ctx context.Context, id int64, errMsg string, opts ...ItemUpdateOption) error {
	params := ResolveItemUpdateOptions(opts...)

	query := `UPDATE work_items SET status = 'failed', last_error = $2, completed_at = NOW(), updated_at = NOW()`
	args := []any{id, errMsg}
	argIdx := 3

	if params.Attempts != nil {
		query += fmt.Sprintf(", attempt_count = $%d", argIdx)
		args = append(args, *params.Attempts)
		argIdx++
	}
	if params.Payload != nil {
		query += fmt.Sprintf(", response_payload = $%d", argIdx)
		args = append(args, params.Payload)
		argIdx++
	}

	query += ` WHERE id = $1 AND status NOT IN ('succeeded', 'failed', 'skipped')`

	_, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark item failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveItemResponse(ctx context.Context, id int64, payload []byte) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE work_items SET response_payload = $2, updated_at = NOW()
		 WHERE id = $1 AND status NOT IN ('succeeded', 'failed', 'skipped')`,
		id, payload)
	if err != nil {
		return fmt.Errorf("save item response: %w", err)
	}
	return nil
}

// ResetStuckSubmitting returns submitting items older than the cutoff to
// queued. Items inside the grace window are left alone: their invocation may
// still be in the retry loop.
func (s *PostgresStore) ResetStuckSubmitting(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE work_items SET status = 'queued', started_at = NULL, updated_at = NOW()
		 WHERE status = 'submitting' AND provider_task_id IS NULL AND started_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stuck submitting: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FailStaleItems fails a job's open items created before the cutoff. The
// clock runs from creation, not claim, so a long-queued item cannot collect
// a fresh timeout by being claimed late. Submitting rows count only once
// they carry a task id; before that the re-queue sweep owns them.
func (s *PostgresStore) FailStaleItems(ctx context.Context, jobID uuid.UUID, cutoff time.Time, errMsg string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE work_items SET status = 'failed', last_error = $3, completed_at = NOW(), updated_at = NOW()
		 WHERE job_id = $1 AND created_at < $2
		   AND (status IN ('queued', 'processing')
		        OR (status = 'submitting' AND provider_task_id IS NOT NULL))`,
		jobID, cutoff, errMsg)
	if err != nil {
		return 0, fmt.Errorf("fail stale items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FailOpenItems fails every non-terminal item of a job (the cancellation
// cascade) and returns the failed rows so the caller can cancel their
// provider tasks.
func (s *PostgresStore) FailOpenItems(ctx context.Context, jobID uuid.UUID, errMsg string) ([]*models.WorkItem, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE work_items SET status = 'failed', last_error = $2, completed_at = NOW(), updated_at = NOW()
		 WHERE job_id = $1 AND status NOT IN ('succeeded', 'failed', 'skipped')
		 RETURNING `+workItemCols, jobID, errMsg)
	if err != nil {
		return nil, fmt.Errorf("fail open items: %w", err)
	}
	defer rows.Close()

	var items []*models.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed item: %w", err)
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// --- Lexical entities ---

var entityTables = map[string]string{
	models.EntitySynset:     "synsets",
	models.EntitySense:      "senses",
	models.EntityDefinition: "definitions",
	models.EntityExample:    "usage_examples",
}

// FlagEntity writes the moderation verdict onto the referenced entity row.
// Clearing (flagged=false) also clears the reason and timestamp, so
// re-applying an unflagged verdict is idempotent.
func (s *PostgresStore) FlagEntity(ctx context.Context, ref models.EntityRef, flagged bool, reason string) error {
	table, ok := entityTables[ref.Kind]
	if !ok {
		return fmt.Errorf("unknown entity kind %q", ref.Kind)
	}

	var reasonParam *string
	var flaggedAt *time.Time
	if flagged {
		reasonParam = &reason
		now := time.Now().UTC()
		flaggedAt = &now
	}

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET flagged = $2, flag_reason = $3, flagged_at = $4, updated_at = NOW() WHERE id = $1`, table),
		ref.ID, flagged, reasonParam, flaggedAt)
	if err != nil {
		return fmt.Errorf("flag %s: %w", ref.Kind, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
