package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wordsmithlab/lexguard/internal/store"
	"github.com/wordsmithlab/lexguard/pkg/models"
)

// fakeStore is an in-memory store.Store mirroring the conditional-update
// semantics of the Postgres implementation: terminal rows are immutable,
// claims are conditional on the prior status, and job starts happen once.
type fakeStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*models.Job
	items    map[int64]*models.WorkItem
	nextID   int64
	verdicts map[string]entityVerdict

	// failOn injects an error for a named method.
	failOn map[string]error
}

type entityVerdict struct {
	flagged bool
	reason  string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:     make(map[uuid.UUID]*models.Job),
		items:    make(map[int64]*models.WorkItem),
		verdicts: make(map[string]entityVerdict),
		failOn:   make(map[string]error),
	}
}

func (f *fakeStore) fail(method string) error {
	return f.failOn[method]
}

func (f *fakeStore) addJob(name string, status string) *models.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := &models.Job{
		ID:        uuid.New(),
		Name:      name,
		Status:    status,
		Model:     "gpt-test",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	f.jobs[job.ID] = job
	return job
}

func (f *fakeStore) addItem(jobID uuid.UUID, status string) *models.WorkItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	synsetID := uuid.New()
	item := &models.WorkItem{
		ID:        f.nextID,
		JobID:     jobID,
		SynsetID:  &synsetID,
		Status:    status,
		Prompt:    fmt.Sprintf("moderate synset %d", f.nextID),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	f.items[item.ID] = item
	return item
}

func (f *fakeStore) item(id int64) models.WorkItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.items[id]
}

func (f *fakeStore) job(id uuid.UUID) models.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.jobs[id]
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetAPIKeyByPrefix(context.Context, string) ([]*models.APIKey, error) {
	return nil, nil
}
func (f *fakeStore) UpdateAPIKeyLastUsed(context.Context, uuid.UUID) error { return nil }
func (f *fakeStore) CreateAPIKey(context.Context, *models.APIKey) error    { return nil }
func (f *fakeStore) RevokeAPIKey(context.Context, uuid.UUID) error         { return nil }

func (f *fakeStore) CreateJob(_ context.Context, job *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	if err := f.fail("GetJob"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeStore) ListActiveJobs(context.Context) ([]*models.Job, error) {
	if err := f.fail("ListActiveJobs"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var jobs []*models.Job
	for _, job := range f.jobs {
		if job.DeletedAt == nil && (job.Status == models.JobStatusQueued || job.Status == models.JobStatusRunning) {
			cp := *job
			jobs = append(jobs, &cp)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

func (f *fakeStore) ListCancelledJobsWithOpenItems(context.Context) ([]*models.Job, error) {
	if err := f.fail("ListCancelledJobsWithOpenItems"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var jobs []*models.Job
	for _, job := range f.jobs {
		if job.Status != models.JobStatusCancelled || job.DeletedAt != nil {
			continue
		}
		for _, item := range f.items {
			if item.JobID == job.ID && !models.IsTerminalItemStatus(item.Status) {
				cp := *job
				jobs = append(jobs, &cp)
				break
			}
		}
	}
	return jobs, nil
}

func (f *fakeStore) MarkJobCancelled(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || models.IsTerminalJobStatus(job.Status) {
		return store.ErrNotFound
	}
	job.Status = models.JobStatusCancelled
	return nil
}

func (f *fakeStore) AddSubmittedItems(_ context.Context, id uuid.UUID, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		job.SubmittedItems += delta
	}
	return nil
}

func (f *fakeStore) GetJobItemCounts(_ context.Context, jobID uuid.UUID) (models.JobCounts, error) {
	if err := f.fail("GetJobItemCounts"); err != nil {
		return models.JobCounts{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var c models.JobCounts
	for _, item := range f.items {
		if item.JobID != jobID {
			continue
		}
		c.Total++
		if item.Status != models.ItemStatusQueued && item.Status != models.ItemStatusSubmitting {
			c.Submitted++
		}
		if models.IsTerminalItemStatus(item.Status) {
			c.Processed++
		}
		switch item.Status {
		case models.ItemStatusSucceeded:
			c.Succeeded++
			if item.Flagged {
				c.Flagged++
			}
		case models.ItemStatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (f *fakeStore) UpdateJobAggregates(_ context.Context, id uuid.UUID, counts models.JobCounts, status string) error {
	if err := f.fail("UpdateJobAggregates"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.TotalItems = counts.Total
	job.SubmittedItems = counts.Submitted
	job.ProcessedItems = counts.Processed
	job.SucceededItems = counts.Succeeded
	job.FailedItems = counts.Failed
	job.FlaggedItems = counts.Flagged
	job.Status = status
	if models.IsTerminalJobStatus(status) && job.CompletedAt == nil {
		now := time.Now().UTC()
		job.CompletedAt = &now
	}
	return nil
}

func (f *fakeStore) FailExpiredJobs(_ context.Context, cutoff time.Time, itemReason string) ([]uuid.UUID, error) {
	if err := f.fail("FailExpiredJobs"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for _, job := range f.jobs {
		active := job.Status == models.JobStatusQueued || job.Status == models.JobStatusRunning
		if !active || job.DeletedAt != nil || !job.CreatedAt.Before(cutoff) {
			continue
		}
		job.Status = models.JobStatusFailed
		ids = append(ids, job.ID)
		for _, item := range f.items {
			if item.JobID == job.ID && !models.IsTerminalItemStatus(item.Status) {
				item.Status = models.ItemStatusFailed
				item.LastError = &itemReason
			}
		}
	}
	return ids, nil
}

func (f *fakeStore) CreateWorkItems(_ context.Context, items []*models.WorkItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range items {
		f.nextID++
		item.ID = f.nextID
		f.items[item.ID] = item
	}
	return nil
}

func (f *fakeStore) GetWorkItem(_ context.Context, id int64) (*models.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (f *fakeStore) ClaimQueuedItems(_ context.Context, limit int) ([]*store.ClaimedItem, error) {
	if err := f.fail("ClaimQueuedItems"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var candidates []*models.WorkItem
	for _, item := range f.items {
		job, ok := f.jobs[item.JobID]
		if !ok || job.DeletedAt != nil {
			continue
		}
		if job.Status != models.JobStatusQueued && job.Status != models.JobStatusRunning {
			continue
		}
		if item.Status == models.ItemStatusQueued && item.ProviderTaskID == nil {
			candidates = append(candidates, item)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	now := time.Now().UTC()
	var claimed []*store.ClaimedItem
	for _, item := range candidates {
		item.Status = models.ItemStatusSubmitting
		item.StartedAt = &now
		job := f.jobs[item.JobID]
		if job.Status == models.JobStatusQueued {
			job.Status = models.JobStatusRunning
			if job.StartedAt == nil {
				job.StartedAt = &now
			}
		}
		cp := *item
		claimed = append(claimed, &store.ClaimedItem{
			Item:            &cp,
			JobName:         job.Name,
			Model:           job.Model,
			ServiceTier:     job.ServiceTier,
			ReasoningEffort: job.ReasoningEffort,
		})
	}
	return claimed, nil
}

func (f *fakeStore) ListOpenItems(_ context.Context, jobID uuid.UUID, limit int) ([]*models.WorkItem, error) {
	if err := f.fail("ListOpenItems"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []*models.WorkItem
	for _, item := range f.items {
		if item.JobID == jobID && !models.IsTerminalItemStatus(item.Status) {
			cp := *item
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (f *fakeStore) CountPendingItems(context.Context) (int, error) {
	if err := f.fail("CountPendingItems"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, item := range f.items {
		job, ok := f.jobs[item.JobID]
		if !ok || job.DeletedAt != nil {
			continue
		}
		if job.Status != models.JobStatusQueued && job.Status != models.JobStatusRunning {
			continue
		}
		if item.Status == models.ItemStatusQueued && item.ProviderTaskID == nil {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) MarkItemProcessing(_ context.Context, id int64, taskID string, attempts int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok || item.Status != models.ItemStatusSubmitting {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	item.Status = models.ItemStatusProcessing
	item.ProviderTaskID = &taskID
	item.AttemptCount = attempts
	item.StartedAt = &now
	return nil
}

func (f *fakeStore) MarkItemSucceeded(_ context.Context, id int64, flagged bool, usage models.TokenUsage, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok || models.IsTerminalItemStatus(item.Status) {
		return nil
	}
	now := time.Now().UTC()
	item.Status = models.ItemStatusSucceeded
	item.Flagged = flagged
	item.PromptTokens = usage.PromptTokens
	item.CompletionTokens = usage.CompletionTokens
	if payload != nil {
		item.ResponsePayload = payload
	}
	item.LastError = nil
	item.CompletedAt = &now
	return nil
}

func (f *fakeStore) MarkItemFailed(_ context.Context, id int64, errMsg string, opts ...store.ItemUpdateOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok || models.IsTerminalItemStatus(item.Status) {
		return nil
	}
	params := store.ResolveItemUpdateOptions(opts...)
	if params.Attempts != nil {
		item.AttemptCount = *params.Attempts
	}
	if params.Payload != nil {
		item.ResponsePayload = params.Payload
	}
	now := time.Now().UTC()
	item.Status = models.ItemStatusFailed
	item.LastError = &errMsg
	item.CompletedAt = &now
	return nil
}

func (f *fakeStore) SaveItemResponse(_ context.Context, id int64, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok || models.IsTerminalItemStatus(item.Status) {
		return nil
	}
	item.ResponsePayload = payload
	return nil
}

func (f *fakeStore) ResetStuckSubmitting(_ context.Context, cutoff time.Time) (int64, error) {
	if err := f.fail("ResetStuckSubmitting"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, item := range f.items {
		if item.Status == models.ItemStatusSubmitting && item.ProviderTaskID == nil &&
			item.StartedAt != nil && item.StartedAt.Before(cutoff) {
			item.Status = models.ItemStatusQueued
			item.StartedAt = nil
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) FailStaleItems(_ context.Context, jobID uuid.UUID, cutoff time.Time, errMsg string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, item := range f.items {
		if item.JobID != jobID || !item.CreatedAt.Before(cutoff) {
			continue
		}
		sweepable := item.Status == models.ItemStatusQueued ||
			item.Status == models.ItemStatusProcessing ||
			(item.Status == models.ItemStatusSubmitting && item.ProviderTaskID != nil)
		if !sweepable {
			continue
		}
		now := time.Now().UTC()
		item.Status = models.ItemStatusFailed
		item.LastError = &errMsg
		item.CompletedAt = &now
		n++
	}
	return n, nil
}

func (f *fakeStore) FailOpenItems(_ context.Context, jobID uuid.UUID, errMsg string) ([]*models.WorkItem, error) {
	if err := f.fail("FailOpenItems"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var failed []*models.WorkItem
	for _, item := range f.items {
		if item.JobID == jobID && !models.IsTerminalItemStatus(item.Status) {
			now := time.Now().UTC()
			item.Status = models.ItemStatusFailed
			item.LastError = &errMsg
			item.CompletedAt = &now
			cp := *item
			failed = append(failed, &cp)
		}
	}
	return failed, nil
}

func (f *fakeStore) FlagEntity(_ context.Context, ref models.EntityRef, flagged bool, reason string) error {
	if err := f.fail("FlagEntity"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verdicts[ref.String()] = entityVerdict{flagged: flagged, reason: reason}
	return nil
}

var _ store.Store = (*fakeStore)(nil)

// fakeCache records job-status mirror writes.
type fakeCache struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]string
	err      error
}

func newFakeCache() *fakeCache {
	return &fakeCache{statuses: make(map[uuid.UUID]string)}
}

func (f *fakeCache) Ping(context.Context) error { return f.err }

func (f *fakeCache) SetJobStatus(_ context.Context, jobID uuid.UUID, status string, _ time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[jobID] = status
	return nil
}

func (f *fakeCache) GetJobStatus(_ context.Context, jobID uuid.UUID) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[jobID]
	return status, ok, nil
}

func (f *fakeCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 0, f.err
}

// fakeInvoker records chain triggers.
type fakeInvoker struct {
	mu     sync.Mutex
	depths []int
	err    error
}

func (f *fakeInvoker) TriggerRun(_ context.Context, chainDepth int) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.depths = append(f.depths, chainDepth)
	return nil
}

func (f *fakeInvoker) calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.depths...)
}
