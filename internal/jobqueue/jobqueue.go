// Package jobqueue implements the durable, relational-backed FIFO job
// queue: submit/get/list/updateState/updateProgress/
// approve/cancel/deleteAll, plus duplicate detection on (content_hash,
// ontology). It follows the explicit-persisted-state-enum approach to
// driving a workflow, simplified here to a linear state machine with no
// compensation steps, since ingestion is not reversible once committed.
package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kgraph-backend/internal/domain"
	kgerrors "kgraph-backend/internal/errors"
)

// Store is the narrow relational persistence surface JobQueue needs;
// implemented by internal/store/relational.
type Store interface {
	InsertJob(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, id string) (domain.Job, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error)
	UpdateJob(ctx context.Context, job domain.Job) error
	FindActiveJobByPayload(ctx context.Context, contentHash, ontology string) (domain.Job, bool, error)
	DeleteJob(ctx context.Context, id string) error
}

// Queue is the JobQueue Cancel flags live in memory
// (consulted by the scheduler between chunks) since they are ephemeral
// per-process signals, not durable state; the durable state transition to
// `cancelled` still goes through Store.
type Queue struct {
	store Store
	log   *zap.Logger

	mu          sync.Mutex
	cancelFlags map[string]bool
}

func New(store Store, log *zap.Logger) *Queue {
	return &Queue{store: store, log: log, cancelFlags: map[string]bool{}}
}

// Submit creates a new job in the pending state, or returns the existing
// job if one is already pending/processing with the same (content_hash,
// ontology) pair, duplicate-detection rule.
func (q *Queue) Submit(ctx context.Context, owner, ontology string, payload domain.PayloadRef, autoApprove bool) (domain.Job, error) {
	if existing, ok, err := q.store.FindActiveJobByPayload(ctx, payload.ContentHash, ontology); err != nil {
		return domain.Job{}, kgerrors.Wrap(err, "check duplicate submission")
	} else if ok {
		return existing, nil
	}

	now := time.Now()
	job := domain.Job{
		ID:          uuid.NewString(),
		State:       domain.JobPending,
		Owner:       owner,
		Ontology:    ontology,
		Payload:     payload,
		AutoApprove: autoApprove,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.store.InsertJob(ctx, job); err != nil {
		return domain.Job{}, kgerrors.Wrap(err, "submit job")
	}
	return job, nil
}

func (q *Queue) Get(ctx context.Context, id string) (domain.Job, error) {
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return domain.Job{}, kgerrors.Wrap(err, "get job "+id)
	}
	return job, nil
}

func (q *Queue) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	jobs, err := q.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, kgerrors.Wrap(err, "list jobs")
	}
	return jobs, nil
}

// UpdateState transitions a job, rejecting any edge not present in
// domain.CanTransition.
func (q *Queue) UpdateState(ctx context.Context, id string, to domain.JobState) (domain.Job, error) {
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return domain.Job{}, kgerrors.Wrap(err, "get job for state transition")
	}
	if !domain.CanTransition(job.State, to) {
		return domain.Job{}, kgerrors.New(kgerrors.KindConflict, "invalid_transition",
			"cannot transition job from "+string(job.State)+" to "+string(to))
	}
	job.State = to
	job.UpdatedAt = time.Now()
	if to == domain.JobProcessing && job.Progress.StartedAt.IsZero() {
		job.Progress.StartedAt = job.UpdatedAt
	}
	if err := q.store.UpdateJob(ctx, job); err != nil {
		return domain.Job{}, kgerrors.Wrap(err, "persist job state transition")
	}
	return job, nil
}

// UpdateProgress persists progress counters, enforcing the
// chunks_done ≤ chunks_total invariant. It does not check that chunks_done
// never decreases between calls.
func (q *Queue) UpdateProgress(ctx context.Context, id string, progress domain.Progress) (domain.Job, error) {
	if progress.ChunksDone > progress.ChunksTotal {
		return domain.Job{}, kgerrors.Validation("chunks_done exceeds chunks_total")
	}
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return domain.Job{}, kgerrors.Wrap(err, "get job for progress update")
	}
	progress.UpdatedAt = time.Now()
	job.Progress = progress
	job.UpdatedAt = progress.UpdatedAt
	if err := q.store.UpdateJob(ctx, job); err != nil {
		return domain.Job{}, kgerrors.Wrap(err, "persist job progress")
	}
	return job, nil
}

// SetAnalysis records the dry-run estimate and moves the job to
// awaiting_approval (or, when AutoApprove is set, straight to approved).
func (q *Queue) SetAnalysis(ctx context.Context, id string, analysis domain.Analysis) (domain.Job, error) {
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return domain.Job{}, kgerrors.Wrap(err, "get job for analysis")
	}
	job.Analysis = &analysis
	job.Progress.ChunksTotal = analysis.ChunksTotal
	job.UpdatedAt = time.Now()

	next := domain.JobAwaitingApproval
	if job.AutoApprove {
		next = domain.JobApproved
	}
	if !domain.CanTransition(job.State, domain.JobAwaitingApproval) && next == domain.JobAwaitingApproval {
		return domain.Job{}, kgerrors.New(kgerrors.KindConflict, "invalid_transition", "job not in a state that can receive analysis")
	}
	job.State = domain.JobAwaitingApproval
	if err := q.store.UpdateJob(ctx, job); err != nil {
		return domain.Job{}, kgerrors.Wrap(err, "persist job analysis")
	}
	if next == domain.JobApproved {
		return q.UpdateState(ctx, id, domain.JobApproved)
	}
	return job, nil
}

// Approve transitions awaiting_approval → approved. force bypasses nothing
// today (no budget gate yet implemented) but is accepted for forward
// compatibility with approve(job_id, force?) signature.
func (q *Queue) Approve(ctx context.Context, id string, force bool) (domain.Job, error) {
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return domain.Job{}, kgerrors.Wrap(err, "get job for approval")
	}
	if job.State != domain.JobAwaitingApproval {
		return domain.Job{}, kgerrors.New(kgerrors.KindConflict, "invalid_transition", "approve is only valid from awaiting_approval")
	}
	return q.UpdateState(ctx, id, domain.JobApproved)
}

// Cancel is accepted in any non-terminal state. For a job already
// processing, it sets an in-memory flag the scheduler consults at the next
// chunk boundary instead of transitioning immediately.
func (q *Queue) Cancel(ctx context.Context, id string) (domain.Job, error) {
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return domain.Job{}, kgerrors.Wrap(err, "get job for cancellation")
	}
	if job.State.IsTerminal() {
		return domain.Job{}, kgerrors.New(kgerrors.KindConflict, "invalid_transition", "job is already in a terminal state")
	}
	if job.State == domain.JobProcessing {
		q.mu.Lock()
		q.cancelFlags[id] = true
		q.mu.Unlock()
		return job, nil
	}
	return q.UpdateState(ctx, id, domain.JobCancelled)
}

// CancelRequested reports whether Cancel was called on a processing job and
// the scheduler has not yet observed it.
func (q *Queue) CancelRequested(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelFlags[id]
}

// ClearCancelFlag removes the in-memory cancel flag once the scheduler has
// acted on it.
func (q *Queue) ClearCancelFlag(id string) {
	q.mu.Lock()
	delete(q.cancelFlags, id)
	q.mu.Unlock()
}

// DeleteAll removes every job matched by filter. A job in processing is
// first sent a cancellation request; callers that need synchronous deletion
// should poll Get until the job reaches a terminal state before retrying.
func (q *Queue) DeleteAll(ctx context.Context, filter domain.JobFilter) (int, error) {
	jobs, err := q.store.ListJobs(ctx, filter)
	if err != nil {
		return 0, kgerrors.Wrap(err, "list jobs for deletion")
	}
	deleted := 0
	for _, job := range jobs {
		if job.State == domain.JobProcessing {
			q.mu.Lock()
			q.cancelFlags[job.ID] = true
			q.mu.Unlock()
			continue
		}
		if err := q.store.DeleteJob(ctx, job.ID); err != nil {
			if q.log != nil {
				q.log.Warn("failed to delete job", zap.String("job_id", job.ID), zap.Error(err))
			}
			continue
		}
		deleted++
	}
	return deleted, nil
}
