// Package scheduler implements the bounded-concurrency dispatcher: a single
// logical loop that pulls the earliest approved job, runs the extraction
// worker in execution mode, persists progress, and fans progress events out
// to live subscribers over per-subscriber buffered channels that drop the
// oldest event on overflow, trading completeness for an unbounded-feeling
// but memory-bounded stream.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"kgraph-backend/internal/domain"
	"kgraph-backend/internal/extraction"
	kgerrors "kgraph-backend/internal/errors"
)

// ProgressEvent is emitted at every chunk boundary and once more on
// terminal transition.
type ProgressEvent struct {
	JobID                string
	ChunksDone           int
	ChunksTotal          int
	ConceptsCreated      int
	ConceptsUpdated      int
	InstancesCreated     int
	RelationshipsCreated int
	FailedCount          int
	ElapsedMS            int64
	ETAMS                int64
	Final                bool
	FinalState           domain.JobState
}

// JobQueue is the narrow job-queue surface the scheduler needs.
type JobQueue interface {
	List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error)
	Get(ctx context.Context, id string) (domain.Job, error)
	UpdateState(ctx context.Context, id string, to domain.JobState) (domain.Job, error)
	UpdateProgress(ctx context.Context, id string, progress domain.Progress) (domain.Job, error)
	CancelRequested(id string) bool
	ClearCancelFlag(id string)
}

// PayloadLoader resolves a job's payload reference to ingestible source
// text, decoupling the scheduler from wherever raw documents are staged.
type PayloadLoader interface {
	Load(ctx context.Context, ref domain.PayloadRef) (domain.Source, error)
}

// Worker is the narrow ExtractionWorker surface the scheduler drives.
type Worker interface {
	Execute(ctx context.Context, text string, source domain.Source, ontology string, startIndex int, shouldCancel func() bool, onChunk func(extraction.ChunkResult)) error
}

// LifecyclePublisher is the narrow external-event surface the scheduler
// optionally drives after a job's durable state changes, letting an
// out-of-process consumer (an EventBridge sink, for example) observe
// ingestion progress without polling the job-introspection surface. Left
// unset, job lifecycle events are simply not published anywhere outside
// the in-process progress channel.
type LifecyclePublisher interface {
	Publish(ctx context.Context, jobID, ontology string, state domain.JobState) error
}

// Scheduler is the bounded-concurrency dispatcher that pulls approved jobs
// and runs them against Worker.
type Scheduler struct {
	queue     JobQueue
	loader    PayloadLoader
	worker    Worker
	lifecycle LifecyclePublisher
	log       *zap.Logger

	concurrency int
	sem         chan struct{}

	mu          sync.Mutex
	subscribers map[string][]chan ProgressEvent

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// SubscriberBufferSize bounds each subscriber's event channel; once full,
// the oldest buffered event is dropped to make room for the newest.
const SubscriberBufferSize = 64

// SetLifecyclePublisher wires an optional external sink for job state
// transitions. Call before Run; nil (the zero value) disables publishing.
func (s *Scheduler) SetLifecyclePublisher(p LifecyclePublisher) {
	s.lifecycle = p
}

func New(queue JobQueue, loader PayloadLoader, worker Worker, concurrency int, log *zap.Logger) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		queue:       queue,
		loader:      loader,
		worker:      worker,
		concurrency: concurrency,
		sem:         make(chan struct{}, concurrency),
		subscribers: map[string][]chan ProgressEvent{},
		log:         log,
	}
}

// Subscribe registers a channel that receives progress events for jobID
// until the job reaches a terminal state.
func (s *Scheduler) Subscribe(jobID string) <-chan ProgressEvent {
	ch := make(chan ProgressEvent, SubscriberBufferSize)
	s.mu.Lock()
	s.subscribers[jobID] = append(s.subscribers[jobID], ch)
	s.mu.Unlock()
	return ch
}

func (s *Scheduler) publish(ev ProgressEvent) {
	s.mu.Lock()
	subs := s.subscribers[ev.JobID]
	if ev.Final {
		delete(s.subscribers, ev.JobID)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// Drop the oldest buffered event to make room for the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
		if ev.Final {
			close(ch)
		}
	}
}

// Run starts the dispatch loop; it blocks until ctx is cancelled or Stop is
// called, polling pollInterval for newly approved jobs when none are
// currently available.
func (s *Scheduler) Run(ctx context.Context, pollInterval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.dispatchNext(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// dispatchNext pulls the earliest approved job (FIFO by created_at) if a
// worker slot is free and runs it in the background.
func (s *Scheduler) dispatchNext(ctx context.Context) {
	select {
	case s.sem <- struct{}{}:
	default:
		return // all workers busy; approved jobs wait in FIFO order
	}

	jobs, err := s.queue.List(ctx, domain.JobFilter{State: domain.JobApproved})
	if err != nil || len(jobs) == 0 {
		<-s.sem
		return
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	job := jobs[0]

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		s.runJob(ctx, job)
	}()
}

// publishLifecycle forwards a durable state transition to the optional
// LifecyclePublisher, logging (never failing the job) on error.
func (s *Scheduler) publishLifecycle(ctx context.Context, jobID, ontology string, state domain.JobState) {
	if s.lifecycle == nil {
		return
	}
	if err := s.lifecycle.Publish(ctx, jobID, ontology, state); err != nil && s.log != nil {
		s.log.Warn("lifecycle event publish failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *Scheduler) runJob(ctx context.Context, job domain.Job) {
	job, err := s.queue.UpdateState(ctx, job.ID, domain.JobProcessing)
	if err != nil {
		if s.log != nil {
			s.log.Error("failed to transition job to processing", zap.String("job_id", job.ID), zap.Error(err))
		}
		return
	}
	s.publishLifecycle(ctx, job.ID, job.Ontology, domain.JobProcessing)

	source, err := s.loader.Load(ctx, job.Payload)
	if err != nil {
		s.fail(ctx, job, "load payload: "+err.Error())
		return
	}

	progress := job.Progress
	shouldCancel := func() bool { return s.queue.CancelRequested(job.ID) }

	err = s.worker.Execute(ctx, source.FullText, source, job.Ontology, progress.LastCommittedChunkIdx, shouldCancel, func(cr extraction.ChunkResult) {
		progress.ChunksDone++
		progress.LastCommittedChunkIdx = cr.ChunkIndex
		progress.ConceptsCreated += cr.Report.ConceptsCreated
		progress.ConceptsUpdated += cr.Report.ConceptsUpdated
		progress.InstancesCreated += cr.Report.InstancesCreated
		progress.RelationshipsCreated += cr.Report.RelationshipsCreated
		if cr.Failed {
			progress.FailedCount++
		}
		updated, err := s.queue.UpdateProgress(ctx, job.ID, progress)
		if err == nil {
			progress = updated.Progress
		}
		s.publish(ProgressEvent{
			JobID:            job.ID, ChunksDone: progress.ChunksDone, ChunksTotal: progress.ChunksTotal,
			ConceptsCreated:  progress.ConceptsCreated, ConceptsUpdated: progress.ConceptsUpdated,
			InstancesCreated: progress.InstancesCreated, RelationshipsCreated: progress.RelationshipsCreated,
			FailedCount:      progress.FailedCount, ElapsedMS: progress.ElapsedMS(), ETAMS: progress.ETAMS(),
		})
	})

	s.queue.ClearCancelFlag(job.ID)

	switch {
	case kgerrors.Is(err, kgerrors.KindCancelled):
		s.finish(ctx, job.ID, domain.JobCancelled, ProgressEvent{JobID: job.ID, Final: true, FinalState: domain.JobCancelled})
	case err != nil:
		s.fail(ctx, job, err.Error())
	default:
		s.finish(ctx, job.ID, domain.JobCompleted, ProgressEvent{JobID: job.ID, Final: true, FinalState: domain.JobCompleted})
	}
}

func (s *Scheduler) fail(ctx context.Context, job domain.Job, reason string) {
	if _, err := s.queue.UpdateState(ctx, job.ID, domain.JobFailed); err != nil && s.log != nil {
		s.log.Error("failed to transition job to failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	if s.log != nil {
		s.log.Warn("job failed", zap.String("job_id", job.ID), zap.String("reason", reason))
	}
	s.publishLifecycle(ctx, job.ID, job.Ontology, domain.JobFailed)
	s.publish(ProgressEvent{JobID: job.ID, Final: true, FinalState: domain.JobFailed})
}

func (s *Scheduler) finish(ctx context.Context, jobID string, state domain.JobState, ev ProgressEvent) {
	job, err := s.queue.UpdateState(ctx, jobID, state)
	if err != nil && s.log != nil {
		s.log.Error("failed to transition job to terminal state", zap.String("job_id", jobID), zap.Error(err))
	}
	s.publishLifecycle(ctx, jobID, job.Ontology, state)
	s.publish(ev)
}
