// Package ingestion implements the ingestion-submission external interface:
// accept a document, stage its content, run the dry-run analysis pass, and
// hand the job to JobQueue/Scheduler for the rest of its lifecycle. Service
// is a thin application layer sitting in front of that domain workflow.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"

	"go.uber.org/zap"

	"kgraph-backend/internal/domain"
	kgerrors "kgraph-backend/internal/errors"
	"kgraph-backend/internal/extraction"
	"kgraph-backend/internal/scheduler"
)

// Queue is the narrow JobQueue surface Service drives.
type Queue interface {
	Submit(ctx context.Context, owner, ontology string, payload domain.PayloadRef, autoApprove bool) (domain.Job, error)
	Get(ctx context.Context, id string) (domain.Job, error)
	List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error)
	SetAnalysis(ctx context.Context, id string, analysis domain.Analysis) (domain.Job, error)
	Approve(ctx context.Context, id string, force bool) (domain.Job, error)
	Cancel(ctx context.Context, id string) (domain.Job, error)
}

// Analyzer is the narrow ExtractionWorker surface Service needs for the
// dry-run chunk/cost estimate.
type Analyzer interface {
	Analyze(text string) extraction.AnalysisResult
}

// Streamer is the narrow Scheduler surface backing stream(job_id).
type Streamer interface {
	Subscribe(jobID string) <-chan scheduler.ProgressEvent
}

// SubmitInput is the ingestion-submission payload:
// `{ontology, content_or_content_ref, filename?, auto_approve?}`.
// Chunker config overrides are accepted by the scheduler's worker
// construction, not per-submission, keeping chunking parameters a
// deployment-wide setting rather than a per-call knob.
type SubmitInput struct {
	Owner       string
	Ontology    string
	Content     string
	ContentRef  string
	Filename    string
	AutoApprove bool
}

// SubmitResult is `{job_id, initial_state}`.
type SubmitResult struct {
	JobID        string
	InitialState domain.JobState
}

// Service implements document submission and lifecycle management.
type Service struct {
	queue    Queue
	analyzer Analyzer
	streamer Streamer
	log      *zap.Logger
}

func New(queue Queue, analyzer Analyzer, streamer Streamer, log *zap.Logger) *Service {
	return &Service{queue: queue, analyzer: analyzer, streamer: streamer, log: log}
}

// Submit stages the document's content, creates (or recovers, if a job for
// identical content already exists) the job row, and runs the dry-run analysis pass
// so the job reaches awaiting_approval (or approved, if AutoApprove) with a
// populated Analysis.
//
// Content is staged one of two ways: inline, travelling with the job's own
// PayloadRef, or via a local filesystem path read once here (to compute the
// content hash) and again by the PayloadLoader at dispatch time. There is no
// object-storage tier in this deployment. Inline content travels in the job
// row's payload in the relational store; the file scheme stores only the
// path there, and the file itself stays on local disk.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	content := in.Content
	source := "inline"
	filename := in.Filename

	if strings.TrimSpace(content) == "" {
		if in.ContentRef == "" {
			return SubmitResult{}, kgerrors.Validation("content or content_ref is required")
		}
		data, err := os.ReadFile(in.ContentRef)
		if err != nil {
			return SubmitResult{}, kgerrors.Validation("read content_ref: " + err.Error())
		}
		content = string(data)
		source = "file"
		filename = in.ContentRef
	}
	if strings.TrimSpace(content) == "" {
		return SubmitResult{}, kgerrors.Validation("document content is empty")
	}

	hash := sha256.Sum256([]byte(content))
	ref := domain.PayloadRef{
		ContentHash: hex.EncodeToString(hash[:]),
		Source:      source,
		Filename:    filename,
	}
	if source == "inline" {
		ref.InlineContent = content
	}

	job, err := s.queue.Submit(ctx, in.Owner, in.Ontology, ref, in.AutoApprove)
	if err != nil {
		return SubmitResult{}, kgerrors.Wrap(err, "submit ingestion job")
	}

	// A duplicate submission recovers the existing job as-is; only a
	// freshly created pending job needs its analysis pass run.
	if job.State == domain.JobPending && job.Analysis == nil {
		estimate := s.analyzer.Analyze(content)
		job, err = s.queue.SetAnalysis(ctx, job.ID, domain.Analysis{
			ChunksTotal:    estimate.ChunksTotal,
			EstimatedToken: estimate.EstimatedToken,
			CostEstimate:   estimate.CostEstimate,
		})
		if err != nil {
			return SubmitResult{}, kgerrors.Wrap(err, "record ingestion analysis")
		}
	}

	return SubmitResult{JobID: job.ID, InitialState: job.State}, nil
}

// Get implements job introspection's get(job_id).
func (s *Service) Get(ctx context.Context, jobID string) (domain.Job, error) {
	return s.queue.Get(ctx, jobID)
}

// List implements job introspection's list(filter).
func (s *Service) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	return s.queue.List(ctx, filter)
}

// Stream implements job introspection's stream(job_id): structured progress
// events at each chunk boundary, terminating with a final state event.
func (s *Service) Stream(jobID string) <-chan scheduler.ProgressEvent {
	return s.streamer.Subscribe(jobID)
}

// Approve implements approve(job_id, force?).
func (s *Service) Approve(ctx context.Context, jobID string, force bool) (domain.Job, error) {
	return s.queue.Approve(ctx, jobID, force)
}

// Cancel implements cancel(job_id).
func (s *Service) Cancel(ctx context.Context, jobID string) (domain.Job, error) {
	return s.queue.Cancel(ctx, jobID)
}
