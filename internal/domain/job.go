package domain

import "time"

// JobState is a node in the ingestion job lifecycle state machine.
// JobQueue.UpdateState rejects any transition not in validTransitions.
type JobState string

const (
	JobPending          JobState = "pending"
	JobAwaitingApproval JobState = "awaiting_approval"
	JobApproved         JobState = "approved"
	JobProcessing       JobState = "processing"
	JobCompleted        JobState = "completed"
	JobFailed           JobState = "failed"
	JobCancelled        JobState = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// validTransitions enumerates the legal state machine edges. A transition
// not listed here is rejected by the job queue.
var validTransitions = map[JobState][]JobState{
	JobPending:          {JobAwaitingApproval, JobFailed, JobCancelled},
	JobAwaitingApproval: {JobApproved, JobCancelled},
	JobApproved:         {JobProcessing, JobCancelled},
	JobProcessing:       {JobCompleted, JobFailed, JobCancelled},
}

// CanTransition reports whether `to` is a legal next state from `from`.
func CanTransition(from, to JobState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PayloadRef identifies the ingestion payload by content hash plus where it
// came from, letting a resubmission of the same content short-circuit via
// JobQueue's duplicate detection.
//
// Source names the scheme PayloadLoader resolves at dispatch time:
// - "inline": the content travels with the ref itself, in InlineContent.
// This is how ingestion.Service stages small/medium documents: the
// content rides inside the job row's own payload JSONB column, so no
// extra store or bucket is needed.
// - "file": Filename is a path PayloadLoader reads from local disk.
type PayloadRef struct {
	ContentHash   string `json:"content_hash"`
	Source        string `json:"source"`
	Filename      string `json:"filename,omitempty"`
	InlineContent string `json:"inline_content,omitempty"`
}

// Analysis is the dry-run output produced before a job enters
// awaiting_approval: a token/cost estimate and chunk count, no store writes.
type Analysis struct {
	ChunksTotal    int     `json:"chunks_total"`
	EstimatedToken int64   `json:"estimated_tokens"`
	CostEstimate   float64 `json:"cost_estimate"`
}

// Progress is the mutable execution counter set, persisted after every
// processed chunk (failed chunks included) so execution is restartable.
type Progress struct {
	ChunksDone            int       `json:"chunks_done"`
	ChunksTotal           int       `json:"chunks_total"`
	ConceptsCreated       int       `json:"concepts_created"`
	ConceptsUpdated       int       `json:"concepts_updated"`
	InstancesCreated      int       `json:"instances_created"`
	RelationshipsCreated  int       `json:"relationships_created"`
	FailedCount           int       `json:"failed_count"`
	LastCommittedChunkIdx int       `json:"last_committed_chunk_index"`
	StartedAt             time.Time `json:"started_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// ElapsedMS returns the milliseconds elapsed since StartedAt, or 0 if the job
// has not started.
func (p Progress) ElapsedMS() int64 {
	if p.StartedAt.IsZero() {
		return 0
	}
	return p.UpdatedAt.Sub(p.StartedAt).Milliseconds()
}

// ETAMS estimates remaining time from the average per-chunk duration so far.
// Returns 0 when there isn't enough data to estimate.
func (p Progress) ETAMS() int64 {
	if p.ChunksDone == 0 || p.ChunksTotal <= p.ChunksDone {
		return 0
	}
	perChunk := float64(p.ElapsedMS()) / float64(p.ChunksDone)
	remaining := p.ChunksTotal - p.ChunksDone
	return int64(perChunk * float64(remaining))
}

// JobResult holds the final counts of a completed job.
type JobResult struct {
	ConceptsCreated      int     `json:"concepts_created"`
	ConceptsUpdated      int     `json:"concepts_updated"`
	InstancesCreated     int     `json:"instances_created"`
	RelationshipsCreated int     `json:"relationships_created"`
	CostActual           float64 `json:"cost_actual"`
}

// JobError describes why a job ended in the failed state.
type JobError struct {
	Kind                string `json:"error_kind"`
	Message             string `json:"message"`
	LastSuccessfulChunk int    `json:"last_successful_chunk"`
}

// Job is a single ingestion submission tracked end to end through the state
// machine above.
type Job struct {
	ID          string      `json:"job_id"`
	State       JobState    `json:"state"`
	Owner       string      `json:"owner"`
	Ontology    string      `json:"ontology"`
	Payload     PayloadRef  `json:"payload_ref"`
	Analysis    *Analysis   `json:"analysis,omitempty"`
	Progress    Progress    `json:"progress"`
	Result      *JobResult  `json:"result,omitempty"`
	Error       *JobError   `json:"error,omitempty"`
	AutoApprove bool        `json:"auto_approve"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// JobFilter narrows JobQueue.List by owner, ontology, state, or a creation
// time range. Zero-valued fields are not applied.
type JobFilter struct {
	Owner    string
	Ontology string
	State    JobState
	From     time.Time
	To       time.Time
}
