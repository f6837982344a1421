package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph-backend/internal/domain"
	"kgraph-backend/internal/extraction"
	"kgraph-backend/internal/scheduler"
)

type fakeQueue struct {
	jobs map[string]domain.Job
}

func newFakeQueue() *fakeQueue { return &fakeQueue{jobs: map[string]domain.Job{}} }

func (q *fakeQueue) Submit(ctx context.Context, owner, ontology string, payload domain.PayloadRef, autoApprove bool) (domain.Job, error) {
	for _, j := range q.jobs {
		if j.Payload.ContentHash == payload.ContentHash && j.Ontology == ontology {
			return j, nil
		}
	}
	job := domain.Job{ID: "job-1", State: domain.JobPending, Owner: owner, Ontology: ontology, Payload: payload, AutoApprove: autoApprove}
	q.jobs[job.ID] = job
	return job, nil
}

func (q *fakeQueue) Get(ctx context.Context, id string) (domain.Job, error) { return q.jobs[id], nil }

func (q *fakeQueue) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	var out []domain.Job
	for _, j := range q.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (q *fakeQueue) SetAnalysis(ctx context.Context, id string, analysis domain.Analysis) (domain.Job, error) {
	j := q.jobs[id]
	j.Analysis = &analysis
	j.State = domain.JobAwaitingApproval
	if j.AutoApprove {
		j.State = domain.JobApproved
	}
	q.jobs[id] = j
	return j, nil
}

func (q *fakeQueue) Approve(ctx context.Context, id string, force bool) (domain.Job, error) {
	j := q.jobs[id]
	j.State = domain.JobApproved
	q.jobs[id] = j
	return j, nil
}

func (q *fakeQueue) Cancel(ctx context.Context, id string) (domain.Job, error) {
	j := q.jobs[id]
	j.State = domain.JobCancelled
	q.jobs[id] = j
	return j, nil
}

type fakeAnalyzer struct{}

func (fakeAnalyzer) Analyze(text string) extraction.AnalysisResult {
	return extraction.AnalysisResult{ChunksTotal: 1, EstimatedToken: 100, CostEstimate: 0.001}
}

type fakeStreamer struct{}

func (fakeStreamer) Subscribe(jobID string) <-chan scheduler.ProgressEvent {
	ch := make(chan scheduler.ProgressEvent)
	close(ch)
	return ch
}

func TestSubmitRunsAnalysisAndReachesAwaitingApproval(t *testing.T) {
	svc := New(newFakeQueue(), fakeAnalyzer{}, fakeStreamer{}, nil)

	result, err := svc.Submit(context.Background(), SubmitInput{Owner: "alice", Ontology: "t", Content: "A is B. C is A."})
	require.NoError(t, err)
	assert.Equal(t, domain.JobAwaitingApproval, result.InitialState)

	job, err := svc.Get(context.Background(), result.JobID)
	require.NoError(t, err)
	require.NotNil(t, job.Analysis)
	assert.Equal(t, 1, job.Analysis.ChunksTotal)
	assert.Equal(t, "inline", job.Payload.Source)
	assert.Equal(t, "A is B. C is A.", job.Payload.InlineContent)
}

func TestSubmitAutoApproveSkipsAwaitingApproval(t *testing.T) {
	svc := New(newFakeQueue(), fakeAnalyzer{}, fakeStreamer{}, nil)

	result, err := svc.Submit(context.Background(), SubmitInput{Owner: "alice", Ontology: "t", Content: "content", AutoApprove: true})
	require.NoError(t, err)
	assert.Equal(t, domain.JobApproved, result.InitialState)
}

func TestSubmitDuplicateReturnsExistingJob(t *testing.T) {
	queue := newFakeQueue()
	svc := New(queue, fakeAnalyzer{}, fakeStreamer{}, nil)

	first, err := svc.Submit(context.Background(), SubmitInput{Owner: "alice", Ontology: "t", Content: "same content"})
	require.NoError(t, err)

	second, err := svc.Submit(context.Background(), SubmitInput{Owner: "bob", Ontology: "t", Content: "same content"})
	require.NoError(t, err)

	assert.Equal(t, first.JobID, second.JobID)
}

func TestSubmitRejectsEmptyContent(t *testing.T) {
	svc := New(newFakeQueue(), fakeAnalyzer{}, fakeStreamer{}, nil)

	_, err := svc.Submit(context.Background(), SubmitInput{Owner: "alice", Ontology: "t"})
	assert.Error(t, err)
}

func TestPayloadLoaderResolvesInlineContent(t *testing.T) {
	loader := NewPayloadLoader()
	source, err := loader.Load(context.Background(), domain.PayloadRef{Source: "inline", InlineContent: "hello world", ContentHash: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", source.FullText)
	assert.Equal(t, "abc", source.ContentHash)
}

func TestPayloadLoaderRejectsUnknownScheme(t *testing.T) {
	loader := NewPayloadLoader()
	_, err := loader.Load(context.Background(), domain.PayloadRef{Source: "s3"})
	assert.Error(t, err)
}
