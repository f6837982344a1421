package jobqueue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph-backend/internal/domain"
)

type fakeStore struct {
	jobs map[string]domain.Job
}

func newFakeStore() *fakeStore { return &fakeStore{jobs: map[string]domain.Job{}} }

func (s *fakeStore) InsertJob(ctx context.Context, job domain.Job) error {
	s.jobs[job.ID] = job
	return nil
}

func (s *fakeStore) GetJob(ctx context.Context, id string) (domain.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, assertNotFound{}
	}
	return j, nil
}

func (s *fakeStore) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	var out []domain.Job
	for _, j := range s.jobs {
		if filter.Ontology != "" && j.Ontology != filter.Ontology {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (s *fakeStore) UpdateJob(ctx context.Context, job domain.Job) error {
	s.jobs[job.ID] = job
	return nil
}

func (s *fakeStore) FindActiveJobByPayload(ctx context.Context, contentHash, ontology string) (domain.Job, bool, error) {
	for _, j := range s.jobs {
		if j.Payload.ContentHash == contentHash && j.Ontology == ontology &&
			(j.State == domain.JobPending || j.State == domain.JobProcessing) {
			return j, true, nil
		}
	}
	return domain.Job{}, false, nil
}

func (s *fakeStore) DeleteJob(ctx context.Context, id string) error {
	delete(s.jobs, id)
	return nil
}

type assertNotFound struct{}

func (assertNotFound) Error() string { return "not found" }

func TestSubmitReturnsExistingJobOnDuplicate(t *testing.T) {
	store := newFakeStore()
	q := New(store, nil)
	payload := domain.PayloadRef{ContentHash: "abc123"}

	first, err := q.Submit(context.Background(), "alice", "physics", payload, false)
	require.NoError(t, err)

	second, err := q.Submit(context.Background(), "alice", "physics", payload, false)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestUpdateStateRejectsIllegalTransition(t *testing.T) {
	store := newFakeStore()
	q := New(store, nil)
	job, err := q.Submit(context.Background(), "alice", "physics", domain.PayloadRef{ContentHash: "x"}, false)
	require.NoError(t, err)

	_, err = q.UpdateState(context.Background(), job.ID, domain.JobCompleted)
	assert.Error(t, err)
}

func TestApproveOnlyValidFromAwaitingApproval(t *testing.T) {
	store := newFakeStore()
	q := New(store, nil)
	job, err := q.Submit(context.Background(), "alice", "physics", domain.PayloadRef{ContentHash: "x"}, false)
	require.NoError(t, err)

	_, err = q.Approve(context.Background(), job.ID, false)
	assert.Error(t, err)

	_, err = q.SetAnalysis(context.Background(), job.ID, domain.Analysis{ChunksTotal: 3})
	require.NoError(t, err)

	approved, err := q.Approve(context.Background(), job.ID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.JobApproved, approved.State)
}

func TestAutoApproveSkipsAwaitingApproval(t *testing.T) {
	store := newFakeStore()
	q := New(store, nil)
	job, err := q.Submit(context.Background(), "alice", "physics", domain.PayloadRef{ContentHash: "x"}, true)
	require.NoError(t, err)

	updated, err := q.SetAnalysis(context.Background(), job.ID, domain.Analysis{ChunksTotal: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.JobApproved, updated.State)
}

func TestUpdateProgressRejectsExceedingTotal(t *testing.T) {
	store := newFakeStore()
	q := New(store, nil)
	job, _ := q.Submit(context.Background(), "alice", "physics", domain.PayloadRef{ContentHash: "x"}, false)

	_, err := q.UpdateProgress(context.Background(), job.ID, domain.Progress{ChunksDone: 5, ChunksTotal: 3})
	assert.Error(t, err)
}

func TestCancelProcessingJobSetsFlagInsteadOfTransitioning(t *testing.T) {
	store := newFakeStore()
	q := New(store, nil)
	job, _ := q.Submit(context.Background(), "alice", "physics", domain.PayloadRef{ContentHash: "x"}, true)
	_, _ = q.SetAnalysis(context.Background(), job.ID, domain.Analysis{ChunksTotal: 1})
	_, err := q.UpdateState(context.Background(), job.ID, domain.JobProcessing)
	require.NoError(t, err)

	result, err := q.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobProcessing, result.State)
	assert.True(t, q.CancelRequested(job.ID))
}
